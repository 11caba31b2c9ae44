package engine

import (
	"errors"
	"fmt"
)

// StructuralError means the file itself is malformed (missing required
// column, unreadable header). It is fatal for the batch: no rows are
// evaluated and nothing is loaded.
type StructuralError struct {
	Reason string
}

func (e *StructuralError) Error() string {
	return fmt.Sprintf("structural error: %s", e.Reason)
}

// TransientStorageError wraps a retryable storage failure such as a
// connection loss or lock timeout. A load that fails with it may be
// retried; the fingerprint ledger makes retries safe.
type TransientStorageError struct {
	Err error
}

func (e *TransientStorageError) Error() string {
	return fmt.Sprintf("transient storage error: %v", e.Err)
}

func (e *TransientStorageError) Unwrap() error { return e.Err }

// ConstraintViolation wraps a non-retryable storage failure, e.g. a
// foreign-key violation. Operator intervention is required.
type ConstraintViolation struct {
	Err error
}

func (e *ConstraintViolation) Error() string {
	return fmt.Sprintf("constraint violation: %v", e.Err)
}

func (e *ConstraintViolation) Unwrap() error { return e.Err }

// IsTransient reports whether err is (or wraps) a TransientStorageError.
func IsTransient(err error) bool {
	var t *TransientStorageError
	return errors.As(err, &t)
}

// IsStructural reports whether err is (or wraps) a StructuralError.
func IsStructural(err error) bool {
	var s *StructuralError
	return errors.As(err, &s)
}
