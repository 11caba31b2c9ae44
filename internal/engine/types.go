// Package engine implements the batch ingestion-reconciliation pipeline:
// schema validation, control totals, fingerprint deduplication, and the
// idempotent transactional load. This package has no UI or transport
// dependencies and can be driven by any frontend.
package engine

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/ledgerline/reconcile/internal/schema"
)

// RawRecord is one parsed data row before validation.
type RawRecord struct {
	Line  int      // 1-indexed source line, for error reporting
	Cells []string // raw cell values in file order
}

// Value is a typed cell value produced by validation.
type Value struct {
	Type schema.FieldType
	Str  string
	Int  int64
	Dec  decimal.Decimal
	Date time.Time

	// Present is false when an optional column was absent or empty.
	Present bool
}

// ValidatedRecord is a row that passed all schema rules.
// Immutable once built; fields are keyed by lowercase column name.
type ValidatedRecord struct {
	Line   int
	Fields map[string]Value
}

// Field returns the typed value for a column (lowercase name).
func (r ValidatedRecord) Field(name string) (Value, bool) {
	v, ok := r.Fields[name]
	return v, ok
}

// Rejection describes a row excluded by validation.
type Rejection struct {
	Line   int    `json:"line"`
	Column string `json:"column"`
	Reason string `json:"reason"`
}

// DuplicateKind distinguishes where a duplicate was detected.
type DuplicateKind string

const (
	// DuplicateIntraBatch means an earlier row in the same file had the
	// same fingerprint.
	DuplicateIntraBatch DuplicateKind = "intra_batch"

	// DuplicateCrossBatch means the fingerprint was already committed by
	// a previous batch.
	DuplicateCrossBatch DuplicateKind = "cross_batch"
)

// Duplicate records one excluded duplicate row.
type Duplicate struct {
	Line        int           `json:"line"`
	Fingerprint string        `json:"fingerprint"`
	Kind        DuplicateKind `json:"kind"`

	// FirstLine is the surviving row's line for intra-batch duplicates.
	FirstLine int `json:"first_line,omitempty"`
}

// DuplicateReport aggregates the duplicates found in one batch.
type DuplicateReport struct {
	IntraBatch []Duplicate
	CrossBatch []Duplicate
}

// Total returns the combined duplicate count.
func (d DuplicateReport) Total() int {
	return len(d.IntraBatch) + len(d.CrossBatch)
}

// BatchState is one stage of the per-batch state machine.
type BatchState string

const (
	StateReceived      BatchState = "received"
	StateValidating    BatchState = "validating"
	StateValidated     BatchState = "validated"
	StateDeduplicating BatchState = "deduplicating"
	StateDeduplicated  BatchState = "deduplicated"
	StateLoading       BatchState = "loading"
	StateCommitted     BatchState = "committed"
	StateRolledBack    BatchState = "rolled_back"
	StateReported      BatchState = "reported"
)

// ResultCode is the terminal pipeline result for a batch.
type ResultCode string

const (
	// ResultOK means fully committed with matching control totals and no
	// duplicates or rejections.
	ResultOK ResultCode = "OK"

	// ResultOKWithWarnings means committed, but the outcome carries
	// rejections, duplicates, or a control-total mismatch.
	ResultOKWithWarnings ResultCode = "OK_WITH_WARNINGS"

	// ResultRejected means a structural error stopped the batch before
	// any row was evaluated; nothing was loaded.
	ResultRejected ResultCode = "REJECTED"

	// ResultFailed means the loader failed after retries were exhausted.
	// The batch is safe to resubmit.
	ResultFailed ResultCode = "FAILED"
)

// Progress reports pipeline position to an observer.
type Progress struct {
	BatchID    string
	State      BatchState
	TotalRows  int
	CurrentRow int
}

// ProgressFunc is called on every state transition.
type ProgressFunc func(Progress)

// BatchOutcome is the immutable contract object handed to reporters.
// It carries enough detail to drive a report without re-reading the
// source file.
type BatchOutcome struct {
	BatchID    string     `json:"batch_id"`
	SourceFile string     `json:"source_file"`
	Schema     string     `json:"schema"`
	Code       ResultCode `json:"code"`

	TotalRows     int         `json:"total_rows"`
	Accepted      int         `json:"accepted"`
	Rejected      []Rejection `json:"rejected,omitempty"`
	IntraBatchDup []Duplicate `json:"intra_batch_duplicates,omitempty"`
	CrossBatchDup []Duplicate `json:"cross_batch_duplicates,omitempty"`

	ControlTotalMatch bool          `json:"control_total_match"`
	PreLoadTotal      *ControlTotal `json:"pre_load_total,omitempty"`
	PostLoadTotal     *ControlTotal `json:"post_load_total,omitempty"`

	// ExpectedTotalMatch is false when the caller supplied an expected
	// file total and the validated sum disagreed. Nil when not checked.
	ExpectedTotalMatch *bool `json:"expected_total_match,omitempty"`

	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Duration   time.Duration `json:"duration"`
	Error      string        `json:"error,omitempty"`
}

// HasWarnings reports whether a committed batch must be flagged for review.
func (o *BatchOutcome) HasWarnings() bool {
	return len(o.Rejected) > 0 ||
		len(o.IntraBatchDup) > 0 ||
		len(o.CrossBatchDup) > 0 ||
		!o.ControlTotalMatch ||
		(o.ExpectedTotalMatch != nil && !*o.ExpectedTotalMatch)
}
