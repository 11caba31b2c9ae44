package engine

// ledger.go defines the storage collaborator contract. All mutation of
// the fingerprint ledger happens inside the store's atomic commit unit;
// the validator and deduplicator never write to it.

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"
)

// CommitResult reports what one atomic load actually wrote.
type CommitResult struct {
	// Inserted is the number of records newly persisted.
	Inserted int

	// Skipped counts fingerprints that were already committed, observed
	// as no-ops by the insert-or-ignore primitive. Non-zero after an
	// ambiguous-failure retry or a lost race with a concurrent batch.
	Skipped int
}

// PersistedRecord is a record read back from durable storage, with its
// field values in canonical string form.
type PersistedRecord struct {
	Fingerprint string
	Line        int
	Fields      map[string]string
}

// Ledger is the persistent store the pipeline loads into. Implementations
// must guarantee:
//
//   - Commit is all-or-nothing: either every record and its ledger entry
//     for the batch is durable, or none are.
//   - Commit is idempotent per fingerprint: re-applying a batch after an
//     ambiguous failure is a no-op for already-committed fingerprints,
//     enforced by a storage-level uniqueness constraint, not application
//     locking. Concurrent writers racing on a fingerprint observe a
//     no-op, not an error.
//   - Failures are classified: retryable ones as TransientStorageError,
//     non-retryable ones as ConstraintViolation.
type Ledger interface {
	LedgerLookup

	// Commit durably persists records, their ledger entries, and the
	// batch id in a single atomic unit.
	Commit(ctx context.Context, batchID string, records []ValidatedRecord, fingerprints []Fingerprint) (CommitResult, error)

	// LoadedRecords returns the rows actually persisted for a batch, for
	// post-load control-total reconstruction.
	LoadedRecords(ctx context.Context, batchID string) ([]PersistedRecord, error)
}

// CanonicalFields renders every present field of a record in canonical
// string form, keyed by lowercase column name. This is the persisted
// payload shape; round-tripping through it is lossless for control
// totals because decimals ride as exact strings.
func (r ValidatedRecord) CanonicalFields() map[string]string {
	out := make(map[string]string, len(r.Fields))
	for name, v := range r.Fields {
		if !v.Present {
			continue
		}
		out[name] = canonicalValue(v)
	}
	return out
}

// RecomputeControlTotal rebuilds a control total from persisted rows.
// The decimal sums are exact; a row whose sum field fails to parse is
// counted but contributes zero, which surfaces as a mismatch.
func RecomputeControlTotal(persisted []PersistedRecord, sumFields []string) ControlTotal {
	ct := ControlTotal{
		RowCount: len(persisted),
		Sums:     make(map[string]decimal.Decimal, len(sumFields)),
	}

	for _, col := range sumFields {
		key := strings.ToLower(col)
		sum := decimal.Zero
		for _, rec := range persisted {
			raw, ok := rec.Fields[key]
			if !ok || raw == "" {
				continue
			}
			d, err := decimal.NewFromString(raw)
			if err != nil {
				continue
			}
			sum = sum.Add(d)
		}
		ct.Sums[key] = sum
	}

	return ct
}
