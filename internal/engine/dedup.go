package engine

// dedup.go enforces the system's core invariant: a given fingerprint is
// loaded at most once, ever, regardless of how many times or in what
// batch composition it appears.
//
// Intra-batch duplicates resolve by first occurrence in original file
// order; the tie-break is deterministic so resubmitting the same file
// always yields the same accepted set. Surviving fingerprints are then
// checked against the persistent ledger in a single batched query, never
// one round-trip per record. The in-process pass can only ever catch
// intra-batch duplicates; cross-batch detection always goes through the
// ledger.

import (
	"context"
)

// LedgerLookup is the set-membership check against previously committed
// fingerprints. Implementations must answer one batched call per run.
type LedgerLookup interface {
	ExistsAny(ctx context.Context, fingerprints []Fingerprint) (map[Fingerprint]struct{}, error)
}

// DedupResult carries the records that survived both duplicate checks,
// in original file order, with their fingerprints aligned by index.
type DedupResult struct {
	Records      []ValidatedRecord
	Fingerprints []Fingerprint
	Report       DuplicateReport
}

// Deduplicate filters intra-batch and cross-batch duplicates from
// records. keyFields define record identity. The ledger is consulted
// exactly once, for the batch's surviving unique fingerprints.
func Deduplicate(ctx context.Context, records []ValidatedRecord, keyFields []string, ledger LedgerLookup) (*DedupResult, error) {
	type survivor struct {
		rec ValidatedRecord
		fp  Fingerprint
	}

	firstLine := make(map[Fingerprint]int, len(records))
	survivors := make([]survivor, 0, len(records))
	var report DuplicateReport

	for _, rec := range records {
		fp := ComputeFingerprint(rec, keyFields)
		if line, seen := firstLine[fp]; seen {
			report.IntraBatch = append(report.IntraBatch, Duplicate{
				Line:        rec.Line,
				Fingerprint: fp.Hex(),
				Kind:        DuplicateIntraBatch,
				FirstLine:   line,
			})
			continue
		}
		firstLine[fp] = rec.Line
		survivors = append(survivors, survivor{rec: rec, fp: fp})
	}

	unique := make([]Fingerprint, len(survivors))
	for i, s := range survivors {
		unique[i] = s.fp
	}

	existing := map[Fingerprint]struct{}{}
	if len(unique) > 0 {
		var err error
		existing, err = ledger.ExistsAny(ctx, unique)
		if err != nil {
			return nil, err
		}
	}

	result := &DedupResult{
		Records:      make([]ValidatedRecord, 0, len(survivors)),
		Fingerprints: make([]Fingerprint, 0, len(survivors)),
	}

	for _, s := range survivors {
		if _, dup := existing[s.fp]; dup {
			report.CrossBatch = append(report.CrossBatch, Duplicate{
				Line:        s.rec.Line,
				Fingerprint: s.fp.Hex(),
				Kind:        DuplicateCrossBatch,
			})
			continue
		}
		result.Records = append(result.Records, s.rec)
		result.Fingerprints = append(result.Fingerprints, s.fp)
	}

	result.Report = report
	return result, nil
}
