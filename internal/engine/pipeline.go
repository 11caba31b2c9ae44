package engine

// pipeline.go drives one batch through the state machine:
//
//	Received → Validating → Validated → Deduplicating → Deduplicated
//	         → Loading → Committed | RolledBack → Reported
//
// Transitions are strictly forward. A batch may be cancelled any time
// before Loading; once the atomic load begins it either commits or rolls
// back as a unit. A failed batch is safe to resubmit from scratch: the
// fingerprint ledger guarantees already-committed records become no-ops.

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ledgerline/reconcile/internal/logging"
	"github.com/ledgerline/reconcile/internal/schema"
)

// RetryPolicy bounds the exponential backoff applied to transient
// storage failures during load.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultRetryPolicy matches the engine's configuration defaults.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts:    4,
	InitialBackoff: 500 * time.Millisecond,
	MaxBackoff:     30 * time.Second,
}

// Options configures a Pipeline.
type Options struct {
	// Workers is the row-validation fan-out width (default 1).
	Workers int

	// BatchTimeout wraps the whole pipeline run; zero means no timeout.
	BatchTimeout time.Duration

	// Retry bounds transient-failure retries during load.
	Retry RetryPolicy

	// Delimiter is the input field separator (default ',').
	Delimiter rune

	// Progress, if set, is called on every state transition.
	Progress ProgressFunc
}

// Pipeline runs batches of one schema against one store. Batches may be
// processed concurrently by separate Run calls; within a run the stages
// execute strictly in sequence.
type Pipeline struct {
	schema *schema.Schema
	store  Ledger
	opts   Options
}

// NewPipeline creates a pipeline. The store and schema are injected
// explicitly; the pipeline keeps no ambient state.
func NewPipeline(s *schema.Schema, store Ledger, opts Options) *Pipeline {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.Delimiter == 0 {
		opts.Delimiter = ','
	}
	if opts.Retry.MaxAttempts < 1 {
		opts.Retry = DefaultRetryPolicy
	}
	return &Pipeline{schema: s, store: store, opts: opts}
}

// BatchRequest describes one file-ingestion attempt.
type BatchRequest struct {
	// BatchID identifies the attempt; generated when empty.
	BatchID string

	// SourceName is the file name carried into the outcome for reports.
	SourceName string

	// Data is the raw file content.
	Data []byte

	// ExpectedTotals, when non-nil, is the caller-supplied control sum
	// per column, checked against the validated rows before load.
	// A mismatch flags the outcome; it never stops the batch.
	ExpectedTotals map[string]decimal.Decimal
}

// RunFile reads a file and runs it as one batch.
func (p *Pipeline) RunFile(ctx context.Context, path string) *BatchOutcome {
	data, err := os.ReadFile(path)
	if err != nil {
		out := p.newOutcome(uuid.NewString(), filepath.Base(path))
		return p.finish(ctx, out, StateReported, ResultFailed, fmt.Errorf("read file: %w", err))
	}
	return p.Run(ctx, BatchRequest{SourceName: filepath.Base(path), Data: data})
}

// Run executes the full pipeline for one batch and always returns
// exactly one BatchOutcome.
func (p *Pipeline) Run(ctx context.Context, req BatchRequest) *BatchOutcome {
	batchID := req.BatchID
	if batchID == "" {
		batchID = uuid.NewString()
	}

	ctx = logging.WithBatchID(ctx, batchID)
	if p.opts.BatchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.opts.BatchTimeout)
		defer cancel()
	}

	logger := logging.WithFields(ctx, "schema", p.schema.Name)
	out := p.newOutcome(batchID, req.SourceName)
	p.transition(out, StateReceived, 0, 0)

	logger.Info("batch received", "file", req.SourceName)

	// Parse + structural precondition. Failure here means nothing was
	// evaluated and no storage call is ever attempted.
	parsed, err := ParseDelimited(req.Data, p.opts.Delimiter)
	if err != nil {
		return p.finish(ctx, out, StateReported, ResultRejected, err)
	}

	p.transition(out, StateValidating, len(parsed.Records), 0)

	idx, err := NewValidator(p.schema, p.opts.Workers).CheckHeader(parsed.Header)
	if err != nil {
		return p.finish(ctx, out, StateReported, ResultRejected, err)
	}

	valid, rejected, err := NewValidator(p.schema, p.opts.Workers).ValidateAll(ctx, idx, parsed.Records)
	if err != nil {
		return p.finish(ctx, out, StateReported, ResultFailed, err)
	}

	out.TotalRows = len(parsed.Records)
	out.Rejected = rejected
	p.transition(out, StateValidated, len(parsed.Records), len(parsed.Records))

	logger.Info("validation completed",
		"total_rows", out.TotalRows,
		"valid_rows", len(valid),
		"rejected_rows", len(rejected),
	)

	if req.ExpectedTotals != nil {
		match := p.checkExpectedTotals(valid, req.ExpectedTotals)
		out.ExpectedTotalMatch = &match
		if !match {
			logger.Warn("expected file total mismatch")
		}
	}

	p.transition(out, StateDeduplicating, len(valid), 0)

	deduped, err := Deduplicate(ctx, valid, p.schema.KeyFields, p.store)
	if err != nil {
		return p.finish(ctx, out, StateReported, ResultFailed, fmt.Errorf("ledger lookup: %w", err))
	}

	out.IntraBatchDup = deduped.Report.IntraBatch
	out.CrossBatchDup = deduped.Report.CrossBatch
	p.transition(out, StateDeduplicated, len(valid), len(valid))

	logger.Info("deduplication completed",
		"intra_batch", len(deduped.Report.IntraBatch),
		"cross_batch", len(deduped.Report.CrossBatch),
		"to_load", len(deduped.Records),
	)

	pre := ComputeControlTotal(deduped.Records, p.schema.SumFields)
	out.PreLoadTotal = &pre

	// Cancellation is honored up to here. Once Loading starts, the unit
	// either commits or rolls back whole.
	if err := ctx.Err(); err != nil {
		return p.finish(ctx, out, StateReported, ResultFailed, err)
	}

	p.transition(out, StateLoading, len(deduped.Records), 0)

	commit, err := p.loadWithRetry(ctx, batchID, deduped)
	if err != nil {
		return p.finish(ctx, out, StateRolledBack, ResultFailed, err)
	}

	out.Accepted = commit.Inserted
	p.transition(out, StateCommitted, len(deduped.Records), commit.Inserted)

	logger.Info("load committed", "inserted", commit.Inserted, "noop", commit.Skipped)

	// Post-load verification: reconstruct the control total from what
	// was actually persisted. A mismatch is a reportable inconsistency,
	// not a rollback; the batch is already durable.
	persisted, err := p.store.LoadedRecords(ctx, batchID)
	if err != nil {
		logger.Warn("post-load read failed; flagging control totals", "error", err)
		out.ControlTotalMatch = false
	} else {
		post := RecomputeControlTotal(persisted, p.schema.SumFields)
		out.PostLoadTotal = &post

		// Skipped fingerprints were committed under another batch id and
		// do not appear in this batch's persisted rows. Compare against
		// what this commit actually inserted.
		expected := pre
		if commit.Skipped > 0 {
			expected = ComputeControlTotal(recordsByFingerprint(deduped, persisted), p.schema.SumFields)
		}
		out.ControlTotalMatch = expected.Equal(post)
		if !out.ControlTotalMatch {
			logger.Warn("control total mismatch",
				"pre_rows", expected.RowCount, "post_rows", post.RowCount)
		}
	}

	code := ResultOK
	if out.HasWarnings() {
		code = ResultOKWithWarnings
	}
	return p.finish(ctx, out, StateReported, code, nil)
}

// loadWithRetry applies the atomic commit, retrying transient failures
// with bounded exponential backoff. The idempotent ledger makes a retry
// after an ambiguous failure safe: re-applied fingerprints are no-ops.
func (p *Pipeline) loadWithRetry(ctx context.Context, batchID string, deduped *DedupResult) (CommitResult, error) {
	logger := logging.FromContext(ctx)
	backoff := p.opts.Retry.InitialBackoff

	var lastErr error
	for attempt := 1; attempt <= p.opts.Retry.MaxAttempts; attempt++ {
		res, err := p.store.Commit(ctx, batchID, deduped.Records, deduped.Fingerprints)
		if err == nil {
			return res, nil
		}
		lastErr = err

		if !IsTransient(err) {
			return CommitResult{}, err
		}

		if attempt == p.opts.Retry.MaxAttempts {
			break
		}

		logger.Warn("transient load failure, retrying",
			"attempt", attempt, "backoff", backoff, "error", err)

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return CommitResult{}, ctx.Err()
		}

		backoff *= 2
		if backoff > p.opts.Retry.MaxBackoff {
			backoff = p.opts.Retry.MaxBackoff
		}
	}

	return CommitResult{}, fmt.Errorf("load failed after %d attempts: %w", p.opts.Retry.MaxAttempts, lastErr)
}

// checkExpectedTotals compares caller-supplied expected sums against the
// validated rows (before dedup, matching how file-level control totals
// are produced by upstream systems).
func (p *Pipeline) checkExpectedTotals(valid []ValidatedRecord, expected map[string]decimal.Decimal) bool {
	actual := ComputeControlTotal(valid, p.schema.SumFields)
	for col, want := range expected {
		got, ok := actual.Sums[normalizeColumn(col)]
		if !ok || !got.Equal(want) {
			return false
		}
	}
	return true
}

// recordsByFingerprint filters the deduplicated set down to the records
// this batch actually persisted, preserving order.
func recordsByFingerprint(deduped *DedupResult, persisted []PersistedRecord) []ValidatedRecord {
	present := make(map[string]struct{}, len(persisted))
	for _, r := range persisted {
		present[r.Fingerprint] = struct{}{}
	}
	var out []ValidatedRecord
	for i, rec := range deduped.Records {
		if _, ok := present[deduped.Fingerprints[i].Hex()]; ok {
			out = append(out, rec)
		}
	}
	return out
}

func normalizeColumn(col string) string {
	return strings.ToLower(strings.TrimSpace(col))
}

func (p *Pipeline) newOutcome(batchID, source string) *BatchOutcome {
	return &BatchOutcome{
		BatchID:           batchID,
		SourceFile:        source,
		Schema:            p.schema.Name,
		ControlTotalMatch: true,
		StartedAt:         time.Now().UTC(),
	}
}

// finish stamps the terminal state and code onto the outcome. Every run
// ends here exactly once.
func (p *Pipeline) finish(ctx context.Context, out *BatchOutcome, state BatchState, code ResultCode, err error) *BatchOutcome {
	out.Code = code
	if err != nil {
		out.Error = err.Error()
	}
	out.FinishedAt = time.Now().UTC()
	out.Duration = out.FinishedAt.Sub(out.StartedAt)

	if state != StateReported {
		p.transition(out, state, out.TotalRows, out.TotalRows)
	}
	p.transition(out, StateReported, out.TotalRows, out.TotalRows)

	logger := logging.FromContext(ctx)
	if err != nil {
		logger.Error("batch finished", "code", string(code), "error", err)
	} else {
		logger.Info("batch finished", "code", string(code), "accepted", out.Accepted)
	}

	return out
}

func (p *Pipeline) transition(out *BatchOutcome, state BatchState, total, current int) {
	if p.opts.Progress != nil {
		p.opts.Progress(Progress{
			BatchID:    out.BatchID,
			State:      state,
			TotalRows:  total,
			CurrentRow: current,
		})
	}
}
