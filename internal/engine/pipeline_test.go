package engine_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ledgerline/reconcile/internal/engine"
	"github.com/ledgerline/reconcile/internal/schema"
	"github.com/ledgerline/reconcile/internal/store"
)

const goodFile = `txn_id,txn_date,amount,channel
TX-0001,2024-01-15,100.50,WEB
TX-0002,2024-01-16,200.25,ATM
TX-0003,2024-01-17,49.25,WEB
`

func pipelineSchema(t *testing.T) *schema.Schema {
	t.Helper()
	s := &schema.Schema{
		Name: "transfers",
		Fields: []schema.FieldSpec{
			{Name: "txn_id", Type: schema.FieldString, Required: true, Pattern: `^TX-\d{4}$`},
			{Name: "txn_date", Type: schema.FieldDate, Required: true, NoFuture: true},
			{Name: "amount", Type: schema.FieldDecimal, Required: true, Min: "0.01"},
			{Name: "channel", Type: schema.FieldString, Enum: []string{"WEB", "ATM", "BRANCH"}},
		},
		KeyFields: []string{"txn_id", "txn_date", "amount"},
		SumFields: []string{"amount"},
	}
	if err := s.Validate(); err != nil {
		t.Fatalf("schema invalid: %v", err)
	}
	return s
}

// newPipeline wires the schema to a fresh in-process store with retries
// tight enough for tests.
func newPipeline(t *testing.T) (*engine.Pipeline, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	p := engine.NewPipeline(pipelineSchema(t), mem, engine.Options{
		Workers: 2,
		Retry: engine.RetryPolicy{
			MaxAttempts:    3,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     5 * time.Millisecond,
		},
	})
	return p, mem
}

func run(t *testing.T, p *engine.Pipeline, data string) *engine.BatchOutcome {
	t.Helper()
	return p.Run(context.Background(), engine.BatchRequest{
		SourceName: "test.csv",
		Data:       []byte(data),
	})
}

func TestPipelineHappyPath(t *testing.T) {
	p, mem := newPipeline(t)

	out := run(t, p, goodFile)

	if out.Code != engine.ResultOK {
		t.Fatalf("code = %s, want OK (error: %s)", out.Code, out.Error)
	}
	if out.TotalRows != 3 || out.Accepted != 3 {
		t.Errorf("rows = %d/%d, want 3/3", out.Accepted, out.TotalRows)
	}
	if len(out.Rejected) != 0 || len(out.IntraBatchDup) != 0 || len(out.CrossBatchDup) != 0 {
		t.Errorf("unexpected rejects/dups: %+v", out)
	}
	if !out.ControlTotalMatch {
		t.Error("control totals must match")
	}
	if out.PreLoadTotal == nil || out.PostLoadTotal == nil {
		t.Fatal("totals missing")
	}
	if got := out.PreLoadTotal.Sums["amount"]; !got.Equal(decimal.RequireFromString("350.00")) {
		t.Errorf("pre-load sum = %s, want 350", got)
	}
	if !out.PreLoadTotal.Equal(*out.PostLoadTotal) {
		t.Errorf("pre %+v != post %+v", out.PreLoadTotal, out.PostLoadTotal)
	}
	if out.BatchID == "" {
		t.Error("batch id not generated")
	}
	if out.FinishedAt.Before(out.StartedAt) {
		t.Error("finished before started")
	}
	if mem.LedgerSize() != 3 {
		t.Errorf("ledger size = %d, want 3", mem.LedgerSize())
	}
}

func TestPipelineResubmissionIsNoOp(t *testing.T) {
	p, mem := newPipeline(t)

	first := run(t, p, goodFile)
	if first.Code != engine.ResultOK {
		t.Fatalf("first run: %s (%s)", first.Code, first.Error)
	}

	// The whole file again: every row is a cross-batch duplicate and
	// nothing new is loaded.
	second := run(t, p, goodFile)

	if second.Code != engine.ResultOKWithWarnings {
		t.Fatalf("second run code = %s, want OK_WITH_WARNINGS", second.Code)
	}
	if second.Accepted != 0 {
		t.Errorf("second run accepted = %d, want 0", second.Accepted)
	}
	if len(second.CrossBatchDup) != 3 {
		t.Errorf("cross-batch dups = %d, want 3", len(second.CrossBatchDup))
	}
	if !second.ControlTotalMatch {
		t.Error("empty load still has matching totals")
	}
	if mem.LedgerSize() != 3 {
		t.Errorf("ledger size = %d, want 3", mem.LedgerSize())
	}
}

func TestPipelineStructuralRejection(t *testing.T) {
	tests := []struct {
		name string
		data string
		want string // substring of the outcome error
	}{
		{
			name: "missing required column",
			data: "txn_id,channel\nTX-0001,WEB\n",
			want: "amount",
		},
		{
			name: "empty file",
			data: "",
			want: "empty",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, mem := newPipeline(t)
			out := run(t, p, tt.data)

			if out.Code != engine.ResultRejected {
				t.Fatalf("code = %s, want REJECTED", out.Code)
			}
			if !strings.Contains(out.Error, tt.want) {
				t.Errorf("error %q should mention %q", out.Error, tt.want)
			}
			// A structural rejection must never touch storage.
			if mem.LedgerSize() != 0 {
				t.Errorf("ledger size = %d, want 0", mem.LedgerSize())
			}
		})
	}
}

func TestPipelineRowRejectionsWarn(t *testing.T) {
	p, _ := newPipeline(t)

	data := goodFile + "not-an-id,2024-01-18,10.00,WEB\n"
	out := run(t, p, data)

	if out.Code != engine.ResultOKWithWarnings {
		t.Fatalf("code = %s, want OK_WITH_WARNINGS", out.Code)
	}
	if out.Accepted != 3 {
		t.Errorf("accepted = %d, want 3", out.Accepted)
	}
	if len(out.Rejected) != 1 || out.Rejected[0].Line != 5 {
		t.Errorf("rejected = %+v, want one rejection at line 5", out.Rejected)
	}
}

func TestPipelineIntraBatchDuplicate(t *testing.T) {
	p, mem := newPipeline(t)

	data := goodFile + "TX-0001,2024-01-15,100.50,WEB\n"
	out := run(t, p, data)

	if out.Code != engine.ResultOKWithWarnings {
		t.Fatalf("code = %s, want OK_WITH_WARNINGS", out.Code)
	}
	if out.Accepted != 3 {
		t.Errorf("accepted = %d, want 3", out.Accepted)
	}
	if len(out.IntraBatchDup) != 1 {
		t.Fatalf("intra-batch dups = %+v", out.IntraBatchDup)
	}
	if out.IntraBatchDup[0].Line != 5 || out.IntraBatchDup[0].FirstLine != 2 {
		t.Errorf("dup = %+v, want line 5 first line 2", out.IntraBatchDup[0])
	}
	// The duplicate row contributes nothing to the control total.
	if got := out.PreLoadTotal.Sums["amount"]; !got.Equal(decimal.RequireFromString("350.00")) {
		t.Errorf("pre-load sum = %s, want 350", got)
	}
	if mem.LedgerSize() != 3 {
		t.Errorf("ledger size = %d, want 3", mem.LedgerSize())
	}
}

func TestPipelineTransientFailureRetries(t *testing.T) {
	p, mem := newPipeline(t)
	mem.FailNextCommits(&engine.TransientStorageError{Err: errors.New("connection reset")})

	out := run(t, p, goodFile)

	if out.Code != engine.ResultOK {
		t.Fatalf("code = %s, want OK after retry (error: %s)", out.Code, out.Error)
	}
	if out.Accepted != 3 {
		t.Errorf("accepted = %d, want 3", out.Accepted)
	}
}

func TestPipelineRetryExhaustion(t *testing.T) {
	p, mem := newPipeline(t)
	boom := errors.New("connection reset")
	mem.FailNextCommits(
		&engine.TransientStorageError{Err: boom},
		&engine.TransientStorageError{Err: boom},
		&engine.TransientStorageError{Err: boom},
	)

	out := run(t, p, goodFile)

	if out.Code != engine.ResultFailed {
		t.Fatalf("code = %s, want FAILED", out.Code)
	}
	if out.Error == "" {
		t.Error("failed outcome must carry an error")
	}
	// Every attempt rolled back: nothing may be partially committed.
	if mem.LedgerSize() != 0 {
		t.Errorf("ledger size = %d, want 0", mem.LedgerSize())
	}
}

func TestPipelineConstraintViolationFailsFast(t *testing.T) {
	p, mem := newPipeline(t)
	// One non-retryable failure. If the loader retried anyway, the
	// second attempt would succeed and the code would be OK.
	mem.FailNextCommits(&engine.ConstraintViolation{Err: errors.New("not null violation")})

	out := run(t, p, goodFile)

	if out.Code != engine.ResultFailed {
		t.Fatalf("code = %s, want FAILED without retry", out.Code)
	}
	if mem.LedgerSize() != 0 {
		t.Errorf("ledger size = %d, want 0", mem.LedgerSize())
	}
}

func TestPipelineExpectedTotals(t *testing.T) {
	t.Run("match", func(t *testing.T) {
		p, _ := newPipeline(t)
		out := p.Run(context.Background(), engine.BatchRequest{
			SourceName:     "test.csv",
			Data:           []byte(goodFile),
			ExpectedTotals: map[string]decimal.Decimal{"amount": decimal.RequireFromString("350.00")},
		})
		if out.Code != engine.ResultOK {
			t.Fatalf("code = %s, want OK", out.Code)
		}
		if out.ExpectedTotalMatch == nil || !*out.ExpectedTotalMatch {
			t.Error("expected total should match")
		}
	})

	t.Run("mismatch still loads", func(t *testing.T) {
		p, mem := newPipeline(t)
		out := p.Run(context.Background(), engine.BatchRequest{
			SourceName:     "test.csv",
			Data:           []byte(goodFile),
			ExpectedTotals: map[string]decimal.Decimal{"amount": decimal.RequireFromString("999")},
		})
		if out.Code != engine.ResultOKWithWarnings {
			t.Fatalf("code = %s, want OK_WITH_WARNINGS", out.Code)
		}
		if out.ExpectedTotalMatch == nil || *out.ExpectedTotalMatch {
			t.Error("expected total should not match")
		}
		if out.Accepted != 3 || mem.LedgerSize() != 3 {
			t.Errorf("mismatch must not stop the load: accepted=%d ledger=%d",
				out.Accepted, mem.LedgerSize())
		}
	})
}

func TestPipelineRunFile(t *testing.T) {
	p, mem := newPipeline(t)

	path := filepath.Join(t.TempDir(), "transfers.csv")
	if err := os.WriteFile(path, []byte(goodFile), 0o644); err != nil {
		t.Fatal(err)
	}

	out := p.RunFile(context.Background(), path)

	if out.Code != engine.ResultOK {
		t.Fatalf("code = %s, want OK (error: %s)", out.Code, out.Error)
	}
	if out.SourceFile != "transfers.csv" {
		t.Errorf("source file = %q, want transfers.csv", out.SourceFile)
	}
	if out.Accepted != 3 || mem.LedgerSize() != 3 {
		t.Errorf("accepted = %d, ledger = %d, want 3, 3", out.Accepted, mem.LedgerSize())
	}
}

func TestPipelineRunFileMissing(t *testing.T) {
	p, mem := newPipeline(t)

	out := p.RunFile(context.Background(), filepath.Join(t.TempDir(), "absent.csv"))

	if out.Code != engine.ResultFailed {
		t.Fatalf("code = %s, want FAILED", out.Code)
	}
	if out.Error == "" {
		t.Error("failed outcome must carry an error")
	}
	if mem.LedgerSize() != 0 {
		t.Errorf("ledger size = %d, want 0", mem.LedgerSize())
	}
}

func TestPipelineExplicitBatchID(t *testing.T) {
	p, _ := newPipeline(t)
	out := p.Run(context.Background(), engine.BatchRequest{
		BatchID:    "batch-42",
		SourceName: "test.csv",
		Data:       []byte(goodFile),
	})
	if out.BatchID != "batch-42" {
		t.Errorf("batch id = %q, want batch-42", out.BatchID)
	}
}

func TestPipelineCanceledContext(t *testing.T) {
	p, mem := newPipeline(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := p.Run(ctx, engine.BatchRequest{SourceName: "test.csv", Data: []byte(goodFile)})

	if out.Code != engine.ResultFailed {
		t.Fatalf("code = %s, want FAILED", out.Code)
	}
	if mem.LedgerSize() != 0 {
		t.Errorf("ledger size = %d, want 0", mem.LedgerSize())
	}
}

func TestPipelineConcurrentSameFile(t *testing.T) {
	// Two concurrent submissions of the same file against one store:
	// the ledger constraint guarantees each row lands exactly once no
	// matter how the two runs interleave.
	mem := store.NewMemory()
	s := pipelineSchema(t)

	newP := func() *engine.Pipeline {
		return engine.NewPipeline(s, mem, engine.Options{Workers: 2})
	}

	var wg sync.WaitGroup
	outcomes := make([]*engine.BatchOutcome, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcomes[i] = newP().Run(context.Background(), engine.BatchRequest{
				SourceName: "test.csv",
				Data:       []byte(goodFile),
			})
		}(i)
	}
	wg.Wait()

	totalAccepted := 0
	for i, out := range outcomes {
		if out.Code != engine.ResultOK && out.Code != engine.ResultOKWithWarnings {
			t.Fatalf("run %d code = %s (error: %s)", i, out.Code, out.Error)
		}
		if !out.ControlTotalMatch {
			t.Errorf("run %d control totals must match", i)
		}
		totalAccepted += out.Accepted
	}

	if totalAccepted != 3 {
		t.Errorf("total accepted across runs = %d, want exactly 3", totalAccepted)
	}
	if mem.LedgerSize() != 3 {
		t.Errorf("ledger size = %d, want 3", mem.LedgerSize())
	}
}

func TestPipelineProgressStates(t *testing.T) {
	mem := store.NewMemory()
	var mu sync.Mutex
	var states []engine.BatchState

	p := engine.NewPipeline(pipelineSchema(t), mem, engine.Options{
		Progress: func(pr engine.Progress) {
			mu.Lock()
			states = append(states, pr.State)
			mu.Unlock()
		},
	})

	out := p.Run(context.Background(), engine.BatchRequest{SourceName: "test.csv", Data: []byte(goodFile)})
	if out.Code != engine.ResultOK {
		t.Fatalf("code = %s", out.Code)
	}

	want := []engine.BatchState{
		engine.StateReceived,
		engine.StateValidating,
		engine.StateValidated,
		engine.StateDeduplicating,
		engine.StateDeduplicated,
		engine.StateLoading,
		engine.StateCommitted,
		engine.StateReported,
	}
	if len(states) != len(want) {
		t.Fatalf("states = %v, want %v", states, want)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Errorf("state[%d] = %s, want %s", i, states[i], want[i])
		}
	}
}
