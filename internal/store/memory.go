package store

import (
	"context"
	"sync"

	"github.com/ledgerline/reconcile/internal/engine"
)

// Memory is an in-process store used by tests. It honors the same
// atomicity and idempotency contract as the real backends and supports
// failure injection: queued errors are returned by Commit before any
// state mutates, mimicking a rolled-back unit.
type Memory struct {
	mu      sync.Mutex
	ledger  map[string]string // fingerprint hex -> batch id
	records map[string]engine.PersistedRecord

	// commitErrs is drained one error per Commit call; a nil entry means
	// that attempt succeeds.
	commitErrs []error
}

// NewMemory creates an empty in-process store.
func NewMemory() *Memory {
	return &Memory{
		ledger:  make(map[string]string),
		records: make(map[string]engine.PersistedRecord),
	}
}

// FailNextCommits queues errors to be returned by upcoming Commit calls.
// No state mutates on an injected failure, matching a full rollback.
func (m *Memory) FailNextCommits(errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commitErrs = append(m.commitErrs, errs...)
}

// ExistsAny returns the subset of fingerprints already committed.
func (m *Memory) ExistsAny(_ context.Context, fingerprints []engine.Fingerprint) (map[engine.Fingerprint]struct{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing := make(map[engine.Fingerprint]struct{})
	for _, fp := range fingerprints {
		if _, ok := m.ledger[fp.Hex()]; ok {
			existing[fp] = struct{}{}
		}
	}
	return existing, nil
}

// Commit applies the batch atomically under the store lock; already
// committed fingerprints are no-ops.
func (m *Memory) Commit(_ context.Context, batchID string, records []engine.ValidatedRecord, fingerprints []engine.Fingerprint) (engine.CommitResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.commitErrs) > 0 {
		err := m.commitErrs[0]
		m.commitErrs = m.commitErrs[1:]
		if err != nil {
			return engine.CommitResult{}, err
		}
	}

	var result engine.CommitResult
	for i, rec := range records {
		hex := fingerprints[i].Hex()
		if _, ok := m.ledger[hex]; ok {
			result.Skipped++
			continue
		}
		m.ledger[hex] = batchID
		m.records[hex] = engine.PersistedRecord{
			Fingerprint: hex,
			Line:        rec.Line,
			Fields:      rec.CanonicalFields(),
		}
		result.Inserted++
	}

	return result, nil
}

// LoadedRecords returns the rows persisted under a batch id.
func (m *Memory) LoadedRecords(_ context.Context, batchID string) ([]engine.PersistedRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []engine.PersistedRecord
	for hex, rec := range m.records {
		if m.ledger[hex] == batchID {
			out = append(out, rec)
		}
	}
	return out, nil
}

// LedgerSize returns the number of committed fingerprints.
func (m *Memory) LedgerSize() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.ledger)
}

// Reset clears all state.
func (m *Memory) Reset(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ledger = make(map[string]string)
	m.records = make(map[string]engine.PersistedRecord)
	return nil
}

// Close is a no-op.
func (m *Memory) Close() error { return nil }

var _ Store = (*Memory)(nil)
var _ Store = (*SQLite)(nil)
var _ Store = (*Postgres)(nil)
