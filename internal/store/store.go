// Package store provides the durable fingerprint ledger and record store
// behind the ingestion pipeline.
//
// Two backends implement the same contract: PostgreSQL (pgx) for shared
// deployments and SQLite (modernc.org/sqlite) for embedded use and tests.
// Both push the at-most-once guarantee down to a storage-level uniqueness
// constraint on the fingerprint: the commit uses insert-or-ignore inside
// a single transaction, so a concurrent writer or a retried batch
// observes no-ops rather than errors.
package store

import (
	"context"

	"github.com/ledgerline/reconcile/internal/engine"
)

// Store is the full storage surface: the pipeline's Ledger plus the
// administrative operations the CLI needs.
type Store interface {
	engine.Ledger

	// Reset drops and recreates all tables. Destructive; used by the
	// reset command only.
	Reset(ctx context.Context) error

	// Close releases the underlying connections.
	Close() error
}

// lookupChunkSize bounds the number of bound parameters per membership
// query. The ledger check stays one logical batched round-trip per run;
// chunking only guards against backend placeholder limits.
const lookupChunkSize = 900
