package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ledgerline/reconcile/internal/engine"
)

const pgSchema = `
CREATE TABLE IF NOT EXISTS records (
	fingerprint  TEXT PRIMARY KEY,
	batch_id     TEXT NOT NULL,
	line_number  INTEGER NOT NULL,
	payload      JSONB NOT NULL,
	loaded_at    TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_records_batch ON records (batch_id);

CREATE TABLE IF NOT EXISTS fingerprint_ledger (
	fingerprint  TEXT PRIMARY KEY,
	batch_id     TEXT NOT NULL,
	loaded_at    TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_ledger_batch ON fingerprint_ledger (batch_id);
`

// Postgres is the pgx-backed store.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres ensures the schema exists and returns the store.
// The pool is owned by the caller's configuration but closed by Close.
func NewPostgres(ctx context.Context, pool *pgxpool.Pool) (*Postgres, error) {
	if _, err := pool.Exec(ctx, pgSchema); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", classifyPgError(err))
	}
	return &Postgres{pool: pool}, nil
}

// ExistsAny returns the subset of fingerprints already in the ledger.
func (s *Postgres) ExistsAny(ctx context.Context, fingerprints []engine.Fingerprint) (map[engine.Fingerprint]struct{}, error) {
	existing := make(map[engine.Fingerprint]struct{})

	for start := 0; start < len(fingerprints); start += lookupChunkSize {
		end := start + lookupChunkSize
		if end > len(fingerprints) {
			end = len(fingerprints)
		}

		hexes := make([]string, 0, end-start)
		for _, fp := range fingerprints[start:end] {
			hexes = append(hexes, fp.Hex())
		}

		rows, err := s.pool.Query(ctx,
			`SELECT fingerprint FROM fingerprint_ledger WHERE fingerprint = ANY($1)`, hexes)
		if err != nil {
			return nil, classifyPgError(err)
		}

		for rows.Next() {
			var hex string
			if err := rows.Scan(&hex); err != nil {
				rows.Close()
				return nil, classifyPgError(err)
			}
			if fp, ok := engine.FingerprintFromHex(hex); ok {
				existing[fp] = struct{}{}
			}
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, classifyPgError(err)
		}
	}

	return existing, nil
}

// Commit persists records and their ledger entries in one transaction.
// Both inserts are keyed on the fingerprint with ON CONFLICT DO NOTHING,
// so re-applying a batch or losing a race is a no-op per fingerprint.
func (s *Postgres) Commit(ctx context.Context, batchID string, records []engine.ValidatedRecord, fingerprints []engine.Fingerprint) (engine.CommitResult, error) {
	var result engine.CommitResult

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return result, classifyPgError(err)
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()

	for i, rec := range records {
		payload, err := json.Marshal(rec.CanonicalFields())
		if err != nil {
			return engine.CommitResult{}, &engine.ConstraintViolation{Err: fmt.Errorf("encode record line %d: %w", rec.Line, err)}
		}

		hex := fingerprints[i].Hex()

		tag, err := tx.Exec(ctx,
			`INSERT INTO records (fingerprint, batch_id, line_number, payload, loaded_at)
			 VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (fingerprint) DO NOTHING`,
			hex, batchID, rec.Line, payload, now)
		if err != nil {
			return engine.CommitResult{}, classifyPgError(err)
		}

		if _, err := tx.Exec(ctx,
			`INSERT INTO fingerprint_ledger (fingerprint, batch_id, loaded_at)
			 VALUES ($1, $2, $3)
			 ON CONFLICT (fingerprint) DO NOTHING`,
			hex, batchID, now); err != nil {
			return engine.CommitResult{}, classifyPgError(err)
		}

		if tag.RowsAffected() > 0 {
			result.Inserted++
		} else {
			result.Skipped++
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return engine.CommitResult{}, classifyPgError(err)
	}

	return result, nil
}

// LoadedRecords returns the rows persisted under a batch id.
func (s *Postgres) LoadedRecords(ctx context.Context, batchID string) ([]engine.PersistedRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT fingerprint, line_number, payload FROM records WHERE batch_id = $1 ORDER BY line_number`, batchID)
	if err != nil {
		return nil, classifyPgError(err)
	}
	defer rows.Close()

	var out []engine.PersistedRecord
	for rows.Next() {
		var (
			rec     engine.PersistedRecord
			payload []byte
		)
		if err := rows.Scan(&rec.Fingerprint, &rec.Line, &payload); err != nil {
			return nil, classifyPgError(err)
		}
		if err := json.Unmarshal(payload, &rec.Fields); err != nil {
			return nil, fmt.Errorf("decode record %s: %w", rec.Fingerprint, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyPgError(err)
	}

	return out, nil
}

// Reset drops and recreates all tables.
func (s *Postgres) Reset(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx,
		`DROP TABLE IF EXISTS records; DROP TABLE IF EXISTS fingerprint_ledger`); err != nil {
		return classifyPgError(err)
	}
	if _, err := s.pool.Exec(ctx, pgSchema); err != nil {
		return classifyPgError(err)
	}
	return nil
}

// Close releases the connection pool.
func (s *Postgres) Close() error {
	s.pool.Close()
	return nil
}

// classifyPgError maps backend failures onto the engine's taxonomy so
// the pipeline can decide retry policy.
func classifyPgError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case strings.HasPrefix(pgErr.Code, "23"):
			// Integrity constraint violation: not retryable.
			return &engine.ConstraintViolation{Err: err}
		case strings.HasPrefix(pgErr.Code, "08"), // connection exception
			strings.HasPrefix(pgErr.Code, "40"), // tx rollback (serialization, deadlock)
			strings.HasPrefix(pgErr.Code, "53"), // insufficient resources
			pgErr.Code == "55P03",               // lock not available
			pgErr.Code == "57P01":               // admin shutdown
			return &engine.TransientStorageError{Err: err}
		default:
			return err
		}
	}

	// Network-level failures arrive as plain errors; treat as retryable.
	return &engine.TransientStorageError{Err: err}
}
