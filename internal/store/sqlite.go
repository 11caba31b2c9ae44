package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/ledgerline/reconcile/internal/engine"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS records (
	fingerprint  TEXT PRIMARY KEY,
	batch_id     TEXT NOT NULL,
	line_number  INTEGER NOT NULL,
	payload      TEXT NOT NULL,
	loaded_at    TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_records_batch ON records (batch_id);

CREATE TABLE IF NOT EXISTS fingerprint_ledger (
	fingerprint  TEXT PRIMARY KEY,
	batch_id     TEXT NOT NULL,
	loaded_at    TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_ledger_batch ON fingerprint_ledger (batch_id);
`

// SQLite is the embedded store, used for single-host deployments and
// tests. WAL mode keeps concurrent batch commits serialized at the
// database rather than failing outright.
type SQLite struct {
	db   *sql.DB
	path string
}

// NewSQLite opens (creating if needed) a SQLite store at path.
func NewSQLite(path string) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	return &SQLite{db: db, path: path}, nil
}

// Path returns the database file path.
func (s *SQLite) Path() string {
	return s.path
}

// ExistsAny returns the subset of fingerprints already in the ledger.
func (s *SQLite) ExistsAny(ctx context.Context, fingerprints []engine.Fingerprint) (map[engine.Fingerprint]struct{}, error) {
	existing := make(map[engine.Fingerprint]struct{})

	for start := 0; start < len(fingerprints); start += lookupChunkSize {
		end := start + lookupChunkSize
		if end > len(fingerprints) {
			end = len(fingerprints)
		}
		chunk := fingerprints[start:end]

		placeholders := strings.Repeat("?,", len(chunk))
		placeholders = placeholders[:len(placeholders)-1]

		args := make([]any, len(chunk))
		for i, fp := range chunk {
			args[i] = fp.Hex()
		}

		query := fmt.Sprintf(
			`SELECT fingerprint FROM fingerprint_ledger WHERE fingerprint IN (%s)`, placeholders)
		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, classifySQLiteError(err)
		}

		for rows.Next() {
			var hex string
			if err := rows.Scan(&hex); err != nil {
				rows.Close()
				return nil, classifySQLiteError(err)
			}
			if fp, ok := engine.FingerprintFromHex(hex); ok {
				existing[fp] = struct{}{}
			}
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, classifySQLiteError(err)
		}
	}

	return existing, nil
}

// Commit persists records and their ledger entries in one transaction,
// insert-or-ignore keyed on fingerprint.
func (s *SQLite) Commit(ctx context.Context, batchID string, records []engine.ValidatedRecord, fingerprints []engine.Fingerprint) (engine.CommitResult, error) {
	var result engine.CommitResult

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return result, classifySQLiteError(err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()

	for i, rec := range records {
		payload, err := json.Marshal(rec.CanonicalFields())
		if err != nil {
			return engine.CommitResult{}, &engine.ConstraintViolation{Err: fmt.Errorf("encode record line %d: %w", rec.Line, err)}
		}

		hex := fingerprints[i].Hex()

		res, err := tx.ExecContext(ctx,
			`INSERT INTO records (fingerprint, batch_id, line_number, payload, loaded_at)
			 VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT (fingerprint) DO NOTHING`,
			hex, batchID, rec.Line, string(payload), now)
		if err != nil {
			return engine.CommitResult{}, classifySQLiteError(err)
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO fingerprint_ledger (fingerprint, batch_id, loaded_at)
			 VALUES (?, ?, ?)
			 ON CONFLICT (fingerprint) DO NOTHING`,
			hex, batchID, now); err != nil {
			return engine.CommitResult{}, classifySQLiteError(err)
		}

		n, err := res.RowsAffected()
		if err != nil {
			return engine.CommitResult{}, classifySQLiteError(err)
		}
		if n > 0 {
			result.Inserted++
		} else {
			result.Skipped++
		}
	}

	if err := tx.Commit(); err != nil {
		return engine.CommitResult{}, classifySQLiteError(err)
	}

	return result, nil
}

// LoadedRecords returns the rows persisted under a batch id.
func (s *SQLite) LoadedRecords(ctx context.Context, batchID string) ([]engine.PersistedRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT fingerprint, line_number, payload FROM records WHERE batch_id = ? ORDER BY line_number`, batchID)
	if err != nil {
		return nil, classifySQLiteError(err)
	}
	defer rows.Close()

	var out []engine.PersistedRecord
	for rows.Next() {
		var (
			rec     engine.PersistedRecord
			payload string
		)
		if err := rows.Scan(&rec.Fingerprint, &rec.Line, &payload); err != nil {
			return nil, classifySQLiteError(err)
		}
		if err := json.Unmarshal([]byte(payload), &rec.Fields); err != nil {
			return nil, fmt.Errorf("decode record %s: %w", rec.Fingerprint, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, classifySQLiteError(err)
	}

	return out, nil
}

// Reset drops and recreates all tables.
func (s *SQLite) Reset(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DROP TABLE IF EXISTS records`); err != nil {
		return classifySQLiteError(err)
	}
	if _, err := s.db.ExecContext(ctx, `DROP TABLE IF EXISTS fingerprint_ledger`); err != nil {
		return classifySQLiteError(err)
	}
	if _, err := s.db.ExecContext(ctx, sqliteSchema); err != nil {
		return classifySQLiteError(err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// classifySQLiteError maps driver failures onto the engine's taxonomy.
// modernc.org/sqlite surfaces the SQLite result code in the error text.
func classifySQLiteError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "busy"), strings.Contains(msg, "locked"):
		return &engine.TransientStorageError{Err: err}
	case strings.Contains(msg, "constraint"):
		return &engine.ConstraintViolation{Err: err}
	default:
		return err
	}
}
