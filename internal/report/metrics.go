package report

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ledgerline/reconcile/internal/engine"
)

// MetricsWriter persists one JSON metrics document per batch run so
// downstream tooling can track pipeline health without parsing reports.
type MetricsWriter struct {
	dir string
}

// NewMetricsWriter creates a writer saving metrics under dir.
func NewMetricsWriter(dir string) *MetricsWriter {
	return &MetricsWriter{dir: dir}
}

// runMetrics is the serialized metrics shape.
type runMetrics struct {
	BatchID           string  `json:"batch_id"`
	SourceFile        string  `json:"source_file"`
	Schema            string  `json:"schema"`
	Status            string  `json:"status"`
	StartTime         string  `json:"start_time"`
	EndTime           string  `json:"end_time"`
	ProcessingSeconds float64 `json:"processing_time_seconds"`

	InputRows        int `json:"input_rows"`
	ValidationPassed int `json:"validation_passed"`
	ValidationFailed int `json:"validation_failed"`
	DuplicatesIntra  int `json:"duplicates_intra_batch"`
	DuplicatesCross  int `json:"duplicates_cross_batch"`
	RowsLoaded       int `json:"rows_loaded"`

	ControlTotalMatch bool   `json:"control_total_match"`
	ErrorMessage      string `json:"error_message,omitempty"`
}

// Report writes metrics_<batch id>.json.
func (w *MetricsWriter) Report(_ context.Context, outcome *engine.BatchOutcome) error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("create metrics directory: %w", err)
	}

	m := runMetrics{
		BatchID:           outcome.BatchID,
		SourceFile:        outcome.SourceFile,
		Schema:            outcome.Schema,
		Status:            string(outcome.Code),
		StartTime:         outcome.StartedAt.Format("2006-01-02T15:04:05Z07:00"),
		EndTime:           outcome.FinishedAt.Format("2006-01-02T15:04:05Z07:00"),
		ProcessingSeconds: outcome.Duration.Seconds(),
		InputRows:         outcome.TotalRows,
		ValidationPassed:  outcome.TotalRows - len(outcome.Rejected),
		ValidationFailed:  len(outcome.Rejected),
		DuplicatesIntra:   len(outcome.IntraBatchDup),
		DuplicatesCross:   len(outcome.CrossBatchDup),
		RowsLoaded:        outcome.Accepted,
		ControlTotalMatch: outcome.ControlTotalMatch,
		ErrorMessage:      outcome.Error,
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encode metrics: %w", err)
	}

	path := filepath.Join(w.dir, fmt.Sprintf("metrics_%s.json", outcome.BatchID))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write metrics: %w", err)
	}
	return nil
}
