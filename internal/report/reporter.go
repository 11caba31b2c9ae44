// Package report consumes batch outcomes at the pipeline boundary.
//
// The engine produces exactly one BatchOutcome per run; reporters render
// it without ever re-reading the source file. Two implementations are
// provided: an XLSX workbook for manual review and a JSON metrics file
// for downstream tooling.
package report

import (
	"context"

	"github.com/ledgerline/reconcile/internal/engine"
)

// Reporter receives the final outcome of one batch.
type Reporter interface {
	Report(ctx context.Context, outcome *engine.BatchOutcome) error
}

// Multi fans one outcome out to several reporters. The first error stops
// the chain.
type Multi []Reporter

func (m Multi) Report(ctx context.Context, outcome *engine.BatchOutcome) error {
	for _, r := range m {
		if err := r.Report(ctx, outcome); err != nil {
			return err
		}
	}
	return nil
}
