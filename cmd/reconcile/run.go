package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledgerline/reconcile/internal/engine"
	"github.com/ledgerline/reconcile/internal/logging"
	"github.com/ledgerline/reconcile/internal/report"
	"github.com/ledgerline/reconcile/internal/schema"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var (
	runSchemaPath     string
	runBatchID        string
	runExpectedTotals []string
	runNoReport       bool
)

var runCmd = &cobra.Command{
	Use:   "run <file> [file...]",
	Short: "Validate, deduplicate, and load one or more batch files",
	Long: `Run the full ingestion pipeline for each file in order. Every file is
processed as an independent batch with its own outcome, report, and metrics.

Without --schema the built-in banking operations schema is used. An expected
control total can be supplied per sum column with --expected-total; a mismatch
flags the batch as OK_WITH_WARNINGS but never stops the load.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runBatches,
}

func init() {
	runCmd.Flags().StringVar(&runSchemaPath, "schema", "", "path to a YAML schema file (default: built-in operations schema)")
	runCmd.Flags().StringVar(&runBatchID, "batch-id", "", "explicit batch ID; only valid with a single file")
	runCmd.Flags().StringArrayVar(&runExpectedTotals, "expected-total", nil, "expected control total as column=value (repeatable)")
	runCmd.Flags().BoolVar(&runNoReport, "no-report", false, "skip Excel report and JSON metrics output")
}

func runBatches(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	if runBatchID != "" && len(args) > 1 {
		return fmt.Errorf("--batch-id cannot be used with multiple files")
	}

	sch, err := loadSchema()
	if err != nil {
		return err
	}

	expected, err := parseExpectedTotals(runExpectedTotals, sch)
	if err != nil {
		return err
	}

	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	engine.MaxFileSize = cfg.Ingest.MaxFileSize

	pipeline := engine.NewPipeline(sch, st, engine.Options{
		Workers:      cfg.Ingest.Workers,
		BatchTimeout: cfg.Ingest.BatchTimeout,
		Delimiter:    []rune(cfg.Ingest.Delimiter)[0],
		Retry: engine.RetryPolicy{
			MaxAttempts:    cfg.Retry.MaxAttempts,
			InitialBackoff: cfg.Retry.InitialBackoff,
			MaxBackoff:     cfg.Retry.MaxBackoff,
		},
		Progress: logProgress,
	})

	var reporter report.Reporter = report.Multi{}
	if !runNoReport {
		reporter = report.Multi{
			report.NewExcelReporter(cfg.Report.Dir),
			report.NewMetricsWriter(cfg.Report.MetricsDir),
		}
	}

	worst := 0
	for _, path := range args {
		outcome, err := runOne(cmd, pipeline, reporter, path, expected)
		if err != nil {
			return err
		}
		if code := exitCodeFor(outcome.Code); code > worst {
			worst = code
		}
	}

	if worst != 0 {
		return &exitError{code: worst}
	}
	return nil
}

func runOne(cmd *cobra.Command, pipeline *engine.Pipeline, reporter report.Reporter, path string, expected map[string]decimal.Decimal) (*engine.BatchOutcome, error) {
	ctx := cmd.Context()

	var outcome *engine.BatchOutcome
	if runBatchID == "" && len(expected) == 0 {
		outcome = pipeline.RunFile(ctx, path)
	} else {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		outcome = pipeline.Run(ctx, engine.BatchRequest{
			BatchID:        runBatchID,
			SourceName:     filepath.Base(path),
			Data:           data,
			ExpectedTotals: expected,
		})
	}

	log := logging.FromContext(logging.WithBatchID(ctx, outcome.BatchID))
	log.Info("batch finished",
		"file", outcome.SourceFile,
		"code", string(outcome.Code),
		"total_rows", outcome.TotalRows,
		"accepted", outcome.Accepted,
		"rejected", len(outcome.Rejected),
		"intra_batch_dups", len(outcome.IntraBatchDup),
		"cross_batch_dups", len(outcome.CrossBatchDup),
		"control_total_match", outcome.ControlTotalMatch,
		"duration", outcome.Duration,
	)
	if outcome.Error != "" {
		log.Error("batch error", "error", outcome.Error)
	}

	if err := reporter.Report(ctx, outcome); err != nil {
		log.Error("report generation failed", "error", err)
	}

	printSummary(cmd, outcome)
	return outcome, nil
}

// loadSchema resolves the schema for this run and validates it up front.
func loadSchema() (*schema.Schema, error) {
	if runSchemaPath == "" {
		return schema.Operations(), nil
	}
	sch, err := schema.LoadFile(runSchemaPath)
	if err != nil {
		return nil, fmt.Errorf("load schema %s: %w", runSchemaPath, err)
	}
	return sch, nil
}

// parseExpectedTotals turns repeated column=value flags into decimals,
// rejecting columns the schema does not sum.
func parseExpectedTotals(pairs []string, sch *schema.Schema) (map[string]decimal.Decimal, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	sums := make(map[string]struct{}, len(sch.SumFields))
	for _, f := range sch.SumFields {
		sums[f] = struct{}{}
	}
	out := make(map[string]decimal.Decimal, len(pairs))
	for _, pair := range pairs {
		col, val, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("invalid --expected-total %q: want column=value", pair)
		}
		col = strings.ToLower(strings.TrimSpace(col))
		if _, isSum := sums[col]; !isSum {
			return nil, fmt.Errorf("--expected-total column %q is not a sum column of schema %s", col, sch.Name)
		}
		d, err := decimal.NewFromString(strings.TrimSpace(val))
		if err != nil {
			return nil, fmt.Errorf("invalid --expected-total value %q: %w", val, err)
		}
		out[col] = d
	}
	return out, nil
}

func logProgress(p engine.Progress) {
	slog.Debug("pipeline state",
		"batch_id", p.BatchID,
		"state", string(p.State),
		"total_rows", p.TotalRows,
	)
}

func printSummary(cmd *cobra.Command, o *engine.BatchOutcome) {
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "%s: %s (batch %s)\n", o.SourceFile, o.Code, o.BatchID)
	fmt.Fprintf(w, "  rows: %d total, %d accepted, %d rejected, %d intra-batch dups, %d cross-batch dups\n",
		o.TotalRows, o.Accepted, len(o.Rejected), len(o.IntraBatchDup), len(o.CrossBatchDup))
	if o.PreLoadTotal != nil && o.PostLoadTotal != nil {
		for _, col := range o.PreLoadTotal.Columns() {
			fmt.Fprintf(w, "  %s: pre-load %s, post-load %s\n",
				col, o.PreLoadTotal.Sums[col].String(), o.PostLoadTotal.Sums[col].String())
		}
	}
	if o.ExpectedTotalMatch != nil && !*o.ExpectedTotalMatch {
		fmt.Fprintln(w, "  expected control total did not match the validated rows")
	}
	if o.Error != "" {
		fmt.Fprintf(w, "  error: %s\n", o.Error)
	}
}

func exitCodeFor(code engine.ResultCode) int {
	switch code {
	case engine.ResultOK, engine.ResultOKWithWarnings:
		return 0
	case engine.ResultRejected:
		return 2
	default:
		return 1
	}
}
