package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/ledgerline/reconcile/internal/config"
	"github.com/ledgerline/reconcile/internal/logging"
	"github.com/ledgerline/reconcile/internal/store"
	"github.com/spf13/cobra"
)

// cfg is loaded once before any subcommand runs.
var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Batch ingestion and reconciliation engine for delimited operation files",
	Long: `reconcile validates delimited operation files, deduplicates rows against a
fingerprint ledger, and loads the surviving rows transactionally so that
resubmitting the same file never double-loads a record.

Configuration is read from environment variables (and a .env file when one
exists in the working directory). STORE_DRIVER selects the backend: sqlite
(default) or postgres with DATABASE_URL.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// version works without configuration
		if cmd.Name() == "version" {
			return nil
		}

		// Load .env file if it exists (Overload overwrites existing env vars)
		if err := godotenv.Overload(); err == nil {
			slog.Info("loaded .env file (overwriting existing env vars)")
		}

		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("load configuration: %w", err)
		}

		logging.Setup(cfg.Logging.Level, cfg.Logging.Format)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(resetCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(versionCmd)
}

// execute runs the CLI and maps the outcome to a process exit code:
// 0 committed (with or without warnings), 1 failed or usage error,
// 2 structurally rejected.
func execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		var ec *exitError
		if errors.As(err, &ec) {
			if ec.msg != "" {
				fmt.Fprintln(os.Stderr, "Error:", ec.msg)
			}
			return ec.code
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		return 1
	}
	return 0
}

// exitError carries a specific exit code out of a cobra RunE.
type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string { return e.msg }

// openStore builds the configured storage backend. The caller owns Close.
func openStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "postgres":
		poolConfig, err := pgxpool.ParseConfig(cfg.Store.URL)
		if err != nil {
			return nil, fmt.Errorf("parse database URL: %w", err)
		}
		poolConfig.MaxConns = int32(cfg.Store.MaxConns)
		poolConfig.MinConns = int32(cfg.Store.MinConns)
		poolConfig.MaxConnLifetime = cfg.Store.MaxConnLifetime

		pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
		if err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("ping database: %w", err)
		}

		st, err := store.NewPostgres(ctx, pool)
		if err != nil {
			pool.Close()
			return nil, err
		}
		slog.Info("connected to postgres store", "max_conns", cfg.Store.MaxConns)
		return st, nil

	case "sqlite":
		st, err := store.NewSQLite(cfg.Store.SQLitePath)
		if err != nil {
			return nil, err
		}
		slog.Info("opened sqlite store", "path", cfg.Store.SQLitePath)
		return st, nil

	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}
