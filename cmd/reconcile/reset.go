package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
)

var resetYes bool

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete all loaded records and the fingerprint ledger",
	Long: `Reset wipes the record table and the fingerprint ledger from the configured
store. Every previously loaded batch becomes loadable again. This is meant
for development and test environments; it asks for --yes to avoid accidents.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !resetYes {
			return fmt.Errorf("refusing to wipe the store without --yes")
		}

		ctx := cmd.Context()
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Reset(ctx); err != nil {
			return fmt.Errorf("reset store: %w", err)
		}
		slog.Info("store reset", "driver", cfg.Store.Driver)
		fmt.Fprintln(cmd.OutOrStdout(), "store reset: all records and ledger entries deleted")
		return nil
	},
}

func init() {
	resetCmd.Flags().BoolVar(&resetYes, "yes", false, "confirm wiping all records and ledger entries")
}
