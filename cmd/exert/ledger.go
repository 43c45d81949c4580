package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mattjoyce/exert/internal/inspect"
	"github.com/mattjoyce/exert/internal/persist"
	"github.com/mattjoyce/exert/internal/storage"
)

func newLedgerCmd(opts *cliOptions) *cobra.Command {
	var (
		limit   int
		jsonOut bool
	)
	cmd := &cobra.Command{
		Use:   "ledger [routine]",
		Short: "Report recorded exertions",
		Long: `Summarize the exertion ledger: run counts by status, mean duration
and the most recent runs with their faults. Without a routine name every
recorded routine is included.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			name := ""
			if len(args) == 1 {
				name = args[0]
			}

			db, err := storage.OpenSQLite(cmd.Context(), cfg.State.Path)
			if err != nil {
				return fmt.Errorf("open state %s: %w", cfg.State.Path, err)
			}
			defer db.Close()
			ledger := persist.NewLedger(db)

			var out string
			if jsonOut {
				out, err = inspect.BuildJSONReport(cmd.Context(), ledger, name, limit)
			} else {
				out, err = inspect.BuildReport(cmd.Context(), ledger, name, limit)
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum runs to include")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output the report as JSON")
	return cmd
}
