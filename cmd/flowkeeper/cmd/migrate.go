package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/solatis/flowkeeper/internal/core/db"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage database schema migrations",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		database, err := openDatabase(ctx)
		if err != nil {
			return err
		}
		defer database.Close()

		applied, err := db.MigrateUp(ctx, database)
		if err != nil {
			return fmt.Errorf("migrate up: %w", err)
		}
		out := cmd.OutOrStdout()
		if len(applied) == 0 {
			fmt.Fprintln(out, "database is up to date")
			return nil
		}
		for _, id := range applied {
			fmt.Fprintf(out, "applied %s\n", id)
		}
		return nil
	},
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show applied and pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		database, err := openDatabase(ctx)
		if err != nil {
			return err
		}
		defer database.Close()

		statuses, err := db.MigrateStatus(ctx, database)
		if err != nil {
			return fmt.Errorf("migrate status: %w", err)
		}
		out := cmd.OutOrStdout()
		for _, s := range statuses {
			if s.Applied && s.AppliedAt != nil {
				fmt.Fprintf(out, "%-40s applied %s (%dms)\n", s.ID, s.AppliedAt.UTC().Format("2006-01-02 15:04:05"), s.ExecutionMs)
				continue
			}
			fmt.Fprintf(out, "%-40s pending\n", s.ID)
		}
		return nil
	},
}

func init() {
	migrateCmd.AddCommand(migrateUpCmd, migrateStatusCmd)
	rootCmd.AddCommand(migrateCmd)
}
