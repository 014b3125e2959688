package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"contractflow/api/internal/store"
)

var migrateDown int

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations, or roll back with --down",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		db, err := store.Open(ctx, cfg.GetString(cfgKeyDatabaseURL))
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer db.Close()

		dir := cfg.GetString(cfgKeyMigrationsDir)
		if migrateDown > 0 {
			n, err := store.RollbackMigrations(ctx, db, dir, migrateDown)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "rolled back %d migration(s)\n", n)
			return nil
		}
		if err := store.ApplyMigrations(ctx, db, dir); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
		return nil
	},
}

func init() {
	migrateCmd.Flags().IntVar(&migrateDown, "down", 0, "roll back this many migrations")
}
