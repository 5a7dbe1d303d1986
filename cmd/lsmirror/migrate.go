package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"lsmirror/internal/config"
	"lsmirror/internal/store"
)

func newMigrateCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	var dryRun bool
	var inspect bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run or inspect snapshot store migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := cfg.DBPath()
			if inspect || dryRun {
				return showMigrationPlan(path, *jsonOutput)
			}

			st, err := store.Open(path)
			if err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			st.Close()

			if *jsonOutput {
				return showMigrationPlan(path, true)
			}
			return writePlain("Migrations applied successfully to %s.\n", path)
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "show pending migrations without applying")
	cmd.Flags().BoolVar(&inspect, "inspect", false, "show migration status")

	return cmd
}

func showMigrationPlan(path string, asJSON bool) error {
	db, err := store.OpenRaw(path)
	if err != nil {
		return err
	}
	defer db.Close()

	plan, err := store.MigrationPlan(db)
	if err != nil {
		return fmt.Errorf("inspect migrations: %w", err)
	}
	if asJSON {
		return writeJSON(plan)
	}

	if err := writePlain("Current version: %d\nAvailable version: %d\n", plan.CurrentVersion, plan.AvailableVersion); err != nil {
		return err
	}
	if len(plan.Pending) == 0 {
		return writePlain("No pending migrations.\n")
	}
	if err := writePlain("Pending migrations: %d\n", len(plan.Pending)); err != nil {
		return err
	}
	for _, m := range plan.Pending {
		if err := writePlain("  %d: %s\n", m.Version, m.Description); err != nil {
			return err
		}
	}
	return nil
}
