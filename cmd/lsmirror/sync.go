package main

import (
	"context"

	"github.com/spf13/cobra"

	"lsmirror/internal/config"
	"lsmirror/internal/coord"
	"lsmirror/internal/models"
	"lsmirror/internal/reconcile"
	"lsmirror/internal/scheduler"
	"lsmirror/internal/source"
)

const syncJobName = "sync"

func newSyncCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	var projects string
	var once bool
	var jsonMin bool

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Mirror project tasks whenever remote counts change",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := resolveProjects(projects, cfg)
			if err != nil {
				return err
			}
			rt, err := openApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer rt.Close()

			format := models.FormatFor(jsonMin || cfg.Sync.JSONMin)
			logger := componentLogger("reconcile")
			job := reconcile.New(reconcile.Config{
				Source:   rt.source,
				Store:    rt.store,
				Rewriter: rt.rewriter,
				Logger:   logger,
			})

			var last []reconcile.Result
			loop := &scheduler.Loop{
				Name:        syncJobName,
				Interval:    cfg.Sync.Interval,
				RunOnStart:  cfg.Sync.RunOnStart,
				Once:        once,
				IsTransient: source.IsTransient,
				Logger:      componentLogger("scheduler"),
				Job: func(ctx context.Context) error {
					return coord.Guard(ctx, rt.coord, syncJobName, logger, func(ctx context.Context) error {
						results, err := job.RunAll(ctx, ids, format)
						last = results
						return err
					})
				},
			}
			if err := loop.Run(cmd.Context()); err != nil {
				return err
			}
			if *jsonOutput {
				return writeJSON(last)
			}
			return writeSyncResults(last)
		},
	}

	cmd.Flags().StringVar(&projects, "projects", "", "comma-separated project ids (overrides PROJECTS_ID)")
	cmd.Flags().BoolVar(&once, "once", false, "run a single pass and exit")
	cmd.Flags().BoolVar(&jsonMin, "json-min", false, "use the JSON_MIN export format")
	return cmd
}
