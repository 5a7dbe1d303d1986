package main

import (
	"context"

	"github.com/spf13/cobra"

	"lsmirror/internal/backfill"
	"lsmirror/internal/config"
	"lsmirror/internal/coord"
	"lsmirror/internal/scheduler"
	"lsmirror/internal/source"
)

const imagesJobName = "images"

func newImagesCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	var projects string
	var once bool
	var workers int

	cmd := &cobra.Command{
		Use:   "images",
		Short: "Download task images missing from the snapshot store",
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

			if workers <= 0 {
				workers = cfg.Images.Workers
			}
			logger := componentLogger("backfill")
			job := backfill.New(backfill.Config{
				Store:      rt.store,
				Downloader: rt.source,
				Rewriter:   rt.rewriter,
				Workers:    workers,
				Logger:     logger,
			})

			var last backfill.Result
			loop := &scheduler.Loop{
				Name:        imagesJobName,
				Interval:    cfg.Images.Interval,
				RunOnStart:  true,
				Once:        once,
				IsTransient: source.IsTransient,
				Logger:      componentLogger("scheduler"),
				Job: func(ctx context.Context) error {
					return coord.Guard(ctx, rt.coord, imagesJobName, logger, func(ctx context.Context) error {
						res, err := job.Run(ctx, ids)
						last = res
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
			return writePlain("images: %d candidates, %d inserted, %d replaced, %d failed, %d without image\n",
				last.Candidates, last.Inserted, last.Replaced, last.Failed, last.Skipped)
		},
	}

	cmd.Flags().StringVar(&projects, "projects", "", "comma-separated project ids (overrides PROJECTS_ID)")
	cmd.Flags().BoolVar(&once, "once", false, "run a single pass and exit")
	cmd.Flags().IntVar(&workers, "workers", 0, "parallel downloads (default images.workers)")
	return cmd
}
