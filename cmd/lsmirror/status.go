package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"lsmirror/internal/config"
	"lsmirror/internal/coord"
	"lsmirror/internal/models"
	"lsmirror/internal/reconcile"
)

type statusReport struct {
	Projects []reconcile.Result         `json:"projects" yaml:"projects"`
	Images   int                        `json:"images" yaml:"images"`
	LastRuns map[string]*coord.RunState `json:"last_runs,omitempty" yaml:"last_runs,omitempty"`
}

func newStatusCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	var projects string
	var jsonMin bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Compare remote and local counts without writing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			ids, err := resolveProjects(projects, cfg)
			if err != nil {
				return err
			}
			rt, err := openApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer rt.Close()

			job := reconcile.New(reconcile.Config{
				Source:   rt.source,
				Store:    rt.store,
				Rewriter: rt.rewriter,
				Logger:   componentLogger("reconcile"),
			})
			format := models.FormatFor(jsonMin || cfg.Sync.JSONMin)

			report := statusReport{LastRuns: map[string]*coord.RunState{}}
			var errs []error
			for _, id := range ids {
				res, err := job.Compare(ctx, id, format)
				if err != nil {
					errs = append(errs, fmt.Errorf("project %s: %w", id, err))
					continue
				}
				report.Projects = append(report.Projects, res)
			}
			if report.Images, err = rt.store.CountImages(ctx); err != nil {
				return fmt.Errorf("count images: %w", err)
			}
			for _, name := range []string{syncJobName, imagesJobName} {
				state, err := rt.coord.LastRun(ctx, name)
				if err != nil {
					errs = append(errs, err)
					continue
				}
				if state != nil {
					report.LastRuns[name] = state
				}
			}

			if *jsonOutput {
				if err := writeJSON(report); err != nil {
					return err
				}
			} else if err := writeStatusReport(report); err != nil {
				return err
			}
			return errors.Join(errs...)
		},
	}

	cmd.Flags().StringVar(&projects, "projects", "", "comma-separated project ids (overrides PROJECTS_ID)")
	cmd.Flags().BoolVar(&jsonMin, "json-min", false, "compare the JSON_MIN collections")
	return cmd
}
