// Package reconcile keeps a local project snapshot in step with the remote
// annotation service by comparing task counters and replacing the whole
// collection when they diverge.
package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"lsmirror/internal/files"
	"lsmirror/internal/models"
	"lsmirror/internal/store"
)

// Source is the part of the remote client the job needs.
type Source interface {
	GetProjectSummary(ctx context.Context, projectID string) (models.ProjectSummary, error)
	ExportProject(ctx context.Context, projectID string, format models.ExportFormat) ([]json.RawMessage, error)
}

// Snapshot is the part of the snapshot store the job needs.
type Snapshot interface {
	Counts(ctx context.Context, name string) (models.Counts, error)
	ReplaceCollection(ctx context.Context, name, projectID string, format models.ExportFormat, records []models.Record) error
}

// Result describes one reconciliation pass over a project.
type Result struct {
	ProjectID     string              `json:"project_id" yaml:"project_id"`
	Collection    string              `json:"collection" yaml:"collection"`
	Format        models.ExportFormat `json:"format" yaml:"format"`
	Remote        models.Counts       `json:"remote" yaml:"remote"`
	Local         models.Counts       `json:"local" yaml:"local"`
	Changed       bool                `json:"changed" yaml:"changed"`
	Skipped       bool                `json:"skipped" yaml:"skipped"`
	Written       int                 `json:"written" yaml:"written"`
	MissingImages int                 `json:"missing_images" yaml:"missing_images"`
	Duration      time.Duration       `json:"duration" yaml:"duration"`
}

// Config wires a Job.
type Config struct {
	Source   Source
	Store    Snapshot
	Rewriter *files.Rewriter
	Logger   *slog.Logger
}

// Job reconciles project collections against the remote service.
type Job struct {
	source   Source
	store    Snapshot
	rewriter *files.Rewriter
	logger   *slog.Logger
}

// New creates a reconciliation job.
func New(cfg Config) *Job {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Job{
		source:   cfg.Source,
		store:    cfg.Store,
		rewriter: cfg.Rewriter,
		logger:   logger,
	}
}

// RunAll reconciles projects one after another. A failing project does not stop
// the others; all failures are returned joined.
func (j *Job) RunAll(ctx context.Context, projectIDs []string, format models.ExportFormat) ([]Result, error) {
	results := make([]Result, 0, len(projectIDs))
	var errs []error
	for _, projectID := range projectIDs {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		res, err := j.Run(ctx, projectID, format)
		if err != nil {
			j.logger.Error("project reconciliation failed", "project", projectID, "error", err)
			errs = append(errs, fmt.Errorf("project %s: %w", projectID, err))
			continue
		}
		results = append(results, res)
		j.logger.Info("finished processing project", "project", projectID)
	}
	return results, errors.Join(errs...)
}

// Run reconciles one project.
func (j *Job) Run(ctx context.Context, projectID string, format models.ExportFormat) (Result, error) {
	started := time.Now()
	res, err := j.Compare(ctx, projectID, format)
	if err != nil || res.Skipped || !res.Changed {
		res.Duration = time.Since(started)
		return res, err
	}

	j.logger.Debug("project changed, updating",
		"project", projectID,
		"task_delta", res.Remote.Tasks-res.Local.Tasks,
		"annotation_delta", res.Remote.Annotated-res.Local.Annotated,
	)

	records, missing, err := j.export(ctx, projectID, format)
	if err != nil {
		return res, err
	}
	if err := j.store.ReplaceCollection(ctx, res.Collection, projectID, format, records); err != nil {
		return res, fmt.Errorf("replace %s: %w", res.Collection, err)
	}

	res.Written = len(records)
	res.MissingImages = missing
	res.Duration = time.Since(started)
	j.logger.Info("project snapshot replaced",
		"project", projectID,
		"collection", res.Collection,
		"records", res.Written,
		"missing_images", missing,
		"duration", res.Duration,
	)
	return res, nil
}

// Compare fetches the remote and local counters and decides whether a resync is
// needed, without writing anything.
func (j *Job) Compare(ctx context.Context, projectID string, format models.ExportFormat) (Result, error) {
	res := Result{ProjectID: projectID, Format: format}

	collection, err := store.CollectionName(projectID, format)
	if err != nil {
		return res, err
	}
	res.Collection = collection

	summary, err := j.source.GetProjectSummary(ctx, projectID)
	if err != nil {
		return res, fmt.Errorf("fetch project summary: %w", err)
	}
	res.Remote = summary.Counts()

	// A zero remote count is trusted as an empty project and never replaces the
	// local snapshot.
	if res.Remote.Tasks == 0 {
		j.logger.Warn("no tasks in project, skipping", "project", projectID)
		res.Skipped = true
		return res, nil
	}
	j.logger.Debug("remote project summary",
		"project", projectID,
		"tasks", res.Remote.Tasks,
		"annotations", res.Remote.Annotated,
	)

	local, err := j.store.Counts(ctx, collection)
	if err != nil {
		return res, fmt.Errorf("count %s: %w", collection, err)
	}
	res.Local = local

	res.Changed = countsDiffer(res.Remote, res.Local, format) || res.Local.Tasks == 0
	if !res.Changed {
		j.logger.Debug("no changes detected in project", "project", projectID)
	}
	return res, nil
}

// countsDiffer compares remote and local counters. JSON_MIN exports carry one row
// per annotation rather than one per task, so only the annotated counters are
// comparable in that format.
func countsDiffer(remote, local models.Counts, format models.ExportFormat) bool {
	if format.Minimal() {
		return remote.Annotated != local.Annotated
	}
	return remote != local
}

func (j *Job) export(ctx context.Context, projectID string, format models.ExportFormat) ([]models.Record, int, error) {
	raw, err := j.source.ExportProject(ctx, projectID, format)
	if err != nil {
		return nil, 0, fmt.Errorf("export project: %w", err)
	}

	records := make([]models.Record, 0, len(raw))
	missing := 0
	for i, item := range raw {
		rec, hasImage, err := Normalize(item, format, j.rewriter)
		if err != nil {
			return nil, 0, fmt.Errorf("normalize export record %d: %w", i, err)
		}
		if !hasImage {
			missing++
			j.logger.Warn("task has no image reference", "project", projectID, "task", rec.ID)
		}
		records = append(records, rec)
	}
	return records, missing, nil
}
