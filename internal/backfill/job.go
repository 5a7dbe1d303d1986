// Package backfill downloads images referenced by snapshot records that are not
// yet stored as blobs.
package backfill

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sourcegraph/conc/stream"
	"github.com/tidwall/gjson"
	"golang.org/x/crypto/blake2b"

	"lsmirror/internal/files"
	"lsmirror/internal/models"
	"lsmirror/internal/store"
)

// DefaultWorkers bounds in-flight downloads when the caller does not.
const DefaultWorkers = 8

// Store is the subset of the snapshot store the job reads and writes.
type Store interface {
	store.ImageStore
	ListRecords(ctx context.Context, name string) ([]models.Record, error)
}

// Downloader fetches image bytes.
type Downloader interface {
	Download(ctx context.Context, url string) ([]byte, error)
}

// Result summarizes one backfill pass.
type Result struct {
	Candidates int           `json:"candidates" yaml:"candidates"`
	Inserted   int           `json:"inserted" yaml:"inserted"`
	Replaced   int           `json:"replaced" yaml:"replaced"`
	Failed     int           `json:"failed" yaml:"failed"`
	Skipped    int           `json:"skipped" yaml:"skipped"`
	Duration   time.Duration `json:"duration" yaml:"duration"`
}

// Config wires a Job.
type Config struct {
	Store      Store
	Downloader Downloader
	Rewriter   *files.Rewriter
	Workers    int
	Logger     *slog.Logger
}

// Job mirrors image blobs for snapshot records.
type Job struct {
	store      Store
	downloader Downloader
	rewriter   *files.Rewriter
	workers    int
	logger     *slog.Logger
}

type candidate struct {
	id  string
	url string
}

// New creates a backfill job.
func New(cfg Config) *Job {
	workers := cfg.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Job{
		store:      cfg.Store,
		downloader: cfg.Downloader,
		rewriter:   cfg.Rewriter,
		workers:    workers,
		logger:     logger,
	}
}

// Digest returns the hex blake2b-256 digest of image bytes.
func Digest(image []byte) string {
	sum := blake2b.Sum256(image)
	return hex.EncodeToString(sum[:])
}

// Run downloads every missing image for the given projects. Downloads run on a
// bounded pool; inserts happen one at a time in submission order. A failed
// download is counted and skipped, a failed store write aborts the pass.
func (j *Job) Run(ctx context.Context, projectIDs []string) (Result, error) {
	started := time.Now()
	var res Result

	existing, err := j.store.ImageIDs(ctx)
	if err != nil {
		return res, fmt.Errorf("list image ids: %w", err)
	}

	pending, skipped, err := j.collect(ctx, projectIDs, existing)
	res.Skipped = skipped
	if err != nil {
		return res, err
	}
	res.Candidates = len(pending)
	if len(pending) == 0 {
		res.Duration = time.Since(started)
		j.logger.Info("no missing images", "projects", len(projectIDs))
		return res, nil
	}
	j.logger.Info("downloading missing images", "count", len(pending), "workers", j.workers)

	var storeErr error
	s := stream.New().WithMaxGoroutines(j.workers)
	for _, c := range pending {
		s.Go(func() stream.Callback {
			if ctx.Err() != nil {
				return func() {}
			}
			image, dlErr := j.downloader.Download(ctx, c.url)
			return func() {
				if storeErr != nil || ctx.Err() != nil {
					return
				}
				if dlErr != nil {
					res.Failed++
					j.logger.Warn("image download failed", "task", c.id, "url", c.url, "error", dlErr)
					return
				}
				replaced, err := j.save(ctx, c, image)
				if err != nil {
					storeErr = err
					return
				}
				if replaced {
					res.Replaced++
				} else {
					res.Inserted++
				}
			}
		})
	}
	s.Wait()

	res.Duration = time.Since(started)
	if storeErr != nil {
		return res, storeErr
	}
	if err := ctx.Err(); err != nil {
		return res, err
	}
	j.logger.Info("image backfill finished",
		"inserted", res.Inserted,
		"replaced", res.Replaced,
		"failed", res.Failed,
		"duration", res.Duration,
	)
	return res, nil
}

// collect lists full-format records whose image blob is missing. Records
// without a rewritten image URL are counted as skipped.
func (j *Job) collect(ctx context.Context, projectIDs []string, existing map[string]struct{}) ([]candidate, int, error) {
	var pending []candidate
	skipped := 0
	queued := make(map[string]struct{})
	for _, projectID := range projectIDs {
		name, err := store.CollectionName(projectID, models.ExportJSON)
		if err != nil {
			return nil, skipped, err
		}
		records, err := j.store.ListRecords(ctx, name)
		if err != nil {
			return nil, skipped, fmt.Errorf("list %s: %w", name, err)
		}
		for _, rec := range records {
			if _, ok := existing[rec.ID]; ok {
				continue
			}
			if _, ok := queued[rec.ID]; ok {
				continue
			}
			url := gjson.GetBytes(rec.Doc, "data._image")
			if url.Type != gjson.String || url.String() == "" {
				skipped++
				continue
			}
			queued[rec.ID] = struct{}{}
			pending = append(pending, candidate{id: rec.ID, url: url.String()})
		}
		j.logger.Debug("scanned project for missing images", "project", projectID, "records", len(records))
	}
	return pending, skipped, nil
}

// save inserts a blob, replacing an existing one on a duplicate key. It reports
// whether an existing blob was replaced.
func (j *Job) save(ctx context.Context, c candidate, image []byte) (bool, error) {
	blob := &models.ImageBlob{
		ID:        c.id,
		FileName:  j.rewriter.FileName(c.url),
		Digest:    Digest(image),
		SizeBytes: int64(len(image)),
		Image:     image,
	}
	err := j.store.InsertImage(ctx, blob)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, store.ErrDuplicateKey) {
		return false, fmt.Errorf("insert image %s: %w", c.id, err)
	}

	previous, err := j.store.ImageDigest(ctx, c.id)
	if err != nil {
		return false, fmt.Errorf("read image digest %s: %w", c.id, err)
	}
	if err := j.store.DeleteImage(ctx, c.id); err != nil {
		return false, fmt.Errorf("delete image %s: %w", c.id, err)
	}
	if err := j.store.InsertImage(ctx, blob); err != nil {
		return false, fmt.Errorf("reinsert image %s: %w", c.id, err)
	}
	j.logger.Debug("replaced existing image", "task", c.id, "content_changed", previous != blob.Digest)
	return true, nil
}
