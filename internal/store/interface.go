package store

import (
	"context"

	"lsmirror/internal/models"
)

// CollectionStore abstracts project collection storage.
type CollectionStore interface {
	Counts(ctx context.Context, name string) (models.Counts, error)
	ReplaceCollection(ctx context.Context, name, projectID string, format models.ExportFormat, records []models.Record) error
	ListRecords(ctx context.Context, name string) ([]models.Record, error)
}

// ImageStore abstracts image blob storage.
type ImageStore interface {
	ImageIDs(ctx context.Context) (map[string]struct{}, error)
	InsertImage(ctx context.Context, blob *models.ImageBlob) error
	DeleteImage(ctx context.Context, id string) error
	ImageDigest(ctx context.Context, id string) (string, error)
}

var _ CollectionStore = (*Store)(nil)
var _ ImageStore = (*Store)(nil)
