package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"lsmirror/internal/models"
)

// ErrDuplicateKey is returned when a row with the same primary key already exists.
var ErrDuplicateKey = errors.New("duplicate key")

const imageColumns = "id, file_name, digest, size_bytes, image, created_at"

// ImageIDs returns the set of task ids that already have an image.
func (s *Store) ImageIDs(ctx context.Context) (map[string]struct{}, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT id FROM images`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := map[string]struct{}{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}

// InsertImage inserts one image. An existing id yields ErrDuplicateKey.
func (s *Store) InsertImage(ctx context.Context, blob *models.ImageBlob) error {
	if blob == nil {
		return fmt.Errorf("image is required")
	}
	if strings.TrimSpace(blob.ID) == "" {
		return fmt.Errorf("image id is required")
	}
	if blob.CreatedAt.IsZero() {
		blob.CreatedAt = time.Now().UTC()
	}
	if blob.SizeBytes == 0 {
		blob.SizeBytes = int64(len(blob.Image))
	}

	return withSQLiteRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `INSERT INTO images (`+imageColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
			blob.ID, blob.FileName, blob.Digest, blob.SizeBytes, blob.Image, dbFormatTime(blob.CreatedAt))
		if err != nil && isStoreUniqueConstraint(err) {
			return fmt.Errorf("insert image %s: %w", blob.ID, ErrDuplicateKey)
		}
		return err
	})
}

// DeleteImage deletes one image by task id. Missing rows are ignored.
func (s *Store) DeleteImage(ctx context.Context, id string) error {
	return withSQLiteRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `DELETE FROM images WHERE id = ?`, id)
		return err
	})
}

// GetImage returns one image, or nil when none is stored for id.
func (s *Store) GetImage(ctx context.Context, id string) (*models.ImageBlob, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+imageColumns+` FROM images WHERE id = ?`, id)

	blob := models.ImageBlob{}
	var createdAt string
	err := row.Scan(&blob.ID, &blob.FileName, &blob.Digest, &blob.SizeBytes, &blob.Image, &createdAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	parsed, err := dbParseTime(createdAt)
	if err != nil {
		return nil, err
	}
	blob.CreatedAt = parsed
	return &blob, nil
}

// ImageDigest returns the stored digest for id, or "" when no image exists.
func (s *Store) ImageDigest(ctx context.Context, id string) (string, error) {
	var digest string
	err := s.db.QueryRowContext(ctx, `SELECT digest FROM images WHERE id = ?`, id).Scan(&digest)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return digest, err
}

// CountImages returns the number of stored images.
func (s *Store) CountImages(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM images`).Scan(&n)
	return n, err
}
