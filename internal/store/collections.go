package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"lsmirror/internal/models"
)

// ErrInvalidName is returned for project ids or collection names that cannot be
// used as table identifiers.
var ErrInvalidName = errors.New("invalid collection name")

var (
	projectIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
	collectionPrefix = "project_"
	minimalSuffix    = "_min"
)

// CollectionInfo is the registry entry written on every replace.
type CollectionInfo struct {
	Name           string    `json:"name" yaml:"name"`
	ProjectID      string    `json:"project_id" yaml:"project_id"`
	Format         string    `json:"format" yaml:"format"`
	RecordCount    int       `json:"record_count" yaml:"record_count"`
	AnnotatedCount int       `json:"annotated_count" yaml:"annotated_count"`
	ReplacedAt     time.Time `json:"replaced_at" yaml:"replaced_at"`
}

// CollectionName returns the collection holding a project's snapshot.
func CollectionName(projectID string, format models.ExportFormat) (string, error) {
	projectID = strings.TrimSpace(projectID)
	if !projectIDPattern.MatchString(projectID) {
		return "", fmt.Errorf("%w: project id %q", ErrInvalidName, projectID)
	}
	name := collectionPrefix + projectID
	if format.Minimal() {
		name += minimalSuffix
	}
	return name, nil
}

func quoteCollection(name string) (string, error) {
	if !strings.HasPrefix(name, collectionPrefix) || !projectIDPattern.MatchString(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return `"` + name + `"`, nil
}

func collectionDDL(table string) string {
	return `CREATE TABLE IF NOT EXISTS ` + table + ` (
  id TEXT PRIMARY KEY,
  annotated INTEGER NOT NULL DEFAULT 0,
  doc TEXT NOT NULL
)`
}

// CollectionExists reports whether a collection table has been created.
func (s *Store) CollectionExists(ctx context.Context, name string) (bool, error) {
	if _, err := quoteCollection(name); err != nil {
		return false, err
	}
	var exists int
	err := s.db.QueryRowContext(ctx, "SELECT 1 FROM sqlite_master WHERE type = 'table' AND name = ? LIMIT 1", name).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Counts returns the number of records and annotated records in a collection.
// A missing collection counts as empty.
func (s *Store) Counts(ctx context.Context, name string) (models.Counts, error) {
	var counts models.Counts
	table, err := quoteCollection(name)
	if err != nil {
		return counts, err
	}
	exists, err := s.CollectionExists(ctx, name)
	if err != nil || !exists {
		return counts, err
	}
	err = s.db.QueryRowContext(ctx, `SELECT COUNT(*), COALESCE(SUM(annotated), 0) FROM `+table).Scan(&counts.Tasks, &counts.Annotated)
	return counts, err
}

// ReplaceCollection drops a collection and bulk inserts records in a single
// transaction. On failure the previous contents are kept.
func (s *Store) ReplaceCollection(ctx context.Context, name, projectID string, format models.ExportFormat, records []models.Record) error {
	table, err := quoteCollection(name)
	if err != nil {
		return err
	}
	return withSQLiteRetry(ctx, func() error {
		return s.replaceCollectionTx(ctx, table, name, projectID, format, records)
	})
}

func (s *Store) replaceCollectionTx(ctx context.Context, table, name, projectID string, format models.ExportFormat, records []models.Record) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err := tx.ExecContext(ctx, `DROP TABLE IF EXISTS `+table); err != nil {
		return fmt.Errorf("drop %s: %w", name, err)
	}
	if _, err := tx.ExecContext(ctx, collectionDDL(table)); err != nil {
		return fmt.Errorf("create %s: %w", name, err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO `+table+` (id, annotated, doc) VALUES (?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	annotated := 0
	for _, rec := range records {
		flag := 0
		if rec.Annotated {
			flag = 1
			annotated++
		}
		if _, err := stmt.ExecContext(ctx, rec.ID, flag, string(rec.Doc)); err != nil {
			if isStoreUniqueConstraint(err) {
				return fmt.Errorf("insert %s record %s: %w", name, rec.ID, ErrDuplicateKey)
			}
			return fmt.Errorf("insert %s record %s: %w", name, rec.ID, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO collections (name, project_id, format, record_count, annotated_count, replaced_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
		  project_id = excluded.project_id,
		  format = excluded.format,
		  record_count = excluded.record_count,
		  annotated_count = excluded.annotated_count,
		  replaced_at = excluded.replaced_at
	`, name, projectID, string(format), len(records), annotated, dbFormatTime(time.Now())); err != nil {
		return fmt.Errorf("record %s in registry: %w", name, err)
	}

	return tx.Commit()
}

// DropCollection removes a collection and its registry entry.
func (s *Store) DropCollection(ctx context.Context, name string) error {
	table, err := quoteCollection(name)
	if err != nil {
		return err
	}
	return withSQLiteRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DROP TABLE IF EXISTS `+table); err != nil {
			_ = tx.Rollback()
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM collections WHERE name = ?`, name); err != nil {
			_ = tx.Rollback()
			return err
		}
		return tx.Commit()
	})
}

// ListRecords returns every record of a collection ordered by numeric id.
func (s *Store) ListRecords(ctx context.Context, name string) ([]models.Record, error) {
	table, err := quoteCollection(name)
	if err != nil {
		return nil, err
	}
	exists, err := s.CollectionExists(ctx, name)
	if err != nil {
		return nil, err
	}
	records := []models.Record{}
	if !exists {
		return records, nil
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id, annotated, doc FROM `+table+` ORDER BY CAST(id AS INTEGER), id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			rec       models.Record
			annotated int
			doc       string
		)
		if err := rows.Scan(&rec.ID, &annotated, &doc); err != nil {
			return nil, err
		}
		rec.Annotated = annotated != 0
		rec.Doc = []byte(doc)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

// ListCollections returns the registry ordered by collection name.
func (s *Store) ListCollections(ctx context.Context) ([]CollectionInfo, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, project_id, format, record_count, annotated_count, replaced_at FROM collections ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []CollectionInfo{}
	for rows.Next() {
		var (
			info       CollectionInfo
			replacedAt string
		)
		if err := rows.Scan(&info.Name, &info.ProjectID, &info.Format, &info.RecordCount, &info.AnnotatedCount, &replacedAt); err != nil {
			return nil, err
		}
		parsed, err := dbParseTime(replacedAt)
		if err != nil {
			return nil, err
		}
		info.ReplacedAt = parsed
		out = append(out, info)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// GetCollectionInfo returns one registry entry, or nil when the collection has
// never been replaced.
func (s *Store) GetCollectionInfo(ctx context.Context, name string) (*CollectionInfo, error) {
	var (
		info       CollectionInfo
		replacedAt string
	)
	err := s.db.QueryRowContext(ctx, `SELECT name, project_id, format, record_count, annotated_count, replaced_at FROM collections WHERE name = ?`, name).
		Scan(&info.Name, &info.ProjectID, &info.Format, &info.RecordCount, &info.AnnotatedCount, &replacedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	parsed, err := dbParseTime(replacedAt)
	if err != nil {
		return nil, err
	}
	info.ReplacedAt = parsed
	return &info, nil
}
