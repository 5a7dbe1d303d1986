package store

import (
	"database/sql"
	"net/url"
	"path/filepath"
	"testing"
)

func testRawDB(t *testing.T) *sql.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	u := url.URL{Scheme: "file", Path: path}
	db, err := sql.Open("sqlite", u.String())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestRunMigrationsFreshDB(t *testing.T) {
	db := testRawDB(t)

	if err := runMigrations(db); err != nil {
		t.Fatalf("run migrations: %v", err)
	}

	version, err := currentVersion(db)
	if err != nil {
		t.Fatalf("current version: %v", err)
	}
	if version != 3 {
		t.Fatalf("expected version 3, got %d", version)
	}

	for _, table := range []string{"images", "collections"} {
		var count int
		if err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&count); err != nil {
			t.Fatalf("check %s: %v", table, err)
		}
		if count != 1 {
			t.Fatalf("%s table not created", table)
		}
	}
}

func TestRunMigrationsIdempotent(t *testing.T) {
	db := testRawDB(t)

	if err := runMigrations(db); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if err := runMigrations(db); err != nil {
		t.Fatalf("second run: %v", err)
	}

	var applied int
	if err := db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&applied); err != nil {
		t.Fatalf("count migrations: %v", err)
	}
	if applied != 3 {
		t.Fatalf("expected 3 applied migrations, got %d", applied)
	}
}

func TestMigrationPlan(t *testing.T) {
	db := testRawDB(t)

	plan, err := MigrationPlan(db)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if plan.CurrentVersion != 0 {
		t.Fatalf("expected current 0, got %d", plan.CurrentVersion)
	}
	if plan.AvailableVersion != 3 {
		t.Fatalf("expected available 3, got %d", plan.AvailableVersion)
	}
	if len(plan.Pending) != 3 {
		t.Fatalf("expected 3 pending, got %d", len(plan.Pending))
	}
}

func TestImageDigestColumnsUpgradePath(t *testing.T) {
	db := testRawDB(t)

	if err := ensureMigrationsTable(db); err != nil {
		t.Fatalf("migrations table: %v", err)
	}
	if _, err := db.Exec(migrations[0].SQL); err != nil {
		t.Fatalf("apply v1: %v", err)
	}
	if _, err := db.Exec("INSERT INTO schema_migrations (version, applied_at) VALUES (1, datetime('now'))"); err != nil {
		t.Fatalf("record v1: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO images (id, file_name, image, created_at) VALUES ('1', 'a.jpg', x'00', datetime('now'))`); err != nil {
		t.Fatalf("insert v1 image: %v", err)
	}

	if err := runMigrations(db); err != nil {
		t.Fatalf("upgrade: %v", err)
	}

	var digest string
	var size int64
	if err := db.QueryRow("SELECT digest, size_bytes FROM images WHERE id = '1'").Scan(&digest, &size); err != nil {
		t.Fatalf("query new columns: %v", err)
	}
	if digest != "" || size != 0 {
		t.Fatalf("expected defaults for upgraded row, got digest=%q size=%d", digest, size)
	}
}
