package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"lsmirror/internal/config"
	"lsmirror/internal/format"
	"lsmirror/internal/models"
	"lsmirror/internal/scheduler"
	"lsmirror/internal/store"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Store.ConnectionString = t.TempDir()
	cfg.Store.Database = "mirror"
	cfg.Log.File = ""
	return &cfg
}

func TestResolveProjects(t *testing.T) {
	cfg := testConfig(t)
	cfg.Projects = []string{"1", "2"}

	ids, err := resolveProjects("", cfg)
	if err != nil || strings.Join(ids, ",") != "1,2" {
		t.Fatalf("expected configured projects, got %v (err: %v)", ids, err)
	}
	ids, err = resolveProjects(" 7, 8 ,", cfg)
	if err != nil || strings.Join(ids, ",") != "7,8" {
		t.Fatalf("expected flag projects, got %v (err: %v)", ids, err)
	}
	if _, err := resolveProjects("1;2", cfg); !errors.Is(err, store.ErrInvalidName) {
		t.Fatalf("expected ErrInvalidName, got %v", err)
	}

	cfg.Projects = nil
	if _, err := resolveProjects("", cfg); !errors.Is(err, errNoProjects) {
		t.Fatalf("expected errNoProjects, got %v", err)
	}
}

func TestSyncRequiresHosts(t *testing.T) {
	cfg := testConfig(t)
	cfg.Projects = []string{"1"}

	cmd := newRootCmd(cfg)
	cmd.SetArgs([]string{"sync", "--once"})
	err := cmd.ExecuteContext(context.Background())
	if err == nil || !strings.Contains(err.Error(), "LS_HOST") {
		t.Fatalf("expected missing host error, got %v", err)
	}
}

func TestDumpWritesYAML(t *testing.T) {
	cfg := testConfig(t)
	st, err := store.Open(cfg.DBPath())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	records := []models.Record{
		{ID: "3", Doc: []byte(`{"_id": 3, "data": {"_image": "https://srv.example/c.jpg", "image": "c.jpg"}}`)},
	}
	if err := st.ReplaceCollection(context.Background(), "project_5", "5", models.ExportJSON, records); err != nil {
		t.Fatalf("seed: %v", err)
	}
	st.Close()

	out := filepath.Join(t.TempDir(), "dump.yaml")
	cmd := newRootCmd(cfg)
	cmd.SetArgs([]string{"dump", "--project", "5", "--format", "yaml", "-o", out})
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("dump: %v", err)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read dump: %v", err)
	}
	if !strings.Contains(string(data), "_image: https://srv.example/c.jpg") {
		t.Fatalf("unexpected dump:\n%s", data)
	}
}

func TestDumpMissingCollection(t *testing.T) {
	cfg := testConfig(t)
	cmd := newRootCmd(cfg)
	cmd.SetArgs([]string{"dump", "--project", "9", "--json-min"})
	err := cmd.ExecuteContext(context.Background())
	if err == nil || !strings.Contains(err.Error(), "project_9_min not found") {
		t.Fatalf("expected missing collection error, got %v", err)
	}
}

// newServiceServer serves one project with two tasks, one annotated, plus the
// static files their images point at.
func newServiceServer(t *testing.T) *httptest.Server {
	t.Helper()
	var srv *httptest.Server
	mux := http.NewServeMux()
	mux.HandleFunc("/api/projects/1/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"task_number": 2, "num_tasks_with_annotations": 1}`)
	})
	mux.HandleFunc("/api/projects/1/export", func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("exportType"); got != "JSON" {
			t.Errorf("unexpected export type %q", got)
		}
		fmt.Fprintf(w, `[
			{"id": 1, "annotations": [{"id": 10}], "data": {"image": "%[1]s/data/local-files/?d=imgs/1.jpg"}},
			{"id": 2, "annotations": [], "data": {"image": "%[1]s/data/local-files/?d=imgs/2.jpg"}}
		]`, srv.URL)
	})
	mux.HandleFunc("/files/imgs/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "jpeg:%s", r.URL.Path)
	})
	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func serviceConfig(t *testing.T, srv *httptest.Server) *config.Config {
	t.Helper()
	cfg := testConfig(t)
	cfg.Source.Host = srv.URL
	cfg.Files.Host = srv.URL + "/files"
	cfg.Projects = []string{"1"}
	return cfg
}

func TestSyncAndImagesOnce(t *testing.T) {
	srv := newServiceServer(t)
	cfg := serviceConfig(t, srv)

	cmd := newRootCmd(cfg)
	cmd.SetArgs([]string{"sync", "--once"})
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("sync --once: %v", err)
	}

	cmd = newRootCmd(cfg)
	cmd.SetArgs([]string{"images", "--once"})
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("images --once: %v", err)
	}

	st, err := store.Open(cfg.DBPath())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer st.Close()

	ctx := context.Background()
	counts, err := st.Counts(ctx, "project_1")
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if counts != (models.Counts{Tasks: 2, Annotated: 1}) {
		t.Fatalf("unexpected counts %v", counts)
	}
	images, err := st.CountImages(ctx)
	if err != nil {
		t.Fatalf("count images: %v", err)
	}
	if images != 2 {
		t.Fatalf("expected 2 images, got %d", images)
	}
	blob, err := st.GetImage(ctx, "1")
	if err != nil {
		t.Fatalf("get image: %v", err)
	}
	if blob == nil || blob.FileName != "imgs/1.jpg" || string(blob.Image) != "jpeg:/files/imgs/1.jpg" {
		t.Fatalf("unexpected blob %#v", blob)
	}
}

func TestLoopCommandsReportInterrupt(t *testing.T) {
	srv := newServiceServer(t)
	cfg := serviceConfig(t, srv)

	for _, name := range []string{"sync", "images"} {
		t.Run(name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			cancel()

			cmd := newRootCmd(cfg)
			cmd.SetArgs([]string{name})
			err := cmd.ExecuteContext(ctx)
			if !errors.Is(err, scheduler.ErrInterrupted) {
				t.Fatalf("expected ErrInterrupted, got %v", err)
			}
		})
	}
}

func TestWriteDumpToFile(t *testing.T) {
	docs := []json.RawMessage{json.RawMessage(`{"_id": 1}`)}

	out := filepath.Join(t.TempDir(), "dump.json")
	if err := writeDump(out, format.JSONFormatter{}, docs); err != nil {
		t.Fatalf("write dump: %v", err)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read dump: %v", err)
	}
	if strings.TrimSpace(string(data)) != `[{"_id":1}]` {
		t.Fatalf("unexpected dump:\n%s", data)
	}

	missing := filepath.Join(t.TempDir(), "missing", "dump.json")
	if err := writeDump(missing, format.JSONFormatter{}, docs); err == nil {
		t.Fatal("expected error for missing directory")
	}
}
