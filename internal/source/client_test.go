package source

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"lsmirror/internal/models"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, attempts int) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client := NewClient(Options{
		Host:          srv.URL + "/",
		Token:         "tok",
		RetryAttempts: attempts,
		RetryDelay:    time.Millisecond,
	})
	return client, srv
}

func TestGetProjectSummary(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/projects/7/" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Token tok" {
			t.Errorf("unexpected auth header %q", got)
		}
		_, _ = w.Write([]byte(`{"id": 7, "title": "birds", "task_number": 5, "num_tasks_with_annotations": 3}`))
	}, 1)

	summary, err := client.GetProjectSummary(context.Background(), "7")
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if summary.Counts() != (models.Counts{Tasks: 5, Annotated: 3}) {
		t.Fatalf("unexpected summary %#v", summary)
	}
}

func TestGetProjectSummaryErrors(t *testing.T) {
	t.Run("non-2xx", func(t *testing.T) {
		client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"detail": "Not found."}`))
		}, 3)

		_, err := client.GetProjectSummary(context.Background(), "404")
		var apiErr *APIError
		if !errors.As(err, &apiErr) {
			t.Fatalf("expected APIError, got %v", err)
		}
		if apiErr.Status != http.StatusNotFound || apiErr.Message != "Not found." {
			t.Fatalf("unexpected api error %#v", apiErr)
		}
		if IsTransient(err) {
			t.Fatal("404 must not be transient")
		}
	})

	t.Run("malformed json", func(t *testing.T) {
		client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"task_number": "five"`))
		}, 1)

		if _, err := client.GetProjectSummary(context.Background(), "1"); err == nil {
			t.Fatal("expected decode error")
		}
	})
}

func TestExportProjectQuery(t *testing.T) {
	for _, format := range []models.ExportFormat{models.ExportJSON, models.ExportJSONMin} {
		t.Run(string(format), func(t *testing.T) {
			client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/api/projects/3/export" {
					t.Errorf("unexpected path %q", r.URL.Path)
				}
				if got := r.URL.Query().Get("exportType"); got != string(format) {
					t.Errorf("expected exportType %s, got %q", format, got)
				}
				if got := r.URL.Query().Get("download_all_tasks"); got != "true" {
					t.Errorf("expected download_all_tasks=true, got %q", got)
				}
				_, _ = w.Write([]byte(`[{"id": 1, "data": {"image": "a"}}, {"id": 2, "extra": [1, 2]}]`))
			}, 1)

			records, err := client.ExportProject(context.Background(), "3", format)
			if err != nil {
				t.Fatalf("export: %v", err)
			}
			if len(records) != 2 {
				t.Fatalf("expected 2 records, got %d", len(records))
			}
			if string(records[1]) != `{"id": 2, "extra": [1, 2]}` {
				t.Fatalf("expected raw record preserved, got %s", records[1])
			}
		})
	}
}

func TestRetriesTransientErrors(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"task_number": 1, "num_tasks_with_annotations": 0}`))
	}, 3)

	summary, err := client.GetProjectSummary(context.Background(), "1")
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if summary.TaskNumber != 1 {
		t.Fatalf("unexpected summary %#v", summary)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 calls, got %d", calls.Load())
	}
}

func TestRetryGivesUpAfterAttempts(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}, 2)

	_, err := client.GetProjectSummary(context.Background(), "1")
	if !IsTransient(err) {
		t.Fatalf("expected transient error, got %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected 2 calls, got %d", calls.Load())
	}
}

func TestDownload(t *testing.T) {
	var sawAuth atomic.Bool
	client, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "" {
			sawAuth.Store(true)
		}
		switch r.URL.Path {
		case "/img.png":
			_, _ = w.Write([]byte("png-bytes"))
		case "/empty.png":
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}, 1)

	data, err := client.Download(context.Background(), srv.URL+"/img.png")
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	if string(data) != "png-bytes" {
		t.Fatalf("unexpected body %q", data)
	}
	if !sawAuth.Load() {
		t.Fatal("expected auth header for service-host download")
	}

	if _, err := client.Download(context.Background(), srv.URL+"/empty.png"); !errors.Is(err, ErrEmptyBody) {
		t.Fatalf("expected ErrEmptyBody, got %v", err)
	}
	if _, err := client.Download(context.Background(), srv.URL+"/missing.png"); err == nil {
		t.Fatal("expected error for missing image")
	}
}

func TestDownloadSkipsAuthForForeignHost(t *testing.T) {
	files := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "" {
			t.Errorf("token leaked to file host")
		}
		_, _ = w.Write([]byte("x"))
	}))
	t.Cleanup(files.Close)

	client := NewClient(Options{Host: "https://ls.example", Token: "tok"})
	if _, err := client.Download(context.Background(), files.URL+"/a.png"); err != nil {
		t.Fatalf("download: %v", err)
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "canceled", err: context.Canceled, want: false},
		{name: "deadline", err: context.DeadlineExceeded, want: true},
		{name: "rate limited", err: &APIError{Status: 429}, want: true},
		{name: "server error", err: &APIError{Status: 500}, want: true},
		{name: "unauthorized", err: &APIError{Status: 401}, want: false},
		{name: "plain", err: errors.New("boom"), want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.want {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
		})
	}
}
