package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"lsmirror/internal/models"
)

const (
	defaultHTTPTimeout     = 2 * time.Minute
	defaultDownloadTimeout = 30 * time.Second
	defaultRetryDelay      = 2 * time.Second
	defaultAuthScheme      = "Token"
)

// Options configures a Client.
type Options struct {
	Host            string
	Token           string
	AuthScheme      string
	Timeout         time.Duration
	DownloadTimeout time.Duration
	RetryAttempts   int
	RetryDelay      time.Duration
	Logger          *slog.Logger
}

// Client reads projects and exports from the annotation service.
type Client struct {
	baseURL       string
	token         string
	authScheme    string
	http          *http.Client
	download      *http.Client
	retryAttempts int
	retryDelay    time.Duration
	logger        *slog.Logger
}

// NewClient creates a new source client.
func NewClient(opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	downloadTimeout := opts.DownloadTimeout
	if downloadTimeout <= 0 {
		downloadTimeout = defaultDownloadTimeout
	}
	attempts := opts.RetryAttempts
	if attempts <= 0 {
		attempts = 1
	}
	delay := opts.RetryDelay
	if delay <= 0 {
		delay = defaultRetryDelay
	}
	scheme := strings.TrimSpace(opts.AuthScheme)
	if scheme == "" {
		scheme = defaultAuthScheme
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL:       strings.TrimRight(strings.TrimSpace(opts.Host), "/"),
		token:         strings.TrimSpace(opts.Token),
		authScheme:    scheme,
		http:          &http.Client{Timeout: timeout},
		download:      &http.Client{Timeout: downloadTimeout},
		retryAttempts: attempts,
		retryDelay:    delay,
		logger:        logger,
	}
}

// GetProjectSummary returns the task counters of a project.
func (c *Client) GetProjectSummary(ctx context.Context, projectID string) (models.ProjectSummary, error) {
	var resp models.ProjectSummary
	err := c.get(ctx, "/api/projects/"+url.PathEscape(projectID)+"/", nil, &resp)
	return resp, err
}

// ExportProject downloads every task of a project in the given export format.
// Records are returned undecoded so arbitrary annotation payloads survive.
func (c *Client) ExportProject(ctx context.Context, projectID string, format models.ExportFormat) ([]json.RawMessage, error) {
	query := url.Values{}
	query.Set("exportType", string(format))
	query.Set("download_all_tasks", "true")

	var resp []json.RawMessage
	err := c.get(ctx, "/api/projects/"+url.PathEscape(projectID)+"/export", query, &resp)
	return resp, err
}

// Download fetches the bytes behind an image URL. The auth header is only sent
// to the service host itself.
func (c *Client) Download(ctx context.Context, rawURL string) ([]byte, error) {
	var body []byte
	err := c.withRetry(ctx, "download", func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return err
		}
		if c.baseURL != "" && strings.HasPrefix(rawURL, c.baseURL+"/") {
			c.setAuthHeader(req)
		}

		resp, err := c.download.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return decodeError(resp)
		}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if len(data) == 0 {
			return ErrEmptyBody
		}
		body = data
		return nil
	})
	return body, err
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	return c.withRetry(ctx, path, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "application/json")
		c.setAuthHeader(req)

		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return decodeError(resp)
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode %s: %w", path, err)
		}
		return nil
	})
}

func (c *Client) withRetry(ctx context.Context, op string, fn func() error) error {
	delay := c.retryDelay
	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil || attempt >= c.retryAttempts || !IsTransient(err) {
			return err
		}

		c.logger.Warn("transient source error, retrying",
			"op", op,
			"attempt", attempt,
			"delay", delay,
			"error", err,
		)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		delay *= 2
	}
}

func (c *Client) setAuthHeader(req *http.Request) {
	if c.token == "" || req == nil {
		return
	}
	req.Header.Set("Authorization", c.authScheme+" "+c.token)
}
