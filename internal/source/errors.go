package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
)

const maxErrorBodyBytes = 4 << 10

// ErrEmptyBody is returned when a download succeeds with no content.
var ErrEmptyBody = errors.New("empty response body")

// APIError is a non-2xx response from the remote service.
type APIError struct {
	Status  int
	Message string
	URL     string
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Message != "" {
		return fmt.Sprintf("source error %d: %s", e.Status, e.Message)
	}
	if e.Status > 0 {
		return fmt.Sprintf("source error: %d %s", e.Status, http.StatusText(e.Status))
	}
	return "source error"
}

// IsTransient reports whether err is worth retrying: network failures, timeouts,
// rate limiting and server-side errors. Cancellation is never transient.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status == http.StatusTooManyRequests || apiErr.Status >= 500
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func decodeError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode}
	if resp.Request != nil && resp.Request.URL != nil {
		apiErr.URL = resp.Request.URL.Redacted()
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	var detail struct {
		Detail string `json:"detail"`
		Error  string `json:"error"`
	}
	if err := json.Unmarshal(body, &detail); err == nil {
		switch {
		case detail.Detail != "":
			apiErr.Message = detail.Detail
		case detail.Error != "":
			apiErr.Message = detail.Error
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(resp.Status)
	}
	return apiErr
}
