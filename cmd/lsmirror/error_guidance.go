package main

import (
	"context"
	"errors"
	"net"
	"net/http"

	"lsmirror/internal/coord"
	"lsmirror/internal/scheduler"
	"lsmirror/internal/source"
	"lsmirror/internal/store"
)

func formatCLIError(err error) []string {
	if err == nil {
		return nil
	}

	lines := []string{err.Error()}

	if errors.Is(err, scheduler.ErrInterrupted) {
		return uniqueLines(lines)
	}
	if errors.Is(err, errNoProjects) {
		lines = append(lines, "hint: set PROJECTS_ID, the projects config key, or pass --projects 1,2.")
	}
	if errors.Is(err, store.ErrInvalidName) {
		lines = append(lines, "hint: project ids may only contain letters, digits, '-' and '_'.")
	}
	if errors.Is(err, coord.ErrBusy) {
		lines = append(lines, "hint: another lsmirror process holds the job lease; it expires after coord.lease_ttl.")
	}

	var apiErr *source.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Status == http.StatusUnauthorized || apiErr.Status == http.StatusForbidden:
			lines = append(lines, "hint: verify TOKEN and source.auth_scheme (Token or Bearer).")
		case apiErr.Status == http.StatusNotFound:
			lines = append(lines, "hint: verify LS_HOST and that the project id exists.")
		case apiErr.Status >= 500:
			lines = append(lines, "hint: the annotation service returned an internal error; the next tick will retry.")
		}
		return uniqueLines(lines)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		lines = append(lines, "hint: request timed out; increase LSMIRROR_HTTP_TIMEOUT for large exports.")
		return uniqueLines(lines)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		lines = append(lines,
			"hint: ensure the annotation service is reachable at LS_HOST.",
			"hint: image downloads also need the file server at SRV_HOST.",
		)
	}

	return uniqueLines(lines)
}

func uniqueLines(lines []string) []string {
	seen := make(map[string]struct{}, len(lines))
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if line == "" {
			continue
		}
		if _, ok := seen[line]; ok {
			continue
		}
		seen[line] = struct{}{}
		out = append(out, line)
	}
	return out
}
