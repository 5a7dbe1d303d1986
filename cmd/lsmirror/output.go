package main

import (
	"fmt"
	"os"
	"time"

	"lsmirror/internal/format"
	"lsmirror/internal/reconcile"
)

var outputFormatter format.Formatter = format.JSONFormatter{}

func writeJSON(payload any) error {
	return outputFormatter.Write(os.Stdout, payload)
}

func writePlain(format string, args ...any) error {
	_, err := fmt.Fprintf(os.Stdout, format, args...)
	return err
}

func writeSyncResults(results []reconcile.Result) error {
	for _, res := range results {
		if err := writePlain("%s\n", formatResultLine(res)); err != nil {
			return err
		}
	}
	return nil
}

func writeStatusReport(report statusReport) error {
	for _, res := range report.Projects {
		if err := writePlain("%s\n", formatResultLine(res)); err != nil {
			return err
		}
	}
	if err := writePlain("images: %d\n", report.Images); err != nil {
		return err
	}
	for name, state := range report.LastRuns {
		line := fmt.Sprintf("last %s: %s at %s", name, state.Outcome, formatTime(state.FinishedAt))
		if state.Error != "" {
			line += " (" + state.Error + ")"
		}
		if err := writePlain("%s\n", line); err != nil {
			return err
		}
	}
	return nil
}

func formatResultLine(res reconcile.Result) string {
	state := "in sync"
	switch {
	case res.Skipped:
		state = "skipped (no remote tasks)"
	case res.Written > 0:
		state = fmt.Sprintf("replaced %d records", res.Written)
	case res.Changed:
		state = "out of sync"
	}
	return fmt.Sprintf("%s [%s] remote %s, local %s: %s", res.Collection, res.Format, res.Remote, res.Local, state)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
