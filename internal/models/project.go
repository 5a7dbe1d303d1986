package models

import (
	"fmt"
	"strings"
)

// ExportFormat selects the remote export flavour.
type ExportFormat string

const (
	ExportJSON    ExportFormat = "JSON"
	ExportJSONMin ExportFormat = "JSON_MIN"
)

// FormatFor maps the --json-min switch to an export format.
func FormatFor(minimal bool) ExportFormat {
	if minimal {
		return ExportJSONMin
	}
	return ExportJSON
}

// Minimal reports whether the format is the reduced JSON_MIN export.
func (f ExportFormat) Minimal() bool {
	return f == ExportJSONMin
}

// ParseExportFormat validates a user supplied format name.
func ParseExportFormat(raw string) (ExportFormat, error) {
	switch ExportFormat(strings.ToUpper(strings.TrimSpace(raw))) {
	case ExportJSON:
		return ExportJSON, nil
	case ExportJSONMin:
		return ExportJSONMin, nil
	default:
		return "", fmt.Errorf("invalid export format %q", raw)
	}
}

// ProjectSummary holds the counters the remote service reports for a project.
type ProjectSummary struct {
	TaskNumber              int `json:"task_number"`
	NumTasksWithAnnotations int `json:"num_tasks_with_annotations"`
}

// Counts returns the summary as comparable counts.
func (s ProjectSummary) Counts() Counts {
	return Counts{Tasks: s.TaskNumber, Annotated: s.NumTasksWithAnnotations}
}

// Counts is the (tasks, annotated tasks) pair compared during reconciliation.
type Counts struct {
	Tasks     int `json:"tasks"`
	Annotated int `json:"annotated"`
}

func (c Counts) String() string {
	return fmt.Sprintf("tasks=%d annotated=%d", c.Tasks, c.Annotated)
}
