package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"lsmirror/internal/config"
	"lsmirror/internal/format"
	"lsmirror/internal/models"
	"lsmirror/internal/store"
)

func newDumpCmd(cfg *config.Config) *cobra.Command {
	var projectID string
	var jsonMin bool
	var formatName string
	var outPath string

	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Write a mirrored project snapshot from the local store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter, err := format.ByName(formatName)
			if err != nil {
				return err
			}
			name, err := store.CollectionName(projectID, models.FormatFor(jsonMin))
			if err != nil {
				return fmt.Errorf("project %q: %w", projectID, err)
			}

			st, err := store.Open(cfg.DBPath())
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer st.Close()

			ctx := cmd.Context()
			exists, err := st.CollectionExists(ctx, name)
			if err != nil {
				return err
			}
			if !exists {
				return fmt.Errorf("collection %s not found; run sync first", name)
			}
			records, err := st.ListRecords(ctx, name)
			if err != nil {
				return err
			}
			docs := make([]json.RawMessage, 0, len(records))
			for _, rec := range records {
				docs = append(docs, rec.Doc)
			}

			if err := writeDump(outPath, formatter, docs); err != nil {
				return err
			}
			componentLogger("dump").Info("dumped collection", "collection", name, "records", len(docs), "output", outPath)
			return nil
		},
	}

	cmd.Flags().StringVar(&projectID, "project", "", "project id to dump")
	cmd.Flags().BoolVar(&jsonMin, "json-min", false, "dump the JSON_MIN collection")
	cmd.Flags().StringVar(&formatName, "format", "json", "output format (json, yaml)")
	cmd.Flags().StringVarP(&outPath, "output", "o", "", "write to file instead of stdout")
	_ = cmd.MarkFlagRequired("project")
	return cmd
}

// writeDump writes docs to path, or to stdout when path is empty. Close errors
// are returned.
func writeDump(path string, formatter format.Formatter, docs []json.RawMessage) error {
	if path == "" {
		if err := formatter.Write(os.Stdout, docs); err != nil {
			return fmt.Errorf("write dump: %w", err)
		}
		return nil
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := formatter.Write(f, docs); err != nil {
		_ = f.Close()
		return fmt.Errorf("write dump: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close dump %s: %w", path, err)
	}
	return nil
}
