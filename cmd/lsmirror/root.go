package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"lsmirror/internal/config"
)

func newRootCmd(cfg *config.Config) *cobra.Command {
	var jsonOutput bool
	var logLevel string

	cmd := &cobra.Command{
		Use:           "lsmirror",
		Short:         "Mirror annotation projects and their images into a local snapshot store",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			openLogSink(cfg.Log)
			warning, err := configureLoggerForCLI(logLevel, cfg.Log.Level)
			if err != nil {
				return err
			}
			if warning != "" {
				fmt.Fprintln(os.Stderr, warning)
			}
			return nil
		},
	}

	cmd.Version = version
	cmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output JSON")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")

	cmd.AddCommand(
		newSyncCmd(cfg, &jsonOutput),
		newImagesCmd(cfg, &jsonOutput),
		newStatusCmd(cfg, &jsonOutput),
		newDumpCmd(cfg),
		newConfigCmd(cfg),
		newMigrateCmd(cfg, &jsonOutput),
	)

	return cmd
}
