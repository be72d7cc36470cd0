// Package cli holds the edge-ingest command tree
package cli

import (
	"errors"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"github.com/eddielth/edge-ingest/config"
	"github.com/eddielth/edge-ingest/logger"
)

type globalFlags struct {
	configPath string
	verbose    bool
}

// NewRootCommand builds the command tree. Without a subcommand it serves.
func NewRootCommand() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:   "edge-ingest",
		Short: "Edge telemetry ingestion service",
		Long: `edge-ingest receives sensor readings over MQTT, stores them, streams them
to WebSocket viewers and runs threshold rules against every reading.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, flags)
		},
	}

	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "config.yaml", "path to the YAML config file (empty for defaults and environment only)")
	root.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(newServeCommand(flags))
	root.AddCommand(newRulesCommand(flags))
	return root
}

// Execute runs the root command
func Execute() error {
	return NewRootCommand().Execute()
}

// loadConfig reads the config and sets up the logger from it. A missing
// config.yaml is only an error when --config was given explicitly.
func loadConfig(cmd *cobra.Command, flags *globalFlags) (*config.Loader, *config.Config, error) {
	path := flags.configPath
	if f := cmd.Flags().Lookup("config"); f != nil && !f.Changed {
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			path = ""
		}
	}

	loader := config.NewLoader(path)
	cfg, err := loader.Load()
	if err != nil {
		return nil, nil, err
	}

	level := cfg.Logger.Level
	if flags.verbose {
		level = "debug"
	}
	if err := logger.InitFromConfig(level, cfg.Logger.FilePath, cfg.Logger.MaxSize, cfg.Logger.MaxBackups, cfg.Logger.Console); err != nil {
		return nil, nil, err
	}
	return loader, cfg, nil
}
