package main

import (
	"io"

	"github.com/spf13/cobra"

	"image-analyzer/internal/logging"
	"image-analyzer/internal/startup"
)

// app is the state shared by every subcommand.
type app struct {
	cfg    startup.Config
	log    *logging.Logger
	stdout io.Writer
	stderr io.Writer
}

func newRootCommand(stdout, stderr io.Writer) *cobra.Command {
	log := logging.New(stderr, logging.LevelFromEnv())
	a := &app{
		cfg:    startup.FromEnv(log),
		log:    log,
		stdout: stdout,
		stderr: stderr,
	}

	rootCmd := &cobra.Command{
		Use:           "image-analyzer",
		Short:         "Batch image analysis with resumable, deduplicated results",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if a.cfg.LogLevel == "" {
				return nil
			}
			level, err := logging.ParseLevel(a.cfg.LogLevel)
			if err != nil {
				return startupError(err)
			}
			a.log.SetLevel(level)
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&a.cfg.InputDir, "input", "i", a.cfg.InputDir, "Directory scanned for images (IMAGE_DIR)")
	flags.StringVarP(&a.cfg.OutputDir, "output", "o", a.cfg.OutputDir, "Directory receiving analysis documents (OUTPUT_DIR)")
	flags.StringVar(&a.cfg.CatalogPath, "catalog", a.cfg.CatalogPath, "SQLite catalog path (CATALOG_PATH)")
	flags.BoolVar(&a.cfg.CatalogEnabled, "catalog-enabled", a.cfg.CatalogEnabled, "Maintain the SQLite catalog (CATALOG_ENABLED)")
	flags.StringVar(&a.cfg.ProfilePath, "profile", a.cfg.ProfilePath, "Analyzer profile TOML file (ANALYZER_PROFILE)")
	flags.StringVar(&a.cfg.LogLevel, "log-level", a.cfg.LogLevel, "debug, info, warn or error (LOG_LEVEL)")

	rootCmd.AddCommand(newRunCommand(a))
	rootCmd.AddCommand(newSummarizeCommand(a))
	rootCmd.AddCommand(newStatsCommand(a))
	rootCmd.AddCommand(newForgetCommand(a))
	rootCmd.AddCommand(newClearCommand(a))
	rootCmd.AddCommand(newVersionCommand(a))

	return rootCmd
}

// loadConfig resolves the configuration; failures are startup errors.
func (a *app) loadConfig() error {
	if err := startup.Load(&a.cfg); err != nil {
		return startupError(err)
	}
	return nil
}
