package cmd

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/oshokin/xbps-builder/internal/config"
	"github.com/oshokin/xbps-builder/internal/logger"
	"github.com/oshokin/xbps-builder/internal/version"
)

var (
	// configPath to the configuration YAML file.
	configPath string
	// logLevel overrides the level from the configuration file.
	logLevel string

	// rootCmd represents the base command when called without any subcommands.
	rootCmd = &cobra.Command{
		Use:   "xbps-builder",
		Short: "Build xbps packages from a declarative build specification.",
		Long: `Builds xbps packages from a build.yml specification.

The build command downloads and verifies the sources, runs the install script
with srcdir, pkgdir, workdir and version exported, and packs the installed tree
into name-version_epoch.arch.xbps together with its files and props metadata.
Settings are read from xbps-builder.yaml in the current directory when present.`,
		SilenceErrors:     true,
		SilenceUsage:      true,
		PersistentPreRunE: setupLogger,
	}
)

// Execute runs the xbps-builder CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		logger.Error(context.Background(), err)

		os.Exit(1)
	}
}

// setupLogger applies the level from the flag or, failing that, from the settings file.
func setupLogger(_ *cobra.Command, _ []string) error {
	level := logLevel

	if level == "" {
		// A broken settings file is reported by the command itself.
		if cfg, err := config.Load(configPath); err == nil {
			level = cfg.LogLevel
		}
	}

	if level == "" {
		return nil
	}

	return logger.Setup(level)
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	// Setup command flags with consistent naming and descriptions.
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"path to configuration file (default "+config.DefaultConfigFilename+" when present)")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "", "minimum log level (debug, info, warn, error)")
}
