package cmd

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/xbps-builder/internal/config"
	"github.com/oshokin/xbps-builder/internal/service/packager"
)

var (
	// packageOptions collects the flags of the package command.
	packageOptions packager.Options

	// packageCmd packs an existing tree.
	packageCmd = &cobra.Command{
		Use:   "package",
		Short: "Pack an installed tree without building it.",
		Long: `Packs an already installed package root into an archive.

Name, version, epoch, dependencies and metadata come from the build specification;
sources and the install script are ignored. The package root defaults to <work-dir>/pkg.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			packageOptions.ConfigPath = configPath

			result, err := packager.Run(ctx, &packageOptions)
			if err != nil {
				return err
			}

			_, _ = fmt.Fprintln(cmd.OutOrStdout(), result.Archive)

			return nil
		},
	}
)

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	packageCmd.Flags().StringVarP(&packageOptions.SpecPath, "spec", "s", config.DefaultSpecFilename, "path to build specification")
	packageCmd.Flags().StringVarP(&packageOptions.PackageRoot, "root", "r", "", "installed package root (default <work-dir>/pkg)")
	packageCmd.Flags().StringVarP(&packageOptions.OutputDir, "output-dir", "o", "", "package output directory (overrides configuration)")
	packageCmd.Flags().BoolVar(&packageOptions.NoSign, "no-sign", false, "do not sign the package")

	rootCmd.AddCommand(packageCmd)
}
