package cmd

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/xbps-builder/internal/config"
	"github.com/oshokin/xbps-builder/internal/service/builder"
)

var (
	// buildOptions collects the flags of the build command.
	buildOptions builder.Options

	// buildCmd runs the whole pipeline.
	buildCmd = &cobra.Command{
		Use:   "build",
		Short: "Fetch, verify, install and pack a package.",
		Long: `Runs a full build of the package described by the build specification.

Sources are downloaded into <work-dir>/sources unless already cached and checked
against their declared digests. A mismatch stops the build before the install
script runs. The script runs in <work-dir>/work under bash strict mode, installs
into <work-dir>/pkg, and the result is packed into the output directory. When
configured, the archive is then signed and uploaded to the package repository.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			buildOptions.ConfigPath = configPath

			return builder.Run(ctx, &buildOptions)
		},
	}
)

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	buildCmd.Flags().StringVarP(&buildOptions.SpecPath, "spec", "s", config.DefaultSpecFilename, "path to build specification")
	buildCmd.Flags().StringVarP(&buildOptions.WorkDir, "work-dir", "w", "", "work directory (overrides configuration)")
	buildCmd.Flags().StringVarP(&buildOptions.OutputDir, "output-dir", "o", "", "package output directory (overrides configuration)")
	buildCmd.Flags().BoolVar(&buildOptions.NoSign, "no-sign", false, "do not sign the package")
	buildCmd.Flags().BoolVar(&buildOptions.NoPublish, "no-publish", false, "do not upload the package")

	rootCmd.AddCommand(buildCmd)
}
