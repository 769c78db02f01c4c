package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/oshokin/xbps-builder/internal/config"
	"github.com/oshokin/xbps-builder/internal/service/validator"
)

// validateCmd checks the inputs of a build.
var validateCmd = &cobra.Command{
	Use:   "validate [build.yml]",
	Short: "Validate a build specification and the settings.",
	Long: `Checks the build specification against its schema and the settings for
consistency without downloading or building anything.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		specPath := config.DefaultSpecFilename
		if len(args) > 0 {
			specPath = args[0]
		}

		report, err := validator.Run(cmd.Context(), &validator.Options{
			ConfigPath: configPath,
			SpecPath:   specPath,
		})
		if err != nil {
			return err
		}

		_, _ = fmt.Fprintln(cmd.OutOrStdout(), report.Archive)

		return nil
	},
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	rootCmd.AddCommand(validateCmd)
}
