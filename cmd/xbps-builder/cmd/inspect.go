package cmd

import (
	"github.com/spf13/cobra"

	"github.com/oshokin/xbps-builder/internal/service/inspector"
)

var (
	// keyringPath is the armored public key ring used to check signatures.
	keyringPath string
	// extractDir is where the archive gets unpacked.
	extractDir string

	// inspectCmd prints what a package archive holds.
	inspectCmd = &cobra.Command{
		Use:   "inspect <archive>",
		Short: "Show the metadata and contents of a package archive.",
		Long: `Reads a package archive and prints its properties, manifest and entries as YAML.

With --keyring the detached <archive>.sig signature is verified first.
With --extract the payload is unpacked into the given directory.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := inspector.Run(cmd.Context(), &inspector.Options{
				ArchivePath: args[0],
				Keyring:     keyringPath,
				ExtractDir:  extractDir,
				Out:         cmd.OutOrStdout(),
			})

			return err
		},
	}
)

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	inspectCmd.Flags().StringVarP(&keyringPath, "keyring", "k", "", "armored public key ring to verify the signature with")
	inspectCmd.Flags().StringVarP(&extractDir, "extract", "x", "", "unpack the archive into this directory")

	rootCmd.AddCommand(inspectCmd)
}
