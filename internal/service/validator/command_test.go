package validator

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/xbps-builder/internal/domain/buildspec"
)

const buildYAML = `name: foo
version: "1.2"
epoch: 3
sources:
  - href: https://example.org/dist/foo-1.2.tar.gz
    verification:
      type: sha256
      sum: 0000000000000000000000000000000000000000000000000000000000000000
  - href: https://example.org/dist/foo-1.2.patch
    verification:
      type: blake3
      sum: 0000000000000000000000000000000000000000000000000000000000000000
scripts:
  install:
    - make install
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

// TestRunReportsPackage verifies the report of a valid specification.
func TestRunReportsPackage(t *testing.T) {
	t.Parallel()

	configPath := writeFile(t, "xbps-builder.yaml", "architecture: aarch64\nextension: pkg\n")

	report, err := Run(t.Context(), &Options{
		ConfigPath: configPath,
		SpecPath:   writeFile(t, "build.yml", buildYAML),
	})
	require.NoError(t, err)
	require.Equal(t, &Report{
		PkgVer:  "foo-1.2_3",
		Archive: "foo-1.2_3.aarch64.pkg",
		Sources: []string{"foo-1.2.tar.gz", "foo-1.2.patch"},
	}, report)
}

// TestRunRejects verifies invalid specifications and inconsistent settings are reported.
func TestRunRejects(t *testing.T) {
	t.Parallel()

	spec := writeFile(t, "build.yml", buildYAML)

	_, err := Run(t.Context(), &Options{
		ConfigPath: writeFile(t, "xbps-builder.yaml", "symlinks: preserve\n"),
		SpecPath:   spec,
	})
	require.Error(t, err)

	_, err = Run(t.Context(), &Options{
		ConfigPath: writeFile(t, "xbps-builder.yaml", "compression: lz4\n"),
		SpecPath:   spec,
	})
	require.Error(t, err)

	_, err = Run(t.Context(), &Options{
		ConfigPath: writeFile(t, "xbps-builder.yaml", "archiver: native\n"),
		SpecPath:   writeFile(t, "build.yml", "name: foo\n"),
	})
	require.ErrorIs(t, err, buildspec.ErrInvalid)
}
