package integration

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/xbps-builder/internal/config"
	"github.com/oshokin/xbps-builder/internal/domain/pkgerr"
	"github.com/oshokin/xbps-builder/internal/service/builder"
	"github.com/oshokin/xbps-builder/internal/service/inspector"
	"github.com/oshokin/xbps-builder/internal/service/packager"
	"github.com/oshokin/xbps-builder/internal/service/validator"
)

const fooScript = "#!/bin/sh\necho foo\n"

// project is a temporary directory holding build.yml and xbps-builder.yaml.
type project struct {
	dir        string
	specPath   string
	configPath string
	cfg        *config.Config
}

func newProject(t *testing.T, cfg *config.Config, spec string) *project {
	t.Helper()

	dir := t.TempDir()

	cfg.WorkDir = filepath.Join(dir, "build")
	cfg.OutputDir = filepath.Join(dir, "build", "packages")

	p := &project{
		dir:        dir,
		specPath:   filepath.Join(dir, config.DefaultSpecFilename),
		configPath: filepath.Join(dir, config.DefaultConfigFilename),
		cfg:        cfg,
	}

	require.NoError(t, config.Save(p.configPath, cfg))
	require.NoError(t, os.WriteFile(p.specPath, []byte(spec), 0o644))

	return p
}

func fooSpec(href, sum string, install ...string) string {
	var b strings.Builder

	fmt.Fprintf(&b, `name: foo
version: "1.2"
depends:
  all: [a, b]
  build: [make]
  run: [c]
sources:
  - href: %s
    verification:
      type: sha256
      sum: %s
metadata:
  short_desc: Prints foo
  license: MIT
alternatives:
  foo:
    foo: /usr/bin/foo
scripts:
  install:
`, href, sum)

	for _, line := range install {
		fmt.Fprintf(&b, "    - %q\n", line)
	}

	return b.String()
}

var fooInstall = []string{
	`install -d "$pkgdir/usr/bin" "$pkgdir/usr/share/doc/foo"`,
	`install -m 0755 "$srcdir/foo.sh" "$pkgdir/usr/bin/foo"`,
	`echo "foo $version" > "$pkgdir/usr/share/doc/foo/README"`,
	`ln -s foo "$pkgdir/usr/bin/foo-alias"`,
	`touch "$workdir/ran"`,
}

// TestBuild_EndToEnd builds, signs and publishes a package, then inspects and unpacks it.
func TestBuild_EndToEnd(t *testing.T) {
	t.Parallel()
	requireBash(t)

	var (
		sources = newSourceServer(t, map[string]string{"/dist/foo.sh": fooScript})
		store   = newObjectStore(t)
		keysDir = t.TempDir()
	)

	keyFile, keyring := writeKeys(t, keysDir)

	p := newProject(t, &config.Config{
		Architecture: "x86_64",
		Archiver:     config.ArchiverNative,
		Compression:  "xz",
		HashWorkers:  4,
		Sign:         config.Sign{KeyFile: keyFile},
		Publish: config.Publish{
			Endpoint:        store.URL,
			Bucket:          "repo",
			Prefix:          "current",
			AccessKeyID:     "test",
			SecretAccessKey: "test",
		},
	}, fooSpec(sources.URL+"/dist/foo.sh", sha256Hex(fooScript), fooInstall...))

	err := builder.Run(t.Context(), &builder.Options{ConfigPath: p.configPath, SpecPath: p.specPath})
	require.NoError(t, err)

	archivePath := filepath.Join(p.cfg.OutputDir, "foo-1.2_1.x86_64.xbps")
	require.FileExists(t, archivePath)
	require.FileExists(t, archivePath+".sig")
	require.ElementsMatch(t, []string{
		"repo/current/foo-1.2_1.x86_64.xbps",
		"repo/current/foo-1.2_1.x86_64.xbps.sig",
	}, store.Keys())

	var out bytes.Buffer

	extractDir := filepath.Join(p.dir, "root")

	report, err := inspector.Run(t.Context(), &inspector.Options{
		ArchivePath: archivePath,
		Keyring:     keyring,
		ExtractDir:  extractDir,
		Out:         &out,
	})
	require.NoError(t, err)
	require.NotEmpty(t, report.SignedBy)
	require.Equal(t, "xz", report.Compression)
	require.Contains(t, out.String(), "pkgver: foo-1.2_1")

	props := report.Properties
	require.Equal(t, []string{"a", "b", "c"}, props.RunDepends)
	require.Equal(t, uint64(len(fooScript)+len("foo 1.2\n")), props.InstalledSize)
	require.Equal(t, "Prints foo", *props.ShortDesc)
	require.Equal(t, "MIT", *props.License)
	require.Nil(t, props.Homepage)
	require.Nil(t, props.Maintainer)
	require.Equal(t, map[string][]string{"foo": {"foo:/usr/bin/foo"}}, props.Alternatives)

	files := map[string]string{}
	for _, f := range report.Manifest.Files {
		files[f.File] = f.SHA256
	}

	require.Equal(t, map[string]string{
		"/usr/bin/foo":               sha256Hex(fooScript),
		"/usr/share/doc/foo/README": sha256Hex("foo 1.2\n"),
	}, files)

	installed, err := os.ReadFile(filepath.Join(extractDir, "usr", "bin", "foo"))
	require.NoError(t, err)
	require.Equal(t, fooScript, string(installed))
	require.NoFileExists(t, filepath.Join(extractDir, "usr", "bin", "foo-alias"))

	// A second build reuses the cached source.
	err = builder.Run(t.Context(), &builder.Options{
		ConfigPath: p.configPath,
		SpecPath:   p.specPath,
		NoPublish:  true,
	})
	require.NoError(t, err)
	require.Equal(t, 1, sources.Hits("/dist/foo.sh"))
}

// TestBuild_VerificationMismatch verifies a tampered source stops the build before the script.
func TestBuild_VerificationMismatch(t *testing.T) {
	t.Parallel()
	requireBash(t)

	sources := newSourceServer(t, map[string]string{"/dist/foo.sh": "#!/bin/sh\necho evil\n"})

	p := newProject(t, &config.Config{Archiver: config.ArchiverNative},
		fooSpec(sources.URL+"/dist/foo.sh", sha256Hex(fooScript), fooInstall...))

	err := builder.Run(t.Context(), &builder.Options{ConfigPath: p.configPath, SpecPath: p.specPath})
	require.ErrorIs(t, err, pkgerr.ErrVerificationMismatch)
	require.NoFileExists(t, filepath.Join(p.cfg.ScratchDir(), "ran"))

	entries, err := os.ReadDir(p.cfg.OutputDir)
	require.NoError(t, err)
	require.Empty(t, entries)
}

// TestBuild_ScriptStrictMode verifies unset variables abort the install script and no archive is left.
func TestBuild_ScriptStrictMode(t *testing.T) {
	t.Parallel()
	requireBash(t)

	sources := newSourceServer(t, map[string]string{"/dist/foo.sh": fooScript})

	p := newProject(t, &config.Config{Archiver: config.ArchiverNative},
		fooSpec(sources.URL+"/dist/foo.sh", sha256Hex(fooScript),
			`mkdir -p "$pkgdir/usr"`,
			`echo "$undefined_variable" > "$pkgdir/usr/oops"`,
			`touch "$workdir/ran"`,
		))

	err := builder.Run(t.Context(), &builder.Options{ConfigPath: p.configPath, SpecPath: p.specPath})
	require.ErrorIs(t, err, pkgerr.ErrExternalCommand)
	require.NoFileExists(t, filepath.Join(p.cfg.ScratchDir(), "ran"))

	entries, err := os.ReadDir(p.cfg.OutputDir)
	require.NoError(t, err)
	require.Empty(t, entries)
}

// TestValidateAndRepack validates a project and repacks a build with other settings.
func TestValidateAndRepack(t *testing.T) {
	t.Parallel()
	requireBash(t)

	sources := newSourceServer(t, map[string]string{"/dist/foo.sh": fooScript})

	p := newProject(t, &config.Config{Architecture: "aarch64", Archiver: config.ArchiverNative},
		fooSpec(sources.URL+"/dist/foo.sh", sha256Hex(fooScript), fooInstall...))

	report, err := validator.Run(t.Context(), &validator.Options{ConfigPath: p.configPath, SpecPath: p.specPath})
	require.NoError(t, err)
	require.Equal(t, "foo-1.2_1.aarch64.xbps", report.Archive)
	require.Zero(t, sources.Hits("/dist/foo.sh"))

	require.NoError(t, builder.Run(t.Context(), &builder.Options{ConfigPath: p.configPath, SpecPath: p.specPath}))

	repackDir := t.TempDir()

	result, err := packager.Run(t.Context(), &packager.Options{
		ConfigPath: p.configPath,
		SpecPath:   p.specPath,
		OutputDir:  repackDir,
	})
	require.NoError(t, err)
	require.Equal(t, filepath.Join(repackDir, report.Archive), result.Archive)

	built, err := inspector.Run(t.Context(), &inspector.Options{ArchivePath: filepath.Join(p.cfg.OutputDir, report.Archive)})
	require.NoError(t, err)

	repacked, err := inspector.Run(t.Context(), &inspector.Options{ArchivePath: result.Archive})
	require.NoError(t, err)
	require.Equal(t, built.Manifest, repacked.Manifest)
	require.Equal(t, built.Properties, repacked.Properties)
}
