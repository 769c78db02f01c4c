package builder

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/oshokin/xbps-builder/internal/archive"
	"github.com/oshokin/xbps-builder/internal/config"
	"github.com/oshokin/xbps-builder/internal/digest"
	"github.com/oshokin/xbps-builder/internal/domain/buildspec"
	"github.com/oshokin/xbps-builder/internal/domain/pkgerr"
	"github.com/oshokin/xbps-builder/internal/logger"
	"github.com/oshokin/xbps-builder/internal/repository/lock"
	"github.com/oshokin/xbps-builder/internal/service/script"
)

// Environment variables exported to the install script.
const (
	EnvSourceDir  = "srcdir"
	EnvPackageDir = "pkgdir"
	EnvWorkDir    = "workdir"
	EnvVersion    = "version"
)

// dirMode is the permission of the work subdirectories.
const dirMode = 0o755

// SourceFetcher downloads a source to a local path.
type SourceFetcher interface {
	// Fetch stores href at dest and reports whether a download took place.
	Fetch(ctx context.Context, href, dest string) (bool, error)
}

// FileSigner produces a detached signature next to a file.
type FileSigner interface {
	SignFile(ctx context.Context, path string) (string, error)
}

// Uploader copies files to the package repository.
type Uploader interface {
	Publish(ctx context.Context, files ...string) ([]string, error)
}

// Builder runs the build pipeline of one package.
type Builder struct {
	// cfg holds validated settings.
	cfg *config.Config
	// fetcher downloads sources into the source cache.
	fetcher SourceFetcher
	// runner executes the install script.
	runner script.Runner
	// packer assembles the package root into an archive.
	packer *archive.Packer
	// signer is nil when signing is disabled.
	signer FileSigner
	// uploader is nil when publishing is disabled.
	uploader Uploader
}

// Result describes the artifacts of a successful build.
type Result struct {
	// RunID correlates the log entries of one build.
	RunID string
	// Archive is the path of the package archive.
	Archive string
	// Signature is the detached signature path, empty when signing is disabled.
	Signature string
	// Published lists the repository object keys, empty when publishing is disabled.
	Published []string
}

var (
	// errNoFetcher is returned when a Builder is assembled without a fetcher.
	errNoFetcher = errors.New("source fetcher is not set")
	// errNoRunner is returned when a Builder is assembled without a script runner.
	errNoRunner = errors.New("script runner is not set")
)

// Option configures optional Builder steps.
type Option func(*Builder)

// WithSigner signs every archive after it is packed.
func WithSigner(signer FileSigner) Option {
	return func(b *Builder) {
		b.signer = signer
	}
}

// WithUploader publishes the archive and its signature after packing.
func WithUploader(uploader Uploader) Option {
	return func(b *Builder) {
		b.uploader = uploader
	}
}

// New assembles a Builder from validated settings.
func New(cfg *config.Config, fetcher SourceFetcher, runner script.Runner, opts ...Option) (*Builder, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	switch {
	case fetcher == nil:
		return nil, errNoFetcher
	case runner == nil:
		return nil, errNoRunner
	}

	packer, err := archive.New(archive.OptionsFromConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("configure packer: %w", err)
	}

	b := &Builder{
		cfg:     cfg,
		fetcher: fetcher,
		runner:  runner,
		packer:  packer,
	}

	for _, opt := range opts {
		opt(b)
	}

	return b, nil
}

// Build downloads and verifies the sources, runs the install script and packs the result.
// The work directory is locked for the duration of the build.
func (b *Builder) Build(ctx context.Context, spec *buildspec.BuildSpec) (*Result, error) {
	runID := uuid.NewString()
	ctx = logger.WithKV(logger.WithName(ctx, "builder"), "run_id", runID, "package", spec.Name)

	dirs, err := b.prepare()
	if err != nil {
		return nil, err
	}

	workLock, err := lock.Acquire(dirs.root)
	if err != nil {
		return nil, err
	}

	defer func() {
		if err := workLock.Release(); err != nil {
			logger.WarnKV(ctx, "Failed to release work directory lock", "error", err)
		}
	}()

	if err = dirs.reset(); err != nil {
		return nil, err
	}

	logger.InfoKV(ctx, "Build started", "version", spec.Version, "epoch", spec.Epoch, "sources", len(spec.Sources))

	if err = b.fetchSources(ctx, spec, dirs.sources); err != nil {
		return nil, err
	}

	env := map[string]string{
		EnvSourceDir:  dirs.sources,
		EnvPackageDir: dirs.pkg,
		EnvWorkDir:    dirs.work,
		EnvVersion:    spec.Version,
	}

	logger.InfoKV(ctx, "Running install script", "statements", len(spec.Scripts.Install))

	if _, err = b.runner.Run(ctx, env, spec.Scripts.Install, dirs.work); err != nil {
		return nil, fmt.Errorf("install script: %w", err)
	}

	result := &Result{RunID: runID}

	result.Archive, err = b.packer.Pack(ctx, spec, dirs.pkg, dirs.output)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", spec.Name, err)
	}

	uploads := []string{result.Archive}

	if b.signer != nil {
		result.Signature, err = b.signer.SignFile(ctx, result.Archive)
		if err != nil {
			return nil, err
		}

		uploads = append(uploads, result.Signature)
	}

	if b.uploader != nil {
		result.Published, err = b.uploader.Publish(ctx, uploads...)
		if err != nil {
			return nil, fmt.Errorf("publish %s: %w", spec.Name, err)
		}
	}

	logger.InfoKV(ctx, "Build finished", "archive", result.Archive)

	return result, nil
}

// fetchSources downloads every source in order and checks its declared digest.
// A mismatching file is removed from the cache so the next build downloads it again.
func (b *Builder) fetchSources(ctx context.Context, spec *buildspec.BuildSpec, dir string) error {
	for _, source := range spec.Sources {
		dest := filepath.Join(dir, source.Filename())

		if _, err := b.fetcher.Fetch(ctx, source.Href, dest); err != nil {
			return fmt.Errorf("fetch source: %w", err)
		}

		algorithm := source.Verification.Algorithm()

		ok, err := digest.Verify(algorithm, source.Verification.Sum, dest)
		if err != nil {
			return fmt.Errorf("verify %s: %w", source.Filename(), err)
		}

		if !ok {
			if err = os.Remove(dest); err != nil {
				logger.WarnKV(ctx, "Failed to drop mismatching source", "path", dest, "error", err)
			}

			return fmt.Errorf("%w: %s does not match its %s sum %s",
				pkgerr.ErrVerificationMismatch, source.Filename(), algorithm, source.Verification.Sum)
		}

		logger.DebugKV(ctx, "Source verified", "path", dest, "algorithm", algorithm)
	}

	return nil
}

// workDirs holds absolute paths of the build directories.
type workDirs struct {
	root    string
	sources string
	pkg     string
	work    string
	output  string
}

func (b *Builder) prepare() (*workDirs, error) {
	abs := func(path string) (string, error) {
		absolute, err := filepath.Abs(path)
		if err != nil {
			return "", pkgerr.IO("resolve "+path, err)
		}

		return absolute, nil
	}

	var (
		dirs workDirs
		err  error
	)

	for _, item := range []struct {
		target *string
		path   string
	}{
		{&dirs.root, b.cfg.WorkDir},
		{&dirs.sources, b.cfg.SourcesDir()},
		{&dirs.pkg, b.cfg.PackageDir()},
		{&dirs.work, b.cfg.ScratchDir()},
		{&dirs.output, b.cfg.OutputDir},
	} {
		if *item.target, err = abs(item.path); err != nil {
			return nil, err
		}
	}

	return &dirs, nil
}

// reset creates the build directories, emptying the package root and the script
// working directory left by a previous build. Downloaded sources are kept.
func (d *workDirs) reset() error {
	for _, dir := range []string{d.pkg, d.work} {
		if err := os.RemoveAll(dir); err != nil {
			return pkgerr.IO("clean "+dir, err)
		}
	}

	for _, dir := range []string{d.sources, d.pkg, d.work, d.output} {
		if err := os.MkdirAll(dir, dirMode); err != nil {
			return pkgerr.IO("create "+dir, err)
		}
	}

	return nil
}
