package packager

import (
	"context"
	"fmt"
	"os"

	"github.com/oshokin/xbps-builder/internal/archive"
	"github.com/oshokin/xbps-builder/internal/config"
	"github.com/oshokin/xbps-builder/internal/domain/buildspec"
	"github.com/oshokin/xbps-builder/internal/domain/pkgerr"
	"github.com/oshokin/xbps-builder/internal/logger"
	"github.com/oshokin/xbps-builder/internal/service/signer"
)

// outputDirMode is the permission of a created output directory.
const outputDirMode = 0o755

// Options contains inputs for the packager entry point.
type Options struct {
	// ConfigPath is the settings file; empty reads xbps-builder.yaml when present.
	ConfigPath string
	// SpecPath is the build specification supplying name, version and dependencies.
	SpecPath string
	// PackageRoot is the installed tree to pack; empty uses the configured pkg directory.
	PackageRoot string
	// OutputDir overrides the configured output directory when set.
	OutputDir string
	// NoSign skips signing even when a key is configured.
	NoSign bool
}

// Result lists the files written by the packager.
type Result struct {
	// Archive is the package archive path.
	Archive string
	// Signature is the detached signature path, empty when signing is disabled.
	Signature string
}

// packager assembles an already installed tree without fetching or running anything.
// It is unexported; callers should use Run, which encapsulates setup and validation.
type packager struct {
	// cfg holds validated settings.
	cfg *config.Config
	// spec describes the package.
	spec *buildspec.BuildSpec
	// packer writes the archive.
	packer *archive.Packer
	// signer is nil when signing is disabled.
	signer *signer.Signer
}

// Run packs an installed tree into a package archive.
func Run(ctx context.Context, opts *Options) (*Result, error) {
	// Set context with logger name for tracking.
	ctx = logger.WithName(ctx, "packager")

	pkg, err := newPackager(opts)
	if err != nil {
		return nil, fmt.Errorf("initialize packager: %w", err)
	}

	root := opts.PackageRoot
	if root == "" {
		root = pkg.cfg.PackageDir()
	}

	result, err := pkg.Run(ctx, root)
	if err != nil {
		return nil, fmt.Errorf("packager failed: %w", err)
	}

	logger.Info(ctx, "Packager completed successfully")

	return result, nil
}

// newPackager loads the settings and the specification.
func newPackager(opts *Options) (*packager, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}

	if opts.OutputDir != "" {
		cfg.OutputDir = opts.OutputDir
	}

	specPath := opts.SpecPath
	if specPath == "" {
		specPath = config.DefaultSpecFilename
	}

	spec, err := buildspec.Load(specPath)
	if err != nil {
		return nil, err
	}

	packer, err := archive.New(archive.OptionsFromConfig(cfg))
	if err != nil {
		return nil, err
	}

	pkg := &packager{
		cfg:    cfg,
		spec:   spec,
		packer: packer,
	}

	if !opts.NoSign {
		if pkg.signer, err = signer.FromConfig(cfg.Sign); err != nil {
			return nil, err
		}
	}

	return pkg, nil
}

// Run writes the archive of root into the output directory and signs it when configured.
func (p *packager) Run(ctx context.Context, root string) (*Result, error) {
	logger.InfoKV(ctx, "Packing installed tree", "root", root, "package", p.spec.Name)

	if err := os.MkdirAll(p.cfg.OutputDir, outputDirMode); err != nil {
		return nil, pkgerr.IO("create "+p.cfg.OutputDir, err)
	}

	archivePath, err := p.packer.Pack(ctx, p.spec, root, p.cfg.OutputDir)
	if err != nil {
		return nil, err
	}

	result := &Result{Archive: archivePath}

	if p.signer != nil {
		if result.Signature, err = p.signer.SignFile(ctx, archivePath); err != nil {
			return nil, err
		}
	}

	return result, nil
}
