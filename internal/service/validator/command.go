package validator

import (
	"context"
	"fmt"

	"github.com/oshokin/xbps-builder/internal/archive"
	"github.com/oshokin/xbps-builder/internal/config"
	"github.com/oshokin/xbps-builder/internal/domain/buildspec"
	"github.com/oshokin/xbps-builder/internal/domain/pkgmeta"
	"github.com/oshokin/xbps-builder/internal/logger"
)

// Options contains inputs for the validate entry point.
type Options struct {
	// ConfigPath is the settings file; empty reads xbps-builder.yaml when present.
	ConfigPath string
	// SpecPath is the build specification to check (defaults to build.yml).
	SpecPath string
}

// Report summarizes a valid specification.
type Report struct {
	// PkgVer is the name-version_epoch identifier.
	PkgVer string
	// Archive is the file name a build would produce.
	Archive string
	// Sources lists the cached file names in download order.
	Sources []string
}

// Run checks the settings and the build specification without building anything.
func Run(ctx context.Context, opts *Options) (*Report, error) {
	ctx = logger.WithName(ctx, "validator")

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("settings validation failed: %w", err)
	}

	// The packer rejects option combinations the settings file accepts one by one.
	packer, err := archive.New(archive.OptionsFromConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("settings validation failed: %w", err)
	}

	specPath := opts.SpecPath
	if specPath == "" {
		specPath = config.DefaultSpecFilename
	}

	spec, err := buildspec.Load(specPath)
	if err != nil {
		return nil, fmt.Errorf("specification validation failed: %w", err)
	}

	report := &Report{
		PkgVer:  pkgmeta.PkgVer(spec),
		Archive: pkgmeta.ArchiveName(spec, packer.Arch(), cfg.Extension),
		Sources: make([]string, 0, len(spec.Sources)),
	}

	for _, source := range spec.Sources {
		report.Sources = append(report.Sources, source.Filename())
	}

	logger.InfoKV(ctx, "Specification is valid",
		"path", specPath,
		"pkgver", report.PkgVer,
		"archive", report.Archive,
		"sources", len(report.Sources),
		"install_statements", len(spec.Scripts.Install))

	for _, source := range spec.Sources {
		logger.DebugKV(ctx, "Source", "href", source.Href, "algorithm", source.Verification.Algorithm())
	}

	return report, nil
}
