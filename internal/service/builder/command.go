package builder

import (
	"context"
	"fmt"

	"github.com/oshokin/xbps-builder/internal/config"
	"github.com/oshokin/xbps-builder/internal/domain/buildspec"
	"github.com/oshokin/xbps-builder/internal/logger"
	"github.com/oshokin/xbps-builder/internal/service/fetcher"
	"github.com/oshokin/xbps-builder/internal/service/publisher"
	"github.com/oshokin/xbps-builder/internal/service/script"
	"github.com/oshokin/xbps-builder/internal/service/signer"
)

// Options contains inputs for the build entry point.
type Options struct {
	// ConfigPath is the settings file; empty reads xbps-builder.yaml when present.
	ConfigPath string
	// SpecPath is the build specification (defaults to build.yml).
	SpecPath string
	// WorkDir overrides the configured work directory when set.
	WorkDir string
	// OutputDir overrides the configured output directory when set.
	OutputDir string
	// NoSign skips signing even when a key is configured.
	NoSign bool
	// NoPublish skips the repository upload even when a bucket is configured.
	NoPublish bool
}

// Run executes the full build of the package described by the specification.
func Run(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "xbps-builder")

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return err
	}

	if opts.WorkDir != "" {
		cfg.WorkDir = opts.WorkDir
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
		return err
	}

	var extra []Option

	if !opts.NoSign {
		s, err := signer.FromConfig(cfg.Sign)
		if err != nil {
			return err
		}

		if s != nil {
			extra = append(extra, WithSigner(s))
		}
	}

	if !opts.NoPublish {
		p, err := publisher.FromConfig(ctx, cfg.Publish)
		if err != nil {
			return err
		}

		if p != nil {
			extra = append(extra, WithUploader(p))
		}
	}

	sources := fetcher.New(fetcher.Options{
		Retries:   cfg.Fetch.Retries,
		Timeout:   cfg.Fetch.Timeout,
		UserAgent: cfg.Fetch.UserAgent,
	})

	b, err := New(cfg, sources, script.NewBash(), extra...)
	if err != nil {
		return fmt.Errorf("initialize builder: %w", err)
	}

	result, err := b.Build(ctx, spec)
	if err != nil {
		return fmt.Errorf("build %s: %w", spec.Name, err)
	}

	logger.InfoKV(ctx, "Package is ready", "archive", result.Archive, "run_id", result.RunID)

	return nil
}
