package inspector

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/oshokin/xbps-builder/internal/archive"
	"github.com/oshokin/xbps-builder/internal/domain/pkgerr"
	"github.com/oshokin/xbps-builder/internal/domain/pkgmeta"
	"github.com/oshokin/xbps-builder/internal/logger"
	"github.com/oshokin/xbps-builder/internal/service/signer"
)

// Options contains inputs for the inspect entry point.
type Options struct {
	// ArchivePath is the package archive to read.
	ArchivePath string
	// Keyring is an armored public key ring; when set the detached signature is checked.
	Keyring string
	// ExtractDir unpacks the archive there when set.
	ExtractDir string
	// Out receives the YAML report; nil discards it.
	Out io.Writer
}

// Report describes a package archive.
type Report struct {
	Archive     string              `yaml:"archive"`
	Compression string              `yaml:"compression"`
	Format      string              `yaml:"metadata_format"`
	SignedBy    string              `yaml:"signed_by,omitempty"`
	Properties  *pkgmeta.Properties `yaml:"properties"`
	Manifest    *pkgmeta.Manifest   `yaml:"manifest"`
	Entries     []Entry             `yaml:"entries"`
}

// Entry is one payload entry of the report.
type Entry struct {
	Name   string `yaml:"name"`
	Type   string `yaml:"type"`
	Size   int64  `yaml:"size,omitempty"`
	Target string `yaml:"target,omitempty"`
}

// Run reads a package archive, optionally verifies its signature and unpacks it,
// and writes a YAML report.
func Run(ctx context.Context, opts *Options) (*Report, error) {
	ctx = logger.WithName(ctx, "inspector")

	contents, err := archive.Inspect(opts.ArchivePath)
	if err != nil {
		return nil, err
	}

	report := &Report{
		Archive:     filepath.Base(opts.ArchivePath),
		Compression: contents.Compression,
		Format:      contents.Format,
		Properties:  contents.Properties,
		Manifest:    contents.Manifest,
		Entries:     make([]Entry, 0, len(contents.Entries)),
	}

	for _, e := range contents.Entries {
		report.Entries = append(report.Entries, Entry{
			Name:   e.Name,
			Type:   typeName(e.Type),
			Size:   e.Size,
			Target: e.Linkname,
		})
	}

	if opts.Keyring != "" {
		if report.SignedBy, err = verify(opts.Keyring, opts.ArchivePath); err != nil {
			return nil, err
		}

		logger.InfoKV(ctx, "Signature is valid", "fingerprint", report.SignedBy)
	}

	if opts.ExtractDir != "" {
		if err = os.MkdirAll(opts.ExtractDir, 0o755); err != nil {
			return nil, pkgerr.IO("create "+opts.ExtractDir, err)
		}

		if err = archive.Extract(opts.ArchivePath, opts.ExtractDir); err != nil {
			return nil, err
		}

		logger.InfoKV(ctx, "Archive extracted", "dir", opts.ExtractDir)
	}

	if opts.Out != nil {
		encoder := yaml.NewEncoder(opts.Out)
		encoder.SetIndent(2)

		if err = encoder.Encode(report); err != nil {
			return nil, fmt.Errorf("write report: %w", err)
		}

		if err = encoder.Close(); err != nil {
			return nil, fmt.Errorf("write report: %w", err)
		}
	}

	return report, nil
}

func verify(keyringPath, archivePath string) (string, error) {
	keyring, err := os.Open(filepath.Clean(keyringPath))
	if err != nil {
		return "", pkgerr.IO("open "+keyringPath, err)
	}

	defer func() {
		_ = keyring.Close()
	}()

	return signer.VerifyFile(keyring, archivePath, archivePath+signer.SignatureSuffix)
}

func typeName(t byte) string {
	switch t {
	case tar.TypeDir:
		return "dir"
	case tar.TypeReg:
		return "file"
	case tar.TypeSymlink:
		return "symlink"
	case tar.TypeLink:
		return "hardlink"
	default:
		return string(t)
	}
}
