package archive

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/google/renameio"

	"github.com/oshokin/xbps-builder/internal/config"
	"github.com/oshokin/xbps-builder/internal/digest"
	"github.com/oshokin/xbps-builder/internal/domain/buildspec"
	"github.com/oshokin/xbps-builder/internal/domain/pkgerr"
	"github.com/oshokin/xbps-builder/internal/domain/pkgmeta"
	"github.com/oshokin/xbps-builder/internal/logger"
	"github.com/oshokin/xbps-builder/internal/manifest"
)

const (
	// archiveMode is the permission of published archives.
	archiveMode = 0o644
	// stagingMode is the permission of the archive root entry.
	stagingMode = 0o755
)

var (
	errUnknownStaging  = errors.New("unknown staging mode")
	errUnknownArchiver = errors.New("unknown archiver")
	errNotDirectory    = errors.New("not a directory")
	// errPreserveNeedsCopy is returned when tar would dereference the links it is asked to keep.
	errPreserveNeedsCopy = errors.New("preserving symbolic links with the external archiver requires copy staging")
)

// archiver writes the archive of a settled staging directory to w.
type archiver interface {
	// archive writes the named staging entries to w in order.
	// Names are "./"-prefixed paths relative to stagingDir; "." is the root.
	archive(ctx context.Context, stagingDir string, names []string, w io.Writer) error
}

// Options configures a Packer. Zero values select the defaults.
type Options struct {
	// Arch is the package architecture, detected from the running binary when empty.
	Arch string
	// Extension is the archive file extension.
	Extension string
	// Staging is config.StagingLink or config.StagingCopy.
	Staging string
	// Archiver is config.ArchiverExternal or config.ArchiverNative.
	Archiver string
	// TarCommand is run by the external archiver.
	TarCommand string
	// Compression is one of Compressions().
	Compression string
	// MetadataFormat is one of pkgmeta.Formats().
	MetadataFormat string
	// Symlinks is the policy for non-regular entries.
	Symlinks manifest.SymlinkPolicy
	// Sorted orders manifest entries by name.
	Sorted bool
	// HashWorkers above one hash files concurrently.
	HashWorkers int
	// Timeout bounds the archiver; zero means no limit.
	Timeout time.Duration
	// Hasher overrides the manifest file digest.
	Hasher digest.Hasher
}

// OptionsFromConfig maps validated tool settings to packer options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Arch:           cfg.Architecture,
		Extension:      cfg.Extension,
		Staging:        cfg.Staging,
		Archiver:       cfg.Archiver,
		TarCommand:     cfg.TarCommand,
		Compression:    cfg.Compression,
		MetadataFormat: cfg.MetadataFormat,
		Symlinks:       manifest.SymlinkPolicy(cfg.Symlinks),
		Sorted:         cfg.SortedEntries(),
		HashWorkers:    cfg.HashWorkers,
		Timeout:        cfg.ArchiveTimeout,
	}
}

// Packer assembles a package root into a package archive.
type Packer struct {
	// opts are the options with defaults applied.
	opts Options
	// codec encodes the two metadata documents.
	codec pkgmeta.Codec
	// archiver produces the archive stream from the staging directory.
	archiver archiver
}

// New validates the options and returns a Packer.
func New(opts Options) (*Packer, error) {
	setDefault(&opts.Arch, pkgmeta.Arch())
	setDefault(&opts.Extension, pkgmeta.DefaultExtension)
	setDefault(&opts.Staging, config.StagingLink)
	setDefault(&opts.Archiver, config.ArchiverExternal)
	setDefault(&opts.TarCommand, "tar")
	setDefault(&opts.Compression, CompressionXZ)
	setDefault(&opts.MetadataFormat, pkgmeta.FormatPlist)

	if opts.Symlinks == "" {
		opts.Symlinks = manifest.SymlinksSkip
	}

	if !slices.Contains([]string{config.StagingLink, config.StagingCopy}, opts.Staging) {
		return nil, fmt.Errorf("%w: %q", errUnknownStaging, opts.Staging)
	}

	if err := checkCompression(opts.Compression); err != nil {
		return nil, err
	}

	codec, err := pkgmeta.CodecFor(opts.MetadataFormat)
	if err != nil {
		return nil, err
	}

	linkFarm := opts.Staging == config.StagingLink

	var a archiver

	switch opts.Archiver {
	case config.ArchiverExternal:
		if linkFarm && opts.Symlinks == manifest.SymlinksPreserve {
			return nil, errPreserveNeedsCopy
		}

		a = &externalArchiver{
			command:     opts.TarCommand,
			compression: opts.Compression,
			dereference: linkFarm,
		}
	case config.ArchiverNative:
		a = &nativeArchiver{
			compression: opts.Compression,
			linkFarm:    linkFarm,
		}
	default:
		return nil, fmt.Errorf("%w: %q", errUnknownArchiver, opts.Archiver)
	}

	return &Packer{
		opts:     opts,
		codec:    codec,
		archiver: a,
	}, nil
}

// Arch returns the architecture written into packages.
func (p *Packer) Arch() string {
	return p.opts.Arch
}

// Pack assembles pkgRoot into an archive inside destDir and returns the archive path.
// On failure destDir gains no file and the staging directory is removed.
func (p *Packer) Pack(ctx context.Context, spec *buildspec.BuildSpec, pkgRoot, destDir string) (string, error) {
	ctx = logger.WithName(ctx, "packer")

	root, err := canonicalDir(pkgRoot)
	if err != nil {
		return "", err
	}

	dest, err := canonicalDir(destDir)
	if err != nil {
		return "", err
	}

	destPath := filepath.Join(dest, pkgmeta.ArchiveName(spec, p.opts.Arch, p.opts.Extension))

	stagingDir, err := os.MkdirTemp("", "xbps-builder-staging-")
	if err != nil {
		return "", pkgerr.IO("create staging directory", err)
	}

	defer func() {
		if err := os.RemoveAll(stagingDir); err != nil {
			logger.WarnKV(ctx, "Failed to remove staging directory", "path", stagingDir, "error", err)
		}
	}()

	// The staging root becomes the "./" entry, which extracts over "/".
	if err = os.Chmod(stagingDir, stagingMode); err != nil {
		return "", pkgerr.IO("set staging directory mode", err)
	}

	buildOpts := manifest.Options{
		Sorted:   p.opts.Sorted,
		Symlinks: p.opts.Symlinks,
		Workers:  p.opts.HashWorkers,
		Hasher:   p.opts.Hasher,
	}

	if p.opts.Staging == config.StagingCopy {
		buildOpts.CopyDir = stagingDir
	} else {
		buildOpts.LinkDir = stagingDir
	}

	size, files, err := manifest.Build(ctx, root, buildOpts)
	if err != nil {
		return "", err
	}

	props := pkgmeta.Compose(spec, size, p.opts.Arch)

	if err = p.writeDocument(stagingDir, pkgmeta.ManifestDocument, files); err != nil {
		return "", err
	}

	if err = p.writeDocument(stagingDir, pkgmeta.PropertiesDocument, props); err != nil {
		return "", err
	}

	names := archiveNames(files,
		pkgmeta.DocumentName(p.codec, pkgmeta.ManifestDocument),
		pkgmeta.DocumentName(p.codec, pkgmeta.PropertiesDocument))

	if err = p.publish(ctx, stagingDir, names, destPath); err != nil {
		return "", err
	}

	logger.InfoKV(ctx, "Package archive created",
		"path", destPath,
		"pkgver", props.PkgVer,
		"installed_size", props.InstalledSize,
		"files", len(files.Files),
		"dirs", len(files.Dirs))

	return destPath, nil
}

// writeDocument encodes v as a metadata document at the staging root.
// The document must not exist yet, so a package root entry of the same name is never written through.
func (p *Packer) writeDocument(stagingDir, document string, v any) error {
	name := pkgmeta.DocumentName(p.codec, document)

	//nolint:gosec // Staging files are part of the published archive.
	f, err := os.OpenFile(filepath.Join(stagingDir, name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, archiveMode)
	if err != nil {
		return pkgerr.IO("create "+name, err)
	}

	w := bufio.NewWriter(f)

	if err = p.codec.Encode(w, v); err != nil {
		_ = f.Close()

		return pkgerr.Metadata(name, err)
	}

	if err = w.Flush(); err != nil {
		_ = f.Close()

		return pkgerr.IO("write "+name, err)
	}

	if err = f.Close(); err != nil {
		return pkgerr.IO("close "+name, err)
	}

	return nil
}

// publish archives the staging directory into a pending file that replaces destPath only on success.
func (p *Packer) publish(ctx context.Context, stagingDir string, names []string, destPath string) error {
	pending, err := renameio.TempFile("", destPath)
	if err != nil {
		return pkgerr.IO("create pending archive", err)
	}

	// No-op once the file has been renamed into place.
	defer func() {
		_ = pending.Cleanup()
	}()

	if p.opts.Timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, p.opts.Timeout)
		defer cancel()
	}

	if err = p.archiver.archive(ctx, stagingDir, names, pending.File); err != nil {
		return err
	}

	if err = pending.Chmod(archiveMode); err != nil {
		return pkgerr.IO("set archive mode", err)
	}

	if err = pending.CloseAtomicallyReplace(); err != nil {
		return pkgerr.IO("publish archive", err)
	}

	return nil
}

// archiveNames lists what goes into the archive: the root, every entry recorded
// in files and the metadata documents. Nothing else in the staging area is archived.
func archiveNames(files *pkgmeta.Manifest, documents ...string) []string {
	names := make([]string, 0, len(files.Dirs)+len(files.Files)+len(files.Links)+len(documents))

	for _, d := range files.Dirs {
		names = append(names, "."+d.File)
	}

	for _, f := range files.Files {
		names = append(names, "."+f.File)
	}

	for _, l := range files.Links {
		names = append(names, "."+l.File)
	}

	for _, doc := range documents {
		names = append(names, "./"+doc)
	}

	// A parent sorts before its children, so directories precede their contents.
	slices.Sort(names)

	return append([]string{"."}, names...)
}

// canonicalDir resolves dir to an absolute path without symbolic links.
func canonicalDir(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", pkgerr.IO("resolve "+dir, err)
	}

	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", pkgerr.IO("resolve "+dir, err)
	}

	info, err := os.Stat(resolved)
	if err != nil {
		return "", pkgerr.IO("stat "+dir, err)
	}

	if !info.IsDir() {
		return "", pkgerr.IO("open "+dir, fmt.Errorf("%s: %w", resolved, errNotDirectory))
	}

	return resolved, nil
}

func setDefault(field *string, value string) {
	if *field == "" {
		*field = value
	}
}
