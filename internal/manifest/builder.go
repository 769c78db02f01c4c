package manifest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/oshokin/xbps-builder/internal/digest"
	"github.com/oshokin/xbps-builder/internal/domain/pkgerr"
	"github.com/oshokin/xbps-builder/internal/domain/pkgmeta"
	"github.com/oshokin/xbps-builder/internal/logger"
)

// SymlinkPolicy decides what happens to symbolic links and other non-regular entries.
type SymlinkPolicy string

const (
	// SymlinksSkip leaves such entries out of the manifest and the installed size.
	SymlinksSkip SymlinkPolicy = "skip"
	// SymlinksReject fails the build on the first such entry.
	SymlinksReject SymlinkPolicy = "reject"
	// SymlinksPreserve records symbolic links in the links section; other types are skipped.
	SymlinksPreserve SymlinkPolicy = "preserve"
)

var errConflictingStaging = errors.New("link and copy staging are mutually exclusive")

// Options controls a manifest build.
type Options struct {
	// LinkDir, if set, receives a symbolic link for every top-level entry of the root.
	LinkDir string
	// CopyDir, if set, receives a full copy of every directory and regular file.
	CopyDir string
	// Sorted orders the entries of each directory by name instead of raw directory order.
	Sorted bool
	// Symlinks is the policy for symbolic links and other non-regular entries.
	Symlinks SymlinkPolicy
	// Workers above one hash files concurrently after the walk.
	Workers int
	// Hasher computes file digests, digest.Default when nil.
	Hasher digest.Hasher
}

// Policies lists the accepted symlink policies.
func Policies() []string {
	return []string{string(SymlinksSkip), string(SymlinksReject), string(SymlinksPreserve)}
}

// Build walks root once and returns the total size of its regular files and the manifest.
func Build(ctx context.Context, root string, opts Options) (uint64, *pkgmeta.Manifest, error) {
	if opts.LinkDir != "" && opts.CopyDir != "" {
		return 0, nil, errConflictingStaging
	}

	if opts.Hasher == nil {
		opts.Hasher = digest.Default
	}

	if opts.Symlinks == "" {
		opts.Symlinks = SymlinksSkip
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return 0, nil, pkgerr.IO("resolve package root", err)
	}

	info, err := os.Stat(absRoot)
	if err != nil {
		return 0, nil, pkgerr.IO("stat package root", err)
	}

	if !info.IsDir() {
		return 0, nil, pkgerr.InvalidPath(absRoot, "package root is not a directory")
	}

	w := &walker{
		ctx:      ctx,
		root:     absRoot,
		opts:     opts,
		manifest: pkgmeta.NewManifest(),
	}

	size, err := w.walk(absRoot, opts.LinkDir, opts.CopyDir)
	if err != nil {
		return 0, nil, err
	}

	if err = w.hashPending(ctx); err != nil {
		return 0, nil, err
	}

	logger.DebugKV(ctx, "Manifest built",
		"root", absRoot,
		"dirs", len(w.manifest.Dirs),
		"files", len(w.manifest.Files),
		"links", len(w.manifest.Links),
		"installed_size", size)

	return size, w.manifest, nil
}

// hashPending fills the deferred digests using a bounded pool.
// Each worker writes only its own record, so the walk order of the manifest is kept.
func (w *walker) hashPending(ctx context.Context) error {
	if len(w.pending) == 0 {
		return nil
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(w.opts.Workers)

	for _, p := range w.pending {
		group.Go(func() error {
			if err := groupCtx.Err(); err != nil {
				return err
			}

			sum, err := w.opts.Hasher.File(p.path)
			if err != nil {
				return err
			}

			w.manifest.Files[p.index].SHA256 = sum

			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return fmt.Errorf("hash package files: %w", err)
	}

	return nil
}
