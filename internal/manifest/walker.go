package manifest

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/oshokin/xbps-builder/internal/domain/pkgerr"
	"github.com/oshokin/xbps-builder/internal/domain/pkgmeta"
)

// pendingDigest is a file record whose digest is computed after the walk.
type pendingDigest struct {
	// index points into Manifest.Files.
	index int
	// path is the absolute path of the file to hash.
	path string
}

// walker carries the state of one manifest build through the recursion.
type walker struct {
	// ctx is checked once per directory.
	ctx context.Context
	// root is the package root; it is stripped from every recorded path.
	root string
	// opts are the normalized build options.
	opts Options
	// manifest is the single accumulator all records are appended to.
	manifest *pkgmeta.Manifest
	// pending collects files to hash when digests are deferred to the worker pool.
	pending []pendingDigest
}

// walk records every entry below current and returns the accumulated size of regular files.
// linkDir and copyDir mirror the entries of current into the staging area; linkDir only
// applies to the top level.
func (w *walker) walk(current, linkDir, copyDir string) (uint64, error) {
	if err := w.ctx.Err(); err != nil {
		return 0, err
	}

	entries, err := w.readDir(current)
	if err != nil {
		return 0, err
	}

	var size uint64

	for _, entry := range entries {
		name := entry.Name()
		if name == "" {
			return 0, pkgerr.InvalidPath(current, "directory entry has no name")
		}

		path := filepath.Join(current, name)

		info, err := entry.Info()
		if err != nil {
			return 0, pkgerr.IO("stat "+path, err)
		}

		var copyTarget string
		if copyDir != "" {
			copyTarget = filepath.Join(copyDir, name)
		}

		// Only recorded entries are mirrored into the staging area.
		recorded := true

		switch mode := info.Mode(); {
		case mode.IsDir():
			n, err := w.directory(path, copyTarget, info)
			if err != nil {
				return 0, err
			}

			size += n
		case mode.IsRegular():
			if err = w.regular(path, copyTarget, info); err != nil {
				return 0, err
			}

			size += uint64(info.Size()) //nolint:gosec // Regular file sizes are never negative.
		case mode&fs.ModeSymlink != 0:
			if err = w.symlink(path, copyTarget); err != nil {
				return 0, err
			}

			recorded = w.opts.Symlinks == SymlinksPreserve
		default:
			if w.opts.Symlinks == SymlinksReject {
				return 0, pkgerr.InvalidPath(path, "unsupported file type "+mode.Type().String())
			}

			recorded = false
		}

		if recorded && linkDir != "" {
			if err = os.Symlink(path, filepath.Join(linkDir, name)); err != nil {
				return 0, pkgerr.IO("link "+name+" into staging", err)
			}
		}
	}

	return size, nil
}

// readDir lists a directory in raw order, sorting by name when requested.
func (w *walker) readDir(dir string) ([]fs.DirEntry, error) {
	f, err := os.Open(dir)
	if err != nil {
		return nil, pkgerr.IO("open directory "+dir, err)
	}

	defer func() {
		_ = f.Close()
	}()

	entries, err := f.ReadDir(-1)
	if err != nil {
		return nil, pkgerr.IO("read directory "+dir, err)
	}

	if w.opts.Sorted {
		sort.Slice(entries, func(i, j int) bool {
			return entries[i].Name() < entries[j].Name()
		})
	}

	return entries, nil
}

func (w *walker) directory(path, copyTarget string, info fs.FileInfo) (uint64, error) {
	rel, err := w.relative(path)
	if err != nil {
		return 0, err
	}

	w.manifest.Dirs = append(w.manifest.Dirs, pkgmeta.DirEntry{File: rel})

	if copyTarget != "" {
		if err = os.Mkdir(copyTarget, 0o700); err != nil {
			return 0, pkgerr.IO("create staging directory "+rel, err)
		}
	}

	size, err := w.walk(path, "", copyTarget)
	if err != nil {
		return 0, err
	}

	if copyTarget != "" {
		// Children are written first, so mode and times are restored last.
		if err = os.Chmod(copyTarget, info.Mode().Perm()); err != nil {
			return 0, pkgerr.IO("set mode of "+rel, err)
		}

		if err = os.Chtimes(copyTarget, info.ModTime(), info.ModTime()); err != nil {
			return 0, pkgerr.IO("set times of "+rel, err)
		}
	}

	return size, nil
}

func (w *walker) regular(path, copyTarget string, info fs.FileInfo) error {
	rel, err := w.relative(path)
	if err != nil {
		return err
	}

	mtime, err := unixSeconds(info.ModTime())
	if err != nil {
		return fmt.Errorf("%s: %w", rel, err)
	}

	record := pkgmeta.FileEntry{File: rel, Mtime: mtime}

	if w.opts.Workers > 1 {
		w.pending = append(w.pending, pendingDigest{index: len(w.manifest.Files), path: path})
	} else {
		if record.SHA256, err = w.opts.Hasher.File(path); err != nil {
			return err
		}
	}

	w.manifest.Files = append(w.manifest.Files, record)

	if copyTarget != "" {
		return copyFile(path, copyTarget, info)
	}

	return nil
}

func (w *walker) symlink(path, copyTarget string) error {
	switch w.opts.Symlinks {
	case SymlinksReject:
		return pkgerr.InvalidPath(path, "symbolic link")
	case SymlinksPreserve:
	default:
		return nil
	}

	rel, err := w.relative(path)
	if err != nil {
		return err
	}

	target, err := os.Readlink(path)
	if err != nil {
		return pkgerr.IO("read link "+rel, err)
	}

	w.manifest.Links = append(w.manifest.Links, pkgmeta.LinkEntry{File: rel, Target: target})

	if copyTarget != "" {
		if err = os.Symlink(target, copyTarget); err != nil {
			return pkgerr.IO("copy link "+rel, err)
		}
	}

	return nil
}

// relative turns an absolute path below the root into a "/"-rooted manifest path.
func (w *walker) relative(path string) (string, error) {
	rel, err := filepath.Rel(w.root, path)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", pkgerr.InvalidPath(path, "not under "+w.root)
	}

	return "/" + filepath.ToSlash(rel), nil
}

// unixSeconds converts a modification time to whole seconds since the Unix epoch.
func unixSeconds(t time.Time) (uint64, error) {
	seconds := t.Unix()
	if seconds < 0 {
		return 0, fmt.Errorf("%w: %s is before the Unix epoch", pkgerr.ErrClock, t.UTC().Format(time.RFC3339))
	}

	return uint64(seconds), nil
}

// copyFile copies a regular file into the staging area keeping its mode and times.
func copyFile(src, dst string, info fs.FileInfo) error {
	in, err := os.Open(src)
	if err != nil {
		return pkgerr.IO("open "+src, err)
	}

	defer func() {
		_ = in.Close()
	}()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, info.Mode().Perm())
	if err != nil {
		return pkgerr.IO("create "+dst, err)
	}

	if _, err = io.Copy(out, in); err != nil {
		_ = out.Close()

		return pkgerr.IO("copy "+src, err)
	}

	if err = out.Close(); err != nil {
		return pkgerr.IO("close "+dst, err)
	}

	if err = os.Chtimes(dst, info.ModTime(), info.ModTime()); err != nil {
		return pkgerr.IO("set times of "+dst, err)
	}

	return nil
}
