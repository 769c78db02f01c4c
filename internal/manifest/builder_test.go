package manifest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/oshokin/xbps-builder/internal/digest"
	"github.com/oshokin/xbps-builder/internal/domain/pkgerr"
)

func sum(content string) string {
	h := sha256.Sum256([]byte(content))

	return hex.EncodeToString(h[:])
}

func write(t *testing.T, root, rel, content string) {
	t.Helper()

	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// fooRoot builds a root with bin/foo (10 bytes) and an empty share/doc.
func fooRoot(t *testing.T) string {
	t.Helper()

	root := t.TempDir()
	write(t, root, "bin/foo", "0123456789")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "share", "doc"), 0o755))

	return root
}

// TestBuildFooScenario checks the records of a small package root.
func TestBuildFooScenario(t *testing.T) {
	t.Parallel()

	root := fooRoot(t)
	stamp := time.Unix(1_700_000_000, 0)
	require.NoError(t, os.Chtimes(filepath.Join(root, "bin", "foo"), stamp, stamp))

	size, m, err := Build(t.Context(), root, Options{Sorted: true})
	require.NoError(t, err)
	require.Equal(t, uint64(10), size)

	dirs := make([]string, 0, len(m.Dirs))
	for _, d := range m.Dirs {
		dirs = append(dirs, d.File)
	}

	require.Equal(t, []string{"/bin", "/share", "/share/doc"}, dirs)
	require.Len(t, m.Files, 1)
	require.Equal(t, "/bin/foo", m.Files[0].File)
	require.Equal(t, uint64(1_700_000_000), m.Files[0].Mtime)
	require.Equal(t, sum("0123456789"), m.Files[0].SHA256)
	require.Empty(t, m.Links)
}

// TestBuildPreOrder verifies every directory precedes the records beneath it.
func TestBuildPreOrder(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	write(t, root, "usr/lib/a/one", "1")
	write(t, root, "usr/lib/b/two", "22")
	write(t, root, "usr/share/three", "333")
	write(t, root, "etc/conf", "4444")

	size, m, err := Build(t.Context(), root, Options{Sorted: false})
	require.NoError(t, err)
	require.Equal(t, uint64(10), size)

	seen := map[string]int{}
	for i, d := range m.Dirs {
		seen[d.File] = i
	}

	for i, d := range m.Dirs {
		parent := filepath.Dir(d.File)
		if parent == "/" {
			continue
		}

		require.Contains(t, seen, parent)
		require.Less(t, seen[parent], i)
	}

	for _, f := range m.Files {
		require.Contains(t, seen, filepath.Dir(f.File))
		require.True(t, strings.HasPrefix(f.File, "/"))
		require.NotContains(t, f.File, root)
	}
}

// TestBuildLinkFarm verifies only top-level entries are linked into staging.
func TestBuildLinkFarm(t *testing.T) {
	t.Parallel()

	root := fooRoot(t)
	staging := t.TempDir()

	_, _, err := Build(t.Context(), root, Options{LinkDir: staging, Sorted: true})
	require.NoError(t, err)

	entries, err := os.ReadDir(staging)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	for _, name := range []string{"bin", "share"} {
		target, err := os.Readlink(filepath.Join(staging, name))
		require.NoError(t, err)
		require.Equal(t, filepath.Join(root, name), target)
	}
}

// TestBuildLinkFarmSkipsUnrecorded verifies top-level entries missing from the manifest are not linked.
func TestBuildLinkFarmSkipsUnrecorded(t *testing.T) {
	t.Parallel()

	root := fooRoot(t)
	require.NoError(t, unix.Mkfifo(filepath.Join(root, "pipe"), 0o600))
	require.NoError(t, os.Symlink("bin", filepath.Join(root, "sbin")))
	require.NoError(t, os.Symlink("missing", filepath.Join(root, "dangling")))

	staging := t.TempDir()

	_, m, err := Build(t.Context(), root, Options{LinkDir: staging, Sorted: true})
	require.NoError(t, err)
	require.Empty(t, m.Links)

	names := func() []string {
		entries, err := os.ReadDir(staging)
		require.NoError(t, err)

		result := make([]string, 0, len(entries))
		for _, entry := range entries {
			result = append(result, entry.Name())
		}

		return result
	}

	require.Equal(t, []string{"bin", "share"}, names())

	staging = t.TempDir()

	_, m, err = Build(t.Context(), root, Options{LinkDir: staging, Sorted: true, Symlinks: SymlinksPreserve})
	require.NoError(t, err)
	require.Len(t, m.Links, 2)
	require.Equal(t, []string{"bin", "dangling", "sbin", "share"}, names())
}

// TestBuildCopy verifies content mode copies the whole tree.
func TestBuildCopy(t *testing.T) {
	t.Parallel()

	root := fooRoot(t)
	staging := t.TempDir()

	_, _, err := Build(t.Context(), root, Options{CopyDir: staging, Sorted: true})
	require.NoError(t, err)

	content, err := os.ReadFile(filepath.Join(staging, "bin", "foo"))
	require.NoError(t, err)
	require.Equal(t, "0123456789", string(content))

	info, err := os.Lstat(filepath.Join(staging, "share", "doc"))
	require.NoError(t, err)
	require.True(t, info.IsDir())

	_, _, err = Build(t.Context(), root, Options{CopyDir: staging, LinkDir: staging})
	require.Error(t, err)
}

// TestSymlinkPolicies covers skip, reject and preserve.
func TestSymlinkPolicies(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	write(t, root, "bin/real", "abc")
	require.NoError(t, os.Symlink("real", filepath.Join(root, "bin", "alias")))
	require.NoError(t, unix.Mkfifo(filepath.Join(root, "bin", "pipe"), 0o600))

	size, m, err := Build(t.Context(), root, Options{Sorted: true})
	require.NoError(t, err)
	require.Equal(t, uint64(3), size)
	require.Len(t, m.Files, 1)
	require.Empty(t, m.Links)

	_, _, err = Build(t.Context(), root, Options{Sorted: true, Symlinks: SymlinksReject})
	require.ErrorIs(t, err, pkgerr.ErrInvalidFilePath)

	staging := t.TempDir()
	size, m, err = Build(t.Context(), root, Options{Sorted: true, Symlinks: SymlinksPreserve, CopyDir: staging})
	require.NoError(t, err)
	require.Equal(t, uint64(3), size)
	require.Len(t, m.Files, 1)
	require.Len(t, m.Links, 1)
	require.Equal(t, "/bin/alias", m.Links[0].File)
	require.Equal(t, "real", m.Links[0].Target)

	target, err := os.Readlink(filepath.Join(staging, "bin", "alias"))
	require.NoError(t, err)
	require.Equal(t, "real", target)

	_, err = os.Lstat(filepath.Join(staging, "bin", "pipe"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

// TestBuildUnreadableFile injects a hashing failure in both modes.
func TestBuildUnreadableFile(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	for i := range 8 {
		write(t, root, fmt.Sprintf("d%d/f%d", i%3, i), "x")
	}

	failing := digest.HasherFunc(func(path string) (string, error) {
		if strings.HasSuffix(path, "f5") {
			return "", pkgerr.IO("read "+path, os.ErrPermission)
		}

		return digest.File(path)
	})

	for _, workers := range []int{1, 4} {
		_, _, err := Build(t.Context(), root, Options{Hasher: failing, Workers: workers})
		require.ErrorIs(t, err, pkgerr.ErrIO)
		require.ErrorIs(t, err, os.ErrPermission)
	}
}

// TestParallelHashingKeepsOrder compares concurrent and sequential builds.
func TestParallelHashingKeepsOrder(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	for i := range 40 {
		write(t, root, fmt.Sprintf("lib/%d/file-%02d", i%5, i), strings.Repeat("z", i))
	}

	for _, sorted := range []bool{true, false} {
		seqSize, seq, err := Build(t.Context(), root, Options{Sorted: sorted, Workers: 1})
		require.NoError(t, err)

		parSize, par, err := Build(t.Context(), root, Options{Sorted: sorted, Workers: 6})
		require.NoError(t, err)

		require.Equal(t, seqSize, parSize)
		require.Equal(t, seq, par)
	}
}

// TestBuildErrors covers a missing root and cancellation.
func TestBuildErrors(t *testing.T) {
	t.Parallel()

	_, _, err := Build(t.Context(), filepath.Join(t.TempDir(), "absent"), Options{})
	require.ErrorIs(t, err, pkgerr.ErrIO)

	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, nil, 0o644))

	_, _, err = Build(t.Context(), file, Options{})
	require.ErrorIs(t, err, pkgerr.ErrInvalidFilePath)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	_, _, err = Build(ctx, fooRoot(t), Options{})
	require.ErrorIs(t, err, context.Canceled)
}

// TestUnixSeconds verifies timestamps before the epoch are rejected.
func TestUnixSeconds(t *testing.T) {
	t.Parallel()

	seconds, err := unixSeconds(time.Unix(42, 999_999_999))
	require.NoError(t, err)
	require.Equal(t, uint64(42), seconds)

	_, err = unixSeconds(time.Unix(-1, 0))
	require.ErrorIs(t, err, pkgerr.ErrClock)
}
