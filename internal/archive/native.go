package archive

import (
	"archive/tar"
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/oshokin/xbps-builder/internal/domain/pkgerr"
)

// nativeArchiver writes the tar stream in-process.
// Top-level links of a link-farm staging area are followed; any other link
// among the names is stored as a link.
type nativeArchiver struct {
	compression string
	// linkFarm is set when the top level of the staging area links into the package root.
	linkFarm bool
}

func (a *nativeArchiver) archive(ctx context.Context, stagingDir string, names []string, w io.Writer) error {
	cw, err := compressor(a.compression, w)
	if err != nil {
		return err
	}

	tw := tar.NewWriter(cw)

	for _, name := range names {
		if err = ctx.Err(); err == nil {
			err = a.writeEntry(tw, stagingDir, name)
		}

		if err != nil {
			_ = tw.Close()
			_ = cw.Close()

			return err
		}
	}

	if err = tw.Close(); err != nil {
		return pkgerr.IO("finish tar stream", err)
	}

	if err = cw.Close(); err != nil {
		return pkgerr.IO("finish "+a.compression+" stream", err)
	}

	return nil
}

// writeEntry adds one staged entry without descending into directories.
func (a *nativeArchiver) writeEntry(tw *tar.Writer, stagingDir, name string) error {
	source := filepath.Join(stagingDir, filepath.FromSlash(name))

	if a.linkFarm && name != "." && !strings.Contains(strings.TrimPrefix(name, "./"), "/") {
		var err error
		if source, err = followStagingLink(source); err != nil {
			return err
		}
	}

	info, err := os.Lstat(source)
	if err != nil {
		return pkgerr.IO("stat "+source, err)
	}

	switch mode := info.Mode(); {
	case mode.IsDir():
		return writeHeader(tw, info, name, "")
	case mode.IsRegular():
		if err = writeHeader(tw, info, name, ""); err != nil {
			return err
		}

		return copyInto(tw, source)
	case mode&fs.ModeSymlink != 0:
		target, err := os.Readlink(source)
		if err != nil {
			return pkgerr.IO("read link "+source, err)
		}

		return writeHeader(tw, info, name, target)
	default:
		return pkgerr.InvalidPath(source, "unsupported file type "+mode.Type().String())
	}
}

// writeHeader writes a root-owned header for info under name.
func writeHeader(tw *tar.Writer, info fs.FileInfo, name, link string) error {
	hdr, err := tar.FileInfoHeader(info, link)
	if err != nil {
		return pkgerr.IO("build tar header for "+name, err)
	}

	switch {
	case name == ".":
		hdr.Name = "./"
	case info.IsDir():
		hdr.Name = name + "/"
	default:
		hdr.Name = name
	}

	hdr.Uid, hdr.Gid = 0, 0
	hdr.Uname, hdr.Gname = "root", "root"

	if err = tw.WriteHeader(hdr); err != nil {
		return pkgerr.IO("write tar header for "+name, err)
	}

	return nil
}

// followStagingLink resolves one level of a link-farm entry. Metadata documents are regular files and pass through.
func followStagingLink(source string) (string, error) {
	info, err := os.Lstat(source)
	if err != nil {
		return "", pkgerr.IO("stat "+source, err)
	}

	if info.Mode()&fs.ModeSymlink == 0 {
		return source, nil
	}

	target, err := os.Readlink(source)
	if err != nil {
		return "", pkgerr.IO("read staging link "+source, err)
	}

	return target, nil
}

func copyInto(tw *tar.Writer, source string) error {
	f, err := os.Open(source)
	if err != nil {
		return pkgerr.IO("open "+source, err)
	}

	defer func() {
		_ = f.Close()
	}()

	if _, err = io.Copy(tw, f); err != nil {
		return pkgerr.IO("archive "+source, err)
	}

	return nil
}
