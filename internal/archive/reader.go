package archive

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/oshokin/xbps-builder/internal/domain/pkgerr"
	"github.com/oshokin/xbps-builder/internal/domain/pkgmeta"
)

var (
	errUnsafePath       = errors.New("archive entry escapes the destination")
	errMissingDocuments = errors.New("archive has no manifest or properties document")
)

// Entry is one payload entry of a package archive.
type Entry struct {
	// Name is the "/"-rooted path of the entry.
	Name string
	// Type is the tar entry type.
	Type byte
	// Size is the content length of regular files.
	Size int64
	// Linkname is the target of symbolic links.
	Linkname string
}

// Contents is what Inspect finds in a package archive.
type Contents struct {
	// Compression is detected from the leading bytes of the file.
	Compression string
	// Format is the metadata format of the documents.
	Format     string
	Manifest   *pkgmeta.Manifest
	Properties *pkgmeta.Properties
	// Entries lists the payload in archive order, metadata documents excluded.
	Entries []Entry
}

// Inspect reads a package archive and decodes its metadata documents.
func Inspect(archivePath string) (*Contents, error) {
	contents := new(Contents)

	err := readArchive(archivePath, func(compression string, hdr *tar.Header, r io.Reader) error {
		contents.Compression = compression

		name, ok := entryName(hdr.Name)
		if !ok {
			return nil
		}

		if document, format, isDoc := metadataDocument(name); isDoc {
			contents.Format = format

			return decodeDocument(contents, document, format, r)
		}

		contents.Entries = append(contents.Entries, Entry{
			Name:     "/" + name,
			Type:     hdr.Typeflag,
			Size:     hdr.Size,
			Linkname: hdr.Linkname,
		})

		return nil
	})
	if err != nil {
		return nil, err
	}

	if contents.Manifest == nil || contents.Properties == nil {
		return nil, pkgerr.Metadata(archivePath, errMissingDocuments)
	}

	return contents, nil
}

// Extract unpacks a package archive into dir, which must exist.
// Entries that would land outside dir are rejected.
func Extract(archivePath, dir string) error {
	root, err := os.OpenRoot(dir)
	if err != nil {
		return pkgerr.IO("open extraction directory", err)
	}

	defer func() {
		_ = root.Close()
	}()

	return readArchive(archivePath, func(_ string, hdr *tar.Header, r io.Reader) error {
		name, ok := entryName(hdr.Name)
		if !ok {
			return nil
		}

		if !filepath.IsLocal(name) {
			return pkgerr.InvalidPath(hdr.Name, errUnsafePath.Error())
		}

		mode := hdr.FileInfo().Mode().Perm()

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := root.MkdirAll(name, mode|0o700); err != nil {
				return pkgerr.IO("create "+name, err)
			}
		case tar.TypeReg:
			if err := root.MkdirAll(path.Dir(name), 0o755); err != nil {
				return pkgerr.IO("create parent of "+name, err)
			}

			f, err := root.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
			if err != nil {
				return pkgerr.IO("create "+name, err)
			}

			if _, err = io.Copy(f, r); err != nil {
				_ = f.Close()

				return pkgerr.IO("write "+name, err)
			}

			if err = f.Close(); err != nil {
				return pkgerr.IO("close "+name, err)
			}

			if err = root.Chtimes(name, hdr.ModTime, hdr.ModTime); err != nil {
				return pkgerr.IO("set times of "+name, err)
			}
		case tar.TypeSymlink:
			if err := root.Symlink(hdr.Linkname, name); err != nil {
				return pkgerr.IO("create link "+name, err)
			}
		case tar.TypeLink:
			// tar stores files reachable through several dereferenced paths as hard links.
			target, ok := entryName(hdr.Linkname)
			if !ok || !filepath.IsLocal(target) {
				return pkgerr.InvalidPath(hdr.Linkname, errUnsafePath.Error())
			}

			if err := root.Link(target, name); err != nil {
				return pkgerr.IO("create hard link "+name, err)
			}
		}

		return nil
	})
}

// readArchive calls fn for every tar header of the archive at archivePath.
func readArchive(archivePath string, fn func(compression string, hdr *tar.Header, r io.Reader) error) error {
	f, err := os.Open(filepath.Clean(archivePath))
	if err != nil {
		return pkgerr.IO("open archive", err)
	}

	defer func() {
		_ = f.Close()
	}()

	dr, compression, err := decompressor(f)
	if err != nil {
		return pkgerr.IO("detect compression of "+archivePath, err)
	}

	defer func() {
		_ = dr.Close()
	}()

	tr := tar.NewReader(dr)

	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}

		if err != nil {
			return pkgerr.IO("read archive "+archivePath, err)
		}

		if err = fn(compression, hdr, tr); err != nil {
			return err
		}
	}
}

// entryName strips the "./" prefix; the archive root itself is reported as not ok.
func entryName(raw string) (string, bool) {
	name := path.Clean(raw)

	return name, name != "." && name != ""
}

// metadataDocument reports whether name is one of the two documents at the archive root.
func metadataDocument(name string) (string, string, bool) {
	if strings.Contains(name, "/") {
		return "", "", false
	}

	for _, format := range pkgmeta.Formats() {
		for _, document := range []string{pkgmeta.ManifestDocument, pkgmeta.PropertiesDocument} {
			if name == document+"."+format {
				return document, format, true
			}
		}
	}

	return "", "", false
}

func decodeDocument(contents *Contents, document, format string, r io.Reader) error {
	codec, err := pkgmeta.CodecFor(format)
	if err != nil {
		return err
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return pkgerr.IO("read "+document, err)
	}

	var target any
	if document == pkgmeta.ManifestDocument {
		contents.Manifest = new(pkgmeta.Manifest)
		target = contents.Manifest
	} else {
		contents.Properties = new(pkgmeta.Properties)
		target = contents.Properties
	}

	if err = codec.Decode(data, target); err != nil {
		return pkgerr.Metadata(fmt.Sprintf("%s.%s", document, format), err)
	}

	return nil
}
