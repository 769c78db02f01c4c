package archive

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"
	"github.com/ulikunitz/xz"
)

// Supported compressions.
const (
	CompressionXZ   = "xz"
	CompressionZstd = "zstd"
	CompressionGzip = "gzip"
	CompressionNone = "none"
)

var errUnknownCompression = errors.New("unknown compression")

//nolint:gochecknoglobals // Read-only lookup tables.
var (
	// tarFlags are the compression switches of the external tar command.
	tarFlags = map[string][]string{
		CompressionXZ:   {"-J"},
		CompressionZstd: {"--zstd"},
		CompressionGzip: {"-z"},
		CompressionNone: nil,
	}

	xzMagic   = []byte{0xFD, '7', 'z', 'X', 'Z', 0x00}
	zstdMagic = []byte{0x28, 0xB5, 0x2F, 0xFD}
	gzipMagic = []byte{0x1F, 0x8B}
)

// Compressions lists the supported compression names.
func Compressions() []string {
	return []string{CompressionXZ, CompressionZstd, CompressionGzip, CompressionNone}
}

func checkCompression(name string) error {
	if _, ok := tarFlags[name]; !ok {
		return fmt.Errorf("%w: %q", errUnknownCompression, name)
	}

	return nil
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }

// compressor wraps w so that everything written to it is compressed.
// Closing the result flushes the stream but leaves w open.
func compressor(name string, w io.Writer) (io.WriteCloser, error) {
	switch name {
	case CompressionXZ:
		return xz.NewWriter(w)
	case CompressionZstd:
		return zstd.NewWriter(w)
	case CompressionGzip:
		return pgzip.NewWriter(w), nil
	case CompressionNone:
		return nopWriteCloser{w}, nil
	default:
		return nil, fmt.Errorf("%w: %q", errUnknownCompression, name)
	}
}

type zstdReadCloser struct {
	*zstd.Decoder
}

func (z zstdReadCloser) Close() error {
	z.Decoder.Close()

	return nil
}

// decompressor detects the compression of r by its magic bytes.
func decompressor(r io.Reader) (io.ReadCloser, string, error) {
	buffered := bufio.NewReader(r)

	head, err := buffered.Peek(len(xzMagic))
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, "", err
	}

	switch {
	case bytes.HasPrefix(head, xzMagic):
		xr, err := xz.NewReader(buffered)
		if err != nil {
			return nil, "", err
		}

		return io.NopCloser(xr), CompressionXZ, nil
	case bytes.HasPrefix(head, zstdMagic):
		zr, err := zstd.NewReader(buffered)
		if err != nil {
			return nil, "", err
		}

		return zstdReadCloser{zr}, CompressionZstd, nil
	case bytes.HasPrefix(head, gzipMagic):
		gr, err := pgzip.NewReader(buffered)
		if err != nil {
			return nil, "", err
		}

		return gr, CompressionGzip, nil
	default:
		return io.NopCloser(buffered), CompressionNone, nil
	}
}
