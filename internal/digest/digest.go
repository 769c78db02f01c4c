package digest

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"lukechampine.com/blake3"

	"github.com/oshokin/xbps-builder/internal/domain/pkgerr"
)

const (
	// SHA256 is the algorithm used for manifest digests.
	SHA256 = "sha256"
	// BLAKE3 is accepted for source verification.
	BLAKE3 = "blake3"

	// chunkSize is the read buffer used while streaming file contents.
	chunkSize = 64 * 1024
)

var errUnknownAlgorithm = errors.New("unknown digest algorithm")

// Hasher computes the hex digest of a file.
type Hasher interface {
	File(path string) (string, error)
}

// HasherFunc adapts a function to the Hasher interface.
type HasherFunc func(path string) (string, error)

// File calls f(path).
func (f HasherFunc) File(path string) (string, error) {
	return f(path)
}

// algorithms maps algorithm identifiers to hash constructors.
//
//nolint:gochecknoglobals // Read-only registry of supported algorithms.
var algorithms = map[string]func() hash.Hash{
	SHA256: sha256.New,
	BLAKE3: func() hash.Hash { return blake3.New(32, nil) },
}

// File returns the lowercase hex SHA-256 of the file at path.
func File(path string) (string, error) {
	return fileWith(sha256.New(), path)
}

// Default is the Hasher used for manifest records.
//
//nolint:gochecknoglobals // Stateless adapter around File.
var Default Hasher = HasherFunc(File)

// Algorithms returns the sorted identifiers accepted by Verify.
func Algorithms() []string {
	names := make([]string, 0, len(algorithms))
	for name := range algorithms {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// Supported reports whether the algorithm is known.
func Supported(algorithm string) bool {
	_, ok := algorithms[strings.ToLower(algorithm)]

	return ok
}

// Compute returns the hex digest of the file at path using the named algorithm.
func Compute(algorithm, path string) (string, error) {
	newHash, ok := algorithms[strings.ToLower(algorithm)]
	if !ok {
		return "", fmt.Errorf("%w: %s", errUnknownAlgorithm, algorithm)
	}

	return fileWith(newHash(), path)
}

// Verify reports whether the file at path has the expected digest.
// The comparison ignores the case of the expected hex string.
func Verify(algorithm, expected, path string) (bool, error) {
	actual, err := Compute(algorithm, path)
	if err != nil {
		return false, err
	}

	return strings.EqualFold(actual, strings.TrimSpace(expected)), nil
}

func fileWith(h hash.Hash, path string) (string, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return "", pkgerr.IO("open "+path, err)
	}

	defer func() {
		_ = f.Close()
	}()

	buf := make([]byte, chunkSize)
	if _, err = io.CopyBuffer(h, f, buf); err != nil {
		return "", pkgerr.IO("read "+path, err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}
