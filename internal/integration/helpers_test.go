package integration

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"
	"github.com/ProtonMail/go-crypto/openpgp/packet"
	"github.com/stretchr/testify/require"
)

// requireBash skips tests that need a shell when bash is not installed.
func requireBash(t *testing.T) {
	t.Helper()

	if _, err := exec.LookPath("bash"); err != nil {
		t.Skip("bash is not available")
	}
}

func sha256Hex(content string) string {
	sum := sha256.Sum256([]byte(content))

	return hex.EncodeToString(sum[:])
}

// sourceServer serves files by path and counts requests.
type sourceServer struct {
	*httptest.Server

	mu   sync.Mutex
	hits map[string]int
}

func newSourceServer(t *testing.T, files map[string]string) *sourceServer {
	t.Helper()

	s := &sourceServer{hits: map[string]int{}}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.hits[r.URL.Path]++
		s.mu.Unlock()

		content, ok := files[r.URL.Path]
		if !ok {
			http.NotFound(w, r)

			return
		}

		_, _ = io.WriteString(w, content)
	}))
	t.Cleanup(s.Close)

	return s
}

func (s *sourceServer) Hits(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.hits[path]
}

// objectStore is a minimal S3-compatible endpoint accepting path-style PUTs.
type objectStore struct {
	*httptest.Server

	mu      sync.Mutex
	objects map[string][]byte
}

func newObjectStore(t *testing.T) *objectStore {
	t.Helper()

	s := &objectStore{objects: map[string][]byte{}}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			w.WriteHeader(http.StatusMethodNotAllowed)

			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)

			return
		}

		s.mu.Lock()
		s.objects[strings.TrimPrefix(r.URL.Path, "/")] = body
		s.mu.Unlock()

		w.Header().Set("ETag", `"`+sha256Hex(string(body))[:32]+`"`)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(s.Close)

	return s
}

func (s *objectStore) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]string, 0, len(s.objects))
	for key := range s.objects {
		keys = append(keys, key)
	}

	return keys
}

// writeKeys stores a fresh signing key and its public key ring in dir.
func writeKeys(t *testing.T, dir string) (string, string) {
	t.Helper()

	entity, err := openpgp.NewEntity("xbps-builder", "integration", "builder@example.org",
		&packet.Config{Algorithm: packet.PubKeyAlgoEdDSA})
	require.NoError(t, err)

	var private, public bytes.Buffer

	aw, err := armor.Encode(&private, openpgp.PrivateKeyType, nil)
	require.NoError(t, err)
	require.NoError(t, entity.SerializePrivateWithoutSigning(aw, nil))
	require.NoError(t, aw.Close())

	aw, err = armor.Encode(&public, openpgp.PublicKeyType, nil)
	require.NoError(t, err)
	require.NoError(t, entity.Serialize(aw))
	require.NoError(t, aw.Close())

	keyFile := filepath.Join(dir, "signing.asc")
	keyring := filepath.Join(dir, "keyring.asc")

	require.NoError(t, os.WriteFile(keyFile, private.Bytes(), 0o600))
	require.NoError(t, os.WriteFile(keyring, public.Bytes(), 0o644))

	return keyFile, keyring
}
