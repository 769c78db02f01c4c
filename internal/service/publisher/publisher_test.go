package publisher

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/require"

	"github.com/oshokin/xbps-builder/internal/config"
	"github.com/oshokin/xbps-builder/internal/digest"
)

type upload struct {
	bucket, key, contentType, sha256, body string
}

// fakeStore records uploads and fails for keys in failOn.
type fakeStore struct {
	uploads []upload
	failOn  string
}

func (f *fakeStore) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if aws.ToString(in.Key) == f.failOn {
		return nil, errors.New("access denied")
	}

	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}

	if int64(len(body)) != aws.ToInt64(in.ContentLength) {
		return nil, errors.New("content length mismatch")
	}

	f.uploads = append(f.uploads, upload{
		bucket:      aws.ToString(in.Bucket),
		key:         aws.ToString(in.Key),
		contentType: aws.ToString(in.ContentType),
		sha256:      in.Metadata["sha256"],
		body:        string(body),
	})

	return new(s3.PutObjectOutput), nil
}

func writeFiles(t *testing.T) (string, string) {
	t.Helper()

	dir := t.TempDir()
	pkg := filepath.Join(dir, "foo-1.2_1.x86_64.xbps")
	sig := pkg + ".sig"

	require.NoError(t, os.WriteFile(pkg, []byte("archive"), 0o644))
	require.NoError(t, os.WriteFile(sig, []byte("signature"), 0o644))

	return pkg, sig
}

// TestPublish verifies keys, content types and digests of uploads.
func TestPublish(t *testing.T) {
	t.Parallel()

	pkg, sig := writeFiles(t)
	store := new(fakeStore)

	keys, err := New(store, "repo", "/current/x86_64/").Publish(t.Context(), pkg, sig)
	require.NoError(t, err)
	require.Equal(t, []string{"current/x86_64/foo-1.2_1.x86_64.xbps", "current/x86_64/foo-1.2_1.x86_64.xbps.sig"}, keys)

	sum, err := digest.File(pkg)
	require.NoError(t, err)

	require.Len(t, store.uploads, 2)
	require.Equal(t, upload{
		bucket:      "repo",
		key:         keys[0],
		contentType: "application/octet-stream",
		sha256:      sum,
		body:        "archive",
	}, store.uploads[0])
	require.Equal(t, "application/pgp-signature", store.uploads[1].contentType)
}

// TestPublishStopsOnFailure verifies the first failed upload ends the run.
func TestPublishStopsOnFailure(t *testing.T) {
	t.Parallel()

	pkg, sig := writeFiles(t)
	store := &fakeStore{failOn: "foo-1.2_1.x86_64.xbps"}

	keys, err := New(store, "repo", "").Publish(t.Context(), pkg, sig)
	require.Error(t, err)
	require.Empty(t, keys)
	require.Empty(t, store.uploads)

	_, err = New(store, "repo", "").Publish(t.Context(), filepath.Join(t.TempDir(), "absent"))
	require.Error(t, err)
}

// TestFromConfig verifies publishing is optional and clients are built offline.
func TestFromConfig(t *testing.T) {
	t.Parallel()

	p, err := FromConfig(t.Context(), config.Publish{})
	require.NoError(t, err)
	require.Nil(t, p)

	p, err = FromConfig(t.Context(), config.Publish{
		Endpoint:        "http://127.0.0.1:9000",
		Region:          "auto",
		Bucket:          "repo",
		Prefix:          "x86_64",
		AccessKeyID:     "key",
		SecretAccessKey: "secret",
	})
	require.NoError(t, err)
	require.NotNil(t, p)
	require.Equal(t, "x86_64/foo.xbps", p.Key("/tmp/foo.xbps"))
}
