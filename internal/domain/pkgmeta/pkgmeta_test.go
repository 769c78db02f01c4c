package pkgmeta

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/xbps-builder/internal/domain/buildspec"
)

func newSpec(all, run []string) *buildspec.BuildSpec {
	return &buildspec.BuildSpec{
		Name:    "foo",
		Version: "1.2",
		Epoch:   "1",
		Depends: buildspec.Dependencies{
			All:   all,
			Build: []string{"gcc"},
			Run:   run,
		},
	}
}

// TestComposeRunDepends verifies all then run order without de-duplication.
func TestComposeRunDepends(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		all  []string
		run  []string
		want []string
	}{
		{name: "concatenated", all: []string{"a", "b"}, run: []string{"c"}, want: []string{"a", "b", "c"}},
		{name: "duplicates kept", all: []string{"x"}, run: []string{"x"}, want: []string{"x", "x"}},
		{name: "no sorting", all: []string{"z"}, run: []string{"a"}, want: []string{"z", "a"}},
		{name: "empty", all: []string{}, run: []string{}, want: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			props := Compose(newSpec(tt.all, tt.run), 0, "x86_64")
			require.Equal(t, tt.want, props.RunDepends)
		})
	}
}

// TestCompose checks the derived fields.
func TestCompose(t *testing.T) {
	t.Parallel()

	spec := newSpec([]string{"a"}, nil)
	license := "MIT"
	spec.Metadata.License = &license
	spec.Alternatives = map[string]map[string]string{
		"editor": {"vi": "/usr/bin/foo-vi", "ex": "/usr/bin/foo-ex"},
	}

	props := Compose(spec, 10, "aarch64")
	require.Equal(t, "aarch64", props.Architecture)
	require.Equal(t, uint64(10), props.InstalledSize)
	require.Equal(t, "foo", props.PkgName)
	require.Equal(t, "foo-1.2_1", props.PkgVer)
	require.Equal(t, "1.2", props.Version)
	require.Nil(t, props.ShortDesc)
	require.Equal(t, "MIT", *props.License)
	require.Equal(t, []string{"ex:/usr/bin/foo-ex", "vi:/usr/bin/foo-vi"}, props.Alternatives["editor"])

	// The record does not alias the spec.
	license = "GPL"
	require.Equal(t, "MIT", *props.License)
}

// TestArchiveName verifies the package file naming.
func TestArchiveName(t *testing.T) {
	t.Parallel()

	spec := newSpec(nil, nil)
	require.Equal(t, "foo-1.2_1.x86_64.xbps", ArchiveName(spec, "x86_64", ""))
	require.Equal(t, "foo-1.2_1.noarch.pkg", ArchiveName(spec, "noarch", "pkg"))
}

// TestArchFor verifies architecture names.
func TestArchFor(t *testing.T) {
	t.Parallel()

	require.Equal(t, "x86_64", ArchFor("amd64"))
	require.Equal(t, "i686", ArchFor("386"))
	require.Equal(t, "aarch64", ArchFor("arm64"))
	require.Equal(t, "armv7l", ArchFor("arm"))
	require.Equal(t, "riscv64", ArchFor("riscv64"))
	require.NotEmpty(t, Arch())
}

// TestCodecsKeepAbsentAndEmptyApart verifies optional fields survive encoding.
func TestCodecsKeepAbsentAndEmptyApart(t *testing.T) {
	t.Parallel()

	for _, format := range Formats() {
		t.Run(format, func(t *testing.T) {
			t.Parallel()

			codec, err := CodecFor(format)
			require.NoError(t, err)
			require.Equal(t, format, codec.Format())

			empty := ""
			props := Compose(newSpec([]string{"a"}, []string{"b"}), 42, "x86_64")
			props.Homepage = &empty

			var buf bytes.Buffer
			require.NoError(t, codec.Encode(&buf, props))
			require.Contains(t, buf.String(), "homepage")
			require.NotContains(t, buf.String(), "short_desc")

			var decoded Properties
			require.NoError(t, codec.Decode(buf.Bytes(), &decoded))
			require.Equal(t, "foo-1.2_1", decoded.PkgVer)
			require.Equal(t, uint64(42), decoded.InstalledSize)
			require.Equal(t, []string{"a", "b"}, decoded.RunDepends)
			require.NotNil(t, decoded.Homepage)
			require.Empty(t, *decoded.Homepage)
			require.Nil(t, decoded.ShortDesc)
		})
	}

	_, err := CodecFor("json")
	require.Error(t, err)
	require.Equal(t, "files.plist", DocumentName(plistCodec{}, ManifestDocument))
}
