package pkgmeta

import (
	"runtime"
	"sort"

	"github.com/oshokin/xbps-builder/internal/domain/buildspec"
)

// DefaultExtension is the archive file extension.
const DefaultExtension = "xbps"

// DirEntry is one directory record of the manifest.
type DirEntry struct {
	File string `plist:"file" yaml:"file"`
}

// FileEntry is one regular file record of the manifest.
type FileEntry struct {
	File   string `plist:"file"   yaml:"file"`
	Mtime  uint64 `plist:"mtime"  yaml:"mtime"`
	SHA256 string `plist:"sha256" yaml:"sha256"`
}

// LinkEntry is one preserved symbolic link.
type LinkEntry struct {
	File   string `plist:"file"   yaml:"file"`
	Target string `plist:"target" yaml:"target"`
}

// Manifest lists every directory and file of a package root.
// Paths start with "/" and a directory always precedes the entries beneath it.
type Manifest struct {
	Dirs  []DirEntry  `plist:"dirs"            yaml:"dirs"`
	Files []FileEntry `plist:"files"           yaml:"files"`
	Links []LinkEntry `plist:"links,omitempty" yaml:"links,omitempty"`
}

// NewManifest returns an empty manifest ready for appending.
func NewManifest() *Manifest {
	return &Manifest{
		Dirs:  []DirEntry{},
		Files: []FileEntry{},
	}
}

// Properties is the package properties record.
// The descriptive fields are pointers so that absent and empty can be told apart.
type Properties struct {
	Architecture  string   `plist:"architecture"   yaml:"architecture"`
	InstalledSize uint64   `plist:"installed_size" yaml:"installed_size"`
	PkgName       string   `plist:"pkgname"        yaml:"pkgname"`
	PkgVer        string   `plist:"pkgver"         yaml:"pkgver"`
	RunDepends    []string `plist:"run_depends"    yaml:"run_depends"`
	Version       string   `plist:"version"        yaml:"version"`

	ShortDesc  *string `plist:"short_desc,omitempty" yaml:"short_desc,omitempty"`
	Homepage   *string `plist:"homepage,omitempty"   yaml:"homepage,omitempty"`
	License    *string `plist:"license,omitempty"    yaml:"license,omitempty"`
	Maintainer *string `plist:"maintainer,omitempty" yaml:"maintainer,omitempty"`

	// Alternatives maps a group to its sorted "option:target" pairs.
	Alternatives map[string][]string `plist:"alternatives,omitempty" yaml:"alternatives,omitempty"`
}

// Compose derives the properties record of a package.
func Compose(spec *buildspec.BuildSpec, installedSize uint64, arch string) *Properties {
	runDepends := make([]string, 0, len(spec.Depends.All)+len(spec.Depends.Run))
	runDepends = append(runDepends, spec.Depends.All...)
	runDepends = append(runDepends, spec.Depends.Run...)

	return &Properties{
		Architecture:  arch,
		InstalledSize: installedSize,
		PkgName:       spec.Name,
		PkgVer:        PkgVer(spec),
		RunDepends:    runDepends,
		Version:       spec.Version,
		ShortDesc:     cloneString(spec.Metadata.ShortDesc),
		Homepage:      cloneString(spec.Metadata.Homepage),
		License:       cloneString(spec.Metadata.License),
		Maintainer:    cloneString(spec.Metadata.Maintainer),
		Alternatives:  alternatives(spec.Alternatives),
	}
}

// PkgVer joins name, version and epoch as "name-version_epoch".
func PkgVer(spec *buildspec.BuildSpec) string {
	return spec.Name + "-" + spec.Version + "_" + spec.Epoch
}

// ArchiveName returns the package file name "name-version_epoch.arch.ext".
func ArchiveName(spec *buildspec.BuildSpec, arch, ext string) string {
	if ext == "" {
		ext = DefaultExtension
	}

	return PkgVer(spec) + "." + arch + "." + ext
}

// Arch returns the package architecture of the running binary.
func Arch() string {
	return ArchFor(runtime.GOARCH)
}

// ArchFor maps a GOARCH value to its package architecture name.
func ArchFor(goarch string) string {
	switch goarch {
	case "amd64":
		return "x86_64"
	case "386":
		return "i686"
	case "arm64":
		return "aarch64"
	case "arm":
		return "armv7l"
	default:
		return goarch
	}
}

func alternatives(groups map[string]map[string]string) map[string][]string {
	if len(groups) == 0 {
		return nil
	}

	result := make(map[string][]string, len(groups))

	for group, options := range groups {
		pairs := make([]string, 0, len(options))
		for option, target := range options {
			pairs = append(pairs, option+":"+target)
		}

		sort.Strings(pairs)
		result[group] = pairs
	}

	return result
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}

	v := *s

	return &v
}
