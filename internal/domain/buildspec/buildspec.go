package buildspec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
	k8syaml "sigs.k8s.io/yaml"

	"github.com/oshokin/xbps-builder/internal/domain/pkgerr"
)

// DefaultEpoch is used when the document does not declare an epoch.
const DefaultEpoch = "1"

// ErrInvalid is returned when a build specification fails validation.
var ErrInvalid = errors.New("invalid build specification")

// BuildSpec describes how to fetch, build and package one piece of software.
// It is read-only once loaded.
type BuildSpec struct {
	Name    string       `yaml:"name"`
	Version string       `yaml:"version"`
	Epoch   string       `yaml:"epoch"`
	Depends Dependencies `yaml:"depends"`
	Sources []Source     `yaml:"sources"`
	Scripts Scripts      `yaml:"scripts"`
	// Alternatives maps a group name to option names and their link targets.
	Alternatives map[string]map[string]string `yaml:"alternatives"`
	// Metadata holds the optional descriptive package fields.
	Metadata Metadata `yaml:"metadata"`
}

// Dependencies are flat package name lists; nothing resolves them here.
type Dependencies struct {
	// All is needed both to build and to run.
	All []string `yaml:"all"`
	// Build is only needed while building.
	Build []string `yaml:"build"`
	// Run is only needed at run time.
	Run []string `yaml:"run"`
}

// Source is one downloadable input of the build.
type Source struct {
	Href         string       `yaml:"href"`
	Verification Verification `yaml:"verification"`
}

// Verification is the declared digest of a source, tagged by algorithm name.
type Verification struct {
	Type string `yaml:"type"`
	Sum  string `yaml:"sum"`
}

// Scripts holds the shell statements run by the build.
type Scripts struct {
	Install []string `yaml:"install"`
}

// Metadata holds descriptive fields. A nil field is absent, an empty one is present but empty.
type Metadata struct {
	ShortDesc  *string `yaml:"short_desc"`
	Homepage   *string `yaml:"homepage"`
	License    *string `yaml:"license"`
	Maintainer *string `yaml:"maintainer"`
}

// Algorithm returns the normalized algorithm identifier.
func (v Verification) Algorithm() string {
	return strings.ToLower(strings.TrimSpace(v.Type))
}

// Filename returns the cache file name of the source: the href segment after the last slash.
func (s Source) Filename() string {
	if i := strings.LastIndexByte(s.Href, '/'); i >= 0 {
		return s.Href[i+1:]
	}

	return s.Href
}

// Load reads and parses the build specification at path.
func Load(path string) (*BuildSpec, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, pkgerr.IO("read build specification", err)
	}

	spec, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return spec, nil
}

// Parse validates the YAML document against the schema, decodes it and applies defaults.
func Parse(data []byte) (*BuildSpec, error) {
	if err := validateDocument(data); err != nil {
		return nil, err
	}

	var spec BuildSpec

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)

	if err := decoder.Decode(&spec); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}

	spec.applyDefaults()

	for i, source := range spec.Sources {
		if source.Filename() == "" {
			return nil, fmt.Errorf("%w: sources[%d]: href %q has no file name", ErrInvalid, i, source.Href)
		}
	}

	return &spec, nil
}

func (s *BuildSpec) applyDefaults() {
	if s.Epoch == "" {
		s.Epoch = DefaultEpoch
	}

	s.Depends.All = nonNil(s.Depends.All)
	s.Depends.Build = nonNil(s.Depends.Build)
	s.Depends.Run = nonNil(s.Depends.Run)
	s.Scripts.Install = nonNil(s.Scripts.Install)

	if s.Sources == nil {
		s.Sources = []Source{}
	}

	if s.Alternatives == nil {
		s.Alternatives = map[string]map[string]string{}
	}
}

// validateDocument converts the YAML to JSON and checks it against the embedded schema.
func validateDocument(data []byte) error {
	schema, err := compiledSchema()
	if err != nil {
		return fmt.Errorf("compile build schema: %w", err)
	}

	asJSON, err := k8syaml.YAMLToJSON(data)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}

	var document any
	if err = json.Unmarshal(asJSON, &document); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}

	if err = schema.Validate(document); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}

	return nil
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}

	return values
}
