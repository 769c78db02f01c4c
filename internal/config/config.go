package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/oshokin/xbps-builder/internal/version"
)

// Config holds the settings shared by every xbps-builder command.
type Config struct {
	// WorkDir holds the sources, pkg and work subdirectories.
	WorkDir string `yaml:"work_dir"`
	// OutputDir receives finished package archives.
	OutputDir string `yaml:"output_dir"`
	// Architecture overrides the architecture detected from the running platform when set.
	Architecture string `yaml:"architecture"`
	// Extension is the archive file extension without the leading dot.
	Extension string `yaml:"extension"`
	// Staging selects how the package root is placed into the staging area (link or copy).
	Staging string `yaml:"staging"`
	// Archiver selects the external tar program or the built-in writer (external or native).
	Archiver string `yaml:"archiver"`
	// TarCommand is the program used by the external archiver.
	TarCommand string `yaml:"tar_command"`
	// Compression is the archive compression (xz, zstd, gzip or none).
	Compression string `yaml:"compression"`
	// MetadataFormat is the encoding of the manifest and properties documents (plist or yaml).
	MetadataFormat string `yaml:"metadata_format"`
	// Symlinks is the policy for entries that are neither directories nor regular files.
	Symlinks string `yaml:"symlinks"`
	// Sorted orders directory entries by name for reproducible manifests.
	Sorted *bool `yaml:"sorted"`
	// HashWorkers is the number of concurrent file digests; 1 hashes inline during the walk.
	HashWorkers int `yaml:"hash_workers"`
	// ArchiveTimeout bounds the archiver invocation.
	ArchiveTimeout time.Duration `yaml:"archive_timeout"`
	// LogLevel is the minimum level of emitted log entries.
	LogLevel string `yaml:"log_level"`
	// Fetch configures source downloads.
	Fetch Fetch `yaml:"fetch"`
	// Sign configures detached package signatures; empty KeyFile disables signing.
	Sign Sign `yaml:"sign"`
	// Publish configures uploads to an S3-compatible repository; empty Bucket disables it.
	Publish Publish `yaml:"publish"`
}

// Fetch holds source download settings.
type Fetch struct {
	// Retries is the number of additional attempts after a failed download.
	Retries int `yaml:"retries"`
	// Timeout bounds a single download attempt.
	Timeout time.Duration `yaml:"timeout"`
	// UserAgent is sent with every request.
	UserAgent string `yaml:"user_agent"`
}

// Sign holds package signing settings.
type Sign struct {
	// KeyFile is an armored OpenPGP private key.
	KeyFile string `yaml:"key_file"`
	// PassphraseEnv names the environment variable holding the key passphrase.
	PassphraseEnv string `yaml:"passphrase_env"`
}

// Publish holds repository upload settings.
type Publish struct {
	Endpoint        string `yaml:"endpoint"`
	Region          string `yaml:"region"`
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

const (
	// DefaultConfigFilename is the default filename for builder settings.
	DefaultConfigFilename = "xbps-builder.yaml"

	// DefaultSpecFilename is the build specification read from the current directory.
	DefaultSpecFilename = "build.yml"

	// DefaultFilePermissions is the default file permission for config files.
	DefaultFilePermissions = 0o600

	// DefaultArchiveTimeout bounds the archiver when nothing else is configured.
	DefaultArchiveTimeout = 10 * time.Minute

	// DefaultFetchTimeout bounds a single source download attempt.
	DefaultFetchTimeout = 5 * time.Minute

	defaultWorkDir   = "build"
	defaultOutputDir = "build/packages"
	defaultRetries   = 3
)

// Staging modes.
const (
	StagingLink = "link"
	StagingCopy = "copy"
)

// Archivers.
const (
	ArchiverExternal = "external"
	ArchiverNative   = "native"
)

var (
	// errConfigIsNotSet is returned when a nil configuration is provided.
	errConfigIsNotSet = errors.New("configuration is not set")
	// errInvalidValue is returned when an enumerated setting has an unknown value.
	errInvalidValue = errors.New("invalid setting")
	// errNegative is returned for counts that must not be negative.
	errNegative = errors.New("value must not be negative")
)

// Default returns a validated configuration with every default applied.
func Default() *Config {
	cfg := new(Config)

	// Defaults alone always validate.
	_ = Validate(cfg)

	return cfg
}

// Load reads configuration from the provided path and validates it.
// A missing file at the default location yields the defaults.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultConfigFilename
	}

	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}

		return nil, fmt.Errorf("read settings: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(contents, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save writes the configuration to the provided path.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if path == "" {
		path = DefaultConfigFilename
	}

	if err := Validate(cfg); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	// Restrict permissions, the file may carry repository credentials.
	if err := os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	return nil
}

// Validate fills in defaults and checks enumerated settings.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	applyDefaults(cfg)

	checks := []struct {
		name    string
		value   string
		allowed []string
	}{
		{"staging", cfg.Staging, []string{StagingLink, StagingCopy}},
		{"archiver", cfg.Archiver, []string{ArchiverExternal, ArchiverNative}},
		{"compression", cfg.Compression, []string{"xz", "zstd", "gzip", "none"}},
		{"metadata_format", cfg.MetadataFormat, []string{"plist", "yaml"}},
		{"symlinks", cfg.Symlinks, []string{"skip", "reject", "preserve"}},
	}

	for _, check := range checks {
		if !slices.Contains(check.allowed, check.value) {
			return fmt.Errorf("%w: %s=%q, expected one of %v", errInvalidValue, check.name, check.value, check.allowed)
		}
	}

	if cfg.HashWorkers < 0 {
		return fmt.Errorf("hash_workers: %w", errNegative)
	}

	if cfg.Fetch.Retries < 0 {
		return fmt.Errorf("fetch.retries: %w", errNegative)
	}

	if cfg.Publish.Endpoint != "" {
		if _, err := url.ParseRequestURI(cfg.Publish.Endpoint); err != nil {
			return fmt.Errorf("invalid publish endpoint: %w", err)
		}
	}

	return nil
}

// SortedEntries reports whether directory entries are sorted before being recorded.
func (c *Config) SortedEntries() bool {
	return c.Sorted == nil || *c.Sorted
}

// SourcesDir is where downloaded sources are cached.
func (c *Config) SourcesDir() string {
	return filepath.Join(c.WorkDir, "sources")
}

// PackageDir is the package root the install script populates.
func (c *Config) PackageDir() string {
	return filepath.Join(c.WorkDir, "pkg")
}

// ScratchDir is the install script's working directory.
func (c *Config) ScratchDir() string {
	return filepath.Join(c.WorkDir, "work")
}

func applyDefaults(cfg *Config) {
	setDefault(&cfg.WorkDir, defaultWorkDir)
	setDefault(&cfg.OutputDir, defaultOutputDir)
	setDefault(&cfg.Extension, "xbps")
	setDefault(&cfg.Staging, StagingLink)
	setDefault(&cfg.Archiver, ArchiverExternal)
	setDefault(&cfg.TarCommand, "tar")
	setDefault(&cfg.Compression, "xz")
	setDefault(&cfg.MetadataFormat, "plist")
	setDefault(&cfg.Symlinks, "skip")
	setDefault(&cfg.LogLevel, "info")
	setDefault(&cfg.Fetch.UserAgent, version.UserAgent())

	if cfg.HashWorkers == 0 {
		cfg.HashWorkers = 1
	}

	if cfg.ArchiveTimeout <= 0 {
		cfg.ArchiveTimeout = DefaultArchiveTimeout
	}

	if cfg.Fetch.Timeout <= 0 {
		cfg.Fetch.Timeout = DefaultFetchTimeout
	}

	if cfg.Fetch.Retries == 0 {
		cfg.Fetch.Retries = defaultRetries
	}

	if cfg.Publish.Region == "" && cfg.Publish.Bucket != "" {
		cfg.Publish.Region = "auto"
	}
}

func setDefault(field *string, value string) {
	if *field == "" {
		*field = value
	}
}
