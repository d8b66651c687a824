package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/oshokin/ota-finalizer/internal/logger"
)

// Config holds the settings of a single finalizer run.
type Config struct {
	// OutDir is the build output tree; utilities/updater.sh is resolved against it.
	OutDir string `yaml:"out_dir"`
	// Package is the full OTA zip produced by the build.
	Package string `yaml:"package"`
	// Output is where the finalized package is written. Empty means in place.
	Output string `yaml:"output"`
	// Report is an optional path for the JSON finalization record.
	Report string `yaml:"report"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`
	// MarkerLifetime is how long a package marker is trusted before it is considered stale.
	MarkerLifetime time.Duration `yaml:"marker_lifetime"`
}

const (
	// DefaultConfigFilename is the settings file looked up when none is given.
	DefaultConfigFilename = "ota-finalizer.yaml"

	// OutDirEnv names the environment variable the build system exports for its output tree.
	OutDirEnv = "OUT"

	// DefaultLogLevel is used when the settings do not name one.
	DefaultLogLevel = "info"

	// DefaultMarkerLifetime bounds how long a crashed run can block the package.
	DefaultMarkerLifetime = 10 * time.Minute

	// DefaultFilePermissions is the default file permission for config files.
	DefaultFilePermissions = 0o600
)

var (
	// ErrOutDirNotSet is returned when neither settings, flags nor OUT provide an output directory.
	ErrOutDirNotSet = errors.New("build output directory is not set (export " + OutDirEnv + " or pass --out)")
	// ErrPackageRequired is returned when no OTA package path is configured.
	ErrPackageRequired = errors.New("OTA package path must be provided")

	// errConfigIsNotSet is returned when a nil configuration is provided.
	errConfigIsNotSet = errors.New("configuration is not set")
	// errNotDirectory is returned when OutDir points at something other than a directory.
	errNotDirectory = errors.New("not a directory")
	// errUnknownLogLevel is returned for log levels ParseLogLevel does not know.
	errUnknownLogLevel = errors.New("unknown log level")
)

// Load reads configuration from the provided path.
// It does not validate: callers apply flag overrides first and then call Validate.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigFilename
	}

	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	var cfg Config
	if err = yaml.Unmarshal(contents, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}

	return &cfg, nil
}

// Save writes the settings to the provided path.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if path == "" {
		path = DefaultConfigFilename
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	if err = os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	return nil
}

// ResolveOutDir returns explicit when set and otherwise the value of OUT
// as reported by lookupEnv. The environment is consulted only here.
func ResolveOutDir(explicit string, lookupEnv func(string) (string, bool)) string {
	if explicit != "" {
		return explicit
	}

	if lookupEnv == nil {
		lookupEnv = os.LookupEnv
	}

	value, _ := lookupEnv(OutDirEnv)

	return value
}

// Validate checks required fields and fills in defaults.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if cfg.Package == "" {
		return ErrPackageRequired
	}

	if cfg.OutDir == "" {
		return ErrOutDirNotSet
	}

	info, err := os.Stat(cfg.OutDir)
	if err != nil {
		return fmt.Errorf("build output directory: %w", err)
	}

	if !info.IsDir() {
		return fmt.Errorf("build output directory %s: %w", cfg.OutDir, errNotDirectory)
	}

	if cfg.LogLevel == "" {
		cfg.LogLevel = DefaultLogLevel
	}

	if _, ok := logger.ParseLogLevel(cfg.LogLevel); !ok {
		return fmt.Errorf("%w: %s", errUnknownLogLevel, cfg.LogLevel)
	}

	if cfg.MarkerLifetime <= 0 {
		cfg.MarkerLifetime = DefaultMarkerLifetime
	}

	return nil
}
