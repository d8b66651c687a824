package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestValidate checks required fields, directory checks and defaults.
func TestValidate(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	// Missing package.
	err := Validate(&Config{OutDir: dir})
	require.ErrorIs(t, err, ErrPackageRequired)

	// Missing output directory.
	err = Validate(&Config{Package: "ota.zip"})
	require.ErrorIs(t, err, ErrOutDirNotSet)

	// Output directory does not exist.
	err = Validate(&Config{Package: "ota.zip", OutDir: filepath.Join(dir, "missing")})
	require.ErrorIs(t, err, os.ErrNotExist)

	// Output directory is a file.
	file := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(file, nil, 0o600))

	err = Validate(&Config{Package: "ota.zip", OutDir: file})
	require.ErrorIs(t, err, errNotDirectory)

	// Bad log level.
	err = Validate(&Config{Package: "ota.zip", OutDir: dir, LogLevel: "loud"})
	require.ErrorIs(t, err, errUnknownLogLevel)

	// Okay, defaults filled in.
	cfg := &Config{Package: "ota.zip", OutDir: dir}
	require.NoError(t, Validate(cfg))
	require.Equal(t, DefaultLogLevel, cfg.LogLevel)
	require.Equal(t, DefaultMarkerLifetime, cfg.MarkerLifetime)
}

// TestResolveOutDir ensures the explicit value wins and OUT is the fallback.
func TestResolveOutDir(t *testing.T) {
	t.Parallel()

	env := func(name string) (string, bool) {
		if name == OutDirEnv {
			return "/tmp/build", true
		}

		return "", false
	}
	unset := func(string) (string, bool) { return "", false }

	require.Equal(t, "/explicit", ResolveOutDir("/explicit", env))
	require.Equal(t, "/tmp/build", ResolveOutDir("", env))
	require.Empty(t, ResolveOutDir("", unset))
}

// TestSaveLoadRoundtrip ensures settings are persisted and loaded back correctly.
func TestSaveLoadRoundtrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), DefaultConfigFilename)

	settings := &Config{
		OutDir:         "/tmp/build",
		Package:        "out/ota.zip",
		Output:         "out/ota-final.zip",
		LogLevel:       "debug",
		MarkerLifetime: time.Minute,
	}

	require.NoError(t, Save(path, settings))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, settings, loaded)
}

// TestLoad_Missing keeps the not-exist error visible to callers.
func TestLoad_Missing(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.ErrorIs(t, err, os.ErrNotExist)
}
