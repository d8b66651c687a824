package finalizer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/go-ps"

	"github.com/oshokin/ota-finalizer/internal/logger"
)

const (
	// markerSuffix is appended to the package path to name its marker file.
	markerSuffix = ".finalize-marker"

	// markerFileMode is the permission of marker files.
	markerFileMode os.FileMode = 0o600
)

// MarkerPath returns the marker file guarding packagePath.
func MarkerPath(packagePath string) string {
	return filepath.Clean(packagePath) + markerSuffix
}

// IsFinalizerRunningNow checks presence of a marker file and attempts recovery if it looks stale.
// A marker older than lifetime is removed unless the process recorded in it is still alive.
func IsFinalizerRunningNow(ctx context.Context, marker string, lifetime time.Duration) bool {
	logger.DebugKV(ctx, "Checking for the presence of a finalize marker", "path", marker)

	fileInfo, err := os.Stat(marker)
	if err == nil {
		if time.Since(fileInfo.ModTime()) <= lifetime {
			return true
		}

		logger.WarnKV(ctx, "The finalize marker is too old, attempting cleanup", "path", marker)

		alive, aliveErr := markerOwnerAlive(marker)
		if aliveErr != nil || alive {
			return true
		}

		if err = os.Remove(marker); err != nil && !errors.Is(err, os.ErrNotExist) {
			return true
		}

		return false
	}

	if errors.Is(err, os.ErrNotExist) {
		return false
	}

	logger.Infof(ctx, "Unable to read finalize marker: %v", err)

	return false
}

// createMarker creates the marker holding this process ID, failing with
// os.ErrExist if it is already there.
func createMarker(marker string) error {
	file, err := os.OpenFile(marker, os.O_CREATE|os.O_EXCL|os.O_WRONLY, markerFileMode)
	if err != nil {
		return err
	}

	if _, err = file.WriteString(strconv.Itoa(os.Getpid())); err != nil {
		_ = file.Close()
		_ = os.Remove(marker)

		return err
	}

	return file.Close()
}

// markerOwnerAlive reports whether the process whose ID is recorded in marker
// is still running. A marker without a readable ID, or one written by this
// process, has no other owner.
func markerOwnerAlive(marker string) (bool, error) {
	contents, err := os.ReadFile(marker)
	if err != nil {
		return false, err
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(contents)))
	if err != nil || pid <= 0 || pid == os.Getpid() {
		return false, nil
	}

	process, err := ps.FindProcess(pid)
	if err != nil {
		return false, err
	}

	return process != nil, nil
}
