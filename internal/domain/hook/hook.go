package hook

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/oshokin/ota-finalizer/internal/domain/edify"
	"github.com/oshokin/ota-finalizer/internal/logger"
)

const (
	// UtilitiesDirName is the directory under the build output tree holding device utilities.
	UtilitiesDirName = "utilities"
	// ScriptName is both the file name under UtilitiesDirName and the archive entry name.
	ScriptName = "updater.sh"
	// DeviceScriptPath is where the device extracts the script before running it.
	DeviceScriptPath = "/tmp/updater.sh"
	// DeviceShell is the interpreter the device runs the script with.
	DeviceShell = "/sbin/sh"
)

var (
	// ErrOutDirNotSet is returned when the hook gets no build output directory.
	ErrOutDirNotSet = errors.New("build output directory is not set")

	errInfoIncomplete = errors.New("hook info must provide an output zip and a script")
	errNotRegularFile = errors.New("not a regular file")
)

// ArchiveWriter copies a file from the build host into the OTA package.
type ArchiveWriter interface {
	Write(sourcePath, entryName string) error
}

// ScriptAppender appends a literal statement to the package's updater-script.
type ScriptAppender interface {
	AppendExtra(statement string)
}

// Info is what the packaging host hands to the hook.
type Info struct {
	OutputZip ArchiveWriter
	Script    ScriptAppender
}

// UtilityScriptPath returns <outDir>/utilities/updater.sh.
func UtilityScriptPath(outDir string) string {
	return filepath.Join(outDir, UtilitiesDirName, ScriptName)
}

// FullOTAInstallEnd stages updater.sh into the package and makes the device run it.
//
// Nothing is written to the archive or the script unless the utility script
// can be opened. Statements are appended only after the archive write succeeded.
// Repeated calls are not deduplicated.
func FullOTAInstallEnd(ctx context.Context, info *Info, outDir string) error {
	if outDir == "" {
		return ErrOutDirNotSet
	}

	if info == nil || info.OutputZip == nil || info.Script == nil {
		return errInfoIncomplete
	}

	source := UtilityScriptPath(outDir)
	if err := checkReadable(source); err != nil {
		return err
	}

	logger.DebugKV(ctx, "Staging utility script", "source", source, "entry", ScriptName)

	if err := info.OutputZip.Write(source, ScriptName); err != nil {
		return fmt.Errorf("write %s to package: %w", ScriptName, err)
	}

	statements := []string{
		edify.PackageExtractFile(ScriptName, DeviceScriptPath),
		edify.RunProgram(DeviceShell, DeviceScriptPath),
	}

	for _, statement := range statements {
		logger.DebugKV(ctx, "Appending updater-script statement", "statement", statement)
		info.Script.AppendExtra(statement)
	}

	return nil
}

// checkReadable opens and closes path so a missing or unreadable script fails before any write.
func checkReadable(path string) error {
	file, err := os.Open(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("open utility script: %w", err)
	}

	defer func() {
		_ = file.Close()
	}()

	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("stat utility script: %w", err)
	}

	if !info.Mode().IsRegular() {
		return fmt.Errorf("utility script %s: %w", path, errNotRegularFile)
	}

	return nil
}
