package integration

import (
	"archive/zip"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/ota-finalizer/internal/config"
	"github.com/oshokin/ota-finalizer/internal/repository/otapackage"
	"github.com/oshokin/ota-finalizer/internal/repository/report"
	"github.com/oshokin/ota-finalizer/internal/service/finalizer"
)

const (
	originalScript = "ui_print(\"Installing system\");\nblock_image_update(\"/dev/block/system\", package_extract_file(\"system.transfer.list\"), \"system.new.dat\", \"system.patch.dat\");\n"
	extractLine    = `package_extract_file("updater.sh", "/tmp/updater.sh");`
	runLine        = `run_program("/sbin/sh", "/tmp/updater.sh");`
)

// buildTree creates <root>/utilities/updater.sh and a minimal full OTA zip.
func buildTree(t *testing.T, script string) (string, string) {
	t.Helper()

	root := t.TempDir()
	utilities := filepath.Join(root, "utilities")

	require.NoError(t, os.MkdirAll(utilities, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(utilities, "updater.sh"), []byte(script), 0o755))

	pkgPath := filepath.Join(root, "ota.zip")

	file, err := os.Create(pkgPath)
	require.NoError(t, err)

	writer := zip.NewWriter(file)

	for name, data := range map[string]string{
		otapackage.UpdaterScriptEntry: originalScript,
		"system.new.dat":              "system-image",
	} {
		w, createErr := writer.Create(name)
		require.NoError(t, createErr)

		_, err = w.Write([]byte(data))
		require.NoError(t, err)
	}

	require.NoError(t, writer.Close())
	require.NoError(t, file.Close())

	return root, pkgPath
}

// readEntries returns every entry of the zip at path by name.
func readEntries(t *testing.T, path string) map[string]string {
	t.Helper()

	reader, err := zip.OpenReader(path)
	require.NoError(t, err)

	defer func() {
		_ = reader.Close()
	}()

	entries := make(map[string]string, len(reader.File))

	for _, file := range reader.File {
		rc, openErr := file.Open()
		require.NoError(t, openErr)

		data, readErr := io.ReadAll(rc)
		require.NoError(t, readErr)
		require.NoError(t, rc.Close())

		entries[file.Name] = string(data)
	}

	return entries
}

// TestFinalizer_EndToEnd finalizes a package in place with OUT taken from the environment.
func TestFinalizer_EndToEnd(t *testing.T) {
	t.Parallel()

	root, pkgPath := buildTree(t, "echo hi")
	reportPath := filepath.Join(root, "report.json")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	options := &finalizer.Options{
		PackagePath: pkgPath,
		ReportPath:  reportPath,
		LookupEnv: func(name string) (string, bool) {
			if name == config.OutDirEnv {
				return root, true
			}

			return "", false
		},
	}

	require.NoError(t, finalizer.Run(ctx, options))

	entries := readEntries(t, pkgPath)
	require.Equal(t, "echo hi", entries["updater.sh"])
	require.Equal(t, "system-image", entries["system.new.dat"])
	require.Equal(t, originalScript+extractLine+"\n"+runLine+"\n", entries[otapackage.UpdaterScriptEntry])
	require.True(t, strings.HasSuffix(entries[otapackage.UpdaterScriptEntry], extractLine+"\n"+runLine+"\n"))

	record, err := report.NewFileRepository(reportPath).Load(ctx)
	require.NoError(t, err)
	require.Equal(t, pkgPath, record.Package)
	require.Equal(t, pkgPath, record.Output)
	require.Equal(t, root, record.OutDir)
	require.Equal(t, []string{"updater.sh"}, record.Staged)
	require.Equal(t, []string{extractLine, runLine}, record.Statements)

	_, err = os.Stat(finalizer.MarkerPath(pkgPath))
	require.ErrorIs(t, err, os.ErrNotExist)
}

// TestFinalizer_SeparateOutput leaves the input package untouched.
func TestFinalizer_SeparateOutput(t *testing.T) {
	t.Parallel()

	root, pkgPath := buildTree(t, "#!/sbin/sh\nmount /system\n")
	output := filepath.Join(root, "ota-final.zip")

	before, err := os.ReadFile(pkgPath)
	require.NoError(t, err)

	options := &finalizer.Options{
		PackagePath: pkgPath,
		OutDir:      root,
		OutputPath:  output,
		LookupEnv: func(string) (string, bool) {
			return "", false
		},
	}

	require.NoError(t, finalizer.Run(context.Background(), options))

	after, err := os.ReadFile(pkgPath)
	require.NoError(t, err)
	require.Equal(t, before, after)

	entries := readEntries(t, output)
	require.Equal(t, "#!/sbin/sh\nmount /system\n", entries["updater.sh"])
	require.True(t, strings.HasSuffix(entries[otapackage.UpdaterScriptEntry], extractLine+"\n"+runLine+"\n"))
}

// TestFinalizer_MissingUtilityScript fails without modifying the package.
func TestFinalizer_MissingUtilityScript(t *testing.T) {
	t.Parallel()

	root, pkgPath := buildTree(t, "echo hi")
	require.NoError(t, os.Remove(filepath.Join(root, "utilities", "updater.sh")))

	before, err := os.ReadFile(pkgPath)
	require.NoError(t, err)

	options := &finalizer.Options{
		PackagePath: pkgPath,
		OutDir:      root,
	}

	err = finalizer.Run(context.Background(), options)
	require.ErrorIs(t, err, os.ErrNotExist)

	after, err := os.ReadFile(pkgPath)
	require.NoError(t, err)
	require.Equal(t, before, after)
}

// TestFinalizer_UnwritableReport fails before committing when the report cannot be written.
func TestFinalizer_UnwritableReport(t *testing.T) {
	t.Parallel()

	root, pkgPath := buildTree(t, "echo hi")

	before, err := os.ReadFile(pkgPath)
	require.NoError(t, err)

	options := &finalizer.Options{
		PackagePath: pkgPath,
		OutDir:      root,
		ReportPath:  filepath.Join(root, "missing-dir", "report.json"),
	}

	err = finalizer.Run(context.Background(), options)
	require.ErrorIs(t, err, os.ErrNotExist)

	after, err := os.ReadFile(pkgPath)
	require.NoError(t, err)
	require.Equal(t, before, after)

	_, err = os.Stat(finalizer.MarkerPath(pkgPath))
	require.ErrorIs(t, err, os.ErrNotExist)
}

// TestFinalizer_FailedCommitLeavesNoOutput leaves neither the output nor the report behind.
func TestFinalizer_FailedCommitLeavesNoOutput(t *testing.T) {
	t.Parallel()

	root, pkgPath := buildTree(t, "echo hi")
	output := filepath.Join(root, "ota-final.zip")
	reportPath := filepath.Join(root, "report.json")

	require.NoError(t, os.Mkdir(filepath.Join(root, ".ota-final.zip.new"), 0o755))

	options := &finalizer.Options{
		PackagePath: pkgPath,
		OutDir:      root,
		OutputPath:  output,
		ReportPath:  reportPath,
	}

	require.Error(t, finalizer.Run(context.Background(), options))

	_, err := os.Stat(output)
	require.ErrorIs(t, err, os.ErrNotExist)

	_, err = os.Stat(reportPath)
	require.ErrorIs(t, err, os.ErrNotExist)
}

// TestFinalizer_Twice documents that a second run appends the statements again.
func TestFinalizer_Twice(t *testing.T) {
	t.Parallel()

	root, pkgPath := buildTree(t, "echo hi")

	options := &finalizer.Options{
		PackagePath: pkgPath,
		OutDir:      root,
	}

	require.NoError(t, finalizer.Run(context.Background(), options))
	require.NoError(t, finalizer.Run(context.Background(), options))

	entries := readEntries(t, pkgPath)
	require.Equal(t, "echo hi", entries["updater.sh"])

	block := extractLine + "\n" + runLine + "\n"
	require.Equal(t, originalScript+block+block, entries[otapackage.UpdaterScriptEntry])
}
