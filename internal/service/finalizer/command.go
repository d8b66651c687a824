package finalizer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/oshokin/ota-finalizer/internal/config"
	"github.com/oshokin/ota-finalizer/internal/domain/hook"
	"github.com/oshokin/ota-finalizer/internal/logger"
	"github.com/oshokin/ota-finalizer/internal/repository/otapackage"
	"github.com/oshokin/ota-finalizer/internal/repository/report"
)

// Options contains inputs for the finalizer entry point.
// Non-empty fields override values from the settings file.
type Options struct {
	// ConfigPath is an optional settings file. When empty, DefaultConfigFilename is
	// used if it exists.
	ConfigPath string
	// OutDir is the build output directory. When empty, OUT is consulted.
	OutDir string
	// PackagePath is the full OTA zip to finalize.
	PackagePath string
	// OutputPath is where the finalized zip is written. Empty means in place.
	OutputPath string
	// ReportPath is where the JSON finalization record is written, if set.
	ReportPath string
	// LogLevel overrides the configured log level.
	LogLevel string
	// LookupEnv reads the process environment; os.LookupEnv when nil.
	LookupEnv func(string) (string, bool)
}

// finalizer runs the install-end hook against one package.
// It is unexported: callers should use Run, which encapsulates setup and validation.
type finalizer struct {
	// cfg holds the validated settings of this run.
	cfg *config.Config
	// marker is the path of the marker file guarding the package.
	marker string
	// ownsMarker is set once this run created the marker.
	ownsMarker bool
}

var errFinalizerRunning = errors.New("another finalizer is working on this package")

// Run executes the finalization workflow.
func Run(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "ota-finalizer")

	cfg, err := resolveConfig(opts)
	if err != nil {
		return err
	}

	if err = config.Validate(cfg); err != nil {
		return err
	}

	if level, ok := logger.ParseLogLevel(cfg.LogLevel); ok {
		logger.SetLevel(level)
	}

	ctx = logger.WithKV(ctx, "package", cfg.Package)

	fin, err := newFinalizer(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initialize finalizer: %w", err)
	}

	defer fin.cleanup(ctx)

	if err = fin.Run(ctx); err != nil {
		logger.ErrorKV(ctx, "Finalizer failed", "error", err)
		return fmt.Errorf("finalize %s: %w", cfg.Package, err)
	}

	logger.Info(ctx, "OTA package finalized successfully")

	return nil
}

// resolveConfig merges the settings file, the options and the environment.
func resolveConfig(opts *Options) (*config.Config, error) {
	if opts == nil {
		opts = new(Options)
	}

	path := opts.ConfigPath
	explicit := path != ""

	if !explicit {
		path = config.DefaultConfigFilename
	}

	cfg, err := config.Load(path)

	switch {
	case err == nil:
	case !explicit && errors.Is(err, os.ErrNotExist):
		cfg = new(config.Config)
	default:
		return nil, err
	}

	overrides := []struct {
		target *string
		value  string
	}{
		{&cfg.OutDir, opts.OutDir},
		{&cfg.Package, opts.PackagePath},
		{&cfg.Output, opts.OutputPath},
		{&cfg.Report, opts.ReportPath},
		{&cfg.LogLevel, opts.LogLevel},
	}

	for _, override := range overrides {
		if override.value != "" {
			*override.target = override.value
		}
	}

	cfg.OutDir = config.ResolveOutDir(cfg.OutDir, opts.LookupEnv)

	return cfg, nil
}

// newFinalizer claims the package marker.
func newFinalizer(ctx context.Context, cfg *config.Config) (*finalizer, error) {
	fin := &finalizer{
		cfg:    cfg,
		marker: MarkerPath(cfg.Package),
	}

	if IsFinalizerRunningNow(ctx, fin.marker, cfg.MarkerLifetime) {
		return nil, errFinalizerRunning
	}

	if err := createMarker(fin.marker); err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, errFinalizerRunning
		}

		return nil, err
	}

	fin.ownsMarker = true

	return fin, nil
}

// Run opens the package, applies the hook and commits the result.
// The report, if requested, is staged before the commit so that an
// unwritable report path fails the run while the package is still untouched.
func (f *finalizer) Run(ctx context.Context) error {
	logger.Info(ctx, "Opening OTA package")

	pkg, err := otapackage.Open(f.cfg.Package)
	if err != nil {
		return err
	}

	defer func() {
		if closeErr := pkg.Close(); closeErr != nil {
			logger.WarnKV(ctx, "Unable to close OTA package", "error", closeErr)
		}
	}()

	logger.InfoKV(ctx, "Running full OTA install-end hook",
		"out_dir", f.cfg.OutDir,
		"utility_script", hook.UtilityScriptPath(f.cfg.OutDir))

	info := &hook.Info{
		OutputZip: pkg,
		Script:    pkg.Script(),
	}

	if err = hook.FullOTAInstallEnd(ctx, info, f.cfg.OutDir); err != nil {
		return err
	}

	if err = ctx.Err(); err != nil {
		return err
	}

	target := f.target()

	pending, err := f.prepareReport(ctx, pkg, target)
	if err != nil {
		return fmt.Errorf("prepare report: %w", err)
	}

	logger.InfoKV(ctx, "Committing OTA package", "output", target)

	if err = pkg.Commit(target); err != nil {
		if pending != nil {
			pending.Discard()
		}

		return fmt.Errorf("commit package: %w", err)
	}

	if pending == nil {
		return nil
	}

	logger.InfoKV(ctx, "Saving finalization report", "path", pending.Path())

	if err = pending.Commit(); err != nil {
		return fmt.Errorf("save report: %w", err)
	}

	return nil
}

// prepareReport stages the finalization record when a report path is configured.
func (f *finalizer) prepareReport(ctx context.Context, pkg *otapackage.Package, target string) (*report.Pending, error) {
	if f.cfg.Report == "" {
		return nil, nil //nolint:nilnil // No report requested.
	}

	record := &report.Record{
		Package:     f.cfg.Package,
		Output:      target,
		OutDir:      f.cfg.OutDir,
		Staged:      pkg.Staged(),
		Statements:  pkg.Script().Appended(),
		FinalizedAt: time.Now().UTC(),
	}

	return report.NewFileRepository(f.cfg.Report).Prepare(ctx, record)
}

// target returns the commit destination.
func (f *finalizer) target() string {
	if f.cfg.Output != "" {
		return f.cfg.Output
	}

	return f.cfg.Package
}

// cleanup removes the marker this run created.
func (f *finalizer) cleanup(ctx context.Context) {
	if !f.ownsMarker {
		return
	}

	if err := os.Remove(f.marker); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.WarnKV(ctx, "Unable to remove finalize marker", "path", f.marker, "error", err)
	}
}
