package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/ota-finalizer/internal/config"
	"github.com/oshokin/ota-finalizer/internal/service/finalizer"
	"github.com/oshokin/ota-finalizer/internal/version"
)

var (
	// configPath to the configuration YAML file.
	configPath string
	// outDir overrides the OUT environment variable.
	outDir string
	// outputPath is where the finalized package is written.
	outputPath string
	// reportPath is where the finalization record is written.
	reportPath string
	// logLevel overrides the configured log level.
	logLevel string

	// rootCmd represents the base command for finalizing a full OTA package.
	rootCmd = &cobra.Command{
		Use:   "ota-finalizer [package.zip]",
		Short: "Stage updater.sh into a full OTA package and run it on install.",
		Long: `Runs the full OTA install-end step on an already built OTA zip.

The device utility script is read from <OUT>/utilities/updater.sh, stored in
the package as updater.sh, and the package's updater-script gets two lines
that extract it to /tmp/updater.sh and run it with /sbin/sh.

The build output directory comes from --out, the settings file, or the OUT
environment variable, in that order. The package path can be given as an
argument or in the settings file.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			options := &finalizer.Options{
				ConfigPath: configPath,
				OutDir:     outDir,
				OutputPath: outputPath,
				ReportPath: reportPath,
				LogLevel:   logLevel,
			}

			if len(args) > 0 {
				options.PackagePath = args[0]
			}

			return finalizer.Run(ctx, options)
		},
	}
)

// Execute runs the ota-finalizer CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "",
		"path to configuration file (default "+config.DefaultConfigFilename+" if present)")
	rootCmd.Flags().StringVarP(&outDir, "out", "o", "", "build output directory (default $"+config.OutDirEnv+")")
	rootCmd.Flags().StringVar(&outputPath, "output", "", "write the finalized package here instead of in place")
	rootCmd.Flags().StringVar(&reportPath, "report", "", "write a JSON record of the changes to this path")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn or error")
}
