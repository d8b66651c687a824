// Package version exposes build metadata for ota-finalizer.
//
// Variables Version, Commit, and BuildTime are injected at build time via
// Go ldflags. Short and Full render them for the CLI.
package version
