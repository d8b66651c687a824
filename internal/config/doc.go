// Package config defines the settings of an ota-finalizer run and provides
// helpers to load, validate and save them in YAML format.
//
// The build output directory may come from the settings file, a flag, or the
// OUT environment variable; ResolveOutDir is the single place that reads it.
package config
