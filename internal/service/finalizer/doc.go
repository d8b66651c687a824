// Package finalizer is the host side of the full-OTA install-end hook.
//
// Run resolves settings (file, flags and the OUT environment variable, read
// once), guards the package with a marker file, opens the zip, lets the hook
// stage updater.sh and extend the updater-script, then commits the archive
// atomically and optionally records what changed.
package finalizer
