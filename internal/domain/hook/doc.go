// Package hook implements the full-OTA install-end step that ships the
// device utility script (updater.sh) inside the update package.
//
// The hook takes the host capabilities (an archive writer and an
// updater-script appender) and the build output directory explicitly; it
// never reads the process environment. On success the archive gains the entry
// updater.sh and the script gains, in order:
//
//	package_extract_file("updater.sh", "/tmp/updater.sh");
//	run_program("/sbin/sh", "/tmp/updater.sh");
package hook
