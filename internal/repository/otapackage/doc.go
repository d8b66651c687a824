// Package otapackage opens a full OTA zip, lets the install-end hook stage
// files and append updater-script statements, and writes the result back.
//
// Untouched entries are copied raw from the source archive, so their names,
// order, compression, mode and modification time stay exactly as built.
// Commit streams the new archive next to the target and swaps it in
// atomically with checksum verification, so a failed run never leaves a
// truncated package.
package otapackage
