// Package edify renders statements of the recovery updater-script language.
//
// Only string-argument function calls are supported, which covers the
// statements OTA hooks append to a package.
package edify
