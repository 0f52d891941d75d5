// Package buildinfo carries version identifiers stamped at build time via
// -ldflags, with development fallbacks.
package buildinfo

var (
	// Version is the release tag, overridden by the build.
	Version = "dev"
	// Commit is the short VCS hash, overridden by the build.
	Commit = "unknown"
)
