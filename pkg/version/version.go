// Package version carries build metadata stamped at link time.
package version

// Set via -ldflags at build time.
var (
	// Version is the release version.
	Version = "dev"
	// Commit is the Git hash of the arcflow binary which is executing.
	Commit = "<unknown>"
	// Date is the build timestamp.
	Date = "<unknown>"
)
