// Package version carries build-time version metadata for the qym
// binary. Values are injected via -ldflags at release build time.
package version

// Build metadata, overridden by the linker.
var (
	// Version is the semantic version of the binary.
	Version = "dev"

	// Commit is the git commit the binary was built from.
	Commit = "<unknown>"

	// Date is the build timestamp.
	Date = "<unknown>"
)
