// Package buildinfo holds version metadata stamped in at link time.
package buildinfo

// Set via -ldflags "-X github.com/modoterra/pulsebar/internal/buildinfo.Version=...".
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)
