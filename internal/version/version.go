// Package version holds build metadata injected at link time.
package version

// Set via -ldflags "-X github.com/wisbric/courier/internal/version.Version=... -X github.com/wisbric/courier/internal/version.Commit=...".
var (
	Version = "dev"
	Commit  = "unknown"
)
