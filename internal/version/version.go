// Package version carries build metadata injected at link time:
// go build -ldflags "-X git.home.luguber.info/inful/anchorstream/internal/version.Version=v0.3.0".
package version

import "fmt"

// Version is the release tag.
var Version = "dev"

// BuildInfo contains additional build metadata.
var (
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// String renders the full version line printed by the CLI.
func String() string {
	return fmt.Sprintf("anchorstream %s (commit %s, built %s)", Version, GitCommit, BuildTime)
}
