// Package version holds build metadata set with -ldflags, e.g.
//
//	go build -ldflags "-X aigateway/internal/version.Version=v1.2.0"
package version

import "fmt"

// Build metadata
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// Info returns a single-line description of the build.
func Info() string {
	return fmt.Sprintf("aigateway %s (commit %s, built %s)", Version, Commit, Date)
}
