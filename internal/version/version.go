// Package version carries build identity, overridden at link time.
package version

import "fmt"

var (
	// Version is the current application version.
	Version = "dev"
	// GitSHA is the git commit SHA the binary was built from.
	GitSHA = "unknown"
)

// String returns a single human-readable build identifier.
func String() string {
	return fmt.Sprintf("%s (%s)", Version, GitSHA)
}
