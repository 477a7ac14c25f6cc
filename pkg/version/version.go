// Package version holds the bunsen binary's build-time version stamps.
package version

// Version, Commit, and Date are set via -ldflags at build time
// (-X github.com/bunsen-project/bunsen/pkg/version.Version=...). They stay
// at their placeholder values for a `go build` with no ldflags, e.g. tests
// and local development builds.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// InitBinaryVersion puts the placeholder back into any stamp that -ldflags
// set to the empty string, so `bunsen version` never prints an empty
// field.
func InitBinaryVersion() {
	if Version == "" {
		Version = "dev"
	}

	if Commit == "" {
		Commit = "none"
	}

	if Date == "" {
		Date = "unknown"
	}
}
