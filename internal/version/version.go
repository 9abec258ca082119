package version

import (
	"fmt"
	"runtime"
)

// Version and Commit are set at build time through -ldflags.
var (
	Version = "0.1.0"
	Commit  = "dev"
)

// Info is the build metadata reported by the binaries and /-/version.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	GoVersion string `json:"go_version"`
}

// Get returns the current build metadata.
func Get() Info {
	return Info{Version: Version, Commit: Commit, GoVersion: runtime.Version()}
}

// Full returns the one-line banner, e.g. "filehub 0.1.0 (dev)".
func Full() string {
	return fmt.Sprintf("filehub %s (%s)", Version, Commit)
}
