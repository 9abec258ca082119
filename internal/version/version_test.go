package version

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFullIncludesCommit(t *testing.T) {
	prevVersion, prevCommit := Version, Commit
	t.Cleanup(func() { Version, Commit = prevVersion, prevCommit })

	Version, Commit = "1.2.3", "abc123"
	assert.Equal(t, "filehub 1.2.3 (abc123)", Full())
	assert.Equal(t, Info{Version: "1.2.3", Commit: "abc123", GoVersion: runtime.Version()}, Get())
}
