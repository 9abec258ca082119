package config

import (
	"os"
	"path/filepath"
	"testing"
)

// fixture returns a file under testdata.
func fixture(name string) string {
	return filepath.Join("testdata", name)
}

// writeConfig stores content as filehub.toml in a fresh temp dir.
func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "filehub.toml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}
