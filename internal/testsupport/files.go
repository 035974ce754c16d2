package testsupport

import (
	"os"
	"path/filepath"
	"testing"
)

// WriteFile writes contents to path, creating parent directories.
func WriteFile(t testing.TB, path, contents string) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// WriteSource writes a small org document under the config base directory
// and returns its path.
func WriteSource(t testing.TB, baseDir, name string) string {
	t.Helper()

	path := filepath.Join(baseDir, "source", name)
	WriteFile(t, path, "#+TITLE: "+name+"\n\n* Heading\nBody text.\n")
	return path
}
