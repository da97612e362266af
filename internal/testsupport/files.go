package testsupport

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// WriteFile fills the target path with the requested number of bytes using a
// simple repeating pattern. A size <= 0 writes a single byte.
func WriteFile(t testing.TB, path string, size int64) {
	t.Helper()

	if size <= 0 {
		size = 1
	}
	WriteText(t, path, strings.Repeat("B", int(size)))
}

// WriteText writes contents to path, creating parent directories.
func WriteText(t testing.TB, path, contents string) string {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

// ReadText returns the contents of path, failing the test when unreadable.
func ReadText(t testing.TB, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(data)
}

// StandardPanel is a small panel with nuclear, membrane and cytoplasm roles.
const StandardPanel = "channel,role\nDNA1,nuclear\nDNA2,nuclear\nCD45,membrane\nVimentin,cytoplasm\n"

// WriteProject writes a manifest listing samples (with raw inputs under
// raw/), the standard panel, the model and the quantification pipeline at
// the locations NewConfig points to.
func WriteProject(t testing.TB, base string, samples ...string) {
	t.Helper()
	var manifest strings.Builder
	manifest.WriteString("sample_name,input_path\n")
	for _, name := range samples {
		manifest.WriteString(name + ",../raw/" + name + ".mcd\n")
		WriteFile(t, filepath.Join(base, "raw", name+".mcd"), 16)
	}
	WriteText(t, filepath.Join(base, "metadata", "samples.csv"), manifest.String())
	WriteText(t, filepath.Join(base, "metadata", "panel.csv"), StandardPanel)
	WriteFile(t, filepath.Join(base, "models", "classifier.ilp"), 16)
	WriteFile(t, filepath.Join(base, "pipelines", "quant.cppipe"), 16)
}
