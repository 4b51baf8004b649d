package artifacts

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rhuss/antwort-sandbox/pkg/api"
)

func write(t *testing.T, dir, rel string, data string) {
	t.Helper()
	p := filepath.Join(dir, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestCollectNewFiles(t *testing.T) {
	dir := t.TempDir()
	c := NewCollector(0, ".sandbox", "datasets")
	write(t, dir, ".sandbox/main.py", "print(1)")
	write(t, dir, "datasets/sales.csv", "a,b\n1,2\n")

	before, err := c.Snapshot(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(before) != 0 {
		t.Fatalf("harness paths should be excluded, got %v", before)
	}

	write(t, dir, "plot.png", "\x89PNG....")
	write(t, dir, "out/summary.csv", "x\n1\n")
	write(t, dir, ".sandbox/scratch", "ignored")

	refs, err := c.Collect(dir, before, "exec_1")
	if err != nil {
		t.Fatal(err)
	}
	if len(refs) != 2 {
		t.Fatalf("got %d artifacts, want 2: %+v", len(refs), refs)
	}
	png, csv := refs[1], refs[0]
	if csv.Name != "out/summary.csv" || png.Name != "plot.png" {
		t.Fatalf("unexpected order or names: %q, %q", refs[0].Name, refs[1].Name)
	}
	if png.StoragePath != "exec_1/plot.png" {
		t.Errorf("storage_path = %q", png.StoragePath)
	}
	if png.SizeBytes != 8 {
		t.Errorf("size = %d, want 8", png.SizeBytes)
	}
	if png.MimeType != "image/png" || png.Category != api.CategoryChart {
		t.Errorf("png classified as %q / %q", png.MimeType, png.Category)
	}
	if csv.Category != api.CategoryData || csv.Visibility != api.VisibilityExposed {
		t.Errorf("csv classified as %q / %q", csv.Category, csv.Visibility)
	}
	if !png.Materialized {
		t.Error("no ceiling configured, expected materialized")
	}
	if png.ID != "" {
		t.Error("collector must leave ids to the registry")
	}
}

func TestCollectChangedFiles(t *testing.T) {
	dir := t.TempDir()
	c := NewCollector(0)
	write(t, dir, "keep.txt", "same")
	write(t, dir, "touched.txt", "aaaa")
	old := time.Now().Add(-time.Hour)
	for _, name := range []string{"keep.txt", "touched.txt"} {
		if err := os.Chtimes(filepath.Join(dir, name), old, old); err != nil {
			t.Fatal(err)
		}
	}
	before, err := c.Snapshot(dir)
	if err != nil {
		t.Fatal(err)
	}

	write(t, dir, "touched.txt", "bbbb")

	refs, err := c.Collect(dir, before, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(refs) != 1 || refs[0].Name != "touched.txt" {
		t.Fatalf("got %+v, want only touched.txt", refs)
	}
}

func TestCollectSkipsSymlinks(t *testing.T) {
	dir := t.TempDir()
	outside := t.TempDir()
	write(t, outside, "secret", "x")
	c := NewCollector(0)
	before, _ := c.Snapshot(dir)

	if err := os.Symlink(filepath.Join(outside, "secret"), filepath.Join(dir, "link")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}
	if err := os.Symlink(outside, filepath.Join(dir, "linkdir")); err != nil {
		t.Fatal(err)
	}
	refs, err := c.Collect(dir, before, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(refs) != 0 {
		t.Fatalf("symlinks must not become artifacts: %+v", refs)
	}
}

func TestCollectSizeCeiling(t *testing.T) {
	dir := t.TempDir()
	c := NewCollector(4)
	before, _ := c.Snapshot(dir)
	write(t, dir, "small.json", "{}")
	write(t, dir, "big.json", "[1,2,3,4,5]")

	refs, err := c.Collect(dir, before, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(refs) != 2 {
		t.Fatalf("oversized files are still reported, got %d", len(refs))
	}
	for _, r := range refs {
		want := r.Name == "small.json"
		if r.Materialized != want {
			t.Errorf("%s materialized = %v, want %v", r.Name, r.Materialized, want)
		}
	}
}

func TestVisibility(t *testing.T) {
	tests := map[string]api.Visibility{
		"plot.png":                  api.VisibilityExposed,
		"out/table.csv":             api.VisibilityExposed,
		".cache/x":                  api.VisibilityInternal,
		"out/.hidden.png":           api.VisibilityInternal,
		"tmp/scratch.csv":           api.VisibilityInternal,
		"out/tmp/keep.csv":          api.VisibilityExposed,
		"__pycache__/m.cpython.pyc": api.VisibilityInternal,
	}
	for rel, want := range tests {
		if got := visibility(rel); got != want {
			t.Errorf("visibility(%q) = %q, want %q", rel, got, want)
		}
	}
}

func TestCategorize(t *testing.T) {
	tests := map[string]api.ArtifactCategory{
		"a.SVG":     api.CategoryChart,
		"r.html":    api.CategoryReport,
		"d.parquet": api.CategoryData,
		"model.bin": api.CategoryOther,
		"noext":     api.CategoryOther,
	}
	for name, want := range tests {
		if got := Categorize(name); got != want {
			t.Errorf("Categorize(%q) = %q, want %q", name, got, want)
		}
	}
	if got := MimeType("blob.zzz-unknown"); got != "application/octet-stream" {
		t.Errorf("fallback mime = %q", got)
	}
}

func TestLocate(t *testing.T) {
	root := t.TempDir()
	p, err := Locate(root, api.ArtifactRef{StoragePath: "exec_1/plot.png"})
	if err != nil {
		t.Fatal(err)
	}
	if p != filepath.Join(root, "exec_1", "plot.png") {
		t.Errorf("path = %q", p)
	}
	for _, bad := range []string{"../x", "/etc/passwd", "a/../../x", ""} {
		if _, err := Locate(root, api.ArtifactRef{StoragePath: bad}); !errors.Is(err, ErrOutsideWorkspace) {
			t.Errorf("Locate(%q) err = %v", bad, err)
		}
	}
}
