package artifacts

import (
	"errors"
	"fmt"
	"io/fs"
	"mime"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/rhuss/antwort-sandbox/pkg/api"
	"github.com/rhuss/antwort-sandbox/pkg/debug"
	"github.com/rhuss/antwort-sandbox/pkg/observability"
)

// ErrOutsideWorkspace is returned when a storage path would resolve outside
// the session workspace.
var ErrOutsideWorkspace = errors.New("path escapes the session workspace")

// FileState is what a snapshot records per file.
type FileState struct {
	Size    int64
	ModTime time.Time
}

// Manifest maps slash-separated paths, relative to the snapshot root, to
// their state.
type Manifest map[string]FileState

// Collector snapshots execution directories and diffs them.
type Collector struct {
	maxBytes int64
	exclude  []string
}

// NewCollector returns a Collector. Files larger than maxBytes are reported
// as metadata-only; zero disables the ceiling. Top-level entries named in
// exclude are never snapshotted.
func NewCollector(maxBytes int64, exclude ...string) *Collector {
	return &Collector{maxBytes: maxBytes, exclude: exclude}
}

// Snapshot walks dir and records every regular file. Symlinks are skipped
// and never followed.
func (c *Collector) Snapshot(dir string) (Manifest, error) {
	m := make(Manifest)
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == dir {
				return err
			}
			// Files may vanish while the walk is in progress.
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if p == dir {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if d.IsDir() {
			if c.excluded(rel) {
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || c.excluded(rel) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		m[rel] = FileState{Size: info.Size(), ModTime: info.ModTime()}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", dir, err)
	}
	return m, nil
}

func (c *Collector) excluded(rel string) bool {
	top, _, _ := strings.Cut(rel, "/")
	return slices.Contains(c.exclude, top)
}

// Collect snapshots dir again and returns a reference for every file that
// is new or changed since before, sorted by path. Storage paths are prefix
// joined with the path relative to dir; prefix is the location of dir
// inside the session workspace. IDs are left empty for the Registry.
func (c *Collector) Collect(dir string, before Manifest, prefix string) ([]api.ArtifactRef, error) {
	after, err := c.Snapshot(dir)
	if err != nil {
		return nil, err
	}

	var paths []string
	for rel, st := range after {
		prev, ok := before[rel]
		if !ok || prev.Size != st.Size || !prev.ModTime.Equal(st.ModTime) {
			paths = append(paths, rel)
		}
	}
	slices.Sort(paths)

	refs := make([]api.ArtifactRef, 0, len(paths))
	for _, rel := range paths {
		st := after[rel]
		storage := path.Join(prefix, rel)
		if !filepath.IsLocal(filepath.FromSlash(storage)) {
			return nil, fmt.Errorf("%w: %s", ErrOutsideWorkspace, storage)
		}
		ref := api.ArtifactRef{
			Name:         rel,
			MimeType:     MimeType(rel),
			SizeBytes:    st.Size,
			StoragePath:  storage,
			Visibility:   visibility(rel),
			Category:     Categorize(rel),
			Materialized: c.maxBytes <= 0 || st.Size <= c.maxBytes,
		}
		if !ref.Materialized {
			debug.Log("artifacts", "over size ceiling", "path", storage, "size", st.Size, "ceiling", c.maxBytes)
		}
		observability.ArtifactsTotal.WithLabelValues(string(ref.Category), string(ref.Visibility)).Inc()
		refs = append(refs, ref)
	}
	return refs, nil
}

// Locate resolves ref to a host path under sessionRoot.
func Locate(sessionRoot string, ref api.ArtifactRef) (string, error) {
	rel := filepath.FromSlash(ref.StoragePath)
	if !filepath.IsLocal(rel) {
		return "", fmt.Errorf("%w: %s", ErrOutsideWorkspace, ref.StoragePath)
	}
	return filepath.Join(sessionRoot, rel), nil
}

var mimeTypes = map[string]string{
	".png":     "image/png",
	".jpg":     "image/jpeg",
	".jpeg":    "image/jpeg",
	".gif":     "image/gif",
	".svg":     "image/svg+xml",
	".webp":    "image/webp",
	".pdf":     "application/pdf",
	".html":    "text/html; charset=utf-8",
	".htm":     "text/html; charset=utf-8",
	".md":      "text/markdown; charset=utf-8",
	".txt":     "text/plain; charset=utf-8",
	".log":     "text/plain; charset=utf-8",
	".csv":     "text/csv; charset=utf-8",
	".tsv":     "text/tab-separated-values; charset=utf-8",
	".json":    "application/json",
	".jsonl":   "application/x-ndjson",
	".parquet": "application/vnd.apache.parquet",
	".feather": "application/vnd.apache.arrow.file",
	".xlsx":    "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	".xls":     "application/vnd.ms-excel",
	".docx":    "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".rds":     "application/x-rds",
	".rdata":   "application/x-rdata",
	".pkl":     "application/octet-stream",
}

// MimeType guesses a content type from the extension.
func MimeType(name string) string {
	ext := strings.ToLower(path.Ext(name))
	if t, ok := mimeTypes[ext]; ok {
		return t
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	return "application/octet-stream"
}

// Categorize assigns an advisory display category. It never gates inclusion.
func Categorize(name string) api.ArtifactCategory {
	switch strings.ToLower(path.Ext(name)) {
	case ".png", ".jpg", ".jpeg", ".gif", ".svg", ".webp":
		return api.CategoryChart
	case ".pdf", ".html", ".htm", ".md", ".docx":
		return api.CategoryReport
	case ".csv", ".tsv", ".json", ".jsonl", ".parquet", ".feather", ".xlsx", ".xls", ".rds", ".rdata":
		return api.CategoryData
	default:
		return api.CategoryOther
	}
}

// visibility marks scratch output as internal: hidden files or directories
// and anything under tmp/ or __pycache__/.
func visibility(rel string) api.Visibility {
	for i, seg := range strings.Split(rel, "/") {
		if strings.HasPrefix(seg, ".") || seg == "__pycache__" || (i == 0 && seg == "tmp") {
			return api.VisibilityInternal
		}
	}
	return api.VisibilityExposed
}
