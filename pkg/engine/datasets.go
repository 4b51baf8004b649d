package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

var (
	// ErrDatasetNotFound is returned when a storage reference does not
	// resolve to a readable dataset.
	ErrDatasetNotFound = errors.New("dataset not found")

	// ErrDatasetTooLarge is returned when a dataset exceeds the staging
	// ceiling.
	ErrDatasetTooLarge = errors.New("dataset exceeds size limit")
)

// DatasetSource opens datasets by storage reference.
type DatasetSource interface {
	Open(ctx context.Context, ref string) (io.ReadCloser, error)
}

// FileSource serves datasets from a directory. References are slash
// separated paths relative to the directory and cannot escape it.
type FileSource struct {
	root string
}

var _ DatasetSource = (*FileSource)(nil)

// NewFileSource returns a FileSource rooted at dir.
func NewFileSource(dir string) *FileSource {
	return &FileSource{root: dir}
}

// Open implements DatasetSource.
func (s *FileSource) Open(_ context.Context, ref string) (io.ReadCloser, error) {
	name := filepath.FromSlash(ref)
	if !filepath.IsLocal(name) {
		return nil, fmt.Errorf("%w: %q is outside the dataset root", ErrDatasetNotFound, ref)
	}
	root, err := os.OpenRoot(s.root)
	if err != nil {
		return nil, fmt.Errorf("opening dataset root: %w", err)
	}
	defer root.Close()

	f, err := root.Open(name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrDatasetNotFound, ref)
		}
		return nil, fmt.Errorf("opening dataset %s: %w", ref, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("opening dataset %s: %w", ref, err)
	}
	if !info.Mode().IsRegular() {
		f.Close()
		return nil, fmt.Errorf("%w: %s is not a regular file", ErrDatasetNotFound, ref)
	}
	return f, nil
}

// stageDataset copies ref from src to dst and makes the copy read-only.
// maxBytes of zero disables the size check.
func stageDataset(ctx context.Context, src DatasetSource, ref, dst string, maxBytes int64) error {
	if src == nil {
		return fmt.Errorf("%w: no dataset source configured", ErrDatasetNotFound)
	}
	rc, err := src.Open(ctx, ref)
	if err != nil {
		return err
	}
	defer rc.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}

	var r io.Reader = rc
	if maxBytes > 0 {
		r = io.LimitReader(rc, maxBytes+1)
	}
	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("staging dataset %s: %w", ref, err)
	}
	if maxBytes > 0 && n > maxBytes {
		return fmt.Errorf("%w: %s is larger than %d bytes", ErrDatasetTooLarge, ref, maxBytes)
	}
	return os.Chmod(dst, 0o444)
}
