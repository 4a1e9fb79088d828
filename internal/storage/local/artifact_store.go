// Package local keeps artifacts on the local filesystem, by default under
// the OS temp directory.
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/JakeFAU/chapterforge/internal/book"
)

// Config captures the parameters for the local artifact store.
type Config struct {
	// BaseDir is the root directory for artifacts. Empty means
	// os.TempDir()/chapterforge.
	BaseDir string
}

// ArtifactStore writes artifacts below a base directory.
type ArtifactStore struct {
	baseDir string
}

// New creates the base directory if needed and checks it is writable.
func New(cfg Config) (*ArtifactStore, error) {
	dir := strings.TrimSpace(cfg.BaseDir)
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "chapterforge")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create artifact directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".writable-*")
	if err != nil {
		return nil, fmt.Errorf("artifact directory is not writable: %w", err)
	}
	_ = tmp.Close()
	if err := os.Remove(tmp.Name()); err != nil {
		return nil, fmt.Errorf("clean up writability check file: %w", err)
	}
	return &ArtifactStore{baseDir: filepath.Clean(dir)}, nil
}

// Dir returns the base directory.
func (s *ArtifactStore) Dir() string { return s.baseDir }

// Put streams r into key. The file appears atomically via rename.
func (s *ArtifactStore) Put(_ context.Context, key, _ string, r io.Reader) (string, error) {
	full, err := s.path(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o750); err != nil {
		return "", fmt.Errorf("create parent directories: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(full), ".partial-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	if _, err := io.Copy(tmp, r); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("write artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("close artifact: %w", err)
	}
	if err := os.Rename(tmp.Name(), full); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("publish artifact: %w", err)
	}
	return "file://" + full, nil
}

// Open returns a reader for key or book.ErrArtifactNotFound.
func (s *ArtifactStore) Open(_ context.Context, key string) (io.ReadCloser, error) {
	full, err := s.path(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(full) //nolint:gosec // path is confined to baseDir
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", book.ErrArtifactNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("open artifact: %w", err)
	}
	return f, nil
}

// Delete removes key. Missing files are not an error.
func (s *ArtifactStore) Delete(_ context.Context, key string) error {
	full, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete artifact: %w", err)
	}
	return nil
}

// Sweep removes files last modified before olderThan and returns how many
// were deleted. In-flight ".partial-" files are swept too once stale.
func (s *ArtifactStore) Sweep(ctx context.Context, olderThan time.Time) (int, error) {
	removed := 0
	err := filepath.WalkDir(s.baseDir, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return nil //nolint:nilerr // skip unreadable entries
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil || !info.ModTime().Before(olderThan) {
			return nil //nolint:nilerr // vanished between listing and stat
		}
		if err := os.Remove(p); err == nil {
			removed++
		}
		return nil
	})
	if err != nil {
		return removed, fmt.Errorf("sweep artifacts: %w", err)
	}
	return removed, nil
}

func (s *ArtifactStore) path(key string) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", fmt.Errorf("artifact key is required")
	}
	full := filepath.Clean(filepath.Join(s.baseDir, key))
	if !strings.HasPrefix(full, s.baseDir+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal detected for key %q", key)
	}
	return full, nil
}
