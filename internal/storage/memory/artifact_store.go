package memory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/JakeFAU/chapterforge/internal/book"
)

type artifact struct {
	data        []byte
	contentType string
	created     time.Time
}

// ArtifactStore keeps artifacts in memory. Useful for tests and single-shot
// CLI runs.
type ArtifactStore struct {
	mu      sync.RWMutex
	objects map[string]artifact
	now     func() time.Time
}

// NewArtifactStore constructs an empty ArtifactStore.
func NewArtifactStore() *ArtifactStore {
	return &ArtifactStore{
		objects: make(map[string]artifact),
		now:     time.Now,
	}
}

// NewArtifactStoreWithClock constructs an ArtifactStore that timestamps
// objects with c.
func NewArtifactStoreWithClock(c book.Clock) *ArtifactStore {
	s := NewArtifactStore()
	s.now = c.Now
	return s
}

// Put stores a copy of r's contents under key.
func (s *ArtifactStore) Put(_ context.Context, key, contentType string, r io.Reader) (string, error) {
	if key == "" {
		return "", fmt.Errorf("artifact key is required")
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read artifact: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = artifact{data: data, contentType: contentType, created: s.now()}
	return "memory://" + key, nil
}

// Open returns a reader over the stored bytes.
func (s *ArtifactStore) Open(_ context.Context, key string) (io.ReadCloser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", book.ErrArtifactNotFound, key)
	}
	return io.NopCloser(bytes.NewReader(obj.data)), nil
}

// Delete removes key if present.
func (s *ArtifactStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}

// Sweep drops artifacts created before olderThan.
func (s *ArtifactStore) Sweep(_ context.Context, olderThan time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for key, obj := range s.objects {
		if obj.created.Before(olderThan) {
			delete(s.objects, key)
			removed++
		}
	}
	return removed, nil
}

// Len reports how many artifacts are stored.
func (s *ArtifactStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}
