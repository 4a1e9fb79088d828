package storage

import (
	"context"
	"io"
	"time"

	"github.com/stretchr/testify/mock"
)

// MockArtifactStore is a testify mock of book.ArtifactStore.
type MockArtifactStore struct {
	mock.Mock
}

// Put records the call and drains r so callers see a realistic write.
func (m *MockArtifactStore) Put(ctx context.Context, key, contentType string, r io.Reader) (string, error) {
	_, _ = io.Copy(io.Discard, r)
	args := m.Called(ctx, key, contentType)
	return args.String(0), args.Error(1) //nolint:wrapcheck
}

// Open is the mock implementation of Open.
func (m *MockArtifactStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	args := m.Called(ctx, key)
	rc, _ := args.Get(0).(io.ReadCloser)
	return rc, args.Error(1) //nolint:wrapcheck
}

// Delete is the mock implementation of Delete.
func (m *MockArtifactStore) Delete(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0) //nolint:wrapcheck
}

// Sweep is the mock implementation of Sweep.
func (m *MockArtifactStore) Sweep(ctx context.Context, olderThan time.Time) (int, error) {
	args := m.Called(ctx, olderThan)
	return args.Int(0), args.Error(1) //nolint:wrapcheck
}
