package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/chapterforge/internal/config"
	"github.com/JakeFAU/chapterforge/internal/storage/local"
	"github.com/JakeFAU/chapterforge/internal/storage/memory"
)

func TestNewArtifactStoreBackends(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	logger := zap.NewNop()

	store, closeFn, err := NewArtifactStore(ctx, config.ArtifactsConfig{Backend: "memory"}, logger)
	require.NoError(t, err)
	require.IsType(t, &memory.ArtifactStore{}, store)
	require.NoError(t, closeFn())

	dir := t.TempDir()
	store, closeFn, err = NewArtifactStore(ctx, config.ArtifactsConfig{Backend: "local", Dir: dir}, logger)
	require.NoError(t, err)
	localStore, ok := store.(*local.ArtifactStore)
	require.True(t, ok)
	require.Equal(t, dir, localStore.Dir())
	require.NoError(t, closeFn())

	_, closeFn, err = NewArtifactStore(ctx, config.ArtifactsConfig{Backend: "s3"}, logger)
	require.ErrorContains(t, err, "unknown artifact backend")
	require.NotNil(t, closeFn)
}

func TestNewRunRecorder(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	rec, closeFn, err := NewRunRecorder(ctx, config.HistoryConfig{Backend: "none"})
	require.NoError(t, err)
	require.Nil(t, rec)
	require.NoError(t, closeFn())

	rec, closeFn, err = NewRunRecorder(ctx, config.HistoryConfig{
		Backend: "sqlite",
		Path:    filepath.Join(t.TempDir(), "runs.db"),
	})
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.NoError(t, closeFn())

	_, _, err = NewRunRecorder(ctx, config.HistoryConfig{Backend: "mongo"})
	require.ErrorContains(t, err, "unknown history backend")
}
