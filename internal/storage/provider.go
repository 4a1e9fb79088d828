// Package storage selects the artifact backend named in configuration.
package storage

import (
	"context"
	"fmt"

	gcsstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/chapterforge/internal/book"
	"github.com/JakeFAU/chapterforge/internal/config"
	"github.com/JakeFAU/chapterforge/internal/storage/gcs"
	"github.com/JakeFAU/chapterforge/internal/storage/local"
	"github.com/JakeFAU/chapterforge/internal/storage/memory"
	"github.com/JakeFAU/chapterforge/internal/storage/postgres"
	"github.com/JakeFAU/chapterforge/internal/storage/sqlite"
)

// NewArtifactStore builds the configured backend. The returned close func is
// never nil.
func NewArtifactStore(
	ctx context.Context,
	cfg config.ArtifactsConfig,
	logger *zap.Logger,
) (book.ArtifactStore, func() error, error) {
	noop := func() error { return nil }
	switch cfg.Backend {
	case "memory":
		return memory.NewArtifactStore(), noop, nil
	case "", "local":
		store, err := local.New(local.Config{BaseDir: cfg.Dir})
		if err != nil {
			return nil, noop, fmt.Errorf("local artifact store: %w", err)
		}
		logger.Info("Using local artifact store", zap.String("dir", store.Dir()))
		return store, noop, nil
	case "gcs":
		client, err := gcsstorage.NewClient(ctx)
		if err != nil {
			return nil, noop, fmt.Errorf("create GCS client: %w", err)
		}
		// Fail fast on a missing bucket or missing permissions.
		if _, err := client.Bucket(cfg.Bucket).Attrs(ctx); err != nil {
			if closeErr := client.Close(); closeErr != nil {
				logger.Warn("Failed to close GCS client after bucket check", zap.Error(closeErr))
			}
			return nil, noop, fmt.Errorf("get GCS bucket %q attributes: %w", cfg.Bucket, err)
		}
		store, err := gcs.New(client, gcs.Config{Bucket: cfg.Bucket, Prefix: cfg.Prefix})
		if err != nil {
			_ = client.Close()
			return nil, noop, err
		}
		logger.Info("Using GCS artifact store", zap.String("bucket", cfg.Bucket), zap.String("prefix", cfg.Prefix))
		return store, client.Close, nil
	default:
		return nil, noop, fmt.Errorf("unknown artifact backend %q", cfg.Backend)
	}
}

// NewRunRecorder opens the configured run history. A nil recorder means
// history is disabled.
func NewRunRecorder(ctx context.Context, cfg config.HistoryConfig) (book.RunRecorder, func() error, error) {
	noop := func() error { return nil }
	switch cfg.Backend {
	case "", "none":
		return nil, noop, nil
	case "sqlite":
		store, err := sqlite.New(cfg.Path)
		if err != nil {
			return nil, noop, fmt.Errorf("sqlite run history: %w", err)
		}
		return store, store.Close, nil
	case "postgres":
		store, err := postgres.NewRunStore(ctx, postgres.Config{DSN: cfg.DSN, Table: cfg.Table})
		if err != nil {
			return nil, noop, fmt.Errorf("postgres run history: %w", err)
		}
		return store, func() error { store.Close(); return nil }, nil
	default:
		return nil, noop, fmt.Errorf("unknown history backend %q", cfg.Backend)
	}
}
