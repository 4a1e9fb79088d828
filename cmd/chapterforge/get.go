package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/chapterforge/internal/book"
	"github.com/JakeFAU/chapterforge/internal/orchestrator"
	"github.com/JakeFAU/chapterforge/internal/progress"
	"github.com/JakeFAU/chapterforge/internal/server"
	"github.com/JakeFAU/chapterforge/internal/tui"
)

type getOptions struct {
	url      string
	quantity int
	start    int
	out      string
	noTUI    bool
}

func newGetCmd() *cobra.Command {
	var opts getOptions
	cmd := &cobra.Command{
		Use:   "get",
		Short: "Build one book and write it to disk",
		Long: `Runs a single job in-process: fetches the landing page, collects the
requested chapters and writes the assembled book to --out (or to a file named
after the title in the current directory).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runGet(cmd, opts)
		},
	}
	cmd.Flags().StringVar(&opts.url, "url", "", "landing page of the novel")
	cmd.Flags().IntVar(&opts.quantity, "quantity", 0, "number of chapters to fetch")
	cmd.Flags().IntVar(&opts.start, "start", 1, "first chapter (1-based)")
	cmd.Flags().StringVar(&opts.out, "out", "", "output path (default: <title>.<ext>)")
	cmd.Flags().BoolVar(&opts.noTUI, "no-tui", false, "log progress instead of drawing a progress bar")
	_ = cmd.MarkFlagRequired("url")      //nolint:errcheck // flag exists
	_ = cmd.MarkFlagRequired("quantity") //nolint:errcheck // flag exists
	return cmd
}

func runGet(cmd *cobra.Command, opts getOptions) error {
	e, err := resolveEnv(cmd.Context())
	if err != nil {
		return err
	}
	cfg := e.cfg
	cfg.Artifacts.Backend = "memory"

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	app, err := server.Build(ctx, cfg, e.logger)
	if err != nil {
		return fmt.Errorf("build app: %w", err)
	}
	defer func() {
		closeCtx, closeCancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
		defer closeCancel()
		if cerr := app.Close(closeCtx); cerr != nil {
			e.logger.Warn("Shutdown incomplete", zap.Error(cerr))
		}
	}()
	app.Start(ctx)

	orch := app.Orchestrator()
	job, err := orch.Submit(ctx, book.Request{Source: opts.url, Start: opts.start, Quantity: opts.quantity})
	if err != nil {
		return fmt.Errorf("submit: %w", err)
	}
	e.logger.Info("Job submitted", zap.String("job_id", job.ID), zap.String("url", opts.url))

	final, err := follow(ctx, cancel, orch, job.ID, opts.noTUI, cmd.ErrOrStderr(), e.logger)
	if err != nil {
		return err
	}
	if final.Err != nil {
		return fmt.Errorf("job %s: %w", job.ID, final.Err)
	}
	if final.Status != book.JobStatusCompleted {
		return fmt.Errorf("job %s failed: %s", job.ID, final.Error)
	}

	path, err := save(ctx, orch, job.ID, opts.out)
	if err != nil {
		return err
	}
	if err := orch.Cleanup(ctx, job.ID); err != nil {
		e.logger.Warn("Cleanup failed", zap.String("job_id", job.ID), zap.Error(err))
	}
	fmt.Fprintln(cmd.OutOrStdout(), path)
	return nil
}

func follow(
	ctx context.Context,
	cancel context.CancelFunc,
	orch *orchestrator.Orchestrator,
	jobID string,
	noTUI bool,
	out io.Writer,
	logger *zap.Logger,
) (progress.Snapshot, error) {
	events := orch.Events(ctx, jobID)
	if !noTUI {
		return tui.Run(ctx, jobID, events, cancel, out)
	}

	var last progress.Snapshot
	for snap := range events {
		last = snap
		logger.Info("Progress",
			zap.String("job_id", jobID),
			zap.String("status", string(snap.Status)),
			zap.Int("progress", snap.Progress),
		)
	}
	if err := ctx.Err(); err != nil && !last.Status.Terminal() {
		return last, err
	}
	return last, nil
}

func save(ctx context.Context, orch *orchestrator.Orchestrator, jobID, out string) (string, error) {
	rc, job, err := orch.Retrieve(ctx, jobID)
	if err != nil {
		return "", fmt.Errorf("retrieve: %w", err)
	}
	defer rc.Close()

	path := out
	if path == "" {
		path = job.Artifact.Filename
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("create output dir: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", path, err)
	}
	if _, err := io.Copy(f, rc); err != nil {
		_ = f.Close()
		return "", errors.Join(fmt.Errorf("write %s: %w", path, err), os.Remove(path))
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close %s: %w", path, err)
	}
	return path, nil
}
