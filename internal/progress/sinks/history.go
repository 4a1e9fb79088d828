package sinks

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/chapterforge/internal/book"
	"github.com/JakeFAU/chapterforge/internal/progress"
)

// HistorySink writes a run record for every finished job.
type HistorySink struct {
	recorder book.RunRecorder
	logger   *zap.Logger
}

// NewHistorySink constructs a HistorySink for the provided recorder.
func NewHistorySink(recorder book.RunRecorder, logger *zap.Logger) *HistorySink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HistorySink{recorder: recorder, logger: logger}
}

// Consume records terminal events. One failing record does not stop the
// rest of the batch; the errors are joined.
func (s *HistorySink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.recorder == nil {
		return nil
	}
	var errs []error
	for _, evt := range batch {
		if !evt.Stage.Terminal() || evt.Run == nil {
			continue
		}
		if err := s.recorder.RecordRun(ctx, *evt.Run); err != nil {
			errs = append(errs, fmt.Errorf("record run %s: %w", evt.JobID, err))
			continue
		}
		s.logger.Debug("Run recorded", zap.String("job_id", evt.JobID), zap.String("status", string(evt.Run.Status)))
	}
	return errors.Join(errs...)
}

// Close implements the Sink interface; it performs no action.
func (s *HistorySink) Close(context.Context) error {
	return nil
}
