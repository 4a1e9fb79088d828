package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/chapterforge/internal/progress"
)

// LogSink writes each event as a structured log line.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event. Unit successes log at debug.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("job_id", evt.JobID),
			zap.String("stage", string(evt.Stage)),
			zap.Int("progress", evt.Progress),
		}
		if evt.Site != "" {
			fields = append(fields, zap.String("site", evt.Site))
		}
		if evt.URL != "" {
			fields = append(fields, zap.String("url", evt.URL), zap.Int("index", evt.Index))
		}
		if evt.Kind != "" {
			fields = append(fields, zap.String("kind", evt.Kind))
		}
		if evt.Dur > 0 {
			fields = append(fields, zap.Duration("dur", evt.Dur))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		if run := evt.Run; run != nil {
			fields = append(fields,
				zap.Int("units_succeeded", run.UnitsSucceeded),
				zap.Int("units_failed", run.UnitsFailed),
				zap.Float64("units_per_second", run.UnitsPerSecond),
			)
		}
		switch evt.Stage {
		case progress.StageUnitDone:
			s.logger.Debug("Progress event", fields...)
		case progress.StageUnitFailed, progress.StageJobFailed:
			s.logger.Warn("Progress event", fields...)
		default:
			s.logger.Info("Progress event", fields...)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
