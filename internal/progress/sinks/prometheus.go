package sinks

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/chapterforge/internal/progress"
)

// PrometheusSink turns lifecycle events into job and unit histograms.
type PrometheusSink struct {
	jobsStarted    prometheus.Counter
	jobRuntime     *prometheus.HistogramVec
	jobThroughput  prometheus.Histogram
	unitsCompleted *prometheus.CounterVec
	unitDuration   *prometheus.HistogramVec
	unitFailures   *prometheus.CounterVec
}

// NewPrometheusSink registers the collectors against reg (the default
// registerer when nil).
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		jobsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chapterforge_progress_jobs_started_total",
			Help: "Jobs that reached the processing state.",
		}),
		jobRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chapterforge_job_runtime_seconds",
			Help:    "Wall time per finished job.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}, []string{"result"}),
		jobThroughput: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "chapterforge_job_units_per_second",
			Help:    "Unit throughput per completed job.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}),
		unitsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chapterforge_progress_units_total",
			Help: "Unit outcomes partitioned by site.",
		}, []string{"site", "result"}),
		unitDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chapterforge_unit_duration_seconds",
			Help:    "Time to retrieve a unit including retries.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"site"}),
		unitFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chapterforge_unit_failures_total",
			Help: "Units that exhausted retries, partitioned by failure kind.",
		}, []string{"kind"}),
	}
	for _, collector := range []prometheus.Collector{
		s.jobsStarted,
		s.jobRuntime,
		s.jobThroughput,
		s.unitsCompleted,
		s.unitDuration,
		s.unitFailures,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		site := evt.Site
		if site == "" {
			site = "unknown"
		}
		switch evt.Stage {
		case progress.StageJobStart:
			s.jobsStarted.Inc()
		case progress.StageUnitDone:
			s.unitsCompleted.WithLabelValues(site, "ok").Inc()
			if evt.Dur > 0 {
				s.unitDuration.WithLabelValues(site).Observe(evt.Dur.Seconds())
			}
		case progress.StageUnitFailed:
			s.unitsCompleted.WithLabelValues(site, "failed").Inc()
			kind := evt.Kind
			if kind == "" {
				kind = "unknown"
			}
			s.unitFailures.WithLabelValues(kind).Inc()
		case progress.StageJobDone:
			s.observeRun(evt, "completed")
			if evt.Run != nil && evt.Run.UnitsPerSecond > 0 {
				s.jobThroughput.Observe(evt.Run.UnitsPerSecond)
			}
		case progress.StageJobFailed:
			s.observeRun(evt, "failed")
		}
	}
	return nil
}

func (s *PrometheusSink) observeRun(evt progress.Event, result string) {
	if evt.Run != nil && evt.Run.Duration > 0 {
		s.jobRuntime.WithLabelValues(result).Observe(evt.Run.Duration.Seconds())
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
