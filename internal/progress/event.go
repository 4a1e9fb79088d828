package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/JakeFAU/chapterforge/internal/book"
)

// Stage names a lifecycle milestone.
type Stage string

// Supported stages.
const (
	StageJobStart   Stage = "job_start"
	StageUnitDone   Stage = "unit_done"
	StageUnitFailed Stage = "unit_failed"
	StageJobDone    Stage = "job_done"
	StageJobFailed  Stage = "job_failed"
)

// Terminal reports whether the stage ends a job.
func (s Stage) Terminal() bool {
	return s == StageJobDone || s == StageJobFailed
}

// Event is one milestone of a job.
type Event struct {
	JobID string
	TS    time.Time
	Stage Stage
	// Site is the provider name, used as a metrics label.
	Site string
	// URL and Index identify the unit for unit events.
	URL   string
	Index int
	// Kind is the failure classification for unit_failed and job_failed.
	Kind string
	Dur  time.Duration
	// Progress is the job percentage at the time of the event.
	Progress int
	Note     string
	// Run summarizes the finished job; set on terminal stages only.
	Run *book.RunRecord
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.JobID == "" {
		return errors.New("job id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageJobStart:
	case StageUnitDone, StageUnitFailed:
		if e.URL == "" {
			return fmt.Errorf("%s requires url", e.Stage)
		}
	case StageJobDone, StageJobFailed:
		if e.Run == nil {
			return fmt.Errorf("%s requires a run summary", e.Stage)
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}
