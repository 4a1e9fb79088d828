package book

import (
	"time"
)

// JobStatus represents the lifecycle state of a book job.
type JobStatus string

// Job status values. Completed and Failed are terminal.
const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Terminal reports whether no further transitions are allowed.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Request captures what a caller asked for: a source URL, the 1-based
// first unit and how many units to retrieve.
type Request struct {
	Source   string `json:"url"`
	Start    int    `json:"start"`
	Quantity int    `json:"quantity"`
}

// Job is the state tracked for each submitted request.
type Job struct {
	ID        string       `json:"id"`
	Status    JobStatus    `json:"status"`
	Progress  int          `json:"progress"`
	Request   Request      `json:"request"`
	Title     string       `json:"title,omitempty"`
	Artifact  *ArtifactRef `json:"artifact,omitempty"`
	Error     string       `json:"error,omitempty"`
	Counters  JobCounters  `json:"counters"`
	Submitted time.Time    `json:"submitted_at"`
	Started   *time.Time   `json:"started_at,omitempty"`
	Finished  *time.Time   `json:"finished_at,omitempty"`
}

// Clone returns a deep copy so callers never share pointers with the registry.
func (j Job) Clone() Job {
	out := j
	if j.Artifact != nil {
		ref := *j.Artifact
		out.Artifact = &ref
	}
	if j.Started != nil {
		ts := *j.Started
		out.Started = &ts
	}
	if j.Finished != nil {
		ts := *j.Finished
		out.Finished = &ts
	}
	return out
}

// JobCounters tracks unit outcomes for a job.
type JobCounters struct {
	UnitsRequested int `json:"units_requested"`
	UnitsSucceeded int `json:"units_succeeded"`
	UnitsFailed    int `json:"units_failed"`
}

// ArtifactRef points at a persisted artifact.
type ArtifactRef struct {
	Key         string `json:"key"`
	URI         string `json:"uri"`
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
	SHA256      string `json:"sha256,omitempty"`
}

// Metadata describes the document being assembled.
type Metadata struct {
	Title       string `json:"title"`
	Author      string `json:"author"`
	Description string `json:"description"`
	CoverURL    string `json:"cover_url,omitempty"`
}

// UnitRequest is one entry of the ordered range to retrieve.
type UnitRequest struct {
	Index int
	URL   string
}

// Unit is the title/body pair returned by a provider for one unit URL.
type Unit struct {
	Title string
	Body  string
}

// Placeholder text for units that could not be retrieved.
const (
	FailedUnitBody = "Content could not be downloaded."
	NoDescription  = "No description available."
)

// UnitResult is the write-once outcome for a UnitRequest.
type UnitResult struct {
	Index  int
	URL    string
	Title  string
	Body   string
	Failed bool
	Err    string
	// Kind classifies Err for failed units.
	Kind Kind
}

// FailedUnit builds the placeholder stored for a unit whose retries ran out.
func FailedUnit(req UnitRequest, err error) UnitResult {
	res := UnitResult{
		Index:  req.Index,
		URL:    req.URL,
		Title:  failedTitle(req.Index),
		Body:   FailedUnitBody,
		Failed: true,
	}
	if err != nil {
		res.Err = err.Error()
		res.Kind = KindOf(err)
	}
	return res
}

// Document is the assembled input to an ArtifactBuilder.
type Document struct {
	Metadata
	Cover      []byte
	CoverType  string
	Units      []UnitResult
	SourceURL  string
	AssembleAt time.Time
}

// Succeeded counts units that were actually retrieved.
func (d Document) Succeeded() int {
	n := 0
	for _, u := range d.Units {
		if !u.Failed {
			n++
		}
	}
	return n
}

// RunRecord summarizes a finished job for benchmarking.
type RunRecord struct {
	JobID          string        `json:"job_id"`
	Source         string        `json:"source"`
	Status         JobStatus     `json:"status"`
	UnitsRequested int           `json:"units_requested"`
	UnitsSucceeded int           `json:"units_succeeded"`
	UnitsFailed    int           `json:"units_failed"`
	Duration       time.Duration `json:"duration"`
	UnitsPerSecond float64       `json:"units_per_second"`
	Workers        int           `json:"workers"`
	ProxyMode      string        `json:"proxy_mode"`
	Error          string        `json:"error,omitempty"`
	FinishedAt     time.Time     `json:"finished_at"`
}
