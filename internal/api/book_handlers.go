package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/chapterforge/internal/book"
	"github.com/JakeFAU/chapterforge/internal/progress"
)

const (
	defaultRunLimit = 20
	maxRunLimit     = 500
	cleanupTimeout  = 10 * time.Second
)

type submitRequest struct {
	URL      string `json:"url"`
	Quantity *int   `json:"quantity"`
	Start    *int   `json:"start"`
}

type submitResponse struct {
	JobID       string `json:"job_id"`
	Status      string `json:"status"`
	StatusURL   string `json:"status_url"`
	EventsURL   string `json:"events_url"`
	DownloadURL string `json:"download_url"`
}

type jobDTO struct {
	JobID       string           `json:"job_id"`
	Status      string           `json:"status"`
	Progress    int              `json:"progress"`
	Title       string           `json:"title,omitempty"`
	Error       string           `json:"error,omitempty"`
	Request     book.Request     `json:"request"`
	Counters    book.JobCounters `json:"counters"`
	Artifact    *artifactDTO     `json:"artifact,omitempty"`
	DownloadURL string           `json:"download_url,omitempty"`
	Submitted   time.Time        `json:"submitted"`
	Started     *time.Time       `json:"started,omitempty"`
	Finished    *time.Time       `json:"finished,omitempty"`
}

type artifactDTO struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
	SHA256      string `json:"sha256,omitempty"`
}

type updateDTO struct {
	Status      string `json:"status"`
	Progress    int    `json:"progress"`
	Title       string `json:"title,omitempty"`
	DownloadURL string `json:"download_url,omitempty"`
	Error       string `json:"error,omitempty"`
}

func bookURL(jobID string, suffix string) string {
	return "/v1/books/" + jobID + suffix
}

// submitBook handles POST /v1/books. Parameters come from a JSON body or,
// when the body is empty, from the query string.
func (s *Server) submitBook(w http.ResponseWriter, r *http.Request) {
	req, err := parseSubmit(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	job, err := s.deps.Books.Submit(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, book.ErrInvalidRequest), errors.Is(err, book.ErrUnsupportedSource):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			s.logger.Error("Submit failed", zap.String("request_id", RequestID(r.Context())), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to submit job")
		}
		return
	}
	w.Header().Set("Location", bookURL(job.ID, ""))
	writeJSON(w, http.StatusAccepted, submitResponse{
		JobID:       job.ID,
		Status:      string(job.Status),
		StatusURL:   bookURL(job.ID, ""),
		EventsURL:   bookURL(job.ID, "/events"),
		DownloadURL: bookURL(job.ID, "/download"),
	})
}

func parseSubmit(r *http.Request) (book.Request, error) {
	var body submitRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
			return book.Request{}, errors.New("invalid JSON")
		}
	}
	q := r.URL.Query()
	if body.URL == "" {
		body.URL = strings.TrimSpace(q.Get("url"))
	}
	if body.Quantity == nil {
		v, err := queryInt(q, "quantity")
		if err != nil {
			return book.Request{}, err
		}
		body.Quantity = v
	}
	if body.Start == nil {
		v, err := queryInt(q, "start")
		if err != nil {
			return book.Request{}, err
		}
		body.Start = v
	}
	if body.URL == "" {
		return book.Request{}, errors.New("url is required")
	}
	if body.Quantity == nil {
		return book.Request{}, errors.New("quantity is required")
	}
	req := book.Request{Source: body.URL, Quantity: *body.Quantity, Start: 1}
	if body.Start != nil {
		req.Start = *body.Start
	}
	return req, nil
}

func queryInt(q url.Values, name string) (*int, error) {
	raw := q.Get(name)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid %s", name)
	}
	return &v, nil
}

// getBook handles GET /v1/books/{job_id}.
func (s *Server) getBook(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.deps.Books.Get(r.Context(), jobID)
	if err != nil {
		s.writeJobError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toJobDTO(job))
}

func toJobDTO(job book.Job) jobDTO {
	dto := jobDTO{
		JobID:     job.ID,
		Status:    string(job.Status),
		Progress:  job.Progress,
		Title:     job.Title,
		Error:     job.Error,
		Request:   job.Request,
		Counters:  job.Counters,
		Submitted: job.Submitted,
		Started:   job.Started,
		Finished:  job.Finished,
	}
	if job.Artifact != nil {
		dto.Artifact = &artifactDTO{
			Filename:    job.Artifact.Filename,
			ContentType: job.Artifact.ContentType,
			Size:        job.Artifact.Size,
			SHA256:      job.Artifact.SHA256,
		}
	}
	if job.Status == book.JobStatusCompleted {
		dto.DownloadURL = bookURL(job.ID, "/download")
	}
	return dto
}

// streamEvents handles GET /v1/books/{job_id}/events as server-sent events.
// Each change is an "update" event; an unknown job yields one "error" event.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	jobID := chi.URLParam(r, "job_id")

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for snap := range s.deps.Books.Events(r.Context(), jobID) {
		if snap.Err != nil {
			msg := "internal error"
			if errors.Is(snap.Err, book.ErrJobNotFound) {
				msg = "job not found"
			}
			_ = writeEvent(w, "error", map[string]string{"error": msg})
			flusher.Flush()
			return
		}
		if err := writeEvent(w, "update", toUpdateDTO(jobID, snap)); err != nil {
			s.logger.Debug("Event stream closed", zap.String("job_id", jobID), zap.Error(err))
			return
		}
		flusher.Flush()
	}
}

func toUpdateDTO(jobID string, snap progress.Snapshot) updateDTO {
	dto := updateDTO{
		Status:   string(snap.Status),
		Progress: snap.Progress,
		Title:    snap.Title,
		Error:    snap.Error,
	}
	if snap.Status == book.JobStatusCompleted {
		dto.DownloadURL = bookURL(jobID, "/download")
	}
	return dto
}

func writeEvent(w io.Writer, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	return nil
}

// downloadBook handles GET /v1/books/{job_id}/download. After a complete
// transfer the job and its artifact are cleaned up.
func (s *Server) downloadBook(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	rc, job, err := s.deps.Books.Retrieve(r.Context(), jobID)
	if err != nil {
		s.writeJobError(w, err)
		return
	}
	defer rc.Close()

	ref := job.Artifact
	w.Header().Set("Content-Type", ref.ContentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": ref.Filename}))
	if ref.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(ref.Size, 10))
	}
	if ref.SHA256 != "" {
		w.Header().Set("ETag", strconv.Quote(ref.SHA256))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		s.logger.Warn("Download interrupted, keeping artifact", zap.String("job_id", jobID), zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), cleanupTimeout)
	defer cancel()
	if err := s.deps.Books.Cleanup(ctx, jobID); err != nil {
		s.logger.Warn("Cleanup after download failed", zap.String("job_id", jobID), zap.Error(err))
	}
}

// deleteBook handles DELETE /v1/books/{job_id}. It is idempotent.
func (s *Server) deleteBook(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if err := s.deps.Books.Cleanup(r.Context(), jobID); err != nil {
		s.logger.Error("Cleanup failed", zap.String("job_id", jobID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "cleanup failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// listSites handles GET /v1/sites.
func (s *Server) listSites(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Sites == nil {
		writeJSON(w, http.StatusOK, map[string]any{"sites": []any{}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sites": s.deps.Sites.Sites()})
}

// listRuns handles GET /v1/runs?limit=. It returns 503 when run history is
// disabled.
func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	if s.deps.Runs == nil {
		writeError(w, http.StatusServiceUnavailable, "run history disabled")
		return
	}
	limit, err := parseLimit(r, defaultRunLimit, maxRunLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	runs, err := s.deps.Runs.RecentRuns(r.Context(), limit)
	if err != nil {
		s.logger.Error("List runs failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	if runs == nil {
		runs = []book.RunRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func parseLimit(r *http.Request, def, maxLimit int) (int, error) {
	limStr := r.URL.Query().Get("limit")
	if limStr == "" {
		return def, nil
	}
	val, err := strconv.Atoi(limStr)
	if err != nil || val <= 0 {
		return 0, errors.New("invalid limit")
	}
	return min(val, maxLimit), nil
}

func (s *Server) writeJobError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, book.ErrJobNotFound):
		writeError(w, http.StatusNotFound, "job not found")
	case errors.Is(err, book.ErrNotReady):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, book.ErrArtifactNotFound):
		writeError(w, http.StatusGone, "artifact no longer available")
	default:
		s.logger.Error("Job lookup failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
