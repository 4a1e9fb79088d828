package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/chapterforge/internal/book"
	"github.com/JakeFAU/chapterforge/internal/config"
	"github.com/JakeFAU/chapterforge/internal/progress"
	"github.com/JakeFAU/chapterforge/internal/provider"
)

type fakeBooks struct {
	mu        sync.Mutex
	jobs      map[string]book.Job
	artifact  string
	submitted []book.Request
	cleaned   []string
	snapshots []progress.Snapshot
	submitErr error
}

func newFakeBooks() *fakeBooks {
	return &fakeBooks{jobs: map[string]book.Job{}}
}

func (f *fakeBooks) Submit(_ context.Context, req book.Request) (book.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return book.Job{}, f.submitErr
	}
	f.submitted = append(f.submitted, req)
	job := book.Job{ID: fmt.Sprintf("job-%d", len(f.submitted)), Status: book.JobStatusPending, Request: req}
	f.jobs[job.ID] = job
	return job, nil
}

func (f *fakeBooks) Get(_ context.Context, jobID string) (book.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[jobID]
	if !ok {
		return book.Job{}, fmt.Errorf("get %s: %w", jobID, book.ErrJobNotFound)
	}
	return job, nil
}

func (f *fakeBooks) Events(_ context.Context, jobID string) <-chan progress.Snapshot {
	ch := make(chan progress.Snapshot, len(f.snapshots)+1)
	if _, err := f.Get(context.Background(), jobID); err != nil {
		ch <- progress.Snapshot{Err: err}
	} else {
		for _, s := range f.snapshots {
			ch <- s
		}
	}
	close(ch)
	return ch
}

func (f *fakeBooks) Retrieve(ctx context.Context, jobID string) (io.ReadCloser, book.Job, error) {
	job, err := f.Get(ctx, jobID)
	if err != nil {
		return nil, book.Job{}, err
	}
	if job.Status != book.JobStatusCompleted {
		return nil, job, fmt.Errorf("job %s: %w", jobID, book.ErrNotReady)
	}
	return io.NopCloser(strings.NewReader(f.artifact)), job, nil
}

func (f *fakeBooks) Cleanup(_ context.Context, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.jobs, jobID)
	f.cleaned = append(f.cleaned, jobID)
	return nil
}

func (f *fakeBooks) put(job book.Job) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs[job.ID] = job
}

type fakeRuns struct {
	runs  []book.RunRecord
	limit int
}

func (f *fakeRuns) RecordRun(context.Context, book.RunRecord) error { return nil }

func (f *fakeRuns) RecentRuns(_ context.Context, limit int) ([]book.RunRecord, error) {
	f.limit = limit
	return f.runs, nil
}

type staticSites []provider.Site

func (s staticSites) Sites() []provider.Site { return s }

func newTestServer(books *fakeBooks, runs book.RunRecorder, cfg config.Config) *Server {
	deps := Deps{
		Books: books,
		Sites: staticSites{{Name: "royalroad", Domains: []string{"royalroad.com"}, BaseURL: "https://www.royalroad.com"}},
	}
	if runs != nil {
		deps.Runs = runs
	}
	return NewServer(deps, cfg, nil)
}

func do(t *testing.T, s *Server, method, target string, body io.Reader, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, body)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoints(t *testing.T) {
	t.Parallel()

	s := newTestServer(newFakeBooks(), nil, config.Config{})
	require.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/healthz", nil).Code)
	require.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/readyz", nil).Code)

	rec := do(t, s, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestReadyzReportsFailingCheck(t *testing.T) {
	t.Parallel()

	s := NewServer(Deps{
		Books: newFakeBooks(),
		Ready: []ReadinessCheck{func(context.Context) error { return errors.New("bucket gone") }},
	}, config.Config{}, nil)
	require.Equal(t, http.StatusServiceUnavailable, do(t, s, http.MethodGet, "/readyz", nil).Code)
}

func TestSubmitBook(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		target     string
		body       string
		submitErr  error
		wantStatus int
		wantReq    book.Request
	}{
		{
			name:       "json body",
			target:     "/v1/books",
			body:       `{"url":"https://www.royalroad.com/fiction/1","quantity":3,"start":2}`,
			wantStatus: http.StatusAccepted,
			wantReq:    book.Request{Source: "https://www.royalroad.com/fiction/1", Quantity: 3, Start: 2},
		},
		{
			name:       "query string with default start",
			target:     "/v1/books?url=https://www.royalroad.com/fiction/1&quantity=5",
			wantStatus: http.StatusAccepted,
			wantReq:    book.Request{Source: "https://www.royalroad.com/fiction/1", Quantity: 5, Start: 1},
		},
		{name: "missing quantity", target: "/v1/books?url=https://x.example/a", wantStatus: http.StatusBadRequest},
		{name: "bad quantity", target: "/v1/books?url=https://x.example/a&quantity=lots", wantStatus: http.StatusBadRequest},
		{name: "missing url", target: "/v1/books", body: `{"quantity":1}`, wantStatus: http.StatusBadRequest},
		{name: "broken json", target: "/v1/books", body: `{"url":`, wantStatus: http.StatusBadRequest},
		{
			name:       "unsupported source",
			target:     "/v1/books?url=https://nowhere.example/a&quantity=1",
			submitErr:  fmt.Errorf("resolve: %w", book.ErrUnsupportedSource),
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "store failure",
			target:     "/v1/books?url=https://nowhere.example/a&quantity=1",
			submitErr:  errors.New("disk on fire"),
			wantStatus: http.StatusInternalServerError,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			books := newFakeBooks()
			books.submitErr = tt.submitErr
			s := newTestServer(books, nil, config.Config{})

			var body io.Reader
			if tt.body != "" {
				body = strings.NewReader(tt.body)
			}
			rec := do(t, s, http.MethodPost, tt.target, body, "Content-Type", "application/json")
			require.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			if tt.wantStatus != http.StatusAccepted {
				return
			}
			var resp submitResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			require.Equal(t, "job-1", resp.JobID)
			require.Equal(t, "/v1/books/job-1", resp.StatusURL)
			require.Equal(t, "/v1/books/job-1/events", resp.EventsURL)
			require.Equal(t, "/v1/books/job-1/download", resp.DownloadURL)
			require.Equal(t, []book.Request{tt.wantReq}, books.submitted)
		})
	}
}

func TestGetBook(t *testing.T) {
	t.Parallel()

	books := newFakeBooks()
	books.put(book.Job{
		ID:       "done",
		Status:   book.JobStatusCompleted,
		Progress: 100,
		Title:    "Mother of Learning",
		Artifact: &book.ArtifactRef{Key: "k.epub", Filename: "Mother of Learning.epub", ContentType: "application/epub+zip", Size: 12},
	})
	s := newTestServer(books, nil, config.Config{})

	rec := do(t, s, http.MethodGet, "/v1/books/done", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var dto jobDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &dto))
	require.Equal(t, "completed", dto.Status)
	require.Equal(t, 100, dto.Progress)
	require.Equal(t, "/v1/books/done/download", dto.DownloadURL)
	require.Equal(t, "Mother of Learning.epub", dto.Artifact.Filename)
	require.NotContains(t, rec.Body.String(), "k.epub")

	require.Equal(t, http.StatusNotFound, do(t, s, http.MethodGet, "/v1/books/missing", nil).Code)
}

func TestStreamEvents(t *testing.T) {
	t.Parallel()

	books := newFakeBooks()
	books.put(book.Job{ID: "j1", Status: book.JobStatusProcessing})
	books.snapshots = []progress.Snapshot{
		{Status: book.JobStatusProcessing, Progress: 40},
		{Status: book.JobStatusCompleted, Progress: 100, Title: "Book"},
	}
	s := newTestServer(books, nil, config.Config{})

	rec := do(t, s, http.MethodGet, "/v1/books/j1/events", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	body := rec.Body.String()
	require.Equal(t, 2, strings.Count(body, "event: update\n"))
	require.Contains(t, body, `data: {"status":"processing","progress":40}`)
	require.Contains(t, body, `"download_url":"/v1/books/j1/download"`)

	rec = do(t, s, http.MethodGet, "/v1/books/ghost/events", nil)
	require.Contains(t, rec.Body.String(), "event: error\n")
	require.Contains(t, rec.Body.String(), "job not found")
}

func TestDownloadBook(t *testing.T) {
	t.Parallel()

	books := newFakeBooks()
	books.artifact = "epub-bytes"
	books.put(book.Job{ID: "pending", Status: book.JobStatusProcessing})
	books.put(book.Job{
		ID:       "ready",
		Status:   book.JobStatusCompleted,
		Artifact: &book.ArtifactRef{Filename: "Été à Paris.epub", ContentType: "application/epub+zip", Size: 10, SHA256: "abc"},
	})
	s := newTestServer(books, nil, config.Config{})

	require.Equal(t, http.StatusNotFound, do(t, s, http.MethodGet, "/v1/books/nope/download", nil).Code)
	require.Equal(t, http.StatusConflict, do(t, s, http.MethodGet, "/v1/books/pending/download", nil).Code)

	rec := do(t, s, http.MethodGet, "/v1/books/ready/download", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "epub-bytes", rec.Body.String())
	require.Equal(t, "application/epub+zip", rec.Header().Get("Content-Type"))
	require.Contains(t, rec.Header().Get("Content-Disposition"), "attachment")
	require.Contains(t, rec.Header().Get("Content-Disposition"), "filename*=utf-8''")
	require.Equal(t, []string{"ready"}, books.cleaned)

	require.Equal(t, http.StatusNotFound, do(t, s, http.MethodGet, "/v1/books/ready/download", nil).Code)
}

func TestDeleteBookIsIdempotent(t *testing.T) {
	t.Parallel()

	books := newFakeBooks()
	books.put(book.Job{ID: "j", Status: book.JobStatusFailed})
	s := newTestServer(books, nil, config.Config{})

	require.Equal(t, http.StatusNoContent, do(t, s, http.MethodDelete, "/v1/books/j", nil).Code)
	require.Equal(t, http.StatusNoContent, do(t, s, http.MethodDelete, "/v1/books/j", nil).Code)
}

func TestListSitesAndRuns(t *testing.T) {
	t.Parallel()

	s := newTestServer(newFakeBooks(), nil, config.Config{})
	rec := do(t, s, http.MethodGet, "/v1/sites", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"royalroad.com"`)
	require.NotContains(t, rec.Body.String(), "selectors")

	require.Equal(t, http.StatusServiceUnavailable, do(t, s, http.MethodGet, "/v1/runs", nil).Code)

	runs := &fakeRuns{runs: []book.RunRecord{{JobID: "r1", Status: book.JobStatusCompleted, UnitsSucceeded: 4}}}
	s = newTestServer(newFakeBooks(), runs, config.Config{})
	rec = do(t, s, http.MethodGet, "/v1/runs?limit=9999", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, maxRunLimit, runs.limit)
	require.Contains(t, rec.Body.String(), `"job_id":"r1"`)

	require.Equal(t, http.StatusBadRequest, do(t, s, http.MethodGet, "/v1/runs?limit=-1", nil).Code)
}

func TestAPIKeyMiddleware(t *testing.T) {
	t.Parallel()

	cfg := config.Config{Auth: config.AuthConfig{Enabled: true, APIKey: "s3cret"}}
	s := newTestServer(newFakeBooks(), nil, cfg)

	require.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/healthz", nil).Code)
	require.Equal(t, http.StatusUnauthorized, do(t, s, http.MethodGet, "/v1/sites", nil).Code)
	require.Equal(t, http.StatusUnauthorized, do(t, s, http.MethodGet, "/v1/sites", nil, "X-API-Key", "wrong").Code)
	require.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/v1/sites", nil, "X-API-Key", "s3cret").Code)
	require.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/v1/sites", nil, "Authorization", "Bearer s3cret").Code)
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	h := recoverMiddleware(nopLogger())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func nopLogger() *zap.Logger { return zap.NewNop() }
