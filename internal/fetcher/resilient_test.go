package fetcher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/chapterforge/internal/book"
	"github.com/JakeFAU/chapterforge/internal/proxy"
)

type scriptedSource struct {
	mu      sync.Mutex
	calls   int
	results []error
	unit    book.Unit
}

func (s *scriptedSource) FetchUnit(_ context.Context, _ string) (book.Unit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.calls
	s.calls++
	if idx < len(s.results) && s.results[idx] != nil {
		return book.Unit{}, s.results[idx]
	}
	return s.unit, nil
}

type sleepRecorder struct {
	mu     sync.Mutex
	sleeps []time.Duration
}

func (r *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sleeps = append(r.sleeps, d)
	return nil
}

func testPolicy() Policy {
	return Policy{MaxAttempts: 3, BaseDelay: time.Second, RateLimitDelay: 100 * time.Millisecond}
}

func kindErr(kind book.Kind) error {
	return book.NewFetchError(kind, "https://example.com/c/1", errors.New(kind.String()))
}

var okUnit = book.Unit{Title: "Chapter 1", Body: "<p>hello</p>"}

func TestResilientNotFoundNeverRetries(t *testing.T) {
	t.Parallel()

	src := &scriptedSource{results: []error{kindErr(book.KindNotFound)}, unit: okUnit}
	rec := &sleepRecorder{}
	f := NewResilient(src, testPolicy(), WithSleeper(rec.sleep))

	_, err := f.Fetch(context.Background(), "https://example.com/c/1")
	require.Error(t, err)
	var fe *book.FetchError
	require.ErrorAs(t, err, &fe)
	require.Equal(t, book.KindNotFound, fe.Kind)
	require.Equal(t, 1, fe.Attempts)
	require.Equal(t, 1, src.calls)
	require.Empty(t, rec.sleeps)
}

func TestResilientRateLimitedUsesLinearBackoff(t *testing.T) {
	t.Parallel()

	src := &scriptedSource{
		results: []error{kindErr(book.KindRateLimited), kindErr(book.KindBlocked)},
		unit:    okUnit,
	}
	rec := &sleepRecorder{}
	f := NewResilient(src, testPolicy(), WithSleeper(rec.sleep))

	unit, err := f.Fetch(context.Background(), "https://example.com/c/1")
	require.NoError(t, err)
	require.Equal(t, okUnit, unit)
	require.Equal(t, 3, src.calls)
	require.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, rec.sleeps)
}

func TestResilientTransportFailoverSkipsBackoff(t *testing.T) {
	t.Parallel()

	sw, err := proxy.New("http://primary:3128", "http://fallback:3128")
	require.NoError(t, err)
	src := &scriptedSource{
		results: []error{kindErr(book.KindTransport), kindErr(book.KindTransport)},
		unit:    okUnit,
	}
	rec := &sleepRecorder{}
	f := NewResilient(src, testPolicy(), WithSleeper(rec.sleep), WithRouter(sw))

	_, err = f.Fetch(context.Background(), "https://example.com/c/1")
	require.NoError(t, err)
	require.Equal(t, 3, src.calls)
	require.Equal(t, proxy.RouteFallback, sw.Current())
	require.Equal(t, int64(1), sw.Switches())
	// The failover attempt is free of delay and the first same-route retry
	// starts the exponential sequence at step zero.
	require.Equal(t, []time.Duration{time.Second}, rec.sleeps)
}

// switchingSource flips the shared switch while its first request is in
// flight, as another worker would.
type switchingSource struct {
	sw    *proxy.Switch
	calls int
}

func (s *switchingSource) FetchUnit(_ context.Context, _ string) (book.Unit, error) {
	s.calls++
	if s.calls == 1 {
		s.sw.Failover(proxy.RoutePrimary)
		return book.Unit{}, kindErr(book.KindTransport)
	}
	return okUnit, nil
}

func TestResilientSwitchDuringAttemptBacksOff(t *testing.T) {
	t.Parallel()

	sw, err := proxy.New("http://primary:3128", "http://fallback:3128")
	require.NoError(t, err)
	src := &switchingSource{sw: sw}
	rec := &sleepRecorder{}
	f := NewResilient(src, testPolicy(), WithSleeper(rec.sleep), WithRouter(sw))

	unit, err := f.Fetch(context.Background(), "https://example.com/c/1")
	require.NoError(t, err)
	require.Equal(t, okUnit, unit)
	require.Equal(t, 2, src.calls)
	require.Equal(t, int64(1), sw.Switches())
	require.Equal(t, []time.Duration{time.Second}, rec.sleeps)
}

func TestResilientFailoverConsumesBudget(t *testing.T) {
	t.Parallel()

	sw, err := proxy.New("http://primary:3128", "http://fallback:3128")
	require.NoError(t, err)
	src := &scriptedSource{results: []error{
		kindErr(book.KindTransport), kindErr(book.KindTransport), kindErr(book.KindTransport),
	}}
	rec := &sleepRecorder{}
	f := NewResilient(src, testPolicy(), WithSleeper(rec.sleep), WithRouter(sw))

	_, err = f.Fetch(context.Background(), "https://example.com/c/1")
	var fe *book.FetchError
	require.ErrorAs(t, err, &fe)
	require.Equal(t, book.KindTransport, fe.Kind)
	require.Equal(t, 3, fe.Attempts)
	require.Equal(t, 3, src.calls)
	require.Len(t, rec.sleeps, 1)
}

func TestResilientTransportWithoutFallbackBacksOff(t *testing.T) {
	t.Parallel()

	src := &scriptedSource{results: []error{
		kindErr(book.KindTransport), kindErr(book.KindTransport), kindErr(book.KindTransport),
	}}
	rec := &sleepRecorder{}
	f := NewResilient(src, testPolicy(), WithSleeper(rec.sleep))

	_, err := f.Fetch(context.Background(), "https://example.com/c/1")
	require.Error(t, err)
	require.Equal(t, []time.Duration{time.Second, 2 * time.Second}, rec.sleeps)
}

func TestResilientEmptyBodyIsRetried(t *testing.T) {
	t.Parallel()

	src := &emptyThenOK{}
	rec := &sleepRecorder{}
	f := NewResilient(src, testPolicy(), WithSleeper(rec.sleep))

	unit, err := f.Fetch(context.Background(), "https://example.com/c/1")
	require.NoError(t, err)
	require.Equal(t, okUnit, unit)
	require.Equal(t, []time.Duration{time.Second}, rec.sleeps)
}

type emptyThenOK struct{ calls int }

func (e *emptyThenOK) FetchUnit(context.Context, string) (book.Unit, error) {
	e.calls++
	if e.calls == 1 {
		return book.Unit{Title: "interstitial", Body: "   "}, nil
	}
	return okUnit, nil
}

func TestResilientExhaustedReturnsLastKind(t *testing.T) {
	t.Parallel()

	inner := &book.FetchError{Kind: book.KindUnavailable, StatusCode: 503, Err: errors.New("Service Unavailable")}
	src := &scriptedSource{results: []error{inner, inner, inner}}
	f := NewResilient(src, testPolicy(), WithSleeper((&sleepRecorder{}).sleep))

	_, err := f.Fetch(context.Background(), "https://example.com/c/9")
	var fe *book.FetchError
	require.ErrorAs(t, err, &fe)
	require.Equal(t, book.KindUnavailable, fe.Kind)
	require.Equal(t, 503, fe.StatusCode)
	require.Equal(t, "https://example.com/c/9", fe.URL)
}

func TestResilientStopsWhenContextCanceledDuringBackoff(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	src := &scriptedSource{results: []error{kindErr(book.KindEmptyContent), kindErr(book.KindEmptyContent)}}
	f := NewResilient(src, testPolicy(), WithSleeper(func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}))

	_, err := f.Fetch(ctx, "https://example.com/c/1")
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, src.calls)
}

func TestSleepContext(t *testing.T) {
	t.Parallel()

	require.NoError(t, sleepContext(context.Background(), 0))
	require.NoError(t, sleepContext(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, sleepContext(ctx, time.Hour), context.Canceled)
}
