package fetcher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/chapterforge/internal/book"
	"github.com/JakeFAU/chapterforge/internal/metrics"
	"github.com/JakeFAU/chapterforge/internal/proxy"
)

// UnitSource is the provider capability the fetcher retries.
type UnitSource interface {
	FetchUnit(ctx context.Context, url string) (book.Unit, error)
}

// Router exposes the shared proxy selection. *proxy.Switch implements it.
type Router interface {
	Current() proxy.Route
	Failover(observed proxy.Route) bool
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Resilient fetches units with retries. A failover retry consumes one
// attempt from the budget but is not delayed and does not advance the
// backoff step.
type Resilient struct {
	source UnitSource
	policy Policy
	router Router
	sleep  Sleeper
	logger *zap.Logger
}

// Option customizes a Resilient fetcher.
type Option func(*Resilient)

// WithRouter enables proxy failover on transport failures.
func WithRouter(r Router) Option {
	return func(f *Resilient) { f.router = r }
}

// WithSleeper replaces the backoff sleep, mainly for tests.
func WithSleeper(s Sleeper) Option {
	return func(f *Resilient) { f.sleep = s }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(f *Resilient) {
		if l != nil {
			f.logger = l
		}
	}
}

// NewResilient wraps source with the given policy.
func NewResilient(source UnitSource, policy Policy, opts ...Option) *Resilient {
	f := &Resilient{
		source: source,
		policy: policy.normalized(),
		sleep:  sleepContext,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch retrieves url, returning a terminal *book.FetchError once attempts
// are exhausted or a NotFound is seen.
func (f *Resilient) Fetch(ctx context.Context, url string) (book.Unit, error) {
	var (
		lastErr error
		step    int
	)
	for attempt := 0; attempt < f.policy.MaxAttempts; attempt++ {
		route := proxy.RoutePrimary
		if f.router != nil {
			route = f.router.Current()
		}

		unit, err := f.source.FetchUnit(ctx, url)
		if err == nil && strings.TrimSpace(unit.Body) == "" {
			err = book.NewFetchError(book.KindEmptyContent, url, errors.New("provider returned an empty body"))
		}
		if err == nil {
			metrics.ObserveFetchAttempt(url, "ok")
			return unit, nil
		}
		lastErr = err
		kind := book.KindOf(err)
		metrics.ObserveFetchAttempt(url, kind.String())

		if ctxErr := ctx.Err(); ctxErr != nil {
			return book.Unit{}, terminal(url, kind, attempt+1, ctxErr)
		}
		if kind == book.KindNotFound {
			return book.Unit{}, terminal(url, kind, attempt+1, err)
		}
		if attempt == f.policy.MaxAttempts-1 {
			break
		}

		log := f.logger.With(
			zap.String("url", url),
			zap.Int("attempt", attempt+1),
			zap.String("kind", kind.String()),
			zap.Error(err),
		)

		var (
			delay    time.Duration
			strategy string
		)
		switch kind {
		case book.KindRateLimited, book.KindBlocked:
			delay, strategy = f.policy.Linear(step), "linear"
		case book.KindTransport:
			// A switch during the attempt means the request may already have
			// used the fallback, so only a stable route is failed over.
			if f.router != nil && f.router.Current() == route && f.router.Failover(route) {
				metrics.ObserveFailover()
				log.Warn("transport failure, retrying through fallback proxy")
				continue
			}
			delay, strategy = f.policy.Exponential(step), "exponential"
		default:
			delay, strategy = f.policy.Exponential(step), "exponential"
		}
		step++

		log.Warn("unit fetch failed, backing off", zap.Duration("delay", delay))
		metrics.ObserveBackoff(strategy, delay)
		if err := f.sleep(ctx, delay); err != nil {
			return book.Unit{}, terminal(url, kind, attempt+1, err)
		}
	}
	return book.Unit{}, terminal(url, book.KindOf(lastErr), f.policy.MaxAttempts, lastErr)
}

func terminal(url string, kind book.Kind, attempts int, err error) error {
	fe := &book.FetchError{Kind: kind, URL: url, Attempts: attempts, Err: err}
	var inner *book.FetchError
	if errors.As(err, &inner) {
		fe.StatusCode = inner.StatusCode
		fe.Err = inner.Err
	}
	return fe
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("backoff interrupted: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
