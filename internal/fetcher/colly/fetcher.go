// Package collyfetcher implements fetcher.Getter using gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/chapterforge/internal/book"
	"github.com/JakeFAU/chapterforge/internal/fetcher"
	"github.com/JakeFAU/chapterforge/internal/metrics"
)

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
	// Proxy selects the proxy per request. Nil falls back to the environment.
	Proxy func(*http.Request) (*url.URL, error)
}

// Waiter paces requests per host.
type Waiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Detector flags pages that need a rendering browser.
type Detector interface {
	ShouldPromote(page fetcher.Page) bool
}

// Getter downloads pages through a shared Colly backend.
type Getter struct {
	cfg      Config
	base     *colly.Collector
	limiter  Waiter
	headless fetcher.Getter
	detector Detector
	logger   *zap.Logger
}

// Option customizes a Getter.
type Option func(*Getter)

// WithLimiter paces requests per host.
func WithLimiter(w Waiter) Option {
	return func(g *Getter) { g.limiter = w }
}

// WithHeadless promotes pages flagged by d to the headless getter h.
func WithHeadless(h fetcher.Getter, d Detector) Option {
	return func(g *Getter) {
		g.headless = h
		g.detector = d
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(g *Getter) {
		if l != nil {
			g.logger = l
		}
	}
}

// New builds a Getter. The transport, timeout and user agent are fixed on
// the base collector; per-request clones only attach callbacks.
func New(cfg Config, opts ...Option) *Getter {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	c.ParseHTTPErrorResponse = true
	c.SetRequestTimeout(cfg.Timeout)
	c.WithTransport(newHTTPTransport(cfg))

	g := &Getter{cfg: cfg, base: c, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Get fetches rawURL and classifies failures into book.FetchError kinds.
func (g *Getter) Get(ctx context.Context, rawURL string) (fetcher.Page, error) {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx, rawURL); err != nil {
			return fetcher.Page{}, book.NewFetchError(book.KindTransport, rawURL, err)
		}
	}

	page, err := g.visit(ctx, rawURL)
	if g.headless != nil && g.detector != nil && g.detector.ShouldPromote(page) {
		g.logger.Info("promoting to headless renderer",
			zap.String("url", rawURL), zap.Int("status", page.StatusCode))
		rendered, herr := g.headless.Get(ctx, rawURL)
		if herr == nil {
			return rendered, nil
		}
		g.logger.Warn("headless render failed", zap.String("url", rawURL), zap.Error(herr))
	}
	if err != nil {
		return page, err
	}
	metrics.ObservePage(rawURL, "http", len(page.Body))
	return page, nil
}

func (g *Getter) visit(ctx context.Context, rawURL string) (fetcher.Page, error) {
	var (
		page     fetcher.Page
		fetchErr error
	)
	start := time.Now()
	collector := g.base.Clone()
	collector.ParseHTTPErrorResponse = true

	collector.OnResponse(func(r *colly.Response) {
		page = fetcher.Page{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
		if r.Headers != nil {
			page.Headers = r.Headers.Clone()
		}
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			page.StatusCode = r.StatusCode
			page.Body = append([]byte(nil), r.Body...)
		}
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(rawURL)
	}()

	select {
	case <-ctx.Done():
		return fetcher.Page{}, book.NewFetchError(book.KindTransport, rawURL, fmt.Errorf("colly fetch canceled: %w", ctx.Err()))
	case err := <-done:
		if err == nil {
			err = fetchErr
		}
		return page, classify(rawURL, page, err)
	}
}

func classify(rawURL string, page fetcher.Page, err error) error {
	if page.StatusCode >= 400 {
		if err == nil {
			err = errors.New(http.StatusText(page.StatusCode))
		}
		return &book.FetchError{
			Kind:       book.KindForStatus(page.StatusCode),
			URL:        rawURL,
			StatusCode: page.StatusCode,
			Err:        err,
		}
	}
	if err != nil {
		return book.NewFetchError(book.KindTransport, rawURL, err)
	}
	return nil
}

func newHTTPTransport(cfg Config) *http.Transport {
	proxy := cfg.Proxy
	if proxy == nil {
		proxy = http.ProxyFromEnvironment
	}
	return &http.Transport{
		Proxy: proxy,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: cfg.Timeout,
		ExpectContinueTimeout: time.Second,
		MaxIdleConns:          32,
		MaxIdleConnsPerHost:   4,
		IdleConnTimeout:       90 * time.Second,
	}
}
