// Package headless renders pages in headless Chrome for sites that gate
// content behind JavaScript challenges.
package headless

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/JakeFAU/chapterforge/internal/book"
	"github.com/JakeFAU/chapterforge/internal/fetcher"
	"github.com/JakeFAU/chapterforge/internal/metrics"
)

// Config controls the behavior of the headless getter.
type Config struct {
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
	// Proxy supplies the active proxy per request; nil means direct.
	// *proxy.Switch implements it.
	Proxy ProxySource
	// SettleDelay waits after the body is ready so challenge scripts can redirect.
	SettleDelay time.Duration
}

// ProxySource reports the proxy requests should currently use.
type ProxySource interface {
	ActiveURL() *url.URL
}

type allocator struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// Getter implements fetcher.Getter with chromedp. Chrome fixes its proxy at
// launch, so one allocator is kept per proxy server.
type Getter struct {
	cfg   Config
	slots chan struct{}
	opts  []chromedp.ExecAllocatorOption

	mu         sync.Mutex
	allocators map[string]allocator
}

// NewChromedp prepares the getter; browsers launch lazily on first use.
func NewChromedp(cfg Config) (*Getter, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = 1500 * time.Millisecond
	}
	var slots chan struct{}
	if cfg.MaxParallel > 0 {
		slots = make(chan struct{}, cfg.MaxParallel)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
	)

	return &Getter{
		cfg:        cfg,
		slots:      slots,
		opts:       opts,
		allocators: make(map[string]allocator),
	}, nil
}

// Close shuts every browser down.
func (g *Getter) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for server, a := range g.allocators {
		a.cancel()
		delete(g.allocators, server)
	}
}

func (g *Getter) proxyServer() string {
	if g.cfg.Proxy == nil {
		return ""
	}
	if u := g.cfg.Proxy.ActiveURL(); u != nil {
		return u.String()
	}
	return ""
}

// allocatorFor returns the allocator for the active proxy, creating it on
// first use.
func (g *Getter) allocatorFor() (context.Context, string) {
	server := g.proxyServer()
	g.mu.Lock()
	defer g.mu.Unlock()
	if a, ok := g.allocators[server]; ok {
		return a.ctx, server
	}
	opts := append([]chromedp.ExecAllocatorOption(nil), g.opts...)
	if server != "" {
		opts = append(opts, chromedp.ProxyServer(server))
	}
	ctx, cancel := chromedp.NewExecAllocator(context.Background(), opts...)
	g.allocators[server] = allocator{ctx: ctx, cancel: cancel}
	return ctx, server
}

// Get navigates to rawURL and returns the rendered DOM.
func (g *Getter) Get(ctx context.Context, rawURL string) (fetcher.Page, error) {
	if err := g.acquire(ctx); err != nil {
		return fetcher.Page{}, book.NewFetchError(book.KindTransport, rawURL, err)
	}
	defer g.release()

	allocCtx, _ := g.allocatorFor()
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)
	defer tabCancel()
	tabCtx, cancel := context.WithTimeout(tabCtx, g.cfg.NavigationTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	doc := &documentStatus{}
	chromedp.ListenTarget(tabCtx, doc.observe)

	start := time.Now()
	var html, location string
	err := chromedp.Run(tabCtx,
		g.setup(),
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(g.cfg.SettleDelay),
		chromedp.Location(&location),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return fetcher.Page{}, book.NewFetchError(book.KindTransport, rawURL, fmt.Errorf("chromedp run: %w", err))
	}

	status, headers := doc.result()
	page := fetcher.Page{
		URL:          firstNonEmpty(location, rawURL),
		StatusCode:   status,
		Headers:      headers,
		Body:         []byte(html),
		Duration:     time.Since(start),
		UsedHeadless: true,
	}
	if status >= 400 {
		return page, &book.FetchError{
			Kind:       book.KindForStatus(status),
			URL:        rawURL,
			StatusCode: status,
			Err:        fmt.Errorf("rendered %s", http.StatusText(status)),
		}
	}
	metrics.ObservePage(rawURL, "headless", len(page.Body))
	return page, nil
}

func (g *Getter) setup() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if g.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(g.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

func (g *Getter) acquire(ctx context.Context) error {
	if g.slots == nil {
		return nil
	}
	select {
	case g.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("headless slot wait canceled: %w", ctx.Err())
	}
}

func (g *Getter) release() {
	if g.slots == nil {
		return
	}
	<-g.slots
}

// documentStatus records the status of the last top-level document
// response. Challenge pages redirect, so the last one wins.
type documentStatus struct {
	mu      sync.Mutex
	status  int
	headers http.Header
}

func (d *documentStatus) observe(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Type != network.ResourceTypeDocument || resp.Response == nil {
		return
	}
	headers := http.Header{}
	for key, value := range resp.Response.Headers {
		headers.Add(key, fmt.Sprint(value))
	}
	d.mu.Lock()
	d.status = int(resp.Response.Status)
	d.headers = headers
	d.mu.Unlock()
}

func (d *documentStatus) result() (int, http.Header) {
	d.mu.Lock()
	defer d.mu.Unlock()
	status := d.status
	if status == 0 {
		status = http.StatusOK
	}
	headers := d.headers
	if headers == nil {
		headers = http.Header{}
	}
	return status, headers
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
