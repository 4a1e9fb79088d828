// Package proxy holds the active-proxy selection shared by every request
// that goes through one HTTP transport.
package proxy

import (
	"fmt"
	"net/http"
	"net/url"
	"sync/atomic"
)

// Route identifies which proxy is active.
type Route int32

// Routes.
const (
	RoutePrimary Route = iota
	RouteFallback
)

func (r Route) String() string {
	if r == RouteFallback {
		return "fallback"
	}
	return "primary"
}

// Switch selects between a primary and a fallback proxy. A nil URL means a
// direct connection. Failover is one-way: once on the fallback it stays there.
type Switch struct {
	primary  *url.URL
	fallback *url.URL
	active   atomic.Int32
	switches atomic.Int64
}

// New parses the proxy URLs. Empty strings mean direct.
func New(primary, fallback string) (*Switch, error) {
	p, err := parse(primary)
	if err != nil {
		return nil, fmt.Errorf("primary proxy: %w", err)
	}
	f, err := parse(fallback)
	if err != nil {
		return nil, fmt.Errorf("fallback proxy: %w", err)
	}
	return &Switch{primary: p, fallback: f}, nil
}

func parse(raw string) (*url.URL, error) {
	if raw == "" {
		return nil, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse %q: %w", raw, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("proxy url %q must include scheme and host", raw)
	}
	return u, nil
}

// Current returns the active route.
func (s *Switch) Current() Route {
	return Route(s.active.Load())
}

func (s *Switch) hasDistinctFallback() bool {
	if s.fallback == nil {
		return false
	}
	return s.primary == nil || s.primary.String() != s.fallback.String()
}

// Failover moves off the route observed by a failed attempt. It reports
// whether the active route now differs from observed, regardless of which
// caller performed the switch, so concurrent callers all retry immediately.
func (s *Switch) Failover(observed Route) bool {
	if observed != RoutePrimary || !s.hasDistinctFallback() {
		return false
	}
	if s.active.CompareAndSwap(int32(RoutePrimary), int32(RouteFallback)) {
		s.switches.Add(1)
	}
	return s.Current() != observed
}

// Switches counts successful failovers.
func (s *Switch) Switches() int64 {
	return s.switches.Load()
}

// ActiveURL returns the proxy for the active route, nil for direct.
func (s *Switch) ActiveURL() *url.URL {
	if s.Current() == RouteFallback {
		return s.fallback
	}
	return s.primary
}

// ProxyFunc is installed as http.Transport.Proxy.
func (s *Switch) ProxyFunc(_ *http.Request) (*url.URL, error) {
	return s.ActiveURL(), nil
}

// Mode labels the configured topology.
func (s *Switch) Mode() string {
	switch {
	case s.hasDistinctFallback():
		return "failover"
	case s.primary != nil || s.fallback != nil:
		return "fixed"
	default:
		return "direct"
	}
}
