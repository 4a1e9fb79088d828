// Package detector decides when a plain HTTP response should be re-fetched
// through the headless browser.
package detector

import (
	"bytes"

	"github.com/JakeFAU/chapterforge/internal/fetcher"
)

// Heuristic flags anti-bot challenge pages and script-only shells.
type Heuristic struct {
	BodyLengthThreshold int
}

// NewHeuristic creates a detector. A zero threshold defaults to 2048 bytes.
func NewHeuristic(threshold int) *Heuristic {
	if threshold <= 0 {
		threshold = 2048
	}
	return &Heuristic{BodyLengthThreshold: threshold}
}

var challengeMarkers = [][]byte{
	[]byte("cf-browser-verification"),
	[]byte("challenge-platform"),
	[]byte("cf_chl_opt"),
	[]byte("<title>just a moment"),
	[]byte("enable javascript and cookies to continue"),
	[]byte("ddos-guard"),
}

var shellMarkers = [][]byte{
	[]byte("__next"),
	[]byte("id=\"root\""),
	[]byte("id=\"app\""),
	[]byte("data-reactroot"),
}

// ShouldPromote reports whether page needs a rendering browser. Challenge
// pages are often served with 403 or 503, so those statuses are inspected too.
func (h *Heuristic) ShouldPromote(page fetcher.Page) bool {
	switch page.StatusCode {
	case 200, 403, 503:
	default:
		return false
	}
	lower := bytes.ToLower(page.Body)
	for _, marker := range challengeMarkers {
		if bytes.Contains(lower, marker) {
			return true
		}
	}
	if page.StatusCode != 200 {
		return false
	}
	if len(lower) == 0 {
		return true
	}
	if len(lower) < h.BodyLengthThreshold && scriptShare(lower) >= 25 {
		return true
	}
	for _, marker := range shellMarkers {
		if bytes.Contains(lower, marker) && len(lower) < h.BodyLengthThreshold*4 {
			return true
		}
	}
	return false
}

// scriptShare returns the percentage of body bytes inside <script> elements.
// body must already be lower-cased.
func scriptShare(body []byte) int {
	const (
		openTag  = "<script"
		closeTag = "</script>"
	)
	total := len(body)
	if total == 0 {
		return 0
	}
	covered := 0
	rest := body
	for {
		start := bytes.Index(rest, []byte(openTag))
		if start < 0 {
			break
		}
		end := bytes.Index(rest[start:], []byte(closeTag))
		if end < 0 {
			covered += len(rest) - start
			break
		}
		end += start + len(closeTag)
		covered += end - start
		rest = rest[end:]
	}
	return covered * 100 / total
}
