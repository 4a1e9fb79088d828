package book

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
)

// Job and registry errors.
var (
	ErrJobNotFound       = errors.New("job not found")
	ErrJobExists         = errors.New("job already exists")
	ErrJobTerminal       = errors.New("job already finished")
	ErrNotReady          = errors.New("job not completed")
	ErrUnsupportedSource = errors.New("unsupported source")
	ErrNoContent         = errors.New("no content retrieved")
	ErrArtifactNotFound  = errors.New("artifact not found")
	ErrInvalidRequest    = errors.New("invalid request")
)

// Kind classifies a fetch failure for retry purposes.
type Kind int

// Failure kinds.
const (
	KindUnknown Kind = iota
	KindNotFound
	KindRateLimited
	KindBlocked
	KindTransport
	KindEmptyContent
	KindUnavailable
	KindParsing
	KindRange
	KindStructural
)

var kindNames = map[Kind]string{
	KindUnknown:      "unknown",
	KindNotFound:     "not_found",
	KindRateLimited:  "rate_limited",
	KindBlocked:      "blocked",
	KindTransport:    "transport_failure",
	KindEmptyContent: "empty_content",
	KindUnavailable:  "unavailable",
	KindParsing:      "parsing_failure",
	KindRange:        "range_error",
	KindStructural:   "structural_failure",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// FetchError is returned by transports, providers and the resilient fetcher.
type FetchError struct {
	Kind       Kind
	URL        string
	StatusCode int
	Attempts   int
	Err        error
}

func (e *FetchError) Error() string {
	msg := e.Kind.String()
	if e.StatusCode != 0 {
		msg += " (HTTP " + strconv.Itoa(e.StatusCode) + ")"
	}
	if e.URL != "" {
		msg += " " + e.URL
	}
	if e.Attempts > 0 {
		msg += fmt.Sprintf(" after %d attempts", e.Attempts)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FetchError) Unwrap() error { return e.Err }

// NewFetchError is shorthand for building a FetchError.
func NewFetchError(kind Kind, url string, err error) *FetchError {
	return &FetchError{Kind: kind, URL: url, Err: err}
}

// KindForStatus maps an HTTP status code to a failure kind. Success codes map to KindUnknown.
func KindForStatus(code int) Kind {
	switch {
	case code == 404 || code == 410:
		return KindNotFound
	case code == 429:
		return KindRateLimited
	case code == 403:
		return KindBlocked
	case code >= 500:
		return KindUnavailable
	case code >= 400:
		return KindParsing
	default:
		return KindUnknown
	}
}

// KindOf classifies an arbitrary error.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	var re *RangeError
	if errors.As(err, &re) {
		return KindRange
	}
	if errors.Is(err, ErrNoContent) {
		return KindStructural
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransport
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindTransport
	}
	return KindUnknown
}

// RangeError reports that the requested start lies past the available units.
type RangeError struct {
	Start     int
	Available int
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("start unit %d exceeds available units (%d)", e.Start, e.Available)
}

func failedTitle(index int) string {
	return "Error " + strconv.Itoa(index+1)
}
