package fetcher

import (
	"context"
	"net/http"
	"time"
)

// Page is a downloaded document.
type Page struct {
	URL          string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	Duration     time.Duration
	UsedHeadless bool
}

// Getter downloads a single URL. Implementations return *book.FetchError
// classified by status code or transport failure.
type Getter interface {
	Get(ctx context.Context, url string) (Page, error)
}
