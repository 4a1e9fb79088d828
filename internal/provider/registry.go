package provider

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/chapterforge/internal/book"
	"github.com/JakeFAU/chapterforge/internal/fetcher"
)

// Registry resolves source URLs to providers in declaration order.
type Registry struct {
	providers []*Provider
}

// NewRegistry builds one Provider per site, all sharing getter.
func NewRegistry(sites []Site, getter fetcher.Getter, logger *zap.Logger) (*Registry, error) {
	r := &Registry{}
	for _, s := range sites {
		p, err := New(s, getter, logger)
		if err != nil {
			return nil, fmt.Errorf("register site: %w", err)
		}
		r.providers = append(r.providers, p)
	}
	return r, nil
}

// Resolve returns the provider for source or book.ErrUnsupportedSource.
func (r *Registry) Resolve(source string) (book.ContentProvider, error) {
	for _, p := range r.providers {
		if p.Matches(source) {
			return p, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", book.ErrUnsupportedSource, source)
}

// Sites lists the registered definitions.
func (r *Registry) Sites() []Site {
	out := make([]Site, 0, len(r.providers))
	for _, p := range r.providers {
		out = append(out, p.Site())
	}
	return out
}
