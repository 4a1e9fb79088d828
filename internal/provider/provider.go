// Package provider implements book.ContentProvider for sites described by
// CSS selector tables, and resolves source URLs to the right site.
package provider

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/chapterforge/internal/book"
	"github.com/JakeFAU/chapterforge/internal/fetcher"
)

// Provider extracts documents from one Site.
type Provider struct {
	site     Site
	getter   fetcher.Getter
	slugTrim *regexp.Regexp
	logger   *zap.Logger
}

// New binds a site definition to a page getter.
func New(site Site, getter fetcher.Getter, logger *zap.Logger) (*Provider, error) {
	if err := site.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Provider{site: site, getter: getter, logger: logger.With(zap.String("site", site.Name))}
	if site.Chapters.SlugTrim != "" {
		p.slugTrim = regexp.MustCompile(site.Chapters.SlugTrim)
	}
	return p, nil
}

// Name returns the site name.
func (p *Provider) Name() string { return p.site.Name }

// Site returns the definition backing p.
func (p *Provider) Site() Site { return p.site }

// Matches reports whether source belongs to this site.
func (p *Provider) Matches(source string) bool {
	u, err := url.Parse(source)
	if err != nil || u.Hostname() == "" {
		return false
	}
	host := strings.ToLower(u.Hostname())
	for _, d := range p.site.Domains {
		d = strings.ToLower(d)
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

// FetchMetadata reads title, author, description and cover from the landing page.
func (p *Provider) FetchMetadata(ctx context.Context, source string) (book.Metadata, error) {
	doc, err := p.document(ctx, source)
	if err != nil {
		return book.Metadata{}, err
	}
	sel := p.site.Metadata
	header := doc.Find(sel.Header).First()
	if header.Length() == 0 {
		p.logger.Error("metadata header not found, layout may have changed", zap.String("url", source))
		return book.Metadata{}, book.NewFetchError(book.KindParsing, source,
			fmt.Errorf("book header %q not found", sel.Header))
	}

	meta := book.Metadata{
		Title:       textOr(within(doc, header, sel.Title).First(), "Unknown Title"),
		Author:      "Unknown Author",
		Description: book.NoDescription,
	}
	if sel.Author != "" {
		authors := within(doc, header, sel.Author)
		if sel.AuthorIndex < authors.Length() {
			meta.Author = textOr(authors.Eq(sel.AuthorIndex), meta.Author)
		}
	}
	if sel.Description != "" {
		if desc := doc.Find(sel.Description).First(); desc.Length() > 0 {
			if html, err := desc.Html(); err == nil && strings.TrimSpace(html) != "" {
				meta.Description = strings.TrimSpace(html)
			}
		}
	}
	if sel.Cover != "" {
		img := within(doc, header, sel.Cover).First()
		// Lazy-loaded covers keep the real URL in data-src.
		for _, attr := range []string{"data-src", "src"} {
			if src, ok := img.Attr(attr); ok && strings.TrimSpace(src) != "" {
				meta.CoverURL = resolve(source, strings.TrimSpace(src))
				break
			}
		}
	}
	p.logger.Info("metadata extracted",
		zap.String("title", meta.Title), zap.String("author", meta.Author))
	return meta, nil
}

// ListUnitURLs returns the URLs of chapters start..start+quantity-1 (1-based),
// clipped to what the site lists.
func (p *Provider) ListUnitURLs(ctx context.Context, source string, start, quantity int) ([]string, error) {
	if start < 1 || quantity < 1 {
		return nil, fmt.Errorf("invalid range start=%d quantity=%d", start, quantity)
	}
	doc, err := p.document(ctx, source)
	if err != nil {
		return nil, err
	}
	scope := doc.Selection
	if c := p.site.Chapters.Container; c != "" {
		scope = doc.Find(c)
		if scope.Length() == 0 {
			return nil, book.NewFetchError(book.KindParsing, source,
				fmt.Errorf("chapter list container %q not found", c))
		}
	}
	var (
		links *goquery.Selection
		total int
	)
	if c := p.site.Chapters.Count; c != "" {
		total = leadingNumber(scope.Find(c).First().Text())
	} else {
		links = scope.Find(p.site.Chapters.Link)
		total = links.Length()
	}
	if total == 0 {
		return nil, book.NewFetchError(book.KindParsing, source, errors.New("no chapters found on this page"))
	}
	if start > total {
		return nil, &book.RangeError{Start: start, Available: total}
	}
	end := min(start+quantity-1, total)

	urls := make([]string, 0, end-start+1)
	if tmpl := p.site.Chapters.URLTemplate; tmpl != "" {
		slug := p.slug(source)
		for n := start; n <= end; n++ {
			urls = append(urls, strings.NewReplacer("{slug}", slug, "{n}", strconv.Itoa(n)).Replace(tmpl))
		}
	} else {
		var missing int
		links.Slice(start-1, end).EachWithBreak(func(i int, a *goquery.Selection) bool {
			href, _ := a.Attr(p.site.Chapters.Attr)
			if href = strings.TrimSpace(href); href == "" {
				missing = start + i
				return false
			}
			urls = append(urls, p.absolute(source, href))
			return true
		})
		// Skipping the link would shift every later chapter into the wrong slot.
		if missing > 0 {
			return nil, book.NewFetchError(book.KindParsing, source,
				fmt.Errorf("chapter %d has no %q attribute", missing, p.site.Chapters.Attr))
		}
	}
	p.logger.Info("chapters queued",
		zap.Int("available", total), zap.Int("start", start), zap.Int("end", end), zap.Int("queued", len(urls)))
	return urls, nil
}

// FetchUnit downloads one chapter and returns its cleaned body HTML.
func (p *Provider) FetchUnit(ctx context.Context, rawURL string) (book.Unit, error) {
	doc, err := p.document(ctx, rawURL)
	if err != nil {
		return book.Unit{}, err
	}
	sel := p.site.Chapter
	content := doc.Find(sel.Content).First()
	if content.Length() == 0 && sel.Fallback != "" {
		content = doc.Find(sel.Fallback).First()
	}
	if content.Length() == 0 {
		return book.Unit{}, book.NewFetchError(book.KindEmptyContent, rawURL,
			fmt.Errorf("chapter content %q not found", sel.Content))
	}
	for _, junk := range sel.Strip {
		content.Find(junk).Remove()
	}
	if len(sel.DropLeadParagraph) > 0 {
		lead := content.Find("p").First()
		for _, marker := range sel.DropLeadParagraph {
			if strings.Contains(lead.Text(), marker) {
				lead.Remove()
				break
			}
		}
	}
	body, err := content.Html()
	if err != nil {
		return book.Unit{}, book.NewFetchError(book.KindEmptyContent, rawURL, err)
	}
	title := "Untitled"
	if sel.Title != "" {
		title = textOr(doc.Find(sel.Title).First(), title)
	}
	return book.Unit{Title: title, Body: strings.TrimSpace(body)}, nil
}

// FetchCover downloads the cover image bytes.
func (p *Provider) FetchCover(ctx context.Context, rawURL string) ([]byte, error) {
	page, err := p.getter.Get(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	if len(page.Body) == 0 {
		return nil, book.NewFetchError(book.KindEmptyContent, rawURL, errors.New("empty cover"))
	}
	return page.Body, nil
}

func (p *Provider) document(ctx context.Context, rawURL string) (*goquery.Document, error) {
	page, err := p.getter.Get(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		return nil, book.NewFetchError(book.KindParsing, rawURL, fmt.Errorf("parse html: %w", err))
	}
	return doc, nil
}

func (p *Provider) absolute(source, href string) string {
	if p.site.BaseURL != "" && strings.HasPrefix(href, "/") && !strings.HasPrefix(href, "//") {
		return strings.TrimRight(p.site.BaseURL, "/") + href
	}
	return resolve(source, href)
}

func (p *Provider) slug(source string) string {
	u, err := url.Parse(source)
	if err != nil {
		return ""
	}
	slug := path.Base(strings.TrimRight(u.Path, "/"))
	if p.slugTrim != nil {
		slug = p.slugTrim.ReplaceAllString(slug, "")
	}
	return slug
}

// within searches inside scope first and falls back to the whole document.
func within(doc *goquery.Document, scope *goquery.Selection, selector string) *goquery.Selection {
	if found := scope.Find(selector); found.Length() > 0 {
		return found
	}
	return doc.Find(selector)
}

func textOr(sel *goquery.Selection, fallback string) string {
	if text := strings.TrimSpace(sel.Text()); text != "" {
		return text
	}
	return fallback
}

func resolve(base, ref string) string {
	b, err := url.Parse(base)
	if err != nil {
		return ref
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return b.ResolveReference(r).String()
}

var digits = regexp.MustCompile(`\d[\d,.]*`)

// leadingNumber parses the first integer in text, ignoring thousands
// separators. It returns 0 when there is none.
func leadingNumber(text string) int {
	m := digits.FindString(text)
	if m == "" {
		return 0
	}
	n, err := strconv.Atoi(strings.NewReplacer(",", "", ".", "").Replace(m))
	if err != nil {
		return 0
	}
	return n
}
