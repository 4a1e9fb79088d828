// Package artifact turns an assembled book.Document into a downloadable file.
//
// Two formats are supported: EPUB 3 (with an EPUB 2 NCX for older readers)
// and a single Markdown file. Chapter bodies arrive as HTML fragments
// scraped from the source site and are normalized before being embedded.
package artifact
