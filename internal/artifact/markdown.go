package artifact

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"

	"github.com/JakeFAU/chapterforge/internal/book"
)

// MarkdownBuilder writes the whole document as one Markdown file.
type MarkdownBuilder struct {
	converter *md.Converter
}

// NewMarkdownBuilder constructs a MarkdownBuilder.
func NewMarkdownBuilder() *MarkdownBuilder {
	return &MarkdownBuilder{converter: md.NewConverter("", true, nil)}
}

// Extension implements book.ArtifactBuilder.
func (b *MarkdownBuilder) Extension() string { return "md" }

// ContentType implements book.ArtifactBuilder.
func (b *MarkdownBuilder) ContentType() string { return "text/markdown; charset=utf-8" }

// Build writes doc to w. Covers are not embedded.
func (b *MarkdownBuilder) Build(ctx context.Context, doc book.Document, w io.Writer) error {
	bw := bufio.NewWriter(w)

	title := strings.TrimSpace(doc.Title)
	if title == "" {
		title = "Untitled"
	}
	fmt.Fprintf(bw, "# %s\n\n", title)
	if author := strings.TrimSpace(doc.Author); author != "" {
		fmt.Fprintf(bw, "*by %s*\n\n", author)
	}
	if doc.SourceURL != "" {
		fmt.Fprintf(bw, "<%s>\n\n", doc.SourceURL)
	}

	description := strings.TrimSpace(doc.Description)
	if description == "" {
		description = book.NoDescription
	}
	fmt.Fprintf(bw, "## %s\n\n%s\n\n---\n\n", SynopsisTitle, b.convert(description))

	for _, unit := range doc.Units {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("build markdown: %w", err)
		}
		body := unit.Body
		if !unit.Failed {
			body = b.convert(unit.Body)
		}
		fmt.Fprintf(bw, "## %s\n\n%s\n\n", unit.Title, strings.TrimSpace(body))
	}

	if err := bw.Flush(); err != nil {
		return fmt.Errorf("write markdown: %w", err)
	}
	return nil
}

func (b *MarkdownBuilder) convert(fragment string) string {
	if !strings.Contains(fragment, "<") {
		return fragment
	}
	out, err := b.converter.ConvertString(fragment)
	if err != nil {
		return fragment
	}
	return out
}
