package artifact

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/chapterforge/internal/book"
)

// Supported formats.
const (
	FormatEPUB     = "epub"
	FormatMarkdown = "markdown"
)

// ForFormat returns the builder registered for format.
func ForFormat(format string, logger *zap.Logger) (book.ArtifactBuilder, error) {
	switch format {
	case "", FormatEPUB:
		return NewEPUBBuilder(logger), nil
	case FormatMarkdown:
		return NewMarkdownBuilder(), nil
	default:
		return nil, fmt.Errorf("unsupported artifact format %q", format)
	}
}
