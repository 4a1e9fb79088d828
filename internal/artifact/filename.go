package artifact

import (
	"regexp"
	"strings"
)

var (
	unsafeFilenameChars = regexp.MustCompile(`[^\p{L}\p{N}_\s.-]`)
	filenameSpaces      = regexp.MustCompile(`\s+`)
)

// SanitizeFilename derives a download name from a document title. Only
// letters, digits, underscores, whitespace, dots and hyphens survive; an
// empty result falls back to "novel.<ext>".
func SanitizeFilename(title, ext string) string {
	ext = strings.TrimPrefix(ext, ".")
	name := unsafeFilenameChars.ReplaceAllString(title, "")
	name = filenameSpaces.ReplaceAllString(name, " ")
	name = strings.Trim(name, " .")
	if name == "" {
		name = "novel"
	}
	if ext == "" {
		return name
	}
	return name + "." + ext
}
