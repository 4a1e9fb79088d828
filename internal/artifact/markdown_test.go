package artifact

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/chapterforge/internal/book"
)

func TestMarkdownBuilder(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, NewMarkdownBuilder().Build(context.Background(), sampleDocument(), &buf))

	out := buf.String()
	require.Contains(t, out, "# The Wandering Inn & Co\n")
	require.Contains(t, out, "*by pirateaba*")
	require.Contains(t, out, "## Synopsis")
	require.Contains(t, out, "## 1.00")
	require.Contains(t, out, "## Error 2\n\n"+book.FailedUnitBody)
	require.NotContains(t, out, "<p>")
	require.Less(t, bytes.Index(buf.Bytes(), []byte("## 1.00")), bytes.Index(buf.Bytes(), []byte("## Error 2")))
}
