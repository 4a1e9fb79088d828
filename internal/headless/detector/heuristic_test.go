package detector

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/chapterforge/internal/fetcher"
)

func TestShouldPromote(t *testing.T) {
	t.Parallel()

	article := "<html><body><div class=\"chapter-content\">" + strings.Repeat("<p>text</p>", 400) + "</div></body></html>"

	cases := []struct {
		name   string
		status int
		body   string
		want   bool
	}{
		{"cloudflare challenge 403", 403, `<html><head><title>Just a moment...</title></head></html>`, true},
		{"challenge platform 503", 503, `<script src="/cdn-cgi/challenge-platform/h/b"></script>`, true},
		{"empty 200", 200, "", true},
		{"script shell", 200, `<html><script>var a=1;window.boot();</script><p>t</p></html>`, true},
		{"spa root", 200, `<div id="__next"></div>`, true},
		{"real article", 200, article, false},
		{"plain 403", 403, "forbidden", false},
		{"not found", 404, "not found", false},
	}
	h := NewHeuristic(0)
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := h.ShouldPromote(fetcher.Page{StatusCode: tc.status, Body: []byte(tc.body)})
			require.Equal(t, tc.want, got)
		})
	}
}

func TestScriptShareUnclosed(t *testing.T) {
	t.Parallel()

	require.Equal(t, 0, scriptShare(nil))
	require.Equal(t, 100, scriptShare([]byte("<script>never closed")))
	require.Equal(t, 50, scriptShare([]byte("<script></script>abcdefghijklmnopq")))
}
