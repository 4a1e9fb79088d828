package artifact

import (
	"bytes"
	"fmt"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// dropped elements never make it into the artifact.
var dropped = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Iframe:   true,
	atom.Form:     true,
}

// toXHTML parses an HTML fragment as body content and re-renders it as
// well-formed markup: void elements self-close, entities are resolved and
// attributes are quoted.
func toXHTML(fragment string) (string, error) {
	body := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	nodes, err := html.ParseFragment(strings.NewReader(fragment), body)
	if err != nil {
		return "", fmt.Errorf("parse fragment: %w", err)
	}
	var buf bytes.Buffer
	for _, n := range nodes {
		clean(n)
		if n.Type == html.CommentNode || (n.Type == html.ElementNode && dropped[n.DataAtom]) {
			continue
		}
		if err := html.Render(&buf, n); err != nil {
			return "", fmt.Errorf("render fragment: %w", err)
		}
	}
	return strings.TrimSpace(buf.String()), nil
}

// clean removes comments, dropped elements and attributes XHTML readers
// choke on (inline event handlers, unknown namespaces).
func clean(n *html.Node) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		if c.Type == html.CommentNode || (c.Type == html.ElementNode && dropped[c.DataAtom]) {
			n.RemoveChild(c)
		} else {
			clean(c)
		}
		c = next
	}
	if n.Type != html.ElementNode {
		return
	}
	attrs := n.Attr[:0]
	for _, a := range n.Attr {
		if a.Namespace != "" || strings.HasPrefix(a.Key, "on") || strings.Contains(a.Key, ":") {
			continue
		}
		attrs = append(attrs, a)
	}
	n.Attr = attrs
}

// paragraphs escapes plain text and turns line breaks into <br/>.
func paragraphs(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	escaped := html.EscapeString(text)
	return "<p>" + strings.ReplaceAll(escaped, "\n", "<br/>") + "</p>"
}

// fragmentOrText treats s as HTML when it looks like markup and as plain
// text otherwise.
func fragmentOrText(s string) string {
	if !strings.Contains(s, "<") {
		return paragraphs(s)
	}
	out, err := toXHTML(s)
	if err != nil {
		return paragraphs(s)
	}
	return out
}
