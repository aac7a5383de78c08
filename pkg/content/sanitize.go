// Package content normalizes provider article text. Summaries arrive as
// anything from plain text to full HTML documents, and the pipeline wants
// clean prose for scoring, translation and API responses.
package content

import (
	"html"
	"regexp"
	"strings"

	"github.com/markusmobius/go-trafilatura"
	"github.com/microcosm-cc/bluemonday"
	xhtml "golang.org/x/net/html"
)

var (
	stripPolicy  = bluemonday.StrictPolicy()
	spaceRe      = regexp.MustCompile(`[ \t\x{00a0}]+`)
	blankLinesRe = regexp.MustCompile(`\n{3,}`)
)

// looksLikeDocument reports whether the text is a full HTML page rather
// than a text fragment with some markup in it.
func looksLikeDocument(s string) bool {
	lower := strings.ToLower(s)
	return strings.Contains(lower, "<html") || strings.Contains(lower, "<body") || strings.Contains(lower, "<!doctype")
}

// CleanSummary turns provider summary text into plain prose. Full HTML
// documents go through article extraction to drop navigation and
// boilerplate, fragments just get their tags stripped.
func CleanSummary(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	if !strings.Contains(raw, "<") {
		return collapse(html.UnescapeString(raw))
	}

	if looksLikeDocument(raw) {
		if text := extractArticle(raw); text != "" {
			return collapse(text)
		}
		// extraction found nothing, fall back to flattening
		if text := flattenHTML(raw); text != "" {
			return collapse(text)
		}
	}

	return collapse(html.UnescapeString(stripPolicy.Sanitize(raw)))
}

// extractArticle pulls the main article text out of a full HTML page
func extractArticle(doc string) string {
	opts := trafilatura.Options{
		EnableFallback:  true,
		ExcludeComments: true,
		Deduplicate:     true,
	}
	result, err := trafilatura.Extract(strings.NewReader(doc), opts)
	if err != nil || result == nil {
		return ""
	}
	return strings.TrimSpace(result.ContentText)
}

// flattenHTML walks the parse tree and concatenates text nodes, skipping
// script and style subtrees. Used when article extraction comes up empty.
func flattenHTML(doc string) string {
	root, err := xhtml.Parse(strings.NewReader(doc))
	if err != nil {
		return ""
	}

	var sb strings.Builder
	var walk func(n *xhtml.Node)
	walk = func(n *xhtml.Node) {
		if n.Type == xhtml.ElementNode && (n.Data == "script" || n.Data == "style" || n.Data == "noscript") {
			return
		}
		if n.Type == xhtml.TextNode {
			if text := strings.TrimSpace(n.Data); text != "" {
				sb.WriteString(text)
				sb.WriteString(" ")
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return strings.TrimSpace(sb.String())
}

// collapse normalizes whitespace without destroying paragraph breaks
func collapse(s string) string {
	s = spaceRe.ReplaceAllString(s, " ")
	s = blankLinesRe.ReplaceAllString(s, "\n\n")

	lines := strings.Split(s, "\n")
	for i := range lines {
		lines[i] = strings.TrimSpace(lines[i])
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
