package normalize

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

var (
	markupTag  = regexp.MustCompile(`(?i)</?(p|br|a|b|i|em|strong|code|pre|ul|ol|li|h[1-6]|div|span|table|tr|td|th|blockquote)\b[^>]*>`)
	blankLines = regexp.MustCompile(`\n{3,}`)
)

// cleanText trims s and reduces embedded HTML to plain text. Text without
// recognizable markup is left alone so that "a < b" survives.
func cleanText(s string) string {
	s = strings.TrimSpace(s)
	if !markupTag.MatchString(s) {
		return s
	}
	doc, err := html.Parse(strings.NewReader(s))
	if err != nil {
		return s
	}
	var buf strings.Builder
	root := findBody(doc)
	if root == nil {
		root = doc
	}
	writeText(&buf, root)
	out := blankLines.ReplaceAllString(buf.String(), "\n\n")
	return strings.TrimSpace(out)
}

func writeText(buf *strings.Builder, n *html.Node) {
	switch n.Type {
	case html.TextNode:
		buf.WriteString(n.Data)
		return
	case html.ElementNode:
		switch n.Data {
		case "script", "style":
			return
		case "br":
			buf.WriteString("\n")
			return
		case "li":
			buf.WriteString("\n- ")
		case "code":
			buf.WriteString("`")
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				writeText(buf, c)
			}
			buf.WriteString("`")
			return
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		writeText(buf, c)
	}
	if n.Type == html.ElementNode && isBlock(n.Data) {
		buf.WriteString("\n\n")
	}
}

func isBlock(tag string) bool {
	switch tag {
	case "p", "div", "ul", "ol", "pre", "table", "tr", "blockquote",
		"h1", "h2", "h3", "h4", "h5", "h6":
		return true
	}
	return false
}

func findBody(n *html.Node) *html.Node {
	if n.Type == html.ElementNode && n.Data == "body" {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if b := findBody(c); b != nil {
			return b
		}
	}
	return nil
}
