package reduce

import (
	"strings"

	"golang.org/x/net/html"
)

// skipped elements carry no listing text.
var skipped = map[string]bool{
	"script":   true,
	"style":    true,
	"noscript": true,
	"template": true,
	"svg":      true,
	"iframe":   true,
}

// Simplify flattens HTML to text: script, style and comment nodes are
// dropped, entities decoded, tags removed, whitespace collapsed, and the
// result truncated to maxChars runes.
func Simplify(fragment string, maxChars int) string {
	doc, err := html.Parse(strings.NewReader(fragment))
	if err != nil {
		return truncate(collapse(fragment), maxChars)
	}

	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.CommentNode, html.DoctypeNode:
			return
		case html.ElementNode:
			if skipped[n.Data] {
				return
			}
		case html.TextNode:
			b.WriteString(n.Data)
			b.WriteByte(' ')
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	return truncate(collapse(b.String()), maxChars)
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncate(s string, maxChars int) string {
	if maxChars <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= maxChars {
		return s
	}
	return strings.TrimSpace(string(r[:maxChars]))
}
