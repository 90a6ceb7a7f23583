package reddit

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// Elements that end the current paragraph. Everything else is treated as inline.
var blockTags = map[string]bool{
	"p": true, "div": true, "pre": true, "blockquote": true,
	"ul": true, "ol": true, "li": true,
	"table": true, "thead": true, "tbody": true, "tr": true, "td": true, "th": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"hr": true,
}

// plainText flattens Reddit's rendered HTML into blank-line separated paragraphs.
// The markdown source is used when no HTML is available or it cannot be parsed.
func plainText(htmlBody, fallback string) string {
	if strings.TrimSpace(htmlBody) == "" {
		return strings.TrimSpace(fallback)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlBody))
	if err != nil {
		return strings.TrimSpace(fallback)
	}

	var f flattener
	for _, n := range doc.Find("body").Nodes {
		f.walk(n)
	}
	f.flush()
	return strings.Join(f.parts, "\n\n")
}

// flattener collects the text of each block separately so that text sitting
// next to a nested block (an item with a sub-list, a table cell) is kept.
type flattener struct {
	parts  []string
	buf    strings.Builder
	bullet bool
}

func (f *flattener) walk(n *html.Node) {
	switch {
	case n.Type == html.TextNode:
		f.buf.WriteString(n.Data)
		return
	case n.Type != html.ElementNode:
		return
	case n.Data == "br":
		f.buf.WriteString("\n")
		return
	}

	block := blockTags[n.Data]
	if block {
		f.flush()
		if n.Data == "li" {
			f.bullet = true
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		f.walk(c)
	}
	if block {
		f.flush()
		if n.Data == "li" {
			f.bullet = false
		}
	}
}

// flush closes the pending paragraph. The first paragraph of a list item gets the bullet.
func (f *flattener) flush() {
	text := strings.TrimSpace(f.buf.String())
	f.buf.Reset()
	if text == "" {
		return
	}
	if f.bullet {
		text = "• " + text
		f.bullet = false
	}
	f.parts = append(f.parts, text)
}
