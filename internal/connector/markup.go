package connector

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// VisibleText strips markup from an HTML document, dropping script, style
// and noscript elements and collapsing whitespace. Text nodes are joined by
// spaces so adjacent table cells stay apart.
func VisibleText(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return collapseSpace(html)
	}
	doc.Find("script, style, noscript, template, svg").Remove()
	var b strings.Builder
	collectText(doc.Selection, &b)
	return collapseSpace(b.String())
}

func collectText(sel *goquery.Selection, b *strings.Builder) {
	sel.Contents().Each(func(_ int, s *goquery.Selection) {
		switch goquery.NodeName(s) {
		case "#text":
			b.WriteString(s.Text())
			b.WriteByte(' ')
		case "#comment":
		default:
			collectText(s, b)
		}
	})
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// truncateRunes cuts s to at most n runes.
func truncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
