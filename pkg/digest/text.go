package digest

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const ellipsis = "..."

// Truncate shortens s to no more than length characters (code points),
// using an ellipsis and without chopping words. Leading and trailing
// whitespace is always trimmed. Strings that already fit are returned
// unchanged after trimming.
//
// Counting is done over runes so that the limit holds for the full
// Unicode range, not just ASCII.
func Truncate(s string, length int) string {
	s = strings.TrimSpace(s)
	pts := []rune(s)
	if len(pts) <= length {
		return s
	}

	// Take an extra len(ellipsis) off the original string to make room for
	// the marker, then back up to the previous word boundary.
	cut := length - len(ellipsis)
	if cut < 0 {
		cut = 0
	}
	head := string(pts[:cut])
	if idx := strings.LastIndex(head, " "); idx >= 0 {
		head = head[:idx]
	}
	return strings.TrimSpace(head) + ellipsis
}

// StripTags removes HTML markup from s, returning its text content.
// Upstream thread titles and post bodies arrive as user-authored HTML.
func StripTags(s string) string {
	if !strings.ContainsRune(s, '<') {
		return s
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return s
	}
	return doc.Text()
}

// TextList makes a natural language list from the given items:
// "spam", "spam and eggs", "spam, eggs, and beans".
func TextList(values []string) string {
	switch len(values) {
	case 0:
		return ""
	case 1:
		return values[0]
	case 2:
		return values[0] + " and " + values[1]
	default:
		return strings.Join(values[:len(values)-1], ", ") + ", and " + values[len(values)-1]
	}
}
