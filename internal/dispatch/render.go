package dispatch

import (
	"html"
	"strings"

	"leetbot/internal/leetcode"
)

const (
	header       = "Today's LeetCode Challenge:"
	notAvailable = "Not available"
)

// Render builds the HTML message body. Links are escaped for Telegram's HTML
// parse mode. Items without a link render as "Not available"; the message is
// produced even when every item is missing.
func Render(items []leetcode.Item) string {
	var b strings.Builder
	b.WriteString(header)
	b.WriteString("\n")
	for _, it := range items {
		b.WriteString("\n")
		b.WriteString(it.Difficulty.Label())
		b.WriteString(": ")
		if it.Available() {
			b.WriteString(html.EscapeString(it.Link))
		} else {
			b.WriteString(notAvailable)
		}
	}
	return b.String()
}
