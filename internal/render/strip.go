package render

import (
	"strings"

	"golang.org/x/net/html"
)

// StripMarkup drops tags, comments and script/style bodies from an HTML
// fragment. Text is kept exactly as written, entities included.
func StripMarkup(fragment string) string {
	if !strings.ContainsRune(fragment, '<') {
		return fragment
	}
	z := html.NewTokenizer(strings.NewReader(fragment))
	var sb strings.Builder
	skip := 0
	for {
		switch z.Next() {
		case html.ErrorToken:
			return sb.String()
		case html.StartTagToken:
			if name, _ := z.TagName(); isRawTextTag(name) {
				skip++
			}
		case html.EndTagToken:
			if name, _ := z.TagName(); isRawTextTag(name) && skip > 0 {
				skip--
			}
		case html.TextToken:
			if skip == 0 {
				sb.Write(z.Raw())
			}
		}
	}
}

func isRawTextTag(name []byte) bool {
	switch string(name) {
	case "script", "style":
		return true
	}
	return false
}
