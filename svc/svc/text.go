package svc

import (
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/unicode/norm"
)

var strictPolicy = bluemonday.StrictPolicy()

// normalizeContent NFC-normalizes s, drops invalid UTF-8 and strips control
// characters other than newlines and tabs.
func normalizeContent(s string) string {
	s = norm.NFC.String(s)
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "")
	}
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' || r == '\t' {
			return r
		}
		if r < 32 || r == 127 {
			return -1
		}
		return r
	}, s)
}

// stripHTML removes all markup and returns plain text. The policy escapes
// what it keeps, so entities are decoded again before storing.
func stripHTML(s string) string {
	return strings.TrimSpace(html.UnescapeString(strictPolicy.Sanitize(normalizeContent(s))))
}
