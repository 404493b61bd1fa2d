/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package publishing

import (
	"regexp"
	"strings"
)

// DefaultExcerptLength is the excerpt budget in runes.
const DefaultExcerptLength = 150

var (
	htmlTagRe   = regexp.MustCompile(`<[^>]*>`)
	mdImageRe   = regexp.MustCompile(`!\[([^\]]*)\]\([^)]*\)`)
	mdLinkRe    = regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`)
	mdHeadingRe = regexp.MustCompile(`(?m)^\s{0,3}(#{1,6}|>+|[-*+]\s)\s*`)
	mdEmphRe    = regexp.MustCompile("[*_~`]+")
)

// Excerpt derives a plain-text summary from a lightly marked-up body.
func Excerpt(body string, limit int) string {
	if limit <= 0 {
		limit = DefaultExcerptLength
	}
	text := htmlTagRe.ReplaceAllString(body, " ")
	text = mdImageRe.ReplaceAllString(text, "")
	text = mdLinkRe.ReplaceAllString(text, "$1")
	text = mdHeadingRe.ReplaceAllString(text, "")
	text = mdEmphRe.ReplaceAllString(text, "")
	text = strings.Join(strings.Fields(text), " ")

	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return strings.TrimRight(string(runes[:limit]), " ") + "..."
}
