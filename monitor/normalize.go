package monitor

import "regexp"

// Volatile attributes are re-stamped on every agenda export even when the
// rule itself is untouched. The leading \s+ swallows the whitespace that
// separated the attribute from its neighbor so removal leaves no gap.
var (
	volatileAttrRe  = regexp.MustCompile(`(?i)\s+(?:run_?date|timestamp|generated)=["'][^"']*["']`)
	markupCommentRe = regexp.MustCompile(`(?s)<!--.*?-->`)
)

// Normalize strips volatile substrings from a raw document so that
// re-renders of identical content compare equal: run-date, timestamp and
// generated attributes (any case, either quote style) and all markup
// comments, including multi-line ones. Every other byte is preserved.
// Pure and idempotent; safe to call on already-normalized text.
func Normalize(raw string) string {
	out := volatileAttrRe.ReplaceAllString(raw, "")
	return markupCommentRe.ReplaceAllString(out, "")
}
