package slack

import (
	"regexp"
	"strings"
)

var whitespaceRe = regexp.MustCompile(`\s+`)

// fingerprint normalizes a message fallback into a dedupe key: lowercased,
// whitespace collapsed, trimmed. Two notifications that render to the same
// key within the dedupe window are posted once.
func fingerprint(s string) string {
	s = strings.ToLower(s)
	s = whitespaceRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}
