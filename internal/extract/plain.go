package extract

import (
	"strings"
	"unicode/utf8"
)

// extractPlain returns content as text, replacing invalid UTF-8 with U+FFFD.
func extractPlain(content []byte) *Result {
	if !utf8.Valid(content) {
		return &Result{Text: strings.ToValidUTF8(string(content), "\uFFFD")}
	}
	return &Result{Text: string(content)}
}
