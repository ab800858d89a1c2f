package indexer

import (
	"sort"
	"strings"
	"unicode"
)

// Preprocess collapses runs of whitespace to a single space and trims the ends.
func Preprocess(text string) string {
	out, _ := NormalizeWithBoundaries(text, nil)
	return out
}

// NormalizeWithBoundaries is Preprocess that also maps page boundaries (rune offsets
// into text) to rune offsets into the normalized output. A boundary that falls inside
// a whitespace run maps to the first character after it.
func NormalizeWithBoundaries(text string, boundaries []int) (string, []int) {
	sorted := append([]int(nil), boundaries...)
	sort.Ints(sorted)
	mapped := make([]int, 0, len(sorted))

	var b strings.Builder
	b.Grow(len(text))
	outLen := 0
	pendingSpace := false
	next := 0
	i := 0
	for _, r := range text {
		if unicode.IsSpace(r) {
			pendingSpace = outLen > 0
			i++
			continue
		}
		if pendingSpace {
			b.WriteByte(' ')
			outLen++
			pendingSpace = false
		}
		for next < len(sorted) && sorted[next] <= i {
			mapped = append(mapped, outLen)
			next++
		}
		b.WriteRune(r)
		outLen++
		i++
	}
	for ; next < len(sorted); next++ {
		mapped = append(mapped, outLen)
	}
	if len(boundaries) == 0 {
		mapped = nil
	}
	return b.String(), mapped
}
