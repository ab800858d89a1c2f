package indexer

import (
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/hyperjump/tanya/internal/models"
)

const (
	defaultMaxSize   = 1000
	defaultMinLength = 10
)

// SegmentOptions bounds fragment construction. Sizes are in runes.
type SegmentOptions struct {
	MaxSize      int
	OverlapUnits int
	MinLength    int
}

func (o SegmentOptions) withDefaults() SegmentOptions {
	if o.MaxSize <= 0 {
		o.MaxSize = defaultMaxSize
	}
	if o.OverlapUnits < 0 {
		o.OverlapUnits = 0
	}
	if o.MinLength < 0 {
		o.MinLength = 0
	}
	return o
}

// Segment splits text into sentence-aligned fragments of at most MaxSize runes.
// Consecutive fragments share the last OverlapUnits sentences of the previous one
// when that fits. Sentences longer than MaxSize are split at word boundaries.
// Fragments shorter than MinLength are dropped.
func Segment(text string, opts SegmentOptions) []string {
	opts = opts.withDefaults()
	text = Preprocess(text)
	if text == "" {
		return nil
	}

	s := &segmenter{opts: opts}
	for _, u := range splitUnits(text) {
		s.add(u)
	}
	s.finish()
	return s.out
}

type segmenter struct {
	opts   SegmentOptions
	out    []string
	cur    []string
	curLen int
	// seeded counts the leading units of cur carried over as overlap.
	seeded int
}

func (s *segmenter) emit(frag string) {
	if utf8.RuneCountInString(frag) >= s.opts.MinLength {
		s.out = append(s.out, frag)
	}
}

func (s *segmenter) reset(units []string) {
	s.cur = units
	s.seeded = len(units)
	s.curLen = 0
	for i, u := range units {
		if i > 0 {
			s.curLen++
		}
		s.curLen += utf8.RuneCountInString(u)
	}
}

// close emits the pending fragment and seeds the next one with its overlap.
func (s *segmenter) close() {
	if len(s.cur) == s.seeded {
		s.reset(nil)
		return
	}
	s.emit(strings.Join(s.cur, " "))
	n := s.opts.OverlapUnits
	if n == 0 || len(s.cur) < n {
		s.reset(nil)
		return
	}
	s.reset(append([]string(nil), s.cur[len(s.cur)-n:]...))
}

func (s *segmenter) add(unit string) {
	size := utf8.RuneCountInString(unit)
	if size > s.opts.MaxSize {
		s.close()
		for _, p := range forceSplit(unit, s.opts.MaxSize, s.opts.MinLength) {
			s.emit(p)
		}
		s.reset(nil)
		return
	}
	if len(s.cur) > 0 && s.curLen+1+size > s.opts.MaxSize {
		s.close()
		// The size bound wins over overlap.
		if len(s.cur) > 0 && s.curLen+1+size > s.opts.MaxSize {
			s.reset(nil)
		}
	}
	if len(s.cur) > 0 {
		s.curLen++
	}
	s.curLen += size
	s.cur = append(s.cur, unit)
}

func (s *segmenter) finish() {
	if len(s.cur) > s.seeded {
		s.emit(strings.Join(s.cur, " "))
	}
	s.reset(nil)
}

// splitUnits splits normalized text after '.', '!' or '?' followed by a space or the end.
func splitUnits(text string) []string {
	var units []string
	start := 0
	for i := 0; i < len(text); i++ {
		switch text[i] {
		case '.', '!', '?':
			if i+1 == len(text) || text[i+1] == ' ' {
				if u := strings.TrimSpace(text[start : i+1]); u != "" {
					units = append(units, u)
				}
				start = i + 1
			}
		}
	}
	if rest := strings.TrimSpace(text[start:]); rest != "" {
		units = append(units, rest)
	}
	return units
}

type piece struct {
	text string
	// glued is set when the piece continues a word cut by runes.
	glued bool
}

// forceSplit cuts an oversized unit at word boundaries into pieces of at most maxSize
// runes, cutting single overlong words by runes. A trailing piece shorter than
// minLength is merged into the one before it.
func forceSplit(unit string, maxSize, minLength int) []string {
	var pieces []piece
	var cur strings.Builder
	curLen := 0
	flush := func() {
		if curLen > 0 {
			pieces = append(pieces, piece{text: cur.String()})
			cur.Reset()
			curLen = 0
		}
	}
	for _, w := range strings.Fields(unit) {
		wl := utf8.RuneCountInString(w)
		if wl > maxSize {
			flush()
			runes := []rune(w)
			for off := 0; off < len(runes); off += maxSize {
				end := min(off+maxSize, len(runes))
				pieces = append(pieces, piece{text: string(runes[off:end]), glued: off > 0})
			}
			continue
		}
		if curLen > 0 && curLen+1+wl > maxSize {
			flush()
		}
		if curLen > 0 {
			cur.WriteByte(' ')
			curLen++
		}
		cur.WriteString(w)
		curLen += wl
	}
	flush()

	if n := len(pieces); n > 1 && utf8.RuneCountInString(pieces[n-1].text) < minLength {
		last := pieces[n-1]
		sep := " "
		if last.glued {
			sep = ""
		}
		pieces[n-2].text += sep + last.text
		pieces = pieces[:n-1]
	}
	out := make([]string, len(pieces))
	for i, p := range pieces {
		out[i] = p.text
	}
	return out
}

// Locate recovers the position of each fragment in the normalized text it was cut
// from. Each fragment is searched from the previous fragment's start; when it cannot
// be found its offset is estimated proportionally. Pages come from pageBoundaries
// (rune offsets where each page starts) and are 1-based; with no boundaries Page is 0.
func Locate(text string, fragments []string, pageBoundaries []int) []*models.Location {
	locs := make([]*models.Location, len(fragments))
	total := utf8.RuneCountInString(text)
	searchFrom := 0 // byte offset
	for i, frag := range fragments {
		fragLen := utf8.RuneCountInString(frag)
		var start int
		if j := strings.Index(text[searchFrom:], frag); j >= 0 {
			byteStart := searchFrom + j
			start = utf8.RuneCountInString(text[:byteStart])
			searchFrom = byteStart
		} else {
			start = i * total / len(fragments)
		}
		end := min(start+fragLen, total)
		locs[i] = &models.Location{
			Page:  pageAt(pageBoundaries, start),
			Start: start,
			End:   end,
		}
	}
	return locs
}

func pageAt(boundaries []int, offset int) int {
	if len(boundaries) == 0 {
		return 0
	}
	// First boundary greater than offset; the page is the one before it.
	i := sort.SearchInts(boundaries, offset+1)
	if i == 0 {
		return 1
	}
	return i
}
