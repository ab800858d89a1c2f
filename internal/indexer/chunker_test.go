package indexer

import (
	"fmt"
	"reflect"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSegment(t *testing.T) {
	tests := []struct {
		name string
		text string
		opts SegmentOptions
		want []string
	}{
		{
			name: "two sentences, second forced over the bound",
			text: "Cats are mammals. Dogs are mammals too.",
			opts: SegmentOptions{MaxSize: 20, MinLength: 10},
			want: []string{"Cats are mammals.", "Dogs are mammals too."},
		},
		{
			name: "packs sentences up to the bound",
			text: "One is here. Two is here. Three here. Four is here.",
			opts: SegmentOptions{MaxSize: 30, MinLength: 1},
			want: []string{"One is here. Two is here.", "Three here. Four is here."},
		},
		{
			name: "overlap repeats the last sentence",
			text: "One is here. Two is here. Three here. Four is here.",
			opts: SegmentOptions{MaxSize: 30, OverlapUnits: 1, MinLength: 1},
			want: []string{"One is here. Two is here.", "Two is here. Three here.", "Three here. Four is here."},
		},
		{
			name: "overlap dropped when it would break the bound",
			text: "One is here. Two is here. Four is here too.",
			opts: SegmentOptions{MaxSize: 25, OverlapUnits: 1, MinLength: 1},
			want: []string{"One is here. Two is here.", "Four is here too."},
		},
		{
			name: "question and exclamation marks end sentences",
			text: "Really? Yes! Fine.",
			opts: SegmentOptions{MaxSize: 8, MinLength: 1},
			want: []string{"Really?", "Yes!", "Fine."},
		},
		{
			name: "decimal point is not a boundary",
			text: "Pi is 3.14 roughly.",
			opts: SegmentOptions{MaxSize: 100, MinLength: 1},
			want: []string{"Pi is 3.14 roughly."},
		},
		{
			name: "no boundary is one unit",
			text: "no punctuation at all here",
			opts: SegmentOptions{MaxSize: 100, MinLength: 1},
			want: []string{"no punctuation at all here"},
		},
		{
			name: "whitespace is normalized",
			text: "  Line one.\n\n\tLine   two.  ",
			opts: SegmentOptions{MaxSize: 100, MinLength: 1},
			want: []string{"Line one. Line two."},
		},
		{
			name: "short fragments are dropped as noise",
			text: "Hi. Hello there, friend.",
			opts: SegmentOptions{MaxSize: 20, MinLength: 10},
			want: []string{"Hello there, friend."},
		},
		{
			name: "overlong word is cut by runes",
			text: "abcdefghijklmnopqrstuvwxyz",
			opts: SegmentOptions{MaxSize: 10, MinLength: 1},
			want: []string{"abcdefghij", "klmnopqrst", "uvwxyz"},
		},
		{
			name: "short tail of a cut word is glued back",
			text: "abcdefghijklmnopqrstuvwxyz",
			opts: SegmentOptions{MaxSize: 10, MinLength: 10},
			want: []string{"abcdefghij", "klmnopqrstuvwxyz"},
		},
		{
			name: "short tail of a split sentence merges past the bound",
			text: "aaaa bbbb cccc dddd eeee f.",
			opts: SegmentOptions{MaxSize: 20, MinLength: 10},
			want: []string{"aaaa bbbb cccc dddd eeee f."},
		},
		{
			name: "empty input",
			text: " \n\t ",
			opts: SegmentOptions{MaxSize: 10},
			want: nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Segment(tt.text, tt.opts)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Segment() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSegment_sizeBound(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 200; i++ {
		fmt.Fprintf(&sb, "Sentence number %d talks about item %d in some detail. ", i, i*7)
	}
	for _, overlap := range []int{0, 1, 2, 3} {
		opts := SegmentOptions{MaxSize: 120, OverlapUnits: overlap, MinLength: 10}
		frags := Segment(sb.String(), opts)
		if len(frags) < 2 {
			t.Fatalf("overlap %d: expected many fragments, got %d", overlap, len(frags))
		}
		for i, f := range frags {
			if n := utf8.RuneCountInString(f); n > opts.MaxSize {
				t.Errorf("overlap %d: fragment %d has %d runes > %d", overlap, i, n, opts.MaxSize)
			}
		}
	}
}

func TestSegment_overlapPrefix(t *testing.T) {
	text := "Alpha one. Bravo two. Charlie three. Delta four. Echo five. Foxtrot six. Golf seven."
	opts := SegmentOptions{MaxSize: 40, OverlapUnits: 1, MinLength: 1}
	frags := Segment(text, opts)
	if len(frags) < 3 {
		t.Fatalf("expected at least 3 fragments, got %q", frags)
	}
	for i := 1; i < len(frags); i++ {
		prev := splitUnits(frags[i-1])
		last := prev[len(prev)-1]
		if !strings.HasPrefix(frags[i], last) {
			t.Errorf("fragment %d %q should start with %q", i, frags[i], last)
		}
	}
}

func TestSegment_noOverlapNoRepeats(t *testing.T) {
	text := "Alpha one. Bravo two. Charlie three. Delta four. Echo five."
	frags := Segment(text, SegmentOptions{MaxSize: 25, MinLength: 1})
	if got := strings.Join(frags, " "); got != text {
		t.Errorf("fragments should tile the text without repeats:\n got %q\nwant %q", got, text)
	}
}

func TestSegment_multibyteCountsRunes(t *testing.T) {
	text := "Über straße ist schön. Ça va très bien."
	frags := Segment(text, SegmentOptions{MaxSize: 22, MinLength: 1})
	want := []string{"Über straße ist schön.", "Ça va très bien."}
	if !reflect.DeepEqual(frags, want) {
		t.Errorf("got %q, want %q", frags, want)
	}
}

func TestLocate(t *testing.T) {
	text := "Cats are mammals. Dogs are mammals too."
	frags := []string{"Cats are mammals.", "Dogs are mammals too."}
	locs := Locate(text, frags, []int{0, 18})
	if locs[0].Start != 0 || locs[0].End != 17 || locs[0].Page != 1 {
		t.Errorf("first location = %+v", locs[0])
	}
	if locs[1].Start != 18 || locs[1].End != 39 || locs[1].Page != 2 {
		t.Errorf("second location = %+v", locs[1])
	}
}

func TestLocate_noPages(t *testing.T) {
	locs := Locate("abc def", []string{"abc", "def"}, nil)
	if locs[0].Page != 0 || locs[1].Start != 4 {
		t.Errorf("got %+v %+v", locs[0], locs[1])
	}
}

func TestLocate_overlappingFragments(t *testing.T) {
	text := "A one. B two. C three."
	frags := []string{"A one. B two.", "B two. C three."}
	locs := Locate(text, frags, nil)
	if locs[1].Start != 7 {
		t.Errorf("overlapping fragment should be found at 7, got %d", locs[1].Start)
	}
}

func TestLocate_fallbackEstimate(t *testing.T) {
	text := "0123456789"
	locs := Locate(text, []string{"zz", "yy"}, []int{0, 5})
	if locs[0].Start != 0 || locs[1].Start != 5 {
		t.Errorf("proportional estimate: got %d and %d", locs[0].Start, locs[1].Start)
	}
	if locs[1].Page != 2 {
		t.Errorf("page = %d, want 2", locs[1].Page)
	}
}

func TestLocate_multibyteOffsetsAreRunes(t *testing.T) {
	text := "Ça va. Très bien."
	locs := Locate(text, []string{"Ça va.", "Très bien."}, nil)
	if locs[1].Start != 7 || locs[1].End != 17 {
		t.Errorf("got %+v", locs[1])
	}
}

func TestNormalizeWithBoundaries(t *testing.T) {
	text := "Page one.\n\n\fPage two."
	got, bounds := NormalizeWithBoundaries(text, []int{0, 11})
	if got != "Page one. Page two." {
		t.Errorf("text = %q", got)
	}
	if !reflect.DeepEqual(bounds, []int{0, 10}) {
		t.Errorf("bounds = %v", bounds)
	}

	_, bounds = NormalizeWithBoundaries("ab", []int{5})
	if !reflect.DeepEqual(bounds, []int{2}) {
		t.Errorf("out of range boundary: %v", bounds)
	}
	if _, bounds = NormalizeWithBoundaries("ab", nil); bounds != nil {
		t.Errorf("no boundaries should stay nil, got %v", bounds)
	}
}

func TestPreprocess(t *testing.T) {
	if got := Preprocess("  a \n\n b\t "); got != "a b" {
		t.Errorf("got %q", got)
	}
}
