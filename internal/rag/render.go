package rag

import (
	"html"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	headerLine   = regexp.MustCompile(`^(#{1,3})\s+(.+)$`)
	numberedLine = regexp.MustCompile(`^\d+[.)]\s+(.+)$`)
	bulletLine   = regexp.MustCompile(`^[-*]\s+(.+)$`)
	boldSpan     = regexp.MustCompile(`\*\*(.+?)\*\*`)
	emphasisSpan = regexp.MustCompile(`_([^_]+)_`)
)

// RenderDisplay converts generated text into HTML for display. Markup in raw is
// escaped first; then headers, numbered and bulleted lists, bold and emphasis are
// converted. Remaining lines become paragraphs: a blank line separates paragraphs
// and a single newline is a line break.
func RenderDisplay(raw string) string {
	r := &renderer{}
	text := strings.ReplaceAll(raw, "\r\n", "\n")
	for _, line := range strings.Split(html.EscapeString(text), "\n") {
		r.line(strings.TrimRight(line, " \t"))
	}
	r.flush()
	return strings.Join(r.blocks, "\n")
}

type renderer struct {
	blocks []string
	para   []string
	list   string // "ul", "ol" or empty
	items  []string
}

func (r *renderer) line(line string) {
	trimmed := strings.TrimLeft(line, " \t")
	if trimmed == "" {
		r.flush()
		return
	}
	if m := headerLine.FindStringSubmatch(trimmed); m != nil {
		r.flush()
		tag := "h" + string(rune('0'+len(m[1])))
		r.blocks = append(r.blocks, "<"+tag+">"+inline(m[2])+"</"+tag+">")
		return
	}
	if m := numberedLine.FindStringSubmatch(trimmed); m != nil {
		r.item("ol", m[1])
		return
	}
	if m := bulletLine.FindStringSubmatch(trimmed); m != nil {
		r.item("ul", m[1])
		return
	}
	r.closeList()
	r.para = append(r.para, inline(trimmed))
}

func (r *renderer) item(list, text string) {
	r.closePara()
	if r.list != list {
		r.closeList()
		r.list = list
	}
	r.items = append(r.items, "<li>"+inline(text)+"</li>")
}

func (r *renderer) flush() {
	r.closePara()
	r.closeList()
}

func (r *renderer) closePara() {
	if len(r.para) == 0 {
		return
	}
	r.blocks = append(r.blocks, "<p>"+strings.Join(r.para, "<br>")+"</p>")
	r.para = nil
}

func (r *renderer) closeList() {
	if r.list == "" {
		return
	}
	r.blocks = append(r.blocks, "<"+r.list+">"+strings.Join(r.items, "")+"</"+r.list+">")
	r.list = ""
	r.items = nil
}

func inline(s string) string {
	s = boldSpan.ReplaceAllString(s, "<strong>$1</strong>")
	return emphasize(s)
}

// emphasize wraps _text_ in <em> when neither underscore touches a word character,
// so snake_case identifiers are left alone.
func emphasize(s string) string {
	var b strings.Builder
	pos, copied := 0, 0
	for pos < len(s) {
		m := emphasisSpan.FindStringSubmatchIndex(s[pos:])
		if m == nil {
			break
		}
		start, end := pos+m[0], pos+m[1]
		if isWordRune(lastRune(s[:start])) || isWordRune(firstRune(s[end:])) {
			pos = start + 1
			continue
		}
		b.WriteString(s[copied:start])
		b.WriteString("<em>")
		b.WriteString(s[pos+m[2] : pos+m[3]])
		b.WriteString("</em>")
		copied, pos = end, end
	}
	b.WriteString(s[copied:])
	return b.String()
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

func lastRune(s string) rune {
	r, _ := utf8.DecodeLastRuneInString(s)
	return r
}

func firstRune(s string) rune {
	r, _ := utf8.DecodeRuneInString(s)
	return r
}
