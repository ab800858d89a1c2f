package extract

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
)

// atTag matches <a:t>text</a:t> with any attributes.
var atTag = regexp.MustCompile(`<a:t[^>]*>([^<]*)</a:t>`)

// slideName matches slide parts and captures the slide number.
var slideName = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)

// extractPPTX writes each slide as a page, in slide number order.
func extractPPTX(content []byte) (*Result, error) {
	zr, err := openZip(content, "PPTX")
	if err != nil {
		return nil, err
	}
	type slide struct {
		num  int
		name string
	}
	var slides []slide
	for _, f := range zr.File {
		m := slideName.FindStringSubmatch(f.Name)
		if m == nil {
			continue
		}
		n, _ := strconv.Atoi(m[1])
		slides = append(slides, slide{num: n, name: f.Name})
	}
	sort.Slice(slides, func(i, j int) bool { return slides[i].num < slides[j].num })

	var w pageWriter
	for _, s := range slides {
		data, err := readZipEntry(zr, s.name)
		if err != nil {
			return nil, fmt.Errorf("extract PPTX: %w", err)
		}
		w.newPage()
		for _, m := range atTag.FindAllSubmatch(data, -1) {
			w.writeWords(unescapeXML(string(m[1])))
		}
	}
	return w.result(), nil
}
