package extract

import (
	"fmt"
	"regexp"
)

const odfContentPath = "content.xml"

// odfText matches leaf text:p, text:span and text:h elements in document order.
var odfText = regexp.MustCompile(`<text:(p|span|h)(?:\s[^>]*)?>([^<]*)</text:(?:p|span|h)>`)

var (
	odpPage = regexp.MustCompile(`<draw:page[\s>]`)
	odsPage = regexp.MustCompile(`<table:table[\s>]`)
)

// extractODP writes each draw:page (slide) of an OpenDocument presentation as a page.
func extractODP(content []byte) (*Result, error) {
	return extractODF(content, "ODP", odpPage)
}

// extractODS writes each table:table (sheet) of an OpenDocument spreadsheet as a page.
func extractODS(content []byte) (*Result, error) {
	return extractODF(content, "ODS", odsPage)
}

func extractODF(content []byte, format string, pageTag *regexp.Regexp) (*Result, error) {
	zr, err := openZip(content, format)
	if err != nil {
		return nil, err
	}
	data, err := readZipEntry(zr, odfContentPath)
	if err != nil {
		return nil, fmt.Errorf("extract %s: %w", format, err)
	}
	if data == nil {
		return nil, fmt.Errorf("extract %s: %s not found", format, odfContentPath)
	}

	parts := pageTag.Split(string(data), -1)
	var w pageWriter
	// Text before the first page element (if any) belongs to no page.
	if len(parts) == 1 {
		writeODFText(&w, parts[0])
		return w.result(), nil
	}
	for _, part := range parts[1:] {
		w.newPage()
		writeODFText(&w, part)
	}
	return w.result(), nil
}

func writeODFText(w *pageWriter, xml string) {
	for _, m := range odfText.FindAllStringSubmatch(xml, -1) {
		w.writeWords(unescapeXML(m[2]))
	}
}
