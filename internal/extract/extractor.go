// Package extract provides text extraction from various document formats.
package extract

import (
	"archive/zip"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// Result is the extracted text of a document. PageBoundaries holds the rune offset
// in Text where each page (PDF page, slide, sheet) starts; it is nil for formats
// without pages.
type Result struct {
	Text           string
	PageBoundaries []int
}

// Extractor extracts plain text from document files.
type Extractor struct{}

// NewExtractor returns a new Extractor.
func NewExtractor() *Extractor {
	return &Extractor{}
}

// Extract reads the file at path and extracts its text based on the extension.
func (e *Extractor) Extract(path string) (*Result, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return e.ExtractBytes(content, strings.ToLower(filepath.Ext(path)))
}

// ExtractBytes extracts text from content. ext includes the leading dot (".pdf").
// Unknown extensions are read as plain text.
func (e *Extractor) ExtractBytes(content []byte, ext string) (*Result, error) {
	switch strings.ToLower(ext) {
	case ".pdf":
		return extractPDF(content)
	case ".docx":
		return extractDOCX(content)
	case ".xlsx":
		return extractExcel(content)
	case ".pptx":
		return extractPPTX(content)
	case ".odp":
		return extractODP(content)
	case ".ods":
		return extractODS(content)
	case ".rtf":
		return extractRTF(content)
	default:
		return extractPlain(content), nil
	}
}

// pageWriter accumulates text and records where each page starts.
type pageWriter struct {
	b      strings.Builder
	runes  int
	bounds []int
}

func (w *pageWriter) newPage() {
	if w.runes > 0 {
		w.write("\n\n")
	}
	w.bounds = append(w.bounds, w.runes)
}

func (w *pageWriter) write(s string) {
	w.b.WriteString(s)
	w.runes += utf8.RuneCountInString(s)
}

// writeWords appends s separated from earlier text on the same page by one space.
func (w *pageWriter) writeWords(s string) {
	s = strings.TrimSpace(s)
	if s == "" {
		return
	}
	if n := len(w.bounds); w.runes > 0 && (n == 0 || w.bounds[n-1] != w.runes) {
		w.write(" ")
	}
	w.write(s)
}

func (w *pageWriter) result() *Result {
	return &Result{Text: w.b.String(), PageBoundaries: w.bounds}
}

// openZip opens content as a zip archive; format names the document type for errors.
func openZip(content []byte, format string) (*zip.Reader, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("extract %s: not a zip: %w", format, err)
	}
	return zr, nil
}

// readZipEntry returns the contents of the named entry, or nil if it is absent.
func readZipEntry(zr *zip.Reader, name string) ([]byte, error) {
	for _, f := range zr.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", name, err)
		}
		defer rc.Close()
		var buf bytes.Buffer
		if _, err := buf.ReadFrom(rc); err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		return buf.Bytes(), nil
	}
	return nil, nil
}
