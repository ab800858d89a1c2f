package extract

import (
	"archive/zip"
	"bytes"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"
)

func TestExtractBytes_plain(t *testing.T) {
	e := NewExtractor()
	got, err := e.ExtractBytes([]byte("Hello world\nLine 2"), ".txt")
	if err != nil {
		t.Fatalf("ExtractBytes: %v", err)
	}
	if got.Text != "Hello world\nLine 2" {
		t.Errorf("got %q", got.Text)
	}
	if got.PageBoundaries != nil {
		t.Errorf("plain text has no pages, got %v", got.PageBoundaries)
	}
}

func TestExtractBytes_plainInvalidUTF8(t *testing.T) {
	e := NewExtractor()
	got, err := e.ExtractBytes([]byte("hello\x80world"), ".rst")
	if err != nil {
		t.Fatalf("ExtractBytes: %v", err)
	}
	if got.Text != "hello�world" {
		t.Errorf("got %q", got.Text)
	}
}

func TestExtractBytes_unknownExtension(t *testing.T) {
	e := NewExtractor()
	got, err := e.ExtractBytes([]byte("raw content"), ".xyz")
	if err != nil {
		t.Fatalf("ExtractBytes: %v", err)
	}
	if got.Text != "raw content" {
		t.Errorf("got %q", got.Text)
	}
}

func TestExtractBytes_excelSheetsArePages(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()
	f.SetCellValue("Sheet1", "A1", "Title")
	f.SetCellValue("Sheet1", "A2", "Value 1")
	f.SetCellValue("Sheet1", "B2", "Value 2")
	if _, err := f.NewSheet("Sheet2"); err != nil {
		t.Fatal(err)
	}
	f.SetCellValue("Sheet2", "A1", "Second")
	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}

	got, err := NewExtractor().ExtractBytes(buf.Bytes(), ".xlsx")
	if err != nil {
		t.Fatalf("ExtractBytes: %v", err)
	}
	want := "Title\nValue 1\tValue 2\n\nSecond"
	if got.Text != want {
		t.Errorf("got %q, want %q", got.Text, want)
	}
	if !reflect.DeepEqual(got.PageBoundaries, []int{0, 23}) {
		t.Errorf("boundaries = %v", got.PageBoundaries)
	}
}

func TestExtract_excelFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.xlsx")
	f := excelize.NewFile()
	f.SetCellValue("Sheet1", "A1", "Searchable text")
	if err := f.SaveAs(path); err != nil {
		t.Fatalf("SaveAs: %v", err)
	}
	f.Close()

	got, err := NewExtractor().Extract(path)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if got.Text != "Searchable text" {
		t.Errorf("got %q", got.Text)
	}
}

func TestExtract_plainFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.txt")
	if err := os.WriteFile(path, []byte("File content"), 0600); err != nil {
		t.Fatal(err)
	}
	got, err := NewExtractor().Extract(path)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if got.Text != "File content" {
		t.Errorf("got %q", got.Text)
	}
}

func TestExtract_nonexistent(t *testing.T) {
	if _, err := NewExtractor().Extract("/nonexistent/path/file.txt"); err == nil {
		t.Error("expected error for nonexistent file")
	}
}

func TestExtractBytes_pdfInvalid(t *testing.T) {
	if _, err := NewExtractor().ExtractBytes([]byte("not a pdf"), ".pdf"); err == nil {
		t.Error("expected error for invalid pdf")
	}
}

func zipOf(files map[string]string) []byte {
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, body := range files {
		fw, _ := w.Create(name)
		_, _ = fw.Write([]byte(body))
	}
	_ = w.Close()
	return buf.Bytes()
}

func docxParagraphs(paras string) string {
	return `<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>` + paras + `</w:body></w:document>`
}

func TestExtractBytes_docx(t *testing.T) {
	content := zipOf(map[string]string{
		"word/document.xml": docxParagraphs(`<w:p w:rsidR="00A1"><w:r><w:t>Search</w:t></w:r><w:r><w:t xml:space="preserve">able docx </w:t></w:r><w:r><w:t>content</w:t></w:r></w:p><w:p><w:r><w:t>Tom &amp; Jerry</w:t></w:r></w:p>`),
	})
	got, err := NewExtractor().ExtractBytes(content, ".docx")
	if err != nil {
		t.Fatalf("ExtractBytes: %v", err)
	}
	if got.Text != "Searchable docx content\nTom & Jerry" {
		t.Errorf("got %q", got.Text)
	}
}

func TestExtractBytes_docxContentTypes(t *testing.T) {
	tests := []struct {
		name     string
		override string
	}{
		{"part name first", `<Override PartName="/word/document2.xml" ContentType="application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"/>`},
		{"content type first", `<Override ContentType="application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml" PartName="/word/document2.xml"/>`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			content := zipOf(map[string]string{
				"[Content_Types].xml": `<?xml version="1.0"?><Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types">` + tt.override + `</Types>`,
				"word/document2.xml":  docxParagraphs(`<w:p><w:r><w:t>Content from document2</w:t></w:r></w:p>`),
			})
			got, err := NewExtractor().ExtractBytes(content, ".docx")
			if err != nil {
				t.Fatalf("ExtractBytes: %v", err)
			}
			if got.Text != "Content from document2" {
				t.Errorf("got %q", got.Text)
			}
		})
	}
}

func TestExtractBytes_docxMissingDocument(t *testing.T) {
	content := zipOf(map[string]string{"other.xml": "<x/>"})
	if _, err := NewExtractor().ExtractBytes(content, ".docx"); err == nil {
		t.Error("expected error when document part is missing")
	}
}

func slideXML(text string) string {
	return `<p:sld><p:cSld><p:spTree><p:sp><p:txBody><a:p><a:r><a:t>` + text + `</a:t></a:r></a:p></p:txBody></p:sp></p:spTree></p:cSld></p:sld>`
}

func TestExtractBytes_pptxSlidesArePages(t *testing.T) {
	content := zipOf(map[string]string{
		"ppt/slides/slide10.xml": slideXML("Tenth slide"),
		"ppt/slides/slide2.xml":  slideXML("Second slide"),
		"ppt/slides/slide1.xml":  slideXML("First slide"),
	})
	got, err := NewExtractor().ExtractBytes(content, ".pptx")
	if err != nil {
		t.Fatalf("ExtractBytes: %v", err)
	}
	want := "First slide\n\nSecond slide\n\nTenth slide"
	if got.Text != want {
		t.Errorf("got %q, want %q", got.Text, want)
	}
	if !reflect.DeepEqual(got.PageBoundaries, []int{0, 13, 27}) {
		t.Errorf("boundaries = %v", got.PageBoundaries)
	}
}

func TestExtractBytes_pptxEmpty(t *testing.T) {
	content := zipOf(map[string]string{"ppt/slides/other.xml": "", "docProps/core.xml": ""})
	got, err := NewExtractor().ExtractBytes(content, ".pptx")
	if err != nil {
		t.Fatalf("ExtractBytes: %v", err)
	}
	if got.Text != "" {
		t.Errorf("got %q", got.Text)
	}
}

func TestExtractBytes_pptxNotZip(t *testing.T) {
	if _, err := NewExtractor().ExtractBytes([]byte("not a zip"), ".pptx"); err == nil {
		t.Error("expected error for invalid pptx")
	}
}

func TestExtractBytes_odp(t *testing.T) {
	xml := `<office:document><office:body><office:presentation>` +
		`<draw:page draw:name="p1"><text:h>Slide title</text:h><text:p>Body text</text:p></draw:page>` +
		`<draw:page draw:name="p2"><text:p text:style-name="P1">Second slide</text:p></draw:page>` +
		`</office:presentation></office:body></office:document>`
	got, err := NewExtractor().ExtractBytes(zipOf(map[string]string{"content.xml": xml}), ".odp")
	if err != nil {
		t.Fatalf("ExtractBytes: %v", err)
	}
	want := "Slide title Body text\n\nSecond slide"
	if got.Text != want {
		t.Errorf("got %q, want %q", got.Text, want)
	}
	if len(got.PageBoundaries) != 2 {
		t.Errorf("boundaries = %v", got.PageBoundaries)
	}
}

func TestExtractBytes_ods(t *testing.T) {
	xml := `<office:document><office:body><table:table table:name="S1"><table:table-row>` +
		`<table:table-cell><text:p>Cell A</text:p></table:table-cell>` +
		`<table:table-cell><text:span>Cell B</text:span></table:table-cell>` +
		`</table:table-row></table:table></office:body></office:document>`
	got, err := NewExtractor().ExtractBytes(zipOf(map[string]string{"content.xml": xml}), ".ods")
	if err != nil {
		t.Fatalf("ExtractBytes: %v", err)
	}
	if got.Text != "Cell A Cell B" {
		t.Errorf("got %q", got.Text)
	}
}

func TestExtractBytes_odfWithoutPages(t *testing.T) {
	xml := `<office:document><office:body><text:p>Loose text</text:p></office:body></office:document>`
	got, err := NewExtractor().ExtractBytes(zipOf(map[string]string{"content.xml": xml}), ".odp")
	if err != nil {
		t.Fatalf("ExtractBytes: %v", err)
	}
	if got.Text != "Loose text" || got.PageBoundaries != nil {
		t.Errorf("got %q %v", got.Text, got.PageBoundaries)
	}
}

func TestExtractBytes_odfContentNotFound(t *testing.T) {
	for _, ext := range []string{".odp", ".ods"} {
		content := zipOf(map[string]string{"other.xml": "<x/>"})
		if _, err := NewExtractor().ExtractBytes(content, ext); err == nil {
			t.Errorf("%s: expected error when content.xml missing", ext)
		}
	}
}

func TestExtractBytes_rtf(t *testing.T) {
	e := NewExtractor()
	got, err := e.ExtractBytes([]byte(`{\rtf1\ansi\deff0 {\fonttbl {\f0 Times;}}\f0 Hello rich world.\par}`), ".rtf")
	if err != nil {
		t.Fatalf("ExtractBytes: %v", err)
	}
	if !strings.Contains(got.Text, "Hello rich world.") {
		t.Errorf("got %q", got.Text)
	}
	if strings.Contains(got.Text, `\par`) {
		t.Errorf("control words left in %q", got.Text)
	}
	if got.PageBoundaries != nil {
		t.Errorf("RTF has no pages, got %v", got.PageBoundaries)
	}
}
