package ingest

import (
	"archive/zip"
	"bytes"
	"fmt"
	"html"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	"github.com/xuri/excelize/v2"
)

// Extractor turns knowledge files into plain text.
type Extractor struct{}

// NewExtractor returns a new Extractor.
func NewExtractor() *Extractor {
	return &Extractor{}
}

// Extract reads the file at path and returns its text content.
func (e *Extractor) Extract(path string) (string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}
	return e.ExtractBytes(content, strings.ToLower(filepath.Ext(path)))
}

// ExtractBytes extracts text from content based on ext (with the leading
// dot). Unknown extensions are read as plain text.
func (e *Extractor) ExtractBytes(content []byte, ext string) (string, error) {
	switch ext {
	case ".pdf":
		return extractPDF(content)
	case ".xlsx":
		return extractExcel(content)
	case ".docx":
		return extractDOCX(content)
	case ".pptx":
		return zipText(content, "PPTX", isSlide, ooxmlRun)
	case ".odp":
		return zipText(content, "ODP", isODFContent, odfParagraph, odfHeading, odfSpan)
	case ".ods":
		return zipText(content, "ODS", isODFContent, odfParagraph, odfSpan)
	default:
		return extractPlain(content), nil
	}
}

// extractPlain replaces invalid UTF-8 sequences with the replacement character.
func extractPlain(content []byte) string {
	if !utf8.Valid(content) {
		return strings.ToValidUTF8(string(content), "\uFFFD")
	}
	return string(content)
}

func extractPDF(content []byte) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("open PDF: %w", err)
	}
	pages := make([]string, 0, r.NumPage())
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("extract page %d: %w", i, err)
		}
		pages = append(pages, text)
	}
	return strings.Join(pages, "\n"), nil
}

func extractExcel(content []byte) (string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return "", fmt.Errorf("open Excel: %w", err)
	}
	defer f.Close()

	var b strings.Builder
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return "", fmt.Errorf("get rows for sheet %q: %w", sheet, err)
		}
		for _, row := range rows {
			b.WriteString(strings.Join(row, "\t"))
			b.WriteByte('\n')
		}
	}
	return strings.TrimSpace(b.String()), nil
}

// Text-bearing XML elements of the office formats.
var (
	wordRun      = regexp.MustCompile(`<w:t[^>]*>([^<]*)</w:t>`)
	ooxmlRun     = regexp.MustCompile(`<a:t[^>]*>([^<]*)</a:t>`)
	odfParagraph = regexp.MustCompile(`<text:p[^>]*>([^<]*)</text:p>`)
	odfHeading   = regexp.MustCompile(`<text:h[^>]*>([^<]*)</text:h>`)
	odfSpan      = regexp.MustCompile(`<text:span[^>]*>([^<]*)</text:span>`)

	docxMainPart = regexp.MustCompile(`<Override[^>]*(?:PartName="([^"]+)"[^>]*ContentType="application/vnd\.openxmlformats-officedocument\.wordprocessingml\.document\.main\+xml"|ContentType="application/vnd\.openxmlformats-officedocument\.wordprocessingml\.document\.main\+xml"[^>]*PartName="([^"]+)")`)
)

func isSlide(name string) bool {
	return strings.HasPrefix(name, "ppt/slides/slide") && strings.HasSuffix(name, ".xml")
}

func isODFContent(name string) bool { return name == "content.xml" }

// extractDOCX reads the main document part named in [Content_Types].xml,
// falling back to word/document.xml.
func extractDOCX(content []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("extract DOCX: not a zip: %w", err)
	}
	main := "word/document.xml"
	if ct, err := readZipFile(zr, "[Content_Types].xml"); err == nil {
		if m := docxMainPart.FindSubmatch(ct); m != nil {
			part := string(m[1])
			if part == "" {
				part = string(m[2])
			}
			main = strings.TrimPrefix(part, "/")
		}
	}
	return zipText(content, "DOCX", func(name string) bool { return name == main }, wordRun)
}

// zipText concatenates the text nodes matched by patterns in every archive
// member accepted by part, in name order. Nodes are joined with spaces.
func zipText(content []byte, format string, part func(string) bool, patterns ...*regexp.Regexp) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("extract %s: not a zip: %w", format, err)
	}
	var names []string
	for _, f := range zr.File {
		if part(f.Name) {
			names = append(names, f.Name)
		}
	}
	if len(names) == 0 {
		return "", fmt.Errorf("extract %s: no content part found", format)
	}
	sort.Strings(names)

	var words []string
	for _, name := range names {
		data, err := readZipFile(zr, name)
		if err != nil {
			return "", fmt.Errorf("extract %s: %w", format, err)
		}
		for _, re := range patterns {
			for _, m := range re.FindAllSubmatch(data, -1) {
				if t := strings.TrimSpace(html.UnescapeString(string(m[1]))); t != "" {
					words = append(words, t)
				}
			}
		}
	}
	return strings.Join(words, " "), nil
}

func readZipFile(zr *zip.Reader, name string) ([]byte, error) {
	for _, f := range zr.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", name, err)
		}
		defer rc.Close()
		data, err := io.ReadAll(rc)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		return data, nil
	}
	return nil, fmt.Errorf("%s not found", name)
}
