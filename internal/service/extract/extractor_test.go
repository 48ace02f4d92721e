package extract

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	pdfType  = "application/pdf"
	docxType = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	pptxType = "application/vnd.openxmlformats-officedocument.presentationml.presentation"
)

// buildPDF writes a single-page PDF with a correct xref table.
func buildPDF(t *testing.T, line string) []byte {
	t.Helper()

	content := fmt.Sprintf("BT /F1 12 Tf 72 720 Td (%s) Tj ET", line)
	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << /Font << /F1 4 0 R >> >> /Contents 5 0 R >>",
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>",
		fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(content), content),
	}

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}

	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(objects)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)
	return buf.Bytes()
}

func buildZip(t *testing.T, parts map[string]string) []byte {
	t.Helper()

	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, body := range parts {
		f, err := w.Create(name)
		require.NoError(t, err)
		_, err = f.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func wordDocument(paragraphs ...string) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>`)
	b.WriteString(`<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>`)
	for _, p := range paragraphs {
		fmt.Fprintf(&b, `<w:p><w:r><w:t>%s</w:t></w:r></w:p>`, p)
	}
	b.WriteString(`</w:body></w:document>`)
	return b.String()
}

func slideXML(text string) string {
	return `<?xml version="1.0" encoding="UTF-8"?>` +
		`<p:sld xmlns:p="http://schemas.openxmlformats.org/presentationml/2006/main" xmlns:a="http://schemas.openxmlformats.org/drawingml/2006/main">` +
		`<p:cSld><p:spTree><p:sp><p:txBody><a:p><a:r><a:t>` + text + `</a:t></a:r></a:p></p:txBody></p:sp></p:spTree></p:cSld></p:sld>`
}

func TestClassify(t *testing.T) {
	cases := map[string]Category{
		"application/pdf":               CategoryPDF,
		" Application/PDF ":             CategoryPDF,
		docxType:                        CategoryWord,
		pptxType:                        CategoryPresentation,
		"text/plain":                    CategoryUnsupported,
		"image/png":                     CategoryUnsupported,
		"":                              CategoryUnsupported,
		"application/msword":            CategoryUnsupported,
		"application/vnd.ms-powerpoint": CategoryUnsupported,
	}
	for declared, want := range cases {
		assert.Equal(t, want, Classify(declared), declared)
	}
}

func TestExtractPDF(t *testing.T) {
	data := buildPDF(t, "Photosynthesis converts light energy into chemical energy")

	text, err := New().Extract(context.Background(), data, pdfType)
	require.NoError(t, err)
	assert.Contains(t, text, "Photosynthesis converts light energy")
}

func TestExtractDOCX(t *testing.T) {
	data := buildZip(t, map[string]string{
		"[Content_Types].xml": `<Types/>`,
		"word/document.xml":   wordDocument("Mitochondria are organelles.", "They produce ATP."),
	})

	text, err := New().Extract(context.Background(), data, docxType)
	require.NoError(t, err)
	assert.Equal(t, "Mitochondria are organelles.\nThey produce ATP.", text)
}

func TestExtractPPTXOrdersSlidesNumerically(t *testing.T) {
	data := buildZip(t, map[string]string{
		"ppt/slides/slide10.xml":            slideXML("tenth"),
		"ppt/slides/slide2.xml":             slideXML("second"),
		"ppt/slides/slide1.xml":             slideXML("first"),
		"ppt/slides/_rels/slide1.xml.rels":  `<Relationships/>`,
		"ppt/slideLayouts/slideLayout1.xml": slideXML("layout"),
	})

	text, err := New().Extract(context.Background(), data, pptxType)
	require.NoError(t, err)
	assert.Equal(t, "first\n\nsecond\n\ntenth", text)
}

func TestExtractUnsupportedReturnsEmpty(t *testing.T) {
	text, err := New().Extract(context.Background(), []byte("plain notes"), "text/plain")
	require.NoError(t, err)
	assert.Empty(t, text)
}

func TestExtractMalformed(t *testing.T) {
	garbage := []byte("this is not a real document at all")
	for _, declared := range []string{pdfType, docxType, pptxType} {
		text, err := New().Extract(context.Background(), garbage, declared)
		assert.ErrorIs(t, err, ErrMalformed, declared)
		assert.Empty(t, text, declared)
	}
}

func TestExtractPresentationWithoutSlides(t *testing.T) {
	data := buildZip(t, map[string]string{"ppt/presentation.xml": `<p:presentation/>`})

	_, err := New().Extract(context.Background(), data, pptxType)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestExtractHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New().Extract(ctx, buildPDF(t, "anything"), pdfType)
	assert.ErrorIs(t, err, context.Canceled)
}
