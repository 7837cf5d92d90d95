package extract

import (
	"bytes"
	"fmt"
	"image/png"
	"strings"

	"github.com/gen2brain/go-fitz"
)

// pdfTextLayer extracts the embedded text layer of a PDF, page by
// page, along with the page count.
func pdfTextLayer(raw []byte) (string, int, error) {
	doc, err := fitz.NewFromMemory(raw)
	if err != nil {
		return "", 0, fmt.Errorf("open pdf: %w", err)
	}
	defer doc.Close()

	var b strings.Builder
	pages := doc.NumPage()
	for i := 0; i < pages; i++ {
		pageText, err := doc.Text(i)
		if err != nil {
			continue
		}
		if pageText != "" {
			b.WriteString(pageText)
			b.WriteString("\n")
		}
	}
	return strings.TrimSpace(b.String()), pages, nil
}

// renderPDFPages rasterizes up to limit pages as PNG for OCR. Returns
// the rendered images and the document's total page count.
func renderPDFPages(raw []byte, limit int) ([][]byte, int, error) {
	doc, err := fitz.NewFromMemory(raw)
	if err != nil {
		return nil, 0, fmt.Errorf("open pdf: %w", err)
	}
	defer doc.Close()

	total := doc.NumPage()
	n := total
	if limit > 0 && n > limit {
		n = limit
	}

	images := make([][]byte, 0, n)
	for i := 0; i < n; i++ {
		img, err := doc.Image(i)
		if err != nil {
			return nil, total, fmt.Errorf("render page %d: %w", i, err)
		}
		var buf bytes.Buffer
		if err := png.Encode(&buf, img); err != nil {
			return nil, total, fmt.Errorf("encode page %d: %w", i, err)
		}
		images = append(images, buf.Bytes())
	}
	return images, total, nil
}
