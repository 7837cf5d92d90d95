package extract

import (
	"context"
	"fmt"
	"strings"

	"github.com/otiai10/gosseract/v2"
)

// Tesseract runs local OCR via the tesseract engine. A fresh client
// per call keeps it safe for concurrent use.
type Tesseract struct {
	languages []string
}

// NewTesseract builds an OCR engine for the given comma-separated
// language list (e.g. "eng" or "eng+msa").
func NewTesseract(languages string) *Tesseract {
	var langs []string
	for _, l := range strings.FieldsFunc(languages, func(r rune) bool { return r == ',' || r == '+' }) {
		if l = strings.TrimSpace(l); l != "" {
			langs = append(langs, l)
		}
	}
	return &Tesseract{languages: langs}
}

// Recognize implements OCREngine. Tesseract does not report an
// aggregate confidence through this client; it is recorded as 0.
func (t *Tesseract) Recognize(ctx context.Context, imageBytes []byte) (OCRResult, error) {
	if err := ctx.Err(); err != nil {
		return OCRResult{}, err
	}

	client := gosseract.NewClient()
	defer client.Close()

	if len(t.languages) > 0 {
		if err := client.SetLanguage(t.languages...); err != nil {
			return OCRResult{}, fmt.Errorf("tesseract: set languages: %w", err)
		}
	}
	if err := client.SetImageFromBytes(imageBytes); err != nil {
		return OCRResult{}, fmt.Errorf("tesseract: set image: %w", err)
	}

	text, err := client.Text()
	if err != nil {
		return OCRResult{}, fmt.Errorf("tesseract: recognize: %w", err)
	}
	return OCRResult{Text: strings.TrimSpace(text), Pages: 1}, nil
}

var _ OCREngine = (*Tesseract)(nil)
