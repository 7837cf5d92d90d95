// Package extract fetches candidate bytes, derives the content
// identity used everywhere downstream, and extracts text. The content
// identity is a digest over raw bytes, stable regardless of filename
// or timestamp; no later stage may rehash.
package extract

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/dvloznov/receipt-pipeline/internal/config"
	"github.com/dvloznov/receipt-pipeline/internal/domain"
	"github.com/dvloznov/receipt-pipeline/internal/drive"
)

// Engine names recorded in OCRMeta.
const (
	EnginePDFText     = "pdf_text"
	EngineOCRImage    = "ocr_image"
	EngineOCRPDF      = "ocr_pdf"
	EngineUnsupported = "unsupported"
)

// OCRResult is one engine pass over an image or page set.
type OCRResult struct {
	Text       string
	Confidence float64
	Pages      int
}

// OCREngine recognizes text in raster images.
type OCREngine interface {
	Recognize(ctx context.Context, imageBytes []byte) (OCRResult, error)
}

// Extractor turns candidate events into text events.
type Extractor struct {
	store    drive.Store
	ocr      OCREngine
	minChars int
	ocrPages int
	log      zerolog.Logger
}

// New builds an extractor.
func New(store drive.Store, ocr OCREngine, cfg config.Extract, log zerolog.Logger) *Extractor {
	return &Extractor{
		store:    store,
		ocr:      ocr,
		minChars: cfg.MinTextChars,
		ocrPages: cfg.OCRPagesLimit,
		log:      log,
	}
}

// ContentIdentity computes the durable identity of a physical receipt.
func ContentIdentity(raw []byte) string {
	sum := sha256.Sum256(raw)
	return "sha256:" + hex.EncodeToString(sum[:])
}

// Process fetches the candidate's bytes and emits a text event keyed
// by content identity. A store failure is returned so the bus
// redelivers; an unsupported media type or OCR failure is terminal and
// yields an event with empty text, which downstream routes to review.
func (e *Extractor) Process(ctx context.Context, ev domain.CandidateEvent) (domain.TextEvent, error) {
	raw, err := e.store.Download(ctx, ev.FileID)
	if err != nil {
		return domain.TextEvent{}, fmt.Errorf("extract: fetch %s: %w", ev.FileID, err)
	}

	out := domain.TextEvent{
		FileID:      ev.FileID,
		Name:        ev.Name,
		CreatedTime: ev.CreatedTime,
		ImageHash:   ContentIdentity(raw),
	}

	text, meta := e.extractText(ctx, ev, raw)
	out.Text = text
	out.OCRMeta = meta

	e.log.Info().
		Str("file_id", ev.FileID).
		Str("image_hash", out.ImageHash).
		Str("engine", meta.Engine).
		Float64("confidence", meta.Confidence).
		Int("chars", len(text)).
		Msg("Text extracted")
	return out, nil
}

func (e *Extractor) extractText(ctx context.Context, ev domain.CandidateEvent, raw []byte) (string, domain.OCRMeta) {
	switch {
	case ev.MimeType == "application/pdf":
		return e.extractPDF(ctx, ev, raw)
	case strings.HasPrefix(ev.MimeType, "image/"):
		return e.extractImage(ctx, ev, raw)
	default:
		// Terminal: do not retry, let the validator park it in review.
		e.log.Warn().Str("file_id", ev.FileID).Str("mime_type", ev.MimeType).Msg("Unsupported media type")
		return "", domain.OCRMeta{Engine: EngineUnsupported, Pages: 1}
	}
}

// extractPDF tries the embedded text layer first; when the character
// count is below the configured minimum it falls back to OCR over
// rendered pages.
func (e *Extractor) extractPDF(ctx context.Context, ev domain.CandidateEvent, raw []byte) (string, domain.OCRMeta) {
	text, pages, err := pdfTextLayer(raw)
	if err != nil {
		e.log.Warn().Err(err).Str("file_id", ev.FileID).Msg("PDF text layer extraction failed")
	}
	if len(strings.TrimSpace(text)) >= e.minChars {
		// Embedded text is trusted more than OCR.
		return text, domain.OCRMeta{Engine: EnginePDFText, Confidence: 1.0, Pages: pages}
	}

	ocrText, res, err := e.ocrPDFPages(ctx, raw)
	if err != nil {
		e.log.Error().Err(err).Str("file_id", ev.FileID).Msg("PDF OCR failed")
		return "", domain.OCRMeta{Engine: EngineOCRPDF, Pages: maxInt(pages, 1)}
	}
	return ocrText, domain.OCRMeta{Engine: EngineOCRPDF, Confidence: res.Confidence, Pages: res.Pages}
}

func (e *Extractor) extractImage(ctx context.Context, ev domain.CandidateEvent, raw []byte) (string, domain.OCRMeta) {
	res, err := e.ocr.Recognize(ctx, raw)
	if err != nil {
		e.log.Error().Err(err).Str("file_id", ev.FileID).Msg("Image OCR failed")
		return "", domain.OCRMeta{Engine: EngineOCRImage, Pages: 1}
	}
	return res.Text, domain.OCRMeta{Engine: EngineOCRImage, Confidence: res.Confidence, Pages: maxInt(res.Pages, 1)}
}

// ocrPDFPages renders the first pages of a PDF and runs each through
// the OCR engine. Page count is bounded for cost.
func (e *Extractor) ocrPDFPages(ctx context.Context, raw []byte) (string, OCRResult, error) {
	images, total, err := renderPDFPages(raw, e.ocrPages)
	if err != nil {
		return "", OCRResult{}, err
	}

	var texts []string
	var confSum float64
	for _, img := range images {
		res, err := e.ocr.Recognize(ctx, img)
		if err != nil {
			return "", OCRResult{}, err
		}
		if strings.TrimSpace(res.Text) != "" {
			texts = append(texts, res.Text)
		}
		confSum += res.Confidence
	}

	var confidence float64
	if len(images) > 0 {
		confidence = confSum / float64(len(images))
	}
	return strings.Join(texts, "\n"), OCRResult{Confidence: confidence, Pages: total}, nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
