// Package structure is the opaque transform of the pipeline: raw text
// in, best-effort structured receipt out. It makes no dedupe decision
// and guarantees nothing about internal consistency of the record; a
// null record on failure is a normal output, not an error.
package structure

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"google.golang.org/genai"

	"github.com/dvloznov/receipt-pipeline/internal/config"
	"github.com/dvloznov/receipt-pipeline/internal/domain"
)

// Failure reasons recorded in LLMMeta when Data is nil.
const (
	reasonEmptyText = "empty_ocr_text"
	reasonNonJSON   = "non_json_output"
	reasonAPIError  = "api_error"
)

// Model is the generation call, extracted for testing.
type Model interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// GeminiModel implements Model over the GenAI SDK.
type GeminiModel struct {
	client      *genai.Client
	model       string
	temperature float64
}

// NewGeminiModel creates the production model client.
func NewGeminiModel(ctx context.Context, cfg config.Structure) (*GeminiModel, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		HTTPOptions: genai.HTTPOptions{APIVersion: "v1"},
	})
	if err != nil {
		return nil, fmt.Errorf("structure: create genai client: %w", err)
	}
	return &GeminiModel{client: client, model: cfg.Model, temperature: cfg.Temperature}, nil
}

// Generate implements Model.
func (m *GeminiModel) Generate(ctx context.Context, prompt string) (string, error) {
	temp := float32(m.temperature)
	contents := []*genai.Content{
		{
			Role:  "user",
			Parts: []*genai.Part{{Text: prompt}},
		},
	}
	resp, err := m.client.Models.GenerateContent(ctx, m.model, contents, &genai.GenerateContentConfig{
		Temperature: &temp,
	})
	if err != nil {
		return "", fmt.Errorf("structure: generate content: %w", err)
	}
	rawText := resp.Text()
	if rawText == "" {
		return "", fmt.Errorf("structure: empty response from model")
	}
	return rawText, nil
}

// Structurer turns text events into structured events.
type Structurer struct {
	model           Model
	modelName       string
	defaultCurrency string
	log             zerolog.Logger
}

// New builds a structurer around a model.
func New(model Model, modelName, defaultCurrency string, log zerolog.Logger) *Structurer {
	return &Structurer{
		model:           model,
		modelName:       modelName,
		defaultCurrency: defaultCurrency,
		log:             log,
	}
}

// Structure produces exactly one structured event per text event. On
// any model failure the event carries a nil record with a reason; the
// validator routes nil to review.
func (s *Structurer) Structure(ctx context.Context, ev domain.TextEvent) domain.StructuredEvent {
	out := domain.StructuredEvent{
		FileID:    ev.FileID,
		ImageHash: ev.ImageHash,
		LLMMeta:   domain.LLMMeta{Model: s.modelName},
	}

	if strings.TrimSpace(ev.Text) == "" {
		out.LLMMeta.Reason = reasonEmptyText
		s.log.Warn().Str("file_id", ev.FileID).Msg("Empty OCR text; emitting null record")
		return out
	}

	prompt := systemInstr + rulesPrompt(s.defaultCurrency) + schemaExample +
		"\nOCR text:\n" + ev.Text + "\n\nsource_image_hash: " + ev.ImageHash + "\n"

	raw, err := s.model.Generate(ctx, prompt)
	if err != nil {
		out.LLMMeta.Reason = reasonAPIError
		s.log.Error().Err(err).Str("file_id", ev.FileID).Msg("Structuring call failed")
		return out
	}

	data := toJSONObject(cleanModelJSON(raw))
	if data == nil {
		// One retry with a sharper instruction before giving up.
		raw, err = s.model.Generate(ctx, prompt+"\n"+retryInstr)
		if err != nil {
			out.LLMMeta.Reason = reasonAPIError
			s.log.Error().Err(err).Str("file_id", ev.FileID).Msg("Structuring retry failed")
			return out
		}
		data = toJSONObject(cleanModelJSON(raw))
	}

	if data == nil {
		out.LLMMeta.Reason = reasonNonJSON
		s.log.Error().Str("file_id", ev.FileID).Msg("Model returned non-JSON output")
		return out
	}

	// Attach the image hash if the model didn't echo it.
	if _, ok := data["source_image_hash"]; !ok {
		data["source_image_hash"] = ev.ImageHash
	}

	out.Data = data
	s.log.Info().Str("file_id", ev.FileID).Msg("Structuring ok")
	return out
}

func toJSONObject(s string) map[string]any {
	if s == "" {
		return nil
	}
	var parsed map[string]any
	if err := json.Unmarshal([]byte(s), &parsed); err != nil {
		return nil
	}
	return parsed
}

// cleanModelJSON strips Markdown fences and surrounding junk if the
// model ignored instructions.
func cleanModelJSON(raw string) string {
	s := strings.TrimSpace(raw)

	// Handle ```json ... ``` or ``` ... ``` wrappers.
	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		} else {
			return s
		}
		s = strings.TrimSpace(s)
	}

	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}

	s = strings.TrimSpace(s)

	// Extra safety: keep only from the first '{' to the last '}'.
	if start := strings.Index(s, "{"); start != -1 {
		if end := strings.LastIndex(s, "}"); end != -1 && end > start {
			s = strings.TrimSpace(s[start : end+1])
		}
	}

	return s
}
