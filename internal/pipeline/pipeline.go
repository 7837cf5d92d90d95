// Package pipeline wires the processing stages to the message bus.
// Each handler consumes one topic, runs one stage, and publishes the
// stage's output to the next topic. Handlers return an error only when
// redelivery can help; everything else is resolved into a terminal
// event so the bus never spins on a poison message.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/dvloznov/receipt-pipeline/internal/bus"
	"github.com/dvloznov/receipt-pipeline/internal/config"
	"github.com/dvloznov/receipt-pipeline/internal/domain"
	"github.com/dvloznov/receipt-pipeline/internal/extract"
	"github.com/dvloznov/receipt-pipeline/internal/ledger"
	"github.com/dvloznov/receipt-pipeline/internal/structure"
	"github.com/dvloznov/receipt-pipeline/internal/validate"
)

// Pipeline owns the stage handlers and their topic wiring.
type Pipeline struct {
	extractor  *extract.Extractor
	structurer *structure.Structurer
	validator  *validate.Validator
	writer     *ledger.Writer
	publisher  bus.Publisher
	topics     config.Topics
	log        zerolog.Logger
}

// New assembles the pipeline from its stages.
func New(
	extractor *extract.Extractor,
	structurer *structure.Structurer,
	validator *validate.Validator,
	writer *ledger.Writer,
	publisher bus.Publisher,
	topics config.Topics,
	log zerolog.Logger,
) *Pipeline {
	return &Pipeline{
		extractor:  extractor,
		structurer: structurer,
		validator:  validator,
		writer:     writer,
		publisher:  publisher,
		topics:     topics,
		log:        log.With().Str("component", "pipeline").Logger(),
	}
}

// Register subscribes every stage handler on the consumer. Outcomes on
// both the valid and review topics reach the ledger writer; review rows
// are booked too, just flagged.
func (p *Pipeline) Register(c bus.Consumer) {
	c.Subscribe(p.topics.NewCandidate, p.HandleCandidate)
	c.Subscribe(p.topics.TextExtracted, p.HandleText)
	c.Subscribe(p.topics.Structured, p.HandleStructured)
	c.Subscribe(p.topics.Valid, p.HandleOutcome)
	c.Subscribe(p.topics.Review, p.HandleOutcome)
	c.Subscribe(p.topics.Duplicate, p.HandleDuplicate)
}

// HandleCandidate runs content extraction on an admitted candidate.
func (p *Pipeline) HandleCandidate(ctx context.Context, msg *bus.Message) error {
	var ev domain.CandidateEvent
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		// Malformed payloads never improve on redelivery.
		p.log.Error().Err(err).Str("msgId", msg.ID).Msg("dropping malformed candidate event")
		return nil
	}

	text, err := p.extractor.Process(ctx, ev)
	if err != nil {
		return fmt.Errorf("extract %s: %w", ev.FileID, err)
	}
	return p.publish(ctx, p.topics.TextExtracted, text, map[string]string{
		"fileId":    text.FileID,
		"imageHash": text.ImageHash,
	})
}

// HandleText runs the structuring stage on extracted text.
func (p *Pipeline) HandleText(ctx context.Context, msg *bus.Message) error {
	var ev domain.TextEvent
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		p.log.Error().Err(err).Str("msgId", msg.ID).Msg("dropping malformed text event")
		return nil
	}

	structured := p.structurer.Structure(ctx, ev)
	return p.publish(ctx, p.topics.Structured, structured, map[string]string{
		"fileId":    structured.FileID,
		"imageHash": structured.ImageHash,
	})
}

// HandleStructured validates a structured event and routes the verdict:
// ok → valid topic, review → review topic, duplicate → duplicate topic.
func (p *Pipeline) HandleStructured(ctx context.Context, msg *bus.Message) error {
	var ev domain.StructuredEvent
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		p.log.Error().Err(err).Str("msgId", msg.ID).Msg("dropping malformed structured event")
		return nil
	}

	res, err := p.validator.Validate(ctx, ev)
	if err != nil {
		return fmt.Errorf("validate %s: %w", ev.FileID, err)
	}

	if res.Duplicate != nil {
		return p.publish(ctx, p.topics.Duplicate, res.Duplicate, map[string]string{
			"fileId": res.Duplicate.FileID,
		})
	}

	topic := p.topics.Valid
	if res.Outcome.Status == domain.StatusNeedsReview {
		topic = p.topics.Review
	}
	return p.publish(ctx, topic, res.Outcome, map[string]string{
		"fileId": res.Outcome.FileID,
		"month":  res.Outcome.MonthKey,
	})
}

// HandleOutcome books an outcome into the monthly ledger.
func (p *Pipeline) HandleOutcome(ctx context.Context, msg *bus.Message) error {
	var out domain.Outcome
	if err := json.Unmarshal(msg.Data, &out); err != nil {
		p.log.Error().Err(err).Str("msgId", msg.ID).Msg("dropping malformed outcome")
		return nil
	}
	if err := p.writer.Write(ctx, &out); err != nil {
		return fmt.Errorf("write %s: %w", out.FileID, err)
	}
	return nil
}

// HandleDuplicate records the terminal duplicate verdict. Nothing to
// write; the log line is the audit trail.
func (p *Pipeline) HandleDuplicate(ctx context.Context, msg *bus.Message) error {
	var ev domain.DuplicateEvent
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		p.log.Error().Err(err).Str("msgId", msg.ID).Msg("dropping malformed duplicate event")
		return nil
	}
	p.log.Info().
		Str("fileId", ev.FileID).
		Str("dedupeKey", ev.DedupeKey).
		Msg("duplicate receipt discarded")
	return nil
}

func (p *Pipeline) publish(ctx context.Context, topic string, v any, attrs map[string]string) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal for %s: %w", topic, err)
	}
	if err := p.publisher.Publish(ctx, topic, data, attrs); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}
