// Package intake is the single normalization point for "one candidate
// receipt, one event": it authenticates callers, validates forwarded
// file descriptors, assigns the deterministic idempotency key, and
// admits the candidate onto the bus. No dedupe decision happens here.
package intake

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/dvloznov/receipt-pipeline/internal/bus"
	"github.com/dvloznov/receipt-pipeline/internal/domain"
)

// Gate handles POST /ingress.
type Gate struct {
	apiKey    string
	topic     string
	publisher bus.Publisher
	log       zerolog.Logger
}

// NewGate creates an intake gate publishing to the given topic.
func NewGate(apiKey, topic string, publisher bus.Publisher, log zerolog.Logger) *Gate {
	return &Gate{
		apiKey:    strings.TrimSpace(apiKey),
		topic:     topic,
		publisher: publisher,
		log:       log,
	}
}

// IdempotencyKey derives the stable event identity from the source
// file identifier and its creation time. Re-delivery of the same file
// always yields the same key.
func IdempotencyKey(fileID, createdTime string) string {
	sum := sha256.Sum256([]byte(fileID + ":" + createdTime))
	return hex.EncodeToString(sum[:])
}

type ingressPayload struct {
	FileID      string `json:"fileId"`
	Name        string `json:"name"`
	MimeType    string `json:"mimeType"`
	CreatedTime string `json:"createdTime"`
	FolderID    string `json:"folderId"`
}

func (p *ingressPayload) validate() string {
	switch {
	case strings.TrimSpace(p.FileID) == "":
		return "fileId is required"
	case strings.TrimSpace(p.Name) == "":
		return "name is required"
	case strings.TrimSpace(p.CreatedTime) == "":
		return "createdTime is required"
	case strings.TrimSpace(p.FolderID) == "":
		return "folderId is required"
	case !strings.Contains(p.MimeType, "application/") && !strings.HasPrefix(p.MimeType, "image/"):
		return "mimeType looks invalid"
	}
	return ""
}

// HandleIngress accepts one forwarded file descriptor and publishes a
// candidate event.
func (g *Gate) HandleIngress(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteError(w, http.StatusMethodNotAllowed, "Use POST")
		return
	}

	// Shared-secret check; fatal for this request only, never retried
	// by us (the watcher owns forwarding retries).
	incoming := strings.TrimSpace(r.Header.Get("X-API-Key"))
	if g.apiKey == "" || incoming != g.apiKey {
		WriteError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var payload ingressPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if msg := payload.validate(); msg != "" {
		WriteError(w, http.StatusBadRequest, msg)
		return
	}

	event := domain.CandidateEvent{
		FileID:         payload.FileID,
		Name:           payload.Name,
		MimeType:       payload.MimeType,
		CreatedTime:    payload.CreatedTime,
		FolderID:       payload.FolderID,
		IdempotencyKey: IdempotencyKey(payload.FileID, payload.CreatedTime),
	}

	data, err := json.Marshal(event)
	if err != nil {
		g.log.Error().Err(err).Str("file_id", event.FileID).Msg("Failed to marshal candidate event")
		WriteError(w, http.StatusInternalServerError, "Failed to admit event")
		return
	}

	attrs := map[string]string{
		"fileId":         event.FileID,
		"idempotencyKey": event.IdempotencyKey,
	}
	if err := g.publisher.Publish(r.Context(), g.topic, data, attrs); err != nil {
		g.log.Error().Err(err).Str("file_id", event.FileID).Msg("Failed to publish candidate event")
		WriteError(w, http.StatusInternalServerError, "Failed to admit event")
		return
	}

	g.log.Info().
		Str("file_id", event.FileID).
		Str("idempotency_key", event.IdempotencyKey).
		Msg("Candidate admitted")

	WriteJSON(w, http.StatusOK, map[string]string{
		"status":         "ok",
		"idempotencyKey": event.IdempotencyKey,
	})
}

// Handler wires the gate routes with the standard middleware chain.
func (g *Gate) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ingress", g.HandleIngress)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	})

	return Recovery(g.log)(Logger(g.log)(RequestID(mux)))
}
