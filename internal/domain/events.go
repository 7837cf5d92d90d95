package domain

// Events exchanged between pipeline stages. Every event is a value:
// created by one stage, consumed by the next, never mutated in flight.
// The image hash computed by the extractor is carried through unchanged;
// later stages must not rehash.

// CandidateEvent is one candidate receipt admitted by the intake gate.
// Identity is the idempotency key, derived deterministically from the
// source file identifier so re-delivery of the same file produces the
// same key.
type CandidateEvent struct {
	FileID         string `json:"fileId"`
	Name           string `json:"name"`
	MimeType       string `json:"mimeType"`
	CreatedTime    string `json:"createdTime"` // RFC3339 UTC
	FolderID       string `json:"folderId"`
	IdempotencyKey string `json:"idempotencyKey"`
}

// OCRMeta records which engine produced the extracted text.
type OCRMeta struct {
	Engine     string  `json:"engine"`
	Confidence float64 `json:"confidence"`
	Pages      int     `json:"pages"`
}

// TextEvent carries the extracted text keyed by content identity.
type TextEvent struct {
	FileID      string  `json:"fileId"`
	Name        string  `json:"name,omitempty"`
	CreatedTime string  `json:"createdTime,omitempty"`
	ImageHash   string  `json:"image_hash"`
	Text        string  `json:"text"`
	OCRMeta     OCRMeta `json:"ocr_meta"`
}

// LLMMeta is free-form metadata about the structuring call.
type LLMMeta struct {
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature,omitempty"`
	Reason      string  `json:"reason,omitempty"`
}

// StructuredEvent is the structuring stage's best-effort output.
// Data is nil when structuring failed; the validator routes nil to
// review. Nothing in Data is trusted until the validator re-checks it.
type StructuredEvent struct {
	FileID    string         `json:"fileId"`
	ImageHash string         `json:"image_hash"`
	Data      map[string]any `json:"data"`
	LLMMeta   LLMMeta        `json:"llm_meta"`
}

// DuplicateEvent is the terminal verdict for a receipt whose dedupe key
// was already committed. It produces no ledger write.
type DuplicateEvent struct {
	FileID    string   `json:"fileId"`
	DedupeKey string   `json:"dedupe_key"`
	Norm      *Receipt `json:"norm"`
}
