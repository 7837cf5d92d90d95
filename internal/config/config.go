// Package config holds the typed configuration for every binary.
// Values come from the environment; each component receives its config
// at construction and never reads process-wide state afterwards.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Load parses environment variables into target, which must be a
// pointer to a struct tagged with `env` tags.
func Load(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("config: parse environment: %w", err)
	}
	return nil
}

// Topics names the per-stage destinations on the event bus.
type Topics struct {
	NewCandidate  string `env:"TOPIC_NEW_CANDIDATE"  envDefault:"receipts.new"`
	TextExtracted string `env:"TOPIC_TEXT_EXTRACTED" envDefault:"receipts.text"`
	Structured    string `env:"TOPIC_STRUCTURED"     envDefault:"receipts.parsed"`
	Valid         string `env:"TOPIC_VALID"          envDefault:"receipts.valid"`
	Review        string `env:"TOPIC_REVIEW"         envDefault:"receipts.review"`
	Duplicate     string `env:"TOPIC_DUPLICATE"      envDefault:"receipts.duplicate"`
}

// Watcher configures the source watcher scan loop.
type Watcher struct {
	FolderID     string        `env:"TARGET_FOLDER_ID,required"`
	Lookback     time.Duration `env:"LOOKBACK_WINDOW"  envDefault:"5m"`
	ScanInterval time.Duration `env:"SCAN_INTERVAL"    envDefault:"1m"`
	SeenCap      int           `env:"SEEN_CACHE_SIZE"  envDefault:"500"`
	SeenTTL      time.Duration `env:"SEEN_TTL"         envDefault:"30m"`
	StateBucket  string        `env:"STATE_BUCKET"`
	IntakeURL    string        `env:"INTAKE_URL,required"`
	APIKey       string        `env:"API_KEY,required"`
	LogLevel     string        `env:"LOG_LEVEL" envDefault:"info"`
}

// Intake configures the ingress HTTP gate.
type Intake struct {
	Port      string `env:"PORT"       envDefault:"8080"`
	APIKey    string `env:"API_KEY,required"`
	ProjectID string `env:"PROJECT_ID,required"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	Topics    Topics
}

// Extract configures the content extractor.
type Extract struct {
	MinTextChars  int    `env:"PDF_TEXT_MIN_CHARS" envDefault:"120"`
	OCRPagesLimit int    `env:"OCR_PAGES_LIMIT"    envDefault:"2"`
	OCRLanguages  string `env:"OCR_LANGUAGES"      envDefault:"eng"`
}

// Structure configures the structuring stage.
type Structure struct {
	Model       string  `env:"MODEL"       envDefault:"gemini-2.0-flash"`
	Temperature float64 `env:"TEMPERATURE" envDefault:"0.1"`
}

// Validate configures the validator/reconciler.
type Validate struct {
	Timezone        string  `env:"TIMEZONE"         envDefault:"Asia/Kuala_Lumpur"`
	DefaultCurrency string  `env:"CURRENCY_DEFAULT" envDefault:"MYR"`
	Epsilon         float64 `env:"TOTALS_EPSILON"   envDefault:"0.05"`
	MarkerBucket    string  `env:"DEDUPE_BUCKET"`
}

// Ledger configures the monthly ledger backend.
type Ledger struct {
	SpreadsheetID string `env:"SHEETS_SPREADSHEET_ID,required"`
}

// Worker configures the bus-driven pipeline worker.
type Worker struct {
	ProjectID string `env:"PROJECT_ID,required"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	Topics    Topics
	Extract   Extract
	Structure Structure
	Validate  Validate
	Ledger    Ledger
}
