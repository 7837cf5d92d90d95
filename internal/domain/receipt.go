package domain

// LineItem is one purchased item on a receipt.
type LineItem struct {
	Description string   `json:"description"`
	Quantity    float64  `json:"quantity"`
	UnitPrice   *float64 `json:"unit_price"`
	LineTotal   *float64 `json:"line_total"`
}

// Receipt is the normalized record produced by the validator. Pointer
// fields are nullable on the wire.
type Receipt struct {
	Vendor        string     `json:"vendor"`
	PurchaseDate  string     `json:"purchase_date"` // YYYY-MM-DD in the target timezone
	Currency      string     `json:"currency"`
	Subtotal      *float64   `json:"subtotal"`
	Tax           *float64   `json:"tax"`
	Total         *float64   `json:"total"`
	PaymentMethod *string    `json:"payment_method"`
	Items         []LineItem `json:"items"`
	ReceiptID     *string    `json:"receipt_id"`
	ImageHash     string     `json:"source_image_hash"`
}

// Status of a validation outcome. Both statuses reach the ledger;
// review rows just carry a flag a human can filter on.
type Status string

const (
	StatusOK          Status = "OK"
	StatusNeedsReview Status = "NEEDS_REVIEW"
)

// Outcome is the validator's result for one structured event: the
// normalized record plus rendered ledger rows. One outcome per input.
type Outcome struct {
	FileID   string   `json:"fileId"`
	MonthKey string   `json:"month_key"` // YYYY-MM
	Header   []string `json:"header"`
	Norm     *Receipt `json:"norm"`
	Notes    []string `json:"notes"`
	Rows     [][]any  `json:"rows"`
	Status   Status   `json:"status"`
}

// LedgerHeader is the fixed column layout of every monthly ledger.
var LedgerHeader = []string{
	"date", "vendor", "item", "qty", "unit_price", "line_total",
	"subtotal", "tax", "total", "currency", "payment_method",
	"receipt_id", "image_hash", "status", "notes", "file_link",
}

// Column indexes the ledger writer needs to read back.
const (
	ColTotal     = 8
	ColImageHash = 12
	ColStatus    = 13
)

// AggregateLabel marks the recomputed summary row at the foot of a
// monthly ledger.
const AggregateLabel = "MONTH TOTAL"
