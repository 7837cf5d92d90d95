package validate

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/receipt-pipeline/internal/config"
	"github.com/dvloznov/receipt-pipeline/internal/domain"
	"github.com/dvloznov/receipt-pipeline/internal/marker"
)

func newTestValidator(t *testing.T, markers marker.Store) *Validator {
	t.Helper()
	if markers == nil {
		markers = marker.NewMemoryStore()
	}
	v, err := New(config.Validate{
		Timezone:        "Asia/Kuala_Lumpur",
		DefaultCurrency: "MYR",
		Epsilon:         0.05,
	}, markers, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return v
}

func cleanData() map[string]any {
	return map[string]any{
		"vendor":        "Tesco",
		"purchase_date": "2025-03-14",
		"currency":      "myr",
		"subtotal":      21.70,
		"tax":           1.30,
		"total":         23.00,
		"items": []any{
			map[string]any{"description": "Milk", "quantity": 2.0, "unit_price": 4.50, "line_total": 9.00},
			map[string]any{"description": "Bread", "quantity": 1.0, "unit_price": 14.00, "line_total": 14.00},
		},
	}
}

func TestValidateCleanReceipt(t *testing.T) {
	v := newTestValidator(t, nil)

	res, err := v.Validate(context.Background(), domain.StructuredEvent{
		FileID:    "f1",
		ImageHash: "sha256:abc",
		Data:      cleanData(),
	})
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	out := res.Outcome
	if out == nil {
		t.Fatal("expected an outcome, got duplicate")
	}
	if out.Status != domain.StatusOK {
		t.Fatalf("status = %s, notes = %v", out.Status, out.Notes)
	}
	if out.MonthKey != "2025-03" {
		t.Fatalf("month key = %q, want 2025-03", out.MonthKey)
	}
	if got := len(out.Rows); got != 2 {
		t.Fatalf("rows = %d, want one per item", got)
	}
	if out.Norm.Currency != "MYR" {
		t.Fatalf("currency = %q, want uppercased MYR", out.Norm.Currency)
	}
	row := out.Rows[0]
	if row[domain.ColImageHash] != "sha256:abc" {
		t.Fatalf("row image hash = %v", row[domain.ColImageHash])
	}
	if row[domain.ColTotal] != 23.00 {
		t.Fatalf("row total = %v", row[domain.ColTotal])
	}
}

func TestReconciliation(t *testing.T) {
	tests := []struct {
		name       string
		total      float64
		wantReview bool
	}{
		{"exact", 23.00, false},
		{"within epsilon", 23.05, false},
		{"beyond epsilon", 23.10, true},
		{"under by more than epsilon", 22.90, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := newTestValidator(t, nil)
			data := cleanData()
			data["total"] = tt.total
			data["subtotal"] = nil
			data["tax"] = nil

			res, err := v.Validate(context.Background(), domain.StructuredEvent{
				FileID: "f1", ImageHash: "sha256:" + tt.name, Data: data,
			})
			if err != nil {
				t.Fatalf("Validate: %v", err)
			}
			gotReview := res.Outcome.Status == domain.StatusNeedsReview
			if gotReview != tt.wantReview {
				t.Fatalf("review = %v, want %v (notes %v)", gotReview, tt.wantReview, res.Outcome.Notes)
			}
			if tt.wantReview && !hasNote(res.Outcome.Notes, "!= total") {
				t.Fatalf("missing reconciliation note in %v", res.Outcome.Notes)
			}
		})
	}
}

func TestNilDataGoesToReview(t *testing.T) {
	v := newTestValidator(t, nil)

	res, err := v.Validate(context.Background(), domain.StructuredEvent{
		FileID:    "f1",
		ImageHash: "sha256:abc",
		Data:      nil,
		LLMMeta:   domain.LLMMeta{Reason: "non_json_output"},
	})
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	out := res.Outcome
	if out == nil {
		t.Fatal("nil data must produce an outcome, not a duplicate verdict")
	}
	if out.Status != domain.StatusNeedsReview {
		t.Fatalf("status = %s", out.Status)
	}
	if len(out.Rows) != 1 {
		t.Fatalf("rows = %d, want single stub row", len(out.Rows))
	}
	if out.Rows[0][domain.ColImageHash] != "sha256:abc" {
		t.Fatalf("stub row must carry the image hash, got %v", out.Rows[0][domain.ColImageHash])
	}
	if !hasNote(out.Notes, "non_json_output") {
		t.Fatalf("notes = %v", out.Notes)
	}
}

func TestDuplicateContentIsTerminal(t *testing.T) {
	v := newTestValidator(t, nil)
	ev := domain.StructuredEvent{FileID: "f1", ImageHash: "sha256:same", Data: cleanData()}

	first, err := v.Validate(context.Background(), ev)
	if err != nil {
		t.Fatalf("first Validate: %v", err)
	}
	if first.Outcome == nil {
		t.Fatal("first delivery must produce an outcome")
	}

	// Same content re-extracted under a different file id.
	ev.FileID = "f2"
	second, err := v.Validate(context.Background(), ev)
	if err != nil {
		t.Fatalf("second Validate: %v", err)
	}
	if second.Duplicate == nil {
		t.Fatal("second delivery of same content must be a duplicate")
	}
	if second.Duplicate.DedupeKey != "sha256:same" {
		t.Fatalf("dedupe key = %q", second.Duplicate.DedupeKey)
	}
}

func TestCompositeKeyCollisionOnlyFlagsReview(t *testing.T) {
	v := newTestValidator(t, nil)
	data := cleanData()

	mk := func(fileID string) domain.StructuredEvent {
		return domain.StructuredEvent{FileID: fileID, Data: data} // no image hash
	}

	first, err := v.Validate(context.Background(), mk("f1"))
	if err != nil {
		t.Fatalf("first Validate: %v", err)
	}
	if first.Outcome == nil || first.Outcome.Status != domain.StatusOK {
		t.Fatalf("first outcome = %+v", first)
	}

	second, err := v.Validate(context.Background(), mk("f2"))
	if err != nil {
		t.Fatalf("second Validate: %v", err)
	}
	if second.Duplicate != nil {
		t.Fatal("composite key collision must never be terminal")
	}
	if second.Outcome.Status != domain.StatusNeedsReview {
		t.Fatalf("status = %s", second.Outcome.Status)
	}
	if !hasNote(second.Outcome.Notes, "possible duplicate") {
		t.Fatalf("notes = %v", second.Outcome.Notes)
	}
}

type failingMarkers struct{}

func (failingMarkers) CreateIfAbsent(context.Context, string) (bool, error) {
	return false, errors.New("backend down")
}

func TestMarkerFailureFailsOpen(t *testing.T) {
	v := newTestValidator(t, failingMarkers{})

	res, err := v.Validate(context.Background(), domain.StructuredEvent{
		FileID: "f1", ImageHash: "sha256:abc", Data: cleanData(),
	})
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if res.Outcome == nil || res.Outcome.Status != domain.StatusOK {
		t.Fatalf("marker failure must not block the receipt: %+v", res)
	}
}

func TestItemDerivation(t *testing.T) {
	v := newTestValidator(t, nil)
	data := cleanData()
	data["total"] = 9.00
	data["subtotal"] = nil
	data["tax"] = nil
	data["items"] = []any{
		map[string]any{"description": "A", "quantity": 3.0, "unit_price": 2.00},
		map[string]any{"description": "B", "line_total": 3.00},
		"not an object",
	}

	res, err := v.Validate(context.Background(), domain.StructuredEvent{
		FileID: "f1", ImageHash: "sha256:d", Data: data,
	})
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	items := res.Outcome.Norm.Items
	if len(items) != 2 {
		t.Fatalf("items = %d, want malformed entry dropped", len(items))
	}
	if items[0].LineTotal == nil || *items[0].LineTotal != 6.00 {
		t.Fatalf("derived line total = %v", items[0].LineTotal)
	}
	if items[1].UnitPrice == nil || *items[1].UnitPrice != 3.00 {
		t.Fatalf("derived unit price = %v", items[1].UnitPrice)
	}
	if res.Outcome.Status != domain.StatusOK {
		t.Fatalf("status = %s, notes = %v", res.Outcome.Status, res.Outcome.Notes)
	}
}

func TestItemWithoutLineTotalFlagsReview(t *testing.T) {
	v := newTestValidator(t, nil)
	data := cleanData()
	data["subtotal"] = nil
	data["tax"] = nil
	data["items"] = []any{
		map[string]any{"description": "Mystery item"},
	}

	res, err := v.Validate(context.Background(), domain.StructuredEvent{
		FileID: "f1", ImageHash: "sha256:g", Data: data,
	})
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	out := res.Outcome
	if out.Status != domain.StatusNeedsReview {
		t.Fatalf("status = %s, unverifiable arithmetic must not pass as OK", out.Status)
	}
	if !hasNote(out.Notes, "item missing description or line_total") {
		t.Fatalf("notes = %v", out.Notes)
	}
}

func TestItemWithoutDescriptionFlagsReview(t *testing.T) {
	v := newTestValidator(t, nil)
	data := cleanData()
	data["items"] = []any{
		map[string]any{"line_total": 23.00},
	}

	res, err := v.Validate(context.Background(), domain.StructuredEvent{
		FileID: "f1", ImageHash: "sha256:h", Data: data,
	})
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if res.Outcome.Status != domain.StatusNeedsReview {
		t.Fatalf("status = %s", res.Outcome.Status)
	}
	if !hasNote(res.Outcome.Notes, "item missing description or line_total") {
		t.Fatalf("notes = %v", res.Outcome.Notes)
	}
}

func TestDerivationLadder(t *testing.T) {
	v := newTestValidator(t, nil)
	data := cleanData()
	data["subtotal"] = nil
	data["tax"] = nil
	delete(data, "total")

	res, err := v.Validate(context.Background(), domain.StructuredEvent{
		FileID: "f1", ImageHash: "sha256:i", Data: data,
	})
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	norm := res.Outcome.Norm
	if norm.Subtotal == nil || *norm.Subtotal != 23.00 {
		t.Fatalf("subtotal = %v, want item sum 23.00", norm.Subtotal)
	}
	if norm.Tax == nil || *norm.Tax != 0 {
		t.Fatalf("tax = %v, want default 0", norm.Tax)
	}
	if norm.Total == nil || *norm.Total != 23.00 {
		t.Fatalf("total = %v, want subtotal+tax", norm.Total)
	}
	if !hasNote(res.Outcome.Notes, "subtotal missing, derived from items") {
		t.Fatalf("notes = %v", res.Outcome.Notes)
	}
	// The printed total was still absent: best-effort numbers are
	// booked, but only under review.
	if res.Outcome.Status != domain.StatusNeedsReview {
		t.Fatalf("status = %s", res.Outcome.Status)
	}
}

func TestTaxAndSubtotalDerivation(t *testing.T) {
	v := newTestValidator(t, nil)
	data := cleanData()
	data["subtotal"] = nil // derive from total - tax

	res, err := v.Validate(context.Background(), domain.StructuredEvent{
		FileID: "f1", ImageHash: "sha256:e", Data: data,
	})
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if got := res.Outcome.Norm.Subtotal; got == nil || *got != 21.70 {
		t.Fatalf("derived subtotal = %v", got)
	}
}

func TestLocaleNumberCoercion(t *testing.T) {
	tests := []struct {
		in   any
		want *float64
	}{
		{"RM 1,234.50", ptr(1234.50)},
		{"12.5", ptr(12.5)},
		{" $9.99 ", ptr(9.99)},
		{"-3.20", ptr(-3.20)},
		{23.0, ptr(23.0)},
		{"", nil},
		{"free", nil},
		{nil, nil},
		{true, nil},
	}
	for _, tt := range tests {
		got := toFloat(tt.in)
		switch {
		case tt.want == nil && got != nil:
			t.Errorf("toFloat(%v) = %v, want nil", tt.in, *got)
		case tt.want != nil && (got == nil || *got != *tt.want):
			t.Errorf("toFloat(%v) = %v, want %v", tt.in, got, *tt.want)
		}
	}
}

func TestDateParsing(t *testing.T) {
	loc, err := time.LoadLocation("Asia/Kuala_Lumpur")
	if err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		in, want string
	}{
		{"2025-03-14", "2025-03-14"},
		{"14/03/2025", "2025-03-14"},
		{"2025/03/14", "2025-03-14"},
		{"14 Mar 2025", "2025-03-14"},
		{"2025-03-14T09:30:00Z", "2025-03-14"},
		{"someday", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := parseDate(tt.in, loc); got != tt.want {
			t.Errorf("parseDate(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestMonthKeyFallsBackToCurrentMonth(t *testing.T) {
	v := newTestValidator(t, nil)
	v.now = func() time.Time {
		return time.Date(2025, 7, 2, 10, 0, 0, 0, time.UTC)
	}
	data := cleanData()
	delete(data, "purchase_date")

	res, err := v.Validate(context.Background(), domain.StructuredEvent{
		FileID: "f1", ImageHash: "sha256:f", Data: data,
	})
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if res.Outcome.MonthKey != "2025-07" {
		t.Fatalf("month key = %q", res.Outcome.MonthKey)
	}
	if res.Outcome.Status != domain.StatusNeedsReview {
		t.Fatal("missing purchase date must flag review")
	}
}

func hasNote(notes []string, substr string) bool {
	for _, n := range notes {
		if strings.Contains(n, substr) {
			return true
		}
	}
	return false
}
