// Package validate is the pipeline's arbiter: it turns untrusted
// structured output into a normalized receipt, reconciles the arithmetic,
// decides duplicate-or-not against the marker store, and renders the
// ledger rows. Everything downstream trusts this package's output.
package validate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/receipt-pipeline/internal/config"
	"github.com/dvloznov/receipt-pipeline/internal/domain"
	"github.com/dvloznov/receipt-pipeline/internal/marker"
)

// Result is the validator's verdict for one structured event. Exactly
// one of Outcome / Duplicate is set.
type Result struct {
	Outcome   *domain.Outcome
	Duplicate *domain.DuplicateEvent
}

// Validator normalizes, reconciles and dedupes structured receipts.
type Validator struct {
	loc             *time.Location
	defaultCurrency string
	epsilon         float64
	markers         marker.Store
	now             func() time.Time
	log             zerolog.Logger
}

// New builds a Validator from config. The timezone must resolve; a
// validator running in the wrong zone mis-keys every monthly ledger.
func New(cfg config.Validate, markers marker.Store, log zerolog.Logger) (*Validator, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("validate: load timezone %q: %w", cfg.Timezone, err)
	}
	return &Validator{
		loc:             loc,
		defaultCurrency: cfg.DefaultCurrency,
		epsilon:         cfg.Epsilon,
		markers:         markers,
		now:             time.Now,
		log:             log.With().Str("component", "validate").Logger(),
	}, nil
}

// Validate processes one structured event end to end. It never returns
// an error for bad data; bad data becomes a NEEDS_REVIEW outcome. An
// error here means the caller should let the bus redeliver.
func (v *Validator) Validate(ctx context.Context, ev domain.StructuredEvent) (Result, error) {
	norm, notes, review := v.normalize(ev)

	// Reconcile item arithmetic against the printed total.
	if note := v.reconcile(norm); note != "" {
		notes = append(notes, note)
		review = true
	}

	// Dedupe. Content identity is authoritative; the composite key is a
	// heuristic and only ever downgrades to review.
	key, composite := dedupeKey(norm)
	if key != "" {
		created, err := v.markers.CreateIfAbsent(ctx, key)
		if err != nil {
			// Fail open: a duplicate ledger row is recoverable, a
			// dropped receipt is not. The writer's idempotent append
			// still catches true repeats.
			v.log.Warn().Err(err).Str("fileId", ev.FileID).Msg("marker check failed, proceeding")
		} else if !created {
			if !composite {
				v.log.Info().Str("fileId", ev.FileID).Str("dedupeKey", key).Msg("duplicate content, dropping")
				return Result{Duplicate: &domain.DuplicateEvent{
					FileID:    ev.FileID,
					DedupeKey: key,
					Norm:      norm,
				}}, nil
			}
			notes = append(notes, "possible duplicate (vendor/date/total already recorded)")
			review = true
		}
	}

	status := domain.StatusOK
	if review {
		status = domain.StatusNeedsReview
	}

	out := &domain.Outcome{
		FileID:   ev.FileID,
		MonthKey: v.monthKey(norm.PurchaseDate),
		Header:   domain.LedgerHeader,
		Norm:     norm,
		Notes:    notes,
		Rows:     renderRows(norm, ev.FileID, status, notes),
		Status:   status,
	}
	return Result{Outcome: out}, nil
}

// normalize coerces the raw structured map into a Receipt. Returns the
// record, accumulated notes, and whether anything forced review.
func (v *Validator) normalize(ev domain.StructuredEvent) (*domain.Receipt, []string, bool) {
	var notes []string
	review := false

	if ev.Data == nil {
		reason := ev.LLMMeta.Reason
		if reason == "" {
			reason = "unknown"
		}
		notes = append(notes, "structuring produced no record ("+reason+")")
		return &domain.Receipt{
			Currency:  v.defaultCurrency,
			ImageHash: ev.ImageHash,
		}, notes, true
	}

	data := ev.Data
	r := &domain.Receipt{
		Vendor:        stringField(data, "vendor"),
		Currency:      strings.ToUpper(stringField(data, "currency")),
		Subtotal:      round2p(numberField(data, "subtotal")),
		Tax:           round2p(numberField(data, "tax")),
		Total:         round2p(numberField(data, "total")),
		PaymentMethod: optionalString(data, "payment_method"),
		ReceiptID:     optionalString(data, "receipt_id"),
		ImageHash:     ev.ImageHash,
	}
	if r.ImageHash == "" {
		// Fall back to the hash echoed through the model, if any.
		r.ImageHash = stringField(data, "source_image_hash")
	}

	if r.Vendor == "" {
		r.Vendor = "UNKNOWN"
		notes = append(notes, "vendor missing")
		review = true
	}
	if r.Currency == "" {
		r.Currency = v.defaultCurrency
	}

	if raw := stringField(data, "purchase_date"); raw != "" {
		r.PurchaseDate = parseDate(raw, v.loc)
		if r.PurchaseDate == "" {
			notes = append(notes, "unparseable purchase_date "+fmt.Sprintf("%q", raw))
			review = true
		}
	} else {
		notes = append(notes, "purchase_date missing")
		review = true
	}

	r.Items = normalizeItems(data["items"])
	if len(r.Items) == 0 {
		notes = append(notes, "no line items")
		review = true
	}
	for _, it := range r.Items {
		if it.Description == "" || it.LineTotal == nil {
			// Arithmetic over these items is unverifiable; a human
			// has to look.
			notes = append(notes, "item missing description or line_total")
			review = true
			break
		}
	}

	if r.Total == nil {
		notes = append(notes, "total missing")
		review = true
	}

	// Derive what the receipt printed but the model omitted: subtotal
	// from total-tax or the item sum, tax from the remainder (zero when
	// nothing constrains it), total from subtotal+tax.
	if r.Subtotal == nil {
		if r.Total != nil && r.Tax != nil {
			r.Subtotal = round2p(ptr(*r.Total - *r.Tax))
		} else if sum, ok := itemsSum(r.Items); ok {
			r.Subtotal = round2p(ptr(sum))
			notes = append(notes, "subtotal missing, derived from items")
		}
	}
	if r.Tax == nil {
		if r.Total != nil && r.Subtotal != nil {
			r.Tax = round2p(ptr(*r.Total - *r.Subtotal))
		} else {
			r.Tax = ptr(0)
		}
	}
	if r.Total == nil && r.Subtotal != nil {
		r.Total = round2p(ptr(*r.Subtotal + *r.Tax))
	}

	return r, notes, review
}

// itemsSum totals the line items. Reports false when any line total is
// unknown, since a partial sum would be misleading.
func itemsSum(items []domain.LineItem) (float64, bool) {
	if len(items) == 0 {
		return 0, false
	}
	var sum float64
	for _, it := range items {
		if it.LineTotal == nil {
			return 0, false
		}
		sum += *it.LineTotal
	}
	return sum, true
}

// normalizeItems coerces the raw items array. Entries that are not
// objects are dropped; missing line totals are derived from qty×unit
// price and vice versa.
func normalizeItems(raw any) []domain.LineItem {
	arr, ok := raw.([]any)
	if !ok {
		return nil
	}
	items := make([]domain.LineItem, 0, len(arr))
	for _, e := range arr {
		m, ok := e.(map[string]any)
		if !ok {
			continue
		}
		it := domain.LineItem{
			Description: stringField(m, "description"),
			Quantity:    1,
			UnitPrice:   round2p(numberField(m, "unit_price")),
			LineTotal:   round2p(numberField(m, "line_total")),
		}
		if q := numberField(m, "quantity"); q != nil && *q > 0 {
			it.Quantity = *q
		}
		if it.LineTotal == nil && it.UnitPrice != nil {
			it.LineTotal = round2p(ptr(it.Quantity * *it.UnitPrice))
		}
		if it.UnitPrice == nil && it.LineTotal != nil && it.Quantity > 0 {
			it.UnitPrice = round2p(ptr(*it.LineTotal / it.Quantity))
		}
		if it.Description == "" && it.LineTotal == nil {
			continue
		}
		items = append(items, it)
	}
	return items
}

// reconcile checks sum(line totals) against the printed total. Returns
// a note when they disagree beyond epsilon, "" when consistent.
func (v *Validator) reconcile(r *domain.Receipt) string {
	if r.Total == nil || len(r.Items) == 0 {
		return ""
	}
	sum, ok := itemsSum(r.Items)
	if !ok {
		// A missing line total was already flagged for review during
		// normalization; nothing left to check here.
		return ""
	}
	sum = round2(sum)
	diff := sum - *r.Total
	if diff < 0 {
		diff = -diff
	}
	if diff > v.epsilon {
		return fmt.Sprintf("sum(items) %.2f != total %.2f", sum, *r.Total)
	}
	return ""
}

// dedupeKey returns the key to mark and whether it is the weak
// composite form. Content identity wins when present; the composite
// needs all three of vendor, date and total.
func dedupeKey(r *domain.Receipt) (key string, composite bool) {
	if r.ImageHash != "" {
		return r.ImageHash, false
	}
	if r.Vendor == "" || r.Vendor == "UNKNOWN" || r.PurchaseDate == "" || r.Total == nil {
		return "", false
	}
	return fmt.Sprintf("%s|%s|%.2f", r.Vendor, r.PurchaseDate, *r.Total), true
}

// monthKey returns the YYYY-MM ledger key: the purchase month when
// known, otherwise the current month in the target timezone.
func (v *Validator) monthKey(purchaseDate string) string {
	if len(purchaseDate) >= 7 {
		return purchaseDate[:7]
	}
	return v.now().In(v.loc).Format("2006-01")
}

// renderRows renders one ledger row per line item, receipt-level fields
// repeated on each. A record with no items still gets one stub row so
// the receipt is visible in the ledger.
func renderRows(r *domain.Receipt, fileID string, status domain.Status, notes []string) [][]any {
	items := r.Items
	if len(items) == 0 {
		items = []domain.LineItem{{}}
	}
	link := fmt.Sprintf(`=HYPERLINK("https://drive.google.com/file/d/%s/view","open")`, fileID)
	joined := strings.Join(notes, "; ")

	rows := make([][]any, 0, len(items))
	for _, it := range items {
		rows = append(rows, []any{
			r.PurchaseDate,
			r.Vendor,
			it.Description,
			it.Quantity,
			cell(it.UnitPrice),
			cell(it.LineTotal),
			cell(r.Subtotal),
			cell(r.Tax),
			cell(r.Total),
			r.Currency,
			cellStr(r.PaymentMethod),
			cellStr(r.ReceiptID),
			r.ImageHash,
			string(status),
			joined,
			link,
		})
	}
	return rows
}

func cell(f *float64) any {
	if f == nil {
		return ""
	}
	return *f
}

func cellStr(s *string) any {
	if s == nil {
		return ""
	}
	return *s
}

func ptr(f float64) *float64 { return &f }
