// Package ledger owns the monthly ledgers: one tab per month, one row
// per line item, a recomputed aggregate footer. Appends are idempotent
// on receipt identity, so redelivered outcomes never double-book.
package ledger

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/rs/zerolog"

	"github.com/dvloznov/receipt-pipeline/internal/domain"
)

// Entry is one existing ledger row, reduced to the fields the writer
// needs to decide idempotence and recompute the aggregate.
type Entry struct {
	ImageHash string
	Status    string
	Total     *float64
	FileLink  string
}

// Store is a monthly ledger backend.
type Store interface {
	// EnsureMonth makes sure the tab for monthKey exists with the given
	// header row. Safe to call repeatedly.
	EnsureMonth(ctx context.Context, monthKey string, header []string) error
	// Entries returns all data rows of the month, footer excluded.
	Entries(ctx context.Context, monthKey string) ([]Entry, error)
	// Append adds rows at the end of the month's data.
	Append(ctx context.Context, monthKey string, rows [][]any) error
	// SetAggregate replaces the month's aggregate footer with a fresh
	// one carrying the given total, keeping it the last row.
	SetAggregate(ctx context.Context, monthKey string, total float64) error
}

// Writer applies validation outcomes to the ledger. All writes for a
// month are serialized through a per-month lock; the read-check-append
// sequence is not atomic at the backend, so concurrency within the
// process has to be fenced here.
type Writer struct {
	store Store
	log   zerolog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewWriter builds a Writer over the given store.
func NewWriter(store Store, log zerolog.Logger) *Writer {
	return &Writer{
		store: store,
		log:   log.With().Str("component", "ledger").Logger(),
		locks: make(map[string]*sync.Mutex),
	}
}

func (w *Writer) monthLock(monthKey string) *sync.Mutex {
	w.mu.Lock()
	defer w.mu.Unlock()
	l, ok := w.locks[monthKey]
	if !ok {
		l = &sync.Mutex{}
		w.locks[monthKey] = l
	}
	return l
}

// entryKey is the identity an appended receipt is recognized by on
// re-delivery: content hash when present, file link otherwise.
func entryKey(imageHash, fileLink string) string {
	if imageHash != "" {
		return imageHash
	}
	return fileLink
}

func rowKey(row []any) string {
	hash, _ := row[domain.ColImageHash].(string)
	link, _ := row[len(row)-1].(string)
	return entryKey(hash, link)
}

// Write applies one outcome: ensure the month tab, append the rows
// unless the receipt is already present, then recompute the aggregate
// from what the ledger actually contains. The aggregate is recomputed
// even when the append is skipped, so a crash between append and
// footer heals on redelivery.
func (w *Writer) Write(ctx context.Context, out *domain.Outcome) error {
	lock := w.monthLock(out.MonthKey)
	lock.Lock()
	defer lock.Unlock()

	if err := w.store.EnsureMonth(ctx, out.MonthKey, out.Header); err != nil {
		return fmt.Errorf("ledger: ensure month %s: %w", out.MonthKey, err)
	}

	entries, err := w.store.Entries(ctx, out.MonthKey)
	if err != nil {
		return fmt.Errorf("ledger: read month %s: %w", out.MonthKey, err)
	}

	if len(out.Rows) > 0 {
		key := rowKey(out.Rows[0])
		if key != "" && containsKey(entries, key) {
			w.log.Info().
				Str("fileId", out.FileID).
				Str("month", out.MonthKey).
				Msg("already booked, skipping append")
		} else {
			if err := w.store.Append(ctx, out.MonthKey, out.Rows); err != nil {
				return fmt.Errorf("ledger: append %s: %w", out.MonthKey, err)
			}
			entries, err = w.store.Entries(ctx, out.MonthKey)
			if err != nil {
				return fmt.Errorf("ledger: reread month %s: %w", out.MonthKey, err)
			}
		}
	}

	total := aggregate(entries)
	if err := w.store.SetAggregate(ctx, out.MonthKey, total); err != nil {
		return fmt.Errorf("ledger: set aggregate %s: %w", out.MonthKey, err)
	}

	w.log.Info().
		Str("fileId", out.FileID).
		Str("month", out.MonthKey).
		Str("status", string(out.Status)).
		Float64("monthTotal", total).
		Msg("ledger updated")
	return nil
}

func containsKey(entries []Entry, key string) bool {
	for _, e := range entries {
		if entryKey(e.ImageHash, e.FileLink) == key {
			return true
		}
	}
	return false
}

// aggregate sums each OK receipt's total exactly once. Rows repeat the
// receipt total per line item, so grouping by receipt identity is what
// keeps multi-item receipts from being counted per row. Review rows
// are excluded until a human clears them.
func aggregate(entries []Entry) float64 {
	seen := make(map[string]bool)
	var sum float64
	for _, e := range entries {
		if e.Status != string(domain.StatusOK) || e.Total == nil {
			continue
		}
		key := entryKey(e.ImageHash, e.FileLink)
		if key != "" {
			if seen[key] {
				continue
			}
			seen[key] = true
		}
		sum += *e.Total
	}
	// Round away float drift accumulated by the sum.
	return math.Round(sum*100) / 100
}
