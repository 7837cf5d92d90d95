package ledger

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/dvloznov/receipt-pipeline/internal/domain"
)

func makeOutcome(fileID, hash, month string, total float64, status domain.Status, items int) *domain.Outcome {
	rows := make([][]any, items)
	link := fmt.Sprintf(`=HYPERLINK("https://drive.google.com/file/d/%s/view","open")`, fileID)
	for i := range rows {
		rows[i] = []any{
			"2025-03-14", "Tesco", fmt.Sprintf("item %d", i), 1.0, "", "",
			"", "", total, "MYR", "", "", hash, string(status), "", link,
		}
	}
	return &domain.Outcome{
		FileID:   fileID,
		MonthKey: month,
		Header:   domain.LedgerHeader,
		Rows:     rows,
		Status:   status,
	}
}

func TestMultiItemReceiptCountedOnce(t *testing.T) {
	store := NewMemoryStore()
	w := NewWriter(store, zerolog.Nop())

	out := makeOutcome("f1", "sha256:a", "2025-03", 23.00, domain.StatusOK, 3)
	if err := w.Write(context.Background(), out); err != nil {
		t.Fatalf("Write: %v", err)
	}

	if got := len(store.Rows("2025-03")); got != 3 {
		t.Fatalf("rows = %d, want 3", got)
	}
	total, ok := store.Aggregate("2025-03")
	if !ok || total != 23.00 {
		t.Fatalf("aggregate = %v (%v), want 23.00 counted once", total, ok)
	}
}

func TestRedeliveredOutcomeAppendsOnce(t *testing.T) {
	store := NewMemoryStore()
	w := NewWriter(store, zerolog.Nop())
	out := makeOutcome("f1", "sha256:a", "2025-03", 23.00, domain.StatusOK, 2)

	for i := 0; i < 3; i++ {
		if err := w.Write(context.Background(), out); err != nil {
			t.Fatalf("Write #%d: %v", i+1, err)
		}
	}

	if got := len(store.Rows("2025-03")); got != 2 {
		t.Fatalf("rows = %d after redelivery, want 2", got)
	}
	total, _ := store.Aggregate("2025-03")
	if total != 23.00 {
		t.Fatalf("aggregate = %v, want 23.00 regardless of deliveries", total)
	}
}

func TestReviewRowsExcludedFromAggregate(t *testing.T) {
	store := NewMemoryStore()
	w := NewWriter(store, zerolog.Nop())

	ctx := context.Background()
	if err := w.Write(ctx, makeOutcome("f1", "sha256:a", "2025-03", 10.00, domain.StatusOK, 1)); err != nil {
		t.Fatal(err)
	}
	if err := w.Write(ctx, makeOutcome("f2", "sha256:b", "2025-03", 99.00, domain.StatusNeedsReview, 1)); err != nil {
		t.Fatal(err)
	}

	if got := len(store.Rows("2025-03")); got != 2 {
		t.Fatalf("rows = %d, review row must still be booked", got)
	}
	total, _ := store.Aggregate("2025-03")
	if total != 10.00 {
		t.Fatalf("aggregate = %v, review totals must not count", total)
	}
}

func TestDistinctReceiptsSum(t *testing.T) {
	store := NewMemoryStore()
	w := NewWriter(store, zerolog.Nop())

	ctx := context.Background()
	for i, amt := range []float64{5.50, 7.25, 12.00} {
		out := makeOutcome(fmt.Sprintf("f%d", i), fmt.Sprintf("sha256:%d", i), "2025-04", amt, domain.StatusOK, 2)
		if err := w.Write(ctx, out); err != nil {
			t.Fatal(err)
		}
	}

	total, _ := store.Aggregate("2025-04")
	if total != 24.75 {
		t.Fatalf("aggregate = %v, want 24.75", total)
	}
}

func TestHashlessReceiptsKeyedByFileLink(t *testing.T) {
	store := NewMemoryStore()
	w := NewWriter(store, zerolog.Nop())
	ctx := context.Background()

	// Same vendor, same amount, no content hash: distinct files must
	// both land and both count.
	if err := w.Write(ctx, makeOutcome("f1", "", "2025-05", 8.00, domain.StatusOK, 1)); err != nil {
		t.Fatal(err)
	}
	if err := w.Write(ctx, makeOutcome("f2", "", "2025-05", 8.00, domain.StatusOK, 1)); err != nil {
		t.Fatal(err)
	}
	// Redelivery of one of them must not double it.
	if err := w.Write(ctx, makeOutcome("f2", "", "2025-05", 8.00, domain.StatusOK, 1)); err != nil {
		t.Fatal(err)
	}

	if got := len(store.Rows("2025-05")); got != 2 {
		t.Fatalf("rows = %d, want 2", got)
	}
	total, _ := store.Aggregate("2025-05")
	if total != 16.00 {
		t.Fatalf("aggregate = %v, want 16.00", total)
	}
}

func TestConcurrentWritesSameMonth(t *testing.T) {
	store := NewMemoryStore()
	w := NewWriter(store, zerolog.Nop())

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out := makeOutcome(fmt.Sprintf("f%d", i), fmt.Sprintf("sha256:%d", i), "2025-06", 1.00, domain.StatusOK, 1)
			errs <- w.Write(context.Background(), out)
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("Write: %v", err)
		}
	}

	if got := len(store.Rows("2025-06")); got != n {
		t.Fatalf("rows = %d, want %d", got, n)
	}
	total, _ := store.Aggregate("2025-06")
	if total != float64(n) {
		t.Fatalf("aggregate = %v, want %d", total, n)
	}
}
