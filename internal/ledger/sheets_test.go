package ledger

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"google.golang.org/api/option"

	"github.com/dvloznov/receipt-pipeline/internal/domain"
)

// fakeSheetsAPI serves the handful of Sheets endpoints EnsureMonth
// touches: spreadsheet metadata, a values read, a values update.
type fakeSheetsAPI struct {
	mu        sync.Mutex
	headerRow []any
	updates   [][]any
}

func (f *fakeSheetsAPI) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && strings.Contains(r.URL.Path, "/values/"):
			f.mu.Lock()
			row := f.headerRow
			f.mu.Unlock()
			var values [][]any
			if row != nil {
				values = [][]any{row}
			}
			json.NewEncoder(w).Encode(map[string]any{"values": values})
		case r.Method == http.MethodPut && strings.Contains(r.URL.Path, "/values/"):
			var body struct {
				Values [][]any `json:"values"`
			}
			json.NewDecoder(r.Body).Decode(&body)
			f.mu.Lock()
			f.updates = append(f.updates, body.Values...)
			f.mu.Unlock()
			json.NewEncoder(w).Encode(map[string]any{})
		case r.Method == http.MethodGet:
			json.NewEncoder(w).Encode(map[string]any{
				"sheets": []any{
					map[string]any{"properties": map[string]any{"sheetId": 7, "title": "2025-03"}},
				},
			})
		default:
			http.Error(w, "unexpected "+r.Method+" "+r.URL.Path, http.StatusInternalServerError)
		}
	})
}

func (f *fakeSheetsAPI) updateCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.updates)
}

func newFakeStore(t *testing.T, api *fakeSheetsAPI) *SheetsStore {
	t.Helper()
	ts := httptest.NewServer(api.handler())
	t.Cleanup(ts.Close)
	store, err := NewSheetsStore(context.Background(), "sheet-1",
		option.WithEndpoint(ts.URL), option.WithoutAuthentication())
	if err != nil {
		t.Fatalf("NewSheetsStore: %v", err)
	}
	return store
}

func TestEnsureMonthHealsDriftedHeader(t *testing.T) {
	api := &fakeSheetsAPI{headerRow: []any{"date", "vendor"}} // truncated by a human edit
	store := newFakeStore(t, api)

	if err := store.EnsureMonth(context.Background(), "2025-03", domain.LedgerHeader); err != nil {
		t.Fatalf("EnsureMonth: %v", err)
	}

	api.mu.Lock()
	defer api.mu.Unlock()
	if len(api.updates) != 1 {
		t.Fatalf("updates = %d, want the header rewritten once", len(api.updates))
	}
	got := api.updates[0]
	if len(got) != len(domain.LedgerHeader) {
		t.Fatalf("rewritten header has %d columns, want %d", len(got), len(domain.LedgerHeader))
	}
	for i, want := range domain.LedgerHeader {
		if got[i] != want {
			t.Fatalf("header[%d] = %v, want %q", i, got[i], want)
		}
	}
}

func TestEnsureMonthLeavesMatchingHeaderAlone(t *testing.T) {
	row := make([]any, len(domain.LedgerHeader))
	for i, h := range domain.LedgerHeader {
		row[i] = h
	}
	api := &fakeSheetsAPI{headerRow: row}
	store := newFakeStore(t, api)

	if err := store.EnsureMonth(context.Background(), "2025-03", domain.LedgerHeader); err != nil {
		t.Fatalf("EnsureMonth: %v", err)
	}
	if n := api.updateCount(); n != 0 {
		t.Fatalf("updates = %d, matching header must not be rewritten", n)
	}
}

func TestEnsureMonthRestoresMissingHeader(t *testing.T) {
	api := &fakeSheetsAPI{} // existing tab, empty first row
	store := newFakeStore(t, api)

	if err := store.EnsureMonth(context.Background(), "2025-03", domain.LedgerHeader); err != nil {
		t.Fatalf("EnsureMonth: %v", err)
	}
	if n := api.updateCount(); n != 1 {
		t.Fatalf("updates = %d, want the header restored", n)
	}
}
