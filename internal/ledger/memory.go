package ledger

import (
	"context"
	"sync"

	"github.com/dvloznov/receipt-pipeline/internal/domain"
)

type memoryTab struct {
	header    []string
	rows      [][]any
	aggregate *float64
}

// MemoryStore is an in-process ledger backend for tests and local runs.
type MemoryStore struct {
	mu   sync.Mutex
	tabs map[string]*memoryTab
}

// NewMemoryStore returns an empty in-memory ledger.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tabs: make(map[string]*memoryTab)}
}

// EnsureMonth implements Store.
func (s *MemoryStore) EnsureMonth(_ context.Context, monthKey string, header []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tabs[monthKey]; !ok {
		s.tabs[monthKey] = &memoryTab{header: append([]string(nil), header...)}
	}
	return nil
}

// Entries implements Store.
func (s *MemoryStore) Entries(_ context.Context, monthKey string) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tab, ok := s.tabs[monthKey]
	if !ok {
		return nil, nil
	}
	entries := make([]Entry, 0, len(tab.rows))
	for _, row := range tab.rows {
		e := Entry{}
		e.ImageHash, _ = row[domain.ColImageHash].(string)
		e.Status, _ = row[domain.ColStatus].(string)
		if f, ok := row[domain.ColTotal].(float64); ok {
			e.Total = &f
		}
		e.FileLink, _ = row[len(row)-1].(string)
		entries = append(entries, e)
	}
	return entries, nil
}

// Append implements Store.
func (s *MemoryStore) Append(_ context.Context, monthKey string, rows [][]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tab, ok := s.tabs[monthKey]
	if !ok {
		tab = &memoryTab{}
		s.tabs[monthKey] = tab
	}
	for _, row := range rows {
		tab.rows = append(tab.rows, append([]any(nil), row...))
	}
	return nil
}

// SetAggregate implements Store.
func (s *MemoryStore) SetAggregate(_ context.Context, monthKey string, total float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tab, ok := s.tabs[monthKey]
	if !ok {
		tab = &memoryTab{}
		s.tabs[monthKey] = tab
	}
	tab.aggregate = &total
	return nil
}

// Aggregate returns the footer total for a month, for assertions.
func (s *MemoryStore) Aggregate(monthKey string) (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tab, ok := s.tabs[monthKey]
	if !ok || tab.aggregate == nil {
		return 0, false
	}
	return *tab.aggregate, true
}

// Rows returns a copy of a month's data rows, for assertions.
func (s *MemoryStore) Rows(monthKey string) [][]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	tab, ok := s.tabs[monthKey]
	if !ok {
		return nil
	}
	out := make([][]any, len(tab.rows))
	for i, row := range tab.rows {
		out[i] = append([]any(nil), row...)
	}
	return out
}

var _ Store = (*MemoryStore)(nil)
