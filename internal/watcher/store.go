package watcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"cloud.google.com/go/storage"
)

// StateStore persists watcher state between scans. Single writer
// assumed; last write wins.
type StateStore interface {
	// Load returns the persisted state, or an empty state when none
	// exists yet.
	Load(ctx context.Context) (*State, error)

	Save(ctx context.Context, s *State) error
}

// GCSStateStore keeps the state as one JSON blob per watched folder.
type GCSStateStore struct {
	client   *storage.Client
	bucket   string
	folderID string
}

// NewGCSStateStore builds a state store over the given bucket.
func NewGCSStateStore(ctx context.Context, bucket, folderID string) (*GCSStateStore, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("watcher state: create storage client: %w", err)
	}
	return &GCSStateStore{client: client, bucket: bucket, folderID: folderID}, nil
}

func (s *GCSStateStore) objectName() string {
	return "state/watcher/" + s.folderID + ".json"
}

// Load implements StateStore.
func (s *GCSStateStore) Load(ctx context.Context) (*State, error) {
	r, err := s.client.Bucket(s.bucket).Object(s.objectName()).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return &State{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("watcher state: open %s: %w", s.objectName(), err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("watcher state: read %s: %w", s.objectName(), err)
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		// Corrupt state is not worth failing a scan over; downstream
		// dedupe still protects correctness.
		return &State{}, nil
	}
	return &state, nil
}

// Save implements StateStore.
func (s *GCSStateStore) Save(ctx context.Context, state *State) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("watcher state: marshal: %w", err)
	}

	w := s.client.Bucket(s.bucket).Object(s.objectName()).NewWriter(ctx)
	w.ContentType = "application/json"
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("watcher state: write %s: %w", s.objectName(), err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("watcher state: finalize %s: %w", s.objectName(), err)
	}
	return nil
}

// Close releases the storage client.
func (s *GCSStateStore) Close() error {
	return s.client.Close()
}

// MemoryStateStore keeps state in memory, for tests and local runs.
type MemoryStateStore struct {
	mu    sync.Mutex
	state *State
}

// NewMemoryStateStore returns an empty in-memory store.
func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{}
}

// Load implements StateStore.
func (s *MemoryStateStore) Load(ctx context.Context) (*State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == nil {
		return &State{}, nil
	}
	cp := *s.state
	cp.Seen = append([]SeenEntry(nil), s.state.Seen...)
	return &cp, nil
}

// Save implements StateStore.
func (s *MemoryStateStore) Save(ctx context.Context, state *State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *state
	cp.Seen = append([]SeenEntry(nil), state.Seen...)
	s.state = &cp
	return nil
}

var _ StateStore = (*GCSStateStore)(nil)
var _ StateStore = (*MemoryStateStore)(nil)
