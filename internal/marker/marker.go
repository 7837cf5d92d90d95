// Package marker is the durable duplicate-marker store used by the
// validator: one marker object per dedupe key, created at most once.
// "First writer wins" is the intended semantics; the ledger writer's
// idempotent append remains the second line of defense when two
// concurrent validations race past this check.
package marker

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
)

// Store records dedupe keys.
type Store interface {
	// CreateIfAbsent atomically creates the marker for key. It returns
	// true when this call created it (first time seen), false when the
	// marker already existed.
	CreateIfAbsent(ctx context.Context, key string) (bool, error)
}

// GCSStore keeps one empty object per key, created with a
// generation-zero precondition so concurrent creators race safely.
type GCSStore struct {
	client *storage.Client
	bucket string
}

// NewGCSStore builds a marker store over the given bucket.
func NewGCSStore(ctx context.Context, bucket string) (*GCSStore, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("marker: create storage client: %w", err)
	}
	return &GCSStore{client: client, bucket: bucket}, nil
}

// CreateIfAbsent implements Store.
func (s *GCSStore) CreateIfAbsent(ctx context.Context, key string) (bool, error) {
	obj := s.client.Bucket(s.bucket).Object("dedupe/" + url.PathEscape(key))
	w := obj.If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	w.ContentType = "application/octet-stream"

	if err := w.Close(); err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && apiErr.Code == 412 {
			// Precondition failed: marker already exists.
			return false, nil
		}
		return false, fmt.Errorf("marker: create %s: %w", key, err)
	}
	return true, nil
}

// Close releases the storage client.
func (s *GCSStore) Close() error {
	return s.client.Close()
}

// MemoryStore is an in-process marker store for tests and local runs.
type MemoryStore struct {
	mu   sync.Mutex
	keys map[string]bool
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{keys: make(map[string]bool)}
}

// CreateIfAbsent implements Store.
func (s *MemoryStore) CreateIfAbsent(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.keys[key] {
		return false, nil
	}
	s.keys[key] = true
	return true, nil
}

var _ Store = (*GCSStore)(nil)
var _ Store = (*MemoryStore)(nil)
