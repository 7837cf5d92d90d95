package watcher

import (
	"time"
)

// State is the persisted watcher state: a diagnostic watermark and the
// recently forwarded items, oldest first.
type State struct {
	// LastCreatedTime is the newest createdTime seen in any scan. It
	// exists for diagnostics only; scans always cover the full
	// lookback window regardless of the watermark.
	LastCreatedTime string `json:"last_createdTime,omitempty"`

	Seen []SeenEntry `json:"seen"`
}

// SeenEntry records that a file was forwarded and when.
type SeenEntry struct {
	FileID      string    `json:"fileId"`
	ForwardedAt time.Time `json:"forwardedAt"`
}

// seenCache is a bounded FIFO of recently forwarded file IDs with a
// TTL. It suppresses re-forwarding across overlapping scans; it is a
// performance optimization, not the dedupe correctness boundary (that
// is the validator's content-identity check plus the ledger's
// idempotent append).
type seenCache struct {
	cap   int
	ttl   time.Duration
	order []string
	byID  map[string]time.Time
}

func newSeenCache(capacity int, ttl time.Duration) *seenCache {
	return &seenCache{
		cap:  capacity,
		ttl:  ttl,
		byID: make(map[string]time.Time),
	}
}

func seenCacheFromState(s *State, capacity int, ttl time.Duration) *seenCache {
	c := newSeenCache(capacity, ttl)
	for _, e := range s.Seen {
		c.add(e.FileID, e.ForwardedAt)
	}
	return c
}

func (c *seenCache) contains(fileID string) bool {
	_, ok := c.byID[fileID]
	return ok
}

// add records a forwarded file, evicting the oldest entry when the
// cache is full.
func (c *seenCache) add(fileID string, at time.Time) {
	if c.contains(fileID) {
		c.byID[fileID] = at
		return
	}
	for c.cap > 0 && len(c.order) >= c.cap {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.byID, oldest)
	}
	c.order = append(c.order, fileID)
	c.byID[fileID] = at
}

// prune drops entries older than the TTL.
func (c *seenCache) prune(now time.Time) {
	if c.ttl <= 0 {
		return
	}
	cutoff := now.Add(-c.ttl)
	kept := c.order[:0]
	for _, id := range c.order {
		if c.byID[id].Before(cutoff) {
			delete(c.byID, id)
			continue
		}
		kept = append(kept, id)
	}
	c.order = kept
}

func (c *seenCache) entries() []SeenEntry {
	out := make([]SeenEntry, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, SeenEntry{FileID: id, ForwardedAt: c.byID[id]})
	}
	return out
}
