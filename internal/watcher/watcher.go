// Package watcher scans the source store for newly created files and
// forwards them to the intake gate. Consecutive scans overlap by a
// lookback window larger than the scan interval, so clock skew or
// propagation lag cannot hide a file; the seen cache keeps the overlap
// from producing duplicate forwards in the common case.
package watcher

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/receipt-pipeline/internal/config"
	"github.com/dvloznov/receipt-pipeline/internal/drive"
)

// Watcher runs the overlap-polling scan. One scheduled run at a time
// is assumed; the state store has no lock.
type Watcher struct {
	store     drive.Store
	states    StateStore
	forwarder Forwarder
	folderID  string
	lookback  time.Duration
	seenCap   int
	seenTTL   time.Duration
	now       func() time.Time
	log       zerolog.Logger
}

// New builds a watcher from its collaborators and config.
func New(store drive.Store, states StateStore, forwarder Forwarder, cfg config.Watcher, log zerolog.Logger) *Watcher {
	return &Watcher{
		store:     store,
		states:    states,
		forwarder: forwarder,
		folderID:  cfg.FolderID,
		lookback:  cfg.Lookback,
		seenCap:   cfg.SeenCap,
		seenTTL:   cfg.SeenTTL,
		now:       time.Now,
		log:       log,
	}
}

// Scan performs one polling pass: list files created in
// [now-lookback, now], forward the ones not in the seen cache, and
// persist the updated state. A file is only added to the cache after a
// confirmed hand-off, so a failed forward is retried by the next
// overlapping scan.
func (w *Watcher) Scan(ctx context.Context) error {
	now := w.now()
	since := now.Add(-w.lookback)

	state, err := w.states.Load(ctx)
	if err != nil {
		return fmt.Errorf("watcher: load state: %w", err)
	}
	seen := seenCacheFromState(state, w.seenCap, w.seenTTL)

	files, err := w.store.ListCreatedSince(ctx, w.folderID, since)
	if err != nil {
		return fmt.Errorf("watcher: list files: %w", err)
	}

	forwarded := 0
	var newest time.Time
	for _, f := range files {
		if f.CreatedTime.After(newest) {
			newest = f.CreatedTime
		}
		if seen.contains(f.ID) {
			continue
		}
		if err := w.forwarder.Forward(ctx, w.folderID, f); err != nil {
			// Left out of the cache: the next overlapping scan
			// retries it. At-least-once is the contract here.
			w.log.Error().Err(err).Str("file_id", f.ID).Msg("Forward failed; will retry next scan")
			continue
		}
		seen.add(f.ID, now)
		forwarded++
	}

	seen.prune(now)
	state.Seen = seen.entries()
	if !newest.IsZero() {
		state.LastCreatedTime = newest.UTC().Format(time.RFC3339)
	}
	if err := w.states.Save(ctx, state); err != nil {
		return fmt.Errorf("watcher: save state: %w", err)
	}

	w.log.Info().
		Str("folder_id", w.folderID).
		Time("since", since).
		Int("found", len(files)).
		Int("forwarded", forwarded).
		Msg("Scan complete")
	return nil
}

// Run scans on every tick until ctx is done.
func (w *Watcher) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := w.Scan(ctx); err != nil {
			w.log.Error().Err(err).Msg("Scan failed")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
