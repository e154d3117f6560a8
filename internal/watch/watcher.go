// Package watch reruns a scan whenever Messages.app writes to chat.db.
package watch

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"spamstop/internal/logging"
)

// DefaultDebounce is how long chat.db must stay quiet before a rescan.
const DefaultDebounce = 2 * time.Second

// tickInterval is how often pending changes are checked against the
// debounce window.
const tickInterval = 100 * time.Millisecond

// Stats tracks watcher activity.
type Stats struct {
	Events        int
	Triggers      int
	Errors        int
	LastEventTime time.Time
	LastEventPath string
}

// Watcher watches the directory holding chat.db. Messages.app writes
// through the WAL, so both chat.db and chat.db-wal count as changes.
type Watcher struct {
	dbPath   string
	debounce time.Duration
	onChange func(ctx context.Context) error

	mu      sync.Mutex
	stats   Stats
	pending time.Time // zero when nothing is waiting
}

// New creates a watcher for dbPath. onChange runs on the watcher's
// goroutine, so changes that arrive while it runs are coalesced into at
// most one more call.
func New(dbPath string, debounce time.Duration, onChange func(ctx context.Context) error) *Watcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{
		dbPath:   dbPath,
		debounce: debounce,
		onChange: onChange,
	}
}

// Run blocks until ctx is done. It returns nil on cancellation and an
// error only when watching cannot start or the event stream breaks.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fw.Close()

	dir := filepath.Dir(w.dbPath)
	if err := fw.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	logging.Watch("watching %s (debounce %s)", w.dbPath, w.debounce)

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logging.Watch("watcher stopped")
			return nil

		case event, ok := <-fw.Events:
			if !ok {
				return errors.New("watcher event channel closed")
			}
			w.handleEvent(event)

		case err, ok := <-fw.Errors:
			if !ok {
				return errors.New("watcher error channel closed")
			}
			logging.Get(logging.CategoryWatch).Error("watcher error: %v", err)
			w.mu.Lock()
			w.stats.Errors++
			w.mu.Unlock()

		case <-ticker.C:
			if err := w.fireIfSettled(ctx); err != nil {
				return err
			}
		}
	}
}

// handleEvent records a change to chat.db or its WAL.
func (w *Watcher) handleEvent(event fsnotify.Event) {
	if !w.relevant(event.Name) {
		return
	}
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
		return
	}

	logging.WatchDebug("%s on %s", event.Op, event.Name)

	w.mu.Lock()
	now := time.Now()
	w.stats.Events++
	w.stats.LastEventTime = now
	w.stats.LastEventPath = event.Name
	w.pending = now
	w.mu.Unlock()
}

func (w *Watcher) relevant(name string) bool {
	base := filepath.Base(w.dbPath)
	switch filepath.Base(name) {
	case base, base + "-wal":
		return true
	}
	return false
}

// fireIfSettled runs onChange once the last change is older than the
// debounce window.
func (w *Watcher) fireIfSettled(ctx context.Context) error {
	w.mu.Lock()
	if w.pending.IsZero() || time.Since(w.pending) < w.debounce {
		w.mu.Unlock()
		return nil
	}
	w.pending = time.Time{}
	w.stats.Triggers++
	w.mu.Unlock()

	logging.Watch("chat.db changed, rescanning")
	if err := w.onChange(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		logging.Get(logging.CategoryWatch).Error("rescan failed: %v", err)
		w.mu.Lock()
		w.stats.Errors++
		w.mu.Unlock()
	}
	return nil
}

// Stats returns a snapshot of watcher activity.
func (w *Watcher) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}
