package filekv

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/aussiebroadwan/casedesk/internal/casedesk/store"
)

// Watcher turns file system notifications on a Store directory into storage
// events. It keeps the last value it saw per key so removals can report the
// previous value.
type Watcher struct {
	dir     string
	logger  *slog.Logger
	watcher *fsnotify.Watcher

	mu     sync.Mutex
	values map[string]string
	subs   map[int]func(store.StorageEvent)
	nextID int

	cancel context.CancelFunc
	doneCh chan struct{}
}

// NewWatcher starts watching the directory of s.
func NewWatcher(s *Store, logger *slog.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(s.dir); err != nil {
		_ = fw.Close()
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &Watcher{
		dir:     s.dir,
		logger:  logger.With("component", "filekv_watcher"),
		watcher: fw,
		values:  make(map[string]string),
		subs:    make(map[int]func(store.StorageEvent)),
		cancel:  cancel,
		doneCh:  make(chan struct{}),
	}
	w.prime()

	go w.run(ctx)
	return w, nil
}

// prime seeds the value cache with what is already on disk.
func (w *Watcher) prime() {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.IsDir() || !store.ValidKey(e.Name()) {
			continue
		}
		if data, err := os.ReadFile(filepath.Join(w.dir, e.Name())); err == nil {
			w.values[e.Name()] = string(data)
		}
	}
}

// Subscribe implements store.ChangeFeed.
func (w *Watcher) Subscribe(fn func(store.StorageEvent)) func() {
	w.mu.Lock()
	defer w.mu.Unlock()

	id := w.nextID
	w.nextID++
	w.subs[id] = fn

	return func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		delete(w.subs, id)
	}
}

// Close stops watching and waits for the event loop to exit.
func (w *Watcher) Close() error {
	w.cancel()
	err := w.watcher.Close()
	<-w.doneCh
	return err
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handle(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			if !errors.Is(err, fsnotify.ErrEventOverflow) {
				w.logger.Warn("watch_error", "error", err)
				continue
			}
			// Events were dropped; rescan so the cache reflects disk.
			w.logger.Warn("watch_overflow")
			w.rescan()
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	key := filepath.Base(event.Name)
	if !store.ValidKey(key) {
		return
	}

	switch {
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		w.update(key, "", false)
	case event.Has(fsnotify.Create), event.Has(fsnotify.Write):
		data, err := os.ReadFile(event.Name)
		if err != nil {
			// Removed again before we could read it.
			w.update(key, "", false)
			return
		}
		w.update(key, string(data), true)
	}
}

func (w *Watcher) rescan() {
	for _, key := range store.RecordKeys {
		data, err := os.ReadFile(filepath.Join(w.dir, key))
		if err != nil {
			w.update(key, "", false)
			continue
		}
		w.update(key, string(data), true)
	}
}

// update records the new value and notifies subscribers if it changed.
func (w *Watcher) update(key, value string, present bool) {
	w.mu.Lock()
	old, had := w.values[key]
	if present {
		w.values[key] = value
	} else {
		delete(w.values, key)
	}
	if had == present && old == value {
		w.mu.Unlock()
		return
	}
	subs := make([]func(store.StorageEvent), 0, len(w.subs))
	for _, fn := range w.subs {
		subs = append(subs, fn)
	}
	w.mu.Unlock()

	ev := store.StorageEvent{Key: key, OldValue: old, NewValue: value}
	w.logger.Debug("storage_event", "key", key, "removed", ev.Removed())
	for _, fn := range subs {
		fn(ev)
	}
}
