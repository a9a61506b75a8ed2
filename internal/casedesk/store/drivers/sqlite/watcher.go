package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/aussiebroadwan/casedesk/internal/casedesk/store"
)

// DefaultPollInterval is how often a Watcher checks for commits.
const DefaultPollInterval = 250 * time.Millisecond

// Watcher reports changes to the record table as storage events. It holds
// its own connection, so PRAGMA data_version moves whenever any other
// connection commits, including the Store it was created from and other
// processes sharing the file. The table is only read after such a commit.
type Watcher struct {
	db       *sql.DB
	logger   *slog.Logger
	interval time.Duration

	mu      sync.Mutex
	version int64
	values  map[string]string
	subs    map[int]func(store.StorageEvent)
	nextID  int

	cancel context.CancelFunc
	doneCh chan struct{}
}

// NewWatcher opens a second connection to the database of s and starts
// polling it every interval. A non-positive interval uses
// DefaultPollInterval.
func NewWatcher(s *Store, logger *slog.Logger, interval time.Duration) (*Watcher, error) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	db, err := sql.Open("sqlite", s.dsn)
	if err != nil {
		return nil, err
	}
	// data_version is per connection; keep exactly one.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	w := &Watcher{
		db:       db,
		logger:   logger.With("component", "sqlite_watcher"),
		interval: interval,
		values:   make(map[string]string),
		subs:     make(map[int]func(store.StorageEvent)),
		doneCh:   make(chan struct{}),
	}

	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	if err := w.prime(ctx); err != nil {
		cancel()
		_ = db.Close()
		return nil, fmt.Errorf("prime sqlite watcher: %w", err)
	}

	go w.run(ctx)
	return w, nil
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

// Close stops polling and releases the connection.
func (w *Watcher) Close() error {
	w.cancel()
	<-w.doneCh
	return w.db.Close()
}

func (w *Watcher) prime(ctx context.Context) error {
	version, err := w.dataVersion(ctx)
	if err != nil {
		return err
	}
	values, err := w.readAll(ctx)
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.version = version
	w.values = values
	w.mu.Unlock()
	return nil
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.poll(ctx); err != nil && ctx.Err() == nil {
				w.logger.Warn("poll_failed", "error", err)
			}
		}
	}
}

func (w *Watcher) poll(ctx context.Context) error {
	version, err := w.dataVersion(ctx)
	if err != nil {
		return err
	}

	w.mu.Lock()
	unchanged := version == w.version
	w.mu.Unlock()
	if unchanged {
		return nil
	}

	values, err := w.readAll(ctx)
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.version = version
	events := diff(w.values, values)
	w.values = values
	subs := make([]func(store.StorageEvent), 0, len(w.subs))
	for _, fn := range w.subs {
		subs = append(subs, fn)
	}
	w.mu.Unlock()

	for _, ev := range events {
		w.logger.Debug("storage_event", "key", ev.Key, "removed", ev.Removed())
		for _, fn := range subs {
			fn(ev)
		}
	}
	return nil
}

func (w *Watcher) dataVersion(ctx context.Context) (int64, error) {
	var version int64
	if err := w.db.QueryRowContext(ctx, `PRAGMA data_version`).Scan(&version); err != nil {
		return 0, fmt.Errorf("read data_version: %w", err)
	}
	return version, nil
}

func (w *Watcher) readAll(ctx context.Context) (map[string]string, error) {
	rows, err := w.db.QueryContext(ctx, `SELECT key, value FROM record`)
	if err != nil {
		return nil, fmt.Errorf("read record: %w", err)
	}
	defer func() { _ = rows.Close() }()

	values := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		values[k] = v
	}
	return values, rows.Err()
}

// diff returns one event per key whose value differs, ordered by key.
func diff(old, cur map[string]string) []store.StorageEvent {
	keys := make([]string, 0, len(old)+len(cur))
	for k := range old {
		keys = append(keys, k)
	}
	for k := range cur {
		if _, ok := old[k]; !ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var events []store.StorageEvent
	for _, k := range keys {
		before, had := old[k]
		after, has := cur[k]
		if had == has && before == after {
			continue
		}
		events = append(events, store.StorageEvent{Key: k, OldValue: before, NewValue: after})
	}
	return events
}
