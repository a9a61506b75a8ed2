// Package natsfeed broadcasts durable record mutations over NATS so
// execution contexts on different hosts, or using a driver without native
// change notification, observe each other's logouts.
package natsfeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/aussiebroadwan/casedesk/internal/casedesk/store"
)

// DefaultPrefix is the subject prefix used when none is configured.
const DefaultPrefix = "casedesk"

// Publisher is the subset of *nats.Conn used to publish events.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Feed publishes local mutations and delivers remote ones. Events carrying
// this feed's origin are dropped on receipt.
type Feed struct {
	pub     Publisher
	subject string
	origin  string
	logger  *slog.Logger

	mu     sync.Mutex
	subs   map[int]func(store.StorageEvent)
	nextID int
	sub    *nats.Subscription
}

// New builds a Feed publishing on "<prefix>.storage". origin identifies this
// execution context.
func New(pub Publisher, prefix, origin string, logger *slog.Logger) *Feed {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Feed{
		pub:     pub,
		subject: prefix + ".storage",
		origin:  origin,
		logger:  logger.With("component", "natsfeed"),
		subs:    make(map[int]func(store.StorageEvent)),
	}
}

// Connect dials url and returns a Feed bound to the connection. The caller
// closes both the feed and the connection.
func Connect(url, prefix, origin string, logger *slog.Logger) (*Feed, *nats.Conn, error) {
	nc, err := nats.Connect(url, nats.Name("casedesk-"+origin))
	if err != nil {
		return nil, nil, fmt.Errorf("connect to NATS: %w", err)
	}

	f := New(nc, prefix, origin, logger)
	if err := f.Listen(nc); err != nil {
		nc.Close()
		return nil, nil, err
	}
	return f, nc, nil
}

// Subject returns the subject events are published on.
func (f *Feed) Subject() string { return f.subject }

// Listen subscribes to the feed subject on nc.
func (f *Feed) Listen(nc *nats.Conn) error {
	sub, err := nc.Subscribe(f.subject, f.handleMsg)
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", f.subject, err)
	}

	f.mu.Lock()
	f.sub = sub
	f.mu.Unlock()
	return nil
}

// Subscribe implements store.ChangeFeed.
func (f *Feed) Subscribe(fn func(store.StorageEvent)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := f.nextID
	f.nextID++
	f.subs[id] = fn

	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.subs, id)
	}
}

// Publish broadcasts a local mutation stamped with this feed's origin.
func (f *Feed) Publish(ctx context.Context, ev store.StorageEvent) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled before publish: %w", err)
	}

	ev.Origin = f.origin
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return f.pub.Publish(f.subject, data)
}

// Close removes the NATS subscription. Local subscribers are dropped.
func (f *Feed) Close() error {
	f.mu.Lock()
	sub := f.sub
	f.sub = nil
	clear(f.subs)
	f.mu.Unlock()

	if sub == nil {
		return nil
	}
	if err := sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
		return err
	}
	return nil
}

func (f *Feed) handleMsg(msg *nats.Msg) {
	var ev store.StorageEvent
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		f.logger.Warn("invalid_storage_event", "error", err)
		return
	}
	if ev.Origin == f.origin || !store.ValidKey(ev.Key) {
		return
	}

	f.mu.Lock()
	subs := make([]func(store.StorageEvent), 0, len(f.subs))
	for _, fn := range f.subs {
		subs = append(subs, fn)
	}
	f.mu.Unlock()

	for _, fn := range subs {
		fn(ev)
	}
}
