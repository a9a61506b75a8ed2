package natsfeed

import (
	"context"
	"errors"

	"github.com/aussiebroadwan/casedesk/internal/casedesk/store"
)

type publishingRecord struct {
	store.Record
	feed *Feed
}

// Wrap returns a Record that announces every successful mutation of r on
// the feed. Publish failures are logged and never fail the write.
func (f *Feed) Wrap(r store.Record) store.Record {
	return &publishingRecord{Record: r, feed: f}
}

func (p *publishingRecord) Put(ctx context.Context, entries map[string]string) error {
	old := p.snapshot(ctx, keysOf(entries))
	if err := p.Record.Put(ctx, entries); err != nil {
		return err
	}
	for k, v := range entries {
		p.publish(ctx, store.StorageEvent{Key: k, OldValue: old[k], NewValue: v})
	}
	return nil
}

func (p *publishingRecord) Delete(ctx context.Context, keys ...string) error {
	old := p.snapshot(ctx, keys)
	if err := p.Record.Delete(ctx, keys...); err != nil {
		return err
	}
	for _, k := range keys {
		if v, ok := old[k]; ok {
			p.publish(ctx, store.StorageEvent{Key: k, OldValue: v})
		}
	}
	return nil
}

func (p *publishingRecord) snapshot(ctx context.Context, keys []string) map[string]string {
	out := make(map[string]string, len(keys))
	for _, k := range keys {
		v, err := p.Record.Get(ctx, k)
		if err == nil || errors.Is(err, store.ErrCorrupt) {
			out[k] = v
		}
	}
	return out
}

func (p *publishingRecord) publish(ctx context.Context, ev store.StorageEvent) {
	if err := p.feed.Publish(ctx, ev); err != nil {
		p.feed.logger.Warn("storage_event_publish_failed", "key", ev.Key, "error", err)
	}
}

func keysOf(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}
