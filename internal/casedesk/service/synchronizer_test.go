package service_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aussiebroadwan/casedesk/internal/casedesk/domain"
	"github.com/aussiebroadwan/casedesk/internal/casedesk/service"
	"github.com/aussiebroadwan/casedesk/internal/casedesk/store"
	"github.com/aussiebroadwan/casedesk/pkg/slogx"
)

type fakeFeed struct {
	mu   sync.Mutex
	subs map[int]func(store.StorageEvent)
	next int
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{subs: make(map[int]func(store.StorageEvent))}
}

func (f *fakeFeed) Subscribe(fn func(store.StorageEvent)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.next
	f.next++
	f.subs[id] = fn
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.subs, id)
	}
}

func (f *fakeFeed) emit(ev store.StorageEvent) {
	f.mu.Lock()
	fns := make([]func(store.StorageEvent), 0, len(f.subs))
	for _, fn := range f.subs {
		fns = append(fns, fn)
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

func (f *fakeFeed) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

type logoutRecorder struct{ calls int }

func (l *logoutRecorder) RemoteLogout() { l.calls++ }

func TestSynchronizerPropagatesRemoval(t *testing.T) {
	t.Parallel()

	clock := service.NewManualClock(epoch)
	session := newCredentialStore(t, store.NewMemory(), clock)
	require.NoError(t, session.SetAuth(domain.Credential{Value: "tok", ExpiresAt: epoch.Add(time.Hour)}, ada))

	feed := newFakeFeed()
	handler := &logoutRecorder{}
	syncer := service.NewSynchronizer(feed, session, handler, slogx.Discard())
	syncer.Start()
	syncer.Start()
	require.Equal(t, 1, feed.count())

	// Writes and other keys are not logouts.
	feed.emit(store.StorageEvent{Key: store.KeyToken, OldValue: "tok", NewValue: "newer"})
	feed.emit(store.StorageEvent{Key: store.KeyUser, OldValue: "{}"})
	require.True(t, session.IsAuthenticated())
	require.Zero(t, handler.calls)

	feed.emit(store.StorageEvent{Key: store.KeyToken, OldValue: "tok", Origin: "other"})
	require.False(t, session.IsAuthenticated())
	require.Equal(t, 1, handler.calls)

	// The echo of an already applied logout is dropped.
	feed.emit(store.StorageEvent{Key: store.KeyToken, OldValue: "tok"})
	require.Equal(t, 1, handler.calls)

	syncer.Close()
	require.Zero(t, feed.count())
}

func TestSynchronizerDrivesMonitor(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)

	feed := newFakeFeed()
	syncer := service.NewSynchronizer(feed, h.session, h.monitor, slogx.Discard())
	syncer.Start()
	t.Cleanup(syncer.Close)

	h.login(t, 90*time.Second)
	h.clock.Advance(45 * time.Second)
	require.Equal(t, service.PhaseWarning, h.monitor.State().Phase)

	feed.emit(store.StorageEvent{Key: store.KeyToken, OldValue: "tok"})

	require.Equal(t, service.PhaseIdle, h.monitor.State().Phase)
	require.False(t, h.session.IsAuthenticated())
	require.Equal(t, []domain.Route{domain.LoginRoute(false)}, h.nav.all())
	require.Zero(t, h.clock.Pending())
}
