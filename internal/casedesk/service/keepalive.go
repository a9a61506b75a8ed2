package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/aussiebroadwan/casedesk/internal/casedesk/domain"
)

// DefaultRefreshWindow is how close to expiry the keep-alive refreshes.
const DefaultRefreshWindow = 5 * time.Minute

// KeepAlive refreshes a credential that is about to expire without waiting
// for the user. It is meant for unattended contexts such as watch mode.
type KeepAlive struct {
	Store    SessionSource
	Extender Extender
	Logger   *slog.Logger
	Interval time.Duration
	Window   time.Duration
	Now      func() time.Time

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewKeepAlive creates a keep-alive checking every interval. If interval is
// 0 or negative it defaults to one minute, and window to five minutes.
func NewKeepAlive(store SessionSource, extender Extender, logger *slog.Logger, interval, window time.Duration) *KeepAlive {
	if interval <= 0 {
		interval = time.Minute
	}
	if window <= 0 {
		window = DefaultRefreshWindow
	}

	return &KeepAlive{
		Store:    store,
		Extender: extender,
		Logger:   logger.With("component", "keepalive"),
		Interval: interval,
		Window:   window,
		Now:      time.Now,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start begins the background worker. Call Stop to shut it down.
func (k *KeepAlive) Start() {
	go k.run()
	k.Logger.Info("keepalive started", "interval", k.Interval, "window", k.Window)
}

// Stop shuts the worker down and waits for an in-progress check.
func (k *KeepAlive) Stop() {
	close(k.stopCh)
	<-k.doneCh
	k.Logger.Info("keepalive stopped")
}

func (k *KeepAlive) run() {
	defer close(k.doneCh)

	ticker := time.NewTicker(k.Interval)
	defer ticker.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-k.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	k.Check(ctx)
	for {
		select {
		case <-ticker.C:
			k.Check(ctx)
		case <-k.stopCh:
			return
		}
	}
}

// Check refreshes the credential if it expires within the window and clears
// it if it has expired or the refresh fails. It reports whether a refresh
// succeeded.
func (k *KeepAlive) Check(ctx context.Context) bool {
	cred := k.Store.Credential()
	if cred.IsZero() {
		return false
	}

	remaining := cred.Remaining(k.Now())
	switch {
	case remaining <= 0:
		k.Logger.Info("credential expired, clearing session")
		k.clear()
		return false
	case remaining >= k.Window:
		return false
	}

	if err := k.Extender.ExtendSession(ctx); err != nil {
		k.Logger.Warn("credential refresh failed, clearing session", "error", err)
		k.clear()
		return false
	}

	k.Logger.Debug("credential refreshed", "previous_remaining", remaining.Round(time.Second).String())
	return k.refreshed(cred)
}

// refreshed reports whether the held credential changed since before.
func (k *KeepAlive) refreshed(before domain.Credential) bool {
	return k.Store.Credential().Value != before.Value
}

func (k *KeepAlive) clear() {
	if err := k.Store.ClearAuth(); err != nil {
		k.Logger.Error("failed to clear session", "error", err)
	}
}
