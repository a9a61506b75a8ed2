package service

import (
	"log/slog"
	"sync"

	"github.com/aussiebroadwan/casedesk/internal/casedesk/store"
)

// LogoutHandler reacts to a logout performed by another execution context.
type LogoutHandler interface {
	RemoteLogout()
}

// LocalSession is the part of the credential store the synchronizer needs.
type LocalSession interface {
	IsAuthenticated() bool
	ClearAuth() error
}

// Synchronizer propagates credential removal made by other execution
// contexts sharing the durable record.
type Synchronizer struct {
	feed    store.ChangeFeed
	session LocalSession
	handler LogoutHandler
	logger  *slog.Logger

	mu          sync.Mutex
	unsubscribe func()
}

func NewSynchronizer(feed store.ChangeFeed, session LocalSession, handler LogoutHandler, logger *slog.Logger) *Synchronizer {
	return &Synchronizer{
		feed:    feed,
		session: session,
		handler: handler,
		logger:  logger.With("component", "synchronizer"),
	}
}

// Start subscribes to the change feed. Calling it twice is a no-op.
func (s *Synchronizer) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.unsubscribe != nil {
		return
	}
	s.unsubscribe = s.feed.Subscribe(s.handle)
}

// Close unsubscribes from the change feed.
func (s *Synchronizer) Close() {
	s.mu.Lock()
	unsubscribe := s.unsubscribe
	s.unsubscribe = nil
	s.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
}

func (s *Synchronizer) handle(ev store.StorageEvent) {
	if ev.Key != store.KeyToken || !ev.Removed() {
		return
	}

	// Our own logout has already emptied the store before the echo arrives.
	if !s.session.IsAuthenticated() {
		s.logger.Debug("ignoring_removal", "origin", ev.Origin)
		return
	}

	s.logger.Info("credential_removed_elsewhere", "origin", ev.Origin)
	if err := s.session.ClearAuth(); err != nil {
		s.logger.Warn("failed to clear local session", "error", err)
	}
	s.handler.RemoteLogout()
}
