package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/aussiebroadwan/casedesk/internal/casedesk/domain"
	"github.com/aussiebroadwan/casedesk/internal/casedesk/store"
	"github.com/aussiebroadwan/casedesk/pkg/cryptox"
)

// ErrInvalidCredential is returned when asked to store a credential that is
// empty or already expired.
var ErrInvalidCredential = errors.New("invalid_credential")

// recordTimeout bounds a single durable record operation.
const recordTimeout = 5 * time.Second

// AuthChange is delivered to subscribers when a login or logout changes the
// authenticated state.
type AuthChange struct {
	Authenticated bool
	ExpiresAt     time.Time
}

// Snapshot is a consistent view of the credential store.
type Snapshot struct {
	Credential    domain.Credential
	Identity      domain.Identity
	Authenticated bool
	Valid         bool
	Remaining     time.Duration
}

// CredentialStore is the single owner of the current credential and identity
// and the only writer of the durable record for this execution context.
type CredentialStore struct {
	record store.Record
	logger *slog.Logger
	now    func() time.Time

	mu       sync.RWMutex
	cred     domain.Credential
	identity *domain.Identity

	listenerMu sync.Mutex
	listeners  map[int]func(AuthChange)
	nextID     int
}

// NewCredentialStore creates an empty store. Call Init to load the record.
func NewCredentialStore(record store.Record, logger *slog.Logger, now func() time.Time) *CredentialStore {
	if now == nil {
		now = time.Now
	}
	return &CredentialStore{
		record:    record,
		logger:    logger.With("component", "credential_store"),
		now:       now,
		listeners: make(map[int]func(AuthChange)),
	}
}

// Init loads the durable record. A record that is absent, expired or
// unreadable leaves the store empty and is removed. It never fails.
func (s *CredentialStore) Init(ctx context.Context) {
	cred, identity, err := s.load(ctx)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			s.logger.Warn("discarding_unreadable_record", "error", err)
		}
		s.purge(ctx)
		return
	}

	if !cred.ValidAt(s.now()) {
		s.logger.Info("discarding_expired_record", "expired_at", cred.ExpiresAt)
		s.purge(ctx)
		return
	}

	s.mu.Lock()
	s.cred = cred
	s.identity = &identity
	s.mu.Unlock()

	s.logger.Info("session_restored",
		"user", identity.DisplayName(),
		"fingerprint", cryptox.Fingerprint(cred.Value),
		"expires_at", cred.ExpiresAt,
	)
}

func (s *CredentialStore) load(ctx context.Context) (domain.Credential, domain.Identity, error) {
	ctx, cancel := context.WithTimeout(ctx, recordTimeout)
	defer cancel()

	token, err := s.record.Get(ctx, store.KeyToken)
	if err != nil {
		return domain.Credential{}, domain.Identity{}, err
	}
	rawExpiry, err := s.record.Get(ctx, store.KeyExpiry)
	if err != nil {
		return domain.Credential{}, domain.Identity{}, err
	}
	rawUser, err := s.record.Get(ctx, store.KeyUser)
	if err != nil {
		return domain.Credential{}, domain.Identity{}, err
	}

	ms, err := strconv.ParseInt(rawExpiry, 10, 64)
	if err != nil {
		return domain.Credential{}, domain.Identity{}, fmt.Errorf("%w: expiry: %v", store.ErrCorrupt, err)
	}

	var identity domain.Identity
	if err := json.Unmarshal([]byte(rawUser), &identity); err != nil {
		return domain.Credential{}, domain.Identity{}, fmt.Errorf("%w: user: %v", store.ErrCorrupt, err)
	}

	cred := domain.Credential{Value: token, ExpiresAt: time.UnixMilli(ms)}
	if username, err := s.record.Get(ctx, store.KeyUsername); err == nil {
		cred.Username = username
	}
	return cred, identity, nil
}

func (s *CredentialStore) purge(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, recordTimeout)
	defer cancel()

	if err := s.record.Delete(ctx, store.RecordKeys...); err != nil {
		s.logger.Warn("failed to clear durable record", "error", err)
	}
}

// SetAuth replaces the credential and identity. The durable record has been
// written by the time it returns.
func (s *CredentialStore) SetAuth(cred domain.Credential, identity domain.Identity) error {
	if !cred.ValidAt(s.now()) {
		return ErrInvalidCredential
	}

	s.mu.Lock()
	wasAuthenticated := s.authenticatedLocked()
	s.cred = cred
	s.identity = &identity
	s.mu.Unlock()

	err := s.persist(cred, &identity)
	if !wasAuthenticated {
		s.notify(AuthChange{Authenticated: true, ExpiresAt: cred.ExpiresAt})
	}
	return err
}

// Rotate replaces the credential and keeps the identity. When no identity is
// held a minimal one named after the credential's username is created so
// the pair stays complete.
func (s *CredentialStore) Rotate(cred domain.Credential) error {
	if !cred.ValidAt(s.now()) {
		return ErrInvalidCredential
	}

	s.mu.Lock()
	wasAuthenticated := s.authenticatedLocked()
	if s.identity == nil {
		s.identity = &domain.Identity{Username: cred.Username}
	}
	if cred.Username == "" {
		cred.Username = s.cred.Username
	}
	s.cred = cred
	identity := *s.identity
	s.mu.Unlock()

	err := s.persist(cred, &identity)
	if !wasAuthenticated {
		s.notify(AuthChange{Authenticated: true, ExpiresAt: cred.ExpiresAt})
	}
	return err
}

func (s *CredentialStore) persist(cred domain.Credential, identity *domain.Identity) error {
	user, err := json.Marshal(identity)
	if err != nil {
		return fmt.Errorf("encode identity: %w", err)
	}

	entries := map[string]string{
		store.KeyToken:  cred.Value,
		store.KeyExpiry: strconv.FormatInt(cred.ExpiresAt.UnixMilli(), 10),
		store.KeyUser:   string(user),
	}
	if cred.Username != "" {
		entries[store.KeyUsername] = cred.Username
	}

	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()

	if err := s.record.Put(ctx, entries); err != nil {
		s.logger.Error("failed to persist credential", "error", err)
		return fmt.Errorf("persist credential: %w", err)
	}
	return nil
}

// ClearAuth removes the credential and identity. Calling it when already
// empty only re-removes the durable record.
func (s *CredentialStore) ClearAuth() error {
	s.mu.Lock()
	wasAuthenticated := s.authenticatedLocked()
	s.cred = domain.Credential{}
	s.identity = nil
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()

	err := s.record.Delete(ctx, store.RecordKeys...)
	if wasAuthenticated {
		s.logger.Info("session_cleared")
		s.notify(AuthChange{Authenticated: false})
	}
	if err != nil {
		return fmt.Errorf("clear durable record: %w", err)
	}
	return nil
}

func (s *CredentialStore) authenticatedLocked() bool {
	return !s.cred.IsZero() && s.identity != nil
}

// IsAuthenticated reports whether both a credential and an identity are
// held. Expiry is not considered.
func (s *CredentialStore) IsAuthenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.authenticatedLocked()
}

// IsTokenValid reports whether a credential is held and expires strictly
// after now.
func (s *CredentialStore) IsTokenValid() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cred.ValidAt(s.now())
}

func (s *CredentialStore) Credential() domain.Credential {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cred
}

// Identity returns the held identity and whether there is one.
func (s *CredentialStore) Identity() (domain.Identity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.identity == nil {
		return domain.Identity{}, false
	}
	return *s.identity, true
}

func (s *CredentialStore) Snapshot() Snapshot {
	now := s.now()

	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		Credential:    s.cred,
		Authenticated: s.authenticatedLocked(),
		Valid:         s.cred.ValidAt(now),
	}
	if s.identity != nil {
		snap.Identity = *s.identity
	}
	if !s.cred.IsZero() {
		snap.Remaining = max(s.cred.Remaining(now), 0)
	}
	return snap
}

// Subscribe registers fn for login and logout transitions. A rotation is
// reported only when it authenticates an empty store; otherwise rotations
// are announced by the gateway.
func (s *CredentialStore) Subscribe(fn func(AuthChange)) (unsubscribe func()) {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()

	id := s.nextID
	s.nextID++
	s.listeners[id] = fn

	return func() {
		s.listenerMu.Lock()
		defer s.listenerMu.Unlock()
		delete(s.listeners, id)
	}
}

func (s *CredentialStore) notify(change AuthChange) {
	s.listenerMu.Lock()
	fns := make([]func(AuthChange), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.listenerMu.Unlock()

	for _, fn := range fns {
		fn(change)
	}
}

// Close drops every subscriber. The record itself belongs to the caller.
func (s *CredentialStore) Close() {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()
	clear(s.listeners)
}
