package store

import (
	"context"
	"errors"
)

var (
	ErrNotFound = errors.New("store: not found")
	ErrCorrupt  = errors.New("store: corrupt value")
	ErrInvalid  = errors.New("store: invalid key")
)

// Keys of the durable record. Values are strings; the expiry is unix
// milliseconds in decimal and the user is a JSON encoded identity.
const (
	KeyToken    = "auth_token"
	KeyExpiry   = "auth_expiry"
	KeyUser     = "auth_user"
	KeyUsername = "auth_username"
)

// RecordKeys lists every key owned by the credential store.
var RecordKeys = []string{KeyToken, KeyExpiry, KeyUser, KeyUsername}

// Record is the durable key/value backing of the credential store. Drivers
// (file, sqlite) implement it. Writes must be complete before they return.
type Record interface {
	// Get returns ErrNotFound for an absent key.
	Get(ctx context.Context, key string) (string, error)

	// Put writes every entry. Drivers that can, write them atomically.
	Put(ctx context.Context, entries map[string]string) error

	// Delete removes keys. Missing keys are not an error.
	Delete(ctx context.Context, keys ...string) error

	// Close releases any underlying resources.
	Close() error
}

// StorageEvent describes a change to a record key made by some execution
// context. An empty NewValue means the key was removed.
type StorageEvent struct {
	Key      string `json:"key"`
	OldValue string `json:"old_value,omitempty"`
	NewValue string `json:"new_value,omitempty"`
	Origin   string `json:"origin,omitempty"`
}

// Removed reports whether the event represents a removal.
func (e StorageEvent) Removed() bool {
	return e.NewValue == ""
}

// ChangeFeed delivers storage events written by other execution contexts
// sharing the same record.
type ChangeFeed interface {
	// Subscribe registers fn and returns a function that removes it.
	Subscribe(fn func(StorageEvent)) (unsubscribe func())
}

// ValidKey reports whether key may be used as a record key. Keys double as
// file names in the file driver so they are restricted to [a-z0-9_].
func ValidKey(key string) bool {
	if key == "" {
		return false
	}
	for _, r := range key {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') && r != '_' {
			return false
		}
	}
	return true
}
