// Package idx generates lexicographically sortable identifiers for outbound
// requests and for the execution contexts that share one credential record.
package idx

import (
	"crypto/rand"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

type ID string

// Zero represents the zero value ID, don't use this unless its a placeholder.
const Zero ID = ""

// ErrInvalid reports a malformed ULID string.
var ErrInvalid = errors.New("idx: invalid ulid")

// Source safely generates ULIDs concurrently from a monotonic entropy source.
type Source struct {
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

// NewSource returns a Source reading entropy from r. Tests may pass a
// deterministic reader.
func NewSource(r io.Reader) *Source {
	return &Source{entropy: ulid.Monotonic(r, 0)}
}

// At generates an ID stamped with t (UTC).
func (s *Source) At(t time.Time) ID {
	s.mu.Lock()
	defer s.mu.Unlock()

	u := ulid.MustNew(ulid.Timestamp(t.UTC()), s.entropy)
	return ID(u.String())
}

var defaultSource = sync.OnceValue(func() *Source {
	return NewSource(rand.Reader)
})

// New returns a new ULID-based ID using the current time.
func New() ID {
	return defaultSource().At(time.Now())
}

// NewAt generates an ID at the provided time, useful for tests.
func NewAt(t time.Time) ID {
	return defaultSource().At(t)
}

// Parse parses a ULID string into an ID and validates its form.
func Parse(s string) (ID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Zero, ErrInvalid
	}
	if _, err := ulid.ParseStrict(s); err != nil {
		return Zero, ErrInvalid
	}
	return ID(s), nil
}

// IsZero reports whether id is the zero value.
func (id ID) IsZero() bool { return id == Zero }

// String returns the canonical string form.
func (id ID) String() string { return string(id) }

// Time extracts the embedded UTC timestamp from the ID.
// If the ID is invalid or zero, it returns the zero time.
func (id ID) Time() time.Time {
	if id.IsZero() {
		return time.Time{}
	}

	u, err := ulid.ParseStrict(id.String())
	if err != nil {
		return time.Time{}
	}
	return ulid.Time(u.Time())
}
