package domain

import "time"

// Credential is the bearer value attached to outbound requests together with
// the instant it stops being accepted.
type Credential struct {
	Value     string
	ExpiresAt time.Time
	Username  string // optional, set by rotations that name the subject
}

// IsZero reports whether no credential value is held.
func (c Credential) IsZero() bool {
	return c.Value == ""
}

// ValidAt reports whether the credential is present and expires strictly after now.
func (c Credential) ValidAt(now time.Time) bool {
	return !c.IsZero() && c.ExpiresAt.After(now)
}

// Remaining returns the time left until expiry. It is negative once expired.
func (c Credential) Remaining(now time.Time) time.Duration {
	return c.ExpiresAt.Sub(now)
}
