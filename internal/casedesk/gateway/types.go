package gateway

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/aussiebroadwan/casedesk/internal/casedesk/domain"
)

// Request is the outbound envelope.
type Request struct {
	Action string `json:"action"`
	Data   any    `json:"data"`
	Token  string `json:"token,omitempty"`
}

// Response is the inbound envelope.
type Response struct {
	Status  int             `json:"status"`
	Message string          `json:"message,omitempty"`
	MsgKey  string          `json:"msgKey,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	Token   *TokenGrant     `json:"token,omitempty"`

	// Credential is the rotated credential stored while handling this
	// response, nil when none was.
	Credential *domain.Credential `json:"-"`
}

// Decode unmarshals the data payload into v.
func (r *Response) Decode(v any) error {
	if len(r.Data) == 0 || string(r.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(r.Data, v); err != nil {
		return fmt.Errorf("failed to decode response data: %w", err)
	}
	return nil
}

// TokenGrant is a credential issued by the backend. TTL is the absolute
// expiry in unix milliseconds.
type TokenGrant struct {
	Value    string `json:"value"`
	TTL      int64  `json:"ttl"`
	Username string `json:"username,omitempty"`
}

// CredentialRotated is announced after a rotated credential has been stored.
type CredentialRotated struct {
	ExpiresAt time.Time
	Value     string
}

// Health is the body returned by a GET on the base URL.
type Health struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
	Time    string `json:"timestamp,omitempty"`
}
