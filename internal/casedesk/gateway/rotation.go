package gateway

import (
	"fmt"
	"time"

	"github.com/aussiebroadwan/casedesk/internal/casedesk/domain"
	"github.com/aussiebroadwan/casedesk/pkg/cryptox"
	"github.com/aussiebroadwan/casedesk/pkg/jwtx"
)

// OnRotate registers fn to be called after every stored rotation. The
// returned function removes it.
func (c *Client) OnRotate(fn func(CredentialRotated)) (unsubscribe func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextID
	c.nextID++
	c.observers[id] = fn
	c.order = append(c.order, id)

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.observers, id)
	}
}

func (c *Client) broadcast(ev CredentialRotated) {
	c.mu.Lock()
	fns := make([]func(CredentialRotated), 0, len(c.observers))
	live := c.order[:0]
	for _, id := range c.order {
		if fn, ok := c.observers[id]; ok {
			fns = append(fns, fn)
			live = append(live, id)
		}
	}
	c.order = live
	c.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

// credentialFromGrant resolves the expiry of a grant. ttl wins; a JWT exp
// claim is the fallback. ok is false when neither yields an expiry. A grant
// without a username takes the account name from the JWT claims.
func credentialFromGrant(g *TokenGrant) (domain.Credential, bool) {
	cred := domain.Credential{Value: g.Value, Username: g.Username}
	if cred.Username == "" {
		if claims, err := jwtx.Parse(g.Value); err == nil {
			cred.Username = claims.SubjectName()
		}
	}
	if g.TTL > 0 {
		cred.ExpiresAt = time.UnixMilli(g.TTL)
		return cred, true
	}

	exp, err := jwtx.ExpiryOf(g.Value)
	if err != nil {
		return cred, false
	}
	cred.ExpiresAt = exp
	return cred, true
}

// rotate stores a granted credential and announces it.
func (c *Client) rotate(action string, g *TokenGrant) (*domain.Credential, error) {
	cred, ok := credentialFromGrant(g)
	if !ok {
		c.Logger.Warn("rotation_without_expiry", "action", action, "fingerprint", cryptox.Fingerprint(g.Value))
		return nil, nil
	}
	if c.store == nil {
		return &cred, nil
	}

	if err := c.store.Rotate(cred); err != nil {
		return nil, fmt.Errorf("store rotated credential: %w", err)
	}
	c.Metrics.Rotated()
	c.Logger.Debug("credential_rotated",
		"action", action,
		"fingerprint", cryptox.Fingerprint(cred.Value),
		"expires_in", cred.ExpiresAt.Sub(c.now()).Round(time.Second).String(),
	)

	c.broadcast(CredentialRotated{ExpiresAt: cred.ExpiresAt, Value: cred.Value})
	return &cred, nil
}
