package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/aussiebroadwan/casedesk/internal/casedesk/domain"
)

// ActionPing is the no-op call used to extend a session. Its only effect is
// a rotated token in the response.
const ActionPing = "auth.ping"

// ErrNoCredential is returned by Login when the backend accepted the
// credentials but issued no token.
var ErrNoCredential = errors.New("gateway: login response carried no token")

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (c *Client) Signup(ctx context.Context, email, password string) (*Response, error) {
	return c.Send(ctx, "auth.signup", credentials{Email: email, Password: password})
}

func (c *Client) VerifyEmail(ctx context.Context, email, token string) (*Response, error) {
	return c.Send(ctx, "auth.verifyEmail", map[string]string{"email": email, "token": token})
}

func (c *Client) ResendVerification(ctx context.Context, email string) (*Response, error) {
	return c.Send(ctx, "auth.resendVerification", map[string]string{"email": email})
}

// Login authenticates and stores the issued credential together with the
// identity returned in the envelope data.
func (c *Client) Login(ctx context.Context, email, password string) (domain.Identity, error) {
	resp, err := c.Send(ctx, "auth.login", credentials{Email: email, Password: password})
	if err != nil {
		return domain.Identity{}, err
	}

	var identity domain.Identity
	if err := resp.Decode(&identity); err != nil {
		return domain.Identity{}, unknownError(err)
	}
	if resp.Credential == nil {
		return identity, ErrNoCredential
	}
	if identity.Username == "" {
		identity.Username = resp.Credential.Username
	}
	if identity.Email == "" {
		identity.Email = email
	}

	if c.store != nil {
		if err := c.store.SetAuth(*resp.Credential, identity); err != nil {
			return identity, fmt.Errorf("store login: %w", err)
		}
	}
	return identity, nil
}

// Logout discards the local session. The backend keeps no session state to
// revoke.
func (c *Client) Logout(_ context.Context) error {
	if c.store == nil {
		return nil
	}
	return c.store.ClearAuth()
}

func (c *Client) RequestPasswordReset(ctx context.Context, email string) (*Response, error) {
	return c.Send(ctx, "auth.requestPasswordReset", map[string]string{"email": email})
}

func (c *Client) VerifyOTP(ctx context.Context, email, otp string) (*Response, error) {
	return c.Send(ctx, "auth.verifyOTP", map[string]string{"email": email, "otp": otp})
}

func (c *Client) ResetPassword(ctx context.Context, email, otp, newPassword string) (*Response, error) {
	return c.Send(ctx, "auth.resetPassword", map[string]string{
		"email":       email,
		"otp":         otp,
		"newPassword": newPassword,
	})
}

// Ping asks the backend for a fresh credential.
func (c *Client) Ping(ctx context.Context) (*Response, error) {
	return c.Send(ctx, ActionPing, struct{}{})
}
