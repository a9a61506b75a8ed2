package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/aussiebroadwan/casedesk/pkg/httpx"
	"github.com/aussiebroadwan/casedesk/pkg/slogx"
)

// SendOption adjusts a single Send.
type SendOption func(*sendOptions)

type sendOptions struct {
	credential string
}

// WithCredential attaches value instead of the stored credential.
func WithCredential(value string) SendOption {
	return func(o *sendOptions) { o.credential = value }
}

// Send posts action with payload and returns the parsed envelope. Every
// failure is an *Error. A successful envelope carrying a token is stored
// and announced before Send returns.
func (c *Client) Send(ctx context.Context, action string, payload any, opts ...SendOption) (*Response, error) {
	start := time.Now()
	resp, err := c.send(ctx, action, payload, opts...)

	outcome := "ok"
	if err != nil {
		outcome = KeyUnknown
		var gerr *Error
		if errors.As(err, &gerr) {
			outcome = gerr.outcome()
		}
	}
	c.Metrics.RequestDone(action, outcome, time.Since(start))
	return resp, err
}

func (c *Client) send(ctx context.Context, action string, payload any, opts ...SendOption) (*Response, error) {
	var o sendOptions
	for _, opt := range opts {
		opt(&o)
	}

	token := o.credential
	if token == "" && c.store != nil {
		token = c.store.Credential().Value
	}
	if payload == nil {
		payload = struct{}{}
	}

	body, err := json.Marshal(Request{Action: action, Data: payload, Token: token})
	if err != nil {
		return nil, unknownError(fmt.Errorf("failed to encode request: %w", err))
	}

	ctx = slogx.WithAttrs(slogx.WithContext(ctx, c.Logger), "action", action)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL, bytes.NewReader(body))
	if err != nil {
		return nil, unknownError(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "text/plain;charset=utf-8")
	req.Header.Set(ActionHeader, action)

	httpResp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, networkError(err)
	}

	raw, err := httpx.ReadBody(httpResp)
	if err != nil {
		return nil, networkError(err)
	}

	var env Response
	decodeErr := json.Unmarshal(raw, &env)

	if !httpx.IsSuccess(httpResp.StatusCode) {
		if decodeErr != nil {
			return nil, envelopeError(httpResp.StatusCode, nil)
		}
		return nil, envelopeError(httpResp.StatusCode, &env)
	}
	if decodeErr != nil {
		return nil, unknownError(fmt.Errorf("failed to decode response: %w", decodeErr))
	}
	if env.Status >= http.StatusBadRequest {
		return nil, envelopeError(httpResp.StatusCode, &env)
	}

	if env.Token != nil && env.Token.Value != "" {
		cred, err := c.rotate(action, env.Token)
		if err != nil {
			return nil, unknownError(err)
		}
		env.Credential = cred
	}
	return &env, nil
}
