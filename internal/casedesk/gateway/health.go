package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/aussiebroadwan/casedesk/pkg/httpx"
)

// Health performs an unauthenticated GET on the base URL. Failures carry
// KeyRequest.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL, nil)
	if err != nil {
		return nil, requestError(0, err)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, requestError(0, err)
	}

	body, err := httpx.ReadBody(resp)
	if err != nil {
		return nil, requestError(resp.StatusCode, err)
	}
	if !httpx.IsSuccess(resp.StatusCode) {
		return nil, requestError(resp.StatusCode, fmt.Errorf("HTTP %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode)))
	}

	var h Health
	if err := json.Unmarshal(body, &h); err != nil {
		return nil, requestError(resp.StatusCode, fmt.Errorf("failed to decode response: %w", err))
	}
	return &h, nil
}

func requestError(status int, err error) *Error {
	return &Error{
		StatusCode: status,
		Message:    err.Error(),
		MessageKey: KeyRequest,
		cause:      err,
	}
}
