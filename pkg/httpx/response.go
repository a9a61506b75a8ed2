package httpx

import (
	"fmt"
	"io"
	"net/http"
)

// MaxBodyBytes bounds how much of a response body is read into memory.
const MaxBodyBytes = 32 << 20

// ReadBody reads and closes the response body, refusing bodies larger than
// MaxBodyBytes.
func ReadBody(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if len(body) > MaxBodyBytes {
		return nil, fmt.Errorf("response body exceeds %d bytes", MaxBodyBytes)
	}
	return body, nil
}

// IsSuccess reports whether the HTTP status is 2xx.
func IsSuccess(code int) bool {
	return code >= 200 && code < 300
}
