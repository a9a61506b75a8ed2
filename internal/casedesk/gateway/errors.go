package gateway

import (
	"fmt"
	"net/http"
)

// Message keys for failures the backend did not describe itself.
const (
	KeyNetwork = "error.network"
	KeyUnknown = "error.unknown"
	KeyServer  = "error.server"
	KeyRequest = "error.request"
)

// Error is the typed failure for every request path. StatusCode is the
// backend declared status, the HTTP status when no envelope was readable, or
// zero when no response arrived at all.
type Error struct {
	StatusCode int
	Message    string
	MessageKey string

	cause error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("gateway: %s (%d)", e.MessageKey, e.StatusCode)
	}
	return fmt.Sprintf("gateway: %s (%d): %s", e.MessageKey, e.StatusCode, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// IsUnauthorized reports whether the backend rejected the credential.
func (e *Error) IsUnauthorized() bool {
	return e.StatusCode == http.StatusUnauthorized
}

func networkError(err error) *Error {
	return &Error{
		StatusCode: 0,
		Message:    "No response from server. Check your internet connection.",
		MessageKey: KeyNetwork,
		cause:      err,
	}
}

func unknownError(err error) *Error {
	return &Error{
		StatusCode: 0,
		Message:    err.Error(),
		MessageKey: KeyUnknown,
		cause:      err,
	}
}

// envelopeError builds the error for an envelope declaring status >= 400, or
// for a non-2xx HTTP response. Missing fields fall back to the HTTP status
// and KeyServer.
func envelopeError(httpStatus int, env *Response) *Error {
	e := &Error{
		StatusCode: httpStatus,
		Message:    "Server error",
		MessageKey: KeyServer,
	}
	if env == nil {
		return e
	}
	if env.Status != 0 {
		e.StatusCode = env.Status
	}
	if env.Message != "" {
		e.Message = env.Message
	}
	if env.MsgKey != "" {
		e.MessageKey = env.MsgKey
	}
	return e
}

// outcome is the bounded metrics label for e. Backend message keys are free
// text and never used as labels.
func (e *Error) outcome() string {
	switch {
	case e.StatusCode == 0:
		return e.MessageKey
	case e.IsUnauthorized():
		return "unauthorized"
	default:
		return "server"
	}
}
