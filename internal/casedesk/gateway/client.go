package gateway

import (
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/aussiebroadwan/casedesk/internal/casedesk/domain"
	"github.com/aussiebroadwan/casedesk/pkg/httpx"
	"github.com/aussiebroadwan/casedesk/pkg/slogx"
)

// ActionHeader names the action of an outbound request so transports can
// key on it without reading the body.
const ActionHeader = "X-Action"

// DefaultTimeout matches the backend's own request deadline.
const DefaultTimeout = 30 * time.Second

// CredentialStore is the part of the credential store the client needs.
type CredentialStore interface {
	Credential() domain.Credential
	Rotate(cred domain.Credential) error
	SetAuth(cred domain.Credential, identity domain.Identity) error
	ClearAuth() error
}

// Metrics receives request outcomes. The zero Client uses a no-op.
type Metrics interface {
	RequestDone(action, outcome string, elapsed time.Duration)
	Rotated()
}

type nopMetrics struct{}

func (nopMetrics) RequestDone(string, string, time.Duration) {}
func (nopMetrics) Rotated()                                  {}

// Client talks to the backend on behalf of one execution context.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Logger     *slog.Logger
	Metrics    Metrics

	store CredentialStore
	now   func() time.Time

	mu        sync.Mutex
	observers map[int]func(CredentialRotated)
	order     []int
	nextID    int
}

// NewClient creates a client for baseURL backed by store. store may be nil
// for unauthenticated use such as health checks.
func NewClient(baseURL string, store CredentialStore) *Client {
	return &Client{
		BaseURL:    strings.TrimSuffix(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: DefaultTimeout},
		Logger:     slog.Default(),
		Metrics:    nopMetrics{},
		store:      store,
		now:        time.Now,
		observers:  make(map[int]func(CredentialRotated)),
	}
}

// NewHTTPClient assembles the outbound transport: request logging around an
// optional client-side rate limit keyed by action.
func NewHTTPClient(timeout time.Duration, limit httpx.RateLimitConfig, logger *slog.Logger) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	var rt http.RoundTripper = http.DefaultTransport
	if limit.Enabled() {
		rt = httpx.RateLimitTransport(rt, limit, httpx.HeaderKeyExtractor(ActionHeader))
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: slogx.Transport(rt, logger),
	}
}

// SetClock replaces the time source used to judge grant expiry.
func (c *Client) SetClock(now func() time.Time) {
	c.now = now
}
