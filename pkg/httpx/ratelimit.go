package httpx

import (
	"fmt"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/aussiebroadwan/casedesk/pkg/slogx"
	"golang.org/x/time/rate"
)

// RateLimitConfig defines the rate limiting parameters.
type RateLimitConfig struct {
	// RequestsPerWindow is the number of requests allowed in the time window
	RequestsPerWindow int
	// Window is the time window for rate limiting
	Window time.Duration
	// Burst allows for temporary bursts above the rate limit
	Burst int
}

// Enabled reports whether the config describes an actual limit.
func (c RateLimitConfig) Enabled() bool {
	return c.RequestsPerWindow > 0 && c.Window > 0
}

// DefaultGatewayLimit keeps a single client from hammering the backend. The
// backend quota is per user and shared by every open context.
// Override with: RATELIMIT_GATEWAY_REQUESTS, RATELIMIT_GATEWAY_WINDOW_SEC, RATELIMIT_GATEWAY_BURST
var DefaultGatewayLimit = RateLimitConfig{
	RequestsPerWindow: 120,
	Window:            time.Minute,
	Burst:             20,
}

// ParseRateLimitFromEnv reads rate limit configuration from environment variables.
// Environment variables follow the pattern: RATELIMIT_{prefix}_{field}
// For example: RATELIMIT_GATEWAY_REQUESTS, RATELIMIT_GATEWAY_WINDOW_SEC, RATELIMIT_GATEWAY_BURST
func ParseRateLimitFromEnv(prefix string, defaultConfig RateLimitConfig) RateLimitConfig {
	config := defaultConfig

	if val := os.Getenv("RATELIMIT_" + prefix + "_REQUESTS"); val != "" {
		if requests, err := strconv.Atoi(val); err == nil && requests >= 0 {
			config.RequestsPerWindow = requests
		}
	}

	if val := os.Getenv("RATELIMIT_" + prefix + "_WINDOW_SEC"); val != "" {
		if windowSec, err := strconv.Atoi(val); err == nil && windowSec > 0 {
			config.Window = time.Duration(windowSec) * time.Second
		}
	}

	if val := os.Getenv("RATELIMIT_" + prefix + "_BURST"); val != "" {
		if burst, err := strconv.Atoi(val); err == nil && burst > 0 {
			config.Burst = burst
		}
	}

	return config
}

// KeyExtractor extracts the bucket key for an outbound request.
type KeyExtractor func(*http.Request) string

// HostKeyExtractor buckets requests by target host. Server-side requests
// carry the host in r.Host only.
func HostKeyExtractor(r *http.Request) string {
	if r.URL.Host != "" {
		return r.URL.Host
	}
	return r.Host
}

// HeaderKeyExtractor buckets requests by the value of a request header.
func HeaderKeyExtractor(name string) KeyExtractor {
	return func(r *http.Request) string {
		return r.Header.Get(name)
	}
}

// rateLimiter manages rate limiters for different keys
type rateLimiter struct {
	limiters    sync.Map // map[string]*rate.Limiter
	rate        rate.Limit
	burst       int
	mu          sync.Mutex
	lastCleanup time.Time
}

// getLimiter retrieves or creates a rate limiter for the given key
func (rl *rateLimiter) getLimiter(key string) *rate.Limiter {
	if limiter, ok := rl.limiters.Load(key); ok {
		return limiter.(*rate.Limiter)
	}

	limiter := rate.NewLimiter(rl.rate, rl.burst)
	actual, _ := rl.limiters.LoadOrStore(key, limiter)

	rl.maybeCleanup()

	return actual.(*rate.Limiter)
}

// maybeCleanup removes limiters whose buckets are full again, they have
// been idle long enough that dropping them loses nothing.
func (rl *rateLimiter) maybeCleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if time.Since(rl.lastCleanup) < 5*time.Minute {
		return
	}
	rl.lastCleanup = time.Now()

	rl.limiters.Range(func(key, value any) bool {
		limiter := value.(*rate.Limiter)
		if limiter.Tokens() >= float64(rl.burst) {
			rl.limiters.Delete(key)
		}
		return true
	})
}

// RateLimitTransport wraps base so outbound requests wait for a token from
// the bucket chosen by keyExtractor. Waiting honours the request context; a
// cancelled context fails the request without sending it. This is pacing,
// not retrying: every request is still attempted exactly once.
func RateLimitTransport(base http.RoundTripper, config RateLimitConfig, keyExtractor KeyExtractor) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	if !config.Enabled() {
		return base
	}
	if keyExtractor == nil {
		keyExtractor = HostKeyExtractor
	}

	burst := max(config.Burst, 1)
	return &limitTransport{
		base: base,
		key:  keyExtractor,
		rl: &rateLimiter{
			rate:        rate.Limit(float64(config.RequestsPerWindow) / config.Window.Seconds()),
			burst:       burst,
			lastCleanup: time.Now(),
		},
	}
}

type limitTransport struct {
	base http.RoundTripper
	key  KeyExtractor
	rl   *rateLimiter
}

func (t *limitTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	key := t.key(r)
	if key == "" {
		slogx.FromContext(r.Context()).Warn("rate limit: unable to extract key, sending unthrottled")
		return t.base.RoundTrip(r)
	}

	if err := t.rl.getLimiter(key).Wait(r.Context()); err != nil {
		return nil, fmt.Errorf("rate limit wait for %q: %w", key, err)
	}
	return t.base.RoundTrip(r)
}
