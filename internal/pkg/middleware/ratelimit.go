package middleware

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	apperrors "github.com/recoeval/reco-eval/internal/pkg/errors"
)

// RateLimiter provides per-client rate limiting.
type RateLimiter struct {
	mu       sync.Mutex
	clients  map[string]*client
	rate     rate.Limit
	burst    int
	idleTTL  time.Duration
	exempt   map[string]bool
	stop     chan struct{}
	stopOnce sync.Once
	now      func() time.Time
}

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiterConfig configures the rate limiter.
type RateLimiterConfig struct {
	// RequestsPerSecond is the rate limit per client.
	RequestsPerSecond float64
	// Burst is the maximum burst size.
	Burst int
	// CleanupInterval is how often to clean up stale clients.
	CleanupInterval time.Duration
	// IdleTTL is how long a client may stay silent before its bucket is dropped.
	IdleTTL time.Duration
	// ExemptPaths are never limited (health and metrics scrapes).
	ExemptPaths []string
}

// DefaultRateLimiterConfig returns sensible defaults.
func DefaultRateLimiterConfig() RateLimiterConfig {
	return ConfigForRate(20)
}

// ConfigForRate returns defaults for rps requests per second per client,
// with a burst of twice the rate.
func ConfigForRate(rps int) RateLimiterConfig {
	return RateLimiterConfig{
		RequestsPerSecond: float64(rps),
		Burst:             max(2*rps, 1),
		CleanupInterval:   time.Minute,
		IdleTTL:           5 * time.Minute,
		ExemptPaths:       []string{"/healthz", "/metrics"},
	}
}

// NewRateLimiter creates a rate limiter and starts its cleanup loop.
// Call Stop to end the loop.
func NewRateLimiter(cfg RateLimiterConfig) *RateLimiter {
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = time.Minute
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 5 * time.Minute
	}

	rl := &RateLimiter{
		clients: make(map[string]*client),
		rate:    rate.Limit(cfg.RequestsPerSecond),
		burst:   cfg.Burst,
		idleTTL: cfg.IdleTTL,
		exempt:  make(map[string]bool, len(cfg.ExemptPaths)),
		stop:    make(chan struct{}),
		now:     time.Now,
	}
	for _, p := range cfg.ExemptPaths {
		rl.exempt[p] = true
	}

	go rl.cleanupLoop(cfg.CleanupInterval)

	return rl
}

// Stop ends the cleanup loop. It is safe to call more than once.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

// getLimiter returns the rate limiter for a client, creating one if needed.
func (rl *RateLimiter) getLimiter(clientIP string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	c, ok := rl.clients[clientIP]
	if !ok {
		c = &client{limiter: rate.NewLimiter(rl.rate, rl.burst)}
		rl.clients[clientIP] = c
	}
	c.lastSeen = rl.now()
	return c.limiter
}

func (rl *RateLimiter) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stop:
			return
		case <-ticker.C:
			rl.evictIdle()
		}
	}
}

// evictIdle drops clients not seen within idleTTL.
func (rl *RateLimiter) evictIdle() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	threshold := rl.now().Add(-rl.idleTTL)
	n := 0
	for ip, c := range rl.clients {
		if c.lastSeen.Before(threshold) {
			delete(rl.clients, ip)
			n++
		}
	}
	return n
}

// Allow checks if a request from the given IP should be allowed.
func (rl *RateLimiter) Allow(clientIP string) bool {
	return rl.getLimiter(clientIP).Allow()
}

// Clients returns the number of tracked clients.
func (rl *RateLimiter) Clients() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}

// retryAfter is the whole number of seconds until one token refills.
func (rl *RateLimiter) retryAfter() int {
	if rl.rate <= 0 {
		return 1
	}
	return max(int(1/float64(rl.rate)+0.999), 1)
}

// Middleware returns an HTTP middleware that applies rate limiting.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rl.exempt[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		if !rl.Allow(getClientIP(r)) {
			retry := rl.retryAfter()
			w.Header().Set("Retry-After", strconv.Itoa(retry))
			apperrors.WriteErrorWithStatus(w, http.StatusTooManyRequests,
				apperrors.RateLimitedError(retry))
			return
		}

		next.ServeHTTP(w, r)
	})
}

// getClientIP extracts the client IP from the request.
func getClientIP(r *http.Request) string {
	// X-Forwarded-For first (for proxies); the first hop is the client.
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
