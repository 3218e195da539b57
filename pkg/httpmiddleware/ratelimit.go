package httpmiddleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitConfig configures per client rate limiting.
type RateLimitConfig struct {
	// Max requests a client may make per Window. It is also the burst size.
	Max    int
	Window time.Duration
	// KeyFunc identifies the client. ClientIP is used when nil.
	KeyFunc func(*http.Request) string
}

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps one token bucket per client. Each bucket refills at
// Max/Window tokens per second up to Max.
type RateLimiter struct {
	cfg   RateLimitConfig
	every rate.Limit
	now   func() time.Time

	mu      sync.Mutex
	clients map[string]*client
}

// NewRateLimiter creates a RateLimiter. Call Run to evict idle clients.
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = ClientIP
	}
	return &RateLimiter{
		cfg:     cfg,
		every:   rate.Limit(float64(cfg.Max) / cfg.Window.Seconds()),
		now:     time.Now,
		clients: make(map[string]*client),
	}
}

// Run evicts clients idle for two windows until ctx is done.
func (rl *RateLimiter) Run(ctx context.Context) {
	ticker := time.NewTicker(rl.cfg.Window)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.evict(rl.now())
		}
	}
}

func (rl *RateLimiter) evict(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for key, c := range rl.clients {
		if now.Sub(c.lastSeen) >= 2*rl.cfg.Window {
			delete(rl.clients, key)
		}
	}
}

// take spends a token of key. When none is left it reports how long until
// the next one.
func (rl *RateLimiter) take(key string, now time.Time) (remaining int, retryAfter time.Duration, ok bool) {
	rl.mu.Lock()
	c, found := rl.clients[key]
	if !found {
		c = &client{limiter: rate.NewLimiter(rl.every, rl.cfg.Max)}
		rl.clients[key] = c
	}
	c.lastSeen = now
	rl.mu.Unlock()

	if c.limiter.AllowN(now, 1) {
		return max(int(c.limiter.TokensAt(now)), 0), 0, true
	}
	r := c.limiter.ReserveN(now, 1)
	retryAfter = r.DelayFrom(now)
	r.CancelAt(now)
	return 0, retryAfter, false
}

// Middleware rejects requests over the limit with 429 Too Many Requests.
// Every response carries X-RateLimit-Limit and X-RateLimit-Remaining;
// rejected ones also carry Retry-After.
func (rl *RateLimiter) Middleware() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			remaining, retryAfter, ok := rl.take(rl.cfg.KeyFunc(r), rl.now())

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.cfg.Max))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			if !ok {
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(retryAfter.Seconds()))))
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RateLimit returns the middleware of a new RateLimiter without eviction.
func RateLimit(cfg RateLimitConfig) Middleware {
	return NewRateLimiter(cfg).Middleware()
}

// KeyByHeader identifies clients by the value of header, falling back to
// ClientIP for requests without it.
func KeyByHeader(header string) func(*http.Request) string {
	return func(r *http.Request) string {
		if v := r.Header.Get(header); v != "" {
			return "header:" + v
		}
		return "ip:" + ClientIP(r)
	}
}

// ClientIP returns the first X-Forwarded-For address, then X-Real-IP, then
// the remote host.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
