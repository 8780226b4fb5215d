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
)

// RateLimitConfig configures the sliding window rate limiter.
type RateLimitConfig struct {
	// Max is the number of requests allowed per window.
	Max    int
	Window time.Duration
	// KeyFunc extracts the client key. Defaults to ClientIP.
	KeyFunc func(*http.Request) string
	// Skip exempts requests, such as health probes, from the limit.
	Skip func(*http.Request) bool
}

// window counts requests in the current and previous fixed windows; the
// sliding estimate weights the previous count by its remaining overlap.
type window struct {
	prevCount float64
	currCount float64
	currStart time.Time
}

type rateLimiter struct {
	cfg     RateLimitConfig
	mu      sync.Mutex
	windows map[string]*window
}

func newRateLimiter(cfg RateLimitConfig) *rateLimiter {
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = ClientIP
	}
	return &rateLimiter{cfg: cfg, windows: make(map[string]*window)}
}

// allow reports whether a request for key fits the limit, with the remaining
// budget and the end of the current window.
func (rl *rateLimiter) allow(key string, now time.Time) (remaining int, resetAt time.Time, ok bool) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	size := rl.cfg.Window
	w, found := rl.windows[key]
	if !found {
		w = &window{currStart: now.Truncate(size)}
		rl.windows[key] = w
	}
	if elapsed := now.Sub(w.currStart); elapsed >= size {
		w.prevCount = w.currCount
		if elapsed >= 2*size {
			w.prevCount = 0
		}
		w.currCount = 0
		w.currStart = now.Truncate(size)
	}

	overlap := max(0, 1-now.Sub(w.currStart).Seconds()/size.Seconds())
	estimate := w.prevCount*overlap + w.currCount
	resetAt = w.currStart.Add(size)
	if estimate >= float64(rl.cfg.Max) {
		return 0, resetAt, false
	}
	w.currCount++
	return max(0, int(float64(rl.cfg.Max)-estimate-1)), resetAt, true
}

// evict drops keys idle for two windows.
func (rl *rateLimiter) evict(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for key, w := range rl.windows {
		if now.Sub(w.currStart) >= 2*rl.cfg.Window {
			delete(rl.windows, key)
		}
	}
}

// RateLimit enforces a per-key sliding window limit. Rejected requests get
// 429 with a Retry-After header; every counted response carries the
// X-RateLimit-* headers.
func RateLimit(cfg RateLimitConfig) Middleware {
	return newRateLimiter(cfg).middleware()
}

// RateLimitWithCleanup is RateLimit plus a goroutine evicting idle keys until
// ctx is cancelled.
func RateLimitWithCleanup(ctx context.Context, cfg RateLimitConfig) Middleware {
	rl := newRateLimiter(cfg)
	go func() {
		ticker := time.NewTicker(2 * rl.cfg.Window)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				rl.evict(now)
			}
		}
	}()
	return rl.middleware()
}

func (rl *rateLimiter) middleware() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if rl.cfg.Skip != nil && rl.cfg.Skip(r) {
				next.ServeHTTP(w, r)
				return
			}

			remaining, resetAt, ok := rl.allow(rl.cfg.KeyFunc(r), time.Now())
			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(rl.cfg.Max))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))
			if !ok {
				retry := max(0, time.Until(resetAt))
				h.Set("Retry-After", strconv.Itoa(int(math.Ceil(retry.Seconds()))))
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP returns the first X-Forwarded-For hop, then X-Real-IP, then the
// remote address host.
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
