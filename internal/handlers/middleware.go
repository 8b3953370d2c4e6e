package handlers

import (
	"net"
	"net/http"
	"sync"
	"time"

	cache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog/log"
)

// RequestLogger logs one line per request.
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("remote", r.RemoteAddr).
			Dur("duration", time.Since(start)).
			Msg("Request handled")
	})
}

// Recoverer turns panics into 500s instead of killing the process.
func Recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				log.Error().Interface("panic", rec).Str("path", r.URL.Path).Msg("Panic in handler")
				http.Error(w, "internal server error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// RateLimiter is an in-process fixed-window counter per remote IP.
type RateLimiter struct {
	limit   int
	window  time.Duration
	mu      sync.Mutex
	buckets *cache.Cache
}

type windowCounter struct {
	count   int
	resetAt time.Time
}

// NewRateLimiter allows limit requests per window per remote IP.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		limit:   limit,
		window:  window,
		buckets: cache.New(window, 2*window),
	}
}

// take increments the caller's window counter and reports whether the
// request is within the limit. Counters live behind rl.mu so concurrent
// requests from one IP do not race on the increment.
func (rl *RateLimiter) take(ip string) (int, bool) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	var counter *windowCounter
	if v, found := rl.buckets.Get(ip); found {
		counter = v.(*windowCounter)
	}
	if counter == nil || now.After(counter.resetAt) {
		counter = &windowCounter{resetAt: now.Add(rl.window)}
		rl.buckets.Set(ip, counter, rl.window)
	}
	counter.count++
	return counter.count, counter.count <= rl.limit
}

// Middleware rejects over-limit callers with 429.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			ip = r.RemoteAddr
		}
		if count, ok := rl.take(ip); !ok {
			log.Warn().Str("ip", ip).Int("count", count).Msg("Rate limit exceeded")
			http.Error(w, "too many requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}
