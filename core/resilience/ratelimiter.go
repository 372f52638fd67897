package resilience

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// RateLimiter is a token bucket refilled lazily on each Allow check.
type RateLimiter struct {
	mu         sync.Mutex
	capacity   float64
	fillRate   float64 // tokens per second
	available  float64
	lastRefill time.Time
	now        func() time.Time

	drops metric.Int64Counter
}

// NewRateLimiter creates a bucket holding capacity tokens, refilled at fillRate per second.
func NewRateLimiter(capacity int64, fillRate float64) *RateLimiter {
	drops, _ := otel.Meter("binscan").Int64Counter("binscan_ratelimiter_drops_total")
	return &RateLimiter{
		capacity:   float64(capacity),
		fillRate:   fillRate,
		available:  float64(capacity),
		lastRefill: time.Now(),
		now:        time.Now,
		drops:      drops,
	}
}

// Allow returns whether one token can be consumed now.
func (r *RateLimiter) Allow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refill()
	if r.available >= 1 {
		r.available--
		return true
	}
	r.drops.Add(context.Background(), 1)
	return false
}

// RetryAfter returns how long until the next token is available.
func (r *RateLimiter) RetryAfter() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refill()
	if r.available >= 1 || r.fillRate <= 0 {
		return 0
	}
	return time.Duration((1 - r.available) / r.fillRate * float64(time.Second))
}

func (r *RateLimiter) refill() {
	now := r.now()
	elapsed := now.Sub(r.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	r.available += elapsed * r.fillRate
	if r.available > r.capacity {
		r.available = r.capacity
	}
	r.lastRefill = now
}

// Middleware rejects requests with 429 once the bucket is empty.
func (r *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if !r.Allow() {
			secs := int(r.RetryAfter().Seconds()) + 1
			w.Header().Set("Retry-After", strconv.Itoa(secs))
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, req)
	})
}
