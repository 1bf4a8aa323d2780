package middleware

import (
	"crypto/x509"
	"fmt"
	"math"
	"net"
	"sync"
	"time"

	"github.com/alanbato/nauyaca/internal/geministatus"
	"github.com/alanbato/nauyaca/internal/geminiurl"
)

// DefaultIdleTTL is the default interval after which an idle bucket is
// evicted, per spec.md §3/§9.
const DefaultIdleTTL = 5 * time.Minute

// EvictionThreshold triggers an opportunistic sweep inside Process
// when the bucket map grows past this size, per spec.md §9's
// alternative to a dedicated background task.
const EvictionThreshold = 4096

type bucket struct {
	tokens     float64
	lastRefill time.Time
}

// RateLimiter implements spec.md §4.6's per-IP token bucket. Bucket
// state is guarded by a single mutex; the map itself is small enough
// (one entry per distinct client IP) that a per-key lock would add
// complexity without a measurable benefit at Gemini's request rates.
type RateLimiter struct {
	Capacity   int
	RefillRate float64
	RetryAfter int
	IdleTTL    time.Duration
	nowFunc    func() time.Time // overridable for tests
	mu         sync.Mutex
	buckets    map[string]*bucket
}

// NewRateLimiter constructs a RateLimiter ready for use.
func NewRateLimiter(capacity int, refillRate float64, retryAfter int) *RateLimiter {
	return &RateLimiter{
		Capacity:   capacity,
		RefillRate: refillRate,
		RetryAfter: retryAfter,
		IdleTTL:    DefaultIdleTTL,
		nowFunc:    time.Now,
		buckets:    make(map[string]*bucket),
	}
}

var _ Middleware = (*RateLimiter)(nil)

// Process implements Middleware.
func (r *RateLimiter) Process(_ *geminiurl.ParsedURL, ip net.IP, _ *x509.Certificate) (bool, *geministatus.Response) {
	now := r.now()
	key := ip.String()

	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.buckets) > EvictionThreshold {
		r.evictLocked(now)
	}

	b, ok := r.buckets[key]
	if !ok {
		b = &bucket{tokens: float64(r.Capacity), lastRefill: now}
		r.buckets[key] = b
	} else {
		elapsed := now.Sub(b.lastRefill).Seconds()
		b.tokens = math.Min(float64(r.Capacity), b.tokens+elapsed*r.RefillRate)
		b.lastRefill = now
	}

	if b.tokens >= 1 {
		b.tokens--
		return true, nil
	}

	return false, &geministatus.Response{
		Status: geministatus.SlowDown,
		Meta:   fmt.Sprintf("%d", r.RetryAfter),
	}
}

func (r *RateLimiter) now() time.Time {
	if r.nowFunc != nil {
		return r.nowFunc()
	}
	return time.Now()
}

func (r *RateLimiter) evictLocked(now time.Time) {
	ttl := r.IdleTTL
	if ttl <= 0 {
		ttl = DefaultIdleTTL
	}
	for k, b := range r.buckets {
		if now.Sub(b.lastRefill) > ttl {
			delete(r.buckets, k)
		}
	}
}

// EvictIdle removes every bucket whose last activity is older than
// IdleTTL. internal/server.Server.Serve calls this from a periodic
// goroutine via middleware.Chain.EvictIdle; Process also runs the same
// sweep opportunistically once the map grows large, so a burst of distinct
// IPs doesn't have to wait for the next tick.
func (r *RateLimiter) EvictIdle() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evictLocked(r.now())
}

// Len reports the number of tracked buckets, used by tests and
// diagnostics.
func (r *RateLimiter) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buckets)
}

// SetNowFuncForTest overrides the clock used for refill calculations.
// It exists only to make bucket refill deterministic in tests.
func (r *RateLimiter) SetNowFuncForTest(f func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nowFunc = f
}
