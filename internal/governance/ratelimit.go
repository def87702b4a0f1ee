package governance

import (
	"net/http"
	"strconv"
	"sync"
	"time"
)

// LimitConfig defines a token-bucket budget.
type LimitConfig struct {
	RequestsPerSecond int
	BurstSize         int
}

// TenantLimiter implements per-tenant token bucket rate limiting. A
// default budget covers every tenant; overrides grant specific tenants
// their own buckets.
type TenantLimiter struct {
	mu        sync.RWMutex
	def       LimitConfig
	overrides map[string]LimitConfig
	buckets   map[string]*tokenBucket
	clock     func() time.Time
}

// LimiterOption configures a TenantLimiter.
type LimiterOption func(*TenantLimiter)

// WithClock injects the time source, for deterministic tests.
func WithClock(clock func() time.Time) LimiterOption {
	return func(l *TenantLimiter) {
		l.clock = clock
	}
}

// NewTenantLimiter creates a limiter with the given default budget.
func NewTenantLimiter(def LimitConfig, opts ...LimiterOption) *TenantLimiter {
	l := &TenantLimiter{
		def:       normalizeLimit(def),
		overrides: make(map[string]LimitConfig),
		buckets:   make(map[string]*tokenBucket),
		clock:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Configure replaces the default budget and the per-tenant overrides.
// Existing buckets keep their fill level but adopt the new rates, so a
// reload never hands out a burst of fresh tokens.
func (l *TenantLimiter) Configure(def LimitConfig, overrides map[string]LimitConfig) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.def = normalizeLimit(def)
	l.overrides = make(map[string]LimitConfig, len(overrides))
	for tenant, cfg := range overrides {
		l.overrides[tenant] = normalizeLimit(cfg)
	}

	for tenant, bucket := range l.buckets {
		cfg := l.limitForLocked(tenant)
		bucket.configure(cfg.RequestsPerSecond, cfg.BurstSize)
	}
}

// Allow consumes one token from the tenant's bucket. It reports whether
// the request fits the budget and how many whole tokens remain.
func (l *TenantLimiter) Allow(tenant string) (bool, int) {
	l.mu.RLock()
	bucket := l.buckets[tenant]
	l.mu.RUnlock()

	if bucket == nil {
		l.mu.Lock()
		bucket = l.buckets[tenant]
		if bucket == nil {
			cfg := l.limitForLocked(tenant)
			bucket = newTokenBucket(cfg.RequestsPerSecond, cfg.BurstSize, l.clock)
			l.buckets[tenant] = bucket
		}
		l.mu.Unlock()
	}

	return bucket.take()
}

// Limit returns the budget that applies to the tenant.
func (l *TenantLimiter) Limit(tenant string) LimitConfig {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.limitForLocked(tenant)
}

// Stats returns the current state of every active bucket, keyed by tenant.
func (l *TenantLimiter) Stats() map[string]LimitStats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	stats := make(map[string]LimitStats, len(l.buckets))
	for tenant, bucket := range l.buckets {
		stats[tenant] = bucket.stats()
	}
	return stats
}

func (l *TenantLimiter) limitForLocked(tenant string) LimitConfig {
	if cfg, ok := l.overrides[tenant]; ok {
		return cfg
	}
	return l.def
}

// LimitStats exposes the current state of one bucket.
type LimitStats struct {
	Limit     int     `json:"limit"`
	BurstSize int     `json:"burstSize"`
	Available float64 `json:"available"`
}

func normalizeLimit(cfg LimitConfig) LimitConfig {
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 100
	}
	if cfg.BurstSize <= 0 {
		cfg.BurstSize = cfg.RequestsPerSecond
	}
	return cfg
}

// tokenBucket implements the token bucket algorithm.
type tokenBucket struct {
	mu         sync.Mutex
	rate       float64
	capacity   float64
	tokens     float64
	lastRefill time.Time
	clock      func() time.Time
}

func newTokenBucket(rps, burst int, clock func() time.Time) *tokenBucket {
	return &tokenBucket{
		rate:       float64(rps),
		capacity:   float64(burst),
		tokens:     float64(burst),
		lastRefill: clock(),
		clock:      clock,
	}
}

func (tb *tokenBucket) configure(rps, burst int) {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	oldCapacity := tb.capacity
	tb.rate = float64(rps)
	tb.capacity = float64(burst)

	if tb.capacity > oldCapacity {
		tb.tokens += tb.capacity - oldCapacity
	}
	if tb.tokens > tb.capacity {
		tb.tokens = tb.capacity
	}
}

// take consumes one token, reporting success and the whole tokens left.
func (tb *tokenBucket) take() (bool, int) {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill()

	if tb.tokens >= 1.0 {
		tb.tokens -= 1.0
		return true, int(tb.tokens)
	}
	return false, 0
}

func (tb *tokenBucket) refill() {
	now := tb.clock()
	elapsed := now.Sub(tb.lastRefill).Seconds()

	tb.tokens += elapsed * tb.rate
	if tb.tokens > tb.capacity {
		tb.tokens = tb.capacity
	}
	tb.lastRefill = now
}

func (tb *tokenBucket) stats() LimitStats {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill()
	return LimitStats{
		Limit:     int(tb.rate),
		BurstSize: int(tb.capacity),
		Available: tb.tokens,
	}
}

// WriteRateLimitHeaders adds rate limit status headers to the response.
func WriteRateLimitHeaders(w http.ResponseWriter, limit, remaining int, resetTime time.Time) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetTime.Unix(), 10))
}
