package middleware

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/nomoslabs/nomos/internal/governance"
)

// RateLimit applies the tenant limiter to the wrapped handler. Requests
// over budget get a 429 with rate limit headers; allowed requests carry
// the remaining budget.
func RateLimit(limiter *governance.TenantLimiter, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tenant, _ := TenantFromContext(r.Context())

			ok, remaining := limiter.Allow(string(tenant))
			limit := limiter.Limit(string(tenant))
			reset := time.Now().Add(time.Second)

			governance.WriteRateLimitHeaders(w, limit.RequestsPerSecond, remaining, reset)

			if !ok {
				logger.Warn("rate limit exceeded", "tenant", string(tenant))
				w.Header().Set("Retry-After", strconv.Itoa(1))
				writeJSON(w, http.StatusTooManyRequests, DenyResponse{
					Code:    "RATE_LIMITED",
					Message: "rate limit exceeded",
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
