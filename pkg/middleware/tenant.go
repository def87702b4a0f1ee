// Package middleware integrates the enforcement engine into net/http
// hosts: tenant extraction from request headers, decision enforcement
// with a configurable failure posture, and admin-surface rate limiting.
package middleware

import (
	"context"
	"net/http"

	"github.com/nomoslabs/nomos/pkg/domain"
)

// Tenant headers, checked in order.
const (
	HeaderTenantID = "X-Tenant-ID"
	HeaderUserID   = "X-User-ID"
)

type contextKey int

const tenantKey contextKey = iota

// TenantFromHeader extracts the tenant from X-Tenant-ID, falling back
// to X-User-ID and then the configured default, and stores it on the
// request context. An empty default leaves requests without headers in
// the global scope.
func TenantFromHeader(defaultTenant domain.TenantID) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tenant := domain.TenantID(r.Header.Get(HeaderTenantID))
			if tenant == "" {
				tenant = domain.TenantID(r.Header.Get(HeaderUserID))
			}
			if tenant == "" {
				tenant = defaultTenant
			}
			ctx := WithTenant(r.Context(), tenant.Normalize())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// WithTenant returns a context carrying the tenant.
func WithTenant(ctx context.Context, tenant domain.TenantID) context.Context {
	return context.WithValue(ctx, tenantKey, tenant)
}

// TenantFromContext returns the tenant stored by TenantFromHeader.
func TenantFromContext(ctx context.Context) (domain.TenantID, bool) {
	tenant, ok := ctx.Value(tenantKey).(domain.TenantID)
	return tenant, ok
}
