package middleware

import (
	"net/http"
	"strconv"

	"github.com/Notifuse/insights/pkg/ratelimiter"
)

// AnalyticsRateNamespace is the limiter namespace of analytics queries
const AnalyticsRateNamespace = "analytics"

// RateLimit limits requests per tenant. It must run after RequireAuth.
func RateLimit(limiter *ratelimiter.RateLimiter, namespace string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tenantID, ok := TenantFromContext(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, ErrMissingTenant.Error())
				return
			}

			if !limiter.Allow(namespace, tenantID) {
				w.Header().Set("Retry-After", strconv.Itoa(limiter.RetryAfter(namespace, tenantID)))
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
