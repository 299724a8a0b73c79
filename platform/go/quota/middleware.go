package quota

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/clearops/clearops-gateway/platform/go/apikey"
	"github.com/clearops/clearops-gateway/platform/go/httpapi"
	"github.com/clearops/clearops-gateway/platform/go/logging"
)

// RateLimited is invoked whenever a request is rejected for being over
// budget, so callers can feed counters without the enforcer knowing
// about metrics.
type RateLimited func(tenantID string)

// Middleware rejects requests once the authenticated credential has
// exhausted its per-minute budget. It must run after the API key
// middleware; requests without an auth context pass through untouched.
func Middleware(enforcer *Enforcer, onLimited RateLimited, fallback *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth, ok := apikey.FromContext(r.Context())
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			decision, err := enforcer.Check(r.Context(), auth.CredentialID, auth.RateLimitPerMinute)
			if err != nil {
				logging.FromRequest(r, fallback).Error("quota check failed", zap.Error(err))
				httpapi.WriteError(w, http.StatusInternalServerError, "internal server error", nil)
				return
			}

			if !decision.Allowed {
				logging.FromRequest(r, fallback).Info("request over quota",
					zap.String("credential_id", auth.CredentialID.String()),
					zap.Int("limit", decision.Limit),
					zap.Int("used", decision.Used))
				if onLimited != nil {
					onLimited(auth.TenantID.String())
				}
				httpapi.WriteError(w, http.StatusTooManyRequests, "rate limit exceeded", map[string]any{
					"retry_after_seconds": int(decision.RetryAfter.Seconds()),
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
