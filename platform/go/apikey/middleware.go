package apikey

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/clearops/clearops-gateway/platform/go/httpapi"
	"github.com/clearops/clearops-gateway/platform/go/logging"
)

// Header carries the credential. Deliberately not Authorization: the wider
// product uses that header for end-user session auth.
const Header = "X-API-Key"

// Rejected is invoked for every request turned away with a 401, so
// callers can feed counters.
type Rejected func()

// Middleware authenticates every request with the X-API-Key header and
// stores the resolved AuthContext on the request context. All rejection
// paths produce the same generic 401.
func Middleware(authenticator *Authenticator, onRejected Rejected, fallback *zap.Logger) func(http.Handler) http.Handler {
	reject := func(w http.ResponseWriter) {
		if onRejected != nil {
			onRejected()
		}
		httpapi.WriteError(w, http.StatusUnauthorized, "invalid api key", nil)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rawKey := r.Header.Get(Header)
			if rawKey == "" {
				reject(w)
				return
			}

			auth, err := authenticator.Authenticate(r.Context(), rawKey)
			if err != nil {
				logger := logging.FromRequest(r, fallback)
				if errors.Is(err, ErrUnauthorized) {
					logger.Info("api key rejected")
					reject(w)
					return
				}
				logger.Error("credential lookup failed", zap.Error(err))
				httpapi.WriteError(w, http.StatusInternalServerError, "internal server error", nil)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithAuthContext(r.Context(), auth)))
		})
	}
}
