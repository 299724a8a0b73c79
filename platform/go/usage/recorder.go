// Package usage records one audit row per authenticated request. Writes
// happen after the response is sent and never influence its outcome.
package usage

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/clearops/clearops-gateway/platform/go/apikey"
	"github.com/clearops/clearops-gateway/platform/go/logging"
	"github.com/clearops/clearops-gateway/platform/go/persistence"
)

const writeTimeout = 5 * time.Second

// UsageWriter appends one audit record.
type UsageWriter interface {
	InsertUsage(ctx context.Context, params persistence.InsertUsageParams) error
}

// Recorder observes responses and appends usage records out of band.
type Recorder struct {
	writer   UsageWriter
	fallback *zap.Logger

	// recorded, when set, is signalled after each background write.
	// Tests use it to wait for the async insert.
	recorded chan struct{}
}

func NewRecorder(writer UsageWriter, fallback *zap.Logger) *Recorder {
	return &Recorder{writer: writer, fallback: fallback}
}

// Middleware wraps the response writer to capture the final status code,
// then hands the record to a goroutine with its own deadline. A failed
// insert is logged and dropped; the caller already has their response.
func (rec *Recorder) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth, ok := apikey.FromContext(r.Context())
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		params := persistence.InsertUsageParams{
			CredentialID: auth.CredentialID,
			TenantID:     auth.TenantID,
			Endpoint:     r.URL.Path,
			Method:       r.Method,
			StatusCode:   ww.Status(),
			LatencyMs:    time.Since(start).Milliseconds(),
			CallerIP:     callerIP(r),
			UserAgent:    r.UserAgent(),
		}
		logger := logging.FromRequest(r, rec.fallback)

		go rec.write(params, logger)
	})
}

func (rec *Recorder) write(params persistence.InsertUsageParams, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if err := rec.writer.InsertUsage(ctx, params); err != nil {
		logger.Error("usage record dropped", zap.Error(err))
	}
	if rec.recorded != nil {
		rec.recorded <- struct{}{}
	}
}

func callerIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return forwarded
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
