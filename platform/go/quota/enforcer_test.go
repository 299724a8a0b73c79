package quota

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/clearops/clearops-gateway/platform/go/apikey"
)

type mockCounter struct {
	countFn func(ctx context.Context, credentialID uuid.UUID, since time.Time) (int, error)
}

func (m *mockCounter) CountSince(ctx context.Context, credentialID uuid.UUID, since time.Time) (int, error) {
	return m.countFn(ctx, credentialID, since)
}

func TestCheckUnderLimit(t *testing.T) {
	t.Parallel()

	enforcer := NewEnforcer(&mockCounter{
		countFn: func(context.Context, uuid.UUID, time.Time) (int, error) { return 59, nil },
	})

	decision, err := enforcer.Check(context.Background(), uuid.New(), 60)
	require.NoError(t, err)
	require.True(t, decision.Allowed)
	require.Equal(t, 59, decision.Used)
}

func TestCheckAtLimit(t *testing.T) {
	t.Parallel()

	enforcer := NewEnforcer(&mockCounter{
		countFn: func(context.Context, uuid.UUID, time.Time) (int, error) { return 60, nil },
	})

	decision, err := enforcer.Check(context.Background(), uuid.New(), 60)
	require.NoError(t, err)
	require.False(t, decision.Allowed)
	require.Equal(t, Window, decision.RetryAfter)
}

func TestCheckWindowIsTrailingMinute(t *testing.T) {
	t.Parallel()

	fixed := time.Date(2026, time.March, 4, 12, 0, 0, 0, time.UTC)
	var gotSince time.Time
	enforcer := NewEnforcer(&mockCounter{
		countFn: func(_ context.Context, _ uuid.UUID, since time.Time) (int, error) {
			gotSince = since
			return 0, nil
		},
	})
	enforcer.now = func() time.Time { return fixed }

	_, err := enforcer.Check(context.Background(), uuid.New(), 60)
	require.NoError(t, err)
	require.Equal(t, fixed.Add(-time.Minute), gotSince)
}

func TestCheckZeroLimitDisablesEnforcement(t *testing.T) {
	t.Parallel()

	enforcer := NewEnforcer(&mockCounter{
		countFn: func(context.Context, uuid.UUID, time.Time) (int, error) {
			t.Fatal("counter must not run when the limit is disabled")
			return 0, nil
		},
	})

	decision, err := enforcer.Check(context.Background(), uuid.New(), 0)
	require.NoError(t, err)
	require.True(t, decision.Allowed)
}

func TestMiddlewareRejectsOverBudget(t *testing.T) {
	t.Parallel()

	enforcer := NewEnforcer(&mockCounter{
		countFn: func(context.Context, uuid.UUID, time.Time) (int, error) { return 30, nil },
	})

	var limitedTenant string
	handler := Middleware(enforcer, func(tenantID string) { limitedTenant = tenantID }, zaptest.NewLogger(t))(
		http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
			t.Fatal("handler must not run")
		}))

	auth := apikey.AuthContext{
		TenantID:           uuid.New(),
		CredentialID:       uuid.New(),
		RateLimitPerMinute: 30,
	}
	req := httptest.NewRequest(http.MethodGet, "/leads", nil)
	req = req.WithContext(apikey.WithAuthContext(req.Context(), auth))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.JSONEq(t, `{"error":"rate limit exceeded","retry_after_seconds":60}`, rec.Body.String())
	require.Equal(t, auth.TenantID.String(), limitedTenant)
}

func TestMiddlewarePassesUnderBudget(t *testing.T) {
	t.Parallel()

	enforcer := NewEnforcer(&mockCounter{
		countFn: func(context.Context, uuid.UUID, time.Time) (int, error) { return 0, nil },
	})

	handler := Middleware(enforcer, nil, zaptest.NewLogger(t))(
		http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		}))

	auth := apikey.AuthContext{TenantID: uuid.New(), CredentialID: uuid.New(), RateLimitPerMinute: 30}
	req := httptest.NewRequest(http.MethodGet, "/leads", nil)
	req = req.WithContext(apikey.WithAuthContext(req.Context(), auth))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
}

func TestMiddlewareCounterFailure(t *testing.T) {
	t.Parallel()

	enforcer := NewEnforcer(&mockCounter{
		countFn: func(context.Context, uuid.UUID, time.Time) (int, error) {
			return 0, errors.New("connection refused")
		},
	})

	handler := Middleware(enforcer, nil, zaptest.NewLogger(t))(
		http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
			t.Fatal("handler must not run")
		}))

	auth := apikey.AuthContext{TenantID: uuid.New(), CredentialID: uuid.New(), RateLimitPerMinute: 30}
	req := httptest.NewRequest(http.MethodGet, "/leads", nil)
	req = req.WithContext(apikey.WithAuthContext(req.Context(), auth))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
}
