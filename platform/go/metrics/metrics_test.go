package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestRecordRequest(t *testing.T) {
	t.Parallel()

	m := NewMetrics()
	m.RecordRequest("GET", "leads", 200, 0.012)
	m.RecordRequest("GET", "leads", 200, 0.020)
	m.RecordRequest("POST", "tasks", 422, 0.003)

	require.Equal(t, 2.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("GET", "leads", "200")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("POST", "tasks", "422")))
}

func TestMiddlewareSamplesRequests(t *testing.T) {
	t.Parallel()

	m := NewMetrics()
	handler := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/leads/"+strings.Repeat("0", 36), nil))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/leads", nil))

	// Resource ids collapse into the collection label.
	require.Equal(t, 2.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("GET", "leads", "404")))
	require.Equal(t, 1, testutil.CollectAndCount(m.RequestDuration))
}

func TestRecordDeliveryOutcomes(t *testing.T) {
	t.Parallel()

	m := NewMetrics()
	m.RecordDelivery("delivered")
	m.RecordDelivery("delivered")
	m.RecordDelivery("retry")
	m.RecordDelivery("blocked")

	require.Equal(t, 2.0, testutil.ToFloat64(m.WebhookDeliveries.WithLabelValues("delivered")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.WebhookDeliveries.WithLabelValues("retry")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.WebhookDeliveries.WithLabelValues("blocked")))
}

func TestRecordRetrySweep(t *testing.T) {
	t.Parallel()

	m := NewMetrics()
	m.RecordRetrySweep(3)
	m.RecordRetrySweep(1)

	require.Equal(t, 1.0, testutil.ToFloat64(m.PendingRetries))
	require.Equal(t, 4.0, testutil.ToFloat64(m.WebhookRetries))
}

func TestHandlerServesRegistry(t *testing.T) {
	t.Parallel()

	m := NewMetrics()
	m.RecordAuthFailure()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/internal/metrics", nil))

	require.Equal(t, 200, rec.Code)
	require.Contains(t, rec.Body.String(), "clearops_gateway_auth_failures_total 1")
}
