package metric

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilRegistry_ObservesAreNoOps(t *testing.T) {
	var r *Registry

	// None of these may panic.
	r.ObserveRequest("getUser", "standard", 200, time.Millisecond)
	r.ObserveValidationFailure("getUser", "query")
	r.StreamOpened("sse")
	r.StreamClosed("sse")
	r.ObserveChunk("generate", "streaming")
	r.SocketOpened()
	r.SocketClosed()
	r.ObserveSocketMessage("chat", "message", "inbound")
	r.ObservePublish("room-1")
}

func TestObserveRequest_BucketsStatus(t *testing.T) {
	r := NewRegistry()

	r.ObserveRequest("getUser", "standard", 200, time.Millisecond)
	r.ObserveRequest("getUser", "standard", 201, time.Millisecond)
	r.ObserveRequest("getUser", "standard", 404, time.Millisecond)
	r.ObserveRequest("getUser", "standard", 500, time.Millisecond)

	assert.Equal(t, float64(2),
		testutil.ToFloat64(r.RequestsTotal.WithLabelValues("getUser", "standard", "2xx")))
	assert.Equal(t, float64(1),
		testutil.ToFloat64(r.RequestsTotal.WithLabelValues("getUser", "standard", "4xx")))
	assert.Equal(t, float64(1),
		testutil.ToFloat64(r.RequestsTotal.WithLabelValues("getUser", "standard", "5xx")))
}

func TestStreamGauge_TracksOpenStreams(t *testing.T) {
	r := NewRegistry()

	r.StreamOpened("streaming")
	r.StreamOpened("streaming")
	r.StreamClosed("streaming")

	assert.Equal(t, float64(1), testutil.ToFloat64(r.ActiveStreams.WithLabelValues("streaming")))
}

func TestSocketGaugeAndCounters(t *testing.T) {
	r := NewRegistry()

	r.SocketOpened()
	r.ObserveSocketMessage("chat", "message", "inbound")
	r.ObservePublish("room-1")
	r.ObservePublish("room-1")
	r.SocketClosed()

	assert.Equal(t, float64(0), testutil.ToFloat64(r.SocketConnections))
	assert.Equal(t, float64(2), testutil.ToFloat64(r.PublishedMessages.WithLabelValues("room-1")))
}

func TestHandler_ServesPrometheusFormat(t *testing.T) {
	r := NewRegistry()
	r.ObserveValidationFailure("getUser", "body")

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	r.Handler().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "richierpc_router_validation_failures_total")
}
