package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	m := New()

	m.Received()
	m.Received()
	m.Malformed()
	m.Delivered(3)
	m.RuleOutcome("matched")
	m.RuleOutcome("skipped")
	m.RuleOutcome("matched")
	m.SetQueueDepth(7)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.MessagesReceived))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MessagesMalformed))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.BroadcastDelivered))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.RuleOutcomes.WithLabelValues("matched")))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.QueueDepth))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Received()
		m.Persisted()
		m.RuleOutcome("failed")
		m.SetViewers(2)
	})
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.Persisted()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "edge_storage_readings_persisted_total 1")
}
