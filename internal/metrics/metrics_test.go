package metrics

import (
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorders(t *testing.T) {
	m := New()

	m.RecordOperation("overwrite", "user")
	m.RecordOperation("overwrite", "user")
	m.RecordOperation("merge", "server")
	m.RecordEvent("value")
	m.RecordTransaction("committed")
	m.RecordRetry()
	m.RecordCallbackPanic()
	m.RecordRemoteError("put", "datastale")
	m.UpdatePendingWrites(3)
	m.UpdateActiveListens(2)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.operationsTotal.WithLabelValues("overwrite", "user")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.operationsTotal.WithLabelValues("merge", "server")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.eventsTotal.WithLabelValues("value")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.transactionsTotal.WithLabelValues("committed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.transactionRetries))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.callbackPanics))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.remoteErrors.WithLabelValues("put", "datastale")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.pendingWrites))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.activeListens))
}

func TestNilMetricsRecordNothing(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordOperation("overwrite", "user")
		m.RecordEvent("value")
		m.UpdatePendingWrites(1)
	})
}

func TestInstancesDoNotCollide(t *testing.T) {
	a, b := New(), New()
	a.RecordRetry()
	assert.Equal(t, 1.0, testutil.ToFloat64(a.transactionRetries))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.transactionRetries))
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.RecordEvent("child_added")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), `treesync_events_total{type="child_added"} 1`)
}
