package prometheus

import (
	"testing"
	"time"

	"github.com/marmos91/abfd/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAPIMetrics(t *testing.T) {
	metrics.InitRegistry()
	m, ok := NewAPIMetrics().(*apiMetrics)
	require.True(t, ok, "registry is enabled, expected the Prometheus implementation")

	m.RecordRequest("abf_policy_add_del", "OK", time.Millisecond)
	m.RecordRequest("abf_policy_add_del", "OK", time.Millisecond)
	m.RecordRequest("abf_policy_add_del", "NO_SUCH_ENTRY", time.Millisecond)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.requestsTotal.WithLabelValues("abf_policy_add_del", "OK")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requestsTotal.WithLabelValues("abf_policy_add_del", "NO_SUCH_ENTRY")))

	m.RecordDetails("abf_policy_details", 4)
	assert.Equal(t, 4.0, testutil.ToFloat64(m.detailsTotal.WithLabelValues("abf_policy_details")))

	m.RecordDropped("missing_client")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.droppedTotal.WithLabelValues("missing_client")))

	m.SetStoreObjects("policies", 7)
	assert.Equal(t, 7.0, testutil.ToFloat64(m.storeObjects.WithLabelValues("policies")))

	m.SetActiveConnections(3)
	m.SetRegistrations(2)
	assert.Equal(t, 3.0, testutil.ToFloat64(m.activeConnections))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.registrations))

	m.RecordConnectionAccepted()
	m.RecordConnectionClosed()
	m.RecordConnectionForceClosed()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.connectionsAccepted))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.connectionsClosed))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.connectionsForceClosed))
}
