package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServerRoutes(t *testing.T) {
	InitRegistry()
	s := NewServer(ServerConfig{Host: "127.0.0.1"})
	assert.Equal(t, 9090, s.Port())

	t.Run("Index", func(t *testing.T) {
		rec := httptest.NewRecorder()
		s.server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "/metrics")
	})

	t.Run("UnknownPath", func(t *testing.T) {
		rec := httptest.NewRecorder()
		s.server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("Metrics", func(t *testing.T) {
		rec := httptest.NewRecorder()
		s.server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "go_goroutines")
	})
}

func TestInitRegistryIsIdempotent(t *testing.T) {
	InitRegistry()
	first := GetRegistry()
	InitRegistry()
	assert.Same(t, first, GetRegistry())
	assert.True(t, IsEnabled())
}

func TestNoopAPIMetrics(t *testing.T) {
	m := NewNoopAPIMetrics()
	assert.NotPanics(t, func() {
		m.RecordRequest("abf_policy_dump", "OK", 0)
		m.RecordDetails("abf_policy_details", 3)
		m.RecordDropped("malformed")
		m.SetActiveConnections(1)
		m.SetRegistrations(1)
		m.SetStoreObjects("policies", 2)
		m.RecordConnectionAccepted()
		m.RecordConnectionClosed()
		m.RecordConnectionForceClosed()
	})
}
