// Package prometheus implements metrics.APIMetrics on client_golang.
package prometheus

import (
	"time"

	"github.com/marmos91/abfd/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// apiMetrics is the Prometheus implementation of metrics.APIMetrics.
type apiMetrics struct {
	requestsTotal          *prometheus.CounterVec
	requestDuration        *prometheus.HistogramVec
	detailsTotal           *prometheus.CounterVec
	droppedTotal           *prometheus.CounterVec
	storeObjects           *prometheus.GaugeVec
	registrations          prometheus.Gauge
	activeConnections      prometheus.Gauge
	connectionsAccepted    prometheus.Counter
	connectionsClosed      prometheus.Counter
	connectionsForceClosed prometheus.Counter
}

// NewAPIMetrics creates a Prometheus-backed APIMetrics.
//
// Returns a no-op implementation if metrics are not enabled (InitRegistry not called).
func NewAPIMetrics() metrics.APIMetrics {
	if !metrics.IsEnabled() {
		return metrics.NewNoopAPIMetrics()
	}

	reg := metrics.GetRegistry()

	return &apiMetrics{
		requestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "abfd_api_requests_total",
				Help: "Total number of API requests by message and reply status",
			},
			[]string{"message", "status"},
		),
		requestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "abfd_api_request_duration_seconds",
				Help: "Time spent handling API requests",
				Buckets: []float64{
					0.00001, // 10us
					0.0001,  // 100us
					0.001,   // 1ms
					0.01,    // 10ms
					0.1,     // 100ms
					1,       // 1s
				},
			},
			[]string{"message"},
		),
		detailsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "abfd_api_details_total",
				Help: "Details messages emitted by dumps",
			},
			[]string{"message"},
		),
		droppedTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "abfd_api_dropped_total",
				Help: "Messages discarded without a reply, by reason",
			},
			[]string{"reason"},
		),
		storeObjects: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "abfd_store_objects",
				Help: "Live policies and attachments",
			},
			[]string{"kind"},
		),
		registrations: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "abfd_api_registrations",
				Help: "Currently registered API clients",
			},
		),
		activeConnections: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "abfd_api_active_connections",
				Help: "Current number of API connections",
			},
		),
		connectionsAccepted: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "abfd_api_connections_accepted_total",
				Help: "Total number of API connections accepted",
			},
		),
		connectionsClosed: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "abfd_api_connections_closed_total",
				Help: "Total number of API connections closed",
			},
		),
		connectionsForceClosed: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "abfd_api_connections_force_closed_total",
				Help: "API connections closed at shutdown before draining",
			},
		),
	}
}

func (m *apiMetrics) RecordRequest(message string, status string, duration time.Duration) {
	m.requestsTotal.WithLabelValues(message, status).Inc()
	m.requestDuration.WithLabelValues(message).Observe(duration.Seconds())
}

func (m *apiMetrics) RecordDetails(message string, count int) {
	m.detailsTotal.WithLabelValues(message).Add(float64(count))
}

func (m *apiMetrics) RecordDropped(reason string) {
	m.droppedTotal.WithLabelValues(reason).Inc()
}

func (m *apiMetrics) SetActiveConnections(count int32) {
	m.activeConnections.Set(float64(count))
}

func (m *apiMetrics) SetRegistrations(count int) {
	m.registrations.Set(float64(count))
}

func (m *apiMetrics) SetStoreObjects(kind string, count int) {
	m.storeObjects.WithLabelValues(kind).Set(float64(count))
}

func (m *apiMetrics) RecordConnectionAccepted() {
	m.connectionsAccepted.Inc()
}

func (m *apiMetrics) RecordConnectionClosed() {
	m.connectionsClosed.Inc()
}

func (m *apiMetrics) RecordConnectionForceClosed() {
	m.connectionsForceClosed.Inc()
}
