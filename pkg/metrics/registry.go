// Package metrics holds the metric interfaces of abfd and the process-wide
// Prometheus registry they are exported from.
//
// Metrics are optional. Until InitRegistry is called every constructor
// returns a no-op implementation:
//
//	metrics.InitRegistry()
//	m := prometheus.NewAPIMetrics()
//	adapter := api.New(cfg, apiCfg, m) // or nil for no metrics
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// registry is written once by InitRegistry.
	registry     *prometheus.Registry
	registryOnce sync.Once
)

// InitRegistry creates the global registry and registers the Go runtime and
// process collectors on it. Later calls do nothing.
func InitRegistry() {
	registryOnce.Do(func() {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	})
}

// GetRegistry returns the global registry, or nil while metrics are disabled.
func GetRegistry() *prometheus.Registry {
	return registry
}

// IsEnabled reports whether InitRegistry has been called.
func IsEnabled() bool {
	return GetRegistry() != nil
}
