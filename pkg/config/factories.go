package config

import (
	"context"
	"fmt"

	"github.com/marmos91/abfd/internal/logger"
	"github.com/marmos91/abfd/pkg/abf"
	"github.com/marmos91/abfd/pkg/abf/badger"
	"github.com/marmos91/abfd/pkg/abf/memory"
	"github.com/marmos91/abfd/pkg/adapter"
	"github.com/marmos91/abfd/pkg/adapter/api"
	"github.com/marmos91/abfd/pkg/metrics"
	promMetrics "github.com/marmos91/abfd/pkg/metrics/prometheus"
	"github.com/mitchellh/mapstructure"
)

// CreateStore creates the policy store selected by cfg.Type, decoding the
// matching type-specific section into the store's own config type.
func CreateStore(ctx context.Context, cfg *StoreConfig) (abf.Store, error) {
	switch cfg.Type {
	case "memory":
		var storeCfg memory.Config
		if err := decodeStoreOptions(cfg.Memory, &storeCfg); err != nil {
			return nil, fmt.Errorf("invalid memory store config: %w", err)
		}
		logger.Debug("Creating memory store (limits: %+v)", storeCfg.Limits)
		return memory.New(storeCfg), nil

	case "badger":
		var storeCfg badger.Config
		if err := decodeStoreOptions(cfg.Badger, &storeCfg); err != nil {
			return nil, fmt.Errorf("invalid badger store config: %w", err)
		}
		logger.Debug("Creating badger store (limits: %+v)", storeCfg.Limits)
		store, err := badger.New(ctx, storeCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create badger store: %w", err)
		}
		return store, nil

	default:
		return nil, fmt.Errorf("unknown store type: %q", cfg.Type)
	}
}

// decodeStoreOptions decodes options into out, rejecting unknown keys and
// then validating out's struct tags.
func decodeStoreOptions(options map[string]any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		ErrorUnused:      true,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	if err := decoder.Decode(options); err != nil {
		return err
	}
	if err := validate.Struct(out); err != nil {
		return formatValidationError(err)
	}
	return nil
}

// CreateAdapters creates every enabled protocol adapter.
func CreateAdapters(cfg *Config, apiMetrics metrics.APIMetrics) ([]adapter.Adapter, error) {
	var adapters []adapter.Adapter

	if cfg.Adapters.API.Enabled {
		adapters = append(adapters, api.New(cfg.Adapters.API, cfg.API, apiMetrics))
	}

	if len(adapters) == 0 {
		return nil, fmt.Errorf("no adapters enabled in configuration")
	}

	return adapters, nil
}

// MetricsResult holds the metrics components built from configuration.
type MetricsResult struct {
	// Server exposes /metrics. Nil when metrics are disabled.
	Server *metrics.Server

	// APIMetrics is never nil; it is a no-op when metrics are disabled.
	APIMetrics metrics.APIMetrics
}

// InitializeMetrics initialises the Prometheus registry and metrics
// server when metrics are enabled, and returns no-op metrics otherwise.
func InitializeMetrics(cfg *Config) *MetricsResult {
	if !cfg.Server.Metrics.Enabled {
		return &MetricsResult{
			APIMetrics: metrics.NewNoopAPIMetrics(),
		}
	}

	metrics.InitRegistry()

	server := metrics.NewServer(metrics.ServerConfig{
		Port: cfg.Server.Metrics.Port,
		Host: cfg.Server.Metrics.Host,
	})

	return &MetricsResult{
		Server:     server,
		APIMetrics: promMetrics.NewAPIMetrics(),
	}
}

// LoggerConfig converts the logging section for logger.Init.
func LoggerConfig(cfg *LoggingConfig) logger.Config {
	return logger.Config{
		Level:      cfg.Level,
		Format:     cfg.Format,
		Output:     cfg.Output,
		MaxSizeMB:  cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAgeDays: cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}
}
