package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/marmos91/abfd/internal/logger"
	"github.com/marmos91/abfd/pkg/config"
	"github.com/marmos91/abfd/pkg/server"
	"github.com/spf13/cobra"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStart(cmd.Context())
	},
}

func runStart(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if err := logger.Init(config.LoggerConfig(&cfg.Logging)); err != nil {
		return fmt.Errorf("failed to initialise logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("abfd %s (%s) starting", version, commit)
	logger.Debug("Configuration: %+v", *cfg)

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := config.CreateStore(ctx, &cfg.Store)
	if err != nil {
		return err
	}
	logger.Info("Policy store: %s", cfg.Store.Type)

	metricsResult := config.InitializeMetrics(cfg)

	adapters, err := config.CreateAdapters(cfg, metricsResult.APIMetrics)
	if err != nil {
		_ = store.Close()
		return err
	}

	srv := server.New(store)
	srv.StopTimeout = cfg.Server.ShutdownTimeout
	if metricsResult.Server != nil {
		srv.SetMetricsServer(metricsResult.Server)
	}
	for _, a := range adapters {
		if err := srv.AddAdapter(a); err != nil {
			_ = store.Close()
			return err
		}
	}

	if err := srv.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
