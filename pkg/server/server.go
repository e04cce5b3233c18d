// Package server runs the protocol adapters of abfd around one shared
// policy store.
package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/marmos91/abfd/internal/logger"
	"github.com/marmos91/abfd/pkg/abf"
	"github.com/marmos91/abfd/pkg/adapter"
	"github.com/marmos91/abfd/pkg/metrics"
)

// DefaultStopTimeout bounds each adapter's Stop during shutdown.
const DefaultStopTimeout = 30 * time.Second

// Server manages the lifecycle of the protocol adapters that share a
// policy store, and of the optional metrics server.
//
// Lifecycle:
//  1. Creation: New() with the store
//  2. Registration: AddAdapter() for each front end
//  3. Startup: Serve() starts everything concurrently
//  4. Shutdown: context cancellation stops adapters in reverse order
//
// AddAdapter may be called concurrently before Serve. Serve may only be
// called once.
type Server struct {
	store abf.Store

	adapters []adapter.Adapter
	metrics  *metrics.Server

	// StopTimeout bounds each adapter's Stop. Zero uses DefaultStopTimeout.
	StopTimeout time.Duration

	mu     sync.RWMutex
	served bool
}

// New creates a server around store. It panics if store is nil.
func New(store abf.Store) *Server {
	if store == nil {
		panic("policy store cannot be nil")
	}

	return &Server{
		store:    store,
		adapters: make([]adapter.Adapter, 0, 2),
	}
}

// SetMetricsServer makes Serve run m alongside the adapters.
func (s *Server) SetMetricsServer(m *metrics.Server) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics = m
}

// AddAdapter injects the store into a and registers it.
//
// Returns an error if an adapter for the same protocol or address is
// already registered. Panics if a is nil or Serve has been called.
func (s *Server) AddAdapter(a adapter.Adapter) error {
	if a == nil {
		panic("adapter cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.served {
		panic("cannot add adapter after Serve() has been called")
	}

	protocol := a.Protocol()
	addr := a.Addr()

	for _, existing := range s.adapters {
		if existing.Protocol() == protocol {
			return fmt.Errorf("adapter for protocol %s already registered", protocol)
		}
		if existing.Addr() == addr {
			return fmt.Errorf("address %s already in use by %s adapter", addr, existing.Protocol())
		}
	}

	a.SetStore(s.store)
	s.adapters = append(s.adapters, a)

	logger.Info("Registered %s adapter on %s", protocol, addr)
	return nil
}

// Serve starts all registered adapters and blocks until shutdown.
//
// Serve() orchestrates the daemon lifecycle:
//  1. Starts the metrics server, if one was configured, on its own context
//  2. Starts each adapter in its own goroutine with the caller's ctx
//  3. Waits for ctx to be cancelled or for the first adapter to fail
//  4. Stops every adapter in reverse registration order
//  5. Stops the metrics server and waits for all goroutines to return
//  6. Closes the policy store
//
// Shutdown behavior:
// Adapters are stopped even when the trigger was an adapter failure, so a
// single broken listener takes the whole daemon down cleanly. All Stop()
// calls share one StopTimeout budget (DefaultStopTimeout when unset).
//
// Error handling:
// An adapter that returns context.Canceled after ctx is done is treated as
// a normal stop. Any other adapter error is logged and becomes the return
// value. Errors from Stop() are logged but do not override it.
//
// Parameters:
//   - ctx: Controls the lifetime of the server. Cancel it to request a
//     graceful shutdown.
//
// Returns:
//   - ctx.Err() after a requested shutdown
//   - The first adapter (or metrics server) error, wrapped with its protocol
//   - An error if no adapters were registered
//
// Panics if called more than once on the same Server.
//
// Thread safety:
// Serve() may be called from any goroutine, but only once. AddAdapter()
// must not be called after Serve() has started.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	if s.served {
		s.mu.Unlock()
		panic("Serve() has already been called on this server instance")
	}
	s.served = true
	adapters := make([]adapter.Adapter, len(s.adapters))
	copy(adapters, s.adapters)
	metricsServer := s.metrics
	s.mu.Unlock()

	defer func() {
		if err := s.store.Close(); err != nil {
			logger.Error("Error closing policy store: %v", err)
		}
	}()

	if len(adapters) == 0 {
		return fmt.Errorf("no adapters registered; call AddAdapter() before Serve()")
	}

	logger.Info("Starting abfd with %d adapter(s)", len(adapters))

	// Buffered so failing adapters never block.
	errChan := make(chan adapterError, len(adapters)+1)
	var wg sync.WaitGroup

	// The metrics server gets its own context so it outlives the adapters'
	// final requests.
	metricsCtx, stopMetrics := context.WithCancel(context.Background())
	defer stopMetrics()
	if metricsServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := metricsServer.Start(metricsCtx); err != nil {
				errChan <- adapterError{protocol: "metrics", err: err}
			}
		}()
	}

	for _, adp := range adapters {
		wg.Add(1)
		go func(a adapter.Adapter) {
			defer wg.Done()

			protocol := a.Protocol()
			logger.Info("Starting %s adapter on %s", protocol, a.Addr())

			if err := a.Serve(ctx); err != nil {
				if !errors.Is(err, context.Canceled) && ctx.Err() == nil {
					logger.Error("%s adapter failed: %v", protocol, err)
					errChan <- adapterError{protocol: protocol, err: err}
				} else {
					logger.Debug("%s adapter stopped: %v", protocol, err)
				}
			} else {
				logger.Info("%s adapter stopped", protocol)
			}
		}(adp)
	}

	var shutdownErr error
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received (reason: %v)", ctx.Err())
		shutdownErr = ctx.Err()

	case adapterErr := <-errChan:
		logger.Error("%s failed: %v - initiating shutdown", adapterErr.protocol, adapterErr.err)
		shutdownErr = fmt.Errorf("%s adapter error: %w", adapterErr.protocol, adapterErr.err)
	}

	s.stopAllAdapters(adapters)
	stopMetrics()

	logger.Debug("Waiting for all adapters to complete shutdown")
	wg.Wait()

	logger.Info("abfd stopped")
	return shutdownErr
}

// adapterError pairs an adapter protocol name with its error.
type adapterError struct {
	protocol string
	err      error
}

// stopAllAdapters signals every adapter to stop, in reverse registration
// order. Errors are logged and do not stop the remaining adapters.
func (s *Server) stopAllAdapters(adapters []adapter.Adapter) {
	timeout := s.StopTimeout
	if timeout <= 0 {
		timeout = DefaultStopTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	logger.Info("Initiating graceful shutdown of %d adapter(s)", len(adapters))

	for i := len(adapters) - 1; i >= 0; i-- {
		adp := adapters[i]
		protocol := adp.Protocol()

		logger.Debug("Stopping %s adapter (%s)", protocol, adp.Addr())

		if err := adp.Stop(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Error stopping %s adapter: %v", protocol, err)
		} else {
			logger.Debug("%s adapter stop signal sent", protocol)
		}
	}
}

// Adapters returns a copy of the registered adapters.
func (s *Server) Adapters() []adapter.Adapter {
	s.mu.RLock()
	defer s.mu.RUnlock()

	adapters := make([]adapter.Adapter, len(s.adapters))
	copy(adapters, s.adapters)
	return adapters
}
