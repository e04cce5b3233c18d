// Package api is the socket front end of the binary API.
//
// Every accepted connection is registered with the client registry, read
// one record at a time and served strictly in order. Transport messages
// (control_ping, sockclnt_create, sockclnt_delete) are answered here;
// everything else goes to the ABF dispatcher.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/abfd/internal/logger"
	abfproto "github.com/marmos91/abfd/internal/protocol/abf"
	"github.com/marmos91/abfd/internal/protocol/rpc"
	"github.com/marmos91/abfd/pkg/abf"
	"github.com/marmos91/abfd/pkg/adapter"
	"github.com/marmos91/abfd/pkg/metrics"
)

// Config configures the API adapter.
type Config struct {
	// Enabled controls whether the adapter is started.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Network is "tcp" or "unix".
	Network string `mapstructure:"network" validate:"omitempty,oneof=tcp unix" yaml:"network"`

	// Address is host:port for tcp or a socket path for unix.
	Address string `mapstructure:"address" yaml:"address"`

	// MaxConnections caps concurrent connections. 0 is unlimited.
	MaxConnections int `mapstructure:"max_connections" validate:"min=0" yaml:"max_connections"`

	// MaxMessageSize bounds one request record in bytes.
	MaxMessageSize uint32 `mapstructure:"max_message_size" validate:"omitempty,min=64" yaml:"max_message_size"`

	Timeouts TimeoutsConfig `mapstructure:"timeouts" yaml:"timeouts"`

	// ShutdownTimeout is how long Serve waits for connections to drain
	// before force-closing them.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"min=0" yaml:"shutdown_timeout"`

	// MetricsLogInterval logs connection and registry counts periodically.
	// 0 disables it.
	MetricsLogInterval time.Duration `mapstructure:"metrics_log_interval" validate:"min=0" yaml:"metrics_log_interval"`
}

// TimeoutsConfig groups the per-connection timeouts. 0 disables one.
type TimeoutsConfig struct {
	// Read bounds reading one record once a connection is idle-waiting.
	Read time.Duration `mapstructure:"read" validate:"min=0" yaml:"read"`

	// Write bounds sending one reply or details message.
	Write time.Duration `mapstructure:"write" validate:"min=0" yaml:"write"`

	// Idle closes connections that send nothing for this long.
	Idle time.Duration `mapstructure:"idle" validate:"min=0" yaml:"idle"`
}

func (c *Config) applyDefaults() {
	if c.Network == "" {
		c.Network = "tcp"
	}
	if c.Address == "" {
		if c.Network == "unix" {
			c.Address = "/run/abfd/api.sock"
		} else {
			c.Address = "127.0.0.1:5002"
		}
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = rpc.DefaultMaxMessageSize
	}
	if c.Timeouts.Write == 0 {
		c.Timeouts.Write = 10 * time.Second
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
}

func (c *Config) validate() error {
	if c.Network != "tcp" && c.Network != "unix" {
		return fmt.Errorf("invalid network %q: must be tcp or unix", c.Network)
	}
	if c.MaxConnections < 0 {
		return fmt.Errorf("invalid max_connections %d: must be >= 0", c.MaxConnections)
	}
	if c.MaxMessageSize < rpc.RequestHeaderSize {
		return fmt.Errorf("invalid max_message_size %d: must hold a request header", c.MaxMessageSize)
	}
	if c.Timeouts.Read < 0 || c.Timeouts.Write < 0 || c.Timeouts.Idle < 0 {
		return fmt.Errorf("invalid timeouts %+v: must be >= 0", c.Timeouts)
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("invalid shutdown_timeout %v: must be > 0", c.ShutdownTimeout)
	}
	return nil
}

// Adapter serves the binary API on a stream socket.
type Adapter struct {
	config    Config
	apiConfig abfproto.Config

	store      abf.Store
	registry   *rpc.Registry
	table      *rpc.MsgTable
	dispatcher *abfproto.Dispatcher
	metrics    metrics.APIMetrics

	listener  net.Listener
	listenErr error
	listening chan struct{}
	listenOne sync.Once

	// activeConns tracks serving goroutines for graceful shutdown.
	activeConns sync.WaitGroup

	shutdownOnce sync.Once
	shutdown     chan struct{}

	connCount     atomic.Int32
	connSemaphore chan struct{}

	// shutdownCtx is cancelled at shutdown to abort in-flight requests.
	shutdownCtx    context.Context
	cancelRequests context.CancelFunc

	// activeConnections maps remote address to net.Conn for force-close.
	activeConnections sync.Map
}

var _ adapter.Adapter = (*Adapter)(nil)

// New creates an adapter. It panics on an invalid config, which the
// config layer validates beforehand. A nil m disables metrics.
func New(config Config, apiConfig abfproto.Config, m metrics.APIMetrics) *Adapter {
	config.applyDefaults()
	if err := config.validate(); err != nil {
		panic(fmt.Sprintf("invalid API adapter config: %v", err))
	}

	var connSemaphore chan struct{}
	if config.MaxConnections > 0 {
		connSemaphore = make(chan struct{}, config.MaxConnections)
		logger.Debug("API connection limit: %d", config.MaxConnections)
	} else {
		logger.Debug("API connection limit: unlimited")
	}

	if m == nil {
		m = metrics.NewNoopAPIMetrics()
	}

	shutdownCtx, cancelRequests := context.WithCancel(context.Background())

	return &Adapter{
		config:         config,
		apiConfig:      apiConfig,
		registry:       rpc.NewRegistry(),
		table:          rpc.NewMsgTable(),
		metrics:        m,
		listening:      make(chan struct{}),
		shutdown:       make(chan struct{}),
		connSemaphore:  connSemaphore,
		shutdownCtx:    shutdownCtx,
		cancelRequests: cancelRequests,
	}
}

func (s *Adapter) SetStore(store abf.Store) {
	s.store = store
	logger.Debug("API store configured")
}

// Registry exposes the client registry.
func (s *Adapter) Registry() *rpc.Registry {
	return s.registry
}

// Listen opens the listening socket. Serve calls it when needed; calling
// it first lets the caller learn the bound address before serving.
func (s *Adapter) Listen() error {
	s.listenOne.Do(func() {
		defer close(s.listening)

		if s.config.Network == "unix" {
			if err := os.Remove(s.config.Address); err != nil && !errors.Is(err, os.ErrNotExist) {
				s.listenErr = fmt.Errorf("remove stale socket %s: %w", s.config.Address, err)
				return
			}
		}

		ln, err := net.Listen(s.config.Network, s.config.Address)
		if err != nil {
			s.listenErr = fmt.Errorf("failed to create API listener on %s %s: %w", s.config.Network, s.config.Address, err)
			return
		}
		s.listener = ln
	})
	return s.listenErr
}

// Serve registers the ABF messages, starts listening and accepts API
// connections until shutdown.
//
// Each accepted connection is served in its own goroutine. When
// max_connections is set, Serve blocks in the accept loop until a slot is
// free rather than accepting and dropping the connection.
//
// Graceful shutdown:
//  1. ctx is cancelled, or Stop() is called
//  2. The listener is closed so no new connections are accepted
//  3. In-flight requests finish and their replies are written
//  4. Connections still open after the shutdown timeout are force-closed
//
// Context cancellation propagation:
// Connections do not see the caller's ctx directly. They run under the
// adapter's shutdown context, which is cancelled in step 2, so a blocked
// read returns promptly and the connection's registration is removed.
//
// Parameters:
//   - ctx: Controls the lifetime of the adapter. Cancel it to trigger
//     graceful shutdown.
//
// Returns:
//   - nil on a clean graceful shutdown
//   - An error if the adapter has no store, the message table could not
//     be built or the listener could not be opened
//   - An error naming the number of connections force-closed after the
//     shutdown timeout
//
// Thread safety:
// Serve() should be called once per Adapter. Stop() may be called
// concurrently from any goroutine.
func (s *Adapter) Serve(ctx context.Context) error {
	if s.store == nil {
		return fmt.Errorf("API adapter has no store")
	}

	dispatcher, err := abfproto.NewDispatcher(s.apiConfig, s.store, s.registry, s.table, s.metrics)
	if err != nil {
		return fmt.Errorf("register abf messages: %w", err)
	}
	s.dispatcher = dispatcher

	if err := s.Listen(); err != nil {
		return err
	}
	if s.listener == nil {
		return fmt.Errorf("API adapter stopped before it started listening")
	}

	logger.Info("API server listening on %s %s", s.config.Network, s.listener.Addr())
	logger.Debug("API config: max_connections=%d max_message_size=%d read_timeout=%v write_timeout=%v idle_timeout=%v base_msg_id=%d",
		s.config.MaxConnections, s.config.MaxMessageSize, s.config.Timeouts.Read,
		s.config.Timeouts.Write, s.config.Timeouts.Idle, s.apiConfig.BaseMsgID)

	go func() {
		select {
		case <-ctx.Done():
			logger.Info("API shutdown signal received: %v", ctx.Err())
			s.initiateShutdown()
		case <-s.shutdown:
		}
	}()

	if s.config.MetricsLogInterval > 0 {
		go s.logMetrics(ctx)
	}

	for {
		if s.connSemaphore != nil {
			select {
			case s.connSemaphore <- struct{}{}:
			case <-s.shutdown:
				return s.gracefulShutdown()
			}
		}

		netConn, err := s.listener.Accept()
		if err != nil {
			if s.connSemaphore != nil {
				<-s.connSemaphore
			}

			select {
			case <-s.shutdown:
				return s.gracefulShutdown()
			default:
				logger.Debug("Error accepting API connection: %v", err)
				continue
			}
		}

		s.activeConns.Add(1)
		s.connCount.Add(1)

		connID := fmt.Sprintf("%s#%p", netConn.RemoteAddr(), netConn)
		s.activeConnections.Store(connID, netConn)

		s.metrics.RecordConnectionAccepted()
		currentConns := s.connCount.Load()
		s.metrics.SetActiveConnections(currentConns)

		logger.Debug("API connection accepted from %s (active: %d)", netConn.RemoteAddr(), currentConns)

		conn := newConnection(s, netConn)
		go func(id string) {
			defer func() {
				s.activeConnections.Delete(id)
				s.activeConns.Done()
				s.connCount.Add(-1)
				if s.connSemaphore != nil {
					<-s.connSemaphore
				}

				s.metrics.RecordConnectionClosed()
				currentConns := s.connCount.Load()
				s.metrics.SetActiveConnections(currentConns)

				logger.Debug("API connection %s closed (active: %d)", id, currentConns)
			}()

			conn.Serve(s.shutdownCtx)
		}(connID)
	}
}

// initiateShutdown stops accepting and cancels in-flight requests.
// Safe to call more than once.
func (s *Adapter) initiateShutdown() {
	s.shutdownOnce.Do(func() {
		logger.Debug("API shutdown initiated")
		close(s.shutdown)

		// Listen may still be pending in another goroutine.
		s.listenOne.Do(func() { close(s.listening) })
		if s.listener != nil {
			if err := s.listener.Close(); err != nil {
				logger.Debug("Error closing API listener: %v", err)
			}
		}

		s.cancelRequests()

		// Wake connections blocked waiting for their next request. A
		// request already being handled still gets its reply written.
		s.activeConnections.Range(func(_, value any) bool {
			_ = value.(net.Conn).SetReadDeadline(time.Now())
			return true
		})
	})
}

func (s *Adapter) gracefulShutdown() error {
	activeCount := s.connCount.Load()
	logger.Info("API graceful shutdown: waiting for %d active connection(s) (timeout: %v)",
		activeCount, s.config.ShutdownTimeout)

	done := make(chan struct{})
	go func() {
		s.activeConns.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("API graceful shutdown complete: all connections closed")
		return nil

	case <-time.After(s.config.ShutdownTimeout):
		remaining := s.connCount.Load()
		logger.Warn("API shutdown timeout exceeded: %d connection(s) still active after %v - forcing closure",
			remaining, s.config.ShutdownTimeout)
		s.forceCloseConnections()
		return fmt.Errorf("API shutdown timeout: %d connections force-closed", remaining)
	}
}

func (s *Adapter) forceCloseConnections() {
	closedCount := 0
	s.activeConnections.Range(func(key, value any) bool {
		id := key.(string)
		conn := value.(net.Conn)

		if err := conn.Close(); err != nil {
			logger.Debug("Error force-closing connection %s: %v", id, err)
		} else {
			closedCount++
			s.metrics.RecordConnectionForceClosed()
		}
		return true
	})

	if closedCount > 0 {
		logger.Info("Force-closed %d API connection(s)", closedCount)
	}
}

func (s *Adapter) Stop(ctx context.Context) error {
	s.initiateShutdown()

	done := make(chan struct{})
	go func() {
		s.activeConns.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("API graceful shutdown complete: all connections closed")
		return nil
	case <-ctx.Done():
		logger.Warn("API shutdown context cancelled: %d connection(s) still active: %v",
			s.connCount.Load(), ctx.Err())
		return ctx.Err()
	}
}

func (s *Adapter) logMetrics(ctx context.Context) {
	ticker := time.NewTicker(s.config.MetricsLogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.shutdown:
			return
		case <-ticker.C:
			logger.Info("API metrics: active_connections=%d registrations=%d missing_clients=%d",
				s.connCount.Load(), s.registry.Len(), s.registry.MissingClients())
		}
	}
}

// ActiveConnections returns the number of open connections.
func (s *Adapter) ActiveConnections() int32 {
	return s.connCount.Load()
}

// Addr returns the bound address once Listen has run, or the configured
// address before that.
func (s *Adapter) Addr() string {
	select {
	case <-s.listening:
		if s.listener != nil {
			return s.listener.Addr().String()
		}
	default:
	}
	return s.config.Address
}

func (s *Adapter) Protocol() string {
	return "API"
}
