package server

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/marmos91/abfd/pkg/abf"
	"github.com/marmos91/abfd/pkg/abf/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAdapter blocks in Serve until stopped or ctx ends.
type fakeAdapter struct {
	protocol string
	addr     string
	serveErr error

	store   abf.Store
	stopped atomic.Bool
	stop    chan struct{}
	once    sync.Once
	order   *[]string
	mu      *sync.Mutex
}

func newFake(protocol, addr string, order *[]string, mu *sync.Mutex) *fakeAdapter {
	return &fakeAdapter{protocol: protocol, addr: addr, stop: make(chan struct{}), order: order, mu: mu}
}

func (f *fakeAdapter) Serve(ctx context.Context) error {
	if f.serveErr != nil {
		return f.serveErr
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-f.stop:
		return nil
	}
}

func (f *fakeAdapter) SetStore(store abf.Store) { f.store = store }

func (f *fakeAdapter) Stop(ctx context.Context) error {
	f.once.Do(func() {
		f.stopped.Store(true)
		f.mu.Lock()
		*f.order = append(*f.order, f.protocol)
		f.mu.Unlock()
		close(f.stop)
	})
	return nil
}

func (f *fakeAdapter) Protocol() string { return f.protocol }
func (f *fakeAdapter) Addr() string     { return f.addr }

// closeCounter counts Close calls on the wrapped store.
type closeCounter struct {
	abf.Store
	closed atomic.Int32
}

func (c *closeCounter) Close() error {
	c.closed.Add(1)
	return c.Store.Close()
}

func TestAddAdapter(t *testing.T) {
	var order []string
	var mu sync.Mutex
	s := New(memory.NewWithDefaults())

	a := newFake("API", "127.0.0.1:1", &order, &mu)
	require.NoError(t, s.AddAdapter(a))
	assert.NotNil(t, a.store)

	assert.Error(t, s.AddAdapter(newFake("API", "127.0.0.1:2", &order, &mu)), "duplicate protocol")
	assert.Error(t, s.AddAdapter(newFake("OTHER", "127.0.0.1:1", &order, &mu)), "duplicate address")
	require.NoError(t, s.AddAdapter(newFake("OTHER", "127.0.0.1:2", &order, &mu)))
	assert.Len(t, s.Adapters(), 2)
}

func TestServeStopsInReverseOrder(t *testing.T) {
	var order []string
	var mu sync.Mutex
	store := &closeCounter{Store: memory.NewWithDefaults()}
	s := New(store)
	require.NoError(t, s.AddAdapter(newFake("FIRST", "a", &order, &mu)))
	require.NoError(t, s.AddAdapter(newFake("SECOND", "b", &order, &mu)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"SECOND", "FIRST"}, order)
	assert.Equal(t, int32(1), store.closed.Load())
}

func TestServeAdapterFailure(t *testing.T) {
	var order []string
	var mu sync.Mutex
	s := New(memory.NewWithDefaults())

	healthy := newFake("HEALTHY", "a", &order, &mu)
	broken := newFake("BROKEN", "b", &order, &mu)
	broken.serveErr = errors.New("bind failed")
	require.NoError(t, s.AddAdapter(healthy))
	require.NoError(t, s.AddAdapter(broken))

	err := s.Serve(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bind failed")
	assert.True(t, healthy.stopped.Load())
}

func TestServeWithoutAdapters(t *testing.T) {
	s := New(memory.NewWithDefaults())
	assert.Error(t, s.Serve(context.Background()))
}

func TestServeTwicePanics(t *testing.T) {
	s := New(memory.NewWithDefaults())
	_ = s.Serve(context.Background())
	assert.Panics(t, func() { _ = s.Serve(context.Background()) })
}

func TestNewNilStorePanics(t *testing.T) {
	assert.Panics(t, func() { New(nil) })
}
