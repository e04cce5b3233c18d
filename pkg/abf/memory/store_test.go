package memory

import (
	"context"
	"testing"

	"github.com/marmos91/abfd/pkg/abf"
	"github.com/marmos91/abfd/pkg/abf/storetest"
	"github.com/marmos91/abfd/pkg/fib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore(t *testing.T) {
	suite := &storetest.StoreTestSuite{
		NewStore: func() abf.Store {
			return NewWithDefaults()
		},
		NewLimitedStore: func(limits abf.Limits) abf.Store {
			return New(Config{Limits: limits})
		},
	}
	suite.Run(t)
}

func TestSlotReuse(t *testing.T) {
	s := NewWithDefaults()
	ctx := context.Background()
	path := []fib.RoutePath{storetest.Drop()}

	for id := uint32(1); id <= 3; id++ {
		require.NoError(t, s.UpdatePolicy(ctx, id, 0, path))
	}
	require.NoError(t, s.DeletePolicy(ctx, 2, path))
	require.NoError(t, s.UpdatePolicy(ctx, 9, 0, path))

	assert.Len(t, s.policies, 3)
	assert.Equal(t, 1, s.policyByID[9])

	var order []uint32
	for p := range s.Policies(ctx) {
		order = append(order, p.ID)
	}
	assert.Equal(t, []uint32{1, 9, 3}, order)
}

func TestStats(t *testing.T) {
	s := NewWithDefaults()
	ctx := context.Background()

	require.NoError(t, s.UpdatePolicy(ctx, 1, 0, []fib.RoutePath{storetest.Drop()}))
	require.NoError(t, s.Attach(ctx, fib.ProtocolIP4, 1, 0, 4))

	policies, attachments := s.Stats()
	assert.Equal(t, 1, policies)
	assert.Equal(t, 1, attachments)
}

func TestClosedStore(t *testing.T) {
	s := NewWithDefaults()
	require.NoError(t, s.Close())

	err := s.UpdatePolicy(context.Background(), 1, 0, []fib.RoutePath{storetest.Drop()})
	code, ok := abf.CodeOf(err)
	require.True(t, ok)
	assert.Equal(t, abf.ErrIOError, code)
}
