package storetest

import (
	"context"
	"testing"

	"github.com/marmos91/abfd/pkg/abf"
	"github.com/marmos91/abfd/pkg/fib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (suite *StoreTestSuite) RunAttachmentTests(test *testing.T) {
	test.Run("Attach_Success", suite.TestAttach_Success)
	test.Run("Attach_UnknownPolicy", suite.TestAttach_UnknownPolicy)
	test.Run("Attach_Duplicate", suite.TestAttach_Duplicate)
	test.Run("Attach_InvalidInterface", suite.TestAttach_InvalidInterface)
	test.Run("Attach_InvalidProtocol", suite.TestAttach_InvalidProtocol)
	test.Run("Attach_FamiliesAreIndependent", suite.TestAttach_FamiliesAreIndependent)
	test.Run("Detach_Success", suite.TestDetach_Success)
	test.Run("Detach_NotFound", suite.TestDetach_NotFound)
	test.Run("InterfaceAttachments_PriorityOrder", suite.TestInterfaceAttachments_PriorityOrder)
}

func (suite *StoreTestSuite) withPolicies(test *testing.T, store abf.Store, ids ...uint32) {
	test.Helper()
	for _, id := range ids {
		require.NoError(test, store.UpdatePolicy(context.Background(), id, id, []fib.RoutePath{ViaIP4("10.0.0.1", 1)}))
	}
}

func (suite *StoreTestSuite) TestAttach_Success(test *testing.T) {
	store := suite.newStore(test)
	ctx := context.Background()
	suite.withPolicies(test, store, 1)

	require.NoError(test, store.Attach(ctx, fib.ProtocolIP4, 1, 20, 5))

	all := collectAttachments(ctx, store)
	require.Len(test, all, 1)
	assert.Equal(test, abf.Attachment{PolicyID: 1, SwIfIndex: 5, Priority: 20, Proto: fib.ProtocolIP4}, all[0])
}

func (suite *StoreTestSuite) TestAttach_UnknownPolicy(test *testing.T) {
	store := suite.newStore(test)

	err := store.Attach(context.Background(), fib.ProtocolIP4, 9, 0, 1)
	assert.True(test, abf.IsNotFound(err))
}

// TestAttach_Duplicate verifies the same (family, policy, interface) cannot
// be attached twice, even with another priority.
func (suite *StoreTestSuite) TestAttach_Duplicate(test *testing.T) {
	store := suite.newStore(test)
	ctx := context.Background()
	suite.withPolicies(test, store, 1)

	require.NoError(test, store.Attach(ctx, fib.ProtocolIP6, 1, 10, 2))
	err := store.Attach(ctx, fib.ProtocolIP6, 1, 11, 2)

	code, ok := abf.CodeOf(err)
	require.True(test, ok)
	assert.Equal(test, abf.ErrAlreadyExists, code)
	assert.Len(test, collectAttachments(ctx, store), 1)
}

func (suite *StoreTestSuite) TestAttach_InvalidInterface(test *testing.T) {
	store := suite.newStore(test)
	suite.withPolicies(test, store, 1)

	err := store.Attach(context.Background(), fib.ProtocolIP4, 1, 0, abf.InvalidInterfaceIndex)
	code, ok := abf.CodeOf(err)
	require.True(test, ok)
	assert.Equal(test, abf.ErrInvalidInterface, code)
}

func (suite *StoreTestSuite) TestAttach_InvalidProtocol(test *testing.T) {
	store := suite.newStore(test)
	suite.withPolicies(test, store, 1)

	err := store.Attach(context.Background(), fib.Protocol(7), 1, 0, 1)
	code, ok := abf.CodeOf(err)
	require.True(test, ok)
	assert.Equal(test, abf.ErrInvalidArgument, code)
}

func (suite *StoreTestSuite) TestAttach_FamiliesAreIndependent(test *testing.T) {
	store := suite.newStore(test)
	ctx := context.Background()
	suite.withPolicies(test, store, 1)

	require.NoError(test, store.Attach(ctx, fib.ProtocolIP4, 1, 0, 3))
	require.NoError(test, store.Attach(ctx, fib.ProtocolIP6, 1, 0, 3))
	require.NoError(test, store.Detach(ctx, fib.ProtocolIP4, 1, 3))

	all := collectAttachments(ctx, store)
	require.Len(test, all, 1)
	assert.Equal(test, fib.ProtocolIP6, all[0].Proto)
}

func (suite *StoreTestSuite) TestDetach_Success(test *testing.T) {
	store := suite.newStore(test)
	ctx := context.Background()
	suite.withPolicies(test, store, 1)

	require.NoError(test, store.Attach(ctx, fib.ProtocolIP4, 1, 0, 3))
	require.NoError(test, store.Detach(ctx, fib.ProtocolIP4, 1, 3))

	assert.Empty(test, collectAttachments(ctx, store))
	list, err := store.InterfaceAttachments(ctx, fib.ProtocolIP4, 3)
	require.NoError(test, err)
	assert.Empty(test, list)
}

func (suite *StoreTestSuite) TestDetach_NotFound(test *testing.T) {
	store := suite.newStore(test)
	suite.withPolicies(test, store, 1)

	err := store.Detach(context.Background(), fib.ProtocolIP4, 1, 3)
	assert.True(test, abf.IsNotFound(err))
}

// TestInterfaceAttachments_PriorityOrder verifies lower priority values come
// first and that other interfaces and families are excluded.
func (suite *StoreTestSuite) TestInterfaceAttachments_PriorityOrder(test *testing.T) {
	store := suite.newStore(test)
	ctx := context.Background()
	suite.withPolicies(test, store, 1, 2, 3, 4)

	require.NoError(test, store.Attach(ctx, fib.ProtocolIP4, 1, 30, 8))
	require.NoError(test, store.Attach(ctx, fib.ProtocolIP4, 2, 10, 8))
	require.NoError(test, store.Attach(ctx, fib.ProtocolIP4, 3, 20, 8))
	require.NoError(test, store.Attach(ctx, fib.ProtocolIP6, 4, 0, 8))
	require.NoError(test, store.Attach(ctx, fib.ProtocolIP4, 4, 0, 9))

	list, err := store.InterfaceAttachments(ctx, fib.ProtocolIP4, 8)
	require.NoError(test, err)
	require.Len(test, list, 3)
	assert.Equal(test, []uint32{2, 3, 1}, []uint32{list[0].PolicyID, list[1].PolicyID, list[2].PolicyID})
}
