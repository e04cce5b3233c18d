package storetest

import (
	"context"
	"testing"

	"github.com/marmos91/abfd/pkg/abf"
	"github.com/marmos91/abfd/pkg/fib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (suite *StoreTestSuite) RunPolicyTests(test *testing.T) {
	test.Run("UpdatePolicy_Create", suite.TestUpdatePolicy_Create)
	test.Run("UpdatePolicy_Merge", suite.TestUpdatePolicy_Merge)
	test.Run("UpdatePolicy_NoPaths", suite.TestUpdatePolicy_NoPaths)
	test.Run("UpdatePolicy_CallerOwnsPaths", suite.TestUpdatePolicy_CallerOwnsPaths)
	test.Run("DeletePolicy_PartialPaths", suite.TestDeletePolicy_PartialPaths)
	test.Run("DeletePolicy_LastPath", suite.TestDeletePolicy_LastPath)
	test.Run("DeletePolicy_NotFound", suite.TestDeletePolicy_NotFound)
	test.Run("DeletePolicy_UnknownPath", suite.TestDeletePolicy_UnknownPath)
	test.Run("GetPolicy_NotFound", suite.TestGetPolicy_NotFound)
}

// TestUpdatePolicy_Create verifies a new policy keeps its ACL and path order.
func (suite *StoreTestSuite) TestUpdatePolicy_Create(test *testing.T) {
	store := suite.newStore(test)
	ctx := context.Background()

	paths := []fib.RoutePath{ViaIP4("10.0.0.1", 1), ViaIP6("2001:db8::1"), Drop()}
	require.NoError(test, store.UpdatePolicy(ctx, 7, 3, paths))

	p, err := store.GetPolicy(ctx, 7)
	require.NoError(test, err)
	assert.Equal(test, uint32(7), p.ID)
	assert.Equal(test, uint32(3), p.ACLIndex)
	require.Len(test, p.Paths, 3)
	for i := range paths {
		assert.True(test, paths[i].Equal(p.Paths[i]), "path %d: %s != %s", i, paths[i], p.Paths[i])
	}
}

// TestUpdatePolicy_Merge verifies that adding to an existing policy appends
// new paths, ignores duplicates and keeps the first ACL.
func (suite *StoreTestSuite) TestUpdatePolicy_Merge(test *testing.T) {
	store := suite.newStore(test)
	ctx := context.Background()

	require.NoError(test, store.UpdatePolicy(ctx, 1, 10, []fib.RoutePath{ViaIP4("10.0.0.1", 1)}))
	require.NoError(test, store.UpdatePolicy(ctx, 1, 99, []fib.RoutePath{ViaIP4("10.0.0.1", 1), ViaIP4("10.0.0.2", 2)}))

	p, err := store.GetPolicy(ctx, 1)
	require.NoError(test, err)
	assert.Equal(test, uint32(10), p.ACLIndex)
	require.Len(test, p.Paths, 2)
	assert.True(test, p.Paths[1].Equal(ViaIP4("10.0.0.2", 2)))
}

func (suite *StoreTestSuite) TestUpdatePolicy_NoPaths(test *testing.T) {
	store := suite.newStore(test)

	err := store.UpdatePolicy(context.Background(), 1, 1, nil)
	code, ok := abf.CodeOf(err)
	require.True(test, ok, "expected StoreError, got %v", err)
	assert.Equal(test, abf.ErrInvalidArgument, code)
}

// TestUpdatePolicy_CallerOwnsPaths verifies the store copies its input and
// its output.
func (suite *StoreTestSuite) TestUpdatePolicy_CallerOwnsPaths(test *testing.T) {
	store := suite.newStore(test)
	ctx := context.Background()

	paths := []fib.RoutePath{ViaIP6("2001:db8::1")}
	require.NoError(test, store.UpdatePolicy(ctx, 1, 1, paths))
	paths[0].Labels[0].Value = 555
	paths[0].Weight = 9

	p, err := store.GetPolicy(ctx, 1)
	require.NoError(test, err)
	p.Paths[0].Labels[0].Value = 666

	again, err := store.GetPolicy(ctx, 1)
	require.NoError(test, err)
	assert.Equal(test, uint32(100), again.Paths[0].Labels[0].Value)
	assert.Equal(test, uint8(1), again.Paths[0].Weight)
}

func (suite *StoreTestSuite) TestDeletePolicy_PartialPaths(test *testing.T) {
	store := suite.newStore(test)
	ctx := context.Background()

	require.NoError(test, store.UpdatePolicy(ctx, 1, 1, []fib.RoutePath{ViaIP4("10.0.0.1", 1), ViaIP4("10.0.0.2", 2)}))
	require.NoError(test, store.DeletePolicy(ctx, 1, []fib.RoutePath{ViaIP4("10.0.0.1", 1)}))

	p, err := store.GetPolicy(ctx, 1)
	require.NoError(test, err)
	require.Len(test, p.Paths, 1)
	assert.True(test, p.Paths[0].Equal(ViaIP4("10.0.0.2", 2)))
}

func (suite *StoreTestSuite) TestDeletePolicy_LastPath(test *testing.T) {
	store := suite.newStore(test)
	ctx := context.Background()

	require.NoError(test, store.UpdatePolicy(ctx, 1, 1, []fib.RoutePath{ViaIP4("10.0.0.1", 1)}))
	require.NoError(test, store.DeletePolicy(ctx, 1, []fib.RoutePath{ViaIP4("10.0.0.1", 1)}))

	_, err := store.GetPolicy(ctx, 1)
	assert.True(test, abf.IsNotFound(err))
	assert.Empty(test, collectPolicies(ctx, store))
}

func (suite *StoreTestSuite) TestDeletePolicy_NotFound(test *testing.T) {
	store := suite.newStore(test)

	err := store.DeletePolicy(context.Background(), 42, []fib.RoutePath{Drop()})
	assert.True(test, abf.IsNotFound(err))
}

// TestDeletePolicy_UnknownPath verifies removing paths a policy does not
// have leaves it untouched.
func (suite *StoreTestSuite) TestDeletePolicy_UnknownPath(test *testing.T) {
	store := suite.newStore(test)
	ctx := context.Background()

	require.NoError(test, store.UpdatePolicy(ctx, 1, 1, []fib.RoutePath{ViaIP4("10.0.0.1", 1)}))
	require.NoError(test, store.DeletePolicy(ctx, 1, []fib.RoutePath{ViaIP4("10.9.9.9", 9)}))

	p, err := store.GetPolicy(ctx, 1)
	require.NoError(test, err)
	assert.Len(test, p.Paths, 1)
}

func (suite *StoreTestSuite) TestGetPolicy_NotFound(test *testing.T) {
	store := suite.newStore(test)

	_, err := store.GetPolicy(context.Background(), 1)
	assert.True(test, abf.IsNotFound(err))
}

func collectPolicies(ctx context.Context, store abf.Store) []*abf.Policy {
	var out []*abf.Policy
	for p := range store.Policies(ctx) {
		out = append(out, p)
	}
	return out
}

func collectAttachments(ctx context.Context, store abf.Store) []abf.Attachment {
	var out []abf.Attachment
	for a := range store.Attachments(ctx) {
		out = append(out, a)
	}
	return out
}
