package storetest

import (
	"context"
	"sync"
	"testing"

	"github.com/marmos91/abfd/pkg/abf"
	"github.com/marmos91/abfd/pkg/fib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (suite *StoreTestSuite) RunWalkTests(test *testing.T) {
	test.Run("Policies_Empty", suite.TestPolicies_Empty)
	test.Run("Policies_All", suite.TestPolicies_All)
	test.Run("Policies_EarlyStop", suite.TestPolicies_EarlyStop)
	test.Run("Policies_MutationDuringWalk", suite.TestPolicies_MutationDuringWalk)
	test.Run("Attachments_MutationDuringWalk", suite.TestAttachments_MutationDuringWalk)
	test.Run("Policies_GrowthDuringWalk", suite.TestPolicies_GrowthDuringWalk)
	test.Run("Attachments_GrowthDuringWalk", suite.TestAttachments_GrowthDuringWalk)
	test.Run("Policies_ConcurrentWriters", suite.TestPolicies_ConcurrentWriters)
}

func (suite *StoreTestSuite) TestPolicies_Empty(test *testing.T) {
	store := suite.newStore(test)
	ctx := context.Background()

	assert.Empty(test, collectPolicies(ctx, store))
	assert.Empty(test, collectAttachments(ctx, store))
}

func (suite *StoreTestSuite) TestPolicies_All(test *testing.T) {
	store := suite.newStore(test)
	ctx := context.Background()
	suite.withPolicies(test, store, 5, 1, 300, 70000)

	seen := make(map[uint32]int)
	for _, p := range collectPolicies(ctx, store) {
		seen[p.ID]++
		assert.Equal(test, p.ID, p.ACLIndex)
		assert.Len(test, p.Paths, 1)
	}
	assert.Equal(test, map[uint32]int{1: 1, 5: 1, 300: 1, 70000: 1}, seen)
}

func (suite *StoreTestSuite) TestPolicies_EarlyStop(test *testing.T) {
	store := suite.newStore(test)
	suite.withPolicies(test, store, 1, 2, 3)

	n := 0
	for range store.Policies(context.Background()) {
		n++
		break
	}
	assert.Equal(test, 1, n)
}

// TestPolicies_MutationDuringWalk deletes and creates policies between the
// steps of a walk. Policies that are live for the whole walk must be seen
// exactly once; the others may or may not be.
func (suite *StoreTestSuite) TestPolicies_MutationDuringWalk(test *testing.T) {
	store := suite.newStore(test)
	ctx := context.Background()

	const n = 40
	for id := uint32(0); id < n; id++ {
		suite.withPolicies(test, store, id)
	}

	// Odd ids are removed during the walk, ids from 1000 are added.
	stable := make(map[uint32]bool)
	for id := uint32(0); id < n; id += 2 {
		stable[id] = true
	}

	seen := make(map[uint32]int)
	step := uint32(0)
	for p := range store.Policies(ctx) {
		seen[p.ID]++
		if victim := 2*step + 1; victim < n {
			require.NoError(test, store.DeletePolicy(ctx, victim, []fib.RoutePath{ViaIP4("10.0.0.1", 1)}))
		}
		suite.withPolicies(test, store, 1000+step)
		step++
	}

	for id := range stable {
		assert.Equal(test, 1, seen[id], "policy %d", id)
	}
	for id, count := range seen {
		assert.LessOrEqual(test, count, 1, "policy %d visited twice", id)
	}
}

func (suite *StoreTestSuite) TestAttachments_MutationDuringWalk(test *testing.T) {
	store := suite.newStore(test)
	ctx := context.Background()
	suite.withPolicies(test, store, 1, 2)

	const n = 30
	for itf := uint32(0); itf < n; itf++ {
		require.NoError(test, store.Attach(ctx, fib.ProtocolIP4, 1, itf, itf))
		require.NoError(test, store.Attach(ctx, fib.ProtocolIP6, 2, itf, itf))
	}

	seen := make(map[abf.Attachment]int)
	step := uint32(0)
	for a := range store.Attachments(ctx) {
		seen[a]++
		if step < n {
			require.NoError(test, store.Detach(ctx, fib.ProtocolIP6, 2, step))
			require.NoError(test, store.Attach(ctx, fib.ProtocolIP6, 1, 0, 100+step))
		}
		step++
	}

	for itf := uint32(0); itf < n; itf++ {
		a := abf.Attachment{PolicyID: 1, SwIfIndex: itf, Priority: itf, Proto: fib.ProtocolIP4}
		assert.Equal(test, 1, seen[a], "attachment %+v", a)
	}
	for a, count := range seen {
		assert.LessOrEqual(test, count, 1, "attachment %+v visited twice", a)
	}
}

// TestPolicies_GrowthDuringWalk adds a policy after every step. The walk
// must still end, without reaching any of the policies it created.
func (suite *StoreTestSuite) TestPolicies_GrowthDuringWalk(test *testing.T) {
	store := suite.newStore(test)
	ctx := context.Background()

	const n = 5
	for id := uint32(0); id < n; id++ {
		suite.withPolicies(test, store, id)
	}

	steps := 0
	for p := range store.Policies(ctx) {
		require.Less(test, p.ID, uint32(n), "walk reached policy %d created after it started", p.ID)
		suite.withPolicies(test, store, 1000+uint32(steps))
		steps++
		require.LessOrEqual(test, steps, n, "walk did not end")
	}
	assert.Equal(test, n, steps)
}

func (suite *StoreTestSuite) TestAttachments_GrowthDuringWalk(test *testing.T) {
	store := suite.newStore(test)
	ctx := context.Background()
	suite.withPolicies(test, store, 1)

	const n = 5
	for itf := uint32(0); itf < n; itf++ {
		require.NoError(test, store.Attach(ctx, fib.ProtocolIP6, 1, 0, itf))
	}

	steps := 0
	for a := range store.Attachments(ctx) {
		require.Less(test, a.SwIfIndex, uint32(n), "walk reached attachment %+v created after it started", a)
		require.NoError(test, store.Attach(ctx, fib.ProtocolIP6, 1, 0, 1000+uint32(steps)))
		steps++
		require.LessOrEqual(test, steps, n, "walk did not end")
	}
	assert.Equal(test, n, steps)
}

// TestPolicies_ConcurrentWriters runs walks while other goroutines churn
// the store. It is meant to be run with the race detector.
func (suite *StoreTestSuite) TestPolicies_ConcurrentWriters(test *testing.T) {
	store := suite.newStore(test)
	ctx := context.Background()
	suite.withPolicies(test, store, 1, 2, 3)

	var wg sync.WaitGroup
	for w := uint32(0); w < 4; w++ {
		wg.Add(1)
		go func(base uint32) {
			defer wg.Done()
			path := []fib.RoutePath{ViaIP4("10.0.0.1", 1)}
			for i := uint32(0); i < 50; i++ {
				id := 100 + base*1000 + i
				_ = store.UpdatePolicy(ctx, id, 0, path)
				_ = store.DeletePolicy(ctx, id, path)
			}
		}(w)
	}

	for i := 0; i < 20; i++ {
		seen := make(map[uint32]int)
		for p := range store.Policies(ctx) {
			seen[p.ID]++
		}
		for _, id := range []uint32{1, 2, 3} {
			assert.Equal(test, 1, seen[id])
		}
	}
	wg.Wait()
}

func (suite *StoreTestSuite) RunLimitTests(test *testing.T) {
	if suite.NewLimitedStore == nil {
		test.Skip("store has no limits")
	}
	test.Run("MaxPolicies", suite.TestLimits_MaxPolicies)
	test.Run("MaxPaths", suite.TestLimits_MaxPaths)
	test.Run("MaxAttachments", suite.TestLimits_MaxAttachments)
}

func (suite *StoreTestSuite) limited(test *testing.T, limits abf.Limits) abf.Store {
	test.Helper()
	store := suite.NewLimitedStore(limits)
	test.Cleanup(func() { _ = store.Close() })
	return store
}

func assertNoSpace(test *testing.T, err error) {
	test.Helper()
	code, ok := abf.CodeOf(err)
	require.True(test, ok, "expected StoreError, got %v", err)
	assert.Equal(test, abf.ErrNoSpace, code)
}

func (suite *StoreTestSuite) TestLimits_MaxPolicies(test *testing.T) {
	store := suite.limited(test, abf.Limits{MaxPolicies: 2})
	ctx := context.Background()
	path := []fib.RoutePath{Drop()}

	require.NoError(test, store.UpdatePolicy(ctx, 1, 0, path))
	require.NoError(test, store.UpdatePolicy(ctx, 2, 0, path))
	assertNoSpace(test, store.UpdatePolicy(ctx, 3, 0, path))

	// Updating an existing policy does not count against the limit.
	require.NoError(test, store.UpdatePolicy(ctx, 2, 0, []fib.RoutePath{ViaIP4("10.0.0.1", 1)}))

	require.NoError(test, store.DeletePolicy(ctx, 1, path))
	require.NoError(test, store.UpdatePolicy(ctx, 3, 0, path))
}

func (suite *StoreTestSuite) TestLimits_MaxPaths(test *testing.T) {
	store := suite.limited(test, abf.Limits{MaxPaths: 2})
	ctx := context.Background()

	assertNoSpace(test, store.UpdatePolicy(ctx, 1, 0, []fib.RoutePath{
		ViaIP4("10.0.0.1", 1), ViaIP4("10.0.0.2", 1), ViaIP4("10.0.0.3", 1),
	}))
	require.NoError(test, store.UpdatePolicy(ctx, 1, 0, []fib.RoutePath{ViaIP4("10.0.0.1", 1), ViaIP4("10.0.0.2", 1)}))
	assertNoSpace(test, store.UpdatePolicy(ctx, 1, 0, []fib.RoutePath{ViaIP4("10.0.0.3", 1)}))

	p, err := store.GetPolicy(ctx, 1)
	require.NoError(test, err)
	assert.Len(test, p.Paths, 2)
}

func (suite *StoreTestSuite) TestLimits_MaxAttachments(test *testing.T) {
	store := suite.limited(test, abf.Limits{MaxAttachments: 1})
	ctx := context.Background()
	require.NoError(test, store.UpdatePolicy(ctx, 1, 0, []fib.RoutePath{Drop()}))

	require.NoError(test, store.Attach(ctx, fib.ProtocolIP4, 1, 0, 1))
	assertNoSpace(test, store.Attach(ctx, fib.ProtocolIP4, 1, 0, 2))
	require.NoError(test, store.Detach(ctx, fib.ProtocolIP4, 1, 1))
	require.NoError(test, store.Attach(ctx, fib.ProtocolIP4, 1, 0, 2))
}
