// Package storetest is a contract test suite for abf.Store implementations.
package storetest

import (
	"testing"

	"github.com/marmos91/abfd/pkg/abf"
)

// StoreTestSuite tests the abf.Store contract, not implementation details,
// so every backend can run the same checks.
type StoreTestSuite struct {
	// NewStore creates a fresh, empty store for each test.
	NewStore func() abf.Store

	// NewLimitedStore creates a store enforcing limits. Limit tests are
	// skipped when it is nil.
	NewLimitedStore func(limits abf.Limits) abf.Store
}

// Run executes all tests in the suite.
func (suite *StoreTestSuite) Run(test *testing.T) {
	test.Run("Policy", suite.RunPolicyTests)
	test.Run("Attachment", suite.RunAttachmentTests)
	test.Run("Walk", suite.RunWalkTests)
	test.Run("Limits", suite.RunLimitTests)
}

func (suite *StoreTestSuite) newStore(test *testing.T) abf.Store {
	test.Helper()
	store := suite.NewStore()
	test.Cleanup(func() { _ = store.Close() })
	return store
}
