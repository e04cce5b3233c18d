// Package adapter defines the lifecycle contract of the protocol front
// ends that expose the policy store.
package adapter

import (
	"context"

	"github.com/marmos91/abfd/pkg/abf"
)

// Adapter serves one protocol on top of a shared abf.Store.
//
// Lifecycle: SetStore is called once before Serve. Serve blocks until ctx
// is cancelled or Stop is called, and drains connections on the way out.
// Stop may be called concurrently with Serve and more than once.
type Adapter interface {
	// Serve accepts and handles connections until shutdown.
	Serve(ctx context.Context) error

	// SetStore injects the store every request operates on.
	SetStore(store abf.Store)

	// Stop initiates graceful shutdown and waits for connections to drain
	// or ctx to expire.
	Stop(ctx context.Context) error

	// Protocol names the adapter for logging.
	Protocol() string

	// Addr returns the address the adapter listens on.
	Addr() string
}
