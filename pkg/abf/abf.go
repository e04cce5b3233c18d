// Package abf defines ACL based forwarding policies, their attachment to
// interfaces, and the Store interface the API handlers drive.
//
// A policy steers traffic matching an ACL (referenced by index) to a set of
// forwarding paths. Attaching a policy to an interface under an address
// family makes it take effect there; several policies on the same
// interface are consulted in priority order.
package abf

import (
	"context"
	"iter"

	"github.com/marmos91/abfd/pkg/fib"
)

// Policy is a forwarding policy as seen by the store's users.
type Policy struct {
	// ID is chosen by the client and unique while the policy is live.
	ID uint32

	// ACLIndex references an external classifier. It is opaque here.
	ACLIndex uint32

	// Paths is the non-empty, ordered path list.
	Paths []fib.RoutePath
}

// Clone returns a deep copy of the policy.
func (p *Policy) Clone() *Policy {
	c := &Policy{ID: p.ID, ACLIndex: p.ACLIndex, Paths: make([]fib.RoutePath, len(p.Paths))}
	for i := range p.Paths {
		c.Paths[i] = p.Paths[i].Clone()
	}
	return c
}

// Attachment binds a policy to an interface for one address family.
type Attachment struct {
	PolicyID  uint32
	SwIfIndex uint32
	Priority  uint32
	Proto     fib.Protocol
}

// Store holds policies and attachments.
//
// Mutators are individually atomic. The walk methods visit every object
// that is live for the whole walk exactly once; objects created or removed
// while a walk is in progress may or may not be visited. Implementations
// must tolerate mutation between steps of a walk.
type Store interface {
	// UpdatePolicy creates policy id with the given paths, or merges the
	// paths into an existing policy. The ACL of an existing policy is kept.
	UpdatePolicy(ctx context.Context, id, aclIndex uint32, paths []fib.RoutePath) error

	// DeletePolicy removes the given paths from policy id and destroys the
	// policy once it has none left. Returns ErrNotFound for unknown ids.
	DeletePolicy(ctx context.Context, id uint32, paths []fib.RoutePath) error

	// GetPolicy returns a copy of policy id.
	GetPolicy(ctx context.Context, id uint32) (*Policy, error)

	// Attach binds policy to swIfIndex under proto with the given priority.
	Attach(ctx context.Context, proto fib.Protocol, policyID, priority, swIfIndex uint32) error

	// Detach removes the binding identified by proto, policy and interface.
	Detach(ctx context.Context, proto fib.Protocol, policyID, swIfIndex uint32) error

	// InterfaceAttachments returns the attachments of one interface and
	// family in priority order (lowest value first).
	InterfaceAttachments(ctx context.Context, proto fib.Protocol, swIfIndex uint32) ([]Attachment, error)

	// Policies walks the live policies in store order. Yielded values are
	// copies owned by the caller.
	Policies(ctx context.Context) iter.Seq[*Policy]

	// Attachments walks the live attachments in store order.
	Attachments(ctx context.Context) iter.Seq[Attachment]

	// Close releases the store's resources.
	Close() error
}

// Limits bounds what a store accepts. Zero means unlimited.
type Limits struct {
	MaxPolicies    int `mapstructure:"max_policies" validate:"min=0"`
	MaxAttachments int `mapstructure:"max_attachments" validate:"min=0"`
	MaxPaths       int `mapstructure:"max_paths" validate:"min=0"`
}
