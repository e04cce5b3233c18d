package abf

import (
	"fmt"

	"github.com/marmos91/abfd/pkg/fib"
)

// InvalidInterfaceIndex is the ~0 sentinel; it never names an interface.
const InvalidInterfaceIndex = ^uint32(0)

// ValidateUpdate checks the arguments shared by every UpdatePolicy
// implementation.
func ValidateUpdate(paths []fib.RoutePath, limits Limits) error {
	if len(paths) == 0 {
		return &StoreError{Code: ErrInvalidArgument, Message: "policy requires at least one path"}
	}
	if limits.MaxPaths > 0 && len(paths) > limits.MaxPaths {
		return &StoreError{Code: ErrNoSpace, Message: fmt.Sprintf("%d paths exceeds limit %d", len(paths), limits.MaxPaths)}
	}
	return nil
}

// ValidateAttach checks the arguments shared by every Attach implementation.
func ValidateAttach(proto fib.Protocol, swIfIndex uint32) error {
	if !proto.Valid() {
		return &StoreError{Code: ErrInvalidArgument, Message: fmt.Sprintf("unknown protocol %d", uint8(proto))}
	}
	if swIfIndex == InvalidInterfaceIndex {
		return &StoreError{Code: ErrInvalidInterface, Message: "interface index ~0 is not valid"}
	}
	return nil
}

// MergePaths appends the paths of add that are not already in existing.
func MergePaths(existing, add []fib.RoutePath) []fib.RoutePath {
	out := append([]fib.RoutePath(nil), existing...)
	for _, p := range add {
		if !containsPath(out, p) {
			out = append(out, p.Clone())
		}
	}
	return out
}

// RemovePaths returns existing without the paths listed in remove.
func RemovePaths(existing, remove []fib.RoutePath) []fib.RoutePath {
	out := make([]fib.RoutePath, 0, len(existing))
	for _, p := range existing {
		if !containsPath(remove, p) {
			out = append(out, p)
		}
	}
	return out
}

func containsPath(list []fib.RoutePath, p fib.RoutePath) bool {
	for _, q := range list {
		if q.Equal(p) {
			return true
		}
	}
	return false
}
