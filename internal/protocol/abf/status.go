package abf

import (
	"errors"

	"github.com/marmos91/abfd/internal/protocol/fibapi"
	"github.com/marmos91/abfd/internal/protocol/rpc"
	"github.com/marmos91/abfd/pkg/abf"
)

// StatusFromError maps a handler error onto the wire status.
//
// Path decode errors carry their own status and store errors are
// translated by code. Anything else, context cancellation included, is
// StatusUnspecified.
func StatusFromError(err error) rpc.Status {
	if err == nil {
		return rpc.StatusOK
	}

	var de *fibapi.DecodeError
	if errors.As(err, &de) {
		return de.Status
	}

	var status rpc.Status
	if errors.As(err, &status) {
		return status
	}

	code, ok := abf.CodeOf(err)
	if !ok {
		return rpc.StatusUnspecified
	}
	switch code {
	case abf.ErrNotFound:
		return rpc.StatusNoSuchEntry
	case abf.ErrAlreadyExists:
		return rpc.StatusEntryAlreadyExists
	case abf.ErrInvalidArgument:
		return rpc.StatusInvalidValue
	case abf.ErrInvalidInterface:
		return rpc.StatusInvalidSwIfIndex
	case abf.ErrNoSpace:
		return rpc.StatusTableTooBig
	default:
		return rpc.StatusUnspecified
	}
}
