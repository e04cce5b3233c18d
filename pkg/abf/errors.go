package abf

import (
	"errors"
	"fmt"

	"github.com/marmos91/abfd/pkg/fib"
)

// StoreError is returned by Store implementations for domain failures.
//
// Transport layers translate the Code into their own status values;
// anything that is not a *StoreError is an internal failure.
type StoreError struct {
	Code    ErrorCode
	Message string
}

func (e *StoreError) Error() string {
	return e.Message
}

// ErrorCode classifies a StoreError.
type ErrorCode int

const (
	// ErrNotFound: the policy or attachment does not exist.
	ErrNotFound ErrorCode = iota

	// ErrAlreadyExists: the attachment is already present.
	ErrAlreadyExists

	// ErrInvalidArgument: a value is out of range or a policy has no paths.
	ErrInvalidArgument

	// ErrInvalidInterface: the interface index is not usable.
	ErrInvalidInterface

	// ErrNoSpace: a configured limit was reached.
	ErrNoSpace

	// ErrIOError: the backing store failed.
	ErrIOError
)

func (c ErrorCode) String() string {
	switch c {
	case ErrNotFound:
		return "not found"
	case ErrAlreadyExists:
		return "already exists"
	case ErrInvalidArgument:
		return "invalid argument"
	case ErrInvalidInterface:
		return "invalid interface"
	case ErrNoSpace:
		return "no space"
	case ErrIOError:
		return "i/o error"
	default:
		return fmt.Sprintf("error code %d", int(c))
	}
}

// CodeOf extracts the ErrorCode from err. ok is false when err is not a
// *StoreError.
func CodeOf(err error) (code ErrorCode, ok bool) {
	var se *StoreError
	if errors.As(err, &se) {
		return se.Code, true
	}
	return 0, false
}

// IsNotFound reports whether err is an ErrNotFound StoreError.
func IsNotFound(err error) bool {
	code, ok := CodeOf(err)
	return ok && code == ErrNotFound
}

func PolicyNotFound(id uint32) error {
	return &StoreError{Code: ErrNotFound, Message: fmt.Sprintf("policy %d not found", id)}
}

func AttachmentNotFound(proto fib.Protocol, policyID, swIfIndex uint32) error {
	return &StoreError{
		Code:    ErrNotFound,
		Message: fmt.Sprintf("policy %d not attached to %s interface %d", policyID, proto, swIfIndex),
	}
}

func AttachmentExists(proto fib.Protocol, policyID, swIfIndex uint32) error {
	return &StoreError{
		Code:    ErrAlreadyExists,
		Message: fmt.Sprintf("policy %d already attached to %s interface %d", policyID, proto, swIfIndex),
	}
}
