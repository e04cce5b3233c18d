package rpc

import "fmt"

// Status is the signed return value carried by every reply (retval).
//
// The set is closed and shared between the transport and every plugin.
// Zero is success; failures are negative.
type Status int32

const (
	StatusOK                 Status = 0
	StatusUnspecified        Status = -1
	StatusInvalidSwIfIndex   Status = -2
	StatusNoSuchFib          Status = -3
	StatusNoSuchEntry        Status = -6
	StatusInvalidValue       Status = -7
	StatusInvalidValue2      Status = -8
	StatusUnimplemented      Status = -9
	StatusEntryAlreadyExists Status = -30
	StatusTableTooBig        Status = -31
)

var statusNames = map[Status]string{
	StatusOK:                 "OK",
	StatusUnspecified:        "UNSPECIFIED",
	StatusInvalidSwIfIndex:   "INVALID_SW_IF_INDEX",
	StatusNoSuchFib:          "NO_SUCH_FIB",
	StatusNoSuchEntry:        "NO_SUCH_ENTRY",
	StatusInvalidValue:       "INVALID_VALUE",
	StatusInvalidValue2:      "INVALID_VALUE_2",
	StatusUnimplemented:      "UNIMPLEMENTED",
	StatusEntryAlreadyExists: "ENTRY_ALREADY_EXISTS",
	StatusTableTooBig:        "TABLE_TOO_BIG",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("STATUS(%d)", int32(s))
}

// Error lets a non-OK status travel as a Go error on the client side.
func (s Status) Error() string {
	return "api status " + s.String()
}

// Err returns nil for StatusOK and the status itself otherwise.
func (s Status) Err() error {
	if s == StatusOK {
		return nil
	}
	return s
}
