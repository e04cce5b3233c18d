package badger

import (
	"encoding/binary"

	"github.com/marmos91/abfd/pkg/fib"
)

// Key namespaces
//
// Data Type          Prefix  Key Format                                   Value
// ==============================================================================
// Policy             "p:"    p:<id be32>                                  policyRecord (JSON)
// Attachment         "a:"    a:<proto u8><policy be32><sw_if_index be32>  attachmentRecord (JSON)
// Interface index    "i:"    i:<proto u8><sw_if_index be32><prio be32><policy be32>  empty
//
// Integers are big-endian so that key order equals numeric order. Walks
// rely on that: policies come back by ascending id, and an interface's
// index entries come back by ascending priority.
const (
	prefixPolicy     = "p:"
	prefixAttachment = "a:"
	prefixInterface  = "i:"
)

func keyPolicy(id uint32) []byte {
	return binary.BigEndian.AppendUint32([]byte(prefixPolicy), id)
}

func keyAttachment(proto fib.Protocol, policyID, swIfIndex uint32) []byte {
	k := append([]byte(prefixAttachment), byte(proto))
	k = binary.BigEndian.AppendUint32(k, policyID)
	return binary.BigEndian.AppendUint32(k, swIfIndex)
}

func keyInterfacePrefix(proto fib.Protocol, swIfIndex uint32) []byte {
	k := append([]byte(prefixInterface), byte(proto))
	return binary.BigEndian.AppendUint32(k, swIfIndex)
}

func keyInterface(proto fib.Protocol, swIfIndex, priority, policyID uint32) []byte {
	k := binary.BigEndian.AppendUint32(keyInterfacePrefix(proto, swIfIndex), priority)
	return binary.BigEndian.AppendUint32(k, policyID)
}

// parseInterfaceKey is the inverse of keyInterface.
func parseInterfaceKey(k []byte) (fib.Protocol, uint32, uint32, uint32, bool) {
	const n = len(prefixInterface)
	if len(k) != n+13 {
		return 0, 0, 0, 0, false
	}
	proto := fib.Protocol(k[n])
	swIfIndex := binary.BigEndian.Uint32(k[n+1:])
	priority := binary.BigEndian.Uint32(k[n+5:])
	policyID := binary.BigEndian.Uint32(k[n+9:])
	return proto, swIfIndex, priority, policyID, true
}

// successor returns the smallest key strictly greater than k.
func successor(k []byte) []byte {
	return append(append([]byte(nil), k...), 0)
}

// prefixEnd returns the smallest key greater than every key under prefix.
// Prefixes are ASCII, so incrementing the last byte cannot overflow.
func prefixEnd(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	end[len(end)-1]++
	return end
}
