package rpc

// Core transport message ids. These are fixed and live below the range
// handed out to plugins.
const (
	MsgControlPing         uint32 = 1
	MsgControlPingReply    uint32 = 2
	MsgSockclntCreate      uint32 = 3
	MsgSockclntCreateReply uint32 = 4
	MsgSockclntDelete      uint32 = 5
	MsgSockclntDeleteReply uint32 = 6
)

const (
	// FirstPluginMsgID is the lowest id a plugin range may start at.
	FirstPluginMsgID uint32 = 16

	// MaxMsgID keeps message ids within a 16-bit table.
	MaxMsgID uint32 = 0xffff
)

const (
	// RequestHeaderSize covers msg_id, client_index and context.
	RequestHeaderSize = 12

	// ReplyHeaderSize covers msg_id and context.
	ReplyHeaderSize = 8

	// DefaultMaxMessageSize bounds a reassembled record.
	DefaultMaxMessageSize = 1 << 20

	// MaxClientNameLen bounds the name sent in sockclnt_create.
	MaxClientNameLen = 64
)

const (
	fragmentLastBit = 0x80000000
	fragmentLenMask = 0x7FFFFFFF
)

// ~0, the "no interface / no index" sentinel used throughout the API.
const InvalidIndex uint32 = 0xffffffff
