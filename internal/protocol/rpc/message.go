package rpc

import "io"

// RequestHeader opens every client-to-server message.
type RequestHeader struct {
	MsgID       uint32
	ClientIndex uint32
	Context     uint32
}

// ReplyHeader opens every server-to-client message (replies and details).
// Context is copied verbatim from the request that caused it.
type ReplyHeader struct {
	MsgID   uint32
	Context uint32
}

// Message is anything the builder can serialize into an exactly sized
// buffer. Size must return the number of bytes Encode will write.
type Message interface {
	Size() int
	Encode(w io.Writer) error
}

// Request is a client-to-server message. RequestHeader exposes its header
// so callers can match replies by context without knowing the concrete type.
type Request interface {
	Message
	RequestHeader() RequestHeader
}

// XDRStringSize returns the encoded size of an XDR string of length n.
func XDRStringSize(n int) int {
	return 4 + n + (4-n%4)%4
}
