package rpc

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	xdr "github.com/rasky/go-xdr/xdr2"
)

var coreMessageNames = map[uint32]string{
	MsgControlPing:         "control_ping",
	MsgControlPingReply:    "control_ping_reply",
	MsgSockclntCreate:      "sockclnt_create",
	MsgSockclntCreateReply: "sockclnt_create_reply",
	MsgSockclntDelete:      "sockclnt_delete",
	MsgSockclntDeleteReply: "sockclnt_delete_reply",
}

// MsgTableEntry is one (id, name) pair of the message table.
type MsgTableEntry struct {
	ID   uint32
	Name string
}

var (
	_ Request = (*HeaderOnly)(nil)
	_ Request = (*SockclntCreate)(nil)
	_ Request = (*SockclntDelete)(nil)
)

// HeaderOnly is a request with no body: control_ping, version queries and
// every dump request.
type HeaderOnly struct {
	Header RequestHeader
}

func (m *HeaderOnly) RequestHeader() RequestHeader { return m.Header }

func (m *HeaderOnly) Size() int { return RequestHeaderSize }

func (m *HeaderOnly) Encode(w io.Writer) error {
	return Encode(w, &m.Header)
}

// RetvalReply is a reply carrying nothing but a status.
type RetvalReply struct {
	MsgID   uint32
	Context uint32
	Retval  Status
}

func (m *RetvalReply) Size() int { return ReplyHeaderSize + 4 }

func (m *RetvalReply) Encode(w io.Writer) error {
	return Encode(w, &ReplyHeader{MsgID: m.MsgID, Context: m.Context}, int32(m.Retval))
}

// DecodeRetval decodes the body of a RetvalReply.
func DecodeRetval(body []byte) (Status, error) {
	var retval int32
	if err := DecodeExact(body, &retval, 4); err != nil {
		return StatusUnspecified, err
	}
	return Status(retval), nil
}

// ControlPingReply answers control_ping. Because a connection is served in
// order, it also tells a client that every message produced by earlier
// requests has been delivered.
type ControlPingReply struct {
	Context     uint32
	Retval      Status
	ClientIndex uint32
	DaemonPID   uint32
}

type controlPingReplyBody struct {
	Retval      int32
	ClientIndex uint32
	DaemonPID   uint32
}

const controlPingReplyBodySize = 12

func (m *ControlPingReply) Size() int { return ReplyHeaderSize + controlPingReplyBodySize }

func (m *ControlPingReply) Encode(w io.Writer) error {
	return Encode(w,
		&ReplyHeader{MsgID: MsgControlPingReply, Context: m.Context},
		&controlPingReplyBody{Retval: int32(m.Retval), ClientIndex: m.ClientIndex, DaemonPID: m.DaemonPID},
	)
}

// DecodeControlPingReply decodes a control_ping_reply body.
func DecodeControlPingReply(context uint32, body []byte) (*ControlPingReply, error) {
	var b controlPingReplyBody
	if err := DecodeExact(body, &b, controlPingReplyBodySize); err != nil {
		return nil, fmt.Errorf("control_ping_reply: %w", err)
	}
	return &ControlPingReply{Context: context, Retval: Status(b.Retval), ClientIndex: b.ClientIndex, DaemonPID: b.DaemonPID}, nil
}

// SockclntCreate names the connection's registration.
type SockclntCreate struct {
	Header RequestHeader
	Name   string
}

func (m *SockclntCreate) RequestHeader() RequestHeader { return m.Header }

func (m *SockclntCreate) Size() int { return RequestHeaderSize + XDRStringSize(len(m.Name)) }

func (m *SockclntCreate) Encode(w io.Writer) error {
	return Encode(w, &m.Header, m.Name)
}

// DecodeSockclntCreate decodes the client name, rejecting names longer than
// MaxClientNameLen before anything is allocated for them.
func DecodeSockclntCreate(body []byte) (string, error) {
	if len(body) < 4 {
		return "", fmt.Errorf("sockclnt_create: %w", ErrShortMessage)
	}
	n := binary.BigEndian.Uint32(body[:4])
	if n > MaxClientNameLen {
		return "", fmt.Errorf("sockclnt_create: name of %d bytes exceeds %d", n, MaxClientNameLen)
	}

	var name string
	if err := DecodeExact(body, &name, XDRStringSize(int(n))); err != nil {
		return "", fmt.Errorf("sockclnt_create: %w", err)
	}
	return name, nil
}

// SockclntCreateReply returns the client handle and the message table.
type SockclntCreateReply struct {
	Context  uint32
	Response Status
	Index    uint32
	Table    []MsgTableEntry
}

type sockclntCreateReplyFixed struct {
	Response int32
	Index    uint32
	Count    uint32
}

const sockclntCreateReplyFixedSize = 12

func (m *SockclntCreateReply) Size() int {
	size := ReplyHeaderSize + sockclntCreateReplyFixedSize
	for _, e := range m.Table {
		size += 4 + XDRStringSize(len(e.Name))
	}
	return size
}

func (m *SockclntCreateReply) Encode(w io.Writer) error {
	err := Encode(w,
		&ReplyHeader{MsgID: MsgSockclntCreateReply, Context: m.Context},
		&sockclntCreateReplyFixed{Response: int32(m.Response), Index: m.Index, Count: uint32(len(m.Table))},
	)
	if err != nil {
		return err
	}
	for i := range m.Table {
		if err := Encode(w, &m.Table[i]); err != nil {
			return err
		}
	}
	return nil
}

// DecodeSockclntCreateReply decodes a sockclnt_create_reply body.
func DecodeSockclntCreateReply(context uint32, body []byte) (*SockclntCreateReply, error) {
	r := bytes.NewReader(body)

	var fixed sockclntCreateReplyFixed
	if err := Decode(r, &fixed, sockclntCreateReplyFixedSize); err != nil {
		return nil, fmt.Errorf("sockclnt_create_reply: %w", err)
	}
	// Each entry is at least an id and an empty string.
	if uint64(fixed.Count)*8 > uint64(r.Len()) {
		return nil, fmt.Errorf("sockclnt_create_reply: %d entries in %d bytes: %w", fixed.Count, r.Len(), ErrShortMessage)
	}

	reply := &SockclntCreateReply{
		Context:  context,
		Response: Status(fixed.Response),
		Index:    fixed.Index,
		Table:    make([]MsgTableEntry, 0, fixed.Count),
	}
	for i := uint32(0); i < fixed.Count; i++ {
		var e MsgTableEntry
		if _, err := xdr.Unmarshal(r, &e); err != nil {
			return nil, fmt.Errorf("sockclnt_create_reply entry %d: %w", i, err)
		}
		reply.Table = append(reply.Table, e)
	}
	if err := Finish(r); err != nil {
		return nil, fmt.Errorf("sockclnt_create_reply: %w", err)
	}
	return reply, nil
}

// SockclntDelete frees a registration.
type SockclntDelete struct {
	Header RequestHeader
	Index  uint32
}

func (m *SockclntDelete) RequestHeader() RequestHeader { return m.Header }

func (m *SockclntDelete) Size() int { return RequestHeaderSize + 4 }

func (m *SockclntDelete) Encode(w io.Writer) error {
	return Encode(w, &m.Header, m.Index)
}

// DecodeSockclntDelete decodes the handle to free.
func DecodeSockclntDelete(body []byte) (uint32, error) {
	var index uint32
	if err := DecodeExact(body, &index, 4); err != nil {
		return 0, fmt.Errorf("sockclnt_delete: %w", err)
	}
	return index, nil
}
