package abf

import (
	"bytes"
	"fmt"
	"io"

	"github.com/marmos91/abfd/internal/protocol/fibapi"
	"github.com/marmos91/abfd/internal/protocol/rpc"
	"github.com/marmos91/abfd/pkg/abf"
	"github.com/marmos91/abfd/pkg/fib"
)

// Message offsets from the plugin's base message id.
const (
	OffGetVersion = iota
	OffGetVersionReply
	OffPolicyAddDel
	OffPolicyAddDelReply
	OffPolicyDetails
	OffPolicyDump
	OffItfAttachAddDel
	OffItfAttachAddDelReply
	OffItfAttachDetails
	OffItfAttachDump

	msgCount
)

var (
	_ rpc.Request = (*PolicyAddDel)(nil)
	_ rpc.Request = (*ItfAttachAddDel)(nil)
)

// PluginName is the message table range name of this API.
const PluginName = "abf"

// MessageNames lists the API's messages in offset order.
var MessageNames = [msgCount]string{
	OffGetVersion:           "abf_plugin_get_version",
	OffGetVersionReply:      "abf_plugin_get_version_reply",
	OffPolicyAddDel:         "abf_policy_add_del",
	OffPolicyAddDelReply:    "abf_policy_add_del_reply",
	OffPolicyDetails:        "abf_policy_details",
	OffPolicyDump:           "abf_policy_dump",
	OffItfAttachAddDel:      "abf_itf_attach_add_del",
	OffItfAttachAddDelReply: "abf_itf_attach_add_del_reply",
	OffItfAttachDetails:     "abf_itf_attach_details",
	OffItfAttachDump:        "abf_itf_attach_dump",
}

// Version of this API.
const (
	VersionMajor = 1
	VersionMinor = 0
)

// MaxRequestPaths is the largest path count a policy_add_del may carry.
const MaxRequestPaths = 255

func boolToWire(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

func protoFromWire(isIPv6 uint32) fib.Protocol {
	if isIPv6 != 0 {
		return fib.ProtocolIP6
	}
	return fib.ProtocolIP4
}

// ============================================================================
// Version
// ============================================================================

// GetVersionReply carries the API version.
type GetVersionReply struct {
	MsgID   uint32
	Context uint32
	Major   uint32
	Minor   uint32
}

func (m *GetVersionReply) Size() int { return rpc.ReplyHeaderSize + 8 }

func (m *GetVersionReply) Encode(w io.Writer) error {
	return rpc.Encode(w, &rpc.ReplyHeader{MsgID: m.MsgID, Context: m.Context}, m.Major, m.Minor)
}

// DecodeGetVersionReply decodes a version reply body.
func DecodeGetVersionReply(body []byte) (major, minor uint32, err error) {
	var v struct{ Major, Minor uint32 }
	if err := rpc.DecodeExact(body, &v, 8); err != nil {
		return 0, 0, fmt.Errorf("%s: %w", MessageNames[OffGetVersionReply], err)
	}
	return v.Major, v.Minor, nil
}

// ============================================================================
// Policies
// ============================================================================

type policyFixed struct {
	IsAdd    uint32
	PolicyID uint32
	ACLIndex uint32
	NPaths   uint32
}

const policyFixedSize = 16

// PolicyAddDel creates, extends or shrinks a policy.
type PolicyAddDel struct {
	Header   rpc.RequestHeader
	IsAdd    bool
	PolicyID uint32
	ACLIndex uint32
	Paths    []fibapi.WirePath
}

func (m *PolicyAddDel) RequestHeader() rpc.RequestHeader { return m.Header }

func (m *PolicyAddDel) Size() int {
	return rpc.RequestHeaderSize + policyFixedSize + len(m.Paths)*fibapi.WirePathSize
}

func (m *PolicyAddDel) Encode(w io.Writer) error {
	fixed := policyFixed{IsAdd: boolToWire(m.IsAdd), PolicyID: m.PolicyID, ACLIndex: m.ACLIndex, NPaths: uint32(len(m.Paths))}
	if err := rpc.Encode(w, &m.Header, &fixed); err != nil {
		return err
	}
	return fibapi.WriteWirePaths(w, m.Paths)
}

// DecodePolicyAddDel decodes the request body. Paths are returned in wire
// form; validating them is the handler's job.
func DecodePolicyAddDel(hdr rpc.RequestHeader, body []byte) (*PolicyAddDel, error) {
	r := bytes.NewReader(body)

	var fixed policyFixed
	if err := rpc.Decode(r, &fixed, policyFixedSize); err != nil {
		return nil, fmt.Errorf("%s: %w", MessageNames[OffPolicyAddDel], err)
	}
	if fixed.NPaths > MaxRequestPaths {
		return nil, fmt.Errorf("%s: n_paths %d exceeds %d", MessageNames[OffPolicyAddDel], fixed.NPaths, MaxRequestPaths)
	}

	paths, err := fibapi.ReadWirePaths(r, fixed.NPaths)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", MessageNames[OffPolicyAddDel], err)
	}
	if err := rpc.Finish(r); err != nil {
		return nil, fmt.Errorf("%s: %w", MessageNames[OffPolicyAddDel], err)
	}

	return &PolicyAddDel{
		Header:   hdr,
		IsAdd:    fixed.IsAdd != 0,
		PolicyID: fixed.PolicyID,
		ACLIndex: fixed.ACLIndex,
		Paths:    paths,
	}, nil
}

type policyDetailsFixed struct {
	PolicyID uint32
	ACLIndex uint32
	NPaths   uint32
}

const policyDetailsFixedSize = 12

// PolicyDetails describes one policy in a dump.
//
// The path count on the wire is taken from len(Paths), and the exact-size
// builder rejects any encoding that writes a different number of records.
type PolicyDetails struct {
	MsgID    uint32
	Context  uint32
	PolicyID uint32
	ACLIndex uint32
	Paths    []fibapi.WirePath
}

// NewPolicyDetails encodes p's paths for a details message.
func NewPolicyDetails(msgID, context uint32, p *abf.Policy) *PolicyDetails {
	return &PolicyDetails{
		MsgID:    msgID,
		Context:  context,
		PolicyID: p.ID,
		ACLIndex: p.ACLIndex,
		Paths:    fibapi.EncodePaths(p.Paths),
	}
}

func (m *PolicyDetails) Size() int {
	return rpc.ReplyHeaderSize + policyDetailsFixedSize + len(m.Paths)*fibapi.WirePathSize
}

func (m *PolicyDetails) Encode(w io.Writer) error {
	err := rpc.Encode(w,
		&rpc.ReplyHeader{MsgID: m.MsgID, Context: m.Context},
		&policyDetailsFixed{PolicyID: m.PolicyID, ACLIndex: m.ACLIndex, NPaths: uint32(len(m.Paths))},
	)
	if err != nil {
		return err
	}
	return fibapi.WriteWirePaths(w, m.Paths)
}

// MaxDetailsPaths returns the largest number of paths a policy may hold for
// its details message to fit in a record of maxSize bytes. It is at least 1.
func MaxDetailsPaths(maxSize uint32) int {
	fixed := rpc.ReplyHeaderSize + policyDetailsFixedSize
	n := (int(maxSize) - fixed) / fibapi.WirePathSize
	return max(n, 1)
}

// DecodePolicyDetails decodes a details body and its paths.
func DecodePolicyDetails(body []byte) (*abf.Policy, error) {
	r := bytes.NewReader(body)

	var fixed policyDetailsFixed
	if err := rpc.Decode(r, &fixed, policyDetailsFixedSize); err != nil {
		return nil, fmt.Errorf("%s: %w", MessageNames[OffPolicyDetails], err)
	}
	wire, err := fibapi.ReadWirePaths(r, fixed.NPaths)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", MessageNames[OffPolicyDetails], err)
	}
	if err := rpc.Finish(r); err != nil {
		return nil, fmt.Errorf("%s: %w", MessageNames[OffPolicyDetails], err)
	}

	paths, err := fibapi.DecodePaths(wire)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", MessageNames[OffPolicyDetails], err)
	}
	return &abf.Policy{ID: fixed.PolicyID, ACLIndex: fixed.ACLIndex, Paths: paths}, nil
}

// ============================================================================
// Interface attachments
// ============================================================================

type itfAttachFixed struct {
	IsAdd     uint32
	PolicyID  uint32
	SwIfIndex uint32
	Priority  uint32
	IsIPv6    uint32
}

const itfAttachFixedSize = 20

// ItfAttachAddDel attaches a policy to, or detaches it from, an interface.
type ItfAttachAddDel struct {
	Header    rpc.RequestHeader
	IsAdd     bool
	PolicyID  uint32
	SwIfIndex uint32
	Priority  uint32
	Proto     fib.Protocol
}

func (m *ItfAttachAddDel) RequestHeader() rpc.RequestHeader { return m.Header }

func (m *ItfAttachAddDel) Size() int { return rpc.RequestHeaderSize + itfAttachFixedSize }

func (m *ItfAttachAddDel) Encode(w io.Writer) error {
	return rpc.Encode(w, &m.Header, &itfAttachFixed{
		IsAdd:     boolToWire(m.IsAdd),
		PolicyID:  m.PolicyID,
		SwIfIndex: m.SwIfIndex,
		Priority:  m.Priority,
		IsIPv6:    boolToWire(m.Proto == fib.ProtocolIP6),
	})
}

// DecodeItfAttachAddDel decodes the request body.
func DecodeItfAttachAddDel(hdr rpc.RequestHeader, body []byte) (*ItfAttachAddDel, error) {
	var fixed itfAttachFixed
	if err := rpc.DecodeExact(body, &fixed, itfAttachFixedSize); err != nil {
		return nil, fmt.Errorf("%s: %w", MessageNames[OffItfAttachAddDel], err)
	}
	return &ItfAttachAddDel{
		Header:    hdr,
		IsAdd:     fixed.IsAdd != 0,
		PolicyID:  fixed.PolicyID,
		SwIfIndex: fixed.SwIfIndex,
		Priority:  fixed.Priority,
		Proto:     protoFromWire(fixed.IsIPv6),
	}, nil
}

type itfAttachDetailsBody struct {
	PolicyID  uint32
	SwIfIndex uint32
	Priority  uint32
	IsIPv6    uint32
}

const itfAttachDetailsBodySize = 16

// ItfAttachDetails describes one attachment in a dump.
type ItfAttachDetails struct {
	MsgID      uint32
	Context    uint32
	Attachment abf.Attachment
}

func (m *ItfAttachDetails) Size() int { return rpc.ReplyHeaderSize + itfAttachDetailsBodySize }

func (m *ItfAttachDetails) Encode(w io.Writer) error {
	a := m.Attachment
	return rpc.Encode(w,
		&rpc.ReplyHeader{MsgID: m.MsgID, Context: m.Context},
		&itfAttachDetailsBody{
			PolicyID:  a.PolicyID,
			SwIfIndex: a.SwIfIndex,
			Priority:  a.Priority,
			IsIPv6:    boolToWire(a.Proto == fib.ProtocolIP6),
		},
	)
}

// DecodeItfAttachDetails decodes a details body.
func DecodeItfAttachDetails(body []byte) (abf.Attachment, error) {
	var b itfAttachDetailsBody
	if err := rpc.DecodeExact(body, &b, itfAttachDetailsBodySize); err != nil {
		return abf.Attachment{}, fmt.Errorf("%s: %w", MessageNames[OffItfAttachDetails], err)
	}
	return abf.Attachment{
		PolicyID:  b.PolicyID,
		SwIfIndex: b.SwIfIndex,
		Priority:  b.Priority,
		Proto:     protoFromWire(b.IsIPv6),
	}, nil
}
