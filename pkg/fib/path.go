// Package fib holds the forwarding path descriptor shared by the policy
// store and the API codecs.
//
// Nothing here resolves paths; a RoutePath is a description that some
// forwarding engine would act on.
package fib

import (
	"fmt"
	"net/netip"
	"slices"
	"strings"
)

// Protocol is the address family a policy is attached under.
type Protocol uint8

const (
	ProtocolIP4 Protocol = iota
	ProtocolIP6
)

func (p Protocol) String() string {
	switch p {
	case ProtocolIP4:
		return "ip4"
	case ProtocolIP6:
		return "ip6"
	default:
		return fmt.Sprintf("proto(%d)", uint8(p))
	}
}

// Valid reports whether p is one of the two defined families.
func (p Protocol) Valid() bool {
	return p == ProtocolIP4 || p == ProtocolIP6
}

// NextHopProto is the payload protocol of a path's next hop.
type NextHopProto uint8

const (
	NextHopIP4 NextHopProto = iota
	NextHopIP6
	NextHopMPLS
	NextHopEthernet
	NextHopBIER
)

var nextHopProtoNames = []string{"ip4", "ip6", "mpls", "ethernet", "bier"}

func (p NextHopProto) String() string {
	if int(p) < len(nextHopProtoNames) {
		return nextHopProtoNames[p]
	}
	return fmt.Sprintf("nh-proto(%d)", uint8(p))
}

// IsIP reports whether next hops of this protocol carry an IP address.
func (p NextHopProto) IsIP() bool {
	return p == NextHopIP4 || p == NextHopIP6
}

// PathType selects how a path forwards.
type PathType uint8

const (
	PathNormal PathType = iota
	PathLocal
	PathDrop
	PathUDPEncap
	PathBIERImp
	PathICMPUnreach
	PathICMPProhibit
	PathSourceLookup
	PathDVR
	PathInterfaceRx
	PathClassify
)

var pathTypeNames = []string{
	"normal", "local", "drop", "udp-encap", "bier-imp", "icmp-unreach",
	"icmp-prohibit", "source-lookup", "dvr", "interface-rx", "classify",
}

func (t PathType) String() string {
	if int(t) < len(pathTypeNames) {
		return pathTypeNames[t]
	}
	return fmt.Sprintf("type(%d)", uint8(t))
}

// PathFlags modify next-hop resolution.
type PathFlags uint8

const (
	FlagResolveViaAttached PathFlags = 1 << iota
	FlagResolveViaHost
	FlagPopPWControlWord

	AllPathFlags = FlagResolveViaAttached | FlagResolveViaHost | FlagPopPWControlWord
)

// MaxLabels is the depth of the out-label stack.
const MaxLabels = 16

// MaxLabelValue is the largest 20-bit MPLS label.
const MaxLabelValue = 1<<20 - 1

// Label is one MPLS out-label.
type Label struct {
	Value   uint32
	TTL     uint8
	Exp     uint8
	Uniform bool
}

// RoutePath describes one forwarding next hop.
//
// NextHop holds a 4-byte address for NextHopIP4, a 16-byte address for
// NextHopIP6 and is the zero Addr for every other protocol.
type RoutePath struct {
	Proto              NextHopProto
	Type               PathType
	Flags              PathFlags
	SwIfIndex          uint32
	TableID            uint32
	RPFID              uint32
	Weight             uint8
	Preference         uint8
	NextHop            netip.Addr
	ViaLabel           uint32
	ObjID              uint32
	ClassifyTableIndex uint32
	Labels             []Label
}

// Equal reports whether two paths describe the same next hop.
func (p RoutePath) Equal(o RoutePath) bool {
	return p.Proto == o.Proto &&
		p.Type == o.Type &&
		p.Flags == o.Flags &&
		p.SwIfIndex == o.SwIfIndex &&
		p.TableID == o.TableID &&
		p.RPFID == o.RPFID &&
		p.Weight == o.Weight &&
		p.Preference == o.Preference &&
		p.NextHop == o.NextHop &&
		p.ViaLabel == o.ViaLabel &&
		p.ObjID == o.ObjID &&
		p.ClassifyTableIndex == o.ClassifyTableIndex &&
		slices.Equal(p.Labels, o.Labels)
}

// Clone returns a copy that shares no memory with p.
func (p RoutePath) Clone() RoutePath {
	p.Labels = slices.Clone(p.Labels)
	return p
}

func (p RoutePath) String() string {
	var b strings.Builder

	switch {
	case p.Type != PathNormal:
		b.WriteString(p.Type.String())
	case p.NextHop.IsValid():
		fmt.Fprintf(&b, "via %s", p.NextHop)
	default:
		fmt.Fprintf(&b, "via %s", p.Proto)
	}

	if p.SwIfIndex != ^uint32(0) {
		fmt.Fprintf(&b, " sw_if_index %d", p.SwIfIndex)
	}
	if p.TableID != 0 {
		fmt.Fprintf(&b, " table %d", p.TableID)
	}
	fmt.Fprintf(&b, " weight %d", p.Weight)
	if p.Preference != 0 {
		fmt.Fprintf(&b, " preference %d", p.Preference)
	}
	if p.Flags&FlagResolveViaHost != 0 {
		b.WriteString(" resolve-via-host")
	}
	if p.Flags&FlagResolveViaAttached != 0 {
		b.WriteString(" resolve-via-attached")
	}
	if p.Flags&FlagPopPWControlWord != 0 {
		b.WriteString(" pop-pw-cw")
	}
	if len(p.Labels) > 0 {
		b.WriteString(" out-labels")
		for _, l := range p.Labels {
			fmt.Fprintf(&b, " %d", l.Value)
		}
	}
	return b.String()
}
