// Package fibapi converts forwarding paths between their fixed 320-byte
// wire record and fib.RoutePath.
//
// Decoding is strict: every byte of the record either carries a value or
// must be zero. That makes Encode(Decode(b)) == b for every record Decode
// accepts, and Decode(Encode(p)) == p for every path Decode produced.
package fibapi

import (
	"bytes"
	"fmt"
	"io"
	"net/netip"

	"github.com/marmos91/abfd/internal/protocol/rpc"
	"github.com/marmos91/abfd/pkg/fib"
	xdr "github.com/rasky/go-xdr/xdr2"
)

// WirePathSize is the encoded size of one WirePath.
const WirePathSize = 320

// WireLabel is one entry of the fixed out-label stack.
type WireLabel struct {
	IsUniform uint32
	Label     uint32
	TTL       uint32
	Exp       uint32
}

// WireNextHop holds the next-hop address and its alternatives.
type WireNextHop struct {
	Address            [16]byte
	ViaLabel           uint32
	ObjID              uint32
	ClassifyTableIndex uint32
}

// WirePath is the on-the-wire path record.
type WirePath struct {
	SwIfIndex  uint32
	TableID    uint32
	RPFID      uint32
	Weight     uint32
	Preference uint32
	Type       uint32
	Flags      uint32
	Proto      uint32
	Nh         WireNextHop
	NLabels    uint32
	LabelStack [fib.MaxLabels]WireLabel
}

// DecodeError describes why a path record was rejected and which status the
// command carrying it must fail with.
type DecodeError struct {
	Status rpc.Status
	Field  string
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("path %s: %s", e.Field, e.Reason)
}

func invalid(status rpc.Status, field, format string, args ...any) *DecodeError {
	return &DecodeError{Status: status, Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Decode validates a wire record and converts it to a RoutePath.
func Decode(w *WirePath) (fib.RoutePath, error) {
	var p fib.RoutePath

	if w.Proto > uint32(fib.NextHopBIER) {
		return p, invalid(rpc.StatusInvalidValue, "proto", "unknown next-hop protocol %d", w.Proto)
	}
	if w.Type > uint32(fib.PathClassify) {
		return p, invalid(rpc.StatusUnimplemented, "type", "unsupported path type %d", w.Type)
	}
	if w.Flags&^uint32(fib.AllPathFlags) != 0 {
		return p, invalid(rpc.StatusInvalidValue, "flags", "unknown flag bits 0x%x", w.Flags&^uint32(fib.AllPathFlags))
	}
	if w.Weight > 0xff {
		return p, invalid(rpc.StatusInvalidValue, "weight", "%d exceeds 255", w.Weight)
	}
	if w.Preference > 0xff {
		return p, invalid(rpc.StatusInvalidValue, "preference", "%d exceeds 255", w.Preference)
	}
	if w.NLabels > fib.MaxLabels {
		return p, invalid(rpc.StatusInvalidValue2, "n_labels", "%d exceeds %d", w.NLabels, fib.MaxLabels)
	}

	p = fib.RoutePath{
		Proto:              fib.NextHopProto(w.Proto),
		Type:               fib.PathType(w.Type),
		Flags:              fib.PathFlags(w.Flags),
		SwIfIndex:          w.SwIfIndex,
		TableID:            w.TableID,
		RPFID:              w.RPFID,
		Weight:             uint8(w.Weight),
		Preference:         uint8(w.Preference),
		ViaLabel:           w.Nh.ViaLabel,
		ObjID:              w.Nh.ObjID,
		ClassifyTableIndex: w.Nh.ClassifyTableIndex,
	}

	addr := w.Nh.Address
	switch p.Proto {
	case fib.NextHopIP4:
		if [12]byte(addr[4:]) != [12]byte{} {
			return p, invalid(rpc.StatusInvalidValue, "nh.address", "ip4 address with non-zero padding")
		}
		p.NextHop = netip.AddrFrom4([4]byte(addr[:4]))
	case fib.NextHopIP6:
		p.NextHop = netip.AddrFrom16(addr)
	default:
		if addr != [16]byte{} {
			return p, invalid(rpc.StatusInvalidValue, "nh.address", "address set for %s next hop", p.Proto)
		}
	}

	if w.NLabels > 0 {
		p.Labels = make([]fib.Label, w.NLabels)
	}
	for i := range w.LabelStack {
		l := w.LabelStack[i]
		if uint32(i) >= w.NLabels {
			if l != (WireLabel{}) {
				return p, invalid(rpc.StatusInvalidValue, "label_stack", "unused slot %d not zero", i)
			}
			continue
		}
		if l.IsUniform > 1 {
			return p, invalid(rpc.StatusInvalidValue, "label_stack", "slot %d is_uniform %d not boolean", i, l.IsUniform)
		}
		if l.Label > fib.MaxLabelValue {
			return p, invalid(rpc.StatusInvalidValue, "label_stack", "slot %d label %d exceeds 20 bits", i, l.Label)
		}
		if l.TTL > 0xff {
			return p, invalid(rpc.StatusInvalidValue, "label_stack", "slot %d ttl %d exceeds 255", i, l.TTL)
		}
		if l.Exp > 7 {
			return p, invalid(rpc.StatusInvalidValue, "label_stack", "slot %d exp %d exceeds 7", i, l.Exp)
		}
		p.Labels[i] = fib.Label{Value: l.Label, TTL: uint8(l.TTL), Exp: uint8(l.Exp), Uniform: l.IsUniform == 1}
	}

	return p, nil
}

// Encode converts a RoutePath to its wire record.
//
// Fields of p are assumed to satisfy the ranges Decode enforces; labels
// beyond fib.MaxLabels are not representable and are dropped.
func Encode(p fib.RoutePath) WirePath {
	w := WirePath{
		SwIfIndex:  p.SwIfIndex,
		TableID:    p.TableID,
		RPFID:      p.RPFID,
		Weight:     uint32(p.Weight),
		Preference: uint32(p.Preference),
		Type:       uint32(p.Type),
		Flags:      uint32(p.Flags),
		Proto:      uint32(p.Proto),
		Nh: WireNextHop{
			ViaLabel:           p.ViaLabel,
			ObjID:              p.ObjID,
			ClassifyTableIndex: p.ClassifyTableIndex,
		},
	}

	switch {
	case p.Proto == fib.NextHopIP4 && p.NextHop.Unmap().Is4():
		a4 := p.NextHop.Unmap().As4()
		copy(w.Nh.Address[:4], a4[:])
	case p.Proto == fib.NextHopIP6 && p.NextHop.IsValid():
		w.Nh.Address = p.NextHop.As16()
	}

	n := min(len(p.Labels), fib.MaxLabels)
	w.NLabels = uint32(n)
	for i := 0; i < n; i++ {
		l := p.Labels[i]
		w.LabelStack[i] = WireLabel{Label: l.Value, TTL: uint32(l.TTL), Exp: uint32(l.Exp)}
		if l.Uniform {
			w.LabelStack[i].IsUniform = 1
		}
	}
	return w
}

// DecodePaths decodes every record in order and stops at the first failure.
// The error is a *DecodeError annotated with the failing index.
func DecodePaths(wire []WirePath) ([]fib.RoutePath, error) {
	paths := make([]fib.RoutePath, 0, len(wire))
	for i := range wire {
		p, err := Decode(&wire[i])
		if err != nil {
			de := err.(*DecodeError)
			return nil, &DecodeError{Status: de.Status, Field: fmt.Sprintf("[%d].%s", i, de.Field), Reason: de.Reason}
		}
		paths = append(paths, p)
	}
	return paths, nil
}

// EncodePaths encodes paths in order.
func EncodePaths(paths []fib.RoutePath) []WirePath {
	wire := make([]WirePath, len(paths))
	for i := range paths {
		wire[i] = Encode(paths[i])
	}
	return wire
}

// ReadWirePaths reads exactly n records from r.
func ReadWirePaths(r *bytes.Reader, n uint32) ([]WirePath, error) {
	if uint64(n)*WirePathSize > uint64(r.Len()) {
		return nil, fmt.Errorf("%w: %d paths need %d bytes, have %d",
			rpc.ErrShortMessage, n, uint64(n)*WirePathSize, r.Len())
	}
	wire := make([]WirePath, n)
	for i := range wire {
		if _, err := xdr.Unmarshal(r, &wire[i]); err != nil {
			return nil, fmt.Errorf("unmarshal path %d: %w", i, err)
		}
	}
	return wire, nil
}

// WriteWirePaths writes each record to w in order.
func WriteWirePaths(w io.Writer, wire []WirePath) error {
	for i := range wire {
		if _, err := xdr.Marshal(w, &wire[i]); err != nil {
			return fmt.Errorf("marshal path %d: %w", i, err)
		}
	}
	return nil
}
