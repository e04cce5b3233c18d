package fibapi

import (
	"bytes"
	"errors"
	"net/netip"
	"testing"

	"github.com/marmos91/abfd/internal/protocol/rpc"
	"github.com/marmos91/abfd/pkg/fib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Test Helper Functions
// ============================================================================

func ip4Path(addr string, swIfIndex uint32) WirePath {
	w := WirePath{SwIfIndex: swIfIndex, Weight: 1, Proto: uint32(fib.NextHopIP4)}
	a := netip.MustParseAddr(addr).As4()
	copy(w.Nh.Address[:], a[:])
	return w
}

func ip6Path(addr string) WirePath {
	return WirePath{
		SwIfIndex:  ^uint32(0),
		TableID:    7,
		Weight:     3,
		Preference: 9,
		Flags:      uint32(fib.FlagResolveViaHost),
		Proto:      uint32(fib.NextHopIP6),
		Nh:         WireNextHop{Address: netip.MustParseAddr(addr).As16()},
	}
}

func labelledPath() WirePath {
	w := ip4Path("10.1.1.1", 3)
	w.NLabels = 2
	w.LabelStack[0] = WireLabel{IsUniform: 1, Label: 100, TTL: 64, Exp: 3}
	w.LabelStack[1] = WireLabel{Label: fib.MaxLabelValue, TTL: 255}
	return w
}

func marshalPath(t *testing.T, w WirePath) []byte {
	t.Helper()
	buf := new(bytes.Buffer)
	require.NoError(t, WriteWirePaths(buf, []WirePath{w}))
	return buf.Bytes()
}

// ============================================================================
// Round Trip Tests
// ============================================================================

func TestWirePathSize(t *testing.T) {
	assert.Len(t, marshalPath(t, WirePath{}), WirePathSize)
}

func TestRoundTrip(t *testing.T) {
	drop := WirePath{SwIfIndex: ^uint32(0), Type: uint32(fib.PathDrop), Proto: uint32(fib.NextHopIP4)}
	mpls := WirePath{SwIfIndex: 5, Weight: 1, Proto: uint32(fib.NextHopMPLS), Nh: WireNextHop{ViaLabel: 77}}
	classify := WirePath{Type: uint32(fib.PathClassify), Proto: uint32(fib.NextHopIP4), Nh: WireNextHop{ClassifyTableIndex: 12}}

	cases := map[string]WirePath{
		"IPv4":     ip4Path("192.0.2.1", 1),
		"IPv6":     ip6Path("2001:db8::1"),
		"Labelled": labelledPath(),
		"Drop":     drop,
		"MPLS":     mpls,
		"Classify": classify,
	}

	for name, wire := range cases {
		t.Run(name, func(t *testing.T) {
			raw := marshalPath(t, wire)

			decodedWire, err := ReadWirePaths(bytes.NewReader(raw), 1)
			require.NoError(t, err)

			path, err := Decode(&decodedWire[0])
			require.NoError(t, err)

			reencoded := marshalPath(t, Encode(path))
			assert.Equal(t, raw, reencoded)

			again, err := Decode(&decodedWire[0])
			require.NoError(t, err)
			roundTripped := Encode(again)
			back, err := Decode(&roundTripped)
			require.NoError(t, err)
			assert.True(t, path.Equal(back))
		})
	}
}

func TestDecodeFields(t *testing.T) {
	w := labelledPath()
	p, err := Decode(&w)
	require.NoError(t, err)

	assert.Equal(t, fib.NextHopIP4, p.Proto)
	assert.Equal(t, netip.MustParseAddr("10.1.1.1"), p.NextHop)
	assert.Equal(t, uint32(3), p.SwIfIndex)
	assert.Equal(t, uint8(1), p.Weight)
	require.Len(t, p.Labels, 2)
	assert.Equal(t, fib.Label{Value: 100, TTL: 64, Exp: 3, Uniform: true}, p.Labels[0])
	assert.Equal(t, fib.Label{Value: fib.MaxLabelValue, TTL: 255}, p.Labels[1])
}

// ============================================================================
// Validation Tests
// ============================================================================

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(w *WirePath)
		status rpc.Status
	}{
		{"UnknownProto", func(w *WirePath) { w.Proto = 9 }, rpc.StatusInvalidValue},
		{"UnsupportedType", func(w *WirePath) { w.Type = 42 }, rpc.StatusUnimplemented},
		{"UnknownFlags", func(w *WirePath) { w.Flags = 0x80 }, rpc.StatusInvalidValue},
		{"WeightOverflow", func(w *WirePath) { w.Weight = 256 }, rpc.StatusInvalidValue},
		{"PreferenceOverflow", func(w *WirePath) { w.Preference = 1000 }, rpc.StatusInvalidValue},
		{"TooManyLabels", func(w *WirePath) { w.NLabels = fib.MaxLabels + 1 }, rpc.StatusInvalidValue2},
		{"IPv4Padding", func(w *WirePath) { w.Nh.Address[15] = 1 }, rpc.StatusInvalidValue},
		{"AddressOnMPLS", func(w *WirePath) { w.Proto = uint32(fib.NextHopMPLS) }, rpc.StatusInvalidValue},
		{"UnusedLabelSlot", func(w *WirePath) { w.LabelStack[3].Label = 1 }, rpc.StatusInvalidValue},
		{"LabelTooWide", func(w *WirePath) { w.NLabels = 1; w.LabelStack[0].Label = 1 << 20 }, rpc.StatusInvalidValue},
		{"ExpTooWide", func(w *WirePath) { w.NLabels = 1; w.LabelStack[0].Exp = 8 }, rpc.StatusInvalidValue},
		{"UniformNotBool", func(w *WirePath) { w.NLabels = 1; w.LabelStack[0].IsUniform = 2 }, rpc.StatusInvalidValue},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ip4Path("10.0.0.1", 1)
			tt.mutate(&w)

			_, err := Decode(&w)
			require.Error(t, err)

			var de *DecodeError
			require.True(t, errors.As(err, &de))
			assert.Equal(t, tt.status, de.Status)
		})
	}
}

func TestDecodePaths(t *testing.T) {
	t.Run("PreservesOrder", func(t *testing.T) {
		wire := []WirePath{ip4Path("10.0.0.1", 1), ip6Path("2001:db8::2"), ip4Path("10.0.0.3", 3)}
		paths, err := DecodePaths(wire)
		require.NoError(t, err)
		require.Len(t, paths, 3)
		assert.Equal(t, netip.MustParseAddr("10.0.0.1"), paths[0].NextHop)
		assert.Equal(t, netip.MustParseAddr("2001:db8::2"), paths[1].NextHop)
		assert.Equal(t, netip.MustParseAddr("10.0.0.3"), paths[2].NextHop)
	})

	t.Run("StopsAtFirstFailure", func(t *testing.T) {
		bad := ip4Path("10.0.0.2", 2)
		bad.Type = 99
		paths, err := DecodePaths([]WirePath{ip4Path("10.0.0.1", 1), bad, ip4Path("10.0.0.3", 3)})
		assert.Nil(t, paths)

		var de *DecodeError
		require.True(t, errors.As(err, &de))
		assert.Equal(t, rpc.StatusUnimplemented, de.Status)
		assert.Equal(t, "[1].type", de.Field)
	})
}

func TestReadWirePathsShort(t *testing.T) {
	_, err := ReadWirePaths(bytes.NewReader(make([]byte, WirePathSize+10)), 2)
	assert.ErrorIs(t, err, rpc.ErrShortMessage)
}
