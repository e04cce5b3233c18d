package fib

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRoutePath(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want RoutePath
	}{
		{
			name: "IPv4NextHop",
			in:   "via 10.0.0.1 sw_if_index 2",
			want: RoutePath{Proto: NextHopIP4, NextHop: netip.MustParseAddr("10.0.0.1"), SwIfIndex: 2, Weight: 1},
		},
		{
			name: "IPv6WithOptions",
			in:   "via 2001:db8::1 table 10 weight 3 preference 5 resolve-via-host",
			want: RoutePath{
				Proto: NextHopIP6, NextHop: netip.MustParseAddr("2001:db8::1"), SwIfIndex: ^uint32(0),
				TableID: 10, Weight: 3, Preference: 5, Flags: FlagResolveViaHost,
			},
		},
		{
			name: "Drop",
			in:   "drop",
			want: RoutePath{Type: PathDrop, SwIfIndex: ^uint32(0), Weight: 1},
		},
		{
			name: "Labels",
			in:   "via 10.0.0.1 out-labels 100 200 weight 2",
			want: RoutePath{
				Proto: NextHopIP4, NextHop: netip.MustParseAddr("10.0.0.1"), SwIfIndex: ^uint32(0), Weight: 2,
				Labels: []Label{{Value: 100, TTL: 64}, {Value: 200, TTL: 64}},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseRoutePath(tt.in)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "want %v got %v", tt.want, got)
		})
	}
}

func TestParseRoutePathErrors(t *testing.T) {
	for _, in := range []string{
		"",
		"via",
		"via not-an-address",
		"weight 300",
		"out-labels",
		"out-labels 1048576",
		"teleport",
	} {
		t.Run(in, func(t *testing.T) {
			_, err := ParseRoutePath(in)
			assert.Error(t, err)
		})
	}
}

func TestRoutePathStringParses(t *testing.T) {
	orig := RoutePath{
		Proto: NextHopIP4, NextHop: netip.MustParseAddr("192.0.2.1"), SwIfIndex: 4,
		Weight: 1, Preference: 2, Flags: FlagResolveViaAttached,
	}
	parsed, err := ParseRoutePath(orig.String())
	require.NoError(t, err)
	assert.True(t, orig.Equal(parsed))
}

func TestRoutePathEqualAndClone(t *testing.T) {
	a := RoutePath{Labels: []Label{{Value: 1}}}
	b := a.Clone()
	assert.True(t, a.Equal(b))

	b.Labels[0].Value = 2
	assert.False(t, a.Equal(b))
	assert.Equal(t, uint32(1), a.Labels[0].Value)
}

func TestProtocol(t *testing.T) {
	assert.Equal(t, "ip4", ProtocolIP4.String())
	assert.Equal(t, "ip6", ProtocolIP6.String())
	assert.True(t, ProtocolIP6.Valid())
	assert.False(t, Protocol(2).Valid())
}
