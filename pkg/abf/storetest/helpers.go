package storetest

import (
	"net/netip"

	"github.com/marmos91/abfd/pkg/fib"
)

// ViaIP4 returns a simple IPv4 path through swIfIndex.
func ViaIP4(addr string, swIfIndex uint32) fib.RoutePath {
	return fib.RoutePath{
		Proto:     fib.NextHopIP4,
		SwIfIndex: swIfIndex,
		Weight:    1,
		NextHop:   netip.MustParseAddr(addr),
	}
}

// ViaIP6 returns a recursive IPv6 path carrying an out-label.
func ViaIP6(addr string) fib.RoutePath {
	return fib.RoutePath{
		Proto:     fib.NextHopIP6,
		SwIfIndex: ^uint32(0),
		Weight:    1,
		NextHop:   netip.MustParseAddr(addr),
		Labels:    []fib.Label{{Value: 100, TTL: 64}},
	}
}

// Drop returns a drop path.
func Drop() fib.RoutePath {
	return fib.RoutePath{Proto: fib.NextHopIP4, Type: fib.PathDrop, SwIfIndex: ^uint32(0)}
}
