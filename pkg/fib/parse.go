package fib

import (
	"fmt"
	"net/netip"
	"strconv"
	"strings"
)

// ParseRoutePath parses the textual path form printed by RoutePath.String,
// for example:
//
//	via 10.0.0.1 sw_if_index 2 weight 1
//	via 2001:db8::1 table 10 preference 5 resolve-via-host
//	drop
//	via 10.0.0.1 out-labels 100 200
//
// Unspecified fields default to weight 1 and no interface (~0).
func ParseRoutePath(s string) (RoutePath, error) {
	path := RoutePath{Weight: 1, SwIfIndex: ^uint32(0)}

	tokens := strings.Fields(s)
	if len(tokens) == 0 {
		return path, fmt.Errorf("empty path")
	}

	next := func(i int, what string) (string, error) {
		if i+1 >= len(tokens) {
			return "", fmt.Errorf("%s: missing value", what)
		}
		return tokens[i+1], nil
	}

	for i := 0; i < len(tokens); i++ {
		tok := tokens[i]
		switch tok {
		case "via":
			v, err := next(i, tok)
			if err != nil {
				return path, err
			}
			addr, err := netip.ParseAddr(v)
			if err != nil {
				return path, fmt.Errorf("via: %w", err)
			}
			path.NextHop = addr
			if addr.Is4() {
				path.Proto = NextHopIP4
			} else {
				path.Proto = NextHopIP6
			}
			i++

		case "sw_if_index", "table", "weight", "preference":
			v, err := next(i, tok)
			if err != nil {
				return path, err
			}
			bits := 32
			if tok == "weight" || tok == "preference" {
				bits = 8
			}
			n, err := strconv.ParseUint(v, 10, bits)
			if err != nil {
				return path, fmt.Errorf("%s: %w", tok, err)
			}
			switch tok {
			case "sw_if_index":
				path.SwIfIndex = uint32(n)
			case "table":
				path.TableID = uint32(n)
			case "weight":
				path.Weight = uint8(n)
			case "preference":
				path.Preference = uint8(n)
			}
			i++

		case "resolve-via-host":
			path.Flags |= FlagResolveViaHost
		case "resolve-via-attached":
			path.Flags |= FlagResolveViaAttached
		case "pop-pw-cw":
			path.Flags |= FlagPopPWControlWord

		case "out-labels":
			for i+1 < len(tokens) {
				n, err := strconv.ParseUint(tokens[i+1], 10, 32)
				if err != nil {
					break
				}
				if n > MaxLabelValue {
					return path, fmt.Errorf("out-labels: %d exceeds %d", n, MaxLabelValue)
				}
				path.Labels = append(path.Labels, Label{Value: uint32(n), TTL: 64})
				i++
			}
			if len(path.Labels) == 0 {
				return path, fmt.Errorf("out-labels: missing value")
			}
			if len(path.Labels) > MaxLabels {
				return path, fmt.Errorf("out-labels: %d labels exceeds %d", len(path.Labels), MaxLabels)
			}

		default:
			t, ok := parsePathType(tok)
			if !ok {
				return path, fmt.Errorf("unexpected token %q", tok)
			}
			path.Type = t
		}
	}

	return path, nil
}

func parsePathType(s string) (PathType, bool) {
	for i, name := range pathTypeNames {
		if name == s && PathType(i) != PathNormal {
			return PathType(i), true
		}
	}
	return 0, false
}
