package main

import (
	"bytes"
	"net/netip"
	"testing"

	"github.com/marmos91/abfd/pkg/abf"
	"github.com/marmos91/abfd/pkg/fib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePaths(t *testing.T) {
	paths, err := parsePaths([]string{"via 10.0.0.1 sw_if_index 2", "drop"})
	require.NoError(t, err)
	require.Len(t, paths, 2)
	assert.Equal(t, netip.MustParseAddr("10.0.0.1"), paths[0].NextHop)
	assert.Equal(t, uint32(2), paths[0].SwIfIndex)
	assert.Equal(t, fib.PathDrop, paths[1].Type)

	_, err = parsePaths([]string{"via"})
	assert.Error(t, err)
}

func TestPrintAttachments(t *testing.T) {
	var buf bytes.Buffer
	printAttachments(&buf, []abf.Attachment{{PolicyID: 1, SwIfIndex: 2, Priority: 3, Proto: fib.ProtocolIP6}})
	assert.Contains(t, buf.String(), "POLICY")
	assert.Regexp(t, `1\s+2\s+3\s+`+fib.ProtocolIP6.String(), buf.String())
}

func TestPrintPolicies(t *testing.T) {
	p, err := fib.ParseRoutePath("via 10.0.0.1 sw_if_index 2")
	require.NoError(t, err)

	var buf bytes.Buffer
	printPolicies(&buf, []*abf.Policy{{ID: 4, ACLIndex: 9, Paths: []fib.RoutePath{p}}})
	assert.Contains(t, buf.String(), "policy 4 acl 9\n")
	assert.Contains(t, buf.String(), "  "+p.String()+"\n")
}
