package api

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"path/filepath"
	"testing"
	"time"

	abfproto "github.com/marmos91/abfd/internal/protocol/abf"
	"github.com/marmos91/abfd/internal/protocol/fibapi"
	"github.com/marmos91/abfd/internal/protocol/rpc"
	"github.com/marmos91/abfd/pkg/abf"
	"github.com/marmos91/abfd/pkg/abf/memory"
	"github.com/marmos91/abfd/pkg/abf/storetest"
	"github.com/marmos91/abfd/pkg/client"
	"github.com/marmos91/abfd/pkg/fib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testBase = 200

// ============================================================================
// Test Helper Functions
// ============================================================================

type running struct {
	adapter *Adapter
	store   abf.Store
	cancel  context.CancelFunc
	done    chan error
}

func startAdapter(t *testing.T, cfg Config) *running {
	t.Helper()
	return startAdapterWithStore(t, cfg, memory.NewWithDefaults())
}

func startAdapterWithStore(t *testing.T, cfg Config, store abf.Store) *running {
	t.Helper()
	if cfg.Address == "" && cfg.Network != "unix" {
		cfg.Address = "127.0.0.1:0"
	}

	a := New(cfg, abfproto.Config{BaseMsgID: testBase}, nil)
	a.SetStore(store)
	require.NoError(t, a.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	r := &running{adapter: a, store: store, cancel: cancel, done: make(chan error, 1)}
	go func() { r.done <- a.Serve(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case <-r.done:
		case <-time.After(5 * time.Second):
			t.Error("adapter did not stop")
		}
	})
	return r
}

func (r *running) connect(t *testing.T, opts ...client.Option) *client.Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	c, err := client.Connect(ctx, r.adapter.config.Network, r.adapter.Addr(), "test", opts...)
	require.NoError(t, err)
	return c
}

func testCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// rawConn speaks the wire format directly, for requests the client
// package never sends.
type rawConn struct {
	conn   net.Conn
	reader *bufio.Reader
	handle uint32
}

func (r *running) dialRaw(t *testing.T) *rawConn {
	t.Helper()
	conn, err := net.Dial(r.adapter.config.Network, r.adapter.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.NoError(t, conn.SetDeadline(time.Now().Add(2*time.Second)))

	rc := &rawConn{conn: conn, reader: bufio.NewReader(conn)}
	rc.send(t, &rpc.SockclntCreate{Header: rpc.RequestHeader{MsgID: rpc.MsgSockclntCreate, Context: 1}, Name: "raw"})
	hdr, body := rc.receive(t)
	require.Equal(t, rpc.MsgSockclntCreateReply, hdr.MsgID)
	reply, err := rpc.DecodeSockclntCreateReply(hdr.Context, body)
	require.NoError(t, err)
	rc.handle = reply.Index
	return rc
}

func (rc *rawConn) send(t *testing.T, msg rpc.Message) {
	t.Helper()
	record, err := rpc.MarshalRecord(msg)
	require.NoError(t, err)
	_, err = rc.conn.Write(record)
	require.NoError(t, err)
}

func (rc *rawConn) sendBytes(t *testing.T, payload []byte) {
	t.Helper()
	record := make([]byte, 4+len(payload))
	rpc.PutFragmentHeader(record[:4], len(payload))
	copy(record[4:], payload)
	_, err := rc.conn.Write(record)
	require.NoError(t, err)
}

func (rc *rawConn) receive(t *testing.T) (rpc.ReplyHeader, []byte) {
	t.Helper()
	record, err := rpc.ReadRecord(rc.reader, rpc.DefaultMaxMessageSize)
	require.NoError(t, err)
	hdr, body, err := rpc.ParseReplyHeader(append([]byte(nil), record...))
	require.NoError(t, err)
	return hdr, body
}

func (rc *rawConn) ping(t *testing.T, clientIndex, seq uint32) {
	t.Helper()
	rc.send(t, &rpc.HeaderOnly{Header: rpc.RequestHeader{MsgID: rpc.MsgControlPing, ClientIndex: clientIndex, Context: seq}})
}

// ============================================================================
// End-to-End Tests
// ============================================================================

func TestEndToEnd(t *testing.T) {
	r := startAdapter(t, Config{})
	c := r.connect(t)
	defer c.Close()
	ctx := testCtx(t)

	major, minor, err := c.GetVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), major)
	assert.Equal(t, uint32(0), minor)

	paths := []fib.RoutePath{storetest.ViaIP4("10.0.0.1", 1), storetest.ViaIP6("2001:db8::1")}
	require.NoError(t, c.PolicyAddDel(ctx, true, 7, 3, paths))
	require.NoError(t, c.PolicyAddDel(ctx, true, 8, 4, []fib.RoutePath{storetest.Drop()}))

	policies, err := c.PolicyDump(ctx)
	require.NoError(t, err)
	require.Len(t, policies, 2)
	assert.Equal(t, uint32(7), policies[0].ID)
	assert.Equal(t, uint32(3), policies[0].ACLIndex)
	require.Len(t, policies[0].Paths, 2)
	assert.True(t, paths[1].Equal(policies[0].Paths[1]))

	att := abf.Attachment{PolicyID: 7, SwIfIndex: 5, Priority: 10, Proto: fib.ProtocolIP6}
	require.NoError(t, c.ItfAttachAddDel(ctx, true, att))
	assert.ErrorIs(t, c.ItfAttachAddDel(ctx, true, att), rpc.StatusEntryAlreadyExists)

	attachments, err := c.ItfAttachDump(ctx)
	require.NoError(t, err)
	assert.Equal(t, []abf.Attachment{att}, attachments)

	require.NoError(t, c.ItfAttachAddDel(ctx, false, att))
	require.NoError(t, c.PolicyAddDel(ctx, false, 7, 0, paths))
	assert.ErrorIs(t, c.PolicyAddDel(ctx, false, 7, 0, paths), rpc.StatusNoSuchEntry)

	policies, err = c.PolicyDump(ctx)
	require.NoError(t, err)
	require.Len(t, policies, 1)
	assert.Equal(t, uint32(8), policies[0].ID)
}

func TestMessageTable(t *testing.T) {
	r := startAdapter(t, Config{})
	c := r.connect(t)
	defer c.Close()

	id, ok := c.MsgID("abf_itf_attach_dump")
	require.True(t, ok)
	assert.Equal(t, uint32(testBase+abfproto.OffItfAttachDump), id)

	id, ok = c.MsgID("control_ping")
	require.True(t, ok)
	assert.Equal(t, rpc.MsgControlPing, id)
}

func TestControlPing(t *testing.T) {
	r := startAdapter(t, Config{})
	c := r.connect(t)
	defer c.Close()

	reply, err := c.ControlPing(testCtx(t))
	require.NoError(t, err)
	assert.Equal(t, rpc.StatusOK, reply.Retval)
	assert.Equal(t, c.Handle(), reply.ClientIndex)
	assert.NotZero(t, reply.DaemonPID)
}

func TestClientsShareStore(t *testing.T) {
	r := startAdapter(t, Config{})
	a := r.connect(t)
	defer a.Close()
	b := r.connect(t)
	defer b.Close()
	ctx := testCtx(t)

	assert.NotEqual(t, a.Handle(), b.Handle())
	require.NoError(t, a.PolicyAddDel(ctx, true, 1, 0, []fib.RoutePath{storetest.Drop()}))

	policies, err := b.PolicyDump(ctx)
	require.NoError(t, err)
	require.Len(t, policies, 1)
	assert.Equal(t, uint32(1), policies[0].ID)
}

// ============================================================================
// Drop Behaviour Tests
// ============================================================================

func TestUnknownMessageDropped(t *testing.T) {
	r := startAdapter(t, Config{})
	rc := r.dialRaw(t)

	rc.send(t, &rpc.HeaderOnly{Header: rpc.RequestHeader{MsgID: 9999, ClientIndex: rc.handle, Context: 5}})
	rc.ping(t, rc.handle, 6)

	hdr, _ := rc.receive(t)
	assert.Equal(t, rpc.MsgControlPingReply, hdr.MsgID)
	assert.Equal(t, uint32(6), hdr.Context)
}

func TestShortRecordDropped(t *testing.T) {
	r := startAdapter(t, Config{})
	rc := r.dialRaw(t)

	rc.sendBytes(t, []byte{0, 0, 0, 1})
	rc.ping(t, rc.handle, 2)

	hdr, _ := rc.receive(t)
	assert.Equal(t, rpc.MsgControlPingReply, hdr.MsgID)
}

func TestDumpForUnknownClientDropped(t *testing.T) {
	r := startAdapter(t, Config{})
	c := r.connect(t)
	defer c.Close()
	require.NoError(t, c.PolicyAddDel(testCtx(t), true, 1, 0, []fib.RoutePath{storetest.Drop()}))

	rc := r.dialRaw(t)
	stale := rc.handle + 1<<24
	rc.send(t, &rpc.HeaderOnly{Header: rpc.RequestHeader{MsgID: testBase + abfproto.OffPolicyDump, ClientIndex: stale, Context: 3}})
	rc.ping(t, rc.handle, 4)

	hdr, _ := rc.receive(t)
	assert.Equal(t, rpc.MsgControlPingReply, hdr.MsgID)
	assert.Equal(t, uint32(4), hdr.Context)
	assert.NotZero(t, r.adapter.Registry().MissingClients())
}

func TestOversizedRecordClosesConnection(t *testing.T) {
	r := startAdapter(t, Config{MaxMessageSize: 64})
	rc := r.dialRaw(t)

	rc.sendBytes(t, make([]byte, 128))

	_, err := rc.reader.ReadByte()
	assert.Error(t, err)
}

func TestMalformedCommandAnswered(t *testing.T) {
	r := startAdapter(t, Config{})
	rc := r.dialRaw(t)

	req := &abfproto.PolicyAddDel{
		Header:   rpc.RequestHeader{MsgID: testBase + abfproto.OffPolicyAddDel, ClientIndex: rc.handle, Context: 9},
		IsAdd:    true,
		PolicyID: 1,
		Paths:    fibapi.EncodePaths([]fib.RoutePath{storetest.Drop()}),
	}
	raw, err := rpc.Marshal(req)
	require.NoError(t, err)
	raw[rpc.RequestHeaderSize+14] = 1 // n_paths = 257
	rc.sendBytes(t, raw)

	hdr, body := rc.receive(t)
	require.Equal(t, uint32(testBase+abfproto.OffPolicyAddDelReply), hdr.MsgID)
	assert.Equal(t, uint32(9), hdr.Context)
	status, err := rpc.DecodeRetval(body)
	require.NoError(t, err)
	assert.Equal(t, rpc.StatusInvalidValue, status)
}

// ============================================================================
// Large Dump Tests
// ============================================================================

// manyPaths returns n distinct IPv4 paths, numbered from start.
func manyPaths(start, n int) []fib.RoutePath {
	paths := make([]fib.RoutePath, 0, n)
	for i := start; i < start+n; i++ {
		paths = append(paths, storetest.ViaIP4(fmt.Sprintf("10.%d.%d.1", i/256, i%256), 1))
	}
	return paths
}

// addPaths grows policy 1 by batches of the largest request.
func addPaths(t *testing.T, ctx context.Context, c *client.Client, batches int) {
	t.Helper()
	for i := 0; i < batches; i++ {
		require.NoError(t, c.PolicyAddDel(ctx, true, 1, 0, manyPaths(i*abfproto.MaxRequestPaths, abfproto.MaxRequestPaths)))
	}
}

func TestLargePolicyDump(t *testing.T) {
	const batches = 14
	total := batches * abfproto.MaxRequestPaths
	require.Greater(t, total, abfproto.MaxDetailsPaths(rpc.DefaultMaxMessageSize))

	t.Run("ClientWithLargerLimit", func(t *testing.T) {
		r := startAdapter(t, Config{})
		c := r.connect(t, client.WithMaxMessageSize(4<<20))
		defer c.Close()
		ctx := testCtx(t)
		addPaths(t, ctx, c, batches)

		policies, err := c.PolicyDump(ctx)
		require.NoError(t, err)
		require.Len(t, policies, 1)
		assert.Len(t, policies[0].Paths, total)

		major, _, err := c.GetVersion(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint32(abfproto.VersionMajor), major)
	})

	t.Run("ClientWithDefaultLimitFailsFast", func(t *testing.T) {
		r := startAdapter(t, Config{})
		c := r.connect(t)
		defer c.Close()
		ctx := testCtx(t)
		addPaths(t, ctx, c, batches)

		_, err := c.PolicyDump(ctx)
		require.ErrorIs(t, err, rpc.ErrMessageTooLarge)

		// The stream cannot be reframed; later calls fail at once instead
		// of misreading the rest of the oversized record.
		_, _, err = c.GetVersion(ctx)
		assert.ErrorIs(t, err, rpc.ErrMessageTooLarge)
	})
}

func TestMaxPathsKeepsDumpReadable(t *testing.T) {
	limit := abfproto.MaxDetailsPaths(rpc.DefaultMaxMessageSize)
	store := memory.New(memory.Config{Limits: abf.Limits{MaxPaths: limit}})
	r := startAdapterWithStore(t, Config{}, store)
	c := r.connect(t)
	defer c.Close()
	ctx := testCtx(t)

	full := limit / abfproto.MaxRequestPaths
	addPaths(t, ctx, c, full)
	err := c.PolicyAddDel(ctx, true, 1, 0, manyPaths(full*abfproto.MaxRequestPaths, abfproto.MaxRequestPaths))
	assert.ErrorIs(t, err, rpc.StatusTableTooBig)

	policies, err := c.PolicyDump(ctx)
	require.NoError(t, err)
	require.Len(t, policies, 1)
	assert.Len(t, policies[0].Paths, full*abfproto.MaxRequestPaths)
}

// ============================================================================
// Registration Tests
// ============================================================================

func TestSockclntDelete(t *testing.T) {
	t.Run("OtherHandleRejected", func(t *testing.T) {
		r := startAdapter(t, Config{})
		rc := r.dialRaw(t)

		rc.send(t, &rpc.SockclntDelete{Header: rpc.RequestHeader{MsgID: rpc.MsgSockclntDelete, ClientIndex: rc.handle, Context: 2}, Index: rc.handle + 1})
		hdr, body := rc.receive(t)
		require.Equal(t, rpc.MsgSockclntDeleteReply, hdr.MsgID)
		status, err := rpc.DecodeRetval(body)
		require.NoError(t, err)
		assert.Equal(t, rpc.StatusInvalidValue, status)

		// The connection stays usable.
		rc.ping(t, rc.handle, 3)
		hdr, _ = rc.receive(t)
		assert.Equal(t, rpc.MsgControlPingReply, hdr.MsgID)
	})

	t.Run("OwnHandleFreesRegistration", func(t *testing.T) {
		r := startAdapter(t, Config{})
		c := r.connect(t)
		assert.Equal(t, 1, r.adapter.Registry().Len())

		require.NoError(t, c.Close())
		assert.Eventually(t, func() bool { return r.adapter.Registry().Len() == 0 },
			2*time.Second, 10*time.Millisecond)
	})
}

func TestRegistrationFreedOnDisconnect(t *testing.T) {
	r := startAdapter(t, Config{})
	rc := r.dialRaw(t)
	assert.Equal(t, 1, r.adapter.Registry().Len())

	require.NoError(t, rc.conn.Close())
	assert.Eventually(t, func() bool { return r.adapter.Registry().Len() == 0 },
		2*time.Second, 10*time.Millisecond)
}

// ============================================================================
// Transport Tests
// ============================================================================

func TestUnixSocket(t *testing.T) {
	socket := filepath.Join(t.TempDir(), "api.sock")
	r := startAdapter(t, Config{Network: "unix", Address: socket})
	assert.Equal(t, socket, r.adapter.Addr())

	c := r.connect(t)
	defer c.Close()
	_, _, err := c.GetVersion(testCtx(t))
	require.NoError(t, err)
}

func TestGracefulShutdown(t *testing.T) {
	r := startAdapter(t, Config{ShutdownTimeout: 2 * time.Second})
	c := r.connect(t)
	defer c.Close()

	assert.Eventually(t, func() bool { return r.adapter.ActiveConnections() == 1 },
		time.Second, 10*time.Millisecond)

	start := time.Now()
	r.cancel()

	select {
	case err := <-r.done:
		// Idle connections are woken rather than waited out.
		assert.NoError(t, err)
		assert.Less(t, time.Since(start), 2*time.Second)
		r.done <- err
	case <-time.After(3 * time.Second):
		t.Fatal("Serve did not return")
	}
	assert.Equal(t, int32(0), r.adapter.ActiveConnections())
}

func TestStopIsIdempotent(t *testing.T) {
	r := startAdapter(t, Config{})
	ctx := testCtx(t)
	require.NoError(t, r.adapter.Stop(ctx))
	require.NoError(t, r.adapter.Stop(ctx))
}

func TestServeWithoutStore(t *testing.T) {
	a := New(Config{Address: "127.0.0.1:0"}, abfproto.Config{BaseMsgID: testBase}, nil)
	assert.Error(t, a.Serve(context.Background()))
}

// ============================================================================
// Config Tests
// ============================================================================

func TestConfigDefaults(t *testing.T) {
	var cfg Config
	cfg.applyDefaults()
	require.NoError(t, cfg.validate())
	assert.Equal(t, "tcp", cfg.Network)
	assert.Equal(t, "127.0.0.1:5002", cfg.Address)
	assert.Equal(t, uint32(rpc.DefaultMaxMessageSize), cfg.MaxMessageSize)

	cfg = Config{Network: "unix"}
	cfg.applyDefaults()
	assert.Equal(t, "/run/abfd/api.sock", cfg.Address)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"BadNetwork", func(c *Config) { c.Network = "udp" }},
		{"NegativeConnections", func(c *Config) { c.MaxConnections = -1 }},
		{"TinyMessages", func(c *Config) { c.MaxMessageSize = 8 }},
		{"NegativeTimeout", func(c *Config) { c.Timeouts.Idle = -time.Second }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cfg Config
			cfg.applyDefaults()
			tt.mutate(&cfg)
			assert.Error(t, cfg.validate())
		})
	}
}
