// Package client talks to an abfd API endpoint.
//
// A Client owns one connection and one registration. Calls are serialised;
// each waits for its reply before the next request is sent.
package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	abfproto "github.com/marmos91/abfd/internal/protocol/abf"
	"github.com/marmos91/abfd/internal/protocol/fibapi"
	"github.com/marmos91/abfd/internal/protocol/rpc"
	"github.com/marmos91/abfd/pkg/abf"
	"github.com/marmos91/abfd/pkg/fib"
)

// Client is a registered API client.
type Client struct {
	mu     sync.Mutex
	conn   net.Conn
	reader *bufio.Reader

	// maxMessageSize bounds one received record.
	maxMessageSize uint32

	// broken is set once the stream can no longer be framed; every later
	// call fails with it.
	broken error

	handle  uint32
	context uint32
	table   map[string]uint32

	// base is the id of the first ABF message, looked up by name.
	base uint32
}

// Option configures a Client.
type Option func(*Client)

// WithMaxMessageSize sets the largest record the client accepts. It must be
// at least the size of the largest policy_details the server can send; the
// default, rpc.DefaultMaxMessageSize, matches the server's default limits.
func WithMaxMessageSize(n uint32) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxMessageSize = n
		}
	}
}

// Connect dials addr, registers as name and learns the message table.
//
// Parameters:
//   - ctx: bounds the dial and the registration exchange
//   - network, addr: "tcp" with host:port, or "unix" with a socket path
//   - name: client name reported to the server (at most 64 bytes)
//
// Returns a Client ready for use, or an error if the dial failed, the
// server refused the registration or it does not serve the ABF API.
func Connect(ctx context.Context, network, addr, name string, opts ...Option) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, network, addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to abfd at %s %s: %w", network, addr, err)
	}

	c := &Client{
		conn:           conn,
		reader:         bufio.NewReader(conn),
		maxMessageSize: rpc.DefaultMaxMessageSize,
		handle:         rpc.InvalidIndex,
	}
	for _, opt := range opts {
		opt(c)
	}
	if err := c.create(ctx, name); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return c, nil
}

func (c *Client) create(ctx context.Context, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	defer c.watch(ctx)()

	req := &rpc.SockclntCreate{Header: c.header(rpc.MsgSockclntCreate), Name: name}
	body, err := c.call(req, rpc.MsgSockclntCreateReply)
	if err != nil {
		return err
	}
	reply, err := rpc.DecodeSockclntCreateReply(req.Header.Context, body)
	if err != nil {
		return err
	}
	if err := reply.Response.Err(); err != nil {
		return fmt.Errorf("sockclnt_create: %w", err)
	}

	c.handle = reply.Index
	c.table = make(map[string]uint32, len(reply.Table))
	for _, e := range reply.Table {
		c.table[e.Name] = e.ID
	}

	base, ok := c.table[abfproto.MessageNames[abfproto.OffGetVersion]]
	if !ok {
		return fmt.Errorf("server does not serve the %s API", abfproto.PluginName)
	}
	c.base = base
	return nil
}

// Handle is the client index the server assigned.
func (c *Client) Handle() uint32 {
	return c.handle
}

// MsgID returns the id the server assigned to the named message.
func (c *Client) MsgID(name string) (uint32, bool) {
	id, ok := c.table[name]
	return id, ok
}

// watch makes the connection honour ctx until the returned func is called.
func (c *Client) watch(ctx context.Context) func() {
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetDeadline(time.Now())
	})
	return func() {
		stop()
		_ = c.conn.SetDeadline(time.Time{})
	}
}

func (c *Client) header(msgID uint32) rpc.RequestHeader {
	c.context++
	return rpc.RequestHeader{MsgID: msgID, ClientIndex: c.handle, Context: c.context}
}

func (c *Client) send(msg rpc.Message) error {
	record, err := rpc.MarshalRecord(msg)
	if err != nil {
		return err
	}
	if _, err := c.conn.Write(record); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	return nil
}

// receive reads the next message addressed to this client.
//
// An oversized record is left unread on the wire, so the stream is out of
// step from then on; the client is marked broken.
func (c *Client) receive() (rpc.ReplyHeader, []byte, error) {
	if c.broken != nil {
		return rpc.ReplyHeader{}, nil, c.broken
	}
	record, err := rpc.ReadRecord(c.reader, c.maxMessageSize)
	if err != nil {
		err = fmt.Errorf("receive: %w", err)
		if errors.Is(err, rpc.ErrMessageTooLarge) {
			c.broken = fmt.Errorf("connection unusable: %w", err)
			_ = c.conn.Close()
		}
		return rpc.ReplyHeader{}, nil, err
	}
	// The record outlives this call, so keep it out of the pool.
	hdr, body, err := rpc.ParseReplyHeader(append([]byte(nil), record...))
	rpc.PutBuffer(record)
	return hdr, body, err
}

// call sends msg and returns the body of the reply with the same context.
// Stray messages from earlier, abandoned calls are skipped.
func (c *Client) call(msg rpc.Request, replyID uint32) ([]byte, error) {
	reqCtx, err := c.sendRequest(msg)
	if err != nil {
		return nil, err
	}
	for {
		hdr, body, err := c.receive()
		if err != nil {
			return nil, err
		}
		if hdr.Context == reqCtx && hdr.MsgID == replyID {
			return body, nil
		}
	}
}

// sendRequest sends msg and returns its context for matching replies.
func (c *Client) sendRequest(msg rpc.Request) (uint32, error) {
	if c.broken != nil {
		return 0, c.broken
	}
	return msg.RequestHeader().Context, c.send(msg)
}

// retval runs a command and turns a non-OK status into an error.
func (c *Client) retval(msg rpc.Request, replyID uint32) error {
	body, err := c.call(msg, replyID)
	if err != nil {
		return err
	}
	status, err := rpc.DecodeRetval(body)
	if err != nil {
		return err
	}
	return status.Err()
}

// ControlPing round-trips a control_ping.
func (c *Client) ControlPing(ctx context.Context) (*rpc.ControlPingReply, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	defer c.watch(ctx)()

	req := &rpc.HeaderOnly{Header: c.header(rpc.MsgControlPing)}
	body, err := c.call(req, rpc.MsgControlPingReply)
	if err != nil {
		return nil, err
	}
	return rpc.DecodeControlPingReply(req.Header.Context, body)
}

// GetVersion returns the server's ABF API version.
func (c *Client) GetVersion(ctx context.Context) (major, minor uint32, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	defer c.watch(ctx)()

	req := &rpc.HeaderOnly{Header: c.header(c.base + abfproto.OffGetVersion)}
	body, err := c.call(req, c.base+abfproto.OffGetVersionReply)
	if err != nil {
		return 0, 0, err
	}
	return abfproto.DecodeGetVersionReply(body)
}

// PolicyAddDel adds paths to, or removes paths from, policy id. A status
// other than OK is returned as an rpc.Status error.
func (c *Client) PolicyAddDel(ctx context.Context, isAdd bool, id, aclIndex uint32, paths []fib.RoutePath) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	defer c.watch(ctx)()

	req := &abfproto.PolicyAddDel{
		Header:   c.header(c.base + abfproto.OffPolicyAddDel),
		IsAdd:    isAdd,
		PolicyID: id,
		ACLIndex: aclIndex,
		Paths:    fibapi.EncodePaths(paths),
	}
	return c.retval(req, c.base+abfproto.OffPolicyAddDelReply)
}

// ItfAttachAddDel attaches or detaches a.
func (c *Client) ItfAttachAddDel(ctx context.Context, isAdd bool, a abf.Attachment) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	defer c.watch(ctx)()

	req := &abfproto.ItfAttachAddDel{
		Header:    c.header(c.base + abfproto.OffItfAttachAddDel),
		IsAdd:     isAdd,
		PolicyID:  a.PolicyID,
		SwIfIndex: a.SwIfIndex,
		Priority:  a.Priority,
		Proto:     a.Proto,
	}
	return c.retval(req, c.base+abfproto.OffItfAttachAddDelReply)
}

// dump sends a dump request followed by a control_ping and hands every
// details message in between to each. The ping reply marks the end.
func (c *Client) dump(ctx context.Context, dumpOff, detailsOff uint32, each func(body []byte) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	defer c.watch(ctx)()

	dumpCtx, err := c.sendRequest(&rpc.HeaderOnly{Header: c.header(c.base + dumpOff)})
	if err != nil {
		return err
	}
	pingCtx, err := c.sendRequest(&rpc.HeaderOnly{Header: c.header(rpc.MsgControlPing)})
	if err != nil {
		return err
	}

	detailsID := c.base + detailsOff
	for {
		hdr, body, err := c.receive()
		if err != nil {
			return err
		}
		switch {
		case hdr.MsgID == rpc.MsgControlPingReply && hdr.Context == pingCtx:
			return nil
		case hdr.MsgID == detailsID && hdr.Context == dumpCtx:
			if err := each(body); err != nil {
				return err
			}
		}
	}
}

// PolicyDump lists every policy.
func (c *Client) PolicyDump(ctx context.Context) ([]*abf.Policy, error) {
	var out []*abf.Policy
	err := c.dump(ctx, abfproto.OffPolicyDump, abfproto.OffPolicyDetails, func(body []byte) error {
		p, err := abfproto.DecodePolicyDetails(body)
		if err != nil {
			return err
		}
		out = append(out, p)
		return nil
	})
	return out, err
}

// ItfAttachDump lists every attachment.
func (c *Client) ItfAttachDump(ctx context.Context) ([]abf.Attachment, error) {
	var out []abf.Attachment
	err := c.dump(ctx, abfproto.OffItfAttachDump, abfproto.OffItfAttachDetails, func(body []byte) error {
		a, err := abfproto.DecodeItfAttachDetails(body)
		if err != nil {
			return err
		}
		out = append(out, a)
		return nil
	})
	return out, err
}

// Close deletes the registration and closes the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	stop := c.watch(ctx)

	req := &rpc.SockclntDelete{Header: c.header(rpc.MsgSockclntDelete), Index: c.handle}
	var status rpc.Status
	body, err := c.call(req, rpc.MsgSockclntDeleteReply)
	if err == nil {
		status, err = rpc.DecodeRetval(body)
	}
	stop()

	if cerr := c.conn.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	return status.Err()
}
