package api

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/marmos91/abfd/internal/logger"
	abfproto "github.com/marmos91/abfd/internal/protocol/abf"
	"github.com/marmos91/abfd/internal/protocol/rpc"
)

// errClientDeleted ends a connection after a successful sockclnt_delete.
var errClientDeleted = errors.New("client deleted its registration")

// connection serves one API client. Requests are read and handled one at
// a time, so replies leave in request order.
type connection struct {
	server *Adapter
	conn   net.Conn
	reader *bufio.Reader

	// writeMu serialises records written to conn.
	writeMu sync.Mutex

	reg *rpc.Registration
}

func newConnection(server *Adapter, conn net.Conn) *connection {
	return &connection{
		server: server,
		conn:   conn,
		reader: bufio.NewReader(conn),
	}
}

// SendRecord writes one framed record. It implements rpc.Sender.
func (c *connection) SendRecord(record []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.server.config.Timeouts.Write > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.server.config.Timeouts.Write)); err != nil {
			return fmt.Errorf("set write deadline: %w", err)
		}
	}
	if _, err := c.conn.Write(record); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	return nil
}

// Serve registers the client and handles requests until the client leaves,
// an unrecoverable error occurs or the server shuts down.
func (c *connection) Serve(ctx context.Context) {
	clientAddr := c.conn.RemoteAddr().String()

	c.reg = c.server.registry.Register(clientAddr, c)
	c.server.metrics.SetRegistrations(c.server.registry.Len())
	logger.Debug("API client %s registered as %d (session %s)", clientAddr, c.reg.Handle, c.reg.SessionID)

	defer func() {
		if r := recover(); r != nil {
			logger.Error("Panic in API connection handler from %s: %v", clientAddr, r)
		}
		c.server.registry.Unregister(c.reg.Handle)
		c.server.metrics.SetRegistrations(c.server.registry.Len())
		_ = c.conn.Close()
	}()

	c.resetIdleDeadline()

	for {
		select {
		case <-ctx.Done():
			logger.Debug("API connection from %s closed due to context cancellation", clientAddr)
			return
		case <-c.server.shutdown:
			logger.Debug("API connection from %s closed due to server shutdown", clientAddr)
			return
		default:
		}

		if err := c.handleRequest(ctx); err != nil {
			var netErr net.Error
			switch {
			case errors.Is(err, io.EOF):
				logger.Debug("API connection from %s closed by client", clientAddr)
			case errors.Is(err, errClientDeleted):
				logger.Debug("API client %s deleted its registration", clientAddr)
			case errors.As(err, &netErr) && netErr.Timeout():
				logger.Debug("API connection from %s timed out: %v", clientAddr, err)
			case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
				logger.Debug("API connection from %s cancelled: %v", clientAddr, err)
			default:
				logger.Debug("Error handling API request from %s: %v", clientAddr, err)
			}
			return
		}

		c.resetIdleDeadline()
	}
}

// resetIdleDeadline arms the idle timeout, or clears the read deadline
// left by the previous request when there is none.
func (c *connection) resetIdleDeadline() {
	var deadline time.Time
	if c.server.config.Timeouts.Idle > 0 {
		deadline = time.Now().Add(c.server.config.Timeouts.Idle)
	}
	if err := c.conn.SetReadDeadline(deadline); err != nil {
		logger.Warn("Failed to set deadline for %s: %v", c.conn.RemoteAddr(), err)
	}
}

// handleRequest reads and handles one record. A returned error closes the
// connection; requests that are merely malformed are dropped and nil is
// returned.
func (c *connection) handleRequest(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	// The first byte may take up to the idle timeout; the rest of the
	// record must arrive within the read timeout.
	if _, err := c.reader.Peek(1); err != nil {
		return err
	}
	if c.server.config.Timeouts.Read > 0 {
		if err := c.conn.SetReadDeadline(time.Now().Add(c.server.config.Timeouts.Read)); err != nil {
			return fmt.Errorf("set read deadline: %w", err)
		}
	}

	record, err := rpc.ReadRecord(c.reader, c.server.config.MaxMessageSize)
	if err != nil {
		if errors.Is(err, rpc.ErrMessageTooLarge) {
			logger.Warn("API client %s: %v", c.conn.RemoteAddr(), err)
			c.server.metrics.RecordDropped("malformed")
		}
		return err
	}
	defer rpc.PutBuffer(record)

	hdr, body, err := rpc.ParseRequestHeader(record)
	if err != nil {
		logger.Debug("API client %s: %v", c.conn.RemoteAddr(), err)
		c.server.metrics.RecordDropped("malformed")
		return nil
	}
	c.reg.Touch()

	if err := ctx.Err(); err != nil {
		return err
	}

	switch hdr.MsgID {
	case rpc.MsgControlPing, rpc.MsgSockclntCreate, rpc.MsgSockclntDelete:
		return c.handleCore(hdr, body)
	}

	if err := c.server.dispatcher.Dispatch(ctx, hdr, body); err != nil {
		if errors.Is(err, abfproto.ErrNotOwned) {
			logger.Debug("API client %s: unknown message id %d", c.conn.RemoteAddr(), hdr.MsgID)
			c.server.metrics.RecordDropped("unknown_message")
			return nil
		}
		return err
	}
	return nil
}

// handleCore answers the transport's own messages under the dispatcher
// lock, so a control_ping reply follows everything earlier requests sent.
func (c *connection) handleCore(hdr rpc.RequestHeader, body []byte) error {
	var result error
	c.server.dispatcher.Exclusive(func() {
		start := time.Now()
		name, outcome, err := c.core(hdr, body)
		if errors.Is(err, errClientDeleted) {
			result = err
		}
		c.server.metrics.RecordRequest(name, outcome, time.Since(start))
	})
	return result
}

func (c *connection) core(hdr rpc.RequestHeader, body []byte) (name, outcome string, err error) {
	switch hdr.MsgID {
	case rpc.MsgControlPing:
		name = "control_ping"
		if err := rpc.ExpectEmpty(body); err != nil {
			return name, c.dropMalformed(name, err), nil
		}
		reg, ok := c.server.registry.Resolve(hdr.ClientIndex)
		if !ok {
			logger.Debug("API control_ping: client %d not registered, dropping", hdr.ClientIndex)
			c.server.metrics.RecordDropped("missing_client")
			return name, "dropped", nil
		}
		return name, c.send(reg, name, &rpc.ControlPingReply{
			Context:     hdr.Context,
			Retval:      rpc.StatusOK,
			ClientIndex: hdr.ClientIndex,
			DaemonPID:   uint32(os.Getpid()),
		}), nil

	case rpc.MsgSockclntCreate:
		name = "sockclnt_create"
		clientName, err := rpc.DecodeSockclntCreate(body)
		if err != nil {
			return name, c.dropMalformed(name, err), nil
		}
		c.reg.SetName(clientName)
		logger.Info("API client %q connected from %s as %d", clientName, c.reg.Remote, c.reg.Handle)

		// The client does not know its handle yet; answer on this connection.
		return name, c.send(c.reg, name, &rpc.SockclntCreateReply{
			Context:  hdr.Context,
			Response: rpc.StatusOK,
			Index:    c.reg.Handle,
			Table:    c.server.table.Entries(),
		}), nil

	case rpc.MsgSockclntDelete:
		name = "sockclnt_delete"
		index, err := rpc.DecodeSockclntDelete(body)
		if err != nil {
			return name, c.dropMalformed(name, err), nil
		}

		// A connection may only delete its own registration.
		if index != c.reg.Handle {
			return name, c.send(c.reg, name, &rpc.RetvalReply{
				MsgID:   rpc.MsgSockclntDeleteReply,
				Context: hdr.Context,
				Retval:  rpc.StatusInvalidValue,
			}), nil
		}
		outcome = c.send(c.reg, name, &rpc.RetvalReply{
			MsgID:   rpc.MsgSockclntDeleteReply,
			Context: hdr.Context,
			Retval:  rpc.StatusOK,
		})
		return name, outcome, errClientDeleted
	}
	return "", "", nil
}

func (c *connection) send(reg *rpc.Registration, name string, msg rpc.Message) string {
	if err := reg.Send(msg); err != nil {
		logger.Warn("API %s: client %d: %v", name, reg.Handle, err)
		c.server.metrics.RecordDropped("send_failed")
		return "dropped"
	}
	if r, ok := msg.(*rpc.RetvalReply); ok {
		return r.Retval.String()
	}
	return rpc.StatusOK.String()
}

func (c *connection) dropMalformed(name string, err error) string {
	logger.Warn("API %s: malformed request from %s: %v", name, c.conn.RemoteAddr(), err)
	c.server.metrics.RecordDropped("malformed")
	return "malformed"
}
