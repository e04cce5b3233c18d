// Package abf implements the ACL based forwarding binary API: request
// decoding, the policy and attachment commands, the two dumps and the
// version query.
//
// Every request runs to completion under the dispatcher lock, so handlers
// never interleave, whichever connection they arrived on.
package abf

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/marmos91/abfd/internal/logger"
	"github.com/marmos91/abfd/internal/protocol/rpc"
	"github.com/marmos91/abfd/pkg/abf"
	"github.com/marmos91/abfd/pkg/metrics"
)

// ErrNotOwned is returned by Dispatch for message ids outside the range
// this dispatcher serves.
var ErrNotOwned = errors.New("message id not in abf range")

var (
	// errNoClient marks a request whose client_index does not resolve.
	errNoClient = errors.New("client index does not resolve")

	// errSend marks a reply or details message that could not be delivered.
	errSend = errors.New("send failed")
)

// procedureHandler handles one request. It returns the reply to send to
// the requesting client, or nil when it sent everything itself. Any other
// error means the request was malformed and is dropped.
type procedureHandler func(d *Dispatcher, ctx context.Context, hdr rpc.RequestHeader, body []byte) (rpc.Message, error)

type procedureInfo struct {
	// Name is the message name for logging and metrics.
	Name string

	Handler procedureHandler
}

// dispatchTable maps base-relative request offsets to their handlers.
var dispatchTable = map[uint32]*procedureInfo{
	OffGetVersion: {
		Name:    MessageNames[OffGetVersion],
		Handler: handleGetVersion,
	},
	OffPolicyAddDel: {
		Name:    MessageNames[OffPolicyAddDel],
		Handler: handlePolicyAddDel,
	},
	OffPolicyDump: {
		Name:    MessageNames[OffPolicyDump],
		Handler: handlePolicyDump,
	},
	OffItfAttachAddDel: {
		Name:    MessageNames[OffItfAttachAddDel],
		Handler: handleItfAttachAddDel,
	},
	OffItfAttachDump: {
		Name:    MessageNames[OffItfAttachDump],
		Handler: handleItfAttachDump,
	},
}

// Config configures a Dispatcher.
type Config struct {
	// BaseMsgID is the id of the first message of the range.
	BaseMsgID uint32 `mapstructure:"base_msg_id" validate:"required,gte=16,lte=65526" yaml:"base_msg_id"`
}

// Dispatcher routes ABF requests to their handlers.
type Dispatcher struct {
	mu       sync.Mutex
	base     uint32
	store    abf.Store
	registry *rpc.Registry
	metrics  metrics.APIMetrics
}

// NewDispatcher registers the message range in table and returns a
// dispatcher serving it. A nil m disables metrics.
func NewDispatcher(cfg Config, store abf.Store, registry *rpc.Registry, table *rpc.MsgTable, m metrics.APIMetrics) (*Dispatcher, error) {
	if store == nil {
		return nil, fmt.Errorf("abf dispatcher requires a store")
	}
	if err := table.AddRange(PluginName, cfg.BaseMsgID, MessageNames[:]); err != nil {
		return nil, err
	}
	if m == nil {
		m = metrics.NewNoopAPIMetrics()
	}

	return &Dispatcher{
		base:     cfg.BaseMsgID,
		store:    store,
		registry: registry,
		metrics:  m,
	}, nil
}

// MsgID returns the absolute id of the message at offset off.
func (d *Dispatcher) MsgID(off uint32) uint32 {
	return d.base + off
}

// Owns reports whether id falls in this dispatcher's range.
func (d *Dispatcher) Owns(id uint32) bool {
	return id >= d.base && id-d.base < msgCount
}

// Exclusive runs fn under the dispatcher lock. The transport uses it for
// its own messages so that they are serialised with the API handlers.
func (d *Dispatcher) Exclusive(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fn()
}

// Dispatch handles one ABF request whose header has already been parsed.
//
// The handler for hdr.MsgID decodes body, applies it to the store and
// produces at most one reply, which is sent to the registration named by
// hdr.ClientIndex with hdr.Context copied into it. Dumps send their
// details messages directly and produce no reply of their own.
//
// Outcomes other than a normal reply are never returned as errors:
//   - A command whose body does not decode is answered with INVALID_VALUE
//   - A query whose body does not decode is dropped
//   - A reply for a client that is no longer registered is dropped, after
//     the command has taken effect
//   - A reply that cannot be written is dropped
//
// Each of these is logged and counted in the dropped-message metric.
//
// Parameters:
//   - ctx: Cancelled when the connection or the adapter shuts down. Dumps
//     stop early when it is done.
//   - hdr: The parsed request header
//   - body: The request bytes following the header
//
// Returns:
//   - ErrNotOwned if hdr.MsgID is outside this dispatcher's range, so the
//     caller can try its own handlers
//   - nil otherwise
//
// Thread safety:
// Safe for concurrent use. Requests are serialised under the dispatcher
// lock, together with any function passed to Exclusive.
func (d *Dispatcher) Dispatch(ctx context.Context, hdr rpc.RequestHeader, body []byte) error {
	if !d.Owns(hdr.MsgID) {
		return ErrNotOwned
	}

	off := hdr.MsgID - d.base
	info, ok := dispatchTable[off]
	if !ok {
		// Replies and details are server-to-client only.
		logger.Debug("Dropping %s (id %d) from client %d: not a request",
			MessageNames[off], hdr.MsgID, hdr.ClientIndex)
		d.metrics.RecordDropped("unknown_message")
		return nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	logger.Debug("API %s: client=%d context=%d len=%d", info.Name, hdr.ClientIndex, hdr.Context, len(body))
	start := time.Now()

	reply, err := info.Handler(d, ctx, hdr, body)
	if err == nil && reply != nil {
		err = d.reply(hdr, reply)
	}

	outcome := "OK"
	if r, ok := reply.(*rpc.RetvalReply); ok {
		outcome = r.Retval.String()
	}

	switch {
	case err == nil:
	case errors.Is(err, errNoClient):
		logger.Debug("API %s: client %d not registered, dropping", info.Name, hdr.ClientIndex)
		d.metrics.RecordDropped("missing_client")
		outcome = "dropped"
	case errors.Is(err, errSend):
		logger.Warn("API %s: client %d: %v", info.Name, hdr.ClientIndex, err)
		d.metrics.RecordDropped("send_failed")
		outcome = "dropped"
	default:
		logger.Warn("API %s: malformed request from client %d: %v", info.Name, hdr.ClientIndex, err)
		d.metrics.RecordDropped("malformed")
		outcome = "malformed"
	}

	d.metrics.RecordRequest(info.Name, outcome, time.Since(start))
	return nil
}

// resolve finds the registration a reply must go to.
func (d *Dispatcher) resolve(clientIndex uint32) (*rpc.Registration, error) {
	reg, ok := d.registry.Resolve(clientIndex)
	if !ok {
		return nil, errNoClient
	}
	return reg, nil
}

// reply resolves the requesting client after the handler ran, so command
// side effects happen even when nobody is left to hear about them.
func (d *Dispatcher) reply(hdr rpc.RequestHeader, msg rpc.Message) error {
	reg, err := d.resolve(hdr.ClientIndex)
	if err != nil {
		return err
	}
	if err := reg.Send(msg); err != nil {
		return fmt.Errorf("%w: %w", errSend, err)
	}
	return nil
}

// storeStats is implemented by stores that can count their objects.
type storeStats interface {
	Stats() (policies, attachments int)
}

func (d *Dispatcher) updateStoreGauges() {
	if s, ok := d.store.(storeStats); ok {
		policies, attachments := s.Stats()
		d.metrics.SetStoreObjects("policy", policies)
		d.metrics.SetStoreObjects("attachment", attachments)
	}
}
