package abf

import (
	"context"

	"github.com/marmos91/abfd/internal/logger"
	"github.com/marmos91/abfd/internal/protocol/fibapi"
	"github.com/marmos91/abfd/internal/protocol/rpc"
)

func (d *Dispatcher) retval(off uint32, hdr rpc.RequestHeader, status rpc.Status) *rpc.RetvalReply {
	return &rpc.RetvalReply{MsgID: d.MsgID(off), Context: hdr.Context, Retval: status}
}

// handlePolicyAddDel validates every path before touching the store, so a
// request is applied entirely or not at all. A body that does not decode
// (short, trailing bytes, n_paths over the limit) is answered with
// INVALID_VALUE; the header parsed, so the client can be told.
func handlePolicyAddDel(d *Dispatcher, ctx context.Context, hdr rpc.RequestHeader, body []byte) (rpc.Message, error) {
	req, err := DecodePolicyAddDel(hdr, body)
	if err != nil {
		logger.Debug("Rejecting request from client %d: %v", hdr.ClientIndex, err)
		return d.retval(OffPolicyAddDelReply, hdr, rpc.StatusInvalidValue), nil
	}
	return d.retval(OffPolicyAddDelReply, hdr, d.policyAddDel(ctx, req)), nil
}

func (d *Dispatcher) policyAddDel(ctx context.Context, req *PolicyAddDel) rpc.Status {
	if len(req.Paths) == 0 {
		return rpc.StatusInvalidValue
	}

	paths, err := fibapi.DecodePaths(req.Paths)
	if err != nil {
		logger.Debug("Policy %d: %v", req.PolicyID, err)
		return StatusFromError(err)
	}

	if req.IsAdd {
		err = d.store.UpdatePolicy(ctx, req.PolicyID, req.ACLIndex, paths)
	} else {
		err = d.store.DeletePolicy(ctx, req.PolicyID, paths)
	}
	if err != nil {
		logger.Debug("Policy %d add=%t: %v", req.PolicyID, req.IsAdd, err)
		return StatusFromError(err)
	}

	d.updateStoreGauges()
	return rpc.StatusOK
}

func handleItfAttachAddDel(d *Dispatcher, ctx context.Context, hdr rpc.RequestHeader, body []byte) (rpc.Message, error) {
	req, err := DecodeItfAttachAddDel(hdr, body)
	if err != nil {
		logger.Debug("Rejecting request from client %d: %v", hdr.ClientIndex, err)
		return d.retval(OffItfAttachAddDelReply, hdr, rpc.StatusInvalidValue), nil
	}
	return d.retval(OffItfAttachAddDelReply, hdr, d.itfAttachAddDel(ctx, req)), nil
}

func (d *Dispatcher) itfAttachAddDel(ctx context.Context, req *ItfAttachAddDel) rpc.Status {
	var err error
	if req.IsAdd {
		err = d.store.Attach(ctx, req.Proto, req.PolicyID, req.Priority, req.SwIfIndex)
	} else {
		err = d.store.Detach(ctx, req.Proto, req.PolicyID, req.SwIfIndex)
	}
	if err != nil {
		logger.Debug("Attach policy %d %s itf %d add=%t: %v", req.PolicyID, req.Proto, req.SwIfIndex, req.IsAdd, err)
		return StatusFromError(err)
	}

	d.updateStoreGauges()
	return rpc.StatusOK
}

func handleGetVersion(d *Dispatcher, ctx context.Context, hdr rpc.RequestHeader, body []byte) (rpc.Message, error) {
	if err := rpc.ExpectEmpty(body); err != nil {
		return nil, err
	}
	return &GetVersionReply{
		MsgID:   d.MsgID(OffGetVersionReply),
		Context: hdr.Context,
		Major:   VersionMajor,
		Minor:   VersionMinor,
	}, nil
}
