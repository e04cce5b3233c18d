package abf

import (
	"context"
	"fmt"
	"iter"

	"github.com/marmos91/abfd/internal/logger"
	"github.com/marmos91/abfd/internal/protocol/rpc"
	"github.com/marmos91/abfd/pkg/abf"
)

// dump streams one details message per object of seq to the requesting
// client, each sent as soon as it is built. There is no terminating
// message; clients follow a dump with control_ping to find its end.
//
// The client is resolved before the walk starts. A request from an
// unknown client is dropped without walking.
func dump[T any](d *Dispatcher, hdr rpc.RequestHeader, body []byte, name string, seq iter.Seq[T], details func(T) rpc.Message) error {
	if err := rpc.ExpectEmpty(body); err != nil {
		return err
	}

	reg, err := d.resolve(hdr.ClientIndex)
	if err != nil {
		return err
	}

	sent := 0
	defer func() { d.metrics.RecordDetails(name, sent) }()

	for obj := range seq {
		if err := reg.Send(details(obj)); err != nil {
			// The rest of the walk would go to the same dead client.
			return fmt.Errorf("%w: %s after %d messages: %w", errSend, name, sent, err)
		}
		sent++
	}

	logger.Debug("API %s: sent %d to client %d", name, sent, hdr.ClientIndex)
	return nil
}

func handlePolicyDump(d *Dispatcher, ctx context.Context, hdr rpc.RequestHeader, body []byte) (rpc.Message, error) {
	msgID := d.MsgID(OffPolicyDetails)
	return nil, dump(d, hdr, body, MessageNames[OffPolicyDetails], d.store.Policies(ctx), func(p *abf.Policy) rpc.Message {
		return NewPolicyDetails(msgID, hdr.Context, p)
	})
}

func handleItfAttachDump(d *Dispatcher, ctx context.Context, hdr rpc.RequestHeader, body []byte) (rpc.Message, error) {
	msgID := d.MsgID(OffItfAttachDetails)
	return nil, dump(d, hdr, body, MessageNames[OffItfAttachDetails], d.store.Attachments(ctx), func(a abf.Attachment) rpc.Message {
		return &ItfAttachDetails{MsgID: msgID, Context: hdr.Context, Attachment: a}
	})
}
