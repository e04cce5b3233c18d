package badger

import (
	"encoding/json"
	"fmt"

	"github.com/marmos91/abfd/pkg/abf"
	"github.com/marmos91/abfd/pkg/fib"
)

// policyRecord is the stored form of a policy.
type policyRecord struct {
	ID       uint32          `json:"id"`
	ACLIndex uint32          `json:"acl_index"`
	Paths    []fib.RoutePath `json:"paths"`
}

// attachmentRecord is the stored form of an attachment.
type attachmentRecord struct {
	PolicyID  uint32 `json:"policy_id"`
	SwIfIndex uint32 `json:"sw_if_index"`
	Priority  uint32 `json:"priority"`
	Proto     uint8  `json:"proto"`
}

func encodePolicy(p *abf.Policy) ([]byte, error) {
	bytes, err := json.Marshal(policyRecord{ID: p.ID, ACLIndex: p.ACLIndex, Paths: p.Paths})
	if err != nil {
		return nil, fmt.Errorf("failed to encode policy: %w", err)
	}
	return bytes, nil
}

func decodePolicy(bytes []byte) (*abf.Policy, error) {
	var rec policyRecord
	if err := json.Unmarshal(bytes, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode policy: %w", err)
	}
	return &abf.Policy{ID: rec.ID, ACLIndex: rec.ACLIndex, Paths: rec.Paths}, nil
}

func encodeAttachment(a abf.Attachment) ([]byte, error) {
	bytes, err := json.Marshal(attachmentRecord{
		PolicyID:  a.PolicyID,
		SwIfIndex: a.SwIfIndex,
		Priority:  a.Priority,
		Proto:     uint8(a.Proto),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode attachment: %w", err)
	}
	return bytes, nil
}

func decodeAttachment(bytes []byte) (abf.Attachment, error) {
	var rec attachmentRecord
	if err := json.Unmarshal(bytes, &rec); err != nil {
		return abf.Attachment{}, fmt.Errorf("failed to decode attachment: %w", err)
	}
	return abf.Attachment{
		PolicyID:  rec.PolicyID,
		SwIfIndex: rec.SwIfIndex,
		Priority:  rec.Priority,
		Proto:     fib.Protocol(rec.Proto),
	}, nil
}
