// Package memory is an in-process abf.Store.
//
// Policies and attachments live in slot pools. A freed slot is reused by
// the next insertion, and walks advance a plain slot cursor, taking the
// lock once per step. That gives the walk contract abf.Store requires
// without snapshotting: a slot that stays occupied is seen exactly once.
// A walk stops at the pool length it saw when it started, so slots
// appended by later insertions are never visited and the walk ends.
package memory

import (
	"context"
	"fmt"
	"iter"
	"sort"
	"sync"

	"github.com/marmos91/abfd/pkg/abf"
	"github.com/marmos91/abfd/pkg/fib"
)

// Config configures the memory store.
type Config struct {
	abf.Limits `mapstructure:",squash"`
}

type attachKey struct {
	proto     fib.Protocol
	policyID  uint32
	swIfIndex uint32
}

type itfKey struct {
	proto     fib.Protocol
	swIfIndex uint32
}

// Store is a mutex-protected, slot-pooled abf.Store.
type Store struct {
	mu     sync.RWMutex
	limits abf.Limits
	closed bool

	policies   []*abf.Policy
	policyFree []int
	policyByID map[uint32]int

	attachments []*abf.Attachment
	attachFree  []int
	attachByKey map[attachKey]int

	// byItf holds attachment slots per interface sorted by priority.
	byItf map[itfKey][]int
}

var _ abf.Store = (*Store)(nil)

// New creates an empty store.
func New(cfg Config) *Store {
	return &Store{
		limits:      cfg.Limits,
		policyByID:  make(map[uint32]int),
		attachByKey: make(map[attachKey]int),
		byItf:       make(map[itfKey][]int),
	}
}

// NewWithDefaults creates an unlimited store.
func NewWithDefaults() *Store {
	return New(Config{})
}

var errClosed = &abf.StoreError{Code: abf.ErrIOError, Message: "store is closed"}

func (s *Store) UpdatePolicy(ctx context.Context, id, aclIndex uint32, paths []fib.RoutePath) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := abf.ValidateUpdate(paths, s.limits); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed
	}

	if slot, ok := s.policyByID[id]; ok {
		p := s.policies[slot]
		merged := abf.MergePaths(p.Paths, paths)
		if s.limits.MaxPaths > 0 && len(merged) > s.limits.MaxPaths {
			return &abf.StoreError{Code: abf.ErrNoSpace, Message: fmt.Sprintf("policy %d would have %d paths, limit %d", id, len(merged), s.limits.MaxPaths)}
		}
		p.Paths = merged
		return nil
	}

	if s.limits.MaxPolicies > 0 && len(s.policyByID) >= s.limits.MaxPolicies {
		return &abf.StoreError{Code: abf.ErrNoSpace, Message: fmt.Sprintf("policy limit %d reached", s.limits.MaxPolicies)}
	}

	p := &abf.Policy{ID: id, ACLIndex: aclIndex, Paths: abf.MergePaths(nil, paths)}
	var slot int
	if n := len(s.policyFree); n > 0 {
		slot = s.policyFree[n-1]
		s.policyFree = s.policyFree[:n-1]
		s.policies[slot] = p
	} else {
		slot = len(s.policies)
		s.policies = append(s.policies, p)
	}
	s.policyByID[id] = slot
	return nil
}

func (s *Store) DeletePolicy(ctx context.Context, id uint32, paths []fib.RoutePath) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed
	}

	slot, ok := s.policyByID[id]
	if !ok {
		return abf.PolicyNotFound(id)
	}

	p := s.policies[slot]
	p.Paths = abf.RemovePaths(p.Paths, paths)
	if len(p.Paths) == 0 {
		s.policies[slot] = nil
		s.policyFree = append(s.policyFree, slot)
		delete(s.policyByID, id)
	}
	return nil
}

func (s *Store) GetPolicy(ctx context.Context, id uint32) (*abf.Policy, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	slot, ok := s.policyByID[id]
	if !ok {
		return nil, abf.PolicyNotFound(id)
	}
	return s.policies[slot].Clone(), nil
}

func (s *Store) Attach(ctx context.Context, proto fib.Protocol, policyID, priority, swIfIndex uint32) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := abf.ValidateAttach(proto, swIfIndex); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed
	}

	if _, ok := s.policyByID[policyID]; !ok {
		return abf.PolicyNotFound(policyID)
	}
	key := attachKey{proto: proto, policyID: policyID, swIfIndex: swIfIndex}
	if _, ok := s.attachByKey[key]; ok {
		return abf.AttachmentExists(proto, policyID, swIfIndex)
	}
	if s.limits.MaxAttachments > 0 && len(s.attachByKey) >= s.limits.MaxAttachments {
		return &abf.StoreError{Code: abf.ErrNoSpace, Message: fmt.Sprintf("attachment limit %d reached", s.limits.MaxAttachments)}
	}

	a := &abf.Attachment{PolicyID: policyID, SwIfIndex: swIfIndex, Priority: priority, Proto: proto}
	var slot int
	if n := len(s.attachFree); n > 0 {
		slot = s.attachFree[n-1]
		s.attachFree = s.attachFree[:n-1]
		s.attachments[slot] = a
	} else {
		slot = len(s.attachments)
		s.attachments = append(s.attachments, a)
	}
	s.attachByKey[key] = slot

	ik := itfKey{proto: proto, swIfIndex: swIfIndex}
	list := append(s.byItf[ik], slot)
	sort.SliceStable(list, func(i, j int) bool {
		return s.attachments[list[i]].Priority < s.attachments[list[j]].Priority
	})
	s.byItf[ik] = list
	return nil
}

func (s *Store) Detach(ctx context.Context, proto fib.Protocol, policyID, swIfIndex uint32) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed
	}

	key := attachKey{proto: proto, policyID: policyID, swIfIndex: swIfIndex}
	slot, ok := s.attachByKey[key]
	if !ok {
		return abf.AttachmentNotFound(proto, policyID, swIfIndex)
	}

	delete(s.attachByKey, key)
	s.attachments[slot] = nil
	s.attachFree = append(s.attachFree, slot)

	ik := itfKey{proto: proto, swIfIndex: swIfIndex}
	list := s.byItf[ik]
	for i, v := range list {
		if v == slot {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(s.byItf, ik)
	} else {
		s.byItf[ik] = list
	}
	return nil
}

func (s *Store) InterfaceAttachments(ctx context.Context, proto fib.Protocol, swIfIndex uint32) ([]abf.Attachment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	list := s.byItf[itfKey{proto: proto, swIfIndex: swIfIndex}]
	out := make([]abf.Attachment, 0, len(list))
	for _, slot := range list {
		out = append(out, *s.attachments[slot])
	}
	return out, nil
}

// slots returns the current pool lengths.
func (s *Store) slots() (policies, attachments int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.policies), len(s.attachments)
}

// policyAt returns a copy of the policy in slot i, and whether the cursor
// is still within the pool.
func (s *Store) policyAt(i int) (*abf.Policy, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed || i >= len(s.policies) {
		return nil, false
	}
	if p := s.policies[i]; p != nil {
		return p.Clone(), true
	}
	return nil, true
}

func (s *Store) Policies(ctx context.Context) iter.Seq[*abf.Policy] {
	return func(yield func(*abf.Policy) bool) {
		end, _ := s.slots()
		for i := 0; i < end && ctx.Err() == nil; i++ {
			p, more := s.policyAt(i)
			if !more {
				return
			}
			if p != nil && !yield(p) {
				return
			}
		}
	}
}

func (s *Store) attachmentAt(i int) (abf.Attachment, bool, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed || i >= len(s.attachments) {
		return abf.Attachment{}, false, false
	}
	if a := s.attachments[i]; a != nil {
		return *a, true, true
	}
	return abf.Attachment{}, false, true
}

func (s *Store) Attachments(ctx context.Context) iter.Seq[abf.Attachment] {
	return func(yield func(abf.Attachment) bool) {
		_, end := s.slots()
		for i := 0; i < end && ctx.Err() == nil; i++ {
			a, live, more := s.attachmentAt(i)
			if !more {
				return
			}
			if live && !yield(a) {
				return
			}
		}
	}
}

// Stats returns the number of live policies and attachments.
func (s *Store) Stats() (policies, attachments int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.policyByID), len(s.attachByKey)
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
