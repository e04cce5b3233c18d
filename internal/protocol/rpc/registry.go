package rpc

import (
	"iter"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Sender delivers an already framed record to a client.
type Sender interface {
	SendRecord(record []byte) error
}

// Registration is one attached API client.
//
// The client handle (Handle) combines the slot index with a per-slot epoch,
// so a handle from a closed session never resolves to whoever reuses the slot.
type Registration struct {
	Handle    uint32
	SessionID uuid.UUID
	Remote    string
	Created   time.Time

	name      atomic.Value // string
	lastHeard atomic.Int64
	sender    Sender
}

// Name returns the name the client announced in sockclnt_create.
func (r *Registration) Name() string {
	if v, ok := r.name.Load().(string); ok {
		return v
	}
	return ""
}

// SetName records the client's self-reported name.
func (r *Registration) SetName(name string) {
	r.name.Store(name)
}

// Touch marks the registration as heard from now.
func (r *Registration) Touch() {
	r.lastHeard.Store(time.Now().UnixNano())
}

// LastHeard is the time of the last request seen from this client.
func (r *Registration) LastHeard() time.Time {
	return time.Unix(0, r.lastHeard.Load())
}

// Send builds msg and delivers it to the client.
func (r *Registration) Send(msg Message) error {
	record, err := MarshalRecord(msg)
	if err != nil {
		return err
	}
	return r.sender.SendRecord(record)
}

const (
	handleIndexBits = 24
	handleIndexMask = 1<<handleIndexBits - 1
	handleEpochMask = 0xff
)

// HandleIndex extracts the slot index from a client handle.
func HandleIndex(handle uint32) uint32 {
	return handle & handleIndexMask
}

func makeHandle(index uint32, epoch uint8) uint32 {
	return uint32(epoch)<<handleIndexBits | index&handleIndexMask
}

type slot struct {
	reg   *Registration
	epoch uint8
}

// Registry owns the client registrations of one API endpoint.
//
// Freed slots are reused; each reuse bumps the slot epoch.
type Registry struct {
	mu    sync.RWMutex
	slots []slot
	free  []uint32
	live  int

	missingClients atomic.Uint64
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register allocates a registration for a new client connection.
func (r *Registry) Register(remote string, sender Sender) *Registration {
	r.mu.Lock()
	defer r.mu.Unlock()

	var index uint32
	if n := len(r.free); n > 0 {
		index = r.free[n-1]
		r.free = r.free[:n-1]
		r.slots[index].epoch++
	} else {
		index = uint32(len(r.slots))
		r.slots = append(r.slots, slot{})
	}

	reg := &Registration{
		Handle:    makeHandle(index, r.slots[index].epoch),
		SessionID: uuid.New(),
		Remote:    remote,
		Created:   time.Now(),
		sender:    sender,
	}
	reg.SetName("")
	reg.Touch()

	r.slots[index].reg = reg
	r.live++
	return reg
}

// Unregister frees the registration behind handle. It reports whether the
// handle was live.
func (r *Registry) Unregister(handle uint32) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	index := HandleIndex(handle)
	if int(index) >= len(r.slots) {
		return false
	}
	s := &r.slots[index]
	if s.reg == nil || s.reg.Handle != handle {
		return false
	}

	s.reg = nil
	r.free = append(r.free, index)
	r.live--
	return true
}

// Resolve maps a client handle to its registration.
//
// Unresolvable handles are counted as missing clients; the caller is
// expected to drop whatever it was about to send.
func (r *Registry) Resolve(handle uint32) (*Registration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	index := HandleIndex(handle)
	if int(index) < len(r.slots) {
		if reg := r.slots[index].reg; reg != nil && reg.Handle == handle {
			return reg, true
		}
	}

	r.missingClients.Add(1)
	return nil, false
}

// Len returns the number of live registrations.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.live
}

// MissingClients returns how many lookups failed to resolve a client.
func (r *Registry) MissingClients() uint64 {
	return r.missingClients.Load()
}

// All yields the live registrations in slot order.
func (r *Registry) All() iter.Seq[*Registration] {
	return func(yield func(*Registration) bool) {
		r.mu.RLock()
		regs := make([]*Registration, 0, r.live)
		for _, s := range r.slots {
			if s.reg != nil {
				regs = append(regs, s.reg)
			}
		}
		r.mu.RUnlock()

		for _, reg := range regs {
			if !yield(reg) {
				return
			}
		}
	}
}
