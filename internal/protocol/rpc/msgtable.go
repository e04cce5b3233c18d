package rpc

import (
	"fmt"
	"sort"
	"sync"
)

// MsgRange is the block of message ids owned by one plugin.
type MsgRange struct {
	Name  string
	First uint32
	Last  uint32
}

// MsgTable maps message names to ids and back.
type MsgTable struct {
	mu     sync.RWMutex
	byName map[string]uint32
	byID   map[uint32]string
	ranges []MsgRange
}

// NewMsgTable returns a table preloaded with the core transport messages.
func NewMsgTable() *MsgTable {
	t := &MsgTable{
		byName: make(map[string]uint32),
		byID:   make(map[uint32]string),
	}
	for id, name := range coreMessageNames {
		t.byName[name] = id
		t.byID[id] = name
	}
	t.ranges = append(t.ranges, MsgRange{Name: "core", First: MsgControlPing, Last: MsgSockclntDeleteReply})
	return t
}

// AddRange registers a plugin's messages. names[i] receives id base+i.
//
// The range must start at or above FirstPluginMsgID, stay within MaxMsgID,
// and not overlap a range or name already registered.
func (t *MsgTable) AddRange(plugin string, base uint32, names []string) error {
	if len(names) == 0 {
		return fmt.Errorf("plugin %s: no messages", plugin)
	}
	if base < FirstPluginMsgID {
		return fmt.Errorf("plugin %s: base id %d below first plugin id %d", plugin, base, FirstPluginMsgID)
	}
	last := base + uint32(len(names)) - 1
	if last > MaxMsgID || last < base {
		return fmt.Errorf("plugin %s: ids %d-%d exceed %d", plugin, base, last, MaxMsgID)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	for _, r := range t.ranges {
		if base <= r.Last && last >= r.First {
			return fmt.Errorf("plugin %s: ids %d-%d overlap %s (%d-%d)", plugin, base, last, r.Name, r.First, r.Last)
		}
	}
	for _, name := range names {
		if _, dup := t.byName[name]; dup {
			return fmt.Errorf("plugin %s: message %s already registered", plugin, name)
		}
	}

	for i, name := range names {
		id := base + uint32(i)
		t.byName[name] = id
		t.byID[id] = name
	}
	t.ranges = append(t.ranges, MsgRange{Name: plugin, First: base, Last: last})
	return nil
}

// ID returns the id registered for name.
func (t *MsgTable) ID(name string) (uint32, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	id, ok := t.byName[name]
	return id, ok
}

// Name returns the message name registered for id.
func (t *MsgTable) Name(id uint32) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	name, ok := t.byID[id]
	return name, ok
}

// Ranges returns the registered ranges ordered by first id.
func (t *MsgTable) Ranges() []MsgRange {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := append([]MsgRange(nil), t.ranges...)
	sort.Slice(out, func(i, j int) bool { return out[i].First < out[j].First })
	return out
}

// Entries returns every (id, name) pair ordered by id, in the form sent
// back by sockclnt_create.
func (t *MsgTable) Entries() []MsgTableEntry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]MsgTableEntry, 0, len(t.byID))
	for id, name := range t.byID {
		out = append(out, MsgTableEntry{ID: id, Name: name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
