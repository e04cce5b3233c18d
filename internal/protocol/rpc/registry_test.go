package rpc

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureSender struct {
	mu      sync.Mutex
	records [][]byte
}

func (s *captureSender) SendRecord(record []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, record)
	return nil
}

func TestRegistry(t *testing.T) {
	t.Run("RegisterAndResolve", func(t *testing.T) {
		r := NewRegistry()
		reg := r.Register("127.0.0.1:5000", &captureSender{})

		got, ok := r.Resolve(reg.Handle)
		require.True(t, ok)
		assert.Same(t, reg, got)
		assert.Equal(t, 1, r.Len())
		assert.NotEqual(t, [16]byte{}, [16]byte(reg.SessionID))
	})

	t.Run("UnknownHandleCountsMissingClient", func(t *testing.T) {
		r := NewRegistry()
		_, ok := r.Resolve(42)
		assert.False(t, ok)
		assert.Equal(t, uint64(1), r.MissingClients())
	})

	t.Run("StaleHandleDoesNotResolveAfterReuse", func(t *testing.T) {
		r := NewRegistry()
		first := r.Register("a", &captureSender{})
		require.True(t, r.Unregister(first.Handle))

		second := r.Register("b", &captureSender{})
		assert.Equal(t, HandleIndex(first.Handle), HandleIndex(second.Handle))
		assert.NotEqual(t, first.Handle, second.Handle)

		_, ok := r.Resolve(first.Handle)
		assert.False(t, ok)
		got, ok := r.Resolve(second.Handle)
		require.True(t, ok)
		assert.Equal(t, "b", got.Remote)
	})

	t.Run("UnregisterTwice", func(t *testing.T) {
		r := NewRegistry()
		reg := r.Register("a", &captureSender{})
		assert.True(t, r.Unregister(reg.Handle))
		assert.False(t, r.Unregister(reg.Handle))
		assert.Equal(t, 0, r.Len())
	})

	t.Run("SendFramesMessage", func(t *testing.T) {
		r := NewRegistry()
		sender := &captureSender{}
		reg := r.Register("a", sender)

		require.NoError(t, reg.Send(&RetvalReply{MsgID: 6, Context: 1}))
		require.Len(t, sender.records, 1)
		assert.Len(t, sender.records[0], 4+12)
	})

	t.Run("AllInSlotOrder", func(t *testing.T) {
		r := NewRegistry()
		a := r.Register("a", &captureSender{})
		b := r.Register("b", &captureSender{})
		c := r.Register("c", &captureSender{})
		r.Unregister(b.Handle)

		var names []string
		for reg := range r.All() {
			names = append(names, reg.Remote)
		}
		assert.Equal(t, []string{a.Remote, c.Remote}, names)
	})
}

func TestMsgTable(t *testing.T) {
	t.Run("CoreMessagesPreloaded", func(t *testing.T) {
		table := NewMsgTable()
		id, ok := table.ID("control_ping")
		require.True(t, ok)
		assert.Equal(t, MsgControlPing, id)
	})

	t.Run("AddRange", func(t *testing.T) {
		table := NewMsgTable()
		require.NoError(t, table.AddRange("abf", 100, []string{"a", "a_reply"}))

		id, ok := table.ID("a_reply")
		require.True(t, ok)
		assert.Equal(t, uint32(101), id)

		name, ok := table.Name(100)
		require.True(t, ok)
		assert.Equal(t, "a", name)

		ranges := table.Ranges()
		require.Len(t, ranges, 2)
		assert.Equal(t, MsgRange{Name: "abf", First: 100, Last: 101}, ranges[1])
	})

	t.Run("RejectsOverlap", func(t *testing.T) {
		table := NewMsgTable()
		require.NoError(t, table.AddRange("one", 100, []string{"x", "y"}))
		assert.Error(t, table.AddRange("two", 101, []string{"z"}))
	})

	t.Run("RejectsCoreRange", func(t *testing.T) {
		table := NewMsgTable()
		assert.Error(t, table.AddRange("low", 2, []string{"x"}))
	})

	t.Run("RejectsOutOfRange", func(t *testing.T) {
		table := NewMsgTable()
		assert.Error(t, table.AddRange("high", MaxMsgID, []string{"x", "y"}))
	})

	t.Run("RejectsDuplicateName", func(t *testing.T) {
		table := NewMsgTable()
		assert.Error(t, table.AddRange("dup", 100, []string{"control_ping"}))
	})
}
