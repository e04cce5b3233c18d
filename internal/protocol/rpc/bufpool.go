package rpc

import "sync"

// Size classes for inbound records.
//
// Almost every request is a header plus a handful of u32 fields, so the
// small class dominates. The large class covers a policy add carrying the
// maximum number of paths; anything bigger is allocated directly.
const (
	smallBufferSize  = 512
	mediumBufferSize = 8 << 10   // 8KB
	largeBufferSize  = 128 << 10 // 128KB
)

type bufferPool struct {
	small  sync.Pool
	medium sync.Pool
	large  sync.Pool
}

func newSizedPool(size int) sync.Pool {
	return sync.Pool{
		New: func() any {
			buf := make([]byte, size)
			return &buf
		},
	}
}

var globalBufferPool = &bufferPool{
	small:  newSizedPool(smallBufferSize),
	medium: newSizedPool(mediumBufferSize),
	large:  newSizedPool(largeBufferSize),
}

// Get returns a slice of exactly size bytes, backed by a pooled buffer when
// one of the size classes fits. Pooled buffers are not zeroed.
func (p *bufferPool) Get(size uint32) []byte {
	var bufPtr *[]byte

	switch {
	case size <= smallBufferSize:
		bufPtr = p.small.Get().(*[]byte)
	case size <= mediumBufferSize:
		bufPtr = p.medium.Get().(*[]byte)
	case size <= largeBufferSize:
		bufPtr = p.large.Get().(*[]byte)
	default:
		return make([]byte, size)
	}

	buf := *bufPtr
	return buf[:size]
}

// Put hands a buffer back to the pool matching its capacity. Buffers of any
// other capacity are left to the garbage collector.
func (p *bufferPool) Put(buf []byte) {
	if buf == nil {
		return
	}

	full := buf[:cap(buf)]
	switch cap(buf) {
	case smallBufferSize:
		p.small.Put(&full)
	case mediumBufferSize:
		p.medium.Put(&full)
	case largeBufferSize:
		p.large.Put(&full)
	}
}

// GetBuffer acquires a buffer from the global pool.
//
//	buf := GetBuffer(size)
//	defer PutBuffer(buf)
func GetBuffer(size uint32) []byte {
	return globalBufferPool.Get(size)
}

// PutBuffer returns a buffer to the global pool.
func PutBuffer(buf []byte) {
	globalBufferPool.Put(buf)
}
