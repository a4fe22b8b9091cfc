package membuf

import "sync"

// Size-bucketed scratch pool for RMA read-response and write payloads,
// adapted from the teacher's queue.BufferPool: power-of-2 buckets avoid
// hot-path allocation for the common small message/RMA-chunk sizes this
// library actually sees (msg_size defaults to 30 bytes; RMA payloads are
// usually well under 64KB).
const (
	size4k   = 4 * 1024
	size16k  = 16 * 1024
	size64k  = 64 * 1024
	size256k = 256 * 1024
)

var globalPool = struct {
	pool4k   sync.Pool
	pool16k  sync.Pool
	pool64k  sync.Pool
	pool256k sync.Pool
}{
	pool4k:   sync.Pool{New: func() any { b := make([]byte, size4k); return &b }},
	pool16k:  sync.Pool{New: func() any { b := make([]byte, size16k); return &b }},
	pool64k:  sync.Pool{New: func() any { b := make([]byte, size64k); return &b }},
	pool256k: sync.Pool{New: func() any { b := make([]byte, size256k); return &b }},
}

// Get returns a slice of exactly size bytes, backed by a pooled buffer of the
// smallest fitting bucket's capacity (a fresh allocation above 256KB). Put
// restores full capacity from the slice header so the caller may shrink the
// returned slice freely.
func Get(size int) []byte {
	switch {
	case size <= size4k:
		return (*globalPool.pool4k.Get().(*[]byte))[:size]
	case size <= size16k:
		return (*globalPool.pool16k.Get().(*[]byte))[:size]
	case size <= size64k:
		return (*globalPool.pool64k.Get().(*[]byte))[:size]
	case size <= size256k:
		return (*globalPool.pool256k.Get().(*[]byte))[:size]
	default:
		return make([]byte, size)
	}
}

// Put returns a buffer obtained from Get back to its pool. Buffers not
// originating from Get (non-standard capacity) are simply dropped.
func Put(buf []byte) {
	c := cap(buf)
	buf = buf[:c]
	switch c {
	case size4k:
		globalPool.pool4k.Put(&buf)
	case size16k:
		globalPool.pool16k.Put(&buf)
	case size64k:
		globalPool.pool64k.Put(&buf)
	case size256k:
		globalPool.pool256k.Put(&buf)
	}
}
