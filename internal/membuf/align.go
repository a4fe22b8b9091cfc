// Package membuf allocates the buffers backing send/recv rings and
// registered memory regions: page-aligned anonymous mappings via
// golang.org/x/sys/unix for callers that need real page alignment, and a
// size-bucketed sync.Pool for RMA scratch buffers on the hot path.
package membuf

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// AlignedBuffer is a page-aligned anonymous mapping. Callers must call
// Close to release it; failing to do so leaks the mapping.
type AlignedBuffer struct {
	data []byte
}

// NewAligned allocates size bytes via an anonymous, private mmap, giving the
// caller a page-aligned buffer suitable for registration with a transport
// provider (spec.md §4.2: "each page-aligned, size = msg_size × queue_length").
func NewAligned(size int) (*AlignedBuffer, error) {
	if size <= 0 {
		return nil, fmt.Errorf("membuf: size must be positive, got %d", size)
	}
	data, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("membuf: mmap: %w", err)
	}
	return &AlignedBuffer{data: data}, nil
}

// Bytes returns the backing slice.
func (b *AlignedBuffer) Bytes() []byte { return b.data }

// Close unmaps the buffer.
func (b *AlignedBuffer) Close() error {
	if b.data == nil {
		return nil
	}
	err := unix.Munmap(b.data)
	b.data = nil
	return err
}
