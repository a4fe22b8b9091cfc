package rpma

import (
	"sync"
	"sync/atomic"

	"github.com/behrlich/rpma/internal/membuf"
	"github.com/behrlich/rpma/internal/wire"
)

// AccessFlags is the bitset of permitted operations on a memory region
// (spec.md §3 MemoryRegionLocal).
type AccessFlags uint32

const (
	// AccessReadDst permits the region to be the destination of a local read.
	AccessReadDst AccessFlags = 1 << iota
	// AccessWriteSrc permits the region to be the local source of a write.
	AccessWriteSrc
	// AccessWriteDst permits the region to be the remote destination of a
	// peer's write or atomic_write.
	AccessWriteDst
	// AccessReadSrc permits the region to be the remote source of a peer's
	// read.
	AccessReadSrc
)

// MemoryRegionLocal registers a local buffer with the zone's domain and
// derives a transportable identifier from it (spec.md §3, §4.5). It owns
// the registration, not the buffer.
type MemoryRegionLocal struct {
	zone    *Zone
	buf     []byte
	access  AccessFlags
	rkey    uint64
	aligned *membuf.AlignedBuffer

	// mu serializes inbound peer writes/atomic_writes against each other and
	// against concurrent read-req servicing, so a peer reading this region
	// never observes a torn in-flight write (spec.md §9 REDESIGN FLAGS).
	mu sync.Mutex
}

var nextRKey atomic.Uint64

// NewMemoryRegionLocal registers buf with the zone, deriving an identifier
// for wire transmission (memory_local_new, spec.md §4.5).
func (z *Zone) NewMemoryRegionLocal(buf []byte, access AccessFlags) (*MemoryRegionLocal, error) {
	if len(buf) == 0 {
		return nil, NewError("memory_local_new", EInvalidMsg, "buffer must not be empty")
	}
	m := &MemoryRegionLocal{
		zone:   z,
		buf:    buf,
		access: access,
		rkey:   nextRKey.Add(1),
	}
	z.registerLocalRegion(m)
	return m, nil
}

// NewAlignedMemoryRegionLocal allocates a page-aligned buffer of size bytes
// via membuf.NewAligned and registers it. The returned region owns the
// mapping; Close releases both the registration and the mapping.
func (z *Zone) NewAlignedMemoryRegionLocal(size int, access AccessFlags) (*MemoryRegionLocal, error) {
	ab, err := membuf.NewAligned(size)
	if err != nil {
		return nil, WrapError("memory_local_new", err)
	}
	m, err := z.NewMemoryRegionLocal(ab.Bytes(), access)
	if err != nil {
		ab.Close()
		return nil, err
	}
	m.aligned = ab
	return m, nil
}

// Id returns the transportable identifier for wire transmission
// (memory_local_get_id, spec.md §4.5). RAddr is the region's logical base
// (always 0: the sockets/uring providers address remote regions purely by
// rkey + offset, never a real pointer value).
func (m *MemoryRegionLocal) Id() wire.MemoryId {
	return wire.MemoryId{RAddr: 0, RKey: m.rkey, Size: uint64(len(m.buf))}
}

// Bytes returns the registered buffer.
func (m *MemoryRegionLocal) Bytes() []byte { return m.buf }

// Access returns the region's permitted-operations bitset.
func (m *MemoryRegionLocal) Access() AccessFlags { return m.access }

// Close deregisters the region from its zone and releases any owned
// page-aligned mapping.
func (m *MemoryRegionLocal) Close() error {
	m.zone.deregisterLocalRegion(m.rkey)
	if m.aligned != nil {
		return m.aligned.Close()
	}
	return nil
}

// MemoryRegionRemote is a descriptor decoded from a peer's identifier
// (spec.md §3, §4.5). Immutable after creation; owned by whoever created it.
type MemoryRegionRemote struct {
	zone *Zone
	id   wire.MemoryId
}

// NewMemoryRegionRemote allocates a remote descriptor from a received
// identifier (memory_remote_new, spec.md §4.5).
func (z *Zone) NewMemoryRegionRemote(id wire.MemoryId) (*MemoryRegionRemote, error) {
	return &MemoryRegionRemote{zone: z, id: id}, nil
}

// Id returns the remote descriptor.
func (m *MemoryRegionRemote) Id() wire.MemoryId { return m.id }

// Close releases the remote descriptor (memory_remote_delete). There is
// nothing transport-side to release for an emulated region; this exists to
// preserve the explicit-free contract spec.md §3 assigns to
// MemoryRegionRemote.
func (m *MemoryRegionRemote) Close() error { return nil }
