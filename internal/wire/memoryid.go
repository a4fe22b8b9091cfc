// Package wire holds the library's own little-endian marshal format: the
// transportable MemoryId identifier and the internal RMA-emulation control
// frames sent over the sockets/uring transport providers.
package wire

import "encoding/binary"

// MemoryIdSize is the encoded size of a MemoryId in bytes (spec.md §6).
const MemoryIdSize = 24

// MemoryId is the transportable remote-region descriptor: raddr, rkey, size.
type MemoryId struct {
	RAddr uint64
	RKey  uint64
	Size  uint64
}

// Marshal encodes id as 24 little-endian bytes.
func (id MemoryId) Marshal() []byte {
	buf := make([]byte, MemoryIdSize)
	binary.LittleEndian.PutUint64(buf[0:8], id.RAddr)
	binary.LittleEndian.PutUint64(buf[8:16], id.RKey)
	binary.LittleEndian.PutUint64(buf[16:24], id.Size)
	return buf
}

// UnmarshalMemoryId decodes a 24-byte little-endian buffer into a MemoryId.
func UnmarshalMemoryId(data []byte) (MemoryId, error) {
	if len(data) < MemoryIdSize {
		return MemoryId{}, ErrInsufficientData
	}
	return MemoryId{
		RAddr: binary.LittleEndian.Uint64(data[0:8]),
		RKey:  binary.LittleEndian.Uint64(data[8:16]),
		Size:  binary.LittleEndian.Uint64(data[16:24]),
	}, nil
}

// MarshalError is a descriptive wire-format error.
type MarshalError string

func (e MarshalError) Error() string { return string(e) }

const (
	ErrInsufficientData MarshalError = "wire: insufficient data for unmarshal"
	ErrInvalidFrameType MarshalError = "wire: invalid frame type"
)
