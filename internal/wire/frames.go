package wire

import (
	"encoding/binary"
	"io"
)

// FrameType tags a control frame on the sockets/uring transport wire. Two-
// sided messages and one-sided RMA emulation share a single byte stream, so
// every frame is prefixed with a type and a length.
type FrameType byte

const (
	// FrameMsg carries a two-sided send payload (at most msg_size bytes).
	FrameMsg FrameType = iota + 1
	// FrameRMAReadReq requests length bytes at (rkey, raddr) be read back.
	FrameRMAReadReq
	// FrameRMAReadResp carries the bytes requested by a FrameRMAReadReq.
	FrameRMAReadResp
	// FrameRMAWrite carries a fire-and-forget one-sided write payload.
	FrameRMAWrite
	// FrameRMAAtomicWrite carries an 8-byte atomic remote store.
	FrameRMAAtomicWrite
)

const frameHeaderSize = 5 // 4-byte LE length + 1-byte type

// WriteFrame writes a length-prefixed, typed frame to w. body is the
// frame-specific encoding (not including the type/length header).
func WriteFrame(w io.Writer, ftype FrameType, body []byte) error {
	header := make([]byte, frameHeaderSize)
	binary.LittleEndian.PutUint32(header[0:4], uint32(len(body)))
	header[4] = byte(ftype)
	if _, err := w.Write(header); err != nil {
		return err
	}
	if len(body) == 0 {
		return nil
	}
	_, err := w.Write(body)
	return err
}

// ReadFrame reads one length-prefixed, typed frame from r.
func ReadFrame(r io.Reader) (FrameType, []byte, error) {
	header := make([]byte, frameHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return 0, nil, err
	}
	length := binary.LittleEndian.Uint32(header[0:4])
	ftype := FrameType(header[4])

	body := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(r, body); err != nil {
			return 0, nil, err
		}
	}
	return ftype, body, nil
}

// MsgFrame is a two-sided send: op_context identifies the sender's send-ring
// slot so the peer's completion (if ever echoed) could be matched, and the
// payload is at most msg_size bytes.
type MsgFrame struct {
	OpContext uint64
	Payload   []byte
}

// Marshal encodes a MsgFrame body (without the outer type/length header).
func (f MsgFrame) Marshal() []byte {
	buf := make([]byte, 8+len(f.Payload))
	binary.LittleEndian.PutUint64(buf[0:8], f.OpContext)
	copy(buf[8:], f.Payload)
	return buf
}

// UnmarshalMsgFrame decodes a MsgFrame body.
func UnmarshalMsgFrame(data []byte) (MsgFrame, error) {
	if len(data) < 8 {
		return MsgFrame{}, ErrInsufficientData
	}
	return MsgFrame{
		OpContext: binary.LittleEndian.Uint64(data[0:8]),
		Payload:   append([]byte(nil), data[8:]...),
	}, nil
}

// RMAReadReqFrame asks the remote side to return length bytes starting at
// raddr within the region identified by rkey.
type RMAReadReqFrame struct {
	OpContext uint64
	RKey      uint64
	RAddr     uint64
	Length    uint32
}

func (f RMAReadReqFrame) Marshal() []byte {
	buf := make([]byte, 28)
	binary.LittleEndian.PutUint64(buf[0:8], f.OpContext)
	binary.LittleEndian.PutUint64(buf[8:16], f.RKey)
	binary.LittleEndian.PutUint64(buf[16:24], f.RAddr)
	binary.LittleEndian.PutUint32(buf[24:28], f.Length)
	return buf
}

func UnmarshalRMAReadReqFrame(data []byte) (RMAReadReqFrame, error) {
	if len(data) < 28 {
		return RMAReadReqFrame{}, ErrInsufficientData
	}
	return RMAReadReqFrame{
		OpContext: binary.LittleEndian.Uint64(data[0:8]),
		RKey:      binary.LittleEndian.Uint64(data[8:16]),
		RAddr:     binary.LittleEndian.Uint64(data[16:24]),
		Length:    binary.LittleEndian.Uint32(data[24:28]),
	}, nil
}

// RMAReadRespFrame carries the bytes requested by a matching RMAReadReqFrame,
// correlated by OpContext (a per-connection counter value the requester
// assigned to the read).
type RMAReadRespFrame struct {
	OpContext uint64
	Data      []byte
}

func (f RMAReadRespFrame) Marshal() []byte {
	buf := make([]byte, 8+len(f.Data))
	binary.LittleEndian.PutUint64(buf[0:8], f.OpContext)
	copy(buf[8:], f.Data)
	return buf
}

func UnmarshalRMAReadRespFrame(data []byte) (RMAReadRespFrame, error) {
	if len(data) < 8 {
		return RMAReadRespFrame{}, ErrInsufficientData
	}
	return RMAReadRespFrame{
		OpContext: binary.LittleEndian.Uint64(data[0:8]),
		Data:      append([]byte(nil), data[8:]...),
	}, nil
}

// RMAWriteFrame is a fire-and-forget one-sided write: no response is ever
// sent, matching spec.md §4.4 ("writes are fire-and-forget by design").
type RMAWriteFrame struct {
	RKey  uint64
	RAddr uint64
	Data  []byte
}

func (f RMAWriteFrame) Marshal() []byte {
	buf := make([]byte, 16+len(f.Data))
	binary.LittleEndian.PutUint64(buf[0:8], f.RKey)
	binary.LittleEndian.PutUint64(buf[8:16], f.RAddr)
	copy(buf[16:], f.Data)
	return buf
}

func UnmarshalRMAWriteFrame(data []byte) (RMAWriteFrame, error) {
	if len(data) < 16 {
		return RMAWriteFrame{}, ErrInsufficientData
	}
	return RMAWriteFrame{
		RKey:  binary.LittleEndian.Uint64(data[0:8]),
		RAddr: binary.LittleEndian.Uint64(data[8:16]),
		Data:  append([]byte(nil), data[16:]...),
	}, nil
}

// RMAAtomicWriteFrame carries an 8-byte value to be stored atomically at
// (rkey, raddr) on the remote side (spec.md §9 REDESIGN FLAGS).
type RMAAtomicWriteFrame struct {
	RKey  uint64
	RAddr uint64
	Value uint64
}

func (f RMAAtomicWriteFrame) Marshal() []byte {
	buf := make([]byte, 24)
	binary.LittleEndian.PutUint64(buf[0:8], f.RKey)
	binary.LittleEndian.PutUint64(buf[8:16], f.RAddr)
	binary.LittleEndian.PutUint64(buf[16:24], f.Value)
	return buf
}

func UnmarshalRMAAtomicWriteFrame(data []byte) (RMAAtomicWriteFrame, error) {
	if len(data) < 24 {
		return RMAAtomicWriteFrame{}, ErrInsufficientData
	}
	return RMAAtomicWriteFrame{
		RKey:  binary.LittleEndian.Uint64(data[0:8]),
		RAddr: binary.LittleEndian.Uint64(data[8:16]),
		Value: binary.LittleEndian.Uint64(data[16:24]),
	}, nil
}
