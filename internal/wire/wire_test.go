package wire

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemoryIdRoundTrip(t *testing.T) {
	id := MemoryId{RAddr: 0xdeadbeef, RKey: 42, Size: 4096}

	buf := id.Marshal()
	require.Len(t, buf, MemoryIdSize)

	got, err := UnmarshalMemoryId(buf)
	require.NoError(t, err)
	require.Equal(t, id, got)
}

func TestMemoryIdUnmarshalInsufficientData(t *testing.T) {
	_, err := UnmarshalMemoryId([]byte{1, 2, 3})
	require.ErrorIs(t, err, ErrInsufficientData)
}

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer

	msg := MsgFrame{OpContext: 7, Payload: []byte("hello world")}
	require.NoError(t, WriteFrame(&buf, FrameMsg, msg.Marshal()))

	ftype, body, err := ReadFrame(&buf)
	require.NoError(t, err)
	require.Equal(t, FrameMsg, ftype)

	decoded, err := UnmarshalMsgFrame(body)
	require.NoError(t, err)
	require.Equal(t, msg.OpContext, decoded.OpContext)
	require.Equal(t, msg.Payload, decoded.Payload)
}

func TestRMAReadReqRoundTrip(t *testing.T) {
	var buf bytes.Buffer

	req := RMAReadReqFrame{OpContext: 99, RKey: 11, RAddr: 0x1000, Length: 64}
	require.NoError(t, WriteFrame(&buf, FrameRMAReadReq, req.Marshal()))

	ftype, body, err := ReadFrame(&buf)
	require.NoError(t, err)
	require.Equal(t, FrameRMAReadReq, ftype)

	decoded, err := UnmarshalRMAReadReqFrame(body)
	require.NoError(t, err)
	require.Equal(t, req, decoded)
}

func TestRMAReadRespRoundTrip(t *testing.T) {
	resp := RMAReadRespFrame{OpContext: 5, Data: []byte{0xAA, 0xBB, 0xCC}}
	body := resp.Marshal()

	decoded, err := UnmarshalRMAReadRespFrame(body)
	require.NoError(t, err)
	require.Equal(t, resp.OpContext, decoded.OpContext)
	require.Equal(t, resp.Data, decoded.Data)
}

func TestRMAWriteRoundTrip(t *testing.T) {
	w := RMAWriteFrame{RKey: 3, RAddr: 0x2000, Data: []byte("HELLO")}
	body := w.Marshal()

	decoded, err := UnmarshalRMAWriteFrame(body)
	require.NoError(t, err)
	require.Equal(t, w.RKey, decoded.RKey)
	require.Equal(t, w.RAddr, decoded.RAddr)
	require.Equal(t, w.Data, decoded.Data)
}

func TestRMAAtomicWriteRoundTrip(t *testing.T) {
	aw := RMAAtomicWriteFrame{RKey: 9, RAddr: 0x3000, Value: 0x0102030405060708}
	body := aw.Marshal()

	decoded, err := UnmarshalRMAAtomicWriteFrame(body)
	require.NoError(t, err)
	require.Equal(t, aw, decoded)
}

func TestMultipleFramesOnOneStream(t *testing.T) {
	var buf bytes.Buffer

	m1 := MsgFrame{OpContext: 1, Payload: []byte("first")}
	m2 := MsgFrame{OpContext: 2, Payload: []byte("second")}
	require.NoError(t, WriteFrame(&buf, FrameMsg, m1.Marshal()))
	require.NoError(t, WriteFrame(&buf, FrameMsg, m2.Marshal()))

	_, body1, err := ReadFrame(&buf)
	require.NoError(t, err)
	d1, err := UnmarshalMsgFrame(body1)
	require.NoError(t, err)
	require.Equal(t, m1.Payload, d1.Payload)

	_, body2, err := ReadFrame(&buf)
	require.NoError(t, err)
	d2, err := UnmarshalMsgFrame(body2)
	require.NoError(t, err)
	require.Equal(t, m2.Payload, d2.Payload)
}
