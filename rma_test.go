package rpma

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWriteThenReadRoundTrip(t *testing.T) {
	serverZone, serverConn, _, clientConn, cleanup := loopbackPair(t)
	defer cleanup()

	serverBuf := make([]byte, 64)
	serverRegion, err := serverZone.NewMemoryRegionLocal(serverBuf, AccessWriteDst|AccessReadSrc)
	require.NoError(t, err)
	defer serverRegion.Close()

	remote, err := clientConn.zone.NewMemoryRegionRemote(serverRegion.Id())
	require.NoError(t, err)

	payload := []byte("persistent memory access")
	clientBuf := make([]byte, 64)
	copy(clientBuf, payload)
	clientRegion, err := clientConn.zone.NewMemoryRegionLocal(clientBuf, AccessWriteSrc|AccessReadDst)
	require.NoError(t, err)
	defer clientRegion.Close()

	require.NoError(t, clientConn.Write(remote, 0, clientRegion, 0, len(payload)))
	require.NoError(t, clientConn.Commit())

	// Confirm the bytes actually landed in the server's registered buffer.
	require.Eventually(t, func() bool {
		return string(serverBuf[:len(payload)]) == string(payload)
	}, 2*time.Second, time.Millisecond, "write did not land in server region")

	readBack := make([]byte, len(payload))
	readRegion, err := clientConn.zone.NewMemoryRegionLocal(readBack, AccessReadDst)
	require.NoError(t, err)
	defer readRegion.Close()

	require.NoError(t, serverConn.Read(readRegion, 0, mustRemote(t, serverConn, clientRegion), 0, len(payload)))
	require.Equal(t, payload, readBack)
}

func TestAtomicWriteStoresEightBytes(t *testing.T) {
	serverZone, _, _, clientConn, cleanup := loopbackPair(t)
	defer cleanup()

	serverBuf := make([]byte, 64)
	serverRegion, err := serverZone.NewMemoryRegionLocal(serverBuf, AccessWriteDst)
	require.NoError(t, err)
	defer serverRegion.Close()

	remote, err := clientConn.zone.NewMemoryRegionRemote(serverRegion.Id())
	require.NoError(t, err)

	const want uint64 = 0xDEADBEEFCAFE
	require.NoError(t, clientConn.AtomicWrite(remote, 8, want))

	require.Eventually(t, func() bool {
		return binary.LittleEndian.Uint64(serverBuf[8:16]) == want
	}, 2*time.Second, time.Millisecond, "atomic_write did not land")
}

func TestCommitIsNoOpWithoutPriorWrite(t *testing.T) {
	_, _, _, clientConn, cleanup := loopbackPair(t)
	defer cleanup()

	require.NoError(t, clientConn.Commit())
}

func TestReadRejectsOutOfBoundsRange(t *testing.T) {
	serverZone, _, _, clientConn, cleanup := loopbackPair(t)
	defer cleanup()

	serverBuf := make([]byte, 16)
	serverRegion, err := serverZone.NewMemoryRegionLocal(serverBuf, AccessReadSrc)
	require.NoError(t, err)
	defer serverRegion.Close()

	remote, err := clientConn.zone.NewMemoryRegionRemote(serverRegion.Id())
	require.NoError(t, err)

	dst := make([]byte, 16)
	dstRegion, err := clientConn.zone.NewMemoryRegionLocal(dst, AccessReadDst)
	require.NoError(t, err)
	defer dstRegion.Close()

	err = clientConn.Read(dstRegion, 0, remote, 0, 32)
	require.Error(t, err)
	require.True(t, IsCode(err, EInvalidMsg))
}

func mustRemote(t *testing.T, conn *Connection, local *MemoryRegionLocal) *MemoryRegionRemote {
	t.Helper()
	r, err := conn.zone.NewMemoryRegionRemote(local.Id())
	require.NoError(t, err)
	return r
}
