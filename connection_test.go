package rpma

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestConnectionAcceptRejectsNonCreatedState(t *testing.T) {
	serverZone, serverConn, _, clientConn, cleanup := loopbackPair(t)
	defer cleanup()

	require.Equal(t, ConnConnected, serverConn.State())
	err := serverZone.Accept(serverConn)
	require.Error(t, err)
	require.True(t, IsCode(err, EUnhandledEvent))

	require.Equal(t, ConnConnected, clientConn.State())
}

func TestConnectionEstablishRejectsNonCreatedState(t *testing.T) {
	_, _, _, clientConn, cleanup := loopbackPair(t)
	defer cleanup()

	err := clientConn.Establish()
	require.Error(t, err)
	require.True(t, IsCode(err, EUnhandledEvent))
}

func TestConnectionDisconnectIsIdempotent(t *testing.T) {
	_, serverConn, _, clientConn, cleanup := loopbackPair(t)
	defer cleanup()

	require.NoError(t, clientConn.Disconnect())
	require.Equal(t, ConnDisconnecting, clientConn.State())
	require.NoError(t, clientConn.Disconnect())
	require.Equal(t, ConnDisconnecting, clientConn.State())

	require.NoError(t, serverConn.Disconnect())
}

func TestConnectionRejectClosesWithoutRegistering(t *testing.T) {
	serverCfg, err := NewConfig().SetAddr("127.0.0.1")
	require.NoError(t, err)
	serverCfg, err = serverCfg.SetService("0")
	require.NoError(t, err)
	serverCfg, err = serverCfg.SetFlags(IsServer)
	require.NoError(t, err)

	sz, err := NewZone(serverCfg, nil, func(*Zone, EventKind, *Connection, any) error { return nil }, nil)
	require.NoError(t, err)
	require.NoError(t, sz.Listen())
	defer sz.Close()

	raw, err := sz.provider.Dial(sz.cfg.Addr(), sz.cfg.Service())
	require.NoError(t, err)
	defer raw.Close()

	// Listen started the zone's accept loop, which takes the inbound
	// connection off the listener and queues it as an incoming event.
	var ev zoneEvent
	select {
	case ev = <-sz.events:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the accept loop to queue the connection")
	}
	require.Equal(t, zevIncoming, ev.kind)

	conn := newConnection(sz, ev.raw)
	require.NoError(t, sz.Reject(conn))
	require.Equal(t, ConnTerminated, conn.State())
	require.Equal(t, 0, sz.conns.Len())

	err = sz.Reject(conn)
	require.Error(t, err)
	require.True(t, IsCode(err, EUnhandledEvent))
}

func TestConnectionUserData(t *testing.T) {
	_, serverConn, _, _, cleanup := loopbackPair(t)
	defer cleanup()

	require.Nil(t, serverConn.UserData())
	serverConn.SetUserData("payload")
	require.Equal(t, "payload", serverConn.UserData())
}

func TestConnectionPreparePostedReceivesResetsCursor(t *testing.T) {
	_, serverConn, _, _, cleanup := loopbackPair(t)
	defer cleanup()

	serverConn.recvCursor.Store(7)
	serverConn.preparePostedReceives()
	require.Equal(t, uint64(0), serverConn.recvCursor.Load())
}

func TestConnectionOutstandingReceivesTracksConfig(t *testing.T) {
	_, serverConn, _, clientConn, cleanup := loopbackPair(t)
	defer cleanup()

	require.Equal(t, clientConn.cfg.RecvQueueLength(), serverConn.OutstandingReceives())

	slot, buf := clientConn.GetSendSlot()
	n := copy(buf, []byte("keeps the ring pinned"))
	require.NoError(t, clientConn.Send(slot, buf[:n]))

	_, err := serverConn.Recv()
	require.NoError(t, err)
	require.Equal(t, clientConn.cfg.RecvQueueLength(), serverConn.OutstandingReceives())
}
