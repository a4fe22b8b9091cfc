package rpma

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestZoneNewRejectsNilCallback(t *testing.T) {
	_, err := NewZone(NewConfig(), nil, nil, nil)
	require.Error(t, err)
	require.True(t, IsCode(err, EInvalidMsg))
}

func TestZoneRegisterOnTimeoutRejectsNegative(t *testing.T) {
	z, err := NewZone(NewConfig(), nil, func(*Zone, EventKind, *Connection, any) error { return nil }, nil)
	require.NoError(t, err)

	err = z.RegisterOnTimeout(nil, -1)
	require.Error(t, err)
	require.True(t, IsCode(err, ENegativeTimeout))
}

func TestZoneWaitConnectionsLazilyCreatesListener(t *testing.T) {
	cfg, err := NewConfig().SetAddr("127.0.0.1")
	require.NoError(t, err)
	cfg, err = cfg.SetService("0")
	require.NoError(t, err)
	cfg, err = cfg.SetFlags(IsServer)
	require.NoError(t, err)

	z, err := NewZone(cfg, nil, func(*Zone, EventKind, *Connection, any) error { return nil }, nil)
	require.NoError(t, err)
	require.Empty(t, z.ListenAddr(), "listener must not exist before wait_connections")

	done := make(chan error, 1)
	go func() { done <- z.WaitConnections() }()

	require.Eventually(t, func() bool { return z.ListenAddr() != "" }, time.Second, time.Millisecond)

	z.WaitBreak()
	require.NoError(t, <-done)
}

func TestZoneWaitConnectionsRejectsReentry(t *testing.T) {
	z, err := NewZone(NewConfig(), nil, func(*Zone, EventKind, *Connection, any) error { return nil }, nil)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- z.WaitConnections() }()
	require.Eventually(t, func() bool { return z.state.Load() == ZoneWaiting }, time.Second, time.Millisecond)

	err = z.WaitConnections()
	require.Error(t, err)
	require.True(t, IsCode(err, EUnhandledEvent))

	z.WaitBreak()
	<-done
}

func TestZoneServerIdleShutdownOptIn(t *testing.T) {
	cfg := NewConfig()
	cfg.ServerIdleShutdown = true

	z, err := NewZone(cfg, nil, func(*Zone, EventKind, *Connection, any) error { return nil }, nil)
	require.NoError(t, err)
	require.NoError(t, z.RegisterOnTimeout(nil, 10))

	done := make(chan error, 1)
	go func() { done <- z.WaitConnections() }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("zone did not self-shutdown on idle timeout")
	}
}

func TestZoneConnectionLifecycleEndToEnd(t *testing.T) {
	serverZone, serverConn, clientZone, clientConn, cleanup := loopbackPair(t)
	defer cleanup()

	require.Equal(t, ConnConnected, serverConn.State())
	require.Equal(t, ConnConnected, clientConn.State())
	require.Equal(t, 1, serverZone.conns.Len())
	require.Equal(t, 1, clientZone.conns.Len())
}
