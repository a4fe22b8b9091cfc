package rpma

import (
	"net"
	"testing"
	"time"
)

// loopbackPair wires a server and client zone together over the sockets
// provider on 127.0.0.1, returning the established Connection on each side.
// Both zones' WaitConnections loops run in background goroutines for the
// caller to drive with further Send/Recv/Read/Write calls; cleanup tears
// both down.
func loopbackPair(t *testing.T) (serverZone *Zone, serverConn *Connection, clientZone *Zone, clientConn *Connection, cleanup func()) {
	t.Helper()

	serverConns := make(chan *Connection, 1)
	serverErrs := make(chan error, 1)
	serverCfg, err := NewConfig().SetAddr("127.0.0.1")
	if err != nil {
		t.Fatalf("set addr: %v", err)
	}
	serverCfg, err = serverCfg.SetService("0")
	if err != nil {
		t.Fatalf("set service: %v", err)
	}
	serverCfg, err = serverCfg.SetFlags(IsServer)
	if err != nil {
		t.Fatalf("set flags: %v", err)
	}

	sz, err := NewZone(serverCfg, nil, func(z *Zone, event EventKind, conn *Connection, uarg any) error {
		if event != EventIncoming {
			return nil
		}
		if err := z.Accept(conn); err != nil {
			return err
		}
		serverConns <- conn
		return nil
	}, nil)
	if err != nil {
		t.Fatalf("new server zone: %v", err)
	}

	if err := sz.Listen(); err != nil {
		t.Fatalf("listen: %v", err)
	}

	go func() {
		serverErrs <- sz.WaitConnections()
	}()

	_, port, err := net.SplitHostPort(sz.ListenAddr())
	if err != nil {
		t.Fatalf("split listen addr: %v", err)
	}

	clientConns := make(chan *Connection, 1)
	clientErrs := make(chan error, 1)
	clientCfg, err := NewConfig().SetAddr("127.0.0.1")
	if err != nil {
		t.Fatalf("set addr: %v", err)
	}
	clientCfg, err = clientCfg.SetService(port)
	if err != nil {
		t.Fatalf("set service: %v", err)
	}

	cz, err := NewZone(clientCfg, nil, func(z *Zone, event EventKind, conn *Connection, uarg any) error {
		if event != EventOutgoing {
			return nil
		}
		dialed, err := z.Dial()
		if err != nil {
			return err
		}
		if err := dialed.Establish(); err != nil {
			return err
		}
		clientConns <- dialed
		return nil
	}, nil)
	if err != nil {
		t.Fatalf("new client zone: %v", err)
	}

	go func() {
		clientErrs <- cz.WaitConnections()
	}()

	select {
	case clientConn = <-clientConns:
	case err := <-clientErrs:
		t.Fatalf("client zone exited early: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for client connection")
	}

	select {
	case serverConn = <-serverConns:
	case err := <-serverErrs:
		t.Fatalf("server zone exited early: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for server connection")
	}

	cleanup = func() {
		sz.WaitBreak()
		cz.WaitBreak()
		serverConn.Disconnect()
		clientConn.Disconnect()
		<-serverErrs
		<-clientErrs
	}
	return sz, serverConn, cz, clientConn, cleanup
}
