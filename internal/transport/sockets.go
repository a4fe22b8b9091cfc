package transport

import (
	"net"
	"sync"
	"time"

	"github.com/behrlich/rpma/internal/wire"
)

// SocketsProvider is a pure-Go TCP-backed Provider, always available
// regardless of platform or build tags. It mirrors libfabric's own
// `sockets` provider: no native RDMA, so one-sided RMA is emulated over
// the stream via internal/wire control frames.
type SocketsProvider struct{}

// NewSocketsProvider returns the default, always-available provider.
func NewSocketsProvider() *SocketsProvider {
	return &SocketsProvider{}
}

func (p *SocketsProvider) Name() string { return "sockets" }

func (p *SocketsProvider) Listen(addr, service string) (Listener, error) {
	ln, err := net.Listen("tcp", net.JoinHostPort(addr, service))
	if err != nil {
		return nil, err
	}
	return &socketsListener{ln: ln}, nil
}

func (p *SocketsProvider) Dial(addr, service string) (Conn, error) {
	conn, err := net.Dial("tcp", net.JoinHostPort(addr, service))
	if err != nil {
		return nil, err
	}
	return newSocketsConn(conn), nil
}

type socketsListener struct {
	ln net.Listener
}

func (l *socketsListener) Accept(deadline time.Time) (Conn, error) {
	if tl, ok := l.ln.(*net.TCPListener); ok {
		if err := tl.SetDeadline(deadline); err != nil {
			return nil, err
		}
	}
	conn, err := l.ln.Accept()
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return nil, ErrTimeout
		}
		return nil, err
	}
	return newSocketsConn(conn), nil
}

func (l *socketsListener) Close() error { return l.ln.Close() }
func (l *socketsListener) Addr() string { return l.ln.Addr().String() }

// socketsConn frames internal/wire messages over a net.Conn. Writes are
// serialized with a mutex since a Connection's messaging and RMA paths may
// issue frames from both the owning dispatcher and a blocking cq_wait.
type socketsConn struct {
	id   EndpointID
	conn net.Conn
	wmu  sync.Mutex
}

func newSocketsConn(conn net.Conn) *socketsConn {
	return &socketsConn{id: NewEndpointID(), conn: conn}
}

func (c *socketsConn) ID() EndpointID { return c.id }

func (c *socketsConn) ReadFrame(deadline time.Time) (wire.FrameType, []byte, error) {
	if err := c.conn.SetReadDeadline(deadline); err != nil {
		return 0, nil, err
	}
	ftype, body, err := wire.ReadFrame(c.conn)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return 0, nil, ErrTimeout
		}
		return 0, nil, err
	}
	return ftype, body, nil
}

func (c *socketsConn) WriteFrame(ftype wire.FrameType, body []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return wire.WriteFrame(c.conn, ftype, body)
}

func (c *socketsConn) Close() error          { return c.conn.Close() }
func (c *socketsConn) RemoteAddr() string    { return c.conn.RemoteAddr().String() }

var (
	_ Provider = (*SocketsProvider)(nil)
	_ Listener = (*socketsListener)(nil)
	_ Conn     = (*socketsConn)(nil)
)
