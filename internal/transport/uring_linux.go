//go:build uring && linux

package transport

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/pawelgaczynski/giouring"
	"golang.org/x/sys/unix"

	"github.com/behrlich/rpma/internal/wire"
)

// User-data high bits tag each SQE with its completion class (recv, send,
// accept), reusing the teacher's udOpFetch/udOpCommit tagging idea.
// submitAndWait does not read the tag back: it keeps one SQE in flight under
// the provider mutex, so the next CQE always belongs to that SQE.
const (
	udClassRecv   uint64 = 0 << 63
	udClassSend   uint64 = 1 << 63
	udClassAccept uint64 = 1 << 62
)

const uringEntries = 256

// UringProvider drives socket accept/send/recv through a shared io_uring
// instance instead of blocking syscalls, mirroring the teacher's
// uring.Ring abstraction (PrepareIOCmd+FlushSubmissions batching,
// WaitForCompletion reaping) one for one.
type UringProvider struct {
	ring *giouring.Ring
	mu   sync.Mutex
}

// NewUringProvider creates the io_uring-backed provider. Returns
// ErrProviderUnavailable-wrapped errors if the kernel doesn't support the
// required io_uring features.
func NewUringProvider() (*UringProvider, error) {
	ring, err := giouring.CreateRing(uringEntries)
	if err != nil {
		return nil, fmt.Errorf("transport: create io_uring: %w", err)
	}
	return &UringProvider{ring: ring}, nil
}

func (p *UringProvider) Name() string { return "uring" }

func (p *UringProvider) Listen(addr, service string) (Listener, error) {
	ln, err := net.Listen("tcp", net.JoinHostPort(addr, service))
	if err != nil {
		return nil, err
	}
	tl, ok := ln.(*net.TCPListener)
	if !ok {
		ln.Close()
		return nil, fmt.Errorf("transport: expected *net.TCPListener")
	}
	rawConn, err := tl.SyscallConn()
	if err != nil {
		ln.Close()
		return nil, err
	}
	var fd int
	if err := rawConn.Control(func(f uintptr) { fd = int(f) }); err != nil {
		ln.Close()
		return nil, err
	}
	return &uringListener{provider: p, ln: ln, fd: fd}, nil
}

func (p *UringProvider) Dial(addr, service string) (Conn, error) {
	conn, err := net.Dial("tcp", net.JoinHostPort(addr, service))
	if err != nil {
		return nil, err
	}
	tc, ok := conn.(*net.TCPConn)
	if !ok {
		conn.Close()
		return nil, fmt.Errorf("transport: expected *net.TCPConn")
	}
	fd, err := sysFD(tc)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return newUringConn(p, conn, fd), nil
}

// submitAndWait pushes one SQE built by fill and blocks for its CQE,
// mirroring the teacher's SubmitIOCmd (prepare + immediate flush + wait).
func (p *UringProvider) submitAndWait(fill func(sqe *giouring.SubmissionQueueEntry), userData uint64) (int32, error) {
	p.mu.Lock()
	sqe := p.ring.GetSQE()
	if sqe == nil {
		p.mu.Unlock()
		return 0, ErrRingFull
	}
	fill(sqe)
	sqe.UserData = userData
	if _, err := p.ring.SubmitAndWait(1); err != nil {
		p.mu.Unlock()
		return 0, err
	}
	var cqe *giouring.CompletionQueueEvent
	err := p.ring.WaitCQE(&cqe)
	if err != nil {
		p.mu.Unlock()
		return 0, err
	}
	res := cqe.Res
	p.ring.SeenCQE(cqe)
	p.mu.Unlock()
	if res < 0 {
		return res, unix.Errno(-res)
	}
	return res, nil
}

// ErrRingFull mirrors the teacher's uring.ErrRingFull: the submission queue
// is saturated, which should not happen under this provider's bounded
// one-SQE-in-flight usage.
var ErrRingFull = fmt.Errorf("transport: io_uring submission queue full")

type uringListener struct {
	provider *UringProvider
	ln       net.Listener
	fd       int
}

// Accept does not apply deadline: the accept SQE waits until a peer connects
// or the listening socket fails, and ErrTimeout is never returned.
func (l *uringListener) Accept(deadline time.Time) (Conn, error) {
	res, err := l.provider.submitAndWait(func(sqe *giouring.SubmissionQueueEntry) {
		sqe.PrepareAccept(l.fd, uintptr(0), uintptr(0), 0)
	}, udClassAccept)
	if err != nil {
		return nil, err
	}

	connFD := int(res)
	file := newFileFromFD(connFD, "rpma-uring-accept")
	conn, err := net.FileConn(file)
	file.Close()
	if err != nil {
		unix.Close(connFD)
		return nil, err
	}
	return newUringConn(l.provider, conn, connFD), nil
}

func (l *uringListener) Close() error { return l.ln.Close() }
func (l *uringListener) Addr() string { return l.ln.Addr().String() }

// uringConn frames internal/wire messages over a socket fd, issuing the
// actual send/recv syscalls through the shared io_uring instance instead of
// blocking read(2)/write(2) calls.
type uringConn struct {
	id       EndpointID
	provider *UringProvider
	conn     net.Conn
	fd       int
	wmu      sync.Mutex
}

func newUringConn(p *UringProvider, conn net.Conn, fd int) *uringConn {
	return &uringConn{id: NewEndpointID(), provider: p, conn: conn, fd: fd}
}

func (c *uringConn) ID() EndpointID { return c.id }

func (c *uringConn) read(buf []byte) (int, error) {
	res, err := c.provider.submitAndWait(func(sqe *giouring.SubmissionQueueEntry) {
		sqe.PrepareRecv(c.fd, uintptr(0), uint32(len(buf)), 0)
		sqe.Addr = uint64(uintptr(bufPtr(buf)))
	}, udClassRecv)
	if err != nil {
		return 0, err
	}
	return int(res), nil
}

func (c *uringConn) write(buf []byte) (int, error) {
	res, err := c.provider.submitAndWait(func(sqe *giouring.SubmissionQueueEntry) {
		sqe.PrepareSend(c.fd, uintptr(0), uint32(len(buf)), 0)
		sqe.Addr = uint64(uintptr(bufPtr(buf)))
	}, udClassSend)
	if err != nil {
		return 0, err
	}
	return int(res), nil
}

// ReadFrame does not apply deadline: it waits until a whole frame has been
// received or the socket fails, and ErrTimeout is never returned.
func (c *uringConn) ReadFrame(deadline time.Time) (wire.FrameType, []byte, error) {
	header := make([]byte, 5)
	if err := readFull(c.read, header); err != nil {
		return 0, nil, err
	}
	length := le32(header[0:4])
	ftype := wire.FrameType(header[4])
	body := make([]byte, length)
	if length > 0 {
		if err := readFull(c.read, body); err != nil {
			return 0, nil, err
		}
	}
	return ftype, body, nil
}

func (c *uringConn) WriteFrame(ftype wire.FrameType, body []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	header := make([]byte, 5)
	putLE32(header[0:4], uint32(len(body)))
	header[4] = byte(ftype)
	if _, err := c.write(header); err != nil {
		return err
	}
	if len(body) == 0 {
		return nil
	}
	_, err := c.write(body)
	return err
}

func (c *uringConn) Close() error       { return c.conn.Close() }
func (c *uringConn) RemoteAddr() string { return c.conn.RemoteAddr().String() }

var (
	_ Provider = (*UringProvider)(nil)
	_ Listener = (*uringListener)(nil)
	_ Conn     = (*uringConn)(nil)
)
