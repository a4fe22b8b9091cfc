// Package transport abstracts the fabric backend behind a narrow interface:
// an FI_EP_MSG-equivalent connection setup, and a byte-stream Conn that the
// rpma package frames with internal/wire to emulate one-sided RMA over a
// transport with no native RDMA. Two providers ship: sockets (pure Go,
// always available) and uring (Linux io_uring accelerated, build-tag gated).
package transport

import (
	"errors"
	"sync/atomic"
	"time"

	"github.com/behrlich/rpma/internal/wire"
)

// EndpointID is a comparable handle identifying a Conn for the lifetime of
// the endpoint, standing in for libfabric's endpoint fid.
type EndpointID uint64

var nextEndpointID atomic.Uint64

// NewEndpointID allocates a process-unique endpoint identifier.
func NewEndpointID() EndpointID {
	return EndpointID(nextEndpointID.Add(1))
}

// ErrProviderUnavailable is returned by a provider constructor that was
// compiled out (e.g. the uring provider on a non-Linux build).
var ErrProviderUnavailable = errors.New("transport: provider unavailable on this platform")

// ErrTimeout is returned by ReadFrame/Accept when no data arrived within
// the requested deadline — the transport.Conn/Listener equivalent of
// eq_sread's ETIMEDOUT/EAGAIN path.
var ErrTimeout = errors.New("transport: operation timed out")

// Provider opens listeners (server role) and dials peers (client role),
// standing in for libfabric's fi_getinfo + fi_domain + fi_passive_ep setup.
type Provider interface {
	// Name identifies the provider ("sockets", "uring") for logging.
	Name() string

	// Listen opens a passive endpoint bound to addr:service.
	Listen(addr, service string) (Listener, error)

	// Dial establishes an active connection to addr:service.
	Dial(addr, service string) (Conn, error)
}

// Listener accepts inbound connections, the transport equivalent of a zone's
// passive endpoint plus FI_CONNREQ delivery.
type Listener interface {
	// Accept blocks until a peer connects or the deadline elapses.
	// A zero deadline blocks indefinitely.
	Accept(deadline time.Time) (Conn, error)
	Close() error
	Addr() string
}

// Conn is an established, full-duplex, ordered byte stream carrying
// internal/wire frames — the transport equivalent of an endpoint + CQ pair.
type Conn interface {
	ID() EndpointID

	// ReadFrame blocks for the next frame, honoring deadline (zero means no
	// deadline). Returns ErrTimeout if deadline elapses first.
	ReadFrame(deadline time.Time) (wire.FrameType, []byte, error)

	// WriteFrame sends a complete frame. Safe for concurrent use with
	// ReadFrame and with other WriteFrame calls: each frame is written whole.
	WriteFrame(ftype wire.FrameType, body []byte) error

	Close() error
	RemoteAddr() string
}
