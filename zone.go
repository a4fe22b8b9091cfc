package rpma

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/behrlich/rpma/internal/constants"
	"github.com/behrlich/rpma/internal/index"
	"github.com/behrlich/rpma/internal/logging"
	"github.com/behrlich/rpma/internal/transport"
)

// ZoneState mirrors the event-loop state machine (spec.md §4.1: Idle,
// Waiting, Broken).
type ZoneState int32

const (
	ZoneIdle ZoneState = iota
	ZoneWaiting
	ZoneBroken
)

func (s ZoneState) String() string {
	switch s {
	case ZoneIdle:
		return "idle"
	case ZoneWaiting:
		return "waiting"
	case ZoneBroken:
		return "broken"
	default:
		return "unknown"
	}
}

type zoneEventKind int

const (
	zevIncoming zoneEventKind = iota
	zevDisconnect
	zevWake
)

type zoneEvent struct {
	kind zoneEventKind
	raw  transport.Conn
	conn *Connection
}

// Zone is the top-level domain: one passive or active endpoint, its
// connection registry, and the event loop that drives connection
// management (spec.md §3 Zone, §4.1). Grounded on the teacher's
// queue.Runner god-loop (ioLoop/processRequests/handleCompletion), replacing
// ublk CQE draining with connection-management events.
type Zone struct {
	cfg      Config
	provider transport.Provider
	listener transport.Listener

	conns *index.ConnectionIndex[*Connection]

	state ZoneState32

	onEvent   OnConnectionEventFunc
	onTimeout OnTimeoutFunc
	uarg      any
	timeout   time.Duration

	events chan zoneEvent

	regionsMu    sync.RWMutex
	localRegions map[uint64]*MemoryRegionLocal

	logger   *logging.Logger
	metrics  *Metrics
	observer Observer

	acceptStop chan struct{}
	acceptDone chan struct{}
}

// ZoneState32 wraps atomic.Int32 so ZoneState can be stored/loaded without
// exposing the sync/atomic API on Zone's public surface.
type ZoneState32 struct{ v atomic.Int32 }

func (s *ZoneState32) Load() ZoneState        { return ZoneState(s.v.Load()) }
func (s *ZoneState32) Store(st ZoneState)     { s.v.Store(int32(st)) }
func (s *ZoneState32) CAS(old, new ZoneState) bool {
	return s.v.CompareAndSwap(int32(old), int32(new))
}

// NewZone constructs a Zone bound to cfg and provider. A nil provider
// defaults to the sockets provider (always available, no build tag). onEvent
// must be non-nil: the spec requires every zone to have a connection-event
// handler (spec.md §4.1, §8 "null callback" edge case).
func NewZone(cfg Config, provider transport.Provider, onEvent OnConnectionEventFunc, uarg any) (*Zone, error) {
	if onEvent == nil {
		return nil, NewError("zone_new", EInvalidMsg, "on_connection_event callback must not be nil")
	}
	if provider == nil {
		provider = transport.NewSocketsProvider()
	}
	return &Zone{
		cfg:          cfg,
		provider:     provider,
		conns:        index.New[*Connection](),
		onEvent:      onEvent,
		uarg:         uarg,
		timeout:      constants.DefaultEQTimeout,
		events:       make(chan zoneEvent, 16),
		localRegions: make(map[uint64]*MemoryRegionLocal),
		logger:       logging.Default().With("zone"),
		metrics:      NewMetrics(),
		observer:     NoOpObserver{},
	}, nil
}

// SetObserver attaches an Observer that mirrors every Metrics update, e.g.
// the MockObserver used in tests.
func (z *Zone) SetObserver(o Observer) {
	if o == nil {
		o = NoOpObserver{}
	}
	z.observer = o
}

// Metrics returns the zone's counters snapshot (spec.md SPEC_FULL §ambient
// "metrics").
func (z *Zone) Metrics() MetricsSnapshot { return z.metrics.Snapshot() }

// registerLocalRegion inserts a local memory region into the zone's registry,
// keyed by rkey, so inbound RMA frames can resolve it (spec.md §4.5).
func (z *Zone) registerLocalRegion(m *MemoryRegionLocal) {
	z.regionsMu.Lock()
	defer z.regionsMu.Unlock()
	z.localRegions[m.rkey] = m
}

// deregisterLocalRegion removes a local memory region from the registry.
func (z *Zone) deregisterLocalRegion(rkey uint64) {
	z.regionsMu.Lock()
	defer z.regionsMu.Unlock()
	delete(z.localRegions, rkey)
}

// lookupLocalRegion resolves an inbound RMA frame's rkey against the
// registry. Returns nil if unregistered or already deregistered.
func (z *Zone) lookupLocalRegion(rkey uint64) *MemoryRegionLocal {
	z.regionsMu.RLock()
	defer z.regionsMu.RUnlock()
	return z.localRegions[rkey]
}

// RegisterOnTimeout installs the on_timeout callback and the event-queue
// read timeout in milliseconds. A negative timeout is rejected
// (spec.md §8 "register_on_timeout(-1)" edge case).
func (z *Zone) RegisterOnTimeout(fn OnTimeoutFunc, timeoutMs int) error {
	if timeoutMs < 0 {
		return NewError("register_on_timeout", ENegativeTimeout, "timeout_ms must not be negative")
	}
	z.onTimeout = fn
	if timeoutMs == 0 {
		z.timeout = constants.DefaultEQTimeout
	} else {
		z.timeout = time.Duration(timeoutMs) * time.Millisecond
	}
	return nil
}

// Listen eagerly creates the passive endpoint, letting a server caller learn
// its bound address (via ListenAddr) before entering WaitConnections. Safe
// to skip: WaitConnections calls ensureListener itself on entry.
func (z *Zone) Listen() error {
	return z.ensureListener()
}

// ListenAddr returns the passive endpoint's bound address, or "" if the zone
// has not listened yet.
func (z *Zone) ListenAddr() string {
	if z.listener == nil {
		return ""
	}
	return z.listener.Addr()
}

// ensureListener lazily creates the passive endpoint the first time it is
// needed (spec.md §8 "wait_connections called with IS_SERVER before a
// listener exists must create one on entry").
func (z *Zone) ensureListener() error {
	if z.listener != nil {
		return nil
	}
	ln, err := z.provider.Listen(z.cfg.Addr(), z.cfg.Service())
	if err != nil {
		return WrapError("wait_connections", err)
	}
	z.listener = ln
	z.acceptStop = make(chan struct{})
	z.acceptDone = make(chan struct{})
	go z.acceptLoop()
	return nil
}

// acceptLoop polls the passive endpoint and feeds zevIncoming events into
// the zone's event channel. Grounded on the teacher's queue.Runner ioLoop:
// one owning goroutine, polling with a bounded deadline so acceptStop is
// observed promptly rather than blocking forever in Accept.
func (z *Zone) acceptLoop() {
	defer close(z.acceptDone)
	for {
		select {
		case <-z.acceptStop:
			return
		default:
		}
		conn, err := z.listener.Accept(time.Now().Add(constants.CQWaitPollInterval))
		if err != nil {
			if err == transport.ErrTimeout {
				continue
			}
			return
		}
		select {
		case z.events <- zoneEvent{kind: zevIncoming, raw: conn}:
		case <-z.acceptStop:
			conn.Close()
			return
		}
	}
}

// notifyDisconnect is invoked by a connection's read pump when it observes
// the stream close, feeding a zevDisconnect event into the loop.
func (z *Zone) notifyDisconnect(conn *Connection) {
	select {
	case z.events <- zoneEvent{kind: zevDisconnect, conn: conn}:
	default:
		// Event channel full and no one draining (zone already broken or
		// never entered WaitConnections): drop. The connection is already
		// closed either way.
	}
}

// WaitConnections drives the zone's connection-management event loop
// (spec.md §4.1 wait_connections). For a server zone it lazily creates the
// passive endpoint and dispatches EventIncoming/EventDisconnect as peers
// connect and depart. For a client zone it synthesizes a single
// EventOutgoing on entry, then continues watching for EventDisconnect on
// whatever connection the caller establishes from that callback.
func (z *Zone) WaitConnections() error {
	if !z.state.CAS(ZoneIdle, ZoneWaiting) {
		return NewError("wait_connections", EUnhandledEvent, "zone is not idle")
	}

	if z.cfg.IsServer() {
		if err := z.ensureListener(); err != nil {
			z.state.Store(ZoneBroken)
			return err
		}
	} else {
		if err := z.onEvent(z, EventOutgoing, nil, z.uarg); err != nil {
			z.state.Store(ZoneBroken)
			return WrapError("wait_connections", err)
		}
	}

	for {
		if z.state.Load() == ZoneBroken {
			return nil
		}
		select {
		case ev := <-z.events:
			switch ev.kind {
			case zevIncoming:
				conn := newConnection(z, ev.raw)
				if err := z.onEvent(z, EventIncoming, conn, z.uarg); err != nil {
					z.state.Store(ZoneBroken)
					return WrapError("wait_connections", err)
				}
			case zevDisconnect:
				z.conns.Remove(ev.conn.id)
				z.metrics.RecordConnectionClosed()
				z.observer.ObserveConnectionClosed()
				if err := z.onEvent(z, EventDisconnect, ev.conn, z.uarg); err != nil {
					z.state.Store(ZoneBroken)
					return WrapError("wait_connections", err)
				}
			}
		case <-time.After(z.timeout):
			if z.onTimeout != nil {
				brk, err := z.onTimeout(z, z.uarg)
				if err != nil {
					z.state.Store(ZoneBroken)
					return WrapError("wait_connections", err)
				}
				if brk {
					z.WaitBreak()
				}
			} else if z.cfg.ServerIdleShutdown {
				// Opt-in convenience: with no user on_timeout registered, an
				// idle server zone shuts itself down after one timeout
				// period rather than waiting forever (spec.md §9).
				z.WaitBreak()
			}
		}
	}
}

// WaitBreak transitions the zone to Broken, causing an in-flight
// WaitConnections call to return nil promptly (spec.md §4.1 wait_break). A
// Broken zone is not re-armed: a later WaitConnections call fails with
// EUnhandledEvent.
func (z *Zone) WaitBreak() {
	z.state.Store(ZoneBroken)
	z.metrics.Stop()
	if z.acceptStop != nil {
		select {
		case <-z.acceptStop:
		default:
			close(z.acceptStop)
		}
	}
	select {
	case z.events <- zoneEvent{kind: zevWake}:
	default:
	}
}

// Close tears down the passive endpoint, if any, and waits for the accept
// loop to exit.
func (z *Zone) Close() error {
	z.WaitBreak()
	if z.listener != nil {
		err := z.listener.Close()
		if z.acceptDone != nil {
			<-z.acceptDone
		}
		return err
	}
	return nil
}

// Dial actively connects to a remote passive endpoint, used by a client
// zone from its EventOutgoing handler (spec.md §4.2 connection "Created").
func (z *Zone) Dial() (*Connection, error) {
	raw, err := z.provider.Dial(z.cfg.Addr(), z.cfg.Service())
	if err != nil {
		return nil, WrapError("connection_new", err)
	}
	return newConnection(z, raw), nil
}
