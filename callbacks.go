package rpma

// EventKind identifies a zone-level connection-management event delivered
// to OnConnectionEventFunc (spec.md §4.1, §6).
type EventKind int

const (
	// EventIncoming fires when a peer connects to a server zone.
	EventIncoming EventKind = iota
	// EventOutgoing fires once, synthesized for a client zone on entry to
	// WaitConnections, signaling the user should call Establish.
	EventOutgoing
	// EventDisconnect fires when a connection's remote or local shutdown
	// completes.
	EventDisconnect
)

func (k EventKind) String() string {
	switch k {
	case EventIncoming:
		return "INCOMING"
	case EventOutgoing:
		return "OUTGOING"
	case EventDisconnect:
		return "DISCONNECT"
	default:
		return "UNKNOWN"
	}
}

// OnConnectionEventFunc is the zone-level connection-management callback
// (spec.md §6 on_connection_event). conn is nil for EventOutgoing.
type OnConnectionEventFunc func(zone *Zone, event EventKind, conn *Connection, uarg any) error

// OnTimeoutFunc is invoked when a zone's event-queue read times out
// (spec.md §6 on_timeout). A true return breaks the event loop.
type OnTimeoutFunc func(zone *Zone, uarg any) (breakLoop bool, err error)

// OnRecvFunc delivers a two-sided message payload to its connection's owner
// (spec.md §6 on_recv).
type OnRecvFunc func(conn *Connection, data []byte, uarg any) error

// OnNotifyFunc delivers a transmission-completion notification
// (spec.md §6 on_notify).
type OnNotifyFunc func(conn *Connection, data []byte, uarg any) error

// QueueFunc is a deferred unit of work: a sequence step or directly
// enqueued callback (spec.md §6 queue_func, §9 "callback graph without
// shared mutable state").
type QueueFunc func(conn *Connection, uarg any) error
