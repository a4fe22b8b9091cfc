// Package constants holds the default tunables for zones and connections.
package constants

import "time"

// Config defaults (spec.md §3 Config).
const (
	// DefaultMsgSize is the default two-sided message size in bytes.
	DefaultMsgSize = 30

	// DefaultSendQueueLength is the default number of send-ring slots.
	DefaultSendQueueLength = 10

	// DefaultRecvQueueLength is the default number of pre-posted receive slots.
	DefaultRecvQueueLength = 10

	// DefaultCQSize is the reference completion queue depth. Connections do
	// not use it: each sizes its completion channel as send_queue_length +
	// recv_queue_length + 16.
	DefaultCQSize = 10
)

// Timing constants for the zone event loop and connection establishment.
const (
	// DefaultEQTimeout bounds how long wait_connections blocks per iteration
	// before invoking on_timeout_func.
	DefaultEQTimeout = 1000 * time.Millisecond

	// CQWaitPollInterval is the deadline of each Accept call in a zone's
	// accept loop, bounding how long the loop takes to notice wait_break.
	// cq_wait does not poll: it blocks on the connection's completion channel,
	// parking each entry that doesn't match the requested flags/op_context.
	CQWaitPollInterval = 1 * time.Second

	// DispatcherIdleSleep is a reference idle interval for a dispatcher. The
	// Dispatcher does not use it: with an empty work queue it blocks until
	// work is enqueued or Break is called.
	DispatcherIdleSleep = 10 * time.Millisecond
)

// RMA scratch sizing.
const (
	// CommitReadSize is the length of the dummy read-after-write barrier
	// performed by commit (spec.md §4.4, §9).
	CommitReadSize = 8
)
