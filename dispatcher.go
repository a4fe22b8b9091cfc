package rpma

import (
	"sync"
	"sync/atomic"

	"github.com/behrlich/rpma/internal/logging"
)

// dispatchJob is one unit of deferred work: either a parked CQ entry awaiting
// its connection's turn, or a directly enqueued callback
// (spec.md §4.6 enqueue / enqueue_cq_entry).
type dispatchJob struct {
	conn  *Connection
	entry cqEntry
	isCQ  bool
	fn    QueueFunc
	uarg  any
}

// Dispatcher fans work out to exactly one goroutine at a time, serializing
// every connection's deferred completions and callbacks through a single
// FIFO work queue (spec.md §4.6). Grounded on the teacher's queue.Runner:
// one owning goroutine drains the queue; everything else just enqueues and
// returns, exactly like ioLoop's relationship to processRequests.
type Dispatcher struct {
	mu      sync.Mutex
	cond    *sync.Cond
	queue   []dispatchJob
	running atomic.Bool

	attached map[*Connection]struct{}
	attMu    sync.Mutex

	logger *logging.Logger
}

// NewDispatcher creates a dispatcher in the running state.
func NewDispatcher() *Dispatcher {
	d := &Dispatcher{
		attached: make(map[*Connection]struct{}),
		logger:   logging.Default().With("dispatcher"),
	}
	d.cond = sync.NewCond(&d.mu)
	d.running.Store(true)
	return d
}

// Attach binds conn's parked completions to this dispatcher. A connection may
// be attached to at most one dispatcher at a time (spec.md §4.6 invariant).
func (d *Dispatcher) Attach(conn *Connection) error {
	d.attMu.Lock()
	defer d.attMu.Unlock()
	if conn.dispatcher.Load() != nil {
		return NewError("dispatcher_attach", EUnhandledEvent, "connection already attached to a dispatcher")
	}
	conn.dispatcher.Store(d)
	d.attached[conn] = struct{}{}
	return nil
}

// Detach unbinds conn from this dispatcher. A no-op if not attached here.
func (d *Dispatcher) Detach(conn *Connection) {
	d.attMu.Lock()
	defer d.attMu.Unlock()
	if conn.dispatcher.Load() == d {
		conn.dispatcher.Store(nil)
	}
	delete(d.attached, conn)
}

// enqueueCQEntry parks a connection's completion onto the dispatcher's work
// queue (spec.md §4.6 enqueue_cq_entry).
func (d *Dispatcher) enqueueCQEntry(conn *Connection, e cqEntry) {
	d.mu.Lock()
	d.queue = append(d.queue, dispatchJob{conn: conn, entry: e, isCQ: true})
	d.cond.Signal()
	d.mu.Unlock()
}

// Enqueue schedules fn to run against conn on the dispatcher's worker
// (spec.md §4.6 enqueue).
func (d *Dispatcher) Enqueue(conn *Connection, fn QueueFunc, uarg any) {
	d.mu.Lock()
	d.queue = append(d.queue, dispatchJob{conn: conn, fn: fn, uarg: uarg})
	d.cond.Signal()
	d.mu.Unlock()
}

// EnqueueSequence schedules seq to run against conn as a single dispatcher
// job, so every step executes back-to-back with no other connection's work
// interleaved (spec.md §4.6 enqueue_sequence: "atomic with respect to other
// dispatcher work").
func (d *Dispatcher) EnqueueSequence(conn *Connection, seq *Sequence) {
	seq.markQueued()
	d.Enqueue(conn, seq.run, nil)
}

// GroupEnqueue schedules fn against every connection currently in group, in
// the group's insertion order (spec.md §4.7 group_enqueue).
func (d *Dispatcher) GroupEnqueue(group *ConnectionGroup, fn QueueFunc, uarg any) {
	for _, conn := range group.Snapshot() {
		d.Enqueue(conn, fn, uarg)
	}
}

// Dispatch runs the dispatcher's drain loop on the calling goroutine until
// Break is called (spec.md §4.6 dispatch: the dispatcher's equivalent of the
// zone's wait_connections loop).
func (d *Dispatcher) Dispatch() error {
	for {
		d.mu.Lock()
		for len(d.queue) == 0 && d.running.Load() {
			d.cond.Wait()
		}
		if !d.running.Load() && len(d.queue) == 0 {
			d.mu.Unlock()
			return nil
		}
		job := d.queue[0]
		d.queue = d.queue[1:]
		d.mu.Unlock()

		d.runJob(job)
	}
}

func (d *Dispatcher) runJob(job dispatchJob) {
	if job.isCQ {
		switch {
		case job.entry.flags == CQFlagRecv && job.conn.onRecv != nil:
			job.conn.deliverRecv(job.entry)
		case job.entry.flags == CQFlagSend && job.conn.onNotify != nil:
			if err := job.conn.onNotify(job.conn, nil, job.conn.userData); err != nil {
				d.logger.Debugf("on_notify returned error: %v", err)
			}
		default:
			// Nobody registered to claim it (e.g. a cq_wait caller on another
			// goroutine is the real owner): hand it back to the connection's
			// own CQ channel.
			job.conn.cq <- job.entry
		}
		return
	}
	if err := job.fn(job.conn, job.uarg); err != nil {
		d.logger.Debugf("queued callback returned error: %v", err)
	}
}

// Break stops Dispatch once the current queue drains (spec.md §4.6
// dispatch_break).
func (d *Dispatcher) Break() {
	d.mu.Lock()
	d.running.Store(false)
	d.cond.Broadcast()
	d.mu.Unlock()
}
