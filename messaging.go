package rpma

import (
	"time"

	"github.com/behrlich/rpma/internal/wire"
)

// GetSendSlot returns the next round-robin send-ring slot and the byte slice
// backing it (spec.md §4.3 msg_get_ptr). The returned slice is owned by the
// caller exclusively until Send(buf) returns, matching the teacher's
// BufferPool.Get/Put ownership discipline adapted to a fixed ring instead of
// a sync.Pool.
func (c *Connection) GetSendSlot() (slot int, buf []byte) {
	msgSize := c.cfg.MsgSize()
	n := uint64(c.cfg.SendQueueLength())
	idx := c.sendCursor.Add(1) - 1
	slot = int(idx % n)
	buf = c.sendBuf[slot*msgSize : (slot+1)*msgSize]
	for i := range buf {
		buf[i] = 0
	}
	return slot, buf
}

// Send transmits buf as a two-sided message and blocks until the local send
// completion is observed on the CQ (spec.md §4.3 send). buf must be a slice
// previously returned by GetSendSlot (or at most msg_size bytes); slot
// identifies it for completion matching.
func (c *Connection) Send(slot int, buf []byte) error {
	start := time.Now()
	if len(buf) > c.cfg.MsgSize() {
		return NewError("send", EInvalidMsg, "payload exceeds msg_size")
	}
	opCtx := uint64(slot)
	frame := wire.MsgFrame{OpContext: opCtx, Payload: buf}
	if err := c.raw.WriteFrame(wire.FrameMsg, frame.Marshal()); err != nil {
		lat := uint64(time.Since(start))
		c.zone.metrics.RecordSend(uint64(len(buf)), lat, false)
		c.zone.observer.ObserveSend(uint64(len(buf)), lat, false)
		return WrapError("send", err)
	}
	// The local write syscall completing is the send completion: libfabric's
	// FI_SEND completion confirms local buffer reuse safety, not remote
	// delivery, so there is no round trip to wait for here.
	c.deliverCQ(cqEntry{flags: CQFlagSend, opContext: opCtx})
	if _, err := c.cqWait(CQFlagSend, opCtx); err != nil {
		return err
	}
	lat := uint64(time.Since(start))
	c.zone.metrics.RecordSend(uint64(len(buf)), lat, true)
	c.zone.observer.ObserveSend(uint64(len(buf)), lat, true)
	return nil
}

// cqWait drains the connection's CQ channel until an entry matching both
// flags and opContext is found, parking every mismatched entry to the
// attached dispatcher (or back onto the local recv path) rather than
// dropping it (spec.md §4.4 cq_wait: "entries that do not match are neither
// consumed nor discarded").
func (c *Connection) cqWait(flags CQFlag, opContext uint64) (cqEntry, error) {
	return c.cqWaitMatch(func(e cqEntry) bool {
		return e.flags&flags != 0 && e.opContext == opContext
	})
}

// cqWaitFlags blocks for the next entry matching flags regardless of
// op_context, used by Recv which has no caller-assigned context to match
// (spec.md §4.3 recv).
func (c *Connection) cqWaitFlags(flags CQFlag) (cqEntry, error) {
	return c.cqWaitMatch(func(e cqEntry) bool { return e.flags&flags != 0 })
}

func (c *Connection) cqWaitMatch(match func(cqEntry) bool) (cqEntry, error) {
	for {
		e, ok := <-c.cq
		if !ok {
			return cqEntry{}, NewError("cq_wait", EEQRead, "connection closed while waiting")
		}
		if match(e) {
			return e, nil
		}
		c.park(e)
	}
}

// park routes a completion that cq_wait did not consume to its next owner:
// the attached dispatcher's work queue, or directly to on_recv for a
// directly-owned (non-dispatched) connection (spec.md §4.6 enqueue_cq_entry).
func (c *Connection) park(e cqEntry) {
	c.zone.metrics.RecordParkedCompletion()
	c.zone.observer.ObserveParkedCompletion()
	if d := c.dispatcher.Load(); d != nil {
		d.enqueueCQEntry(c, e)
		return
	}
	if e.flags == CQFlagRecv && c.onRecv != nil {
		c.deliverRecv(e)
		return
	}
	// No owner able to claim it right now: put it back so a future cq_wait
	// or cq_process call on this connection can still find it.
	c.cq <- e
}

func (c *Connection) deliverRecv(e cqEntry) {
	if err := c.onRecv(c, e.payload, c.userData); err != nil {
		c.logger.Debugf("on_recv returned error: %v", err)
	}
	c.zone.metrics.RecordRecv(uint64(len(e.payload)), 0, true)
	c.zone.observer.ObserveRecv(uint64(len(e.payload)), 0, true)
}

// Recv blocks until the next two-sided message arrives on the connection's
// own CQ channel, bypassing on_recv (spec.md §4.3 recv: direct synchronous
// counterpart to the callback-driven path). With a dispatcher attached,
// messages go to the dispatcher first; Recv sees only those it hands back
// because the connection has no on_recv.
func (c *Connection) Recv() ([]byte, error) {
	e, err := c.cqWaitFlags(CQFlagRecv)
	if err != nil {
		return nil, err
	}
	c.zone.metrics.RecordRecv(uint64(len(e.payload)), 0, true)
	c.zone.observer.ObserveRecv(uint64(len(e.payload)), 0, true)
	return e.payload, nil
}

// cqProcess drains every currently-queued completion without blocking,
// delivering recv entries to on_recv, send entries to on_notify, and parking
// everything else (spec.md §4.6 cq_process). The Dispatcher does not call
// it: completions of an attached connection reach the dispatcher through
// deliverCQ.
func (c *Connection) cqProcess() {
	for {
		select {
		case e := <-c.cq:
			if e.flags == CQFlagRecv && c.onRecv != nil {
				c.deliverRecv(e)
				continue
			}
			if e.flags == CQFlagSend && c.onNotify != nil {
				if err := c.onNotify(c, nil, c.userData); err != nil {
					c.logger.Debugf("on_notify returned error: %v", err)
				}
				continue
			}
			c.park(e)
		default:
			return
		}
	}
}
