package rpma

import (
	"encoding/binary"
	"time"

	"github.com/behrlich/rpma/internal/wire"
)

// Read issues a one-sided RMA read: length bytes starting at srcOff within
// the remote region src are copied into dst at dstOff. Blocks until the
// response arrives (spec.md §4.4 read).
func (c *Connection) Read(dst *MemoryRegionLocal, dstOff int, src *MemoryRegionRemote, srcOff, length int) error {
	start := time.Now()
	if length <= 0 {
		return NewError("read", EInvalidMsg, "length must be positive")
	}
	if dstOff < 0 || dstOff+length > len(dst.buf) {
		return NewError("read", EInvalidMsg, "destination range out of bounds")
	}
	if srcOff < 0 || uint64(srcOff+length) > src.id.Size {
		return NewError("read", EInvalidMsg, "source range out of bounds")
	}

	opCtx := c.nextOpContext.Add(1)
	req := wire.RMAReadReqFrame{
		OpContext: opCtx,
		RKey:      src.id.RKey,
		RAddr:     src.id.RAddr + uint64(srcOff),
		Length:    uint32(length),
	}
	if err := c.raw.WriteFrame(wire.FrameRMAReadReq, req.Marshal()); err != nil {
		c.recordRead(uint64(length), time.Since(start), false)
		return WrapError("read", err)
	}

	e, err := c.cqWait(CQFlagRead, opCtx)
	if err != nil {
		c.recordRead(uint64(length), time.Since(start), false)
		return err
	}
	if len(e.payload) != length {
		c.recordRead(uint64(length), time.Since(start), false)
		return NewError("read", EUnhandledEvent, "remote region rejected read request")
	}
	copy(dst.buf[dstOff:dstOff+length], e.payload)
	c.recordRead(uint64(length), time.Since(start), true)
	return nil
}

func (c *Connection) recordRead(bytes uint64, elapsed time.Duration, success bool) {
	lat := uint64(elapsed)
	c.zone.metrics.RecordRead(bytes, lat, success)
	c.zone.observer.ObserveRead(bytes, lat, success)
}

// Write issues a one-sided, fire-and-forget RMA write: length bytes from src
// at srcOff are copied to the remote region dst at dstOff (spec.md §4.4
// write). Records the target as raw_src for a subsequent Commit, overwriting
// whatever the previous write recorded rather than accumulating it.
func (c *Connection) Write(dst *MemoryRegionRemote, dstOff int, src *MemoryRegionLocal, srcOff, length int) error {
	start := time.Now()
	if length <= 0 {
		return NewError("write", EInvalidMsg, "length must be positive")
	}
	if srcOff < 0 || srcOff+length > len(src.buf) {
		return NewError("write", EInvalidMsg, "source range out of bounds")
	}
	if dstOff < 0 || uint64(dstOff+length) > dst.id.Size {
		return NewError("write", EInvalidMsg, "destination range out of bounds")
	}

	raddr := dst.id.RAddr + uint64(dstOff)
	frame := wire.RMAWriteFrame{
		RKey:  dst.id.RKey,
		RAddr: raddr,
		Data:  src.buf[srcOff : srcOff+length],
	}
	if err := c.raw.WriteFrame(wire.FrameRMAWrite, frame.Marshal()); err != nil {
		lat := uint64(time.Since(start))
		c.zone.metrics.RecordWrite(uint64(length), lat, false)
		c.zone.observer.ObserveWrite(uint64(length), lat, false)
		return WrapError("write", err)
	}
	c.rawSrc.Store(&rmaTarget{rkey: dst.id.RKey, raddr: raddr})

	lat := uint64(time.Since(start))
	c.zone.metrics.RecordWrite(uint64(length), lat, true)
	c.zone.observer.ObserveWrite(uint64(length), lat, true)
	return nil
}

// AtomicWrite issues a one-sided 8-byte atomic store to the remote region
// dst at dstOff (spec.md §9 REDESIGN FLAGS: real atomic_write rather than an
// alias for write). Like Write, it records raw_src for a subsequent Commit.
func (c *Connection) AtomicWrite(dst *MemoryRegionRemote, dstOff int, value uint64) error {
	start := time.Now()
	if dstOff < 0 || uint64(dstOff+8) > dst.id.Size {
		return NewError("atomic_write", EInvalidMsg, "destination range out of bounds")
	}

	raddr := dst.id.RAddr + uint64(dstOff)
	frame := wire.RMAAtomicWriteFrame{RKey: dst.id.RKey, RAddr: raddr, Value: value}
	if err := c.raw.WriteFrame(wire.FrameRMAAtomicWrite, frame.Marshal()); err != nil {
		lat := uint64(time.Since(start))
		c.zone.metrics.RecordAtomicWrite(lat, false)
		c.zone.observer.ObserveAtomicWrite(lat, false)
		return WrapError("atomic_write", err)
	}
	c.rawSrc.Store(&rmaTarget{rkey: dst.id.RKey, raddr: raddr})

	lat := uint64(time.Since(start))
	c.zone.metrics.RecordAtomicWrite(lat, true)
	c.zone.observer.ObserveAtomicWrite(lat, true)
	return nil
}

// Commit establishes that every write and atomic_write issued before this
// call is now visible to a subsequent remote read, by reading back the most
// recently written remote address (spec.md §4.4 commit: the RAW-ordering
// read-after-write barrier). A no-op if nothing has been written yet.
func (c *Connection) Commit() error {
	start := time.Now()
	target := c.rawSrc.Load()
	if target == nil {
		return nil
	}

	opCtx := c.nextOpContext.Add(1)
	req := wire.RMAReadReqFrame{
		OpContext: opCtx,
		RKey:      target.rkey,
		RAddr:     target.raddr,
		Length:    CommitReadSize,
	}
	if err := c.raw.WriteFrame(wire.FrameRMAReadReq, req.Marshal()); err != nil {
		lat := uint64(time.Since(start))
		c.zone.metrics.RecordCommit(lat, false)
		c.zone.observer.ObserveCommit(lat, false)
		return WrapError("commit", err)
	}

	e, err := c.cqWait(CQFlagRead, opCtx)
	if err != nil {
		lat := uint64(time.Since(start))
		c.zone.metrics.RecordCommit(lat, false)
		c.zone.observer.ObserveCommit(lat, false)
		return err
	}
	copy(c.rawDstBuf[:], e.payload)

	lat := uint64(time.Since(start))
	c.zone.metrics.RecordCommit(lat, true)
	c.zone.observer.ObserveCommit(lat, true)
	return nil
}

// serveRMAReadReq answers a peer's read request against this connection's
// zone's local region registry (spec.md §4.5 "inbound RMA frames resolve
// against the zone, not the connection").
func (c *Connection) serveRMAReadReq(body []byte) {
	req, err := wire.UnmarshalRMAReadReqFrame(body)
	if err != nil {
		c.logger.Debugf("dropping malformed read-req frame: %v", err)
		return
	}
	resp := wire.RMAReadRespFrame{OpContext: req.OpContext}

	region := c.zone.lookupLocalRegion(req.RKey)
	if region == nil || req.RAddr+uint64(req.Length) > uint64(len(region.buf)) {
		c.logger.Debugf("read-req against unknown or out-of-bounds region rkey=%d", req.RKey)
		if err := c.raw.WriteFrame(wire.FrameRMAReadResp, resp.Marshal()); err != nil {
			c.logger.Debugf("failed to send read-resp error: %v", err)
		}
		return
	}

	region.mu.Lock()
	resp.Data = append([]byte(nil), region.buf[req.RAddr:req.RAddr+uint64(req.Length)]...)
	region.mu.Unlock()

	if err := c.raw.WriteFrame(wire.FrameRMAReadResp, resp.Marshal()); err != nil {
		c.logger.Debugf("failed to send read-resp: %v", err)
	}
}

// applyRMAWrite applies an inbound fire-and-forget write to the addressed
// local region.
func (c *Connection) applyRMAWrite(body []byte) {
	f, err := wire.UnmarshalRMAWriteFrame(body)
	if err != nil {
		c.logger.Debugf("dropping malformed write frame: %v", err)
		return
	}
	region := c.zone.lookupLocalRegion(f.RKey)
	if region == nil || f.RAddr+uint64(len(f.Data)) > uint64(len(region.buf)) {
		c.logger.Debugf("write against unknown or out-of-bounds region rkey=%d", f.RKey)
		return
	}
	region.mu.Lock()
	copy(region.buf[f.RAddr:], f.Data)
	region.mu.Unlock()
}

// applyRMAAtomicWrite applies an inbound 8-byte atomic store to the
// addressed local region under the region's stripe lock, so concurrent
// atomic_writes and commit reads never observe a torn value.
func (c *Connection) applyRMAAtomicWrite(body []byte) {
	f, err := wire.UnmarshalRMAAtomicWriteFrame(body)
	if err != nil {
		c.logger.Debugf("dropping malformed atomic-write frame: %v", err)
		return
	}
	region := c.zone.lookupLocalRegion(f.RKey)
	if region == nil || f.RAddr+8 > uint64(len(region.buf)) {
		c.logger.Debugf("atomic_write against unknown or out-of-bounds region rkey=%d", f.RKey)
		return
	}
	region.mu.Lock()
	binary.LittleEndian.PutUint64(region.buf[f.RAddr:f.RAddr+8], f.Value)
	region.mu.Unlock()
}
