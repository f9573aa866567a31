package gps

import "sync/atomic"

// dmaRing emulates the write side of a circular DMA channel: bytes are
// stored at the write offset, wrapping at the end of the buffer, and the
// offset is published only after the bytes are in place so a reader that
// observes it also observes the data.
//
// A single goroutine writes; readers only call Remaining and Written.
type dmaRing struct {
	buf     []byte
	pos     atomic.Int64
	written atomic.Uint64
}

func (r *dmaRing) start(buf []byte) error {
	if len(buf) == 0 {
		return ErrEmptyBuffer
	}
	r.buf = buf
	r.pos.Store(0)
	r.written.Store(0)
	return nil
}

// write stores p into the ring, overwriting the oldest bytes as it wraps.
func (r *dmaRing) write(p []byte) {
	size := int64(len(r.buf))
	if size == 0 || len(p) == 0 {
		return
	}
	pos := r.pos.Load()
	for len(p) > 0 {
		n := copy(r.buf[pos:], p)
		p = p[n:]
		pos = (pos + int64(n)) % size
		r.written.Add(uint64(n))
	}
	r.pos.Store(pos)
}

// Remaining reports elements left before the next wrap, like a DMA
// transfer counter in circular mode. It is 0 before reception starts.
func (r *dmaRing) Remaining() int {
	if len(r.buf) == 0 {
		return 0
	}
	return len(r.buf) - int(r.pos.Load())
}

// Written reports the total bytes stored since reception started.
func (r *dmaRing) Written() uint64 {
	return r.written.Load()
}
