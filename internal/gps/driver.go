package gps

import (
	"bytes"
	"fmt"
	"log"
	"sync/atomic"
)

// DefaultBufferSize is the receive ring capacity used when none is configured.
const DefaultBufferSize = 256

// Driver turns the bytes a Peripheral streams into its circular buffer into
// decoded GPGGA fixes.
//
// Update must be called periodically from a single goroutine; it is not safe
// to run concurrently with itself. Callers must poll often enough that fewer
// than a full buffer of bytes arrives between two calls. If the peripheral
// implements WriteCounter a lapped buffer is detected and skipped, otherwise
// sentence boundaries are silently lost. GetLatestData and Stats may be
// called from any goroutine.
//
// Initialize must not overlap Update, with one exception: Update is a no-op
// until an Initialize call has succeeded, so a first Initialize may be
// retried in the background while Update is already being polled.
type Driver struct {
	buf     []byte
	ring    *Ring
	periph  Peripheral
	started atomic.Bool

	line []byte // accumulator, holds at most cap(line)-1 bytes
	fix  Fix    // working record the decoder writes into

	consumed uint64 // bytes walked since Initialize, for overrun detection

	latest Latest
	stats  counters
}

// Stats summarises what the driver has seen since Initialize.
type Stats struct {
	Lines    uint64 `json:"lines"`    // Non-empty lines terminated
	Decoded  uint64 `json:"decoded"`  // GPGGA lines that produced a fix
	Rejected uint64 `json:"rejected"` // GPGGA lines without a usable fix
	Ignored  uint64 `json:"ignored"`  // Other sentences and garbage
	Dropped  uint64 `json:"dropped"`  // Bytes lost to accumulator overflow
	Overruns uint64 `json:"overruns"` // Times the producer lapped the reader
}

type counters struct {
	lines, decoded, rejected, ignored, dropped, overruns atomic.Uint64
}

func (c *counters) reset() {
	for _, v := range []*atomic.Uint64{&c.lines, &c.decoded, &c.rejected, &c.ignored, &c.dropped, &c.overruns} {
		v.Store(0)
	}
}

// NewDriver allocates a driver with a receive ring of size bytes.
func NewDriver(size int) *Driver {
	if size <= 0 {
		size = DefaultBufferSize
	}
	buf := make([]byte, size)
	return &Driver{
		buf:  buf,
		ring: NewRing(buf),
		line: make([]byte, 0, size),
	}
}

// BufferSize returns the receive ring capacity.
func (d *Driver) BufferSize() int { return len(d.buf) }

// Initialize resets all driver state and starts circular reception on p.
func (d *Driver) Initialize(p Peripheral) error {
	d.started.Store(false)
	d.periph = p
	d.ring.Reset(0)
	d.line = d.line[:0]
	d.fix = Fix{}
	d.consumed = 0
	d.latest.Reset()
	d.stats.reset()

	if err := p.StartReceive(d.buf); err != nil {
		return fmt.Errorf("gps: start receive: %w", err)
	}
	d.started.Store(true)
	return nil
}

// Update processes whatever the peripheral wrote since the previous call.
// It never blocks and is a no-op when nothing new arrived.
func (d *Driver) Update() {
	if !d.started.Load() {
		return
	}
	capacity := len(d.buf)

	// The offset is sampled before the count so that written covers at
	// least every byte up to tail.
	tail := (capacity - d.periph.Remaining()) % capacity
	if tail < 0 {
		tail += capacity
	}

	if wc, ok := d.periph.(WriteCounter); ok {
		written := wc.Written()
		if written-d.consumed >= uint64(capacity) {
			d.stats.overruns.Add(1)
			log.Printf("[gps] overrun: %d unread bytes in a %d byte ring, resyncing", written-d.consumed, capacity)
			d.line = d.line[:0]
			d.consumed = written - uint64(Span(tail, int(written%uint64(capacity)), capacity))
			d.ring.Reset(tail)
			return
		}
	}

	if tail == d.ring.Cursor() {
		return
	}

	d.consumed += uint64(Span(d.ring.Cursor(), tail, capacity))
	for c := range d.ring.Advance(tail) {
		switch {
		case c == '\n':
			d.endLine()
		case c >= 32 && c <= 126:
			if len(d.line) < cap(d.line)-1 {
				d.line = append(d.line, c)
			} else {
				d.stats.dropped.Add(1)
			}
		}
	}
}

// endLine hands a terminated line to the decoder and empties the accumulator.
func (d *Driver) endLine() {
	defer func() { d.line = d.line[:0] }()

	if len(d.line) == 0 {
		return
	}
	d.stats.lines.Add(1)
	if d.line[0] != '$' || !bytes.HasPrefix(d.line, []byte(ggaPrefix)) {
		d.stats.ignored.Add(1)
		return
	}
	if !Decode(string(d.line), &d.fix) {
		d.stats.rejected.Add(1)
		if !d.fix.Valid {
			// Receiver reported no fix; an unread fix is no longer current.
			d.latest.Invalidate()
		}
		return
	}
	d.stats.decoded.Add(1)
	d.latest.Publish(d.fix)
}

// GetLatestData returns the newest unread fix and marks it consumed. It
// returns false when no fix arrived since the previous call.
func (d *Driver) GetLatestData() (Fix, bool) {
	return d.latest.Take()
}

// Stats returns a snapshot of the driver counters.
func (d *Driver) Stats() Stats {
	return Stats{
		Lines:    d.stats.lines.Load(),
		Decoded:  d.stats.decoded.Load(),
		Rejected: d.stats.rejected.Load(),
		Ignored:  d.stats.ignored.Load(),
		Dropped:  d.stats.dropped.Load(),
		Overruns: d.stats.overruns.Load(),
	}
}
