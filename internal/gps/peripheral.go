package gps

import "errors"

// Peripheral is a serial receiver that streams bytes into a caller-supplied
// buffer in circular mode, the way a UART with a circular DMA channel does.
type Peripheral interface {
	// StartReceive begins continuous reception into buf. Once the end of
	// buf is reached the peripheral wraps to the start and keeps writing.
	StartReceive(buf []byte) error
	// Remaining reports how many elements are left to write before the
	// next wrap. The current write offset is len(buf) - Remaining().
	Remaining() int
}

// WriteCounter is implemented by peripherals that can report the total
// number of bytes stored since StartReceive. Drivers use it to notice when
// the producer lapped the reader between two updates. The count must be
// advanced no later than the write offset reported by Remaining, and
// readers must call Remaining before Written so the count they see covers
// every byte up to the offset.
type WriteCounter interface {
	Written() uint64
}

var (
	// ErrNotStarted is returned when a peripheral is used before StartReceive.
	ErrNotStarted = errors.New("gps: peripheral not started")
	// ErrEmptyBuffer is returned when StartReceive is given a zero-length buffer.
	ErrEmptyBuffer = errors.New("gps: receive buffer is empty")
)
