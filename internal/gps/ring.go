package gps

import "iter"

// Span returns how many bytes the producer has written between the previous
// tail and the current tail of a circular buffer of the given capacity.
// A tail numerically below prev means the producer wrapped past the end.
//
// Span cannot tell a full lap apart from no progress at all: if the producer
// wrote capacity bytes or more since prev, the result is short by a multiple
// of capacity.
func Span(prev, tail, capacity int) int {
	if tail >= prev {
		return tail - prev
	}
	return capacity - prev + tail
}

// Ring is a read-only cursor over a circular buffer that another party keeps
// writing into.
type Ring struct {
	buf    []byte
	cursor int
}

// NewRing wraps buf. The ring never modifies buf.
func NewRing(buf []byte) *Ring {
	return &Ring{buf: buf}
}

// Cap returns the capacity of the underlying buffer.
func (r *Ring) Cap() int { return len(r.buf) }

// Cursor returns the offset of the oldest byte not yet consumed.
func (r *Ring) Cursor() int { return r.cursor }

// Reset moves the cursor to pos (mod capacity) without yielding anything.
func (r *Ring) Reset(pos int) {
	if len(r.buf) == 0 {
		r.cursor = 0
		return
	}
	r.cursor = pos % len(r.buf)
}

// Advance returns the bytes written between the cursor and tail, oldest
// first, and moves the cursor to tail. The bytes are read lazily from the
// buffer while the sequence is ranged over.
func (r *Ring) Advance(tail int) iter.Seq[byte] {
	capacity := len(r.buf)
	if capacity == 0 {
		return func(func(byte) bool) {}
	}
	tail %= capacity
	start := r.cursor
	n := Span(start, tail, capacity)
	r.cursor = tail
	buf := r.buf
	return func(yield func(byte) bool) {
		for i := 0; i < n; i++ {
			if !yield(buf[(start+i)%capacity]) {
				return
			}
		}
	}
}
