// Boot-time log buffer: pmm.Init and slab.Init both log through
// kfmt.PrefixedPrintf long before any console or TTY exists to receive it, so Printf's default
// sink is this ring buffer rather than a real io.Writer.
package kfmt

import "io"

// ringBufferSize is the capacity of the early-boot log buffer, sized to hold
// a standard 80x25 text-mode console's worth of output. Must stay a power of
// two — the read/write cursors wrap with a bitmask, not a modulo.
const ringBufferSize = 2048

// ringBuffer is a fixed-capacity circular byte buffer. Once full, each write
// silently evicts the oldest unread byte rather than blocking or growing, so
// a runaway caller can never allocate: the buffer backs Printf before the Go
// allocator is available.
type ringBuffer struct {
	buffer         [ringBufferSize]byte
	rIndex, wIndex int
}

// wrap keeps a cursor within [0, ringBufferSize).
func wrap(i int) int { return i & (ringBufferSize - 1) }

// Write appends all of p, overwriting the oldest bytes once the buffer is at
// capacity. It always returns len(p), nil.
func (rb *ringBuffer) Write(p []byte) (int, error) {
	for _, b := range p {
		rb.buffer[rb.wIndex] = b
		rb.wIndex = wrap(rb.wIndex + 1)
		if rb.rIndex == rb.wIndex {
			// the write cursor just lapped the read cursor: the oldest
			// byte was overwritten, so advance past it too.
			rb.rIndex = wrap(rb.rIndex + 1)
		}
	}

	return len(p), nil
}

// Read drains up to len(p) unread bytes into p and returns how many it
// copied. It returns io.EOF once the read cursor catches up to the write
// cursor (nothing left buffered).
func (rb *ringBuffer) Read(p []byte) (n int, err error) {
	if rb.rIndex == rb.wIndex {
		return 0, io.EOF
	}

	// available is the contiguous run starting at rIndex, up to either
	// wIndex (if it hasn't wrapped past rIndex) or the end of the array.
	available := rb.wIndex - rb.rIndex
	if rb.rIndex > rb.wIndex {
		available = len(rb.buffer) - rb.rIndex
	}

	n = available
	if len(p) < n {
		n = len(p)
	}

	copy(p, rb.buffer[rb.rIndex:rb.rIndex+n])
	rb.rIndex = wrap(rb.rIndex + n)

	return n, nil
}
