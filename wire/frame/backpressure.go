package frame

import (
	"fmt"
	"io"
	"sync"
)

// Watermarks configures the three back-pressure thresholds from spec
// §4.A / §6 (backpressure.low/high/max): buffer until High, signal
// upstream to pause until drained back to Low, and abort if Max is
// exceeded.
type Watermarks struct {
	Low  int
	High int
	Max  int
}

// DefaultWatermarks are generous enough for typical per-connection
// request volume without ever engaging back-pressure in normal operation.
var DefaultWatermarks = Watermarks{
	Low:  1 << 20,  // 1 MiB
	High: 5 << 20,  // 5 MiB
	Max:  10 << 20, // 10 MiB
}

// Buffer tracks the outstanding byte count of packets reserved against the
// socket but not yet confirmed written — the back-pressure bookkeeping
// named in spec §4.A, generalized from the bounded buffered-channel
// pattern in the teacher's transport.ConnPool (fixed-capacity channel as a
// safe FIFO) to a byte-accounted watermark buffer, since packets here vary
// widely in size. Writer wires it directly onto the socket↔logic
// boundary: every live write reserves first and releases once the write
// returns.
type Buffer struct {
	mu         sync.Mutex
	watermarks Watermarks
	size       int
	paused     bool
}

// NewBuffer creates a Buffer with the given watermarks.
func NewBuffer(w Watermarks) *Buffer {
	return &Buffer{watermarks: w}
}

// Reserve accounts for n additional buffered bytes. It returns false if
// doing so would exceed the Max watermark — callers must treat that as a
// fatal condition for the underlying connection (spec §4.A: "aborting the
// connection if absolute is exceeded").
func (b *Buffer) Reserve(n int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.size+n > b.watermarks.Max {
		return false
	}
	b.size += n
	if b.size >= b.watermarks.High {
		b.paused = true
	}
	return true
}

// Release accounts for n bytes having been written out. Once the
// buffered size drains back to the Low watermark, Paused clears.
func (b *Buffer) Release(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.size -= n
	if b.size < 0 {
		b.size = 0
	}
	if b.paused && b.size <= b.watermarks.Low {
		b.paused = false
	}
}

// Paused reports whether producers should currently pause (buffered size
// is at or above High and has not yet drained to Low).
func (b *Buffer) Paused() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.paused
}

// Size returns the current buffered byte count.
func (b *Buffer) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// Writer wraps an io.Writer with Buffer-accounted back-pressure: each
// frame's length is reserved before the write and released once the write
// returns, win or lose. A write whose reservation would exceed the Max
// watermark is rejected outright (spec §4.A: "aborting the connection if
// absolute is exceeded") — callers must treat the error as fatal for the
// underlying connection, not as a retryable write failure.
type Writer struct {
	w   io.Writer
	buf *Buffer
}

// NewWriter builds a Writer over w, accounted against buf.
func NewWriter(w io.Writer, buf *Buffer) *Writer {
	return &Writer{w: w, buf: buf}
}

// WriteFrame reserves len(packet) bytes, writes the framed packet, and
// releases the reservation once the write returns.
func (fw *Writer) WriteFrame(packet []byte) error {
	if !fw.buf.Reserve(len(packet)) {
		return fmt.Errorf("frame: back-pressure buffer exceeded max watermark (%d bytes), aborting connection", fw.buf.watermarks.Max)
	}
	err := WriteFrame(fw.w, packet)
	fw.buf.Release(len(packet))
	return err
}

// Paused reports whether the underlying Buffer is currently signaling
// producers to slow down.
func (fw *Writer) Paused() bool { return fw.buf.Paused() }
