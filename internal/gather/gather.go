// Package gather provides small helpers for accumulating and handing off
// byte slices without forcing an extra copy at every layer.
package gather

import (
	"bytes"
	"io"
)

// Bytes is an immutable view of a byte sequence that may be read multiple
// times. It is cheap to pass by value.
type Bytes struct {
	b []byte
}

// FromSlice wraps an existing slice without copying it. The caller must not
// mutate b afterwards.
func FromSlice(b []byte) Bytes { return Bytes{b} }

// Length returns the number of bytes.
func (b Bytes) Length() int { return len(b.b) }

// ToByteSlice returns the underlying slice. Callers must treat it as
// read-only.
func (b Bytes) ToByteSlice() []byte { return b.b }

// Reader returns a fresh reader over the bytes.
func (b Bytes) Reader() io.Reader { return bytes.NewReader(b.b) }

// WriteBuffer is a reusable buffer for assembling a blob before it is
// written out or cached. It is not safe for concurrent use.
type WriteBuffer struct {
	buf bytes.Buffer
}

// Reset discards any accumulated data so the buffer can be reused.
func (w *WriteBuffer) Reset() { w.buf.Reset() }

// Close is a no-op provided so WriteBuffer satisfies io.Closer in call
// sites that defer its cleanup unconditionally.
func (w *WriteBuffer) Close() error { return nil }

// Write implements io.Writer.
func (w *WriteBuffer) Write(p []byte) (int, error) { return w.buf.Write(p) }

// Bytes returns an immutable view of the accumulated data. The view aliases
// the internal buffer and is only valid until the next Reset.
func (w *WriteBuffer) Bytes() Bytes { return Bytes{w.buf.Bytes()} }

// Length returns the number of bytes written so far.
func (w *WriteBuffer) Length() int { return w.buf.Len() }
