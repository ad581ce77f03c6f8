package cluster

import (
	"io"
	"sync"

	"github.com/pkg/errors"
)

// Stream is a byte buffer that grows as a background goroutine decompresses
// a cluster, and that lets any number of readers block until the bytes
// they need have arrived. Once Close is called (decompression finished,
// successfully or not) every blocked and future Read either returns the
// requested bytes or the recorded error.
type Stream struct {
	mu   sync.Mutex
	cond *sync.Cond

	buf    []byte
	done   bool
	err    error
}

// NewStream returns an empty stream with size hinted by the expected fully
// decompressed length, ready to be filled by a Writer obtained from Write.
func NewStream(sizeHint int) *Stream {
	s := &Stream{buf: make([]byte, 0, sizeHint)}
	s.cond = sync.NewCond(&s.mu)

	return s
}

// Write implements io.Writer; it's fed by decompressTo's io.Copy. Every
// call wakes any goroutines blocked in ReadAt/WaitFor.
func (s *Stream) Write(p []byte) (int, error) {
	s.mu.Lock()
	s.buf = append(s.buf, p...)
	s.cond.Broadcast()
	s.mu.Unlock()

	return len(p), nil
}

// Close marks the stream as finished; err, if non-nil, is surfaced to every
// reader waiting on bytes that will now never arrive.
func (s *Stream) Close(err error) {
	s.mu.Lock()
	s.done = true
	s.err = err
	s.cond.Broadcast()
	s.mu.Unlock()
}

// waitUntil blocks until at least n bytes are available, the stream is
// closed, or an error has been recorded.
func (s *Stream) waitUntil(n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for len(s.buf) < n && !s.done {
		s.cond.Wait()
	}

	if len(s.buf) >= n {
		return nil
	}

	if s.err != nil {
		return s.err
	}

	return errors.Errorf("cluster stream closed after %v bytes, wanted %v", len(s.buf), n)
}

// ReadAt returns a copy of bytes [off, off+len(p)), blocking until either
// they have been decompressed or the stream closes short.
func (s *Stream) ReadAt(p []byte, off int64) error {
	if err := s.waitUntil(int(off) + len(p)); err != nil {
		return err
	}

	s.mu.Lock()
	copy(p, s.buf[off:int(off)+len(p)])
	s.mu.Unlock()

	return nil
}

// Len blocks until the stream is fully decompressed, then returns its
// total length (or the recorded error).
func (s *Stream) Len() (int, error) {
	s.mu.Lock()
	for !s.done {
		s.cond.Wait()
	}

	n, err := len(s.buf), s.err
	s.mu.Unlock()

	return n, err
}

// Reader returns an io.Reader over the stream's eventual full contents,
// blocking on each Read call for bytes not yet available.
func (s *Stream) Reader() io.Reader {
	return &streamReader{s: s}
}

type streamReader struct {
	s   *Stream
	pos int64
}

func (r *streamReader) Read(p []byte) (int, error) {
	r.s.mu.Lock()
	for len(r.s.buf) <= int(r.pos) && !r.s.done {
		r.s.cond.Wait()
	}

	avail := len(r.s.buf) - int(r.pos)
	if avail <= 0 {
		err := r.s.err
		r.s.mu.Unlock()

		if err != nil {
			return 0, err
		}

		return 0, io.EOF
	}

	if avail > len(p) {
		avail = len(p)
	}

	copy(p, r.s.buf[r.pos:int(r.pos)+avail])
	r.s.mu.Unlock()

	r.pos += int64(avail)

	return avail, nil
}
