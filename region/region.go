// Package region provides a uniform, zero-copy read view over a pack's
// bytes, whatever backs them: a memory map, a fully buffered file, or a
// slice handed to us by a caller who already has the bytes. Every Region
// derived from a backing store keeps that store alive for as long as the
// Region itself is reachable, so callers may freely hand sub-regions to
// independently advancing readers on different goroutines.
package region

import (
	"io"
	"os"

	"github.com/edsrzf/mmap-go"
	"github.com/pkg/errors"

	"github.com/jubako/jubako-go/format"
)

// ErrOutOfBounds is returned whenever a read or sub-slice would reach past
// the end of a Region.
var ErrOutOfBounds = errors.New("read out of bounds of byte region")

// Region is a read-only, bounds-checked view over a contiguous run of
// bytes. It is safe to share across goroutines: all methods are read-only.
type Region struct {
	backing backing
	base    int64
	size    int64
}

// backing is the thing a Region ultimately reads from.
type backing interface {
	// readAt fills p from the backing store starting at off, relative to
	// the backing store's own origin.
	readAt(p []byte, off int64) error
	// slice returns a zero-copy []byte for [off, off+n), or ok=false if the
	// backing store cannot hand out a slice (e.g. it is file-backed and
	// unbuffered).
	slice(off, n int64) ([]byte, bool)
}

// Size returns the number of bytes in the region.
func (r Region) Size() int64 { return r.size }

func (r Region) checkBounds(off, n int64) error {
	if off < 0 || n < 0 || off+n > r.size {
		return errors.Wrapf(ErrOutOfBounds, "offset %d length %d region size %d", off, n, r.size)
	}

	return nil
}

// ReadAt fills p from the region starting at off.
func (r Region) ReadAt(p []byte, off int64) error {
	if err := r.checkBounds(off, int64(len(p))); err != nil {
		return err
	}

	return r.backing.readAt(p, r.base+off)
}

// ReadUint reads a little-endian unsigned integer of the given width
// (1..8 bytes) at off.
func (r Region) ReadUint(off int64, width int) (uint64, error) {
	var buf [8]byte

	if err := r.ReadAt(buf[:width], off); err != nil {
		return 0, err
	}

	return format.GetUint(buf[:width], width)
}

// Bytes returns a zero-copy slice of the region if the backing store
// supports it (buffers and memory maps do; unbuffered files do not). Use
// ReadAt when the backing store might not support zero-copy access.
func (r Region) Bytes(off, n int64) ([]byte, bool) {
	if err := r.checkBounds(off, n); err != nil {
		return nil, false
	}

	return r.backing.slice(r.base+off, n)
}

// Slice returns a new Region over [off, off+n) of r, at zero cost: it
// shares the same backing store.
func (r Region) Slice(off, n int64) (Region, error) {
	if err := r.checkBounds(off, n); err != nil {
		return Region{}, err
	}

	return Region{backing: r.backing, base: r.base + off, size: n}, nil
}

// Reader returns an io.Reader that streams the region from the beginning,
// tracking position and refusing to read past the region's bounds.
func (r Region) Reader() *StreamReader {
	return &StreamReader{region: r}
}

// StreamReader is a sequential, bounds-enforced reader over a Region.
type StreamReader struct {
	region Region
	pos    int64
}

// Read implements io.Reader.
func (s *StreamReader) Read(p []byte) (int, error) {
	remaining := s.region.size - s.pos
	if remaining <= 0 {
		return 0, io.EOF
	}

	if int64(len(p)) > remaining {
		p = p[:remaining]
	}

	if err := s.region.ReadAt(p, s.pos); err != nil {
		return 0, err
	}

	s.pos += int64(len(p))

	return len(p), nil
}

// ---- buffer-backed region ----

type bufferBacking struct {
	data []byte
}

func (b *bufferBacking) readAt(p []byte, off int64) error {
	if off < 0 || off+int64(len(p)) > int64(len(b.data)) {
		return ErrOutOfBounds
	}

	copy(p, b.data[off:])

	return nil
}

func (b *bufferBacking) slice(off, n int64) ([]byte, bool) {
	if off < 0 || off+n > int64(len(b.data)) {
		return nil, false
	}

	return b.data[off : off+n], true
}

// FromBuffer wraps an in-memory buffer as a Region. data must not be
// mutated afterwards.
func FromBuffer(data []byte) Region {
	return Region{backing: &bufferBacking{data}, base: 0, size: int64(len(data))}
}

// ---- mmap-backed region ----

type mmapBacking struct {
	f *os.File
	m mmap.MMap
}

func (m *mmapBacking) readAt(p []byte, off int64) error {
	if off < 0 || off+int64(len(p)) > int64(len(m.m)) {
		return ErrOutOfBounds
	}

	copy(p, m.m[off:])

	return nil
}

func (m *mmapBacking) slice(off, n int64) ([]byte, bool) {
	if off < 0 || off+n > int64(len(m.m)) {
		return nil, false
	}

	return m.m[off : off+n], true
}

// Close unmaps the memory map and closes the underlying file.
func (m *mmapBacking) Close() error {
	if err := m.m.Unmap(); err != nil {
		return errors.Wrap(err, "unable to unmap file")
	}

	return errors.Wrap(m.f.Close(), "unable to close file")
}

// MappedRegion is a Region backed by a memory-mapped file, plus the handle
// needed to release the mapping once every derived Region has gone away.
type MappedRegion struct {
	Region

	backing *mmapBacking
}

// Close unmaps the file. Only call this once every Region derived from it
// is no longer in use.
func (m *MappedRegion) Close() error { return m.backing.Close() }

// OpenMapped memory-maps path read-only and returns a Region over its
// entire contents.
func OpenMapped(path string) (*MappedRegion, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "unable to open pack file")
	}

	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close() //nolint:errcheck

		return nil, errors.Wrap(err, "unable to mmap pack file")
	}

	bk := &mmapBacking{f: f, m: m}

	return &MappedRegion{
		Region:  Region{backing: bk, base: 0, size: int64(len(m))},
		backing: bk,
	}, nil
}

// ---- file-backed region (no mmap, blocking pread) ----

type fileBacking struct {
	r    io.ReaderAt
	size int64
}

func (fb *fileBacking) readAt(p []byte, off int64) error {
	_, err := fb.r.ReadAt(p, off)
	return errors.Wrap(err, "error reading from pack file")
}

func (fb *fileBacking) slice(off, n int64) ([]byte, bool) {
	return nil, false
}

// FromReaderAt wraps an io.ReaderAt of known size as a Region. Reads block
// on I/O and never hand out zero-copy slices.
func FromReaderAt(r io.ReaderAt, size int64) Region {
	return Region{backing: &fileBacking{r: r, size: size}, base: 0, size: size}
}
