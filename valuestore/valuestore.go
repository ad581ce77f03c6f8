// Package valuestore implements the two kinds of deported variable-length
// byte storage a directory pack can hold: plain stores (addressed by byte
// offset) and indexed stores (addressed by ordinal, with optional
// deduplication at write time).
package valuestore

import (
	"github.com/pkg/errors"

	"github.com/jubako/jubako-go/format"
	"github.com/jubako/jubako-go/region"
)

// Kind discriminates the two value store variants.
type Kind byte

// Value store kinds, as stored in the tail's storeType byte.
const (
	KindPlain   Kind = 0
	KindIndexed Kind = 1
)

// Store is the common read interface both variants satisfy.
type Store interface {
	// Get returns the value for key. For a plain store, key is a byte
	// offset; for an indexed store, key is an ordinal in [0, Count).
	Get(key uint64) ([]byte, error)
}

// ---- plain store ----

// PlainStore is offset-addressed: a key is a byte offset into the
// concatenated data blob, and the caller (generally a Pascal-string or
// other self-delimiting decoder) determines how many bytes to consume.
type PlainStore struct {
	data     region.Region
	dataSize uint64
}

// OpenPlain parses a plain value store whose tail begins at tailOffset:
// one byte of storeType (must be KindPlain) followed by an 8-byte
// dataSize. The data itself occupies the dataSize bytes immediately
// preceding the tail.
func OpenPlain(r region.Region, tailOffset int64) (*PlainStore, error) {
	var hdr [9]byte
	if err := r.ReadAt(hdr[:], tailOffset); err != nil {
		return nil, errors.Wrap(err, "error reading plain value store tail")
	}

	if Kind(hdr[0]) != KindPlain {
		return nil, errors.Errorf("not a plain value store (storeType=%v)", hdr[0])
	}

	dataSize, err := format.GetUint(hdr[1:9], 8)
	if err != nil {
		return nil, err
	}

	data, err := r.Slice(tailOffset-int64(dataSize), int64(dataSize))
	if err != nil {
		return nil, errors.Wrap(err, "error slicing plain value store data")
	}

	return &PlainStore{data: data, dataSize: dataSize}, nil
}

// Get returns the bytes from offset to the end of the data blob. Callers
// that need a bounded slice (e.g. a Pascal string) should read the length
// themselves from the returned slice's prefix.
func (s *PlainStore) Get(offset uint64) ([]byte, error) {
	if offset > s.dataSize {
		return nil, errors.Errorf("offset %v beyond plain value store size %v", offset, s.dataSize)
	}

	b, ok := s.data.Bytes(int64(offset), int64(s.dataSize-offset))
	if ok {
		return b, nil
	}

	buf := make([]byte, s.dataSize-offset)
	if err := s.data.ReadAt(buf, int64(offset)); err != nil {
		return nil, err
	}

	return buf, nil
}

// EncodePlain concatenates values with no separators and returns the data
// blob plus the offset at which each value starts, suitable for embedding
// directly as a property's deported key.
func EncodePlain(values [][]byte) (data []byte, offsets []uint64) {
	offsets = make([]uint64, len(values))

	for i, v := range values {
		offsets[i] = uint64(len(data))
		data = append(data, v...)
	}

	return data, offsets
}

// EncodePlainTail builds the tail bytes for a plain store of the given
// data size.
func EncodePlainTail(dataSize uint64) []byte {
	buf := []byte{byte(KindPlain)}
	return format.AppendUint(buf, 8, dataSize)
}

// ---- indexed store ----

// IndexedStore is ordinal-addressed: a key is an index in [0, Count), and
// the tail carries the ascending interior offsets needed to bound each
// value. Values may be deduplicated at write time, so distinct ordinals
// can resolve to identical byte ranges.
type IndexedStore struct {
	data   region.Region
	table  format.OffsetTable
}

// OpenIndexed parses an indexed value store whose tail begins at
// tailOffset: storeType(1) + entryCount(4) + offsetSize(1) + dataSize(8) +
// interior offset table ((entryCount-1)*offsetSize bytes).
func OpenIndexed(r region.Region, tailOffset int64) (*IndexedStore, error) {
	var hdr [14]byte
	if err := r.ReadAt(hdr[:], tailOffset); err != nil {
		return nil, errors.Wrap(err, "error reading indexed value store tail")
	}

	if Kind(hdr[0]) != KindIndexed {
		return nil, errors.Errorf("not an indexed value store (storeType=%v)", hdr[0])
	}

	entryCount, err := format.GetUint(hdr[1:5], 4)
	if err != nil {
		return nil, err
	}

	offsetSize := int(hdr[5])

	dataSize, err := format.GetUint(hdr[6:14], 8)
	if err != nil {
		return nil, err
	}

	interiorCount := int(entryCount) - 1
	if interiorCount < 0 {
		return nil, errors.New("indexed value store has zero entries")
	}

	tableBuf := make([]byte, interiorCount*offsetSize)
	if err := r.ReadAt(tableBuf, tailOffset+14); err != nil {
		return nil, errors.Wrap(err, "error reading indexed value store offset table")
	}

	table, err := format.DecodeOffsetTable(tableBuf, interiorCount, offsetSize, dataSize)
	if err != nil {
		return nil, errors.Wrap(err, "invalid indexed value store offset table")
	}

	data, err := r.Slice(tailOffset-int64(dataSize), int64(dataSize))
	if err != nil {
		return nil, errors.Wrap(err, "error slicing indexed value store data")
	}

	return &IndexedStore{data: data, table: table}, nil
}

// Count returns the number of ordinals in the store.
func (s *IndexedStore) Count() int { return s.table.Count() }

// Get returns the value for ordinal key.
func (s *IndexedStore) Get(key uint64) ([]byte, error) {
	start, end, err := s.table.Bounds(int(key))
	if err != nil {
		return nil, err
	}

	if b, ok := s.data.Bytes(int64(start), int64(end-start)); ok {
		return b, nil
	}

	buf := make([]byte, end-start)
	if err := s.data.ReadAt(buf, int64(start)); err != nil {
		return nil, err
	}

	return buf, nil
}

// Builder accumulates values for an indexed store, deduplicating
// byte-identical values as they're added.
type Builder struct {
	data       []byte
	boundaries []uint64 // interior offsets, one per value after the first
	seen       map[string]uint64
	count      int
}

// NewBuilder returns an empty indexed-store builder.
func NewBuilder() *Builder {
	return &Builder{seen: map[string]uint64{}}
}

// Add inserts v, returning the ordinal it was (or already had been) stored
// at. Byte-identical values added more than once share an ordinal.
func (b *Builder) Add(v []byte) uint64 {
	if ord, ok := b.seen[string(v)]; ok {
		return ord
	}

	ord := uint64(b.count)
	b.count++

	if b.count > 1 {
		b.boundaries = append(b.boundaries, uint64(len(b.data)))
	}

	b.data = append(b.data, v...)
	b.seen[string(v)] = ord

	return ord
}

// Build serializes the accumulated values into a data blob plus tail.
func (b *Builder) Build() (data []byte, tail []byte) {
	offsetSize := format.WidthFor(uint64(len(b.data)))
	if offsetSize == 0 {
		offsetSize = 1
	}

	tail = []byte{byte(KindIndexed)}
	tail = format.AppendUint(tail, 4, uint64(b.count))
	tail = append(tail, byte(offsetSize))
	tail = format.AppendUint(tail, 8, uint64(len(b.data)))
	tail = format.EncodeOffsetTable(tail, b.boundaries, offsetSize)

	return b.data, tail
}
