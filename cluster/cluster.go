// Package cluster implements the compress/decompress engine for groups of
// blobs: entropy-gated compression on write, and a background,
// cache-backed decompression model on read that lets callers start
// consuming a cluster's bytes before the whole thing has been expanded.
package cluster

import (
	"github.com/pkg/errors"

	"github.com/jubako/jubako-go/format"
	"github.com/jubako/jubako-go/region"
)

// MaxBlobsPerCluster is the largest number of blobs a single cluster may
// hold.
const MaxBlobsPerCluster = 4096

// Tail is the parsed form of a cluster's trailing metadata block.
type Tail struct {
	Codec       Codec
	BlobCount   int
	OffsetSize  int // actual byte width, 1..8
	RawDataSize uint64
	DataSize    uint64
	Offsets     format.OffsetTable
}

// rawDataStart returns the absolute offset, within the owning region, at
// which the cluster's compressed (or raw, if Codec==CodecNone) bytes
// begin: tailPosition - 4 (raw-data CRC32 trailer) - RawDataSize.
func (t Tail) rawDataStart(tailPosition int64) int64 {
	return tailPosition - 4 - int64(t.RawDataSize)
}

// EncodeTail serializes a cluster tail: type byte (codec in the low
// nibble), a 16-bit blobCount/offsetSize word (offsetSize is the byte
// width, stored as offsetSize-1), rawDataSize and dataSize at offsetSize
// bytes each, then the interior offset table.
func EncodeTail(codec Codec, blobCount int, offsetSize int, rawDataSize, dataSize uint64, interior []uint64) ([]byte, error) {
	if blobCount < 1 || blobCount > MaxBlobsPerCluster {
		return nil, errors.Errorf("blob count %v out of range [1,%v]", blobCount, MaxBlobsPerCluster)
	}

	if offsetSize < 1 || offsetSize > 8 {
		return nil, errors.Errorf("offset size %v out of range [1,8]", offsetSize)
	}

	n := offsetSize

	buf := make([]byte, 0, 3+2*n+len(interior)*n)
	buf = append(buf, byte(codec)&0x0F)

	word := uint16(blobCount&0x0FFF) | uint16(offsetSize-1)<<13
	buf = append(buf, byte(word), byte(word>>8))

	buf = format.AppendUint(buf, n, rawDataSize)
	buf = format.AppendUint(buf, n, dataSize)
	buf = format.EncodeOffsetTable(buf, interior, n)

	return buf, nil
}

// DecodeTail parses a cluster tail starting at the beginning of buf.
func DecodeTail(buf []byte) (Tail, int, error) {
	if len(buf) < 3 {
		return Tail{}, 0, format.ErrTruncated
	}

	codec := Codec(buf[0] & 0x0F)

	word := uint16(buf[1]) | uint16(buf[2])<<8
	blobCount := int(word & 0x0FFF)
	offsetSize := int((word>>13)&0x7) + 1

	pos := 3
	n := offsetSize

	if len(buf) < pos+2*n {
		return Tail{}, 0, format.ErrTruncated
	}

	rawDataSize, err := format.GetUint(buf[pos:], n)
	if err != nil {
		return Tail{}, 0, err
	}

	pos += n

	dataSize, err := format.GetUint(buf[pos:], n)
	if err != nil {
		return Tail{}, 0, err
	}

	pos += n

	interiorCount := blobCount - 1
	if len(buf) < pos+interiorCount*n {
		return Tail{}, 0, format.ErrTruncated
	}

	table, err := format.DecodeOffsetTable(buf[pos:pos+interiorCount*n], interiorCount, n, dataSize)
	if err != nil {
		return Tail{}, 0, errors.Wrap(err, "invalid cluster offset table")
	}

	pos += interiorCount * n

	return Tail{
		Codec:       codec,
		BlobCount:   blobCount,
		OffsetSize:  offsetSize,
		RawDataSize: rawDataSize,
		DataSize:    dataSize,
		Offsets:     table,
	}, pos, nil
}

// ParseTailAt parses the tail that starts at tailStart within r. The
// tail's total size isn't known up front, so every byte from tailStart to
// the end of r is read and DecodeTail stops consuming bytes once the
// offset table is complete.
func ParseTailAt(r region.Region, tailStart int64) (Tail, error) {
	remaining := r.Size() - tailStart
	if remaining <= 0 {
		return Tail{}, format.ErrTruncated
	}

	buf := make([]byte, remaining)
	if err := r.ReadAt(buf, tailStart); err != nil {
		return Tail{}, errors.Wrap(err, "error reading cluster tail")
	}

	t, _, err := DecodeTail(buf)

	return t, err
}

// Builder accumulates blobs into one cluster during writing.
type Builder struct {
	blobs       [][]byte
	rawDataSize int
}

// NewBuilder returns an empty cluster builder.
func NewBuilder() *Builder { return &Builder{} }

// Add appends a blob to the cluster. It returns false if the cluster is
// already full (MaxBlobsPerCluster) and the blob was not added; the caller
// should finalize the current cluster and start a new one.
func (b *Builder) Add(blob []byte) bool {
	if len(b.blobs) >= MaxBlobsPerCluster {
		return false
	}

	b.blobs = append(b.blobs, blob)
	b.rawDataSize += len(blob)

	return true
}

// Len returns the number of blobs accumulated so far.
func (b *Builder) Len() int { return len(b.blobs) }

// RawSize returns the total decompressed size accumulated so far.
func (b *Builder) RawSize() int { return b.rawDataSize }

// Built is the finalized, on-disk-ready form of a cluster.
type Built struct {
	Codec        Codec
	CompressedBody []byte // raw-data CRC32 trailer not yet appended
	Tail         []byte
	RawDataSize  uint64
	DataSize     uint64
}

// Build concatenates the accumulated blobs, samples their entropy to
// decide whether preferredCodec is worth applying, compresses accordingly,
// and produces the tail bytes. The caller is responsible for writing
// CompressedBody, a 4-byte big-endian CRC32 of CompressedBody, and then
// Tail, in that order.
func (b *Builder) Build(preferredCodec Codec) (*Built, error) {
	if len(b.blobs) == 0 {
		return nil, errors.New("cannot build an empty cluster")
	}

	raw := make([]byte, 0, b.rawDataSize)

	interior := make([]uint64, 0, len(b.blobs)-1)

	for i, blob := range b.blobs {
		if i > 0 {
			interior = append(interior, uint64(len(raw)))
		}

		raw = append(raw, blob...)
	}

	codec := preferredCodec
	if !shouldCompress(raw) {
		codec = CodecNone
	}

	compressed, err := compress(codec, raw)
	if err != nil {
		return nil, err
	}

	// compression that fails to shrink the data is pointless; fall back to
	// storing it verbatim.
	if codec != CodecNone && len(compressed) >= len(raw) {
		codec = CodecNone
		compressed = raw
	}

	offsetSize := format.WidthFor(uint64(len(raw)))
	if offsetSize == 0 {
		offsetSize = 1
	}

	tail, err := EncodeTail(codec, len(b.blobs), offsetSize, uint64(len(compressed)), uint64(len(raw)), interior)
	if err != nil {
		return nil, err
	}

	return &Built{
		Codec:          codec,
		CompressedBody: compressed,
		Tail:           tail,
		RawDataSize:    uint64(len(compressed)),
		DataSize:       uint64(len(raw)),
	}, nil
}
