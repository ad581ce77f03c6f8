package format

import "github.com/pkg/errors"

// OffsetTable is the shared "N-1 interior offsets" encoding used by both
// indexed value stores and cluster tails: for N items, offset[0] == 0 and
// offset[N] == dataSize are implicit, and only the N-1 ascending interior
// boundaries are actually stored.
type OffsetTable struct {
	interior []uint64
	dataSize uint64
}

// NewOffsetTable wraps interior offsets (length itemCount-1) plus the total
// data size.
func NewOffsetTable(interior []uint64, dataSize uint64) OffsetTable {
	return OffsetTable{interior: interior, dataSize: dataSize}
}

// Count returns the number of items the table describes.
func (t OffsetTable) Count() int { return len(t.interior) + 1 }

// Bounds returns the [start,end) byte range of item idx.
func (t OffsetTable) Bounds(idx int) (uint64, uint64, error) {
	if idx < 0 || idx >= t.Count() {
		return 0, 0, errors.Errorf("item index %v out of range [0,%v)", idx, t.Count())
	}

	var start uint64
	if idx > 0 {
		start = t.interior[idx-1]
	}

	end := t.dataSize
	if idx < len(t.interior) {
		end = t.interior[idx]
	}

	return start, end, nil
}

// DecodeOffsetTable reads n little-endian integers of the given width from
// buf and validates that, together with dataSize, they form a
// monotonically non-decreasing sequence bounded by dataSize.
func DecodeOffsetTable(buf []byte, n, width int, dataSize uint64) (OffsetTable, error) {
	interior := make([]uint64, n)

	var prev uint64

	for i := 0; i < n; i++ {
		v, err := GetUint(buf[i*width:], width)
		if err != nil {
			return OffsetTable{}, err
		}

		if v < prev || v > dataSize {
			return OffsetTable{}, errors.Errorf("offset table entry %v (%v) breaks monotonic bound [%v,%v]", i, v, prev, dataSize)
		}

		interior[i] = v
		prev = v
	}

	return OffsetTable{interior: interior, dataSize: dataSize}, nil
}

// EncodeOffsetTable appends the interior offsets (width bytes each) to buf.
func EncodeOffsetTable(buf []byte, interior []uint64, width int) []byte {
	for _, v := range interior {
		buf = AppendUint(buf, width, v)
	}

	return buf
}
