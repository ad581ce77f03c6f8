// Package format implements the low-level binary primitives shared by every
// pack kind: little-endian integer codecs, the SizedOffset encoding, Pascal
// strings and the block CRC32 used to protect pack headers.
package format

import (
	"github.com/pkg/errors"
)

// ErrTruncated is returned whenever a read would run past the end of the
// supplied buffer.
var ErrTruncated = errors.New("truncated data")

// GetUint reads a little-endian unsigned integer of the given width (1..8
// bytes) from b.
func GetUint(b []byte, width int) (uint64, error) {
	if width < 1 || width > 8 {
		return 0, errors.Errorf("invalid integer width %v", width)
	}

	if len(b) < width {
		return 0, ErrTruncated
	}

	var v uint64

	for i := width - 1; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}

	return v, nil
}

// PutUint writes v as a little-endian unsigned integer of the given width
// into b, which must be at least width bytes long.
func PutUint(b []byte, width int, v uint64) {
	for i := 0; i < width; i++ {
		b[i] = byte(v)
		v >>= 8
	}
}

// AppendUint appends v to b as a little-endian unsigned integer of the
// given width.
func AppendUint(b []byte, width int, v uint64) []byte {
	start := len(b)
	b = append(b, make([]byte, width)...)
	PutUint(b[start:], width, v)

	return b
}

// WidthFor returns the minimum number of bytes needed to represent v,
// rounding 0 up to 1.
func WidthFor(v uint64) int {
	w := 1
	for v >= 1<<8 {
		v >>= 8
		w++
	}

	return w
}
