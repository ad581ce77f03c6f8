package pack

import (
	"github.com/pkg/errors"
	"github.com/zeebo/blake3"

	"github.com/jubako/jubako-go/region"
)

// Check-tail variant bytes.
const (
	CheckVariantNone   byte = 0
	CheckVariantBlake3 byte = 1
)

// Blake3DigestSize is the size, in bytes, of a variant-1 check digest.
const Blake3DigestSize = 32

// MaskRange names a byte range within the pack that must be treated as all
// zero bits when computing its check digest. The manifest pack uses this to
// let locator edits (packLocation, per-record CRC32) happen without
// invalidating the manifest's own digest.
type MaskRange struct {
	Offset int64
	Length int64
}

// ReadCheckVariant reads the one-byte variant discriminator at the start of
// the check tail (header.CheckInfoPos).
func ReadCheckVariant(r region.Region, h Header) (byte, error) {
	b, err := r.ReadUint(int64(h.CheckInfoPos), 1)
	if err != nil {
		return 0, errors.Wrap(err, "error reading check variant")
	}

	return byte(b), nil
}

// ComputeBlake3 hashes bytes [0, checkInfoPos) of r, treating the byte
// ranges in masks as zero. It processes the region in chunks so it never
// has to materialize the whole pack in memory even when the backing store
// can't hand out zero-copy slices.
func ComputeBlake3(r region.Region, checkInfoPos int64, masks []MaskRange) ([]byte, error) {
	h := blake3.New()

	const chunkSize = 1 << 20

	buf := make([]byte, chunkSize)

	for off := int64(0); off < checkInfoPos; off += chunkSize {
		n := chunkSize
		if remaining := checkInfoPos - off; int64(n) > remaining {
			n = int(remaining)
		}

		chunk := buf[:n]

		if err := r.ReadAt(chunk, off); err != nil {
			return nil, errors.Wrap(err, "error reading pack body for digest")
		}

		applyMasks(chunk, off, masks)

		if _, err := h.Write(chunk); err != nil {
			return nil, errors.Wrap(err, "error hashing pack body")
		}
	}

	return h.Sum(nil), nil
}

// applyMasks zeroes out, within chunk (which covers [chunkOff,
// chunkOff+len(chunk))), every byte that falls inside one of masks.
func applyMasks(chunk []byte, chunkOff int64, masks []MaskRange) {
	chunkEnd := chunkOff + int64(len(chunk))

	for _, m := range masks {
		start := m.Offset
		end := m.Offset + m.Length

		if end <= chunkOff || start >= chunkEnd {
			continue
		}

		if start < chunkOff {
			start = chunkOff
		}

		if end > chunkEnd {
			end = chunkEnd
		}

		for i := start - chunkOff; i < end-chunkOff; i++ {
			chunk[i] = 0
		}
	}
}

// CheckIntegrity verifies the pack's check tail. For variant 0 (no check)
// it always succeeds. For variant 1 it recomputes the Blake3 digest over
// the pack body (applying masks, used by the manifest pack) and compares
// it against the stored digest.
func CheckIntegrity(r region.Region, h Header, masks []MaskRange) error {
	variant, err := ReadCheckVariant(r, h)
	if err != nil {
		return err
	}

	switch variant {
	case CheckVariantNone:
		return nil
	case CheckVariantBlake3:
		var stored [Blake3DigestSize]byte
		if err := r.ReadAt(stored[:], int64(h.CheckInfoPos)+1); err != nil {
			return errors.Wrap(err, "error reading stored digest")
		}

		got, err := ComputeBlake3(r, int64(h.CheckInfoPos), masks)
		if err != nil {
			return err
		}

		for i := range stored {
			if stored[i] != got[i] {
				return errors.Wrapf(ErrCheckFailed, "pack %v", h.UUID)
			}
		}

		return nil
	default:
		return errors.Errorf("unknown check variant %v", variant)
	}
}

// EncodeCheckTailBlake3 builds the on-disk check tail bytes (variant byte +
// digest) given an already-computed digest.
func EncodeCheckTailBlake3(digest []byte) []byte {
	out := make([]byte, 1+Blake3DigestSize)
	out[0] = CheckVariantBlake3
	copy(out[1:], digest)

	return out
}

// EncodeCheckTailNone returns the one-byte "no check" tail.
func EncodeCheckTailNone() []byte {
	return []byte{CheckVariantNone}
}
