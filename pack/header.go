// Package pack implements the binary framing shared by every pack kind:
// the 64-byte header, its byte-swapped tail copy, and the check tail that
// carries a pack's integrity digest. It mirrors the way kopia's content
// index package treats a self-describing binary header as a small value
// type decoded once and then queried by field accessors.
package pack

import (
	"encoding/binary"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/jubako/jubako-go/format"
	"github.com/jubako/jubako-go/region"
)

// HeaderSize is the fixed size, in bytes, of a pack header and of its
// byte-swapped tail copy.
const HeaderSize = 64

// Kind discriminates the four pack kinds by the fourth magic byte.
type Kind byte

// Pack kinds, identified by the fourth byte of the magic.
const (
	KindManifest  Kind = 'm'
	KindDirectory Kind = 'd'
	KindContent   Kind = 'c'
	KindContainer Kind = 'C'
)

func (k Kind) String() string {
	switch k {
	case KindManifest:
		return "manifest"
	case KindDirectory:
		return "directory"
	case KindContent:
		return "content"
	case KindContainer:
		return "container"
	default:
		return "unknown"
	}
}

// CurrentMajorVersion is the only major version this implementation can
// read or write. Per the format's open questions, major=0 is still
// considered unstable.
const CurrentMajorVersion = 0

const (
	offMagic        = 0
	offAppVendorID  = 4
	offMajorVersion = 8
	offMinorVersion = 9
	offUUID         = 10
	offFlags        = 26
	offReserved1    = 27 // 5 bytes
	offPackSize     = 32
	offCheckInfoPos = 40
	offPackCount    = 48
	offReserved2    = 50 // 10 bytes
	offCRC          = 60
)

// Header is the decoded form of a pack's 64-byte header.
type Header struct {
	Kind         Kind
	AppVendorID  uint32
	MajorVersion uint8
	MinorVersion uint8
	UUID         uuid.UUID
	Flags        uint8
	PackSize     uint64
	CheckInfoPos uint64
	// PackCount is only meaningful when Kind == KindContainer.
	PackCount uint16
}

// Encode serializes h into its 64-byte on-disk form, computing the trailing
// CRC32 over bytes [0,60).
func (h Header) Encode() [HeaderSize]byte {
	var buf [HeaderSize]byte

	buf[0], buf[1], buf[2] = 0x6A, 0x62, 0x6B
	buf[3] = byte(h.Kind)
	binary.LittleEndian.PutUint32(buf[offAppVendorID:], h.AppVendorID)
	buf[offMajorVersion] = h.MajorVersion
	buf[offMinorVersion] = h.MinorVersion
	copy(buf[offUUID:offUUID+16], h.UUID[:])
	buf[offFlags] = h.Flags
	binary.LittleEndian.PutUint64(buf[offPackSize:], h.PackSize)
	binary.LittleEndian.PutUint64(buf[offCheckInfoPos:], h.CheckInfoPos)
	binary.LittleEndian.PutUint16(buf[offPackCount:], h.PackCount)

	crc := format.BlockCRC32(buf[:offCRC])
	binary.LittleEndian.PutUint32(buf[offCRC:], crc)

	return buf
}

// DecodeHeader parses a 64-byte buffer into a Header, validating the magic
// and the header CRC.
func DecodeHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, errors.Wrap(ErrTruncatedPack, "header shorter than 64 bytes")
	}

	if buf[0] != 0x6A || buf[1] != 0x62 || buf[2] != 0x6B {
		return Header{}, ErrMagicMismatch
	}

	kind := Kind(buf[3])
	switch kind {
	case KindManifest, KindDirectory, KindContent, KindContainer:
	default:
		return Header{}, errors.Wrapf(ErrMagicMismatch, "unknown pack kind byte %#x", buf[3])
	}

	wantCRC := format.BlockCRC32(buf[:offCRC])
	gotCRC := binary.LittleEndian.Uint32(buf[offCRC:])

	if wantCRC != gotCRC {
		return Header{}, errors.Wrapf(ErrHeaderCRCMismatch, "want %#x got %#x", wantCRC, gotCRC)
	}

	var id uuid.UUID
	copy(id[:], buf[offUUID:offUUID+16])

	h := Header{
		Kind:         kind,
		AppVendorID:  binary.LittleEndian.Uint32(buf[offAppVendorID:]),
		MajorVersion: buf[offMajorVersion],
		MinorVersion: buf[offMinorVersion],
		UUID:         id,
		Flags:        buf[offFlags],
		PackSize:     binary.LittleEndian.Uint64(buf[offPackSize:]),
		CheckInfoPos: binary.LittleEndian.Uint64(buf[offCheckInfoPos:]),
		PackCount:    binary.LittleEndian.Uint16(buf[offPackCount:]),
	}

	if h.MajorVersion != CurrentMajorVersion {
		return Header{}, errors.Wrapf(ErrMajorVersionUnsupported, "major version %v", h.MajorVersion)
	}

	return h, nil
}

// byteSwap reverses the byte order of a 64-byte header block, producing (or
// consuming) its tail form.
func byteSwap(buf [HeaderSize]byte) [HeaderSize]byte {
	var out [HeaderSize]byte
	for i := range buf {
		out[i] = buf[HeaderSize-1-i]
	}

	return out
}

// Tail returns the byte-swapped tail copy of h's encoded header.
func (h Header) Tail() [HeaderSize]byte {
	return byteSwap(h.Encode())
}

// OpenByHeader parses the pack header from the beginning of r and verifies
// that PackSize fits within r.
func OpenByHeader(r region.Region) (Header, error) {
	var buf [HeaderSize]byte

	if r.Size() < HeaderSize {
		return Header{}, ErrTruncatedPack
	}

	if err := r.ReadAt(buf[:], 0); err != nil {
		return Header{}, errors.Wrap(err, "error reading pack header")
	}

	h, err := DecodeHeader(buf[:])
	if err != nil {
		return Header{}, err
	}

	if int64(h.PackSize) > r.Size() {
		return Header{}, errors.Wrapf(ErrTruncatedPack, "declared size %v exceeds region size %v", h.PackSize, r.Size())
	}

	return h, nil
}

// OpenByTail locates a pack by reading the last 64 bytes of r, treating
// them as a byte-swapped header, and cross-checking the result against the
// real header found at region_end - packSize. Arbitrary bytes may precede
// the header (open-by-tail tolerates a prefix, e.g. a shell script or other
// embedding wrapper), but nothing may follow the tail.
func OpenByTail(r region.Region) (Header, int64, error) {
	if r.Size() < HeaderSize {
		return Header{}, 0, ErrTruncatedPack
	}

	var tailBuf [HeaderSize]byte

	if err := r.ReadAt(tailBuf[:], r.Size()-HeaderSize); err != nil {
		return Header{}, 0, errors.Wrap(err, "error reading pack tail")
	}

	headerFromTail := byteSwap(tailBuf)

	h, err := DecodeHeader(headerFromTail[:])
	if err != nil {
		return Header{}, 0, errors.Wrap(err, "tail does not decode as a valid header")
	}

	headerOffset := r.Size() - int64(h.PackSize)
	if headerOffset < 0 {
		return Header{}, 0, errors.Wrap(ErrTruncatedPack, "declared pack size exceeds region")
	}

	var headerBuf [HeaderSize]byte
	if err := r.ReadAt(headerBuf[:], headerOffset); err != nil {
		return Header{}, 0, errors.Wrap(err, "error reading pack header located via tail")
	}

	if headerBuf != headerFromTail {
		return Header{}, 0, ErrTailMismatch
	}

	return h, headerOffset, nil
}
