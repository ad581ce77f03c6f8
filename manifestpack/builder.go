package manifestpack

import (
	"github.com/google/uuid"

	"github.com/jubako/jubako-go/pack"
	"github.com/jubako/jubako-go/region"
)

// Builder accumulates PackInfo records for a manifest pack.
type Builder struct {
	appVendorID uint32
	packs       []PackInfo
}

// NewBuilder returns an empty manifest builder.
func NewBuilder(appVendorID uint32) *Builder {
	return &Builder{appVendorID: appVendorID}
}

// Add appends one sub-pack's inventory entry.
func (b *Builder) Add(pi PackInfo) {
	b.packs = append(b.packs, pi)
}

// Finish assembles the complete manifest pack image.
func (b *Builder) Finish(id uuid.UUID) ([]byte, error) {
	body := make([]byte, 0, len(b.packs)*packInfoRecordSize)

	for _, pi := range b.packs {
		rec, err := encodePackInfo(pi)
		if err != nil {
			return nil, err
		}

		body = append(body, rec...)
	}

	checkInfoPos := uint64(pack.HeaderSize + len(body))
	checkTailSize := uint64(1 + pack.Blake3DigestSize)
	packSize := checkInfoPos + checkTailSize + pack.HeaderSize

	h := pack.Header{
		Kind:         pack.KindManifest,
		AppVendorID:  b.appVendorID,
		MajorVersion: pack.CurrentMajorVersion,
		UUID:         id,
		CheckInfoPos: checkInfoPos,
		PackSize:     packSize,
	}

	full := make([]byte, 0, packSize)

	headerBuf := h.Encode()
	full = append(full, headerBuf[:]...)
	full = append(full, body...)

	digest, err := pack.ComputeBlake3(region.FromBuffer(full), int64(checkInfoPos), MaskRanges(len(b.packs)))
	if err != nil {
		return nil, err
	}

	full = append(full, pack.EncodeCheckTailBlake3(digest)...)

	tail := h.Tail()
	full = append(full, tail[:]...)

	return full, nil
}
