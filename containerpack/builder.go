package containerpack

import (
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/jubako/jubako-go/pack"
)

// Build concatenates subPacks (each a complete, independently valid pack
// image) into one container pack, recording a locator for each. Containers
// carry no check tail of their own (variant none): each concatenated
// sub-pack already protects its own bytes, and verifying the container
// amounts to verifying every locator plus every sub-pack in turn.
func Build(appVendorID uint32, id uuid.UUID, subPacks [][]byte) ([]byte, error) {
	if len(subPacks) > int(^uint16(0)) {
		return nil, errors.New("too many sub-packs for a single container")
	}

	body := make([]byte, 0)

	locators := make([]Locator, len(subPacks))

	for i, sub := range subPacks {
		subHeader, err := pack.DecodeHeader(sub[:pack.HeaderSize])
		if err != nil {
			return nil, errors.Wrapf(err, "sub-pack %v has an invalid header", i)
		}

		if uint64(len(sub)) != subHeader.PackSize {
			return nil, errors.Errorf("sub-pack %v declares size %v but is %v bytes", i, subHeader.PackSize, len(sub))
		}

		locators[i] = Locator{
			UUID:       subHeader.UUID,
			PackSize:   subHeader.PackSize,
			PackOffset: uint64(pack.HeaderSize + len(body)),
		}

		body = append(body, sub...)
	}

	body = append(body, EncodeLocatorTable(locators)...)

	checkInfoPos := uint64(pack.HeaderSize + len(body))
	checkTail := pack.EncodeCheckTailNone()
	packSize := checkInfoPos + uint64(len(checkTail)) + pack.HeaderSize

	h := pack.Header{
		Kind:         pack.KindContainer,
		AppVendorID:  appVendorID,
		MajorVersion: pack.CurrentMajorVersion,
		UUID:         id,
		CheckInfoPos: checkInfoPos,
		PackCount:    uint16(len(subPacks)),
		PackSize:     packSize,
	}

	full := make([]byte, 0, packSize)

	headerBuf := h.Encode()
	full = append(full, headerBuf[:]...)
	full = append(full, body...)
	full = append(full, checkTail...)

	tail := h.Tail()
	full = append(full, tail[:]...)

	return full, nil
}
