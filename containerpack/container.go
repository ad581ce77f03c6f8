// Package containerpack locates the sub-packs stored concatenated within a
// single container file. A container is itself a pack (it has the usual
// header/tail/check framing); what makes it a container is the locator
// table sitting just before its check tail.
package containerpack

import (
	"encoding/binary"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/jubako/jubako-go/pack"
	"github.com/jubako/jubako-go/region"
)

// LocatorSize is the on-disk size, in bytes, of one PackLocator record.
const LocatorSize = 16 + 8 + 8

// Locator describes where one sub-pack lives within the container file.
type Locator struct {
	UUID       uuid.UUID
	PackSize   uint64
	PackOffset uint64
}

// Container is a parsed container pack: its own header plus the resolved
// locator table.
type Container struct {
	Header   pack.Header
	Locators []Locator
}

func encodeLocator(l Locator) []byte {
	buf := make([]byte, LocatorSize)
	copy(buf[0:16], l.UUID[:])
	binary.LittleEndian.PutUint64(buf[16:24], l.PackSize)
	binary.LittleEndian.PutUint64(buf[24:32], l.PackOffset)

	return buf
}

func decodeLocator(buf []byte) Locator {
	var l Locator
	copy(l.UUID[:], buf[0:16])
	l.PackSize = binary.LittleEndian.Uint64(buf[16:24])
	l.PackOffset = binary.LittleEndian.Uint64(buf[24:32])

	return l
}

// Open parses a container pack out of r: the header, then the locator
// array sitting immediately before the check tail, then verifies each
// locator against the header of the sub-pack it points to.
func Open(r region.Region) (*Container, error) {
	h, err := pack.OpenByHeader(r)
	if err != nil {
		return nil, errors.Wrap(err, "error opening container header")
	}

	if h.Kind != pack.KindContainer {
		return nil, errors.Errorf("pack is not a container (kind=%v)", h.Kind)
	}

	locatorsSize := int64(h.PackCount) * LocatorSize
	locatorsOffset := int64(h.CheckInfoPos) - locatorsSize

	if locatorsOffset < pack.HeaderSize {
		return nil, errors.New("container locator table overlaps header")
	}

	buf := make([]byte, locatorsSize)
	if err := r.ReadAt(buf, locatorsOffset); err != nil {
		return nil, errors.Wrap(err, "error reading container locator table")
	}

	locators := make([]Locator, h.PackCount)
	for i := range locators {
		locators[i] = decodeLocator(buf[i*LocatorSize : (i+1)*LocatorSize])
	}

	if err := verifyLocators(r, locators); err != nil {
		return nil, err
	}

	return &Container{Header: h, Locators: locators}, nil
}

// verifyLocators checks that each locator's UUID and PackSize agree with
// the header of the sub-pack it points to.
func verifyLocators(r region.Region, locators []Locator) error {
	for _, l := range locators {
		sub, err := r.Slice(int64(l.PackOffset), int64(l.PackSize))
		if err != nil {
			return errors.Wrapf(err, "locator for pack %v points out of bounds", l.UUID)
		}

		subHeader, err := pack.OpenByHeader(sub)
		if err != nil {
			return errors.Wrapf(err, "locator for pack %v points at an invalid pack", l.UUID)
		}

		if subHeader.UUID != l.UUID {
			return errors.Errorf("locator UUID %v does not match pack UUID %v", l.UUID, subHeader.UUID)
		}

		if subHeader.PackSize != l.PackSize {
			return errors.Errorf("locator size %v does not match pack size %v for %v", l.PackSize, subHeader.PackSize, l.UUID)
		}
	}

	return nil
}

// SubRegion returns the Region for the sub-pack described by l.
func (c *Container) SubRegion(r region.Region, l Locator) (region.Region, error) {
	return r.Slice(int64(l.PackOffset), int64(l.PackSize))
}

// Find returns the locator for the given pack UUID, if present.
func (c *Container) Find(id uuid.UUID) (Locator, bool) {
	for _, l := range c.Locators {
		if l.UUID == id {
			return l, true
		}
	}

	return Locator{}, false
}

// EncodeLocatorTable serializes locators in order, for use by the writer.
func EncodeLocatorTable(locators []Locator) []byte {
	buf := make([]byte, 0, len(locators)*LocatorSize)
	for _, l := range locators {
		buf = append(buf, encodeLocator(l)...)
	}

	return buf
}
