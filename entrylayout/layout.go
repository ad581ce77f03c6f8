package entrylayout

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/jubako/jubako-go/format"
)

// ErrMalformedLayout is returned when a parsed layout fails one of its
// structural invariants (property widths not summing to entrySize, a
// variant-id property wider than one byte, and so on).
var ErrMalformedLayout = errors.New("malformed entry layout")

// Layout is the in-memory descriptor of an entry schema: a common part
// shared by every entry, an optional variant-id property, and one property
// list per variant tail. Every variant path (common + that variant's tail)
// sums to exactly EntrySize bytes.
type Layout struct {
	EntrySize int

	Common []Property

	// VariantIDOffset is the byte offset of the variant-id property within
	// the entry, or -1 if the layout has no variants.
	VariantIDOffset int

	// Variants holds one property list per variant tail. It is empty when
	// the layout is variant-free (VariantIDOffset == -1).
	Variants [][]Property
}

// VariantCount returns the number of variant tails.
func (l Layout) VariantCount() int { return len(l.Variants) }

// HasVariants reports whether the layout declares a variant-id property.
func (l Layout) HasVariants() bool { return l.VariantIDOffset >= 0 }

func assignOffsets(props []Property, start int) []Property {
	out := make([]Property, len(props))
	offset := start

	for i, p := range props {
		p.Offset = offset
		offset += p.entryWidth()
		out[i] = p
	}

	return out
}

func sumWidth(props []Property) int {
	total := 0
	for _, p := range props {
		total += p.entryWidth()
	}

	return total
}

// New validates and constructs a Layout from a common property list and,
// optionally, one property list per variant. Pass nil variants for a
// variant-free layout.
func New(common []Property, variants [][]Property) (Layout, error) {
	common = assignOffsets(common, 0)
	commonWidth := sumWidth(common)

	l := Layout{
		Common:          common,
		VariantIDOffset: -1,
	}

	if len(variants) == 0 {
		l.EntrySize = commonWidth
		return l, validateFixedSize(l)
	}

	variantIDWidth := 1 // the variant-id property itself, width fixed at 1 byte
	l.VariantIDOffset = commonWidth

	tailStart := commonWidth + variantIDWidth

	var entrySize = -1

	l.Variants = make([][]Property, len(variants))

	for i, tail := range variants {
		assigned := assignOffsets(tail, tailStart)
		l.Variants[i] = assigned

		size := tailStart + sumWidth(assigned)
		if entrySize == -1 {
			entrySize = size
		} else if size != entrySize {
			return Layout{}, errors.Wrapf(ErrMalformedLayout, "variant %v size %v does not match variant 0 size %v", i, size, entrySize)
		}
	}

	l.EntrySize = entrySize

	return l, nil
}

func validateFixedSize(l Layout) error {
	if l.EntrySize < 0 {
		return errors.Wrap(ErrMalformedLayout, "negative entry size")
	}

	return nil
}

// Encode serializes the layout to its self-describing binary form.
func (l Layout) Encode() ([]byte, error) {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(l.EntrySize))
	binary.LittleEndian.PutUint16(buf[4:6], uint16(len(l.Common)))
	buf[6] = byte(len(l.Variants))

	var err error

	for _, p := range l.Common {
		buf, err = p.encode(buf)
		if err != nil {
			return nil, err
		}
	}

	if l.HasVariants() {
		vidProp := Property{Type: TypeVariantID, Width: 1, Name: "$variant"}

		buf, err = vidProp.encode(buf)
		if err != nil {
			return nil, err
		}

		for _, tail := range l.Variants {
			countBuf := make([]byte, 2)
			binary.LittleEndian.PutUint16(countBuf, uint16(len(tail)))
			buf = append(buf, countBuf...)

			for _, p := range tail {
				buf, err = p.encode(buf)
				if err != nil {
					return nil, err
				}
			}
		}
	}

	return buf, nil
}

// Parse decodes a Layout from its self-describing binary form, validating
// invariant 5 (property widths sum to EntrySize along every variant path;
// the variant-id property, if present, is exactly one byte).
func Parse(buf []byte) (Layout, error) {
	if len(buf) < 8 {
		return Layout{}, errors.Wrap(ErrMalformedLayout, "header truncated")
	}

	entrySize := int(binary.LittleEndian.Uint32(buf[0:4]))
	commonCount := int(binary.LittleEndian.Uint16(buf[4:6]))
	variantCount := int(buf[6])

	pos := 8

	common := make([]Property, commonCount)

	for i := 0; i < commonCount; i++ {
		p, n, err := decodeProperty(buf[pos:])
		if err != nil {
			return Layout{}, errors.Wrapf(ErrMalformedLayout, "common property %v: %v", i, err)
		}

		common[i] = p
		pos += n
	}

	common = assignOffsets(common, 0)
	commonWidth := sumWidth(common)

	l := Layout{EntrySize: entrySize, Common: common, VariantIDOffset: -1}

	if variantCount == 0 {
		if commonWidth != entrySize {
			return Layout{}, errors.Wrapf(ErrMalformedLayout, "common width %v != entrySize %v", commonWidth, entrySize)
		}

		return l, nil
	}

	vid, n, err := decodeProperty(buf[pos:])
	if err != nil {
		return Layout{}, errors.Wrap(ErrMalformedLayout, "variant-id property")
	}

	pos += n

	if vid.Type != TypeVariantID || vid.Width != 1 {
		return Layout{}, errors.Wrapf(ErrMalformedLayout, "variant-id property must be exactly 1 byte, got type %v width %v", vid.Type, vid.Width)
	}

	l.VariantIDOffset = commonWidth
	tailStart := commonWidth + 1
	l.Variants = make([][]Property, variantCount)

	for v := 0; v < variantCount; v++ {
		if len(buf) < pos+2 {
			return Layout{}, errors.Wrap(ErrMalformedLayout, "variant tail count truncated")
		}

		tailCount := int(binary.LittleEndian.Uint16(buf[pos:]))
		pos += 2

		tail := make([]Property, tailCount)

		for i := 0; i < tailCount; i++ {
			p, n, err := decodeProperty(buf[pos:])
			if err != nil {
				return Layout{}, errors.Wrapf(ErrMalformedLayout, "variant %v property %v: %v", v, i, err)
			}

			tail[i] = p
			pos += n
		}

		tail = assignOffsets(tail, tailStart)

		size := tailStart + sumWidth(tail)
		if size != entrySize {
			return Layout{}, errors.Wrapf(ErrMalformedLayout, "variant %v size %v != entrySize %v", v, size, entrySize)
		}

		l.Variants[v] = tail
	}

	return l, nil
}

// VariantID reads the one-byte variant discriminator from an entry record.
func (l Layout) VariantID(entry []byte) (int, error) {
	if !l.HasVariants() {
		return 0, errors.New("layout has no variants")
	}

	if l.VariantIDOffset >= len(entry) {
		return 0, format.ErrTruncated
	}

	id := int(entry[l.VariantIDOffset])
	if id >= len(l.Variants) {
		return 0, errors.Errorf("illegal variant id %v (have %v variants)", id, len(l.Variants))
	}

	return id, nil
}

// PropertiesFor returns the common properties plus the tail for the given
// variant id (or just the common properties if the layout has no
// variants).
func (l Layout) PropertiesFor(variantID int) []Property {
	if !l.HasVariants() {
		return l.Common
	}

	all := make([]Property, 0, len(l.Common)+len(l.Variants[variantID]))
	all = append(all, l.Common...)
	all = append(all, l.Variants[variantID]...)

	return all
}
