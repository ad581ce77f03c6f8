// Package entrylayout implements the self-describing entry schema language:
// a flat list of typed properties (optionally split into a common part and
// variant tails) that together describe how to decode a fixed-size entry
// record. A Layout is parsed once from bytes into this in-memory
// descriptor; callers then Bind a Schema against it to get a Builder that
// decodes entries without re-interpreting the schema on every call.
package entrylayout

import (
	"github.com/pkg/errors"

	"github.com/jubako/jubako-go/format"
)

// Type is the high-nibble type tag of a property definition.
type Type byte

// Property type tags.
const (
	TypePadding         Type = 0x0
	TypeContentAddress  Type = 0x1
	TypeUnsignedInt     Type = 0x2
	TypeSignedInt       Type = 0x3
	TypeCharArray       Type = 0x5
	TypeVariantID       Type = 0x8
	TypeDeportedUnsigned Type = 0xA
	TypeDeportedSigned  Type = 0xB
)

func (t Type) String() string {
	switch t {
	case TypePadding:
		return "padding"
	case TypeContentAddress:
		return "content-address"
	case TypeUnsignedInt:
		return "uint"
	case TypeSignedInt:
		return "int"
	case TypeCharArray:
		return "char[]"
	case TypeVariantID:
		return "variant-id"
	case TypeDeportedUnsigned:
		return "deported-uint"
	case TypeDeportedSigned:
		return "deported-int"
	default:
		return "unknown"
	}
}

// needsComplement reports whether a property of this type carries the
// two-byte complement record (fixed_part_size/store_id for char[],
// key_width/store_id for deported ints, packIDWidth/contentIDWidth for
// content addresses).
func (t Type) needsComplement() bool {
	switch t {
	case TypeCharArray, TypeDeportedUnsigned, TypeDeportedSigned, TypeContentAddress:
		return true
	default:
		return false
	}
}

// Property is one entry in a layout's property list.
type Property struct {
	Type Type
	Name string

	// Width is the declared width nibble. For an inline integer it is the
	// number of bytes the property occupies within an entry record. For
	// deported/char[] properties this is the width of the key stored
	// inline (the value itself lives in a value store). For padding it is
	// the number of skipped bytes. A defaulted property may still declare
	// a Width but occupies no entry bytes, and a content address's entry
	// size comes from its complement; entryWidth gives the bytes actually
	// occupied.
	Width int

	// Complement carries the type-specific second byte pair: {fixed part
	// size, value-store id} for char[], {key width, value-store id} for
	// deported ints, {packId width, contentId width} for content
	// addresses.
	Complement [2]byte

	// HasDefault is set when the layout itself carries this property's
	// value and no bytes are consumed from the entry record.
	HasDefault   bool
	DefaultValue []byte

	// Offset is the byte offset of this property from the start of the
	// entry record (variant tail properties included). It is computed
	// when the layout is parsed or built, not stored on disk.
	Offset int
}

// ValueStoreID returns the deported value store id for char[] and deported
// int properties.
func (p Property) ValueStoreID() byte { return p.Complement[1] }

// KeyWidth returns the inline key width for char[] and deported int
// properties (how many entry bytes address the value store).
func (p Property) KeyWidth() byte { return p.Complement[0] }

// PackIDWidth and ContentIDWidth decompose a content-address property's
// complement.
func (p Property) PackIDWidth() int    { return int(p.Complement[0]) }
func (p Property) ContentIDWidth() int { return int(p.Complement[1]) }

// encode appends the on-disk form of p to buf.
func (p Property) encode(buf []byte) ([]byte, error) {
	if p.Width > 15 && p.Type != TypeContentAddress {
		return nil, errors.Errorf("property %q width %v does not fit in a nibble", p.Name, p.Width)
	}

	typeByte := byte(p.Type)<<4 | byte(p.Width&0xF)
	buf = append(buf, typeByte)

	flags := byte(0)
	if p.HasDefault {
		flags |= 0x1
	}

	buf = append(buf, flags)

	if p.Type.needsComplement() {
		buf = append(buf, p.Complement[0], p.Complement[1])
	}

	if p.HasDefault {
		if len(p.DefaultValue) > 255 {
			return nil, errors.Errorf("property %q default value too large", p.Name)
		}

		buf = append(buf, byte(len(p.DefaultValue)))
		buf = append(buf, p.DefaultValue...)
	}

	var err error

	buf, err = format.AppendPascalString(buf, p.Name)
	if err != nil {
		return nil, errors.Wrapf(err, "property %q name", p.Name)
	}

	return buf, nil
}

// decodeProperty parses one property definition from buf, returning the
// property and the number of bytes consumed.
func decodeProperty(buf []byte) (Property, int, error) {
	if len(buf) < 2 {
		return Property{}, 0, format.ErrTruncated
	}

	typeByte := buf[0]
	flags := buf[1]

	p := Property{
		Type:       Type(typeByte >> 4),
		Width:      int(typeByte & 0xF),
		HasDefault: flags&0x1 != 0,
	}

	pos := 2

	if p.Type.needsComplement() {
		if len(buf) < pos+2 {
			return Property{}, 0, format.ErrTruncated
		}

		p.Complement[0] = buf[pos]
		p.Complement[1] = buf[pos+1]
		pos += 2

		if p.Type == TypeContentAddress {
			// effective per-entry width is whichever of packId/contentId is
			// not layout-defaulted; callers interpret Width combined with
			// the complement, so leave Width as declared on disk.
		}
	}

	if p.HasDefault {
		if len(buf) < pos+1 {
			return Property{}, 0, format.ErrTruncated
		}

		n := int(buf[pos])
		pos++

		if len(buf) < pos+n {
			return Property{}, 0, format.ErrTruncated
		}

		p.DefaultValue = append([]byte{}, buf[pos:pos+n]...)
		pos += n
	}

	name, n, err := format.ReadPascalString(buf[pos:])
	if err != nil {
		return Property{}, 0, errors.Wrap(err, "property name")
	}

	p.Name = name
	pos += n

	return p, pos, nil
}

// entryWidth returns the number of bytes this property contributes to an
// entry record (0 if it is defaulted; the inline key width if it is
// deported).
//
// Content addresses are special: HasDefault there means only the packId
// half is layout-defaulted (per the default-packId optimization), so the
// entry still carries the contentId half. PackIDWidth/ContentIDWidth (not
// the HasDefault flag) determine how many bytes that leaves.
func (p Property) entryWidth() int {
	if p.Type == TypeContentAddress {
		return p.PackIDWidth() + p.ContentIDWidth()
	}

	if p.HasDefault {
		return 0
	}

	return p.Width
}
