package entrylayout

import (
	"github.com/pkg/errors"

	"github.com/jubako/jubako-go/format"
)

// Kind is the schema-side type a caller expects a named property to have.
// It is deliberately coarser than Type: a caller asks for "an unsigned
// integer" or "bytes" without caring about deportation, defaults, or
// variant placement -- the Builder resolves all of that once, at bind
// time.
type Kind int

// Schema-side property kinds.
const (
	KindUint Kind = iota
	KindInt
	KindBytes
	KindContentAddress
)

// SchemaProperty is one property a caller wants to read out of an entry.
type SchemaProperty struct {
	Name string
	Kind Kind
	// Width constrains the on-disk integer width in bytes; 0 means "accept
	// whatever width the layout declares". A schema that names an
	// explicit width incompatible with the layout's (e.g. asking for 2
	// bytes when the layout stores 4) is a bind-time error, never a silent
	// truncation.
	Width int
}

// Schema describes the properties a caller wants to decode. Variants is
// indexed the same way as the bound Layout's variant tails; pass nil if
// the caller only needs common properties, or match the layout's variant
// count to read variant tails too.
type Schema struct {
	Common   []SchemaProperty
	Variants [][]SchemaProperty
}

// accessPlan is the resolved, per-entry-free decode recipe for one
// property.
type accessPlan struct {
	prop Property
}

// Builder is a schema bound against a specific Layout: a flat, precomputed
// map from property name to its access plan, with one map per variant so
// Get never re-walks the layout.
type Builder struct {
	layout Layout
	common map[string]accessPlan
	tails  []map[string]accessPlan
}

// ValueStoreResolver dereferences a deported value given the store id
// carried by a char[] or deported-int property.
type ValueStoreResolver interface {
	Get(storeID byte, key uint64) ([]byte, error)
}

// Bind validates schema against layout and precomputes a Builder. It
// rejects, rather than silently truncating, any schema property whose
// declared width or kind is incompatible with what the layout actually
// stores.
func Bind(layout Layout, schema Schema) (*Builder, error) {
	b := &Builder{layout: layout}

	common, err := bindProperties(layout.Common, schema.Common)
	if err != nil {
		return nil, errors.Wrap(err, "binding common properties")
	}

	b.common = common

	if len(schema.Variants) > 0 {
		if len(schema.Variants) != len(layout.Variants) {
			return nil, errors.Errorf("schema declares %v variants, layout has %v", len(schema.Variants), len(layout.Variants))
		}

		b.tails = make([]map[string]accessPlan, len(layout.Variants))

		for i, tail := range layout.Variants {
			m, err := bindProperties(tail, schema.Variants[i])
			if err != nil {
				return nil, errors.Wrapf(err, "binding variant %v properties", i)
			}

			b.tails[i] = m
		}
	}

	return b, nil
}

func bindProperties(layoutProps []Property, wanted []SchemaProperty) (map[string]accessPlan, error) {
	byName := make(map[string]Property, len(layoutProps))
	for _, p := range layoutProps {
		byName[p.Name] = p
	}

	out := make(map[string]accessPlan, len(wanted))

	for _, w := range wanted {
		p, ok := byName[w.Name]
		if !ok {
			return nil, errors.Errorf("layout has no property named %q", w.Name)
		}

		if err := checkKind(p, w); err != nil {
			return nil, errors.Wrapf(err, "property %q", w.Name)
		}

		out[w.Name] = accessPlan{prop: p}
	}

	return out, nil
}

func checkKind(p Property, w SchemaProperty) error {
	switch w.Kind {
	case KindUint:
		if p.Type != TypeUnsignedInt && p.Type != TypeDeportedUnsigned {
			return errors.Errorf("layout type %v is not an unsigned integer", p.Type)
		}
	case KindInt:
		if p.Type != TypeSignedInt && p.Type != TypeDeportedSigned {
			return errors.Errorf("layout type %v is not a signed integer", p.Type)
		}
	case KindBytes:
		if p.Type != TypeCharArray {
			return errors.Errorf("layout type %v is not a byte array", p.Type)
		}
	case KindContentAddress:
		if p.Type != TypeContentAddress {
			return errors.Errorf("layout type %v is not a content address", p.Type)
		}
	default:
		return errors.Errorf("unknown schema kind %v", w.Kind)
	}

	// A schema that pins an exact width must match the layout precisely:
	// we never truncate or zero-extend to make an incompatible width fit.
	if w.Width != 0 && !p.HasDefault && p.Width != w.Width {
		return errors.Errorf("schema requests width %v but layout declares width %v", w.Width, p.Width)
	}

	return nil
}

// ContentAddress is a resolved (packId, contentId) pair.
type ContentAddress struct {
	PackID    uint32
	ContentID uint32
}

// planFor returns the access plan for name, dispatching to the variant
// tail named by variantID when the property isn't in the common part.
func (b *Builder) planFor(name string, variantID int) (accessPlan, error) {
	if p, ok := b.common[name]; ok {
		return p, nil
	}

	if variantID >= 0 && variantID < len(b.tails) {
		if p, ok := b.tails[variantID][name]; ok {
			return p, nil
		}
	}

	return accessPlan{}, errors.Errorf("property %q not bound for this entry's variant", name)
}

// VariantID returns the variant discriminator for entry, or 0 if the
// layout has no variants.
func (b *Builder) VariantID(entry []byte) (int, error) {
	if !b.layout.HasVariants() {
		return 0, nil
	}

	return b.layout.VariantID(entry)
}

// GetUint decodes an unsigned integer property from entry.
func (b *Builder) GetUint(entry []byte, variantID int, name string, stores ValueStoreResolver) (uint64, error) {
	plan, err := b.planFor(name, variantID)
	if err != nil {
		return 0, err
	}

	p := plan.prop

	if p.HasDefault {
		v, err := format.GetUint(p.DefaultValue, len(p.DefaultValue))
		return v, err
	}

	if p.Type == TypeDeportedUnsigned {
		return b.getDeportedUint(entry, p, stores)
	}

	return readEntryUint(entry, p)
}

// GetInt decodes a signed integer property from entry (two's complement,
// sign-extended from its stored width).
func (b *Builder) GetInt(entry []byte, variantID int, name string, stores ValueStoreResolver) (int64, error) {
	plan, err := b.planFor(name, variantID)
	if err != nil {
		return 0, err
	}

	p := plan.prop

	if p.HasDefault {
		v, err := format.GetUint(p.DefaultValue, len(p.DefaultValue))
		return signExtend(v, len(p.DefaultValue)), err
	}

	if p.Type == TypeDeportedSigned {
		key, err := readKey(entry, p)
		if err != nil {
			return 0, err
		}

		raw, err := stores.Get(p.ValueStoreID(), key)
		if err != nil {
			return 0, errors.Wrapf(err, "resolving deported property %q", p.Name)
		}

		v, err := format.GetUint(raw, len(raw))

		return signExtend(v, len(raw)), err
	}

	raw, err := readEntryUint(entry, p)
	if err != nil {
		return 0, err
	}

	return signExtend(raw, p.Width), nil
}

func signExtend(v uint64, width int) int64 {
	if width <= 0 || width >= 8 {
		return int64(v)
	}

	shift := uint(64 - width*8)
	return int64(v<<shift) >> shift
}

func readEntryUint(entry []byte, p Property) (uint64, error) {
	if p.Offset+p.Width > len(entry) {
		return 0, format.ErrTruncated
	}

	return format.GetUint(entry[p.Offset:p.Offset+p.Width], p.Width)
}

func (b *Builder) getDeportedUint(entry []byte, p Property, stores ValueStoreResolver) (uint64, error) {
	key, err := readKey(entry, p)
	if err != nil {
		return 0, err
	}

	raw, err := stores.Get(p.ValueStoreID(), key)
	if err != nil {
		return 0, errors.Wrapf(err, "resolving deported property %q", p.Name)
	}

	return format.GetUint(raw, len(raw))
}

func readKey(entry []byte, p Property) (uint64, error) {
	width := int(p.KeyWidth())
	if p.Offset+width > len(entry) {
		return 0, format.ErrTruncated
	}

	return format.GetUint(entry[p.Offset:p.Offset+width], width)
}

// GetBytes decodes a char[] (deported byte array) property, resolving it
// through stores.
func (b *Builder) GetBytes(entry []byte, variantID int, name string, stores ValueStoreResolver) ([]byte, error) {
	plan, err := b.planFor(name, variantID)
	if err != nil {
		return nil, err
	}

	p := plan.prop

	if p.HasDefault {
		return p.DefaultValue, nil
	}

	key, err := readKey(entry, p)
	if err != nil {
		return nil, err
	}

	raw, err := stores.Get(p.ValueStoreID(), key)
	if err != nil {
		return nil, errors.Wrapf(err, "resolving property %q", p.Name)
	}

	return raw, nil
}

// GetContentAddress decodes a content-address property. If the layout
// stored a default packId (PackIDWidth()==0), it is read from the
// property's default value instead of the entry.
func (b *Builder) GetContentAddress(entry []byte, variantID int, name string) (ContentAddress, error) {
	plan, err := b.planFor(name, variantID)
	if err != nil {
		return ContentAddress{}, err
	}

	p := plan.prop

	off := p.Offset

	var packID uint32

	if p.PackIDWidth() == 0 {
		if len(p.DefaultValue) < 4 {
			return ContentAddress{}, errors.Errorf("content address %q missing default packId", p.Name)
		}

		v, err := format.GetUint(p.DefaultValue, 4)
		if err != nil {
			return ContentAddress{}, err
		}

		packID = uint32(v)
	} else {
		v, err := format.GetUint(entry[off:off+p.PackIDWidth()], p.PackIDWidth())
		if err != nil {
			return ContentAddress{}, err
		}

		packID = uint32(v)
		off += p.PackIDWidth()
	}

	v, err := format.GetUint(entry[off:off+p.ContentIDWidth()], p.ContentIDWidth())
	if err != nil {
		return ContentAddress{}, err
	}

	return ContentAddress{PackID: packID, ContentID: uint32(v)}, nil
}
