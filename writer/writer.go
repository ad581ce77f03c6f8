// Package writer implements the writer orchestrator: accept a schema,
// stream blobs into a content pack, accumulate entries into value stores
// and a single entry store, sort the indexes that declare a primary key,
// and finalize every pack (content, directory, manifest, and optionally a
// container) in one pass.
package writer

import (
	"bytes"
	"context"
	"io"
	"sort"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/jubako/jubako-go/cluster"
	"github.com/jubako/jubako-go/containerpack"
	"github.com/jubako/jubako-go/contentpack"
	"github.com/jubako/jubako-go/directorypack"
	"github.com/jubako/jubako-go/entrylayout"
	"github.com/jubako/jubako-go/format"
	"github.com/jubako/jubako-go/internal/clock"
	"github.com/jubako/jubako-go/internal/gather"
	"github.com/jubako/jubako-go/internal/logging"
	"github.com/jubako/jubako-go/manifestpack"
	"github.com/jubako/jubako-go/pack"
	"github.com/jubako/jubako-go/valuestore"
)

// FieldKind is the schema-side shape of one entry field, in terms a caller
// already knows, leaving the on-disk representation (inline width,
// deportation, defaulting) to the builder.
type FieldKind int

// Field kinds a caller may declare.
const (
	FieldUint FieldKind = iota
	FieldInt
	FieldBytes
	FieldContentAddress
)

// FieldSpec describes one named field of an entry schema.
type FieldSpec struct {
	Name string
	Kind FieldKind

	// Width is the inline byte width: for Uint/Int, the property's stored
	// width; for Bytes, the key width addressing its value store. Ignored
	// for ContentAddress.
	Width int

	// ValueStore selects, by id (as returned from AddValueStore), which
	// value store a Bytes field deports into.
	ValueStore byte

	// Default, when non-nil, makes the field layout-defaulted: every
	// entry takes this exact value and the record carries zero bytes for
	// it. AddEntry does not read a value for a defaulted field: one that
	// is supplied is ignored, not compared with Default.
	Default []byte

	// PackIDWidth/ContentIDWidth size a ContentAddress field's halves.
	// PackIDWidth == 0 means every entry shares DefaultPackID and the
	// record only carries the content id.
	PackIDWidth    int
	ContentIDWidth int
	DefaultPackID  uint32
}

// Schema describes the fields a writer will accept per entry. Variants is
// nil for a variant-free layout.
type Schema struct {
	Common   []FieldSpec
	Variants [][]FieldSpec
}

// IndexSpec describes one named index a caller wants recorded over the
// finished entry store. When PrimaryKey is set, Builder sorts the entire
// entry store by that field before finalizing (the writer supports at most
// one index whose primary key actually reorders the store; additional
// indexes may name an empty PrimaryKey to ride along unsorted).
type IndexSpec struct {
	Name       string
	PrimaryKey string // common-part field name, or "" for no ordering
}

// ContentAddressValue is the value an AddEntry caller supplies for a
// FieldContentAddress field.
type ContentAddressValue struct {
	PackID    uint32
	ContentID uint32
}

type valueStoreAccum struct {
	builder *valuestore.Builder
	values  [][]byte // values[ordinal], populated in AddEntry as new ordinals appear
}

func newValueStoreAccum() *valueStoreAccum {
	return &valueStoreAccum{builder: valuestore.NewBuilder()}
}

func (a *valueStoreAccum) add(v []byte) uint64 {
	ord := a.builder.Add(v)
	if int(ord) == len(a.values) {
		a.values = append(a.values, v)
	}

	return ord
}

// Builder accumulates blobs and entries for one archive (one content pack,
// one directory pack, sealed together under one manifest).
type Builder struct {
	logger      logging.Logger
	appVendorID uint32

	content *contentpack.Builder

	schema Schema
	layout entrylayout.Layout

	entries [][]byte // raw, fixed-size entry records, in insertion order

	valueStores []*valueStoreAccum
	indexes     []IndexSpec
}

// NewBuilder starts a writer for the given schema, compressing content
// pack clusters with codec.
func NewBuilder(appVendorID uint32, codec cluster.Codec, schema Schema, logger logging.Logger) (*Builder, error) {
	if logger == nil {
		logger = logging.GetLogger(context.Background())
	}

	layout, err := buildLayout(schema)
	if err != nil {
		return nil, err
	}

	return &Builder{
		logger:      logger,
		appVendorID: appVendorID,
		content:     contentpack.NewBuilder(appVendorID, codec),
		schema:      schema,
		layout:      layout,
	}, nil
}

func buildLayout(schema Schema) (entrylayout.Layout, error) {
	common, err := fieldsToProperties(schema.Common)
	if err != nil {
		return entrylayout.Layout{}, errors.Wrap(err, "common fields")
	}

	var variants [][]entrylayout.Property

	if len(schema.Variants) > 0 {
		variants = make([][]entrylayout.Property, len(schema.Variants))

		for i, v := range schema.Variants {
			props, err := fieldsToProperties(v)
			if err != nil {
				return entrylayout.Layout{}, errors.Wrapf(err, "variant %v fields", i)
			}

			variants[i] = props
		}
	}

	return entrylayout.New(common, variants)
}

func fieldsToProperties(fields []FieldSpec) ([]entrylayout.Property, error) {
	props := make([]entrylayout.Property, 0, len(fields))

	for _, f := range fields {
		p := entrylayout.Property{Name: f.Name, HasDefault: f.Default != nil, DefaultValue: f.Default}

		switch f.Kind {
		case FieldUint:
			p.Type = entrylayout.TypeUnsignedInt
			p.Width = f.Width
		case FieldInt:
			p.Type = entrylayout.TypeSignedInt
			p.Width = f.Width
		case FieldBytes:
			p.Type = entrylayout.TypeCharArray
			p.Width = f.Width
			p.Complement = [2]byte{byte(f.Width), f.ValueStore}
		case FieldContentAddress:
			p.Type = entrylayout.TypeContentAddress
			p.Complement = [2]byte{byte(f.PackIDWidth), byte(f.ContentIDWidth)}

			if f.PackIDWidth == 0 {
				p.HasDefault = true
				p.DefaultValue = format.AppendUint(nil, 4, uint64(f.DefaultPackID))
			}
		default:
			return nil, errors.Errorf("field %q has unknown kind %v", f.Name, f.Kind)
		}

		props = append(props, p)
	}

	return props, nil
}

// AddValueStore registers a new deported-value store, returning the id
// FieldSpec.ValueStore and AddEntry byte values expect.
func (b *Builder) AddValueStore() byte {
	b.valueStores = append(b.valueStores, newValueStoreAccum())
	return byte(len(b.valueStores) - 1)
}

// AddIndex records a named index to emit over the finished entry store.
func (b *Builder) AddIndex(spec IndexSpec) {
	b.indexes = append(b.indexes, spec)
}

// AddBlob streams one blob into the content pack, returning the content id
// a ContentAddress field should reference.
func (b *Builder) AddBlob(blob []byte) (uint32, error) {
	return b.content.AddBlob(blob)
}

// AddBlobFromReader drains r into a reusable accumulation buffer and adds
// the result as one blob, for callers that have a stream rather than an
// already-materialized slice (mirroring the teacher's own
// fetch-into-gather.WriteBuffer pattern for an unsized input).
func (b *Builder) AddBlobFromReader(r io.Reader) (uint32, error) {
	var buf gather.WriteBuffer

	if _, err := io.Copy(&buf, r); err != nil {
		return 0, errors.Wrap(err, "reading blob")
	}

	return b.AddBlob(buf.Bytes().ToByteSlice())
}

// AddEntry encodes one entry from named field values and appends it to the
// entry store. variantID selects the variant tail (ignored for a
// variant-free schema). values must supply every non-defaulted field
// declared for the common part plus, when applicable, the chosen variant.
func (b *Builder) AddEntry(variantID int, values map[string]interface{}) (int, error) {
	entry := make([]byte, b.layout.EntrySize)

	if b.layout.HasVariants() {
		if variantID < 0 || variantID >= len(b.schema.Variants) {
			return 0, errors.Errorf("variant id %v out of range", variantID)
		}

		entry[b.layout.VariantIDOffset] = byte(variantID)
	}

	if err := b.encodeFields(entry, b.schema.Common, b.layout.Common, values); err != nil {
		return 0, errors.Wrap(err, "encoding common fields")
	}

	if b.layout.HasVariants() {
		if err := b.encodeFields(entry, b.schema.Variants[variantID], b.layout.Variants[variantID], values); err != nil {
			return 0, errors.Wrapf(err, "encoding variant %v fields", variantID)
		}
	}

	pos := len(b.entries)
	b.entries = append(b.entries, entry)

	return pos, nil
}

func (b *Builder) encodeFields(entry []byte, fields []FieldSpec, props []entrylayout.Property, values map[string]interface{}) error {
	for i, f := range fields {
		p := props[i]
		if p.HasDefault && p.Type != entrylayout.TypeContentAddress {
			continue
		}

		v, ok := values[f.Name]
		if !ok {
			return errors.Errorf("missing value for field %q", f.Name)
		}

		switch f.Kind {
		case FieldUint:
			u, ok := v.(uint64)
			if !ok {
				return errors.Errorf("field %q expects a uint64", f.Name)
			}

			format.PutUint(entry[p.Offset:p.Offset+p.Width], p.Width, u)
		case FieldInt:
			s, ok := v.(int64)
			if !ok {
				return errors.Errorf("field %q expects an int64", f.Name)
			}

			format.PutUint(entry[p.Offset:p.Offset+p.Width], p.Width, uint64(s))
		case FieldBytes:
			raw, ok := v.([]byte)
			if !ok {
				return errors.Errorf("field %q expects []byte", f.Name)
			}

			if int(p.ValueStoreID()) >= len(b.valueStores) {
				return errors.Errorf("field %q names unknown value store %v", f.Name, p.ValueStoreID())
			}

			ord := b.valueStores[p.ValueStoreID()].add(raw)
			format.PutUint(entry[p.Offset:p.Offset+int(p.KeyWidth())], int(p.KeyWidth()), ord)
		case FieldContentAddress:
			ca, ok := v.(ContentAddressValue)
			if !ok {
				return errors.Errorf("field %q expects a ContentAddressValue", f.Name)
			}

			off := p.Offset

			if p.PackIDWidth() > 0 {
				format.PutUint(entry[off:off+p.PackIDWidth()], p.PackIDWidth(), uint64(ca.PackID))
				off += p.PackIDWidth()
			}

			format.PutUint(entry[off:off+p.ContentIDWidth()], p.ContentIDWidth(), uint64(ca.ContentID))
		}
	}

	return nil
}

// sortByPrimaryKey stably reorders b.entries ascending by field's value,
// mirroring entrystore.Index's comparison rules (lexicographic for
// deported bytes, numeric with a sign-bit flip for signed integers).
func (b *Builder) sortByPrimaryKey(fieldName string) error {
	var prop *entrylayout.Property

	for i, p := range b.layout.Common {
		if p.Name == fieldName {
			prop = &b.layout.Common[i]
			break
		}
	}

	if prop == nil {
		return errors.Errorf("no common field named %q to sort by", fieldName)
	}

	keys := make([][]byte, len(b.entries))

	for i, e := range b.entries {
		k, err := b.primaryKeyBytes(*prop, e)
		if err != nil {
			return errors.Wrapf(err, "entry %v", i)
		}

		keys[i] = k
	}

	order := make([]int, len(b.entries))
	for i := range order {
		order[i] = i
	}

	sort.SliceStable(order, func(i, j int) bool {
		return bytes.Compare(keys[order[i]], keys[order[j]]) < 0
	})

	sorted := make([][]byte, len(b.entries))
	for i, idx := range order {
		sorted[i] = b.entries[idx]
	}

	b.entries = sorted

	return nil
}

func (b *Builder) primaryKeyBytes(p entrylayout.Property, entry []byte) ([]byte, error) {
	switch p.Type {
	case entrylayout.TypeCharArray:
		width := int(p.KeyWidth())

		ord, err := format.GetUint(entry[p.Offset:p.Offset+width], width)
		if err != nil {
			return nil, err
		}

		vs := b.valueStores[p.ValueStoreID()]
		if int(ord) >= len(vs.values) {
			return nil, errors.Errorf("primary key ordinal %v out of range", ord)
		}

		return vs.values[ord], nil
	case entrylayout.TypeUnsignedInt, entrylayout.TypeSignedInt:
		v, err := format.GetUint(entry[p.Offset:p.Offset+p.Width], p.Width)
		if err != nil {
			return nil, err
		}

		return numericCompareKey(v, p.Width, p.Type == entrylayout.TypeSignedInt), nil
	default:
		return nil, errors.Errorf("property type %v cannot be used as a primary key", p.Type)
	}
}

func numericCompareKey(v uint64, width int, signed bool) []byte {
	if signed {
		v ^= uint64(1) << uint(width*8-1)
	}

	out := make([]byte, width)
	for i := width - 1; i >= 0; i-- {
		out[i] = byte(v)
		v >>= 8
	}

	return out
}

// Result is everything Finish produced: the three (or four, with a
// container) sealed pack images, ready for a caller to write to disk or
// concatenate.
type Result struct {
	Content   []byte
	Directory []byte
	Manifest  []byte
	Container []byte // empty unless Finish was asked to build one
}

// FinishOptions controls how Finish seals the archive.
type FinishOptions struct {
	ContentPackID   uuid.UUID
	DirectoryPackID uuid.UUID
	ManifestPackID  uuid.UUID

	// BuildContainer, when true, additionally concatenates the three
	// sealed packs into one container pack under ContainerPackID.
	BuildContainer  bool
	ContainerPackID uuid.UUID
}

// Finish sorts every index with a primary key, then seals the content
// pack, directory pack and manifest pack (and, optionally, a container).
func (b *Builder) Finish(opts FinishOptions) (*Result, error) {
	sorted := false

	for _, ix := range b.indexes {
		if ix.PrimaryKey == "" {
			continue
		}

		if sorted {
			return nil, errors.New("writer supports at most one sort-bearing index per entry store")
		}

		if err := b.sortByPrimaryKey(ix.PrimaryKey); err != nil {
			return nil, errors.Wrapf(err, "sorting index %q", ix.Name)
		}

		sorted = true
	}

	contentImage, err := b.content.Finish(opts.ContentPackID)
	if err != nil {
		return nil, errors.Wrap(err, "sealing content pack")
	}

	contentHeader, err := pack.DecodeHeader(contentImage[:pack.HeaderSize])
	if err != nil {
		return nil, err
	}

	dirBuilder, err := directorypack.NewBuilder(b.appVendorID, b.layout, concatEntries(b.entries))
	if err != nil {
		return nil, errors.Wrap(err, "starting directory pack")
	}

	dirBuilder.AddPackID(opts.ContentPackID)

	for _, vs := range b.valueStores {
		data, tail := vs.builder.Build()
		dirBuilder.AddValueStore(directorypack.ValueStoreSpec{Kind: valuestore.KindIndexed, Data: data, Tail: tail})
	}

	for _, ix := range b.indexes {
		spec := directorypack.IndexSpec{
			Name:         ix.Name,
			FirstEntry:   0,
			EntryCount:   len(b.entries),
			ValueStoreID: -1,
		}

		if ix.PrimaryKey != "" {
			spec.PrimaryKeyName = ix.PrimaryKey

			for _, p := range b.layout.Common {
				if p.Name == ix.PrimaryKey && p.Type == entrylayout.TypeCharArray {
					spec.ValueStoreID = int(p.ValueStoreID())
				}
			}
		}

		dirBuilder.AddIndex(spec)
	}

	directoryImage, err := dirBuilder.Finish(opts.DirectoryPackID)
	if err != nil {
		return nil, errors.Wrap(err, "sealing directory pack")
	}

	directoryHeader, err := pack.DecodeHeader(directoryImage[:pack.HeaderSize])
	if err != nil {
		return nil, err
	}

	manifestBuilder := manifestpack.NewBuilder(b.appVendorID)
	manifestBuilder.Add(manifestpack.PackInfo{Kind: pack.KindContent, PackID: 0, UUID: contentHeader.UUID, PackSize: contentHeader.PackSize})
	manifestBuilder.Add(manifestpack.PackInfo{Kind: pack.KindDirectory, PackID: 1, UUID: directoryHeader.UUID, PackSize: directoryHeader.PackSize})

	manifestImage, err := manifestBuilder.Finish(opts.ManifestPackID)
	if err != nil {
		return nil, errors.Wrap(err, "sealing manifest pack")
	}

	result := &Result{Content: contentImage, Directory: directoryImage, Manifest: manifestImage}

	if opts.BuildContainer {
		container, err := containerpack.Build(b.appVendorID, opts.ContainerPackID, [][]byte{manifestImage, contentImage, directoryImage})
		if err != nil {
			return nil, errors.Wrap(err, "building container")
		}

		result.Container = container
	}

	b.logger.Infof("sealed archive at %v: %v entries, %v clusters, %v value stores", clock.Now(), len(b.entries), b.content.ClusterCountHint(), len(b.valueStores))

	return result, nil
}

func concatEntries(entries [][]byte) []byte {
	if len(entries) == 0 {
		return nil
	}

	out := make([]byte, 0, len(entries)*len(entries[0]))
	for _, e := range entries {
		out = append(out, e...)
	}

	return out
}
