package directorypack

import (
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/jubako/jubako-go/entrylayout"
	"github.com/jubako/jubako-go/format"
	"github.com/jubako/jubako-go/pack"
	"github.com/jubako/jubako-go/region"
	"github.com/jubako/jubako-go/valuestore"
)

// ValueStoreSpec is one value store to embed in the pack, already
// serialized by its own builder (valuestore.EncodePlain/EncodePlainTail or
// valuestore.Builder.Build).
type ValueStoreSpec struct {
	Kind valuestore.Kind
	Data []byte
	Tail []byte
}

// IndexSpec describes one named index to record in the pack.
type IndexSpec struct {
	Name           string
	FirstEntry     int
	EntryCount     int
	PrimaryKeyName string
	ValueStoreID   int // -1 if unused
}

// Builder assembles a complete directory pack image from an already-built
// layout, entry store bytes, value stores and index descriptors.
type Builder struct {
	appVendorID uint32
	layout      entrylayout.Layout
	packIDs     []uuid.UUID
	entryData   []byte
	entryCount  int
	valueStores []ValueStoreSpec
	indexes     []IndexSpec
}

// NewBuilder starts a directory pack builder for the given layout and raw
// entry store bytes (entryCount * layout.EntrySize bytes, already
// produced by whatever wrote the entries).
func NewBuilder(appVendorID uint32, layout entrylayout.Layout, entryData []byte) (*Builder, error) {
	if layout.EntrySize <= 0 || len(entryData)%layout.EntrySize != 0 {
		return nil, errors.New("entry data size is not a multiple of the layout's entry size")
	}

	return &Builder{
		appVendorID: appVendorID,
		layout:      layout,
		entryData:   entryData,
		entryCount:  len(entryData) / layout.EntrySize,
	}, nil
}

// AddPackID records a content pack UUID, returning the small local packId
// a content-address property should encode inline.
func (b *Builder) AddPackID(id uuid.UUID) uint32 {
	b.packIDs = append(b.packIDs, id)
	return uint32(len(b.packIDs) - 1)
}

// AddValueStore appends a value store, returning its id for use in
// IndexSpec.ValueStoreID and as a property's ValueStoreID complement.
func (b *Builder) AddValueStore(spec ValueStoreSpec) byte {
	b.valueStores = append(b.valueStores, spec)
	return byte(len(b.valueStores) - 1)
}

// AddIndex records a named index over the entry store.
func (b *Builder) AddIndex(spec IndexSpec) {
	b.indexes = append(b.indexes, spec)
}

// Finish assembles the complete directory pack image.
func (b *Builder) Finish(id uuid.UUID) ([]byte, error) {
	layoutBytes, err := b.layout.Encode()
	if err != nil {
		return nil, err
	}

	body := format.AppendUint(nil, 2, uint64(len(b.packIDs)))

	for _, pid := range b.packIDs {
		body = append(body, pid[:]...)
	}

	body = format.AppendUint(body, 4, uint64(len(layoutBytes)))
	body = append(body, layoutBytes...)
	body = format.AppendUint(body, 4, uint64(b.entryCount))
	body = append(body, b.entryData...)

	body = format.AppendUint(body, 2, uint64(len(b.valueStores)))

	// placeholders for the (kind, tailOffset) pairs; patched once each
	// store's actual tail offset is known.
	pointerTableStart := len(body)
	body = append(body, make([]byte, len(b.valueStores)*9)...)

	for i, spec := range b.valueStores {
		body = append(body, spec.Data...)

		tailOffset := pack.HeaderSize + len(body)

		body = append(body, spec.Tail...)

		entryOff := pointerTableStart + i*9
		body[entryOff] = byte(spec.Kind)
		format.PutUint(body[entryOff+1:], 8, uint64(tailOffset))
	}

	body = format.AppendUint(body, 2, uint64(len(b.indexes)))

	for _, spec := range b.indexes {
		var err error

		body, err = format.AppendPascalString(body, spec.Name)
		if err != nil {
			return nil, err
		}

		if spec.PrimaryKeyName != "" {
			body = append(body, 1)

			body, err = format.AppendPascalString(body, spec.PrimaryKeyName)
			if err != nil {
				return nil, err
			}

			body = append(body, byte(int8(spec.ValueStoreID)))
		} else {
			body = append(body, 0)
		}

		body = format.AppendUint(body, 4, uint64(spec.FirstEntry))
		body = format.AppendUint(body, 4, uint64(spec.EntryCount))
	}

	checkInfoPos := uint64(pack.HeaderSize + len(body))
	checkTailSize := uint64(1 + pack.Blake3DigestSize)
	packSize := checkInfoPos + checkTailSize + pack.HeaderSize

	h := pack.Header{
		Kind:         pack.KindDirectory,
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

	digest, err := pack.ComputeBlake3(region.FromBuffer(full), int64(checkInfoPos), nil)
	if err != nil {
		return nil, err
	}

	full = append(full, pack.EncodeCheckTailBlake3(digest)...)

	tail := h.Tail()
	full = append(full, tail[:]...)

	return full, nil
}
