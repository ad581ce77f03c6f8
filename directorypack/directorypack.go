// Package directorypack implements the directory pack: the sole entry
// layout, the entry store built from it, the deported value stores that
// layout's properties point into, and the named indexes used to look
// entries up by key.
package directorypack

import (
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/jubako/jubako-go/entrylayout"
	"github.com/jubako/jubako-go/entrystore"
	"github.com/jubako/jubako-go/format"
	"github.com/jubako/jubako-go/pack"
	"github.com/jubako/jubako-go/region"
	"github.com/jubako/jubako-go/valuestore"
)

// IndexInfo describes one named index over the pack's entry store.
type IndexInfo struct {
	Name           string
	FirstEntry     int
	EntryCount     int
	PrimaryKeyName string // empty if the index carries no ordering
	ValueStoreID   int    // -1 if the primary key is never deported
}

// Pack is a parsed directory pack.
type Pack struct {
	Header pack.Header
	Layout entrylayout.Layout

	// PackIDs maps the small packId a content-address property encodes
	// inline to the full pack UUID a reader must open.
	PackIDs     []uuid.UUID
	Entries     *entrystore.Store
	ValueStores []valuestore.Store
	Indexes     map[string]IndexInfo
}

// ResolvePackID looks up the full UUID behind a content address's local
// packId.
func (p *Pack) ResolvePackID(localID uint32) (uuid.UUID, bool) {
	if int(localID) >= len(p.PackIDs) {
		return uuid.UUID{}, false
	}

	return p.PackIDs[localID], true
}

// Get implements entrylayout.ValueStoreResolver and entrystore's deported
// primary-key resolution, dispatching on the value-store id carried by a
// property's complement byte.
func (p *Pack) Get(storeID byte, key uint64) ([]byte, error) {
	if int(storeID) >= len(p.ValueStores) {
		return nil, errors.Errorf("value store id %v out of range", storeID)
	}

	return p.ValueStores[storeID].Get(key)
}

// Index returns the fully-resolved Index for name.
func (p *Pack) Index(name string) (entrystore.Index, error) {
	info, ok := p.Indexes[name]
	if !ok {
		return entrystore.Index{}, errors.Errorf("no index named %q", name)
	}

	ix := entrystore.Index{
		Name:       info.Name,
		Store:      p.Entries,
		FirstEntry: info.FirstEntry,
		EntryCount: info.EntryCount,
		Stores:     p,
	}

	if info.PrimaryKeyName != "" {
		for _, prop := range p.Layout.Common {
			if prop.Name == info.PrimaryKeyName {
				pr := prop
				ix.PrimaryKeyProp = &pr

				break
			}
		}

		if ix.PrimaryKeyProp == nil {
			return entrystore.Index{}, errors.Errorf("index %q names unknown primary key property %q", name, info.PrimaryKeyName)
		}
	}

	return ix, nil
}

// Open parses a directory pack out of r.
func Open(r region.Region) (*Pack, error) {
	h, err := pack.OpenByHeader(r)
	if err != nil {
		return nil, err
	}

	if h.Kind != pack.KindDirectory {
		return nil, errors.Errorf("expected directory pack, got kind %v", h.Kind)
	}

	if err := pack.CheckIntegrity(r, h, nil); err != nil {
		return nil, err
	}

	pos := int64(pack.HeaderSize)

	packIDCount, err := r.ReadUint(pos, 2)
	if err != nil {
		return nil, err
	}

	pos += 2

	packIDs := make([]uuid.UUID, packIDCount)

	for i := range packIDs {
		var buf [16]byte
		if err := r.ReadAt(buf[:], pos); err != nil {
			return nil, errors.Wrap(err, "error reading pack id table")
		}

		copy(packIDs[i][:], buf[:])
		pos += 16
	}

	layoutLen, err := r.ReadUint(pos, 4)
	if err != nil {
		return nil, err
	}

	pos += 4

	layoutBuf := make([]byte, layoutLen)
	if err := r.ReadAt(layoutBuf, pos); err != nil {
		return nil, errors.Wrap(err, "error reading entry layout")
	}

	pos += int64(layoutLen)

	layout, err := entrylayout.Parse(layoutBuf)
	if err != nil {
		return nil, err
	}

	entryCount, err := r.ReadUint(pos, 4)
	if err != nil {
		return nil, err
	}

	pos += 4

	entryDataSize := entryCount * uint64(layout.EntrySize)

	entryRegion, err := r.Slice(pos, int64(entryDataSize))
	if err != nil {
		return nil, errors.Wrap(err, "error slicing entry store data")
	}

	pos += int64(entryDataSize)

	store, err := entrystore.Open(entryRegion, layout)
	if err != nil {
		return nil, err
	}

	valueStoreCountU, err := r.ReadUint(pos, 2)
	if err != nil {
		return nil, err
	}

	pos += 2

	valueStores := make([]valuestore.Store, valueStoreCountU)

	for i := range valueStores {
		kindByte, err := r.ReadUint(pos, 1)
		if err != nil {
			return nil, err
		}

		pos++

		tailOffset, err := r.ReadUint(pos, 8)
		if err != nil {
			return nil, err
		}

		pos += 8

		switch valuestore.Kind(kindByte) {
		case valuestore.KindPlain:
			s, err := valuestore.OpenPlain(r, int64(tailOffset))
			if err != nil {
				return nil, errors.Wrapf(err, "value store %v", i)
			}

			valueStores[i] = s
		case valuestore.KindIndexed:
			s, err := valuestore.OpenIndexed(r, int64(tailOffset))
			if err != nil {
				return nil, errors.Wrapf(err, "value store %v", i)
			}

			valueStores[i] = s
		default:
			return nil, errors.Errorf("unknown value store kind %v", kindByte)
		}
	}

	indexCountU, err := r.ReadUint(pos, 2)
	if err != nil {
		return nil, err
	}

	pos += 2

	indexes := make(map[string]IndexInfo, indexCountU)

	for i := uint64(0); i < indexCountU; i++ {
		var nameBuf [256]byte

		remaining := r.Size() - pos
		if remaining <= 0 {
			return nil, format.ErrTruncated
		}

		lim := int64(len(nameBuf))
		if remaining < lim {
			lim = remaining
		}

		if err := r.ReadAt(nameBuf[:lim], pos); err != nil {
			return nil, err
		}

		name, n, err := format.ReadPascalString(nameBuf[:lim])
		if err != nil {
			return nil, errors.Wrapf(err, "index %v name", i)
		}

		pos += int64(n)

		hasPK, err := r.ReadUint(pos, 1)
		if err != nil {
			return nil, err
		}

		pos++

		info := IndexInfo{Name: name, ValueStoreID: -1}

		if hasPK != 0 {
			if err := r.ReadAt(nameBuf[:lim], pos); err != nil {
				return nil, err
			}

			pkName, n, err := format.ReadPascalString(nameBuf[:lim])
			if err != nil {
				return nil, errors.Wrapf(err, "index %v primary key name", i)
			}

			pos += int64(n)
			info.PrimaryKeyName = pkName

			vsID, err := r.ReadUint(pos, 1)
			if err != nil {
				return nil, err
			}

			pos++
			info.ValueStoreID = int(int8(vsID))
		}

		firstEntry, err := r.ReadUint(pos, 4)
		if err != nil {
			return nil, err
		}

		pos += 4

		count, err := r.ReadUint(pos, 4)
		if err != nil {
			return nil, err
		}

		pos += 4

		info.FirstEntry = int(firstEntry)
		info.EntryCount = int(count)

		indexes[name] = info
	}

	return &Pack{
		Header:      h,
		Layout:      layout,
		PackIDs:     packIDs,
		Entries:     store,
		ValueStores: valueStores,
		Indexes:     indexes,
	}, nil
}
