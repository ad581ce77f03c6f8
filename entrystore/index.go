package entrystore

import (
	"bytes"
	"sort"

	"github.com/pkg/errors"

	"github.com/jubako/jubako-go/entrylayout"
	"github.com/jubako/jubako-go/format"
)

// Index is a named, windowed view over an entry store. When PrimaryKeyProp
// is non-nil, entries [FirstEntry, FirstEntry+EntryCount) are expected to
// be sorted ascending by that property, which makes LocateByKey a binary
// search instead of a linear scan.
type Index struct {
	Name       string
	Store      *Store
	FirstEntry int
	EntryCount int

	// PrimaryKeyProp is nil when the index carries no ordering guarantee
	// (position 0, per the format).
	PrimaryKeyProp *entrylayout.Property

	// Stores resolves deported properties (e.g. a char[] primary key) for
	// comparison. It may be nil if the primary key is never deported.
	Stores entrylayout.ValueStoreResolver
}

// entryKeyBytes extracts the comparable byte representation of an entry's
// primary key, resolving through Stores when the property is deported.
func (ix Index) entryKeyBytes(entry []byte) ([]byte, error) {
	p := *ix.PrimaryKeyProp

	switch p.Type {
	case entrylayout.TypeCharArray:
		width := int(p.KeyWidth())
		if p.Offset+width > len(entry) {
			return nil, format.ErrTruncated
		}

		key, err := format.GetUint(entry[p.Offset:p.Offset+width], width)
		if err != nil {
			return nil, err
		}

		if ix.Stores == nil {
			return nil, errors.New("index has a deported primary key but no value store resolver")
		}

		return ix.Stores.Get(p.ValueStoreID(), key)
	case entrylayout.TypeUnsignedInt, entrylayout.TypeSignedInt:
		if p.Offset+p.Width > len(entry) {
			return nil, format.ErrTruncated
		}

		// keep the natural byte order: big-endian re-encode so
		// bytes.Compare matches numeric order, including for signed
		// values via a sign-flip of the top bit.
		v, err := format.GetUint(entry[p.Offset:p.Offset+p.Width], p.Width)
		if err != nil {
			return nil, err
		}

		return numericCompareKey(v, p.Width, p.Type == entrylayout.TypeSignedInt), nil
	case entrylayout.TypeDeportedUnsigned, entrylayout.TypeDeportedSigned:
		width := int(p.KeyWidth())
		if p.Offset+width > len(entry) {
			return nil, format.ErrTruncated
		}

		storeKey, err := format.GetUint(entry[p.Offset:p.Offset+width], width)
		if err != nil {
			return nil, err
		}

		if ix.Stores == nil {
			return nil, errors.New("index has a deported primary key but no value store resolver")
		}

		raw, err := ix.Stores.Get(p.ValueStoreID(), storeKey)
		if err != nil {
			return nil, err
		}

		v, err := format.GetUint(raw, len(raw))
		if err != nil {
			return nil, err
		}

		return numericCompareKey(v, len(raw), p.Type == entrylayout.TypeDeportedSigned), nil
	default:
		return nil, errors.Errorf("property type %v cannot be used as a primary key", p.Type)
	}
}

// numericCompareKey turns a little-endian integer into a big-endian byte
// string whose lexicographic order matches its numeric order. Signed
// values get their sign bit flipped first so two's-complement negatives
// sort before positives.
func numericCompareKey(v uint64, width int, signed bool) []byte {
	if signed {
		signBit := uint64(1) << uint(width*8-1)
		v ^= signBit
	}

	out := make([]byte, width)
	for i := width - 1; i >= 0; i-- {
		out[i] = byte(v)
		v >>= 8
	}

	return out
}

// targetKeyBytes converts a caller-supplied key (matching the primary
// key's declared Go type) into the same comparable byte form.
func (ix Index) targetKeyBytes(key interface{}) ([]byte, error) {
	p := *ix.PrimaryKeyProp

	switch k := key.(type) {
	case []byte:
		return k, nil
	case string:
		return []byte(k), nil
	case uint64:
		return numericCompareKey(k, p.Width, false), nil
	case int64:
		return numericCompareKey(uint64(k), p.Width, true), nil
	default:
		return nil, errors.Errorf("unsupported key type %T", key)
	}
}

// LocateByKey returns the index (relative to FirstEntry) of an entry whose
// primary key equals key, or -1 if none is found. On duplicate keys any
// one match may be returned -- writers are expected to enforce uniqueness.
// An index without a primary key has nothing to compare and returns an
// error.
func (ix Index) LocateByKey(key interface{}) (int, error) {
	if ix.PrimaryKeyProp == nil {
		return ix.linearLocate(key)
	}

	target, err := ix.targetKeyBytes(key)
	if err != nil {
		return -1, err
	}

	var searchErr error

	pos := sort.Search(ix.EntryCount, func(i int) bool {
		if searchErr != nil {
			return false
		}

		entry, err := ix.Store.Record(ix.FirstEntry + i)
		if err != nil {
			searchErr = err
			return false
		}

		k, err := ix.entryKeyBytes(entry)
		if err != nil {
			searchErr = err
			return false
		}

		return bytes.Compare(k, target) >= 0
	})

	if searchErr != nil {
		return -1, searchErr
	}

	if pos >= ix.EntryCount {
		return -1, nil
	}

	entry, err := ix.Store.Record(ix.FirstEntry + pos)
	if err != nil {
		return -1, err
	}

	k, err := ix.entryKeyBytes(entry)
	if err != nil {
		return -1, err
	}

	if !bytes.Equal(k, target) {
		return -1, nil
	}

	return pos, nil
}

func (ix Index) linearLocate(key interface{}) (int, error) {
	if ix.PrimaryKeyProp == nil {
		return -1, errors.New("index has no primary key to locate by")
	}

	for i := 0; i < ix.EntryCount; i++ {
		entry, err := ix.Store.Record(ix.FirstEntry + i)
		if err != nil {
			return -1, err
		}

		k, err := ix.entryKeyBytes(entry)
		if err != nil {
			return -1, err
		}

		target, err := ix.targetKeyBytes(key)
		if err != nil {
			return -1, err
		}

		if bytes.Equal(k, target) {
			return i, nil
		}
	}

	return -1, nil
}

// Entry returns the raw record bytes for the i'th entry in the index
// (relative to FirstEntry).
func (ix Index) Entry(i int) ([]byte, error) {
	if i < 0 || i >= ix.EntryCount {
		return nil, errors.Errorf("index position %v out of range [0,%v)", i, ix.EntryCount)
	}

	return ix.Store.Record(ix.FirstEntry + i)
}
