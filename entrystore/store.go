// Package entrystore implements fixed-size-record entry stores and the
// named, optionally sorted index views over them. It follows the same
// "decode a fixed stride at a computed offset" approach as kopia's v2 pack
// index: records are never parsed in bulk, only the one a caller asked for.
package entrystore

import (
	"github.com/pkg/errors"

	"github.com/jubako/jubako-go/entrylayout"
	"github.com/jubako/jubako-go/region"
)

// Store is a byte array of entrySize*N fixed-size records, interpreted
// through a Layout. It is written once and never mutated; everything past
// that is read-only interpretation of the bytes.
type Store struct {
	data      region.Region
	entrySize int
	count     int
	layout    entrylayout.Layout
}

// Open wraps data as an entry store of the given layout. data's size must
// be an exact multiple of layout.EntrySize.
func Open(data region.Region, layout entrylayout.Layout) (*Store, error) {
	if layout.EntrySize <= 0 {
		return nil, errors.New("entry layout has non-positive entry size")
	}

	if data.Size()%int64(layout.EntrySize) != 0 {
		return nil, errors.Errorf("entry store size %v is not a multiple of entry size %v", data.Size(), layout.EntrySize)
	}

	return &Store{
		data:      data,
		entrySize: layout.EntrySize,
		count:     int(data.Size() / int64(layout.EntrySize)),
		layout:    layout,
	}, nil
}

// Count returns the number of records in the store.
func (s *Store) Count() int { return s.count }

// Layout returns the store's entry layout.
func (s *Store) Layout() entrylayout.Layout { return s.layout }

// Record returns the raw bytes of record i.
func (s *Store) Record(i int) ([]byte, error) {
	if i < 0 || i >= s.count {
		return nil, errors.Errorf("record index %v out of range [0,%v)", i, s.count)
	}

	off := int64(i) * int64(s.entrySize)

	if b, ok := s.data.Bytes(off, int64(s.entrySize)); ok {
		return b, nil
	}

	buf := make([]byte, s.entrySize)
	if err := s.data.ReadAt(buf, off); err != nil {
		return nil, err
	}

	return buf, nil
}
