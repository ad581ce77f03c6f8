package entrystore

import (
	"testing"

	"github.com/jubako/jubako-go/entrylayout"
	"github.com/jubako/jubako-go/format"
	"github.com/jubako/jubako-go/region"
)

func buildUintLayout(t *testing.T) entrylayout.Layout {
	t.Helper()

	l, err := entrylayout.New([]entrylayout.Property{
		{Type: entrylayout.TypeUnsignedInt, Width: 4, Name: "key"},
	}, nil)
	if err != nil {
		t.Fatal(err)
	}

	return l
}

func packUintEntries(t *testing.T, l entrylayout.Layout, keys []uint64) region.Region {
	t.Helper()

	buf := make([]byte, len(keys)*l.EntrySize)
	for i, k := range keys {
		format.PutUint(buf[i*l.EntrySize:], l.Common[0].Width, k)
	}

	return region.FromBuffer(buf)
}

func TestStoreOpenRejectsMisalignedSize(t *testing.T) {
	l := buildUintLayout(t)

	if _, err := Open(region.FromBuffer(make([]byte, l.EntrySize+1)), l); err == nil {
		t.Fatal("expected error for size not a multiple of entry size")
	}
}

func TestStoreRecordBounds(t *testing.T) {
	l := buildUintLayout(t)
	keys := []uint64{10, 20, 30}

	s, err := Open(packUintEntries(t, l, keys), l)
	if err != nil {
		t.Fatal(err)
	}

	if s.Count() != len(keys) {
		t.Fatalf("count = %v, want %v", s.Count(), len(keys))
	}

	if _, err := s.Record(-1); err == nil {
		t.Fatal("expected error for negative index")
	}

	if _, err := s.Record(len(keys)); err == nil {
		t.Fatal("expected error for out-of-range index")
	}

	rec, err := s.Record(1)
	if err != nil {
		t.Fatal(err)
	}

	v, err := format.GetUint(rec, l.Common[0].Width)
	if err != nil {
		t.Fatal(err)
	}

	if v != 20 {
		t.Fatalf("record 1 = %v, want 20", v)
	}
}

func TestIndexLocateByKeySorted(t *testing.T) {
	l := buildUintLayout(t)
	keys := []uint64{10, 20, 30, 40, 50}

	s, err := Open(packUintEntries(t, l, keys), l)
	if err != nil {
		t.Fatal(err)
	}

	prop := l.Common[0]

	ix := Index{
		Store:          s,
		FirstEntry:     0,
		EntryCount:     s.Count(),
		PrimaryKeyProp: &prop,
	}

	pos, err := ix.LocateByKey(uint64(30))
	if err != nil {
		t.Fatal(err)
	}

	if pos != 2 {
		t.Fatalf("pos = %v, want 2", pos)
	}

	pos, err = ix.LocateByKey(uint64(25))
	if err != nil {
		t.Fatal(err)
	}

	if pos != -1 {
		t.Fatalf("expected no match for absent key, got pos %v", pos)
	}
}

func TestIndexEntryByPositionWithoutPrimaryKey(t *testing.T) {
	l := buildUintLayout(t)
	keys := []uint64{50, 10, 30} // deliberately unsorted; this index has no primary key

	s, err := Open(packUintEntries(t, l, keys), l)
	if err != nil {
		t.Fatal(err)
	}

	// PrimaryKeyProp left nil: position 0, per the format, carries no
	// ordering guarantee and is addressed by position only.
	ix := Index{Store: s, FirstEntry: 0, EntryCount: s.Count()}

	entry, err := ix.Entry(2)
	if err != nil {
		t.Fatal(err)
	}

	v, err := format.GetUint(entry, l.Common[0].Width)
	if err != nil {
		t.Fatal(err)
	}

	if v != 30 {
		t.Fatalf("entry 2 = %v, want 30", v)
	}
}

func TestIndexEntryOutOfRange(t *testing.T) {
	l := buildUintLayout(t)
	s, err := Open(packUintEntries(t, l, []uint64{1, 2}), l)
	if err != nil {
		t.Fatal(err)
	}

	ix := Index{Store: s, FirstEntry: 0, EntryCount: s.Count()}

	if _, err := ix.Entry(2); err == nil {
		t.Fatal("expected error for out-of-range index position")
	}
}

func TestNumericCompareKeyOrdersSignedValues(t *testing.T) {
	neg := numericCompareKey(uint64(int8(-1)), 1, true)
	pos := numericCompareKey(uint64(int8(1)), 1, true)

	if string(neg) >= string(pos) {
		t.Fatal("expected negative value's comparison key to sort before positive")
	}
}
