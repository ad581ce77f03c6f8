package valuestore

import (
	"bytes"
	"testing"

	"github.com/jubako/jubako-go/region"
)

func TestIndexedStoreRoundTripWithDedup(t *testing.T) {
	b := NewBuilder()

	o1 := b.Add([]byte("alpha"))
	o2 := b.Add([]byte("bravo"))
	o3 := b.Add([]byte("alpha")) // duplicate of o1

	if o1 != o3 {
		t.Fatalf("expected dedup: o1=%v o3=%v", o1, o3)
	}

	if o2 == o1 {
		t.Fatal("distinct values must not collide")
	}

	data, tail := b.Build()

	buf := append(append([]byte{}, data...), tail...)
	r := region.FromBuffer(buf)

	store, err := OpenIndexed(r, int64(len(data)))
	if err != nil {
		t.Fatal(err)
	}

	if store.Count() != 2 {
		t.Fatalf("expected 2 unique entries, got %v", store.Count())
	}

	v1, err := store.Get(o1)
	if err != nil {
		t.Fatal(err)
	}

	if !bytes.Equal(v1, []byte("alpha")) {
		t.Fatalf("got %q", v1)
	}

	v2, err := store.Get(o2)
	if err != nil {
		t.Fatal(err)
	}

	if !bytes.Equal(v2, []byte("bravo")) {
		t.Fatalf("got %q", v2)
	}
}

func TestPlainStoreGet(t *testing.T) {
	data, offsets := EncodePlain([][]byte{[]byte("one"), []byte("two"), []byte("three")})
	tail := EncodePlainTail(uint64(len(data)))

	buf := append(append([]byte{}, data...), tail...)
	r := region.FromBuffer(buf)

	store, err := OpenPlain(r, int64(len(data)))
	if err != nil {
		t.Fatal(err)
	}

	got, err := store.Get(offsets[1])
	if err != nil {
		t.Fatal(err)
	}

	if !bytes.HasPrefix(got, []byte("two")) {
		t.Fatalf("got %q", got)
	}
}
