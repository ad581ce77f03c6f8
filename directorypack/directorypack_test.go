package directorypack

import (
	"testing"

	"github.com/google/uuid"

	"github.com/jubako/jubako-go/entrylayout"
	"github.com/jubako/jubako-go/format"
	"github.com/jubako/jubako-go/region"
	"github.com/jubako/jubako-go/valuestore"
)

func TestBuildOpenAndIndexLookup(t *testing.T) {
	vb := valuestore.NewBuilder()

	names := []string{"alpha", "beta", "gamma"}
	ords := make([]uint64, len(names))

	for i, n := range names {
		ords[i] = vb.Add([]byte(n))
	}

	data, tail := vb.Build()

	layout, err := entrylayout.New([]entrylayout.Property{
		{Type: entrylayout.TypeCharArray, Width: 4, Complement: [2]byte{4, 0}, Name: "name"},
	}, nil)
	if err != nil {
		t.Fatal(err)
	}

	entryData := make([]byte, 0, layout.EntrySize*len(names))
	for _, ord := range ords {
		entryData = format.AppendUint(entryData, 4, ord)
	}

	b, err := NewBuilder(0x6A626B00, layout, entryData)
	if err != nil {
		t.Fatal(err)
	}

	b.AddValueStore(ValueStoreSpec{Kind: valuestore.KindIndexed, Data: data, Tail: tail})
	b.AddIndex(IndexSpec{Name: "by_name", FirstEntry: 0, EntryCount: len(names), PrimaryKeyName: "name", ValueStoreID: 0})

	image, err := b.Finish(uuid.New())
	if err != nil {
		t.Fatal(err)
	}

	p, err := Open(region.FromBuffer(image))
	if err != nil {
		t.Fatal(err)
	}

	ix, err := p.Index("by_name")
	if err != nil {
		t.Fatal(err)
	}

	pos, err := ix.LocateByKey([]byte("beta"))
	if err != nil {
		t.Fatal(err)
	}

	if pos < 0 {
		t.Fatal("expected to find beta")
	}
}
