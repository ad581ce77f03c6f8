package contentpack

import (
	"bytes"
	"testing"

	"github.com/google/uuid"

	"github.com/jubako/jubako-go/cluster"
	"github.com/jubako/jubako-go/region"
)

func TestBuildAndFetchRoundTrip(t *testing.T) {
	b := NewBuilder(0x6A626B00, cluster.CodecZstd)

	blobs := [][]byte{
		[]byte("first blob"),
		[]byte("second, somewhat longer blob of text"),
		[]byte("3"),
	}

	ids := make([]uint32, len(blobs))

	for i, blob := range blobs {
		id, err := b.AddBlob(blob)
		if err != nil {
			t.Fatal(err)
		}

		ids[i] = id
	}

	image, err := b.Finish(uuid.New())
	if err != nil {
		t.Fatal(err)
	}

	cache, err := cluster.NewCache(16)
	if err != nil {
		t.Fatal(err)
	}

	p, err := Open(region.FromBuffer(image), cache)
	if err != nil {
		t.Fatal(err)
	}

	if p.EntryCount() != len(blobs) {
		t.Fatalf("entry count: got %v want %v", p.EntryCount(), len(blobs))
	}

	for i, id := range ids {
		got, err := p.Fetch(id)
		if err != nil {
			t.Fatal(err)
		}

		if !bytes.Equal(got, blobs[i]) {
			t.Fatalf("blob %v: got %q want %q", i, got, blobs[i])
		}
	}

	gb, err := p.FetchGather(ids[0])
	if err != nil {
		t.Fatal(err)
	}

	if !bytes.Equal(gb.ToByteSlice(), blobs[0]) {
		t.Fatalf("FetchGather: got %q want %q", gb.ToByteSlice(), blobs[0])
	}
}
