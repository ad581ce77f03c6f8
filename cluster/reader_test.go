package cluster

import (
	"bytes"
	"testing"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/jubako/jubako-go/format"
	"github.com/jubako/jubako-go/region"
)

// buildStandaloneClusterRegion assembles the minimal byte layout a
// cluster.Reader expects: compressed body, its 4-byte big-endian CRC32
// trailer, then the tail. It returns the region and the tail's start
// offset (what callers pass as tailPosition).
func buildStandaloneClusterRegion(t *testing.T, blobs [][]byte) (region.Region, int64) {
	t.Helper()

	b := NewBuilder()
	for _, blob := range blobs {
		if !b.Add(blob) {
			t.Fatal("unexpected cluster-full rejection")
		}
	}

	built, err := b.Build(CodecNone)
	if err != nil {
		t.Fatal(err)
	}

	buf := format.AppendBlockCRC32(append([]byte{}, built.CompressedBody...))
	tailStart := int64(len(buf))
	buf = append(buf, built.Tail...)

	return region.FromBuffer(buf), tailStart
}

func TestReaderFetchRoundTrip(t *testing.T) {
	blobs := [][]byte{[]byte("alpha"), []byte("bravo"), []byte("charlie")}

	data, tailPosition := buildStandaloneClusterRegion(t, blobs)

	cache, err := NewCache(4)
	if err != nil {
		t.Fatal(err)
	}

	r := Reader{Data: data, PackID: uuid.New(), Cache: cache}

	for i, blob := range blobs {
		got, err := r.Fetch(0, tailPosition, i)
		if err != nil {
			t.Fatal(err)
		}

		if !bytes.Equal(got, blob) {
			t.Fatalf("blob %v: got %q want %q", i, got, blob)
		}
	}
}

func TestReaderFetchDetectsCorruptedCompressedBody(t *testing.T) {
	blobs := [][]byte{[]byte("alpha"), []byte("bravo")}

	data, tailPosition := buildStandaloneClusterRegion(t, blobs)

	raw, ok := data.Bytes(0, data.Size())
	if !ok {
		t.Fatal("expected an in-memory region to expose its bytes directly")
	}

	raw[0] ^= 0xFF // corrupt the first byte of the compressed body

	r := Reader{Data: region.FromBuffer(raw), PackID: uuid.New()}

	if _, err := r.Fetch(0, tailPosition, 0); !errors.Is(err, ErrClusterCRCMismatch) {
		t.Fatalf("expected ErrClusterCRCMismatch, got %v", err)
	}
}
