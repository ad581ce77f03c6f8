package containerpack

import (
	"testing"

	"github.com/google/uuid"

	"github.com/jubako/jubako-go/pack"
	"github.com/jubako/jubako-go/region"
)

func fakePack(kind pack.Kind, id uuid.UUID) []byte {
	h := pack.Header{Kind: kind, MajorVersion: pack.CurrentMajorVersion, UUID: id, CheckInfoPos: pack.HeaderSize}
	checkTail := pack.EncodeCheckTailNone()
	h.PackSize = pack.HeaderSize + uint64(len(checkTail)) + pack.HeaderSize

	buf := h.Encode()

	full := append([]byte{}, buf[:]...)
	full = append(full, checkTail...)

	tail := h.Tail()
	full = append(full, tail[:]...)

	return full
}

func TestBuildOpenRoundTrip(t *testing.T) {
	idA := uuid.New()
	idB := uuid.New()

	subA := fakePack(pack.KindDirectory, idA)
	subB := fakePack(pack.KindContent, idB)

	image, err := Build(0x6A626B00, uuid.New(), [][]byte{subA, subB})
	if err != nil {
		t.Fatal(err)
	}

	c, err := Open(region.FromBuffer(image))
	if err != nil {
		t.Fatal(err)
	}

	if len(c.Locators) != 2 {
		t.Fatalf("got %v locators, want 2", len(c.Locators))
	}

	locA, ok := c.Find(idA)
	if !ok {
		t.Fatal("sub-pack A not found")
	}

	sub, err := c.SubRegion(region.FromBuffer(image), locA)
	if err != nil {
		t.Fatal(err)
	}

	subHeader, err := pack.OpenByHeader(sub)
	if err != nil {
		t.Fatal(err)
	}

	if subHeader.UUID != idA {
		t.Fatalf("got uuid %v, want %v", subHeader.UUID, idA)
	}
}
