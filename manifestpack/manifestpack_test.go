package manifestpack

import (
	"testing"

	"github.com/google/uuid"

	"github.com/jubako/jubako-go/pack"
	"github.com/jubako/jubako-go/region"
)

func TestBuildOpenFindRoundTrip(t *testing.T) {
	b := NewBuilder(0x6A626B00)

	contentID := uuid.New()
	directoryID := uuid.New()

	b.Add(PackInfo{Kind: pack.KindContent, PackID: 0, UUID: contentID, PackSize: 1024, PackLocation: "content.jbkc"})
	b.Add(PackInfo{Kind: pack.KindDirectory, PackID: 1, UUID: directoryID, PackSize: 512, PackLocation: "directory.jbkd"})

	image, err := b.Finish(uuid.New())
	if err != nil {
		t.Fatal(err)
	}

	m, err := Open(region.FromBuffer(image))
	if err != nil {
		t.Fatal(err)
	}

	if len(m.Packs) != 2 {
		t.Fatalf("got %v packs, want 2", len(m.Packs))
	}

	pi, ok := m.Find(contentID)
	if !ok {
		t.Fatal("content pack not found")
	}

	if pi.PackLocation != "content.jbkc" {
		t.Fatalf("got location %q", pi.PackLocation)
	}
}

func TestUpdateLocatorPreservesDigest(t *testing.T) {
	b := NewBuilder(0x6A626B00)
	id := uuid.New()
	b.Add(PackInfo{Kind: pack.KindContent, PackID: 0, UUID: id, PackSize: 1024, PackLocation: "old.jbkc"})

	image, err := b.Finish(uuid.New())
	if err != nil {
		t.Fatal(err)
	}

	if err := UpdateLocator(image, 0, "new/path.jbkc"); err != nil {
		t.Fatal(err)
	}

	m, err := Open(region.FromBuffer(image))
	if err != nil {
		t.Fatal(err)
	}

	pi, ok := m.Find(id)
	if !ok {
		t.Fatal("pack not found after relocation")
	}

	if pi.PackLocation != "new/path.jbkc" {
		t.Fatalf("got location %q", pi.PackLocation)
	}
}
