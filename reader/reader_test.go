package reader

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/jubako/jubako-go/cluster"
	"github.com/jubako/jubako-go/entrylayout"
	"github.com/jubako/jubako-go/manifestpack"
	"github.com/jubako/jubako-go/pack"
	"github.com/jubako/jubako-go/writer"
)

// buildTestContainer seals a minimal archive (one blob, one entry, no
// index) as a single container pack file and returns its path.
func buildTestContainer(t *testing.T) string {
	t.Helper()

	schema := writer.Schema{
		Common: []writer.FieldSpec{
			{Name: "content", Kind: writer.FieldContentAddress, PackIDWidth: 0, ContentIDWidth: 4, DefaultPackID: 0},
		},
	}

	b, err := writer.NewBuilder(0x6A626B00, cluster.CodecNone, schema, nil)
	if err != nil {
		t.Fatal(err)
	}

	cid, err := b.AddBlob([]byte("hello reader"))
	if err != nil {
		t.Fatal(err)
	}

	if _, err := b.AddEntry(0, map[string]interface{}{
		"content": writer.ContentAddressValue{ContentID: cid},
	}); err != nil {
		t.Fatal(err)
	}

	res, err := b.Finish(writer.FinishOptions{
		ContentPackID:   uuid.New(),
		DirectoryPackID: uuid.New(),
		ManifestPackID:  uuid.New(),
		BuildContainer:  true,
		ContainerPackID: uuid.New(),
	})
	if err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(t.TempDir(), "archive.jbk")
	if err := os.WriteFile(path, res.Container, 0o644); err != nil {
		t.Fatal(err)
	}

	return path
}

func TestOpenContainerAndFetchBlob(t *testing.T) {
	path := buildTestContainer(t)

	a, err := Open(path, Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()

	m := a.Manifest()
	if m == nil {
		t.Fatal("expected a non-nil manifest")
	}

	var contentID, directoryID uuid.UUID

	for _, pi := range m.Packs {
		switch pi.Kind {
		case pack.KindContent:
			contentID = pi.UUID
		case pack.KindDirectory:
			directoryID = pi.UUID
		}
	}

	if contentID == uuid.Nil || directoryID == uuid.Nil {
		t.Fatal("manifest is missing a content or directory pack entry")
	}

	cp, err := a.ContentPack(contentID)
	if err != nil {
		t.Fatal(err)
	}

	dp, err := a.DirectoryPack(directoryID)
	if err != nil {
		t.Fatal(err)
	}

	builder, err := entrylayout.Bind(dp.Layout, entrylayout.Schema{
		Common: []entrylayout.SchemaProperty{
			{Name: "content", Kind: entrylayout.KindContentAddress},
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	entry, err := dp.Entries.Record(0)
	if err != nil {
		t.Fatal(err)
	}

	addr, err := builder.GetContentAddress(entry, 0, "content")
	if err != nil {
		t.Fatal(err)
	}

	blob, err := cp.Fetch(addr.ContentID)
	if err != nil {
		t.Fatal(err)
	}

	if string(blob) != "hello reader" {
		t.Fatalf("got %q, want %q", blob, "hello reader")
	}
}

// TestContentPackMissingSurfacesDistinctly builds an archive as separate
// pack files, points the manifest's content-pack record at its file by name
// via UpdateLocator, writes every file, then renames the content-pack file
// out from under that location before resolving it: a referenced pack that
// can no longer be found where it's recorded must surface as
// ErrPackMissing, the same sentinel a record with no location at all
// resolves to, not an opaque I/O error a caller would have to string-match.
func TestContentPackMissingSurfacesDistinctly(t *testing.T) {
	schema := writer.Schema{
		Common: []writer.FieldSpec{
			{Name: "content", Kind: writer.FieldContentAddress, PackIDWidth: 0, ContentIDWidth: 4, DefaultPackID: 0},
		},
	}

	b, err := writer.NewBuilder(0x6A626B00, cluster.CodecNone, schema, nil)
	if err != nil {
		t.Fatal(err)
	}

	cid, err := b.AddBlob([]byte("will go missing"))
	if err != nil {
		t.Fatal(err)
	}

	if _, err := b.AddEntry(0, map[string]interface{}{
		"content": writer.ContentAddressValue{ContentID: cid},
	}); err != nil {
		t.Fatal(err)
	}

	res, err := b.Finish(writer.FinishOptions{
		ContentPackID:   uuid.New(),
		DirectoryPackID: uuid.New(),
		ManifestPackID:  uuid.New(),
	})
	if err != nil {
		t.Fatal(err)
	}

	// The content pack is always manifest record 0, per writer.Builder.Finish.
	// Finish itself leaves PackLocation empty; name it explicitly here so
	// the record resolves to a real path that the test can then remove.
	if err := manifestpack.UpdateLocator(res.Manifest, 0, "content.jbk"); err != nil {
		t.Fatal(err)
	}

	dir := t.TempDir()

	contentPath := filepath.Join(dir, "content.jbk")
	if err := os.WriteFile(contentPath, res.Content, 0o644); err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(filepath.Join(dir, "directory.jbk"), res.Directory, 0o644); err != nil {
		t.Fatal(err)
	}

	manifestPath := filepath.Join(dir, "manifest.jbk")
	if err := os.WriteFile(manifestPath, res.Manifest, 0o644); err != nil {
		t.Fatal(err)
	}

	// Simulate the pack going missing: rename it out from under its
	// recorded location before the reader ever looks for it.
	if err := os.Rename(contentPath, contentPath+".moved"); err != nil {
		t.Fatal(err)
	}

	a, err := Open(manifestPath, Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()

	var contentID uuid.UUID

	for _, pi := range a.Manifest().Packs {
		if pi.Kind == pack.KindContent {
			contentID = pi.UUID
		}
	}

	if contentID == uuid.Nil {
		t.Fatal("manifest is missing a content pack entry")
	}

	if _, err := a.ContentPack(contentID); !errors.Is(err, ErrPackMissing) {
		t.Fatalf("expected ErrPackMissing, got %v", err)
	}
}

// TestContentPackUnresolvableLocationIsMissing covers the other half of
// Scenario S6: a manifest record with no PackLocation at all (the default a
// sealed, un-located, non-container archive carries) resolves as
// ErrPackMissing rather than attempting -- and failing -- a filesystem open.
func TestContentPackUnresolvableLocationIsMissing(t *testing.T) {
	schema := writer.Schema{
		Common: []writer.FieldSpec{
			{Name: "content", Kind: writer.FieldContentAddress, PackIDWidth: 0, ContentIDWidth: 4, DefaultPackID: 0},
		},
	}

	b, err := writer.NewBuilder(0x6A626B00, cluster.CodecNone, schema, nil)
	if err != nil {
		t.Fatal(err)
	}

	cid, err := b.AddBlob([]byte("never had a home"))
	if err != nil {
		t.Fatal(err)
	}

	if _, err := b.AddEntry(0, map[string]interface{}{
		"content": writer.ContentAddressValue{ContentID: cid},
	}); err != nil {
		t.Fatal(err)
	}

	res, err := b.Finish(writer.FinishOptions{
		ContentPackID:   uuid.New(),
		DirectoryPackID: uuid.New(),
		ManifestPackID:  uuid.New(),
	})
	if err != nil {
		t.Fatal(err)
	}

	dir := t.TempDir()

	if err := os.WriteFile(filepath.Join(dir, "directory.jbk"), res.Directory, 0o644); err != nil {
		t.Fatal(err)
	}

	manifestPath := filepath.Join(dir, "manifest.jbk")
	if err := os.WriteFile(manifestPath, res.Manifest, 0o644); err != nil {
		t.Fatal(err)
	}

	a, err := Open(manifestPath, Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()

	var contentID uuid.UUID

	for _, pi := range a.Manifest().Packs {
		if pi.Kind == pack.KindContent {
			contentID = pi.UUID
		}
	}

	if contentID == uuid.Nil {
		t.Fatal("manifest is missing a content pack entry")
	}

	if _, err := a.ContentPack(contentID); !errors.Is(err, ErrPackMissing) {
		t.Fatalf("expected ErrPackMissing, got %v", err)
	}
}

func TestOpenRejectsNonArchiveFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "not-an-archive")
	if err := os.WriteFile(path, []byte("not a jubako pack"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := Open(path, Options{}); err == nil {
		t.Fatal("expected an error opening a non-archive file")
	}
}
