package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/jubako/jubako-go/cluster"
	"github.com/jubako/jubako-go/pack"
	"github.com/jubako/jubako-go/reader"
	"github.com/jubako/jubako-go/writer"
)

func TestSplitKeyPath(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{"abc", []string{"abc"}},
		{"abc/entries/3", []string{"abc", "entries", "3"}},
		{"abc/entries/3/name", []string{"abc", "entries", "3", "name"}},
	}

	for _, c := range cases {
		got, err := splitKeyPath(c.in)
		if err != nil {
			t.Fatalf("%q: %v", c.in, err)
		}

		if strings.Join(got, "|") != strings.Join(c.want, "|") {
			t.Fatalf("%q: got %v, want %v", c.in, got, c.want)
		}
	}
}

func TestSplitKeyPathRejectsEmpty(t *testing.T) {
	if _, err := splitKeyPath(""); err == nil {
		t.Fatal("expected an error for an empty key path")
	}
}

// buildArchiveFile seals a minimal one-entry archive as a container pack
// file (check and explore both run against containers or manifests
// uniformly through reader.Open) and returns its path.
func buildArchiveFile(t *testing.T) string {
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

	cid, err := b.AddBlob([]byte("payload"))
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

func TestRunCheckOnWellFormedArchive(t *testing.T) {
	path := buildArchiveFile(t)

	if err := runCheck(context.Background(), path); err != nil {
		t.Fatalf("unexpected check failure: %v", err)
	}
}

func TestRunCheckDetectsCorruption(t *testing.T) {
	path := buildArchiveFile(t)

	image, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}

	// Flip a byte in the middle of the container body; every sub-pack's
	// own check tail covers its own bytes, so this should fail at least
	// one of them.
	image[len(image)/2] ^= 0xFF

	if err := os.WriteFile(path, image, 0o644); err != nil {
		t.Fatal(err)
	}

	if err := runCheck(context.Background(), path); err == nil {
		t.Fatal("expected runCheck to detect the corruption")
	}
}

func TestRunExploreReadsRecord(t *testing.T) {
	path := buildArchiveFile(t)

	a, err := reader.Open(path, reader.Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()

	var dirID uuid.UUID

	for _, pi := range a.Manifest().Packs {
		if pi.Kind == pack.KindDirectory {
			dirID = pi.UUID
		}
	}

	if dirID == uuid.Nil {
		t.Fatal("archive is missing a directory pack")
	}

	if err := runExplore(context.Background(), path, dirID.String()+"/entries/0"); err != nil {
		t.Fatal(err)
	}
}
