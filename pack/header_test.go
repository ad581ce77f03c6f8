package pack

import (
	"testing"

	"github.com/google/uuid"

	"github.com/jubako/jubako-go/region"
)

func TestHeaderTailSymmetry(t *testing.T) {
	h := Header{
		Kind:         KindContent,
		AppVendorID:  0x4A424B31,
		MajorVersion: 0,
		MinorVersion: 3,
		UUID:         uuid.New(),
		PackSize:     1024,
		CheckInfoPos: 960,
	}

	header := h.Encode()
	tail := h.Tail()

	swappedTail := byteSwap(tail)
	if swappedTail != header {
		t.Fatalf("byte_swap(tail) != header")
	}

	got, err := DecodeHeader(header[:])
	if err != nil {
		t.Fatal(err)
	}

	if got.Kind != h.Kind || got.UUID != h.UUID || got.PackSize != h.PackSize {
		t.Fatalf("round trip mismatch: %+v vs %+v", got, h)
	}
}

func TestOpenByHeaderAndTail(t *testing.T) {
	h := Header{
		Kind:         KindDirectory,
		UUID:         uuid.New(),
		PackSize:     128,
		CheckInfoPos: 64,
	}

	buf := make([]byte, 128)

	header := h.Encode()
	copy(buf[0:64], header[:])

	tail := h.Tail()
	copy(buf[64:128], tail[:])

	r := region.FromBuffer(buf)

	got, err := OpenByHeader(r)
	if err != nil {
		t.Fatal(err)
	}

	if got.UUID != h.UUID {
		t.Fatal("uuid mismatch via header")
	}

	got2, offset, err := OpenByTail(r)
	if err != nil {
		t.Fatal(err)
	}

	if offset != 0 {
		t.Fatalf("expected header offset 0, got %v", offset)
	}

	if got2.UUID != h.UUID {
		t.Fatal("uuid mismatch via tail")
	}
}

func TestOpenByTailWithPrefix(t *testing.T) {
	h := Header{
		Kind:         KindManifest,
		UUID:         uuid.New(),
		PackSize:     128,
		CheckInfoPos: 64,
	}

	prefix := []byte("#!/bin/sh\nexec jbk serve \"$0\"\n")
	buf := make([]byte, len(prefix)+128)
	copy(buf, prefix)

	header := h.Encode()
	copy(buf[len(prefix):len(prefix)+64], header[:])

	tail := h.Tail()
	copy(buf[len(prefix)+64:], tail[:])

	r := region.FromBuffer(buf)

	got, offset, err := OpenByTail(r)
	if err != nil {
		t.Fatal(err)
	}

	if offset != int64(len(prefix)) {
		t.Fatalf("expected header offset %v, got %v", len(prefix), offset)
	}

	if got.UUID != h.UUID {
		t.Fatal("uuid mismatch")
	}
}
