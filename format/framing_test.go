package format

import "testing"

func TestGetPutUintRoundTrip(t *testing.T) {
	for width := 1; width <= 8; width++ {
		var max uint64 = 1<<uint(width*8) - 1
		if width == 8 {
			max = ^uint64(0)
		}

		for _, v := range []uint64{0, 1, max / 2, max} {
			buf := make([]byte, width)
			PutUint(buf, width, v)

			got, err := GetUint(buf, width)
			if err != nil {
				t.Fatalf("width %d value %d: %v", width, v, err)
			}

			if got != v {
				t.Fatalf("width %d: put %d got %d", width, v, got)
			}
		}
	}
}

func TestSizedOffsetRoundTrip(t *testing.T) {
	so := NewSizedOffset(1234, 0xDEADBEEF)

	if so.Size() != 1234 {
		t.Fatalf("size = %d", so.Size())
	}

	if so.Offset() != 0xDEADBEEF {
		t.Fatalf("offset = %x", so.Offset())
	}
}

func TestPascalStringRoundTrip(t *testing.T) {
	var buf []byte

	buf, err := AppendPascalString(buf, "hello jubako")
	if err != nil {
		t.Fatal(err)
	}

	s, n, err := ReadPascalString(buf)
	if err != nil {
		t.Fatal(err)
	}

	if s != "hello jubako" || n != len(buf) {
		t.Fatalf("got %q consumed %d", s, n)
	}
}

func TestBlockCRC32VerifyToZero(t *testing.T) {
	data := []byte("the quick brown fox jumps over the lazy dog")

	withCRC := AppendBlockCRC32(append([]byte{}, data...))
	if !VerifyBlockCRC32(withCRC) {
		t.Fatal("expected crc to verify to zero")
	}

	withCRC[0] ^= 0xFF
	if VerifyBlockCRC32(withCRC) {
		t.Fatal("expected corruption to be detected")
	}
}
