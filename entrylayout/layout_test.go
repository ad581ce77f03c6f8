package entrylayout

import "testing"

func TestLayoutEncodeParseRoundTrip(t *testing.T) {
	common := []Property{
		{Type: TypeCharArray, Width: 2, Complement: [2]byte{2, 0}, Name: "name"},
		{Type: TypeUnsignedInt, Width: 2, HasDefault: true, DefaultValue: []byte{0xE8, 0x03}, Name: "owner"},
		{Type: TypeContentAddress, Complement: [2]byte{0, 4}, DefaultValue: []byte{0, 0, 0, 0}, HasDefault: false, Name: "content"},
	}

	l, err := New(common, nil)
	if err != nil {
		t.Fatal(err)
	}

	encoded, err := l.Encode()
	if err != nil {
		t.Fatal(err)
	}

	got, err := Parse(encoded)
	if err != nil {
		t.Fatal(err)
	}

	if got.EntrySize != l.EntrySize {
		t.Fatalf("entry size mismatch: got %v want %v", got.EntrySize, l.EntrySize)
	}

	if len(got.Common) != len(l.Common) {
		t.Fatalf("property count mismatch: got %v want %v", len(got.Common), len(l.Common))
	}
}

func TestLayoutRejectsMismatchedVariantSizes(t *testing.T) {
	common := []Property{{Type: TypeUnsignedInt, Width: 2, Name: "shared"}}

	variants := [][]Property{
		{{Type: TypeUnsignedInt, Width: 4, Name: "a"}},
		{{Type: TypeUnsignedInt, Width: 2, Name: "b"}}, // deliberately shorter
	}

	if _, err := New(common, variants); err == nil {
		t.Fatal("expected error for mismatched variant sizes")
	}
}

func TestBindRejectsIncompatibleWidth(t *testing.T) {
	common := []Property{{Type: TypeUnsignedInt, Width: 4, Name: "size"}}

	l, err := New(common, nil)
	if err != nil {
		t.Fatal(err)
	}

	_, err = Bind(l, Schema{Common: []SchemaProperty{{Name: "size", Kind: KindUint, Width: 2}}})
	if err == nil {
		t.Fatal("expected bind to reject mismatched width instead of truncating")
	}
}

func TestBuilderDecodesDefaultedProperty(t *testing.T) {
	common := []Property{
		{Type: TypeUnsignedInt, HasDefault: true, DefaultValue: []byte{0xE8, 0x03}, Name: "owner"}, // 1000
	}

	l, err := New(common, nil)
	if err != nil {
		t.Fatal(err)
	}

	b, err := Bind(l, Schema{Common: []SchemaProperty{{Name: "owner", Kind: KindUint}}})
	if err != nil {
		t.Fatal(err)
	}

	entry := make([]byte, l.EntrySize)

	v, err := b.GetUint(entry, 0, "owner", nil)
	if err != nil {
		t.Fatal(err)
	}

	if v != 1000 {
		t.Fatalf("got %v, want 1000", v)
	}
}
