package format

import (
	"unicode/utf8"

	"github.com/pkg/errors"
)

// MaxPascalStringLength is the largest length a Pascal string may declare
// (the length prefix is a single byte).
const MaxPascalStringLength = 255

// ReadPascalString reads a length-prefixed UTF-8 string from the start of
// b, returning the string and the number of bytes consumed.
func ReadPascalString(b []byte) (string, int, error) {
	if len(b) < 1 {
		return "", 0, ErrTruncated
	}

	n := int(b[0])
	if len(b) < 1+n {
		return "", 0, ErrTruncated
	}

	s := b[1 : 1+n]
	if !utf8.Valid(s) {
		return "", 0, errors.New("pascal string is not valid UTF-8")
	}

	return string(s), 1 + n, nil
}

// AppendPascalString appends s to b as a length-prefixed UTF-8 string.
func AppendPascalString(b []byte, s string) ([]byte, error) {
	if len(s) > MaxPascalStringLength {
		return nil, errors.Errorf("string too long for pascal encoding: %v bytes", len(s))
	}

	if !utf8.ValidString(s) {
		return nil, errors.New("string is not valid UTF-8")
	}

	b = append(b, byte(len(s)))
	b = append(b, s...)

	return b, nil
}
