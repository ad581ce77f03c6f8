package pack

import "github.com/pkg/errors"

// Format errors returned while parsing or verifying a pack. They are not
// recoverable for the pack that produced them, but callers serving a
// container with multiple packs may continue with the others.
var (
	ErrMagicMismatch          = errors.New("pack magic mismatch")
	ErrMajorVersionUnsupported = errors.New("unsupported major version")
	ErrTruncatedPack          = errors.New("pack is truncated")
	ErrHeaderCRCMismatch      = errors.New("pack header CRC mismatch")
	ErrCheckFailed            = errors.New("pack check digest mismatch")
	ErrTailMismatch           = errors.New("pack tail does not match byte-swapped header")
)
