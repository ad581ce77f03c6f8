package cluster

import (
	"bytes"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/pkg/errors"
	"github.com/ulikunitz/xz/lzma"
)

// Codec identifies the compression method applied to a cluster's payload.
type Codec byte

// Cluster compression kinds.
const (
	CodecNone Codec = 0
	CodecLZ4  Codec = 1
	CodecLZMA Codec = 2
	CodecZstd Codec = 3
)

func (c Codec) String() string {
	switch c {
	case CodecNone:
		return "none"
	case CodecLZ4:
		return "lz4"
	case CodecLZMA:
		return "lzma"
	case CodecZstd:
		return "zstd"
	default:
		return "unknown"
	}
}

// compress runs raw through the codec, returning the compressed stream.
func compress(codec Codec, raw []byte) ([]byte, error) {
	var out bytes.Buffer

	switch codec {
	case CodecNone:
		out.Write(raw)
	case CodecLZ4:
		w := lz4.NewWriter(&out)
		if _, err := w.Write(raw); err != nil {
			return nil, errors.Wrap(err, "lz4 compression failed")
		}

		if err := w.Close(); err != nil {
			return nil, errors.Wrap(err, "lz4 compression failed")
		}
	case CodecLZMA:
		w, err := lzma.NewWriter(&out)
		if err != nil {
			return nil, errors.Wrap(err, "lzma compression failed")
		}

		if _, err := w.Write(raw); err != nil {
			return nil, errors.Wrap(err, "lzma compression failed")
		}

		if err := w.Close(); err != nil {
			return nil, errors.Wrap(err, "lzma compression failed")
		}
	case CodecZstd:
		w, err := zstd.NewWriter(&out)
		if err != nil {
			return nil, errors.Wrap(err, "zstd compression failed")
		}

		if _, err := w.Write(raw); err != nil {
			return nil, errors.Wrap(err, "zstd compression failed")
		}

		if err := w.Close(); err != nil {
			return nil, errors.Wrap(err, "zstd compression failed")
		}
	default:
		return nil, errors.Errorf("unknown codec %v", codec)
	}

	return out.Bytes(), nil
}

// decompressTo streams the decompressed form of src into dst, incrementally,
// so partial progress is visible to anyone reading dst concurrently (dst is
// typically a *Stream).
func decompressTo(codec Codec, src io.Reader, dst io.Writer) error {
	switch codec {
	case CodecNone:
		_, err := io.Copy(dst, src)
		return errors.Wrap(err, "copy failed")
	case CodecLZ4:
		_, err := io.Copy(dst, lz4.NewReader(src))
		return errors.Wrap(err, "lz4 decompression failed")
	case CodecLZMA:
		r, err := lzma.NewReader(src)
		if err != nil {
			return errors.Wrap(err, "lzma decompression failed")
		}

		_, err = io.Copy(dst, r)

		return errors.Wrap(err, "lzma decompression failed")
	case CodecZstd:
		r, err := zstd.NewReader(src)
		if err != nil {
			return errors.Wrap(err, "zstd decompression failed")
		}
		defer r.Close()

		_, err = io.Copy(dst, r)

		return errors.Wrap(err, "zstd decompression failed")
	default:
		return errors.Errorf("unknown codec %v", codec)
	}
}
