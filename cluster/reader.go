package cluster

import (
	"bytes"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/jubako/jubako-go/format"
	"github.com/jubako/jubako-go/region"
)

// ErrClusterCRCMismatch is returned when a cluster's compressed body fails
// its CRC32 check, per the error taxonomy's "detect corruption before
// acting on it" requirement -- a reader must never decompress bytes it has
// not first verified.
var ErrClusterCRCMismatch = errors.New("cluster compressed body fails its CRC32 check")

// Reader fetches blobs out of clusters stored in a content pack's byte
// region, decompressing each cluster at most once and caching the result.
type Reader struct {
	Data   region.Region
	PackID uuid.UUID
	Cache  *Cache
}

// Fetch returns blob blobIdx of the cluster whose tail starts at
// tailPosition. If the cluster isn't cached yet, this starts a
// background decompression and blocks only until the requested blob's
// bytes have arrived -- other blobs may still be in flight.
func (r Reader) Fetch(clusterIdx int, tailPosition int64, blobIdx int) ([]byte, error) {
	key := CacheKey{PackID: r.PackID, ClusterIdx: clusterIdx}

	stream, tail, err := r.streamFor(key, tailPosition)
	if err != nil {
		return nil, err
	}

	if blobIdx < 0 || blobIdx >= tail.BlobCount {
		return nil, errors.Errorf("blob index %v out of range [0,%v)", blobIdx, tail.BlobCount)
	}

	start, end, err := tail.Offsets.Bounds(blobIdx)
	if err != nil {
		return nil, err
	}

	out := make([]byte, end-start)
	if err := stream.ReadAt(out, int64(start)); err != nil {
		return nil, errors.Wrapf(err, "fetching blob %v of cluster %v", blobIdx, clusterIdx)
	}

	return out, nil
}

// streamFor returns the (possibly still-filling) decompressed stream for
// the cluster at tailPosition, starting background decompression on a
// cache miss.
func (r Reader) streamFor(key CacheKey, tailPosition int64) (*Stream, Tail, error) {
	tail, err := ParseTailAt(r.Data, tailPosition)
	if err != nil {
		return nil, Tail{}, errors.Wrapf(err, "parsing tail of cluster %v", key.ClusterIdx)
	}

	if r.Cache != nil {
		if s, ok := r.Cache.Get(key); ok {
			return s, tail, nil
		}
	}

	start := tail.rawDataStart(tailPosition)

	// The compressed body is immediately followed by its own 4-byte
	// big-endian CRC32 trailer; read both together so VerifyBlockCRC32 can
	// check to zero without needing the CRC value separately.
	withCRC := make([]byte, int(tail.RawDataSize)+4)
	if err := r.Data.ReadAt(withCRC, start); err != nil {
		return nil, Tail{}, errors.Wrapf(err, "reading compressed body of cluster %v", key.ClusterIdx)
	}

	if !format.VerifyBlockCRC32(withCRC) {
		return nil, Tail{}, errors.Wrapf(ErrClusterCRCMismatch, "cluster %v", key.ClusterIdx)
	}

	compressed := withCRC[:tail.RawDataSize]

	stream := NewStream(int(tail.DataSize))

	go func() {
		err := decompressTo(tail.Codec, bytes.NewReader(compressed), stream)
		stream.Close(err)
	}()

	if r.Cache != nil {
		r.Cache.Put(key, stream)
	}

	return stream, tail, nil
}
