package contentpack

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/jubako/jubako-go/cluster"
	"github.com/jubako/jubako-go/format"
	"github.com/jubako/jubako-go/pack"
	"github.com/jubako/jubako-go/region"
)

// Builder accumulates blobs into clusters and produces a complete content
// pack image. It buffers the whole pack body in memory, which keeps the
// common case simple. Clusters are
// compressed concurrently in Finish, since each one is an independent,
// pure transform of its own accumulated blobs.
type Builder struct {
	appVendorID uint32
	codec       cluster.Codec

	current  *cluster.Builder
	pending  []*cluster.Builder
	entries  []entryInfo
}

// NewBuilder returns an empty content pack builder that compresses
// clusters with codec.
func NewBuilder(appVendorID uint32, codec cluster.Codec) *Builder {
	return &Builder{appVendorID: appVendorID, codec: codec, current: cluster.NewBuilder()}
}

// ClusterCountHint returns the number of clusters accumulated so far, plus
// one if a cluster is still filling. It is meant for progress logging, not
// for addressing -- Finish may still coalesce the in-progress cluster.
func (b *Builder) ClusterCountHint() int {
	n := len(b.pending)
	if b.current.Len() > 0 {
		n++
	}

	return n
}

// AddBlob appends blob to the pack, starting a new cluster automatically
// once the current one is full, and returns the content id future readers
// must pass to Fetch.
func (b *Builder) AddBlob(blob []byte) (uint32, error) {
	if !b.current.Add(blob) {
		b.pending = append(b.pending, b.current)
		b.current = cluster.NewBuilder()

		if !b.current.Add(blob) {
			return 0, errors.New("blob cannot fit into an empty cluster")
		}
	}

	clusterIdx := len(b.pending)
	blobIdx := b.current.Len() - 1

	contentID := uint32(len(b.entries))
	b.entries = append(b.entries, packEntryInfo(clusterIdx, blobIdx))

	return contentID, nil
}

// compressClusters runs every pending cluster's Build on a worker pool,
// since compression is a pure function of one cluster's own blobs and
// clusters share no state.
func (b *Builder) compressClusters() ([]*cluster.Built, error) {
	built := make([]*cluster.Built, len(b.pending))

	g, _ := errgroup.WithContext(context.Background())

	for i, c := range b.pending {
		i, c := i, c

		g.Go(func() error {
			out, err := c.Build(b.codec)
			if err != nil {
				return err
			}

			built[i] = out

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return built, nil
}

// Finish flushes the in-progress cluster, compresses every cluster
// concurrently, appends the entry-info and cluster-pointer tables,
// computes the Blake3 check digest and assembles the complete pack image
// (header, body, check tail, pack tail).
func (b *Builder) Finish(id uuid.UUID) ([]byte, error) {
	if b.current.Len() > 0 {
		b.pending = append(b.pending, b.current)
		b.current = cluster.NewBuilder()
	}

	built, err := b.compressClusters()
	if err != nil {
		return nil, err
	}

	// clusterDataOffset is where cluster payload bytes begin in the final
	// pack image: after the header and the 8-byte entry/cluster counts.
	const clusterDataOffset = int64(pack.HeaderSize) + 8

	var body []byte

	clusters := make([]format.SizedOffset, len(built))

	for i, bc := range built {
		crc := format.BlockCRC32(bc.CompressedBody)

		body = append(body, bc.CompressedBody...)
		body = append(body, byte(crc>>24), byte(crc>>16), byte(crc>>8), byte(crc))

		tailStart := clusterDataOffset + int64(len(body))
		body = append(body, bc.Tail...)

		if len(bc.Tail) > format.MaxSizedOffsetSize {
			return nil, errors.Errorf("cluster tail of %v bytes exceeds sized-offset limit", len(bc.Tail))
		}

		clusters[i] = format.NewSizedOffset(uint16(len(bc.Tail)), uint64(tailStart))
	}

	var counts [8]byte
	format.PutUint(counts[0:4], 4, uint64(len(b.entries)))
	format.PutUint(counts[4:8], 4, uint64(len(clusters)))

	tables := append([]byte{}, counts[:]...)
	tables = append(tables, body...)

	for _, e := range b.entries {
		tables = format.AppendUint(tables, entryInfoWidth, uint64(e))
	}

	for _, c := range clusters {
		tables = format.AppendUint(tables, 8, uint64(c))
	}

	body = tables

	// check tail starts right after the header and body; everything before
	// it (including the header itself) is covered by the digest.
	checkInfoPos := uint64(pack.HeaderSize + len(body))
	checkTailSize := int64(1 + pack.Blake3DigestSize)
	packSize := checkInfoPos + uint64(checkTailSize) + pack.HeaderSize

	h := pack.Header{
		Kind:         pack.KindContent,
		AppVendorID:  b.appVendorID,
		MajorVersion: pack.CurrentMajorVersion,
		UUID:         id,
		CheckInfoPos: checkInfoPos,
		PackSize:     packSize,
	}

	full := make([]byte, 0, packSize)

	headerBuf := h.Encode()
	full = append(full, headerBuf[:]...)
	full = append(full, body...)

	digest, err := pack.ComputeBlake3(region.FromBuffer(full), int64(checkInfoPos), nil)
	if err != nil {
		return nil, err
	}

	full = append(full, pack.EncodeCheckTailBlake3(digest)...)

	tail := h.Tail()
	full = append(full, tail[:]...)

	return full, nil
}
