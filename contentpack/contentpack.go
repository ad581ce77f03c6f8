// Package contentpack implements random-access blob storage: a content
// pack holds a sequence of clusters, each cluster holding up to 4096
// compressed blobs, plus two small lookup tables that map a global content
// id to (cluster, blob-within-cluster) and then to the cluster's tail
// position.
package contentpack

import (
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/jubako/jubako-go/cluster"
	"github.com/jubako/jubako-go/format"
	"github.com/jubako/jubako-go/internal/gather"
	"github.com/jubako/jubako-go/pack"
	"github.com/jubako/jubako-go/region"
)

// MaxClusterCount is the largest number of clusters a single content pack
// may address: the entry-info table packs a cluster index into 20 bits.
const MaxClusterCount = 1 << 20

// entryInfo packs (clusterIdx, blobIdx) into a u32: cluster index in the
// high 20 bits, blob-within-cluster index in the low 12 bits.
type entryInfo uint32

func packEntryInfo(clusterIdx, blobIdx int) entryInfo {
	return entryInfo(uint32(clusterIdx)<<12 | uint32(blobIdx)&0xFFF)
}

func (e entryInfo) clusterIdx() int { return int(e >> 12) }
func (e entryInfo) blobIdx() int    { return int(e & 0xFFF) }

// Pack is an opened content pack, ready to serve random-access blob reads.
type Pack struct {
	Header pack.Header
	Data   region.Region

	entries  []entryInfo
	clusters []format.SizedOffset // tail position + size, per cluster

	reader cluster.Reader
}

const entryInfoWidth = 4

// Open parses a content pack's header, entry-info table and cluster
// pointer table out of r, and wires it to a shared decompressed-cluster
// cache.
func Open(r region.Region, cache *cluster.Cache) (*Pack, error) {
	h, err := pack.OpenByHeader(r)
	if err != nil {
		return nil, err
	}

	if h.Kind != pack.KindContent {
		return nil, errors.Errorf("expected content pack, got kind %v", h.Kind)
	}

	if err := pack.CheckIntegrity(r, h, nil); err != nil {
		return nil, err
	}

	// Layout of the body, working backward from CheckInfoPos: the check
	// tail sits immediately before the pack tail; the cluster pointer
	// table sits immediately before the check tail; the entry-info table
	// sits immediately before that. Counts for both tables are stored as
	// two u32 immediately after the header.
	var counts [8]byte
	if err := r.ReadAt(counts[:], pack.HeaderSize); err != nil {
		return nil, errors.Wrap(err, "error reading content pack counts")
	}

	entryCount, err := format.GetUint(counts[0:4], 4)
	if err != nil {
		return nil, err
	}

	clusterCount, err := format.GetUint(counts[4:8], 4)
	if err != nil {
		return nil, err
	}

	if clusterCount > MaxClusterCount {
		return nil, errors.Errorf("cluster count %v exceeds maximum %v", clusterCount, MaxClusterCount)
	}

	clusterTableSize := int64(clusterCount) * 8 // SizedOffset is 8 bytes on disk
	entryTableSize := int64(entryCount) * entryInfoWidth

	clusterTableStart := int64(h.CheckInfoPos) - clusterTableSize
	entryTableStart := clusterTableStart - entryTableSize

	if entryTableStart < pack.HeaderSize+8 {
		return nil, errors.New("content pack tables overlap header")
	}

	entryBuf := make([]byte, entryTableSize)
	if err := r.ReadAt(entryBuf, entryTableStart); err != nil {
		return nil, errors.Wrap(err, "error reading entry-info table")
	}

	entries := make([]entryInfo, entryCount)
	for i := range entries {
		v, err := format.GetUint(entryBuf[i*entryInfoWidth:], entryInfoWidth)
		if err != nil {
			return nil, err
		}

		entries[i] = entryInfo(v)
	}

	clusterBuf := make([]byte, clusterTableSize)
	if err := r.ReadAt(clusterBuf, clusterTableStart); err != nil {
		return nil, errors.Wrap(err, "error reading cluster pointer table")
	}

	clusters := make([]format.SizedOffset, clusterCount)
	for i := range clusters {
		v, err := format.GetUint(clusterBuf[i*8:], 8)
		if err != nil {
			return nil, err
		}

		clusters[i] = format.SizedOffset(v)
	}

	for _, e := range entries {
		if e.clusterIdx() >= len(clusters) {
			return nil, errors.Errorf("entry references cluster %v, only %v present", e.clusterIdx(), len(clusters))
		}
	}

	return &Pack{
		Header:   h,
		Data:     r,
		entries:  entries,
		clusters: clusters,
		reader:   cluster.Reader{Data: r, PackID: h.UUID, Cache: cache},
	}, nil
}

// EntryCount returns the number of addressable blobs in the pack.
func (p *Pack) EntryCount() int { return len(p.entries) }

// ClusterCount returns the number of clusters in the pack.
func (p *Pack) ClusterCount() int { return len(p.clusters) }

// Fetch returns the contentID'th blob's bytes, decompressing its owning
// cluster (or reusing an already-decompressed one from cache) as needed.
func (p *Pack) Fetch(contentID uint32) ([]byte, error) {
	if int(contentID) >= len(p.entries) {
		return nil, errors.Errorf("content id %v out of range [0,%v)", contentID, len(p.entries))
	}

	e := p.entries[contentID]

	clusterIdx := e.clusterIdx()
	ptr := p.clusters[clusterIdx]

	tailPosition := int64(ptr.Offset())

	return p.reader.Fetch(clusterIdx, tailPosition, e.blobIdx())
}

// FetchGather is Fetch wrapped as an immutable gather.Bytes view, for
// callers passing a fetched blob onward to a collaborator that takes that
// type (mirroring the teacher's own content-index API, which hands
// fetched blob data around as gather.Bytes rather than a bare slice).
func (p *Pack) FetchGather(contentID uint32) (gather.Bytes, error) {
	b, err := p.Fetch(contentID)
	if err != nil {
		return gather.Bytes{}, err
	}

	return gather.FromSlice(b), nil
}

// PackUUID returns the pack's identity, as recorded in its header.
func (p *Pack) PackUUID() uuid.UUID { return p.Header.UUID }
