// Package manifestpack implements the manifest pack: the inventory of every
// sub-pack belonging to a Jubako archive, plus the locator bookkeeping that
// lets those sub-packs move around on disk (or into/out of a container)
// without invalidating the manifest's own integrity digest.
package manifestpack

import (
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/jubako/jubako-go/format"
	"github.com/jubako/jubako-go/pack"
	"github.com/jubako/jubako-go/region"
)

// Record layout: each PackInfo occupies packInfoRecordSize bytes, the last
// 4 of which are a per-record CRC32 trailer. The packLocation field and
// that trailer are masked out of the manifest's own Blake3 digest, so
// relocating a pack (rewriting where to find it) never invalidates the
// manifest pack's check tail.
const (
	packInfoRecordSize   = 252
	packInfoBodySize     = packInfoRecordSize - 4
	packLocationMaxBytes = 219

	offKind         = 0
	offPackID       = 1
	offReserved     = 3
	offUUID         = 4
	offPackSize     = 20
	offLocationLen  = 28
	offLocation     = 29
)

// PackInfo describes one sub-pack referenced by a manifest.
type PackInfo struct {
	Kind     pack.Kind
	PackID   uint16
	UUID     uuid.UUID
	PackSize uint64

	// PackLocation is how to find the pack's bytes: empty means the pack
	// is looked for only in the enclosing container and resolves as
	// missing when that has no match; otherwise it's a relative path,
	// absolute path, or file: URL.
	PackLocation string
}

func encodePackInfo(pi PackInfo) ([]byte, error) {
	if len(pi.PackLocation) > packLocationMaxBytes {
		return nil, errors.Errorf("pack location %q too long for manifest record", pi.PackLocation)
	}

	buf := make([]byte, packInfoBodySize)
	buf[offKind] = byte(pi.Kind)
	format.PutUint(buf[offPackID:], 2, uint64(pi.PackID))
	copy(buf[offUUID:offUUID+16], pi.UUID[:])
	format.PutUint(buf[offPackSize:], 8, pi.PackSize)
	buf[offLocationLen] = byte(len(pi.PackLocation))
	copy(buf[offLocation:], pi.PackLocation)

	return format.AppendBlockCRC32(buf), nil
}

func decodePackInfo(buf []byte) (PackInfo, error) {
	if len(buf) < packInfoRecordSize {
		return PackInfo{}, format.ErrTruncated
	}

	if !format.VerifyBlockCRC32(buf[:packInfoRecordSize]) {
		return PackInfo{}, errors.New("pack info record fails its CRC32 check")
	}

	kind := pack.Kind(buf[offKind])

	packID, err := format.GetUint(buf[offPackID:], 2)
	if err != nil {
		return PackInfo{}, err
	}

	var id uuid.UUID
	copy(id[:], buf[offUUID:offUUID+16])

	packSize, err := format.GetUint(buf[offPackSize:], 8)
	if err != nil {
		return PackInfo{}, err
	}

	locLen := int(buf[offLocationLen])
	if offLocation+locLen > packInfoBodySize {
		return PackInfo{}, errors.New("pack location length exceeds record")
	}

	loc := string(buf[offLocation : offLocation+locLen])

	return PackInfo{
		Kind:         kind,
		PackID:       uint16(packID),
		UUID:         id,
		PackSize:     packSize,
		PackLocation: loc,
	}, nil
}

// MaskRanges returns the byte ranges -- relative to the start of the pack,
// i.e. suitable for pack.ComputeBlake3/pack.CheckIntegrity -- that must be
// treated as zero when computing or verifying the manifest's digest: the
// location field and CRC32 trailer of every record.
func MaskRanges(packCount int) []pack.MaskRange {
	masks := make([]pack.MaskRange, 0, packCount*2)

	for i := 0; i < packCount; i++ {
		base := int64(pack.HeaderSize + i*packInfoRecordSize)

		masks = append(masks,
			pack.MaskRange{Offset: base + offLocationLen, Length: int64(1 + packLocationMaxBytes)},
			pack.MaskRange{Offset: base + packInfoBodySize, Length: 4},
		)
	}

	return masks
}

// Manifest is a parsed manifest pack.
type Manifest struct {
	Header pack.Header
	Data   region.Region
	Packs  []PackInfo
}

// Open parses a manifest pack out of r and verifies its Blake3 check tail,
// applying the per-record location/CRC masks.
func Open(r region.Region) (*Manifest, error) {
	h, err := pack.OpenByHeader(r)
	if err != nil {
		return nil, err
	}

	if h.Kind != pack.KindManifest {
		return nil, errors.Errorf("expected manifest pack, got kind %v", h.Kind)
	}

	body := int64(h.CheckInfoPos) - pack.HeaderSize
	if body < 0 || body%packInfoRecordSize != 0 {
		return nil, errors.New("manifest pack body is not a whole number of pack-info records")
	}

	packCount := int(body / packInfoRecordSize)

	if err := pack.CheckIntegrity(r, h, MaskRanges(packCount)); err != nil {
		return nil, err
	}

	packs := make([]PackInfo, packCount)

	for i := 0; i < packCount; i++ {
		buf := make([]byte, packInfoRecordSize)

		off := int64(pack.HeaderSize + i*packInfoRecordSize)
		if err := r.ReadAt(buf, off); err != nil {
			return nil, errors.Wrapf(err, "error reading pack info record %v", i)
		}

		pi, err := decodePackInfo(buf)
		if err != nil {
			return nil, errors.Wrapf(err, "pack info record %v", i)
		}

		packs[i] = pi
	}

	return &Manifest{Header: h, Data: r, Packs: packs}, nil
}

// Find returns the PackInfo for id, if present.
func (m *Manifest) Find(id uuid.UUID) (PackInfo, bool) {
	for _, pi := range m.Packs {
		if pi.UUID == id {
			return pi, true
		}
	}

	return PackInfo{}, false
}

// Resolution is the result of resolving a PackInfo to an actual location:
// either the pack was found (Present) or it wasn't (a "may-miss" result
// that callers can degrade gracefully on, e.g. to report a partial
// archive instead of failing outright).
type Resolution struct {
	PackInfo PackInfo
	Path     string
	Missing  bool
}

// Locator resolves PackInfo entries to filesystem paths. Container is
// consulted first (packs embedded in the same container as the manifest);
// failing that, PackLocation is interpreted relative to manifestDir, as an
// absolute path, or as a file: URL.
type Locator struct {
	ManifestDir      string
	ContainerLocator func(uuid.UUID) (string, bool)
}

// Resolve finds where pi's bytes live.
func (l Locator) Resolve(pi PackInfo) Resolution {
	if l.ContainerLocator != nil {
		if path, ok := l.ContainerLocator(pi.UUID); ok {
			return Resolution{PackInfo: pi, Path: path}
		}
	}

	loc := pi.PackLocation
	if loc == "" {
		return Resolution{PackInfo: pi, Missing: true}
	}

	if strings.HasPrefix(loc, "file://") {
		return Resolution{PackInfo: pi, Path: strings.TrimPrefix(loc, "file://")}
	}

	if strings.HasPrefix(loc, "/") {
		return Resolution{PackInfo: pi, Path: loc}
	}

	return Resolution{PackInfo: pi, Path: l.ManifestDir + "/" + loc}
}

// UpdateLocator rewrites, in place, the packLocation field and per-record
// CRC32 of the packIndex'th record within a manifest pack's raw bytes.
// Because that field is masked out of the manifest's Blake3 digest, the
// manifest's own check tail remains valid afterward.
func UpdateLocator(image []byte, packIndex int, newLocation string) error {
	if len(newLocation) > packLocationMaxBytes {
		return errors.Errorf("pack location %q too long for manifest record", newLocation)
	}

	recordOff := pack.HeaderSize + packIndex*packInfoRecordSize
	if recordOff+packInfoRecordSize > len(image) {
		return errors.Errorf("pack index %v out of range for manifest image", packIndex)
	}

	record := image[recordOff : recordOff+packInfoRecordSize]

	for i := offLocationLen; i < packInfoBodySize; i++ {
		record[i] = 0
	}

	record[offLocationLen] = byte(len(newLocation))
	copy(record[offLocation:], newLocation)

	crc := format.BlockCRC32(record[:packInfoBodySize])
	record[packInfoBodySize] = byte(crc >> 24)
	record[packInfoBodySize+1] = byte(crc >> 16)
	record[packInfoBodySize+2] = byte(crc >> 8)
	record[packInfoBodySize+3] = byte(crc)

	return nil
}
