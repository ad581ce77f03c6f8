// Package reader ties together the manifest, directory, content and
// container packs into a single read API: open an archive by its manifest
// (or a container embedding one), resolve every sub-pack it references,
// and hand out blobs and entries through a uniform, concurrency-safe
// interface.
package reader

import (
	"context"
	"io"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/jubako/jubako-go/cluster"
	"github.com/jubako/jubako-go/containerpack"
	"github.com/jubako/jubako-go/contentpack"
	"github.com/jubako/jubako-go/directorypack"
	"github.com/jubako/jubako-go/internal/logging"
	"github.com/jubako/jubako-go/manifestpack"
	"github.com/jubako/jubako-go/pack"
	"github.com/jubako/jubako-go/region"
)

// ErrPackMissing is returned when a manifest references a pack that could
// not be located. Callers may treat this as fatal or degrade gracefully
// (e.g. report a partial archive) depending on context.
var ErrPackMissing = errors.New("referenced pack could not be located")

// Archive is an opened Jubako archive: a manifest plus every directory and
// content pack it references, lazily parsed on first access and safe for
// concurrent readers thereafter.
type Archive struct {
	logger logging.Logger

	root      region.Region
	container *containerpack.Container
	manifest  *manifestpack.Manifest
	locator   manifestpack.Locator

	mu              sync.Mutex
	directoryByUUID map[uuid.UUID]*directorypack.Pack
	contentByUUID   map[uuid.UUID]*contentpack.Pack
	closers         []io.Closer

	cache *cluster.Cache
}

// Options configures archive opening.
type Options struct {
	Logger logging.Logger
	// DecompressedCache bounds how many decompressed clusters are held in
	// memory at once, across every content pack in the archive. 0 picks a
	// small default.
	DecompressedCache int
}

// Open opens the archive whose manifest (or a container embedding one)
// lives at path.
func Open(path string, opts Options) (*Archive, error) {
	if opts.Logger == nil {
		opts.Logger = logging.GetLogger(context.Background())
	}

	cacheSize := opts.DecompressedCache
	if cacheSize <= 0 {
		cacheSize = 64
	}

	cache, err := cluster.NewCache(cacheSize)
	if err != nil {
		return nil, err
	}

	mr, err := region.OpenMapped(path)
	if err != nil {
		return nil, err
	}

	a := &Archive{
		logger:          opts.Logger,
		root:            mr.Region,
		directoryByUUID: map[uuid.UUID]*directorypack.Pack{},
		contentByUUID:   map[uuid.UUID]*contentpack.Pack{},
		closers:         []io.Closer{mr},
		cache:           cache,
	}

	h, err := pack.OpenByHeader(a.root)
	if err != nil {
		return nil, errors.Wrap(err, "error opening archive entry point")
	}

	switch h.Kind {
	case pack.KindManifest:
		m, err := manifestpack.Open(a.root)
		if err != nil {
			return nil, err
		}

		a.manifest = m
		a.locator = manifestpack.Locator{ManifestDir: filepath.Dir(path)}
	case pack.KindContainer:
		c, err := containerpack.Open(a.root)
		if err != nil {
			return nil, err
		}

		a.container = c

		m, err := a.openManifestFromContainer(c)
		if err != nil {
			return nil, err
		}

		a.manifest = m
		a.locator = manifestpack.Locator{ManifestDir: filepath.Dir(path)}
	default:
		return nil, errors.Errorf("%v is neither a manifest nor a container pack", path)
	}

	return a, nil
}

// openManifestFromContainer scans a container's locators for the one
// sub-pack of kind manifest.
func (a *Archive) openManifestFromContainer(c *containerpack.Container) (*manifestpack.Manifest, error) {
	for _, loc := range c.Locators {
		sub, err := c.SubRegion(a.root, loc)
		if err != nil {
			return nil, err
		}

		h, err := pack.OpenByHeader(sub)
		if err != nil {
			return nil, err
		}

		if h.Kind == pack.KindManifest {
			return manifestpack.Open(sub)
		}
	}

	return nil, errors.New("container carries no manifest pack")
}

// Manifest returns the archive's parsed manifest pack.
func (a *Archive) Manifest() *manifestpack.Manifest {
	return a.manifest
}

// Close releases every memory-mapped pack held by the archive.
func (a *Archive) Close() error {
	var firstErr error

	for _, c := range a.closers {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}

// DirectoryPack resolves and parses the directory pack named by id,
// caching the parsed result for subsequent calls.
func (a *Archive) DirectoryPack(id uuid.UUID) (*directorypack.Pack, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if dp, ok := a.directoryByUUID[id]; ok {
		return dp, nil
	}

	r, err := a.openSubPack(id, pack.KindDirectory)
	if err != nil {
		return nil, err
	}

	dp, err := directorypack.Open(r)
	if err != nil {
		return nil, err
	}

	a.directoryByUUID[id] = dp

	return dp, nil
}

// ContentPack resolves and parses the content pack named by id, caching
// the parsed result for subsequent calls.
func (a *Archive) ContentPack(id uuid.UUID) (*contentpack.Pack, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if cp, ok := a.contentByUUID[id]; ok {
		return cp, nil
	}

	r, err := a.openSubPack(id, pack.KindContent)
	if err != nil {
		return nil, err
	}

	cp, err := contentpack.Open(r, a.cache)
	if err != nil {
		return nil, err
	}

	a.contentByUUID[id] = cp

	return cp, nil
}

// openSubPack resolves id's location via the manifest/container locator
// chain and returns a region over its bytes. Caller holds a.mu.
func (a *Archive) openSubPack(id uuid.UUID, wantKind pack.Kind) (region.Region, error) {
	pi, ok := a.manifest.Find(id)
	if !ok {
		return region.Region{}, errors.Wrapf(ErrPackMissing, "pack %v not in manifest", id)
	}

	if pi.Kind != wantKind {
		return region.Region{}, errors.Errorf("pack %v is kind %v, not %v", id, pi.Kind, wantKind)
	}

	if a.container != nil {
		if loc, ok := a.container.Find(id); ok {
			return a.container.SubRegion(a.root, loc)
		}
	}

	res := a.locator.Resolve(pi)
	if res.Missing {
		return region.Region{}, errors.Wrapf(ErrPackMissing, "pack %v has no resolvable location", id)
	}

	mr, err := region.OpenMapped(res.Path)
	if err != nil {
		// A recorded location that no longer resolves to an openable file
		// (the pack moved, was renamed, or was deleted) is exactly the same
		// "can't be located" condition as an empty PackLocation -- callers
		// should be able to branch on ErrPackMissing either way.
		return region.Region{}, errors.Wrapf(ErrPackMissing, "pack %v recorded at %v: %v", id, res.Path, err)
	}

	a.closers = append(a.closers, mr)

	return mr.Region, nil
}
