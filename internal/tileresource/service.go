// Package tileresource resolves tileset resource names (e.g.
// "gfx/tiles/grass") into owned RGBA textures for the renderer, backed by
// a two-tier cache (persistent disk, bounded in-memory LRU) and a
// network fetch on miss, per spec.md §4.2.
package tileresource

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/mapcore/hmapimport/internal/gridrender"
	"github.com/mapcore/hmapimport/internal/importerrors"
)

// Fetcher retrieves the raw PNG bytes for a resource name over the
// network. Production code uses HTTPFetcher; tests inject fakes.
type Fetcher interface {
	Fetch(ctx context.Context, resourceName string) ([]byte, error)
}

// Config configures a Service.
type Config struct {
	// DiskCacheDir is the persistent, resource-name-keyed disk cache
	// directory (spec.md §6: "hmap-tile-cache/").
	DiskCacheDir string
	// MemoryCacheSize bounds the in-memory LRU tier by entry count.
	MemoryCacheSize int
	Fetcher         Fetcher
	Logger          *slog.Logger
}

// Service is the TileResourceService of spec.md §4.2. Safe for
// concurrent use by multiple rendering producers.
type Service struct {
	disk   *diskCache
	memory *lru.Cache[string, *gridrender.TileImage]
	fetch  Fetcher
	logger *slog.Logger

	sf singleflight.Group

	mu             sync.Mutex
	firstNetErr    error
	firstNetErrSet bool
}

// New constructs a Service. MemoryCacheSize <= 0 defaults to 256 entries.
func New(cfg Config) (*Service, error) {
	size := cfg.MemoryCacheSize
	if size <= 0 {
		size = 256
	}
	memCache, err := lru.New[string, *gridrender.TileImage](size)
	if err != nil {
		return nil, fmt.Errorf("create memory cache: %w", err)
	}

	disk, err := newDiskCache(cfg.DiskCacheDir)
	if err != nil {
		return nil, fmt.Errorf("create disk cache: %w", err)
	}

	return &Service{
		disk:   disk,
		memory: memCache,
		fetch:  cfg.Fetcher,
		logger: cfg.Logger,
	}, nil
}

// GetTileImage resolves resourceName to an owned RGBA texture usable once
// by the caller. Returns (nil, nil) if the resource is ultimately
// unavailable (renderer treats nil as "missing").
func (s *Service) GetTileImage(ctx context.Context, resourceName string) (*gridrender.TileImage, error) {
	if img, ok := s.memory.Get(resourceName); ok {
		return cloneTile(img), nil
	}

	// singleflight collapses concurrent misses for the same resource
	// into a single disk-read-or-fetch.
	v, err, _ := s.sf.Do(resourceName, func() (interface{}, error) {
		return s.resolve(ctx, resourceName)
	})
	if err != nil {
		return nil, err
	}
	img, _ := v.(*gridrender.TileImage)
	if img == nil {
		return nil, nil
	}
	return cloneTile(img), nil
}

func (s *Service) resolve(ctx context.Context, resourceName string) (*gridrender.TileImage, error) {
	if cached, ok := s.disk.read(resourceName); ok {
		img, err := decodeTile(cached)
		if err != nil {
			s.log().Warn("corrupt disk cache entry, refetching", "resource", resourceName, "error", err)
		} else {
			s.memory.Add(resourceName, img)
			return img, nil
		}
	}

	if s.fetch == nil {
		return nil, nil
	}

	raw, err := s.fetch.Fetch(ctx, resourceName)
	if err != nil {
		s.recordFirstNetworkError(resourceName, err)
		s.log().Warn("tileset resource fetch failed, rendering as missing", "resource", resourceName, "error", err)
		return nil, nil
	}

	img, err := decodeTile(raw)
	if err != nil {
		s.recordFirstNetworkError(resourceName, err)
		return nil, nil
	}

	if err := s.disk.write(resourceName, raw); err != nil {
		s.log().Warn("failed to persist disk cache entry", "resource", resourceName, "error", err)
	}
	s.memory.Add(resourceName, img)
	return img, nil
}

// PrefetchProgress reports progress through a bulk Prefetch call.
type PrefetchProgress func(resourceName string, done, total int)

// Prefetch resolves every resource in names, reporting per-resource
// progress. Individual failures are absorbed (they become "missing" at
// render time); Prefetch itself only fails if ctx is canceled.
func (s *Service) Prefetch(ctx context.Context, names []string, progress PrefetchProgress) error {
	for i, name := range names {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := s.GetTileImage(ctx, name); err != nil {
			s.log().Debug("prefetch miss", "resource", name, "error", err)
		}
		if progress != nil {
			progress(name, i+1, len(names))
		}
	}
	return nil
}

// ClearMemoryCache resets the in-memory LRU tier between segments
// (spec.md §4.4 step 3). The disk tier is untouched.
func (s *Service) ClearMemoryCache() {
	s.memory.Purge()
}

// FirstNetworkError returns the first network fetch error observed
// during this service's lifetime, or nil if none occurred.
func (s *Service) FirstNetworkError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.firstNetErr
}

func (s *Service) recordFirstNetworkError(resourceName string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.firstNetErrSet {
		return
	}
	s.firstNetErrSet = true
	s.firstNetErr = &importerrors.ResourceFetchError{ResourceName: resourceName, Err: err}
}

func (s *Service) log() *slog.Logger {
	if s.logger != nil {
		return s.logger
	}
	return slog.Default()
}

func decodeTile(raw []byte) (*gridrender.TileImage, error) {
	img, err := png.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decode tileset png: %w", err)
	}
	nrgba := toNRGBA(img)
	bounds := nrgba.Bounds()
	return &gridrender.TileImage{Width: bounds.Dx(), Height: bounds.Dy(), Pix: nrgba.Pix}, nil
}

func toNRGBA(img image.Image) *image.NRGBA {
	if n, ok := img.(*image.NRGBA); ok {
		return n
	}
	b := img.Bounds()
	out := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			out.Set(x-b.Min.X, y-b.Min.Y, img.At(x, y))
		}
	}
	return out
}

// cloneTile returns a deep copy so callers never share a mutable buffer
// with the cache (spec.md §4.2: "Returned images must be owned clones").
func cloneTile(t *gridrender.TileImage) *gridrender.TileImage {
	pix := make([]byte, len(t.Pix))
	copy(pix, t.Pix)
	return &gridrender.TileImage{Width: t.Width, Height: t.Height, Pix: pix}
}
