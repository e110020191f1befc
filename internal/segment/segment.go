// Package segment drives the per-segment import pipeline of spec.md
// §4.4: map selection, bounded-concurrency rendering, and single-writer
// persistence, coupled through a capacity-bounded channel. The
// concurrency shape (an errgroup.Group-limited producer pool feeding a
// single consumer, first-error-cancels-the-rest) generalizes the
// teacher's worker.Pool / worker.Progress callback-driven pool into a
// true backpressure pipeline.
package segment

import (
	"bytes"
	"context"
	"fmt"
	"image/png"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mapcore/hmapimport/internal/batch"
	"github.com/mapcore/hmapimport/internal/gridrender"
	"github.com/mapcore/hmapimport/internal/hmap"
	"github.com/mapcore/hmapimport/internal/importerrors"
	"github.com/mapcore/hmapimport/internal/store"
	"github.com/mapcore/hmapimport/internal/tileresource"
)

// Mode selects how a segment's target map is chosen.
type Mode int

const (
	// CreateNew always allocates a fresh map.
	CreateNew Mode = iota
	// Merge reuses an existing map if any of the segment's grids are
	// already present on one.
	Merge
)

const (
	// DefaultConcurrency is the number of concurrent rendering producers.
	DefaultConcurrency = 4
	// DefaultChannelCapacity bounds in-flight rendered grids awaiting
	// persistence.
	DefaultChannelCapacity = 20
)

// Config configures one ImportSegment call.
type Config struct {
	TenantID    string
	StorageRoot string
	Mode        Mode
	Concurrency int
	ChannelCap  int
	BatchSize   int

	Resources *tileresource.Service
	Store     *store.Store

	// OnBufferReleased is invoked once per rendered image, on every exit
	// path (persisted, dropped on error, or drained on cancellation). It
	// exists so tests can verify no image buffer is ever leaked.
	OnBufferReleased func()
}

// Result mirrors spec.md §4.4's SegmentImporter return shape.
type Result struct {
	MapID          int64
	IsNewMap       bool
	GridsImported  int
	GridsSkipped   int
	CreatedGridIDs []string
	GridsProcessed int
}

type renderedGrid struct {
	row    store.GridRow
	tileX  int
	tileY  int
	pngBuf []byte
}

// ImportSegment imports one segment's grids per spec.md §4.4.
func ImportSegment(ctx context.Context, cfg Config, grids []hmap.GridData) (Result, error) {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	chanCap := cfg.ChannelCap
	if chanCap <= 0 {
		chanCap = DefaultChannelCapacity
	}

	mapID, isNewMap, remaining, skipped, err := selectMap(cfg, grids)
	if err != nil {
		return Result{}, err
	}

	ch := make(chan renderedGrid, chanCap)

	producers, pipelineCtx := errgroup.WithContext(ctx)
	producers.SetLimit(concurrency)

	for _, g := range remaining {
		g := g
		producers.Go(func() error {
			return renderOne(pipelineCtx, cfg, mapID, g, ch)
		})
	}
	go func() {
		producers.Wait()
		close(ch)
	}()

	consumerResult, consumerErr := consume(pipelineCtx, cfg, mapID, ch)
	producerErr := producers.Wait()

	// Step 3: memory hygiene once the segment's pipeline has finished.
	if cfg.Resources != nil {
		cfg.Resources.ClearMemoryCache()
	}

	if producerErr != nil {
		return buildResult(mapID, isNewMap, consumerResult, skipped), producerErr
	}
	if consumerErr != nil {
		return buildResult(mapID, isNewMap, consumerResult, skipped), consumerErr
	}
	if err := ctx.Err(); err != nil {
		return buildResult(mapID, isNewMap, consumerResult, skipped), importerrors.ErrCanceled
	}
	return buildResult(mapID, isNewMap, consumerResult, skipped), nil
}

func buildResult(mapID int64, isNewMap bool, c consumerOutcome, skipped int) Result {
	return Result{
		MapID:          mapID,
		IsNewMap:       isNewMap,
		GridsImported:  len(c.createdGridIDs),
		GridsSkipped:   skipped,
		CreatedGridIDs: c.createdGridIDs,
		GridsProcessed: c.processed,
	}
}

// selectMap implements spec.md §4.4 step 1.
func selectMap(cfg Config, grids []hmap.GridData) (mapID int64, isNewMap bool, remaining []hmap.GridData, skipped int, err error) {
	if cfg.Mode == CreateNew {
		mapID, err = cfg.Store.CreateMap(cfg.TenantID, newMapName())
		if err != nil {
			return 0, false, nil, 0, err
		}
		return mapID, true, grids, 0, nil
	}

	ids := make([]string, len(grids))
	for i, g := range grids {
		ids[i] = g.GridID()
	}
	foundMapID, present, err := cfg.Store.ExistingGridMapID(cfg.TenantID, ids)
	if err != nil {
		return 0, false, nil, 0, err
	}
	if len(present) > 0 {
		remaining = make([]hmap.GridData, 0, len(grids))
		for _, g := range grids {
			if present[g.GridID()] {
				skipped++
				continue
			}
			remaining = append(remaining, g)
		}
		return foundMapID, false, remaining, skipped, nil
	}

	mapID, err = cfg.Store.CreateMap(cfg.TenantID, newMapName())
	if err != nil {
		return 0, false, nil, 0, err
	}
	return mapID, true, grids, 0, nil
}

func newMapName() string {
	return fmt.Sprintf("map-%d", time.Now().UnixNano())
}

// renderOne is one producer task: render, encode, hand off. It never
// persists anything itself. A non-nil return cancels the shared
// errgroup context, stopping every other in-flight producer.
func renderOne(ctx context.Context, cfg Config, mapID int64, g hmap.GridData, ch chan<- renderedGrid) error {
	if ctx.Err() != nil {
		return nil
	}

	textures := make([]*gridrender.TileImage, len(g.Tilesets))
	for i, ts := range g.Tilesets {
		img, err := cfg.Resources.GetTileImage(ctx, ts.ResourceName)
		if err != nil {
			return err
		}
		textures[i] = img
	}

	img := gridrender.Render(g, textures)

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return &importerrors.IoError{Path: g.GridID() + ".png", Err: err}
	}

	row := store.GridRow{
		ID:         g.GridID(),
		MapID:      mapID,
		CoordX:     g.TileX,
		CoordY:     g.TileY,
		NextUpdate: time.Now().Add(-time.Minute).Unix(),
		TenantID:   cfg.TenantID,
	}

	select {
	case ch <- renderedGrid{row: row, tileX: g.TileX, tileY: g.TileY, pngBuf: buf.Bytes()}:
	case <-ctx.Done():
		if cfg.OnBufferReleased != nil {
			cfg.OnBufferReleased()
		}
	}
	return nil
}

type consumerOutcome struct {
	createdGridIDs []string
	processed      int
}

// consume is the single consumer of spec.md §4.4 step 2: it owns the
// BatchContext and is the only writer to disk and the database.
func consume(ctx context.Context, cfg Config, mapID int64, ch <-chan renderedGrid) (consumerOutcome, error) {
	bctx := batch.New(cfg.BatchSize)
	var out consumerOutcome
	var firstErr error

	flush := func() error {
		snap := bctx.ExtractBatch()
		if len(snap.Grids) == 0 && len(snap.Tiles) == 0 && snap.MB == 0 {
			return nil
		}
		_, err := cfg.Store.FlushBatch(cfg.TenantID, snap.Grids, snap.Tiles, snap.MB)
		return err
	}

	for rg := range ch {
		out.processed++

		// Canceled or already failed: drain without writing, but still
		// release the buffer on this exit path.
		if ctx.Err() != nil || firstErr != nil {
			release(cfg, rg)
			continue
		}

		relPath := filepath.Join("tenants", cfg.TenantID, fmt.Sprint(mapID), "0", fmt.Sprintf("%d_%d.png", rg.tileX, rg.tileY))
		absPath := filepath.Join(cfg.StorageRoot, relPath)

		if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
			firstErr = &importerrors.IoError{Path: absPath, Err: err}
			release(cfg, rg)
			continue
		}
		if err := os.WriteFile(absPath, rg.pngBuf, 0o644); err != nil {
			firstErr = &importerrors.IoError{Path: absPath, Err: err}
			release(cfg, rg)
			continue
		}

		tile := store.TileRow{
			MapID:         mapID,
			Zoom:          0,
			CoordX:        rg.tileX,
			CoordY:        rg.tileY,
			File:          relPath,
			Cache:         time.Now().Unix(),
			TenantID:      cfg.TenantID,
			FileSizeBytes: int64(len(rg.pngBuf)),
		}
		mb := float64(len(rg.pngBuf)) / (1024 * 1024)

		bctx.AddGrid(rg.row)
		bctx.AddTile(tile, mb)
		out.createdGridIDs = append(out.createdGridIDs, rg.row.ID)

		if bctx.ShouldFlush() {
			if err := flush(); err != nil {
				firstErr = err
			}
		}

		release(cfg, rg)
	}

	if firstErr == nil && ctx.Err() == nil {
		if err := flush(); err != nil {
			firstErr = err
		}
	}

	return out, firstErr
}

func release(cfg Config, _ renderedGrid) {
	if cfg.OnBufferReleased != nil {
		cfg.OnBufferReleased()
	}
}
