// Package orchestrator drives the five-phase import call of spec.md
// §4.8: parse, prefetch, per-segment import, zoom pyramid rebuild, and
// marker import, reporting weighted progress and propagating
// cancellation throughout. Sequential by design (§5): only the work
// inside the Import phase's segments is itself concurrent.
package orchestrator

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	"github.com/mapcore/hmapimport/internal/hmap"
	"github.com/mapcore/hmapimport/internal/importerrors"
	"github.com/mapcore/hmapimport/internal/marker"
	"github.com/mapcore/hmapimport/internal/segment"
	"github.com/mapcore/hmapimport/internal/store"
	"github.com/mapcore/hmapimport/internal/tile"
	"github.com/mapcore/hmapimport/internal/tileresource"
	"github.com/mapcore/hmapimport/internal/zoom"
)

// DefaultMaxSegments caps the number of segments imported per call
// (spec.md §4.8).
const DefaultMaxSegments = 3

// Config configures one Import call. Store, Resources, and Markers are
// shared collaborators; the remaining fields mirror spec.md §6's
// configuration surface.
type Config struct {
	TenantID    string
	Mode        segment.Mode
	StorageRoot string

	MaxSegments int
	Concurrency int
	ChannelCap  int
	BatchSize   int

	Store     *store.Store
	Resources *tileresource.Service
	Markers   marker.Persister
	Logger    *slog.Logger

	Progress Sink
}

// Result mirrors spec.md §6's ImportResult.
type Result struct {
	Success         bool
	ErrorMessage    string
	AffectedMapIDs  []int64
	CreatedMapIDs   []int64
	CreatedGridIDs  []string
	MapsCreated     int
	GridsImported   int
	GridsSkipped    int
	TilesRendered   int
	MarkersImported int
	MarkersSkipped  int
	Duration        time.Duration
}

// Import runs the full five-phase pipeline against stream.
func Import(ctx context.Context, cfg Config, stream io.Reader) (res Result) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("tenant", cfg.TenantID)

	start := time.Now()
	tr := newTracker(cfg.Progress)

	defer func() {
		res.Duration = time.Since(start)
	}()

	// Phase 1: Parse.
	tr.report("Parse", 1, 1, true)
	container, err := hmap.Read(stream)
	if err != nil {
		logger.Error("parse failed", "error", err)
		return failure(err)
	}

	segmentIDs := selectSegments(container, cfg.maxSegments(), logger)

	// Phase 2: Prefetch.
	resourceNames := collectResourceNames(container, segmentIDs)
	if err := prefetch(ctx, cfg, tr, resourceNames); err != nil {
		logger.Error("prefetch aborted", "error", err)
		return failure(err)
	}
	if ctx.Err() != nil {
		return failure(importerrors.ErrCanceled)
	}

	// Phase 3: Import, sequentially across the selected segments.
	importRes, touchedByMap, err := importSegments(ctx, cfg, tr, container, segmentIDs, logger)
	importRes.applyTo(&res)
	res.TilesRendered = res.GridsImported
	if err != nil {
		logger.Error("import phase failed", "error", err)
		res.ErrorMessage = importerrors.Abstract(err)
		return res
	}

	// Phase 4: Zoom pyramid rebuild, per affected map.
	if err := rebuildZoomPyramids(cfg, tr, touchedByMap); err != nil {
		logger.Error("zoom phase failed", "error", err)
		res.ErrorMessage = importerrors.Abstract(err)
		return res
	}

	// Phase 5: Markers, after all zoom updates (§5 ordering guarantee).
	importMarkers(ctx, cfg, tr, container, segmentIDs, importRes.importedGridIDsByMap, &res)

	res.Success = true
	return res
}

func (cfg Config) maxSegments() int {
	if cfg.MaxSegments > 0 {
		return cfg.MaxSegments
	}
	return DefaultMaxSegments
}

func failure(err error) Result {
	return Result{Success: false, ErrorMessage: importerrors.Abstract(err)}
}

// selectSegments picks at most maxSegments segment ids by descending
// grid count, breaking ties by stable first-occurrence order (spec.md
// §9's recommended tie-break). Dropped segments are logged, not errored.
func selectSegments(container *hmap.Container, maxSegments int, logger *slog.Logger) []uint64 {
	all := container.SegmentIDs()
	type scored struct {
		id    uint64
		count int
		index int
	}
	scoredIDs := make([]scored, len(all))
	for i, id := range all {
		scoredIDs[i] = scored{id: id, count: len(container.GridsForSegment(id)), index: i}
	}
	sort.SliceStable(scoredIDs, func(i, j int) bool {
		return scoredIDs[i].count > scoredIDs[j].count
	})

	if len(scoredIDs) > maxSegments {
		for _, dropped := range scoredIDs[maxSegments:] {
			logger.Info("segment dropped by selection cap", "segment", dropped.id, "grids", dropped.count)
		}
		scoredIDs = scoredIDs[:maxSegments]
	}

	out := make([]uint64, len(scoredIDs))
	for i, s := range scoredIDs {
		out[i] = s.id
	}
	return out
}

func collectResourceNames(container *hmap.Container, segmentIDs []uint64) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(name string) {
		if name == "" || seen[name] {
			return
		}
		seen[name] = true
		out = append(out, name)
	}

	for _, id := range segmentIDs {
		for _, g := range container.GridsForSegment(id) {
			for _, ts := range g.Tilesets {
				add(ts.ResourceName)
			}
		}
		for _, m := range container.MarkersForSegment(id) {
			add(m.Image())
		}
	}
	return out
}

func prefetch(ctx context.Context, cfg Config, tr *tracker, names []string) error {
	total := len(names)
	if total == 0 {
		return nil
	}
	return cfg.Resources.Prefetch(ctx, names, func(_ string, done, total int) {
		tr.report("Prefetch", done, total, false)
	})
}

type importPhaseResult struct {
	affectedMapIDs       []int64
	createdMapIDs        []int64
	createdGridIDs       []string
	mapsCreated          int
	gridsImported        int
	gridsSkipped         int
	importedGridIDsByMap map[uint64]map[string]bool
}

func (r importPhaseResult) applyTo(res *Result) {
	res.AffectedMapIDs = r.affectedMapIDs
	res.CreatedMapIDs = r.createdMapIDs
	res.CreatedGridIDs = r.createdGridIDs
	res.MapsCreated = r.mapsCreated
	res.GridsImported = r.gridsImported
	res.GridsSkipped = r.gridsSkipped
}

// importSegments runs SegmentImporter sequentially across segmentIDs and
// collects, per map, the base-zoom coordinates touched, so Phase 4 can
// rebuild exactly the ancestor tiles affected.
func importSegments(ctx context.Context, cfg Config, tr *tracker, container *hmap.Container, segmentIDs []uint64, logger *slog.Logger) (importPhaseResult, map[int64][]tile.Coord, error) {
	var result importPhaseResult
	result.importedGridIDsByMap = make(map[uint64]map[string]bool)
	touchedByMap := make(map[int64][]tile.Coord)

	total := len(segmentIDs)
	for i, segID := range segmentIDs {
		if ctx.Err() != nil {
			return result, touchedByMap, importerrors.ErrCanceled
		}

		grids := container.GridsForSegment(segID)
		segCfg := segment.Config{
			TenantID:    cfg.TenantID,
			StorageRoot: cfg.StorageRoot,
			Mode:        cfg.Mode,
			Concurrency: cfg.Concurrency,
			ChannelCap:  cfg.ChannelCap,
			BatchSize:   cfg.BatchSize,
			Resources:   cfg.Resources,
			Store:       cfg.Store,
		}

		segResult, err := segment.ImportSegment(ctx, segCfg, grids)
		tr.report("Import", i+1, total, i == 0 || i == total-1)

		if segResult.IsNewMap {
			result.createdMapIDs = append(result.createdMapIDs, segResult.MapID)
			result.mapsCreated++
		}
		result.affectedMapIDs = appendUnique(result.affectedMapIDs, segResult.MapID)
		result.createdGridIDs = append(result.createdGridIDs, segResult.CreatedGridIDs...)
		result.gridsImported += segResult.GridsImported
		result.gridsSkipped += segResult.GridsSkipped

		imported := result.importedGridIDsByMap[segID]
		if imported == nil {
			imported = make(map[string]bool, len(segResult.CreatedGridIDs))
		}
		for _, gid := range segResult.CreatedGridIDs {
			imported[gid] = true
		}
		result.importedGridIDsByMap[segID] = imported

		for _, g := range grids {
			if imported[g.GridID()] {
				touchedByMap[segResult.MapID] = append(touchedByMap[segResult.MapID], tile.New(g.TileX, g.TileY))
			}
		}

		if err != nil {
			logger.Error("segment import failed", "segment", segID, "error", err)
			return result, touchedByMap, err
		}
	}

	return result, touchedByMap, nil
}

func appendUnique(ids []int64, id int64) []int64 {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	return append(ids, id)
}

func rebuildZoomPyramids(cfg Config, tr *tracker, touchedByMap map[int64][]tile.Coord) error {
	total := len(touchedByMap)
	if total == 0 {
		return nil
	}

	mapIDs := make([]int64, 0, total)
	for mapID := range touchedByMap {
		mapIDs = append(mapIDs, mapID)
	}
	sort.Slice(mapIDs, func(i, j int) bool { return mapIDs[i] < mapIDs[j] })

	for i, mapID := range mapIDs {
		zcfg := zoom.Config{TenantID: cfg.TenantID, MapID: mapID, StorageRoot: cfg.StorageRoot, Store: cfg.Store}
		if err := zoom.Build(zcfg, touchedByMap[mapID]); err != nil {
			return fmt.Errorf("rebuild zoom pyramid for map %d: %w", mapID, err)
		}
		tr.report("Zoom", i+1, total, i == 0 || i == total-1)
	}
	return nil
}

func importMarkers(ctx context.Context, cfg Config, tr *tracker, container *hmap.Container, segmentIDs []uint64, importedByMap map[uint64]map[string]bool, res *Result) {
	if cfg.Markers == nil {
		return
	}

	total := len(segmentIDs)
	for i, segID := range segmentIDs {
		markers := container.MarkersForSegment(segID)
		result := marker.Import(ctx, cfg.Markers, cfg.Logger, importedByMap[segID], markers)
		res.MarkersImported += result.MarkersImported
		res.MarkersSkipped += result.MarkersSkipped
		tr.report("Markers", i+1, total, i == 0 || i == total-1)
	}
}
