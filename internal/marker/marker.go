// Package marker resolves absolute-tile marker coordinates onto the
// grids imported for a segment and persists them through an external
// marker service (spec.md §4.7). It is implemented on the standard
// library only: see DESIGN.md for why no pack dependency fits this
// narrow coordinate-arithmetic-plus-persist concern.
package marker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mapcore/hmapimport/internal/hmap"
)

// PersistedMarker is what gets handed to the external marker service.
type PersistedMarker struct {
	GridID string
	Name   string
	PosX   int
	PosY   int
	Image  string
}

// Persister is the external marker service contract (owned outside this
// core, per spec.md §6's "Markers(...) — owned by external marker
// service").
type Persister interface {
	PersistMarker(ctx context.Context, m PersistedMarker) error
}

// Result reports how many markers were imported versus skipped.
type Result struct {
	MarkersImported int
	MarkersSkipped  int
}

// Import resolves and persists every marker in markers against the set
// of grid ids actually imported for the segment. Persistence failures
// are logged and counted as skipped; they never abort the import
// (spec.md §4.7).
func Import(ctx context.Context, persister Persister, logger *slog.Logger, importedGridIDs map[string]bool, markers []hmap.Marker) Result {
	if logger == nil {
		logger = slog.Default()
	}

	var result Result
	for _, m := range markers {
		gridX := floorDiv(m.TileX, hmap.GridSize)
		gridY := floorDiv(m.TileY, hmap.GridSize)
		gridID := fmt.Sprintf("%d_%d", gridX, gridY)

		if !importedGridIDs[gridID] {
			result.MarkersSkipped++
			continue
		}

		pm := PersistedMarker{
			GridID: gridID,
			Name:   m.Name,
			PosX:   mod(m.TileX, hmap.GridSize),
			PosY:   mod(m.TileY, hmap.GridSize),
			Image:  m.Image(),
		}

		if err := persister.PersistMarker(ctx, pm); err != nil {
			logger.Warn("marker persistence failed, skipping", "name", m.Name, "grid", gridID, "error", err)
			result.MarkersSkipped++
			continue
		}
		result.MarkersImported++
	}
	return result
}

// floorDiv is floored (negative-aware) division, matching tile.Coord's
// parent arithmetic; see spec.md §9 on Euclidean marker placement.
func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// mod is Euclidean remainder (always non-negative), matching §9's note
// that the intra-grid offset must stay non-negative if negative worlds
// are ever supported, even though plain '%' would suffice today since
// tile coordinates are non-negative.
func mod(a, b int) int {
	m := a % b
	if m < 0 {
		m += b
	}
	return m
}
