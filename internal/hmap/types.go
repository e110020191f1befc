// Package hmap parses the binary .hmap world-export container into the
// in-memory shape the import core operates on: segments, grids and
// markers. The wire grammar is internal plumbing (spec.md §4.1 treats it
// as an external, untyped byte stream); only the semantic invariants of
// spec.md §3 are part of the package's contract.
package hmap

import "fmt"

// Tileset is one entry of a grid's ordered tileset list; its index in
// the list is the "tileset index" sampled by tileIndices.
type Tileset struct {
	ResourceName string
}

// GridData is one 100x100 terrain grid, keyed by its grid coordinates.
type GridData struct {
	TileX, TileY int
	Tilesets     []Tileset
	// TileIndices is row-major [y*100+x], each a tileset index. A value
	// >= len(Tilesets) means the cell is missing.
	TileIndices [GridCells]byte
	// ZMap is optional per-cell height; nil when the grid carries no
	// height data.
	ZMap *[GridCells]float64
}

// GridSize is the terrain grid's edge length in cells.
const GridSize = 100

// GridCells is the total number of cells in a grid (GridSize^2).
const GridCells = GridSize * GridSize

// GridID derives the grid's persisted identifier, "{tileX}_{tileY}".
func (g GridData) GridID() string {
	return fmt.Sprintf("%d_%d", g.TileX, g.TileY)
}

// Marker is either an SMarker (carries a tileset icon resource) or an
// OtherMarker (uses the placeholder icon).
type Marker struct {
	Name         string
	TileX, TileY int // absolute tile coordinates, not grid coordinates
	ResourceName string
	IsSMarker    bool
}

// PlaceholderIcon is the resource name used for markers without their
// own icon resource.
const PlaceholderIcon = "gfx/terobjs/mm/custom"

// Image returns the icon resource name to use for this marker.
func (m Marker) Image() string {
	if m.IsSMarker && m.ResourceName != "" {
		return m.ResourceName
	}
	return PlaceholderIcon
}

// Container is the fully-parsed in-memory representation of one .hmap
// stream. It exists for the duration of a single import call.
type Container struct {
	segmentOrder []uint64
	grids        map[uint64][]GridData
	markers      map[uint64][]Marker
}

// NewContainer returns an empty container; used by the reader as it
// parses, and directly by tests constructing fixtures.
func NewContainer() *Container {
	return &Container{
		grids:   make(map[uint64][]GridData),
		markers: make(map[uint64][]Marker),
	}
}

// AddSegment registers a segment (first-occurrence order is preserved)
// and appends its grids and markers.
func (c *Container) AddSegment(id uint64, grids []GridData, markers []Marker) {
	if _, seen := c.grids[id]; !seen {
		c.segmentOrder = append(c.segmentOrder, id)
	}
	c.grids[id] = append(c.grids[id], grids...)
	c.markers[id] = append(c.markers[id], markers...)
}

// SegmentIDs returns the distinct segment ids, in stable first-occurrence
// order (spec.md §9's recommended tie-break for equal-sized segments).
func (c *Container) SegmentIDs() []uint64 {
	out := make([]uint64, len(c.segmentOrder))
	copy(out, c.segmentOrder)
	return out
}

// GridsForSegment returns the ordered grid list for a segment.
func (c *Container) GridsForSegment(id uint64) []GridData {
	return c.grids[id]
}

// MarkersForSegment returns the ordered marker list for a segment.
func (c *Container) MarkersForSegment(id uint64) []Marker {
	return c.markers[id]
}
