// Package batch accumulates grid rows, tile rows, and storage deltas for
// one segment's import, flushing at a size threshold (spec.md §4.5). It
// is owned exclusively by the consumer side of the pipeline and needs no
// locking, mirroring the single-writer batch in mbtiles.Writer.
package batch

import "github.com/mapcore/hmapimport/internal/store"

// DefaultSize is the pending-item count that triggers a flush.
const DefaultSize = 500

// Context accumulates pending persistence work for one segment.
// Not safe for concurrent use; the consumer is its sole caller.
type Context struct {
	size int

	grids    []store.GridRow
	tiles    []store.TileRow
	pendingMB float64
}

// New returns a Context with the given flush threshold. size <= 0 uses
// DefaultSize.
func New(size int) *Context {
	if size <= 0 {
		size = DefaultSize
	}
	return &Context{size: size}
}

// AddGrid appends a grid row to the pending batch.
func (c *Context) AddGrid(g store.GridRow) {
	c.grids = append(c.grids, g)
}

// AddTile appends a tile row and its storage delta in megabytes.
func (c *Context) AddTile(t store.TileRow, mb float64) {
	c.tiles = append(c.tiles, t)
	c.pendingMB += mb
}

// ShouldFlush reports whether either pending list has reached the
// configured batch size.
func (c *Context) ShouldFlush() bool {
	return len(c.grids) >= c.size || len(c.tiles) >= c.size
}

// HasPendingItems reports whether any of grids, tiles, or MB is nonzero.
func (c *Context) HasPendingItems() bool {
	return len(c.grids) > 0 || len(c.tiles) > 0 || c.pendingMB != 0
}

// Extracted is a snapshot returned by ExtractBatch.
type Extracted struct {
	Grids []store.GridRow
	Tiles []store.TileRow
	MB    float64
}

// ExtractBatch atomically returns and resets all pending state.
func (c *Context) ExtractBatch() Extracted {
	out := Extracted{Grids: c.grids, Tiles: c.tiles, MB: c.pendingMB}
	c.grids = nil
	c.tiles = nil
	c.pendingMB = 0
	return out
}
