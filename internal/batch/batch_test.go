package batch

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mapcore/hmapimport/internal/store"
)

func TestShouldFlush_TriggersAtThreshold(t *testing.T) {
	c := New(2)
	require.False(t, c.ShouldFlush())

	c.AddGrid(store.GridRow{ID: "0_0"})
	require.False(t, c.ShouldFlush())

	c.AddGrid(store.GridRow{ID: "1_0"})
	require.True(t, c.ShouldFlush())
}

func TestShouldFlush_TriggersOnTilesIndependently(t *testing.T) {
	c := New(2)
	c.AddTile(store.TileRow{CoordX: 0, CoordY: 0}, 1.0)
	require.False(t, c.ShouldFlush())
	c.AddTile(store.TileRow{CoordX: 1, CoordY: 0}, 1.0)
	require.True(t, c.ShouldFlush())
}

func TestExtractBatch_AtomicResetAndSnapshot(t *testing.T) {
	c := New(DefaultSize)
	c.AddGrid(store.GridRow{ID: "0_0"})
	c.AddTile(store.TileRow{CoordX: 0, CoordY: 0}, 0.25)

	require.True(t, c.HasPendingItems())

	snap := c.ExtractBatch()
	require.Len(t, snap.Grids, 1)
	require.Len(t, snap.Tiles, 1)
	require.Equal(t, 0.25, snap.MB)

	require.False(t, c.HasPendingItems())
	require.False(t, c.ShouldFlush())
}

func TestHasPendingItems_FalseWhenEmpty(t *testing.T) {
	c := New(DefaultSize)
	require.False(t, c.HasPendingItems())
}

func TestNew_NonPositiveSizeUsesDefault(t *testing.T) {
	c := New(0)
	require.Equal(t, DefaultSize, c.size)
}
