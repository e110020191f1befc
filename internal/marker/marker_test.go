package marker

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mapcore/hmapimport/internal/hmap"
)

type recordingPersister struct {
	persisted []PersistedMarker
	failFor   string
}

func (r *recordingPersister) PersistMarker(_ context.Context, m PersistedMarker) error {
	if r.failFor != "" && m.Name == r.failFor {
		return errors.New("persist failed")
	}
	r.persisted = append(r.persisted, m)
	return nil
}

func TestImport_ResolvesIntraGridOffsetForImportedGrid(t *testing.T) {
	p := &recordingPersister{}
	markers := []hmap.Marker{
		{Name: "camp", TileX: 150, TileY: 250, IsSMarker: true, ResourceName: "gfx/tiles/camp"},
	}
	result := Import(context.Background(), p, nil, map[string]bool{"1_2": true}, markers)

	require.Equal(t, 1, result.MarkersImported)
	require.Equal(t, 0, result.MarkersSkipped)
	require.Len(t, p.persisted, 1)
	require.Equal(t, "1_2", p.persisted[0].GridID)
	require.Equal(t, 50, p.persisted[0].PosX)
	require.Equal(t, 50, p.persisted[0].PosY)
	require.Equal(t, "gfx/tiles/camp", p.persisted[0].Image)
}

func TestImport_SkipsMarkerInUnimportedGrid(t *testing.T) {
	p := &recordingPersister{}
	markers := []hmap.Marker{
		{Name: "far-away", TileX: 5000, TileY: 5000},
	}
	result := Import(context.Background(), p, nil, map[string]bool{"1_2": true}, markers)

	require.Equal(t, 0, result.MarkersImported)
	require.Equal(t, 1, result.MarkersSkipped)
	require.Empty(t, p.persisted)
}

func TestImport_OtherMarkerUsesPlaceholderIcon(t *testing.T) {
	p := &recordingPersister{}
	markers := []hmap.Marker{{Name: "ruins", TileX: 100, TileY: 200}}
	Import(context.Background(), p, nil, map[string]bool{"1_2": true}, markers)

	require.Equal(t, hmap.PlaceholderIcon, p.persisted[0].Image)
}

func TestImport_PersistenceFailureCountsAsSkipped(t *testing.T) {
	p := &recordingPersister{failFor: "camp"}
	markers := []hmap.Marker{{Name: "camp", TileX: 150, TileY: 250}}
	result := Import(context.Background(), p, nil, map[string]bool{"1_2": true}, markers)

	require.Equal(t, 0, result.MarkersImported)
	require.Equal(t, 1, result.MarkersSkipped)
}
