package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateMap_AssignsID(t *testing.T) {
	s := openTestStore(t)
	id, err := s.CreateMap("tenant-a", "homeland")
	require.NoError(t, err)
	require.NotZero(t, id)
}

func TestExistingGridMapID_FindsPresentAndMissing(t *testing.T) {
	s := openTestStore(t)
	mapID, err := s.CreateMap("tenant-a", "homeland")
	require.NoError(t, err)
	require.NoError(t, s.EnsureTenantQuota("tenant-a", 1000))

	_, err = s.FlushBatch("tenant-a", []GridRow{{ID: "5_7", MapID: mapID, TenantID: "tenant-a"}}, nil, 0)
	require.NoError(t, err)

	foundMapID, present, err := s.ExistingGridMapID("tenant-a", []string{"5_7", "1_1", "2_2"})
	require.NoError(t, err)
	require.Equal(t, mapID, foundMapID)
	require.True(t, present["5_7"])
	require.False(t, present["1_1"])
	require.False(t, present["2_2"])
}

func TestFlushBatch_CommitsGridsTilesAndQuota(t *testing.T) {
	s := openTestStore(t)
	mapID, err := s.CreateMap("tenant-a", "homeland")
	require.NoError(t, err)
	require.NoError(t, s.EnsureTenantQuota("tenant-a", 1000))

	grids := []GridRow{{ID: "0_0", MapID: mapID, TenantID: "tenant-a"}}
	tiles := []TileRow{{MapID: mapID, Zoom: 0, CoordX: 0, CoordY: 0, File: "0_0.png", TenantID: "tenant-a", FileSizeBytes: 2048}}

	result, err := s.FlushBatch("tenant-a", grids, tiles, 0.5)
	require.NoError(t, err)
	require.Equal(t, 0.5, result.CommittedMB)

	mb, err := s.CurrentStorageMB("tenant-a")
	require.NoError(t, err)
	require.Equal(t, 0.5, mb)

	exists, err := s.TileExists(mapID, 0, 0, 0)
	require.NoError(t, err)
	require.True(t, exists)
}

func TestFlushBatch_QuotaExceededCommitsNothing(t *testing.T) {
	s := openTestStore(t)
	mapID, err := s.CreateMap("tenant-a", "homeland")
	require.NoError(t, err)
	require.NoError(t, s.EnsureTenantQuota("tenant-a", 1))

	grids := []GridRow{{ID: "0_0", MapID: mapID, TenantID: "tenant-a"}}
	_, err = s.FlushBatch("tenant-a", grids, nil, 5.0)
	require.Error(t, err)

	_, present, err := s.ExistingGridMapID("tenant-a", []string{"0_0"})
	require.NoError(t, err)
	require.False(t, present["0_0"], "rolled-back flush must not leave the grid row behind")

	mb, err := s.CurrentStorageMB("tenant-a")
	require.NoError(t, err)
	require.Zero(t, mb)
}

func TestCleanupDeletes_AreIdempotent(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.DeleteGridByID("tenant-a", "does-not-exist"))
	require.NoError(t, s.DeleteTilesByMapID(99999))
	require.NoError(t, s.DeleteMapByID(99999))
}

func TestTilesAtZoom0_ReturnsDistinctCoords(t *testing.T) {
	s := openTestStore(t)
	mapID, err := s.CreateMap("tenant-a", "homeland")
	require.NoError(t, err)
	require.NoError(t, s.EnsureTenantQuota("tenant-a", 1000))

	tiles := []TileRow{
		{MapID: mapID, Zoom: 0, CoordX: 0, CoordY: 0, File: "a.png", TenantID: "tenant-a"},
		{MapID: mapID, Zoom: 0, CoordX: 1, CoordY: 0, File: "b.png", TenantID: "tenant-a"},
	}
	_, err = s.FlushBatch("tenant-a", nil, tiles, 0)
	require.NoError(t, err)

	coords, err := s.TilesAtZoom0(mapID)
	require.NoError(t, err)
	require.ElementsMatch(t, [][2]int{{0, 0}, {1, 0}}, coords)
}
