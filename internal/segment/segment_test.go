package segment

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mapcore/hmapimport/internal/hmap"
	"github.com/mapcore/hmapimport/internal/store"
	"github.com/mapcore/hmapimport/internal/tileresource"
)

type stubFetcher struct{}

func (stubFetcher) Fetch(_ context.Context, _ string) ([]byte, error) {
	img := image.NewNRGBA(image.Rect(0, 0, 4, 4))
	for i := range img.Pix {
		img.Pix[i] = 200
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func newTestDeps(t *testing.T) (*store.Store, *tileresource.Service, string) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	res, err := tileresource.New(tileresource.Config{DiskCacheDir: t.TempDir(), Fetcher: stubFetcher{}})
	require.NoError(t, err)

	return s, res, t.TempDir()
}

func gridAt(x, y int) hmap.GridData {
	var g hmap.GridData
	g.TileX, g.TileY = x, y
	g.Tilesets = []hmap.Tileset{{ResourceName: "gfx/tiles/grass"}}
	return g
}

func TestImportSegment_CreateNew_TwoGrids(t *testing.T) {
	s, res, root := newTestDeps(t)
	require.NoError(t, s.EnsureTenantQuota("tenant-a", 0))

	cfg := Config{TenantID: "tenant-a", StorageRoot: root, Mode: CreateNew, Store: s, Resources: res}
	result, err := ImportSegment(context.Background(), cfg, []hmap.GridData{gridAt(0, 0), gridAt(1, 0)})
	require.NoError(t, err)

	require.True(t, result.IsNewMap)
	require.Equal(t, 2, result.GridsImported)
	require.Equal(t, 0, result.GridsSkipped)
	require.ElementsMatch(t, []string{"0_0", "1_0"}, result.CreatedGridIDs)

	coords, err := s.TilesAtZoom0(result.MapID)
	require.NoError(t, err)
	require.Len(t, coords, 2)

	for _, c := range coords {
		path := filepath.Join(root, "tenants", "tenant-a", fmt.Sprint(result.MapID), "0", fmt.Sprintf("%d_%d.png", c[0], c[1]))
		_, err := os.Stat(path)
		require.NoError(t, err)
	}
}

func TestImportSegment_Merge_SkipsExistingGrid(t *testing.T) {
	s, res, root := newTestDeps(t)
	require.NoError(t, s.EnsureTenantQuota("tenant-a", 0))

	cfg := Config{TenantID: "tenant-a", StorageRoot: root, Mode: CreateNew, Store: s, Resources: res}
	first, err := ImportSegment(context.Background(), cfg, []hmap.GridData{gridAt(5, 7)})
	require.NoError(t, err)

	mergeCfg := Config{TenantID: "tenant-a", StorageRoot: root, Mode: Merge, Store: s, Resources: res}
	second, err := ImportSegment(context.Background(), mergeCfg, []hmap.GridData{gridAt(5, 7), gridAt(1, 1), gridAt(2, 2)})
	require.NoError(t, err)

	require.False(t, second.IsNewMap)
	require.Equal(t, first.MapID, second.MapID)
	require.Equal(t, 2, second.GridsImported)
	require.Equal(t, 1, second.GridsSkipped)
}

func TestImportSegment_NoBufferLeaks(t *testing.T) {
	s, res, root := newTestDeps(t)
	require.NoError(t, s.EnsureTenantQuota("tenant-a", 0))

	var released atomic.Int32
	cfg := Config{
		TenantID: "tenant-a", StorageRoot: root, Mode: CreateNew, Store: s, Resources: res,
		OnBufferReleased: func() { released.Add(1) },
	}
	grids := make([]hmap.GridData, 0, 10)
	for i := 0; i < 10; i++ {
		grids = append(grids, gridAt(i, 0))
	}
	result, err := ImportSegment(context.Background(), cfg, grids)
	require.NoError(t, err)
	require.EqualValues(t, result.GridsProcessed, released.Load())
}

func TestImportSegment_CancellationStopsFlushing(t *testing.T) {
	s, res, root := newTestDeps(t)
	require.NoError(t, s.EnsureTenantQuota("tenant-a", 0))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cfg := Config{TenantID: "tenant-a", StorageRoot: root, Mode: CreateNew, Store: s, Resources: res}
	_, err := ImportSegment(ctx, cfg, []hmap.GridData{gridAt(0, 0), gridAt(1, 0)})
	require.Error(t, err)
}

