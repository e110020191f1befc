package tileresource

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func pngBytes(t *testing.T, w, h int, c color.RGBA) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{c.R, c.G, c.B, c.A})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

type fakeFetcher struct {
	calls   atomic.Int32
	data    map[string][]byte
	failing map[string]error
}

func (f *fakeFetcher) Fetch(_ context.Context, name string) ([]byte, error) {
	f.calls.Add(1)
	if err, ok := f.failing[name]; ok {
		return nil, err
	}
	d, ok := f.data[name]
	if !ok {
		return nil, errors.New("404")
	}
	return d, nil
}

func TestGetTileImage_NetworkFetchAndCache(t *testing.T) {
	fetcher := &fakeFetcher{data: map[string][]byte{
		"gfx/tiles/grass": pngBytes(t, 2, 2, color.RGBA{1, 2, 3, 255}),
	}}
	svc, err := New(Config{DiskCacheDir: t.TempDir(), MemoryCacheSize: 8, Fetcher: fetcher})
	require.NoError(t, err)

	img, err := svc.GetTileImage(context.Background(), "gfx/tiles/grass")
	require.NoError(t, err)
	require.NotNil(t, img)
	require.Equal(t, 2, img.Width)

	// Second call should come from the memory cache, not the network.
	_, err = svc.GetTileImage(context.Background(), "gfx/tiles/grass")
	require.NoError(t, err)
	require.EqualValues(t, 1, fetcher.calls.Load())
}

func TestGetTileImage_OwnedClone(t *testing.T) {
	fetcher := &fakeFetcher{data: map[string][]byte{
		"gfx/tiles/grass": pngBytes(t, 1, 1, color.RGBA{1, 1, 1, 255}),
	}}
	svc, err := New(Config{DiskCacheDir: t.TempDir(), Fetcher: fetcher})
	require.NoError(t, err)

	a, err := svc.GetTileImage(context.Background(), "gfx/tiles/grass")
	require.NoError(t, err)
	b, err := svc.GetTileImage(context.Background(), "gfx/tiles/grass")
	require.NoError(t, err)

	a.Pix[0] = 250
	require.NotEqual(t, a.Pix[0], b.Pix[0], "mutating one handout must not affect another")
}

func TestGetTileImage_MissingReturnsNilNoError(t *testing.T) {
	fetcher := &fakeFetcher{data: map[string][]byte{}}
	svc, err := New(Config{DiskCacheDir: t.TempDir(), Fetcher: fetcher})
	require.NoError(t, err)

	img, err := svc.GetTileImage(context.Background(), "gfx/tiles/missing")
	require.NoError(t, err)
	require.Nil(t, img)
}

func TestFirstNetworkError_RetainsFirstOnly(t *testing.T) {
	fetcher := &fakeFetcher{failing: map[string]error{
		"a": errors.New("boom-a"),
		"b": errors.New("boom-b"),
	}}
	svc, err := New(Config{DiskCacheDir: t.TempDir(), Fetcher: fetcher})
	require.NoError(t, err)

	_, _ = svc.GetTileImage(context.Background(), "a")
	_, _ = svc.GetTileImage(context.Background(), "b")

	firstErr := svc.FirstNetworkError()
	require.Error(t, firstErr)
	require.Contains(t, firstErr.Error(), "a")
}

func TestClearMemoryCache_DoesNotDropDiskTier(t *testing.T) {
	fetcher := &fakeFetcher{data: map[string][]byte{
		"gfx/tiles/grass": pngBytes(t, 1, 1, color.RGBA{7, 7, 7, 255}),
	}}
	svc, err := New(Config{DiskCacheDir: t.TempDir(), Fetcher: fetcher})
	require.NoError(t, err)

	_, err = svc.GetTileImage(context.Background(), "gfx/tiles/grass")
	require.NoError(t, err)
	svc.ClearMemoryCache()

	_, err = svc.GetTileImage(context.Background(), "gfx/tiles/grass")
	require.NoError(t, err)
	require.EqualValues(t, 1, fetcher.calls.Load(), "disk tier should satisfy the second read without a network call")
}

func TestPrefetch_ReportsProgress(t *testing.T) {
	fetcher := &fakeFetcher{data: map[string][]byte{
		"a": pngBytes(t, 1, 1, color.RGBA{1, 1, 1, 255}),
		"b": pngBytes(t, 1, 1, color.RGBA{2, 2, 2, 255}),
	}}
	svc, err := New(Config{DiskCacheDir: t.TempDir(), Fetcher: fetcher})
	require.NoError(t, err)

	var seen []string
	err = svc.Prefetch(context.Background(), []string{"a", "b"}, func(name string, done, total int) {
		seen = append(seen, name)
		require.Equal(t, 2, total)
	})
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, seen)
}
