package gridrender

import (
	"image/color"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mapcore/hmapimport/internal/hmap"
)

func solidTexture(w, h int, c color.RGBA) *TileImage {
	pix := make([]byte, w*h*4)
	for i := 0; i < w*h; i++ {
		pix[i*4] = c.R
		pix[i*4+1] = c.G
		pix[i*4+2] = c.B
		pix[i*4+3] = c.A
	}
	return &TileImage{Width: w, Height: h, Pix: pix}
}

func identityGrid() hmap.GridData {
	var g hmap.GridData
	g.Tilesets = []hmap.Tileset{{ResourceName: "grass"}}
	// all cells index 0
	return g
}

func TestRender_Determinism(t *testing.T) {
	g := identityGrid()
	textures := []*TileImage{solidTexture(4, 4, color.RGBA{10, 20, 30, 255})}

	img1 := Render(g, textures)
	img2 := Render(g, textures)

	require.Equal(t, img1.Pix, img2.Pix)
}

func TestRender_MissingTileset(t *testing.T) {
	var g hmap.GridData
	g.Tilesets = []hmap.Tileset{{ResourceName: "grass"}}
	g.TileIndices[0] = 1 // out of range: only tileset 0 exists

	img := Render(g, []*TileImage{solidTexture(2, 2, color.RGBA{1, 2, 3, 255})})
	c := img.NRGBAAt(0, 0)
	require.Equal(t, color.NRGBA{128, 128, 128, 255}, c)
}

func TestRender_TextureWrap(t *testing.T) {
	g := identityGrid()
	tex := solidTexture(7, 5, color.RGBA{9, 9, 9, 255})
	// mutate the (0,0) texel to be distinguishable
	tex.Pix[0] = 200

	img := Render(g, []*TileImage{tex})
	// cell (0,0) should sample texture at (0 mod 7, 0 mod 5) = (0,0)
	require.Equal(t, uint8(200), img.NRGBAAt(0, 0).R)
}

func TestRender_Pass3Independence(t *testing.T) {
	g := identityGrid()
	g.Tilesets = []hmap.Tileset{{ResourceName: "a"}, {ResourceName: "b"}}
	// give (50,50) a higher-priority neighbor to exercise pass 3
	g.TileIndices[50*hmap.GridSize+51] = 1

	textures := []*TileImage{
		solidTexture(1, 1, color.RGBA{5, 5, 5, 255}),
		solidTexture(1, 1, color.RGBA{9, 9, 9, 255}),
	}

	withoutZ := Render(g, textures)

	var zmap [hmap.GridCells]float64 // all zero, no cliffs
	g.ZMap = &zmap
	withZ := Render(g, textures)

	require.Equal(t, withoutZ.Pix, withZ.Pix)
}

func TestRender_CliffThresholdBoundary(t *testing.T) {
	makeGrid := func(delta float64) hmap.GridData {
		var g hmap.GridData
		g.Tilesets = []hmap.Tileset{{ResourceName: "a"}}
		var zmap [hmap.GridCells]float64
		// plateau edge: row 10 at z=0, row 11 at z=delta, cols 10..20
		for x := 10; x <= 20; x++ {
			zmap[10*hmap.GridSize+x] = 0
			zmap[11*hmap.GridSize+x] = delta
		}
		g.ZMap = &zmap
		return g
	}

	white := solidTexture(1, 1, color.RGBA{255, 255, 255, 255})

	// 2.00 sits exactly at CliffThreshold, well under threshold+epsilon.
	below := Render(makeGrid(2.00), []*TileImage{white})
	// A delta unambiguously above threshold+epsilon (2.01 itself is the
	// IEEE-754 double closest to 2.0+0.01, so a hair above it removes any
	// float-equality ambiguity at the exact boundary).
	at := Render(makeGrid(2.02), []*TileImage{white})

	// (15, 11) should be untouched at delta=2.00 (not > threshold+epsilon)
	require.Equal(t, color.NRGBA{255, 255, 255, 255}, below.NRGBAAt(15, 11))
	// and darkened (pure black center stamp) once strictly past threshold+epsilon
	require.Equal(t, color.NRGBA{0, 0, 0, 255}, at.NRGBAAt(15, 11))
}

func TestRender_PriorityBorderOverwritesCliffDarkening(t *testing.T) {
	// A cell that is both a cliff center and has a higher-priority
	// neighbor must end up opaque black from pass 3, independent of
	// pass 2's blend (both produce black here, but pass 3 must run last
	// and be computed from original indices, not pass 2's pixels).
	var g hmap.GridData
	g.Tilesets = []hmap.Tileset{{ResourceName: "a"}, {ResourceName: "b"}}
	g.TileIndices[50*hmap.GridSize+51] = 1

	var zmap [hmap.GridCells]float64
	zmap[49*hmap.GridSize+50] = 10.0 // makes (50,50) a cliff center
	g.ZMap = &zmap

	textures := []*TileImage{
		solidTexture(1, 1, color.RGBA{200, 200, 200, 255}),
		solidTexture(1, 1, color.RGBA{9, 9, 9, 255}),
	}

	img := Render(g, textures)
	require.Equal(t, color.NRGBA{0, 0, 0, 255}, img.NRGBAAt(50, 50))
}
