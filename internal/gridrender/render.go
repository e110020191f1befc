// Package gridrender rasterizes one hmap.GridData into a 100x100 RGBA
// tile image via the three deterministic passes of spec.md §4.3: base
// sampling, cliff shading, and priority borders.
package gridrender

import (
	"image"
	"image/color"

	"github.com/mapcore/hmapimport/internal/hmap"
)

// CliffThreshold is the minimum neighbor height delta, above EPSILON,
// that marks a cell as a cliff.
const CliffThreshold = 2.0

// Epsilon guards the threshold comparison against float rounding.
const Epsilon = 0.01

// MissingColor is the base-pass color for a cell whose tileset index is
// out of range or whose texture is unavailable.
var MissingColor = color.RGBA{R: 128, G: 128, B: 128, A: 255}

// BorderColor is the Pass 3 overwrite color for a cell with a
// strictly-higher-priority neighbor.
var BorderColor = color.RGBA{R: 0, G: 0, B: 0, A: 255}

// TileImage is a caller-owned RGBA texture sampled by the base pass. It
// is the contract TileResourceService hands back for a tileset index;
// a nil TileImage (or nil entry in textures) means "missing".
type TileImage struct {
	Width, Height int
	// Pix is row-major RGBA, 4 bytes per pixel, matching image.RGBA.Pix.
	Pix []byte
}

// At returns the RGBA color at (x, y) within the texture, wrapping with
// Euclidean remainder so negative inputs (not expected here, but part of
// the public contract) still wrap correctly.
func (t *TileImage) At(x, y int) color.RGBA {
	wx := euclidMod(x, t.Width)
	wy := euclidMod(y, t.Height)
	i := (wy*t.Width + wx) * 4
	return color.RGBA{R: t.Pix[i], G: t.Pix[i+1], B: t.Pix[i+2], A: t.Pix[i+3]}
}

func euclidMod(a, n int) int {
	m := a % n
	if m < 0 {
		m += n
	}
	return m
}

// Render rasterizes grid into a 100x100 NRGBA image. textures[i] is the
// sampled texture for tileset index i (nil = missing/unavailable); its
// length may be shorter than len(grid.Tilesets) if resources beyond that
// point were never resolved, which is also treated as missing.
func Render(grid hmap.GridData, textures []*TileImage) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, hmap.GridSize, hmap.GridSize))

	basePass(img, grid, textures)
	if grid.ZMap != nil {
		cliffPass(img, grid.ZMap)
	}
	priorityBorderPass(img, grid)

	return img
}

func basePass(img *image.NRGBA, grid hmap.GridData, textures []*TileImage) {
	for y := 0; y < hmap.GridSize; y++ {
		for x := 0; x < hmap.GridSize; x++ {
			idx := y*hmap.GridSize + x
			tsetIdx := int(grid.TileIndices[idx])

			var c color.RGBA
			if tsetIdx >= len(grid.Tilesets) || tsetIdx >= len(textures) || textures[tsetIdx] == nil {
				c = MissingColor
			} else {
				tex := textures[tsetIdx]
				c = tex.At(x, y)
				c.A = 255
			}
			img.SetNRGBA(x, y, color.NRGBA{R: c.R, G: c.G, B: c.B, A: c.A})
		}
	}
}

// cliffPass blends a 3x3 neighborhood toward black around every cliff
// cell, in row-major traversal order so overlapping stamps compound
// deterministically (spec.md §4.3, §9).
func cliffPass(img *image.NRGBA, zMap *[hmap.GridCells]float64) {
	for y := 1; y <= hmap.GridSize-2; y++ {
		for x := 1; x <= hmap.GridSize-2; x++ {
			if !isCliff(zMap, x, y) {
				continue
			}
			stampDarken(img, x, y)
		}
	}
}

func isCliff(zMap *[hmap.GridCells]float64, x, y int) bool {
	z := zMap[y*hmap.GridSize+x]
	neighbors := [4][2]int{{x - 1, y}, {x + 1, y}, {x, y - 1}, {x, y + 1}}
	for _, n := range neighbors {
		nz := zMap[n[1]*hmap.GridSize+n[0]]
		diff := nz - z
		if diff < 0 {
			diff = -diff
		}
		if diff > CliffThreshold+Epsilon {
			return true
		}
	}
	return false
}

func stampDarken(img *image.NRGBA, cx, cy int) {
	for dy := -1; dy <= 1; dy++ {
		for dx := -1; dx <= 1; dx++ {
			x, y := cx+dx, cy+dy
			if x < 0 || x >= hmap.GridSize || y < 0 || y >= hmap.GridSize {
				continue
			}
			factor := 0.1
			if dx == 0 && dy == 0 {
				factor = 1.0
			}
			darken(img, x, y, factor)
		}
	}
}

// darken blends the pixel at (x, y) toward black by factor f:
// out = color * (1 - f), alpha preserved.
func darken(img *image.NRGBA, x, y int, f float64) {
	c := img.NRGBAAt(x, y)
	scale := 1.0 - f
	img.SetNRGBA(x, y, color.NRGBA{
		R: scaleChannel(c.R, scale),
		G: scaleChannel(c.G, scale),
		B: scaleChannel(c.B, scale),
		A: c.A,
	})
}

func scaleChannel(v uint8, scale float64) uint8 {
	out := float64(v) * scale
	if out < 0 {
		out = 0
	}
	if out > 255 {
		out = 255
	}
	return uint8(out + 0.5)
}

// priorityBorderPass overwrites a cell with opaque black when any
// 4-cardinal neighbor (within the grid, no wrap) has a strictly higher
// tileIndices value. Computed from the original indices, independent of
// Pass 2's output (spec.md §4.3).
func priorityBorderPass(img *image.NRGBA, grid hmap.GridData) {
	for y := 0; y < hmap.GridSize; y++ {
		for x := 0; x < hmap.GridSize; x++ {
			idx := y*hmap.GridSize + x
			v := grid.TileIndices[idx]

			if hasHigherPriorityNeighbor(grid, x, y, v) {
				img.SetNRGBA(x, y, color.NRGBA{R: BorderColor.R, G: BorderColor.G, B: BorderColor.B, A: BorderColor.A})
			}
		}
	}
}

func hasHigherPriorityNeighbor(grid hmap.GridData, x, y int, v byte) bool {
	type offset struct{ dx, dy int }
	for _, o := range []offset{{-1, 0}, {1, 0}, {0, -1}, {0, 1}} {
		nx, ny := x+o.dx, y+o.dy
		if nx < 0 || nx >= hmap.GridSize || ny < 0 || ny >= hmap.GridSize {
			continue
		}
		nv := grid.TileIndices[ny*hmap.GridSize+nx]
		if nv > v {
			return true
		}
	}
	return false
}
