// Package zoom rebuilds the zoom pyramid above a map's freshly imported
// base tiles (spec.md §4.6), compositing four child tiles into one
// half-resolution parent tile per level, strictly in ascending zoom
// order. The half-resolution compositing is grounded on the teacher's
// downsample/compositor shape, generalized from Web-Mercator tiles to
// the flat tile.Coord addressing this system uses.
package zoom

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"os"
	"path/filepath"
	"time"

	ximagedraw "golang.org/x/image/draw"

	"github.com/mapcore/hmapimport/internal/hmap"
	"github.com/mapcore/hmapimport/internal/store"
	"github.com/mapcore/hmapimport/internal/tile"
)

// MaxZoom is the number of pyramid levels above the base (spec.md
// glossary: "six half-resolution levels").
const MaxZoom = 6

// Config configures one pyramid rebuild.
type Config struct {
	TenantID    string
	MapID       int64
	StorageRoot string
	Store       *store.Store
}

// Build recomputes every ancestor zoom level touched by touchedCoords,
// the base (zoom-0) coordinates of grids imported during this call.
func Build(cfg Config, touchedCoords []tile.Coord) error {
	byZoom := collectAncestors(touchedCoords)

	for z := 1; z <= MaxZoom; z++ {
		coords := byZoom[z]
		for _, c := range coords {
			if err := updateZoomLevel(cfg, c, z); err != nil {
				return err
			}
		}
	}
	return nil
}

// collectAncestors walks every coord up MaxZoom levels and deduplicates
// per zoom level.
func collectAncestors(coords []tile.Coord) map[int][]tile.Coord {
	seen := make(map[int]map[tile.Coord]bool, MaxZoom)
	out := make(map[int][]tile.Coord, MaxZoom)
	for z := 1; z <= MaxZoom; z++ {
		seen[z] = make(map[tile.Coord]bool)
	}

	for _, c := range coords {
		for _, zc := range tile.Ancestors(c, MaxZoom) {
			if seen[zc.Zoom][zc.Coord] {
				continue
			}
			seen[zc.Zoom][zc.Coord] = true
			out[zc.Zoom] = append(out[zc.Zoom], zc.Coord)
		}
	}
	return out
}

// updateZoomLevel composites the four children of c at zoom-1 into one
// half-resolution tile at (zoom, c), writes the PNG, and upserts the
// TileRecord. Missing children produce transparent quadrants.
func updateZoomLevel(cfg Config, c tile.Coord, zoom int) error {
	children := c.Children()

	composite := image.NewNRGBA(image.Rect(0, 0, hmap.GridSize, hmap.GridSize))
	quadrants := [4]image.Rectangle{
		image.Rect(0, 0, hmap.GridSize/2, hmap.GridSize/2),
		image.Rect(hmap.GridSize/2, 0, hmap.GridSize, hmap.GridSize/2),
		image.Rect(0, hmap.GridSize/2, hmap.GridSize/2, hmap.GridSize),
		image.Rect(hmap.GridSize/2, hmap.GridSize/2, hmap.GridSize, hmap.GridSize),
	}

	for i, child := range children {
		childImg, err := loadTile(cfg, zoom-1, child)
		if err != nil {
			return err
		}
		if childImg == nil {
			continue // transparent quadrant
		}
		ximagedraw.CatmullRom.Scale(composite, quadrants[i], childImg, childImg.Bounds(), draw.Over, nil)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, composite); err != nil {
		return fmt.Errorf("encode zoom %d tile %s: %w", zoom, c, err)
	}

	relPath := filepath.Join("tenants", cfg.TenantID, fmt.Sprint(cfg.MapID), fmt.Sprint(zoom), c.String()+".png")
	absPath := filepath.Join(cfg.StorageRoot, relPath)
	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return fmt.Errorf("create zoom directory: %w", err)
	}
	if err := os.WriteFile(absPath, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write zoom %d tile %s: %w", zoom, c, err)
	}

	return cfg.Store.UpsertTile(store.TileRow{
		MapID:         cfg.MapID,
		Zoom:          zoom,
		CoordX:        c.X,
		CoordY:        c.Y,
		File:          relPath,
		Cache:         time.Now().Unix(),
		TenantID:      cfg.TenantID,
		FileSizeBytes: int64(buf.Len()),
	})
}

// loadTile reads the PNG for (zoom, c) from disk, or returns (nil, nil)
// if it does not exist (a missing child quadrant).
func loadTile(cfg Config, zoom int, c tile.Coord) (image.Image, error) {
	relPath := filepath.Join("tenants", cfg.TenantID, fmt.Sprint(cfg.MapID), fmt.Sprint(zoom), c.String()+".png")
	absPath := filepath.Join(cfg.StorageRoot, relPath)

	data, err := os.ReadFile(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read tile %s: %w", absPath, err)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode tile %s: %w", absPath, err)
	}
	return img, nil
}
