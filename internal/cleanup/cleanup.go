// Package cleanup removes the persisted and on-disk artefacts of a
// failed import (spec.md §4.9). Every operation is idempotent: a missing
// row or path is not an error. Grid row deletion is best-effort per id (a
// failed delete is logged and the rest continue); the per-map steps stop
// at the first error and return it.
package cleanup

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"

	"github.com/mapcore/hmapimport/internal/store"
)

// Config identifies what a Run call should remove.
type Config struct {
	TenantID       string
	StorageRoot    string
	NewMapIDs      []int64
	CreatedGridIDs []string
	Store          *store.Store
	Logger         *slog.Logger
}

func (cfg Config) log() *slog.Logger {
	if cfg.Logger != nil {
		return cfg.Logger
	}
	return slog.Default()
}

// Run deletes grid rows by id, then for each new map: sums and removes
// its on-disk PNG bytes, decrements the tenant quota by that amount,
// deletes its tile rows, and deletes the map row itself.
func Run(cfg Config) error {
	for _, id := range cfg.CreatedGridIDs {
		if err := cfg.Store.DeleteGridByID(cfg.TenantID, id); err != nil {
			cfg.log().Warn("cleanup could not delete grid, continuing", "tenant", cfg.TenantID, "grid", id, "error", err)
		}
	}

	var totalFreed int64
	for _, mapID := range cfg.NewMapIDs {
		mapDir := filepath.Join(cfg.StorageRoot, "tenants", cfg.TenantID, fmt.Sprint(mapID))

		freedBytes, err := sumPNGBytes(mapDir)
		if err != nil {
			return fmt.Errorf("sum bytes for map %d: %w", mapID, err)
		}

		if err := os.RemoveAll(mapDir); err != nil {
			return fmt.Errorf("remove map directory %s: %w", mapDir, err)
		}

		freedMB := float64(freedBytes) / (1024 * 1024)
		if err := cfg.Store.DecrementQuota(cfg.TenantID, freedMB); err != nil {
			return fmt.Errorf("decrement quota for map %d: %w", mapID, err)
		}

		if err := cfg.Store.DeleteTilesByMapID(mapID); err != nil {
			return fmt.Errorf("delete tiles for map %d: %w", mapID, err)
		}
		if err := cfg.Store.DeleteMapByID(mapID); err != nil {
			return fmt.Errorf("delete map %d: %w", mapID, err)
		}

		totalFreed += freedBytes
	}

	if len(cfg.NewMapIDs) > 0 {
		cfg.log().Info("cleanup reclaimed storage",
			"tenant", cfg.TenantID,
			"maps", len(cfg.NewMapIDs),
			"grids", len(cfg.CreatedGridIDs),
			"freed", humanize.IBytes(uint64(totalFreed)))
	}

	return nil
}

// sumPNGBytes recursively totals the size of every .png file under dir.
// A missing dir contributes zero, not an error.
func sumPNGBytes(dir string) (int64, error) {
	var total int64
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() || filepath.Ext(path) != ".png" {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return 0, err
	}
	return total, nil
}
