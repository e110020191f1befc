// Package store persists Maps, Grids, Tiles, and TenantQuotas (spec.md
// §6) to a sqlite database, following the WAL-pragma, prepared-statement,
// single-transaction-flush shape of the teacher's mbtiles.Writer.
package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // sqlite driver

	"github.com/mapcore/hmapimport/internal/importerrors"
)

// GridRow is one Grids persistence row (spec.md §3 GridRecord).
type GridRow struct {
	ID         string
	MapID      int64
	CoordX     int
	CoordY     int
	NextUpdate int64
	TenantID   string
}

// TileRow is one Tiles persistence row (spec.md §3 TileRecord).
type TileRow struct {
	MapID         int64
	Zoom          int
	CoordX        int
	CoordY        int
	File          string
	Cache         int64
	TenantID      string
	FileSizeBytes int64
}

// Store wraps a sqlite connection implementing the logical schema of
// spec.md §6.
type Store struct {
	db *sql.DB
}

// Open opens (creating if absent) the sqlite database at path and
// ensures the schema exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = 50000",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("set pragma %q: %w", p, err)
		}
	}

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &Store{db: db}, nil
}

func createSchema(db *sql.DB) error {
	schema := `
		CREATE TABLE IF NOT EXISTS maps (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			tenant_id TEXT NOT NULL,
			hidden INTEGER NOT NULL DEFAULT 0,
			priority INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL,
			UNIQUE (tenant_id, name)
		);

		CREATE TABLE IF NOT EXISTS grids (
			id TEXT NOT NULL,
			map_id INTEGER NOT NULL REFERENCES maps(id),
			coord_x INTEGER NOT NULL,
			coord_y INTEGER NOT NULL,
			next_update INTEGER NOT NULL,
			tenant_id TEXT NOT NULL,
			PRIMARY KEY (tenant_id, id)
		);

		CREATE TABLE IF NOT EXISTS tiles (
			map_id INTEGER NOT NULL,
			zoom INTEGER NOT NULL,
			coord_x INTEGER NOT NULL,
			coord_y INTEGER NOT NULL,
			file TEXT NOT NULL,
			cache INTEGER NOT NULL,
			tenant_id TEXT NOT NULL,
			file_size_bytes INTEGER NOT NULL,
			PRIMARY KEY (map_id, zoom, coord_x, coord_y)
		);

		CREATE TABLE IF NOT EXISTS tenant_quotas (
			tenant_id TEXT PRIMARY KEY,
			current_storage_mb REAL NOT NULL DEFAULT 0,
			quota_mb REAL NOT NULL DEFAULT 0
		);
	`
	_, err := db.Exec(schema)
	return err
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// EnsureTenantQuota inserts a TenantQuotas row for tenantID if absent,
// with the given cap. A preexisting row's quotaMB is left untouched.
func (s *Store) EnsureTenantQuota(tenantID string, quotaMB float64) error {
	_, err := s.db.Exec(
		`INSERT INTO tenant_quotas (tenant_id, current_storage_mb, quota_mb) VALUES (?, 0, ?)
		 ON CONFLICT(tenant_id) DO NOTHING`,
		tenantID, quotaMB,
	)
	if err != nil {
		return &importerrors.PersistenceError{Op: "ensure tenant quota", Err: err}
	}
	return nil
}

// CreateMap inserts a fresh Maps row and returns its id.
func (s *Store) CreateMap(tenantID, name string) (int64, error) {
	res, err := s.db.Exec(
		`INSERT INTO maps (name, tenant_id, hidden, priority, created_at) VALUES (?, ?, 0, 0, ?)`,
		name, tenantID, time.Now().Unix(),
	)
	if err != nil {
		return 0, &importerrors.PersistenceError{Op: "create map", Err: err}
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, &importerrors.PersistenceError{Op: "create map", Err: err}
	}
	return id, nil
}

// ExistingGridMapID performs the single batch round trip of spec.md
// §4.4 Merge mode: it reports the mapId of any already-present grid id
// among gridIDs (picking the first one found, as any one is sufficient
// per spec), and the full set of already-present grid ids to filter out.
func (s *Store) ExistingGridMapID(tenantID string, gridIDs []string) (mapID int64, present map[string]bool, err error) {
	present = make(map[string]bool)
	if len(gridIDs) == 0 {
		return 0, present, nil
	}

	placeholders := make([]byte, 0, len(gridIDs)*2)
	args := make([]interface{}, 0, len(gridIDs)+1)
	args = append(args, tenantID)
	for i, id := range gridIDs {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
		args = append(args, id)
	}

	query := fmt.Sprintf(`SELECT id, map_id FROM grids WHERE tenant_id = ? AND id IN (%s)`, string(placeholders))
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return 0, present, &importerrors.PersistenceError{Op: "query existing grids", Err: err}
	}
	defer rows.Close()

	found := false
	for rows.Next() {
		var id string
		var mid int64
		if err := rows.Scan(&id, &mid); err != nil {
			return 0, present, &importerrors.PersistenceError{Op: "scan existing grid", Err: err}
		}
		present[id] = true
		if !found {
			mapID = mid
			found = true
		}
	}
	if err := rows.Err(); err != nil {
		return 0, present, &importerrors.PersistenceError{Op: "query existing grids", Err: err}
	}
	return mapID, present, nil
}

// FlushResult reports what a FlushBatch call actually committed, so a
// partial failure still leaves an accurate quota reconciliation (§8:
// "after a failed flush the currentStorageMB change equals the bytes
// actually committed").
type FlushResult struct {
	CommittedMB float64
}

// FlushBatch writes grids and tiles and increments the tenant's quota by
// deltaMB as one transaction (spec.md §4.4 step 5). Returns QuotaExceeded
// without committing anything if the tenant's quota would be exceeded.
func (s *Store) FlushBatch(tenantID string, grids []GridRow, tiles []TileRow, deltaMB float64) (FlushResult, error) {
	if len(grids) == 0 && len(tiles) == 0 && deltaMB == 0 {
		return FlushResult{}, nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return FlushResult{}, &importerrors.PersistenceError{Op: "begin flush", Err: err}
	}
	defer tx.Rollback() //nolint:errcheck

	var currentMB, quotaMB float64
	err = tx.QueryRow(`SELECT current_storage_mb, quota_mb FROM tenant_quotas WHERE tenant_id = ?`, tenantID).
		Scan(&currentMB, &quotaMB)
	if err != nil {
		return FlushResult{}, &importerrors.PersistenceError{Op: "read tenant quota", Err: err}
	}
	if quotaMB > 0 && currentMB+deltaMB > quotaMB {
		return FlushResult{}, &importerrors.QuotaExceeded{
			TenantID: tenantID, CurrentMB: currentMB, RequestedMB: deltaMB, QuotaMB: quotaMB,
		}
	}

	gridStmt, err := tx.Prepare(
		`INSERT OR REPLACE INTO grids (id, map_id, coord_x, coord_y, next_update, tenant_id) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return FlushResult{}, &importerrors.PersistenceError{Op: "prepare grid insert", Err: err}
	}
	defer gridStmt.Close()

	for _, g := range grids {
		if _, err := gridStmt.Exec(g.ID, g.MapID, g.CoordX, g.CoordY, g.NextUpdate, g.TenantID); err != nil {
			return FlushResult{}, &importerrors.PersistenceError{Op: fmt.Sprintf("insert grid %s", g.ID), Err: err}
		}
	}

	tileStmt, err := tx.Prepare(
		`INSERT OR REPLACE INTO tiles (map_id, zoom, coord_x, coord_y, file, cache, tenant_id, file_size_bytes)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return FlushResult{}, &importerrors.PersistenceError{Op: "prepare tile insert", Err: err}
	}
	defer tileStmt.Close()

	for _, t := range tiles {
		if _, err := tileStmt.Exec(t.MapID, t.Zoom, t.CoordX, t.CoordY, t.File, t.Cache, t.TenantID, t.FileSizeBytes); err != nil {
			return FlushResult{}, &importerrors.PersistenceError{Op: fmt.Sprintf("insert tile %d/%d/%d", t.Zoom, t.CoordX, t.CoordY), Err: err}
		}
	}

	if _, err := tx.Exec(`UPDATE tenant_quotas SET current_storage_mb = current_storage_mb + ? WHERE tenant_id = ?`, deltaMB, tenantID); err != nil {
		return FlushResult{}, &importerrors.PersistenceError{Op: "increment quota", Err: err}
	}

	if err := tx.Commit(); err != nil {
		return FlushResult{}, &importerrors.PersistenceError{Op: "commit flush", Err: err}
	}

	return FlushResult{CommittedMB: deltaMB}, nil
}

// UpsertTile writes or replaces a single tile row outside the batch path
// (used by the zoom pyramid builder, which writes one composited tile at
// a time).
func (s *Store) UpsertTile(t TileRow) error {
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO tiles (map_id, zoom, coord_x, coord_y, file, cache, tenant_id, file_size_bytes)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.MapID, t.Zoom, t.CoordX, t.CoordY, t.File, t.Cache, t.TenantID, t.FileSizeBytes,
	)
	if err != nil {
		return &importerrors.PersistenceError{Op: fmt.Sprintf("upsert tile %d/%d/%d", t.Zoom, t.CoordX, t.CoordY), Err: err}
	}
	return nil
}

// TileExists reports whether a zoom tile row exists for (mapID, zoom, x, y).
func (s *Store) TileExists(mapID int64, zoom, x, y int) (bool, error) {
	var count int
	err := s.db.QueryRow(
		`SELECT COUNT(1) FROM tiles WHERE map_id = ? AND zoom = ? AND coord_x = ? AND coord_y = ?`,
		mapID, zoom, x, y,
	).Scan(&count)
	if err != nil {
		return false, &importerrors.PersistenceError{Op: "check tile existence", Err: err}
	}
	return count > 0, nil
}

// TilesAtZoom0 returns the distinct (x, y) coordinates with a zoom-0
// tile row for mapID.
func (s *Store) TilesAtZoom0(mapID int64) ([][2]int, error) {
	rows, err := s.db.Query(`SELECT coord_x, coord_y FROM tiles WHERE map_id = ? AND zoom = 0`, mapID)
	if err != nil {
		return nil, &importerrors.PersistenceError{Op: "query zoom-0 tiles", Err: err}
	}
	defer rows.Close()

	var out [][2]int
	for rows.Next() {
		var x, y int
		if err := rows.Scan(&x, &y); err != nil {
			return nil, &importerrors.PersistenceError{Op: "scan zoom-0 tile", Err: err}
		}
		out = append(out, [2]int{x, y})
	}
	return out, rows.Err()
}

// DeleteGridByID removes a single Grids row, idempotently.
func (s *Store) DeleteGridByID(tenantID, id string) error {
	_, err := s.db.Exec(`DELETE FROM grids WHERE tenant_id = ? AND id = ?`, tenantID, id)
	if err != nil {
		return &importerrors.PersistenceError{Op: fmt.Sprintf("delete grid %s", id), Err: err}
	}
	return nil
}

// DeleteTilesByMapID removes every Tiles row for mapID, idempotently.
func (s *Store) DeleteTilesByMapID(mapID int64) error {
	_, err := s.db.Exec(`DELETE FROM tiles WHERE map_id = ?`, mapID)
	if err != nil {
		return &importerrors.PersistenceError{Op: "delete tiles by map", Err: err}
	}
	return nil
}

// DeleteMapByID removes a single Maps row, idempotently.
func (s *Store) DeleteMapByID(mapID int64) error {
	_, err := s.db.Exec(`DELETE FROM maps WHERE id = ?`, mapID)
	if err != nil {
		return &importerrors.PersistenceError{Op: "delete map", Err: err}
	}
	return nil
}

// DecrementQuota subtracts deltaMB from the tenant's current usage,
// floored at zero, used by CleanupService to restore quota on rollback.
func (s *Store) DecrementQuota(tenantID string, deltaMB float64) error {
	_, err := s.db.Exec(
		`UPDATE tenant_quotas SET current_storage_mb = MAX(0, current_storage_mb - ?) WHERE tenant_id = ?`,
		deltaMB, tenantID,
	)
	if err != nil {
		return &importerrors.PersistenceError{Op: "decrement quota", Err: err}
	}
	return nil
}

// CurrentStorageMB returns the tenant's current usage.
func (s *Store) CurrentStorageMB(tenantID string) (float64, error) {
	var mb float64
	err := s.db.QueryRow(`SELECT current_storage_mb FROM tenant_quotas WHERE tenant_id = ?`, tenantID).Scan(&mb)
	if err != nil {
		return 0, &importerrors.PersistenceError{Op: "read current storage", Err: err}
	}
	return mb, nil
}
