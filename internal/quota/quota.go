// Package quota tracks each tenant's running storage usage against an
// enforced upper bound (spec.md §4.5 StorageQuotaService). The counter
// itself lives in store.Store, updated atomically inside the same
// transaction as a batch flush; this package wraps the store's quota
// calls (ensure, read, restore with a logged summary). The segment
// pipeline's batch flush and the cleanup package call store directly.
package quota

import (
	"log/slog"

	"github.com/dustin/go-humanize"

	"github.com/mapcore/hmapimport/internal/store"
)

// Service is the per-tenant storage accounting surface.
type Service struct {
	store  *store.Store
	logger *slog.Logger
}

// New returns a Service backed by s.
func New(s *store.Store) *Service {
	return &Service{store: s}
}

// WithLogger sets the logger used for usage reporting, falling back to
// slog.Default when unset.
func (svc *Service) WithLogger(logger *slog.Logger) *Service {
	svc.logger = logger
	return svc
}

func (svc *Service) log() *slog.Logger {
	if svc.logger != nil {
		return svc.logger
	}
	return slog.Default()
}

// EnsureTenant makes sure tenantID has a quota row, capped at quotaMB. A
// quotaMB of 0 means unbounded.
func (svc *Service) EnsureTenant(tenantID string, quotaMB float64) error {
	return svc.store.EnsureTenantQuota(tenantID, quotaMB)
}

// CurrentUsageMB returns the tenant's current running total.
func (svc *Service) CurrentUsageMB(tenantID string) (float64, error) {
	return svc.store.CurrentStorageMB(tenantID)
}

// Restore subtracts deltaMB from the tenant's running total (floored at
// zero by the store) and logs the freed amount and the remaining usage.
func (svc *Service) Restore(tenantID string, deltaMB float64) error {
	if err := svc.store.DecrementQuota(tenantID, deltaMB); err != nil {
		return err
	}

	freed := uint64(deltaMB * 1024 * 1024)
	usedMB, err := svc.store.CurrentStorageMB(tenantID)
	if err != nil {
		return err
	}

	svc.log().Info("tenant quota restored",
		"tenant", tenantID,
		"freed", humanize.IBytes(freed),
		"usage", humanize.IBytes(uint64(usedMB*1024*1024)))
	return nil
}
