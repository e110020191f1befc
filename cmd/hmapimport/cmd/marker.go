package cmd

import (
	"context"
	"log/slog"

	"github.com/mapcore/hmapimport/internal/marker"
)

// loggingMarkerPersister stands in for the external marker service
// (spec.md §6: "Markers(...) — owned by external marker service") so the
// CLI has something to wire into orchestrator.Config.Markers. A real
// deployment replaces this with a client for that service.
type loggingMarkerPersister struct {
	logger *slog.Logger
}

func (p loggingMarkerPersister) PersistMarker(_ context.Context, m marker.PersistedMarker) error {
	p.logger.Debug("marker resolved", "grid", m.GridID, "name", m.Name, "x", m.PosX, "y", m.PosY, "image", m.Image)
	return nil
}
