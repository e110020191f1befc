package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mapcore/hmapimport/internal/cleanup"
	"github.com/mapcore/hmapimport/internal/orchestrator"
	"github.com/mapcore/hmapimport/internal/segment"
	"github.com/mapcore/hmapimport/internal/store"
	"github.com/mapcore/hmapimport/internal/tileresource"
)

var importCmd = &cobra.Command{
	Use:   "import <hmap-file>",
	Short: "Import a .hmap world export",
	Long:  `Parse a .hmap stream, render its grids to tile PNGs, and persist the result for one tenant.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runImport,
}

func init() {
	rootCmd.AddCommand(importCmd)

	importCmd.Flags().String("tenant-id", "", "Tenant to import into (required)")
	importCmd.Flags().String("mode", "create", "Placement mode: create or merge")
	importCmd.Flags().String("resource-base-url", "", "Network base URL for tileset resources on cache miss")
	importCmd.Flags().Int("concurrency", 0, "Render parallelism (default 4)")
	importCmd.Flags().Int("channel-cap", 0, "Producer/consumer channel capacity (default 20)")
	importCmd.Flags().Int("batch-size", 0, "Persistence batch size (default 500)")
	importCmd.Flags().Int("max-segments", 0, "Maximum segments imported per call (default 3)")
	importCmd.Flags().Float64("quota-mb", 0, "Tenant storage quota in MB (0 means unlimited)")
	importCmd.Flags().Bool("cleanup-on-failure", true, "Remove partially-written artefacts if the import fails")

	for _, bf := range []struct{ key, flag string }{
		{"import.tenant_id", "tenant-id"},
		{"import.mode", "mode"},
		{"import.resource_base_url", "resource-base-url"},
		{"import.concurrency", "concurrency"},
		{"import.channel_cap", "channel-cap"},
		{"import.batch_size", "batch-size"},
		{"import.max_segments", "max-segments"},
		{"import.quota_mb", "quota-mb"},
		{"import.cleanup_on_failure", "cleanup-on-failure"},
	} {
		if err := viper.BindPFlag(bf.key, importCmd.Flags().Lookup(bf.flag)); err != nil {
			panic(fmt.Sprintf("failed to bind flag %s: %v", bf.flag, err))
		}
	}
}

func runImport(_ *cobra.Command, args []string) error {
	if logger == nil {
		initLogging()
	}

	tenantID := viper.GetString("import.tenant_id")
	if tenantID == "" {
		return fmt.Errorf("--tenant-id is required")
	}

	mode, err := parseMode(viper.GetString("import.mode"))
	if err != nil {
		return err
	}

	storageRoot := viper.GetString("storage-root")
	dbPath := viper.GetString("db")
	quotaMB := viper.GetFloat64("import.quota_mb")

	st, err := store.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	if err := st.EnsureTenantQuota(tenantID, quotaMB); err != nil {
		return fmt.Errorf("ensure tenant quota: %w", err)
	}

	var fetcher tileresource.Fetcher
	if baseURL := viper.GetString("import.resource_base_url"); baseURL != "" {
		fetcher = tileresource.NewHTTPFetcher(baseURL, nil)
	}

	resources, err := tileresource.New(tileresource.Config{
		DiskCacheDir: storageRoot + "/hmap-tile-cache",
		Fetcher:      fetcher,
		Logger:       logger,
	})
	if err != nil {
		return fmt.Errorf("init tile resource service: %w", err)
	}

	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("open %s: %w", args[0], err)
	}
	defer f.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received interrupt signal, cancelling import")
		cancel()
	}()

	cfg := orchestrator.Config{
		TenantID:    tenantID,
		Mode:        mode,
		StorageRoot: storageRoot,
		MaxSegments: viper.GetInt("import.max_segments"),
		Concurrency: viper.GetInt("import.concurrency"),
		ChannelCap:  viper.GetInt("import.channel_cap"),
		BatchSize:   viper.GetInt("import.batch_size"),
		Store:       st,
		Resources:   resources,
		Markers:     loggingMarkerPersister{logger: logger},
		Logger:      logger,
		Progress: func(e orchestrator.Event) {
			logger.Info("import progress",
				"phase", e.Phase, "phase_number", e.PhaseNumber,
				"item", e.CurrentItem, "total", e.TotalItems,
				"overall_percent", e.OverallPercent, "items_per_second", e.ItemsPerSecond)
		},
	}

	result := orchestrator.Import(ctx, cfg, f)

	logger.Info("import finished",
		"success", result.Success,
		"maps_created", result.MapsCreated,
		"grids_imported", result.GridsImported,
		"grids_skipped", result.GridsSkipped,
		"tiles_rendered", result.TilesRendered,
		"markers_imported", result.MarkersImported,
		"markers_skipped", result.MarkersSkipped,
		"duration", result.Duration,
	)

	if !result.Success {
		logger.Error("import failed", "error", result.ErrorMessage)
		if viper.GetBool("import.cleanup_on_failure") {
			cleanupErr := cleanup.Run(cleanup.Config{
				TenantID:       tenantID,
				StorageRoot:    storageRoot,
				NewMapIDs:      result.CreatedMapIDs,
				CreatedGridIDs: result.CreatedGridIDs,
				Store:          st,
				Logger:         logger,
			})
			if cleanupErr != nil {
				logger.Error("cleanup after failed import also failed", "error", cleanupErr)
				return fmt.Errorf("import failed (%s), cleanup failed: %w", result.ErrorMessage, cleanupErr)
			}
		}
		return fmt.Errorf("import failed: %s", result.ErrorMessage)
	}

	return nil
}

func parseMode(s string) (segment.Mode, error) {
	switch s {
	case "create", "create-new", "":
		return segment.CreateNew, nil
	case "merge":
		return segment.Merge, nil
	default:
		return 0, fmt.Errorf("invalid --mode %q: must be create or merge", s)
	}
}
