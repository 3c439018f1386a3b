package main

import (
	"context"
	_ "embed"
	"flag"
	"os"
	"path/filepath"
	"strings"
	"time"

	"otafs/pkg/config"
	"otafs/pkg/db"
	"otafs/pkg/embedded"
	"otafs/pkg/fetcher"
	"otafs/pkg/launcher"
	"otafs/pkg/loader"
	"otafs/pkg/log"
	"otafs/pkg/manifest"
	"otafs/pkg/models"
	"otafs/pkg/policy"
	"otafs/pkg/server"

	"github.com/google/uuid"
)

const (
	storageDirPerm = 0750
	errorLogName   = "error.log"
)

//go:embed VERSION
var Version string

func main() {
	// Initialize logger first
	_ = log.Logger

	envFile := flag.String("env", ".env", "Environment file path")
	addr := flag.String("addr", "", "Server address override")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	if *debug {
		log.SetDebugMode()
	}

	cfg, err := config.Load(*envFile)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if *addr != "" {
		cfg.ServerAddr = *addr
	}

	if err := os.MkdirAll(cfg.UpdatesDir, storageDirPerm); err != nil {
		log.Fatal().Err(err).Str("updates_dir", cfg.UpdatesDir).Msg("Failed to create updates directory")
	}
	if err := log.EnableDiagnosticFile(filepath.Join(cfg.UpdatesDir, errorLogName)); err != nil {
		log.Fatal().Err(err).Msg("Failed to open diagnostic log")
	}

	result, store, remote := start(cfg)
	defer func() { _ = store.Close() }()

	srv := server.New(store, remote, strings.TrimSpace(Version), cfg.ScopeKey, cfg.RuntimeVersion)
	srv.SetLaunched(result)

	if remote != nil && cfg.CheckInterval > 0 {
		go checkLoop(remote, srv, cfg.CheckInterval)
	}

	if err := srv.Start(cfg.ServerAddr); err != nil {
		log.Fatal().Err(err).Msg("Server failed to start")
	}

	os.Exit(0)
}

// start syncs the embedded update, launches, and reaps superseded
// updates. Launch failures degrade to the embedded fallback instead of
// aborting the daemon.
func start(cfg *config.Config) (*launcher.LaunchResult, *db.Store, *loader.Remote) {
	ctx := context.Background()
	resolveCtx := manifest.Context{ScopeKey: cfg.ScopeKey, AssetBaseURL: cfg.AssetBaseURL}

	store, err := db.New(cfg.DatabasePath)
	if err != nil {
		log.Fatal().Err(err).Str("database_path", cfg.DatabasePath).Msg("Failed to open updates database")
	}

	var namespace *embedded.Namespace
	var embeddedUpdateID uuid.UUID
	if _, statErr := os.Stat(cfg.EmbeddedDir); statErr == nil {
		namespace = embedded.New(cfg.EmbeddedDir)
	} else {
		log.Warn().Str("embedded_dir", cfg.EmbeddedDir).Msg("No embedded update directory, emergency fallback unavailable")
	}

	client := fetcher.NewRetryableClient(0, 0, 0)
	assetFetcher := fetcher.New(store, namespace, cfg.UpdatesDir, client, cfg.FetchTimeout)

	// Sync the build's own release into the store before anything else so
	// there is always a baseline to select and to dedup against.
	if namespace != nil {
		embeddedLoader := loader.NewEmbedded(store, assetFetcher, namespace, resolveCtx, cfg.Concurrency)
		outcome, loadErr := embeddedLoader.Load(ctx)
		if loadErr != nil {
			log.Warn().Err(loadErr).Msg("Embedded update sync incomplete")
		}
		if outcome != nil && outcome.Update != nil {
			embeddedUpdateID = outcome.Update.ID
		}
	}

	selection, filters := buildPolicy(cfg)

	var remote *loader.Remote
	if cfg.UpdateURL != "" {
		remote = loader.NewRemote(store, assetFetcher, client, cfg.UpdateURL, cfg.RuntimeVersion, resolveCtx, cfg.Concurrency)
		remote.EmbeddedUpdateID = embeddedUpdateID
	}

	launch := launcher.New(store, assetFetcher, namespace, selection, filters, cfg.ScopeKey, cfg.UpdatesDir, embeddedUpdateID)
	result, launchErr := launch.LaunchWithFallback(ctx)
	if launchErr != nil {
		log.Fatal().Err(launchErr).Msg("No update could be launched")
	}

	log.Info().
		Str("update_id", result.Update.ID.String()).
		Str("launch_asset", result.LaunchAssetPath).
		Bool("emergency", result.Emergency).
		Msg("Update launched")

	if remote != nil {
		launched := result.Update
		remote.OnManifestLoaded = func(m *models.Manifest) bool {
			return selection.ShouldLoadNewUpdate(m.Update(models.UpdateStatusPending), launched, filters)
		}
	}

	// Garbage-collect only after committing to a replacement, and never
	// off an emergency launch whose record is not in the database.
	if !result.Emergency {
		reaper := launcher.NewReaper(store, selection, filters, cfg.ScopeKey, cfg.UpdatesDir)
		if reaped, reapErr := reaper.Reap(result.Update); reapErr != nil {
			log.Warn().Err(reapErr).Msg("Reaping failed")
		} else if reaped > 0 {
			log.Info().Int("reaped", reaped).Msg("Removed superseded updates")
		}
	}

	return result, store, remote
}

// buildPolicy picks the selection strategy once at startup: filter-aware
// when predicates are configured, commit-time-only otherwise.
func buildPolicy(cfg *config.Config) (policy.SelectionPolicy, policy.Filters) {
	if len(cfg.Filters) > 0 {
		return policy.NewFilterAware(cfg.CompatibleRuntimeVersions), policy.Filters(cfg.Filters)
	}
	return policy.NewNewest(cfg.CompatibleRuntimeVersions), nil
}

// checkLoop polls the update server. Loaded updates take effect on the
// next process start; the running one is never swapped mid-flight.
func checkLoop(remote *loader.Remote, srv *server.Server, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for range ticker.C {
		var launched *models.Update
		if result := srv.Launched(); result != nil {
			launched = result.Update
		}

		outcome, err := remote.Load(context.Background(), launched)
		if err != nil {
			log.Warn().Err(err).Msg("Periodic update check failed")
			continue
		}
		if outcome.Vetoed || outcome.Replayed {
			continue
		}
		log.Info().Str("update_id", outcome.Update.ID.String()).
			Str("status", outcome.Update.Status.String()).
			Msg("Periodic check loaded update")
	}
}
