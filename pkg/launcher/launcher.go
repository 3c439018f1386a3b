// Package launcher selects the update to run at process start, resolves
// its concrete asset paths, and falls back to the binary-embedded release
// when everything else fails.
package launcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"otafs/pkg/db"
	"otafs/pkg/embedded"
	"otafs/pkg/fetcher"
	"otafs/pkg/log"
	"otafs/pkg/manifest"
	"otafs/pkg/models"
	"otafs/pkg/policy"

	"github.com/google/uuid"
)

// LaunchResult carries the concrete file paths the runtime needs.
type LaunchResult struct {
	Update          *models.Update
	LaunchAssetPath string

	// AssetPaths maps asset keys to resolved absolute paths. Assets that
	// could not be resolved appear in MissingAssets instead; the app runs
	// without them.
	AssetPaths    map[string]string
	MissingAssets []string

	// Emergency means the result bypassed the database entirely and uses
	// only binary-embedded assets.
	Emergency bool
}

// Launcher materializes a launch decision from the persisted records.
type Launcher struct {
	store      *db.Store
	assets     *fetcher.Fetcher
	namespace  *embedded.Namespace
	selection  policy.SelectionPolicy
	filters    policy.Filters
	scopeKey   string
	updatesDir string

	// embeddedUpdateID identifies the manifest actually bundled in the
	// running install. EMBEDDED rows with any other id are stale leftovers
	// from a previous install and must never launch.
	embeddedUpdateID uuid.UUID
}

// New creates a launcher. namespace may be nil when the build ships no
// embedded update; emergency launches are then unavailable.
func New(store *db.Store, assets *fetcher.Fetcher, namespace *embedded.Namespace, selection policy.SelectionPolicy, filters policy.Filters, scopeKey, updatesDir string, embeddedUpdateID uuid.UUID) *Launcher {
	return &Launcher{
		store:            store,
		assets:           assets,
		namespace:        namespace,
		selection:        selection,
		filters:          filters,
		scopeKey:         scopeKey,
		updatesDir:       updatesDir,
		embeddedUpdateID: embeddedUpdateID,
	}
}

// Launch picks the update to run and resolves its asset paths. Missing
// non-launch assets are tolerated and reported in the result; a missing
// launch asset fails the launch after self-healing attempts.
func (l *Launcher) Launch(ctx context.Context) (*LaunchResult, error) {
	candidates, err := l.launchableCandidates()
	if err != nil {
		return nil, err
	}

	selected := l.selection.SelectUpdateToLaunch(candidates, l.filters)
	if selected == nil {
		return nil, ErrNoLaunchableUpdate
	}

	if selected.Status == models.UpdateStatusEmbedded {
		return l.launchEmbedded(selected)
	}
	return l.launchFromStore(ctx, selected)
}

// LaunchWithFallback runs Launch and degrades to an emergency embedded
// launch on any failure, recording a diagnostic trail. Availability wins
// over freshness; end users never see the raw error.
func (l *Launcher) LaunchWithFallback(ctx context.Context) (*LaunchResult, error) {
	result, err := l.Launch(ctx)
	if err == nil {
		return result, nil
	}

	log.Error().Err(err).Str("scope_key", l.scopeKey).Msg("Launch failed, attempting emergency fallback")

	emergency, fallbackErr := l.EmergencyLaunch()
	if fallbackErr != nil {
		log.Error().Err(fallbackErr).Msg("Emergency launch failed")
		return nil, fmt.Errorf("%w: emergency fallback also failed: %w", err, fallbackErr)
	}
	return emergency, nil
}

// EmergencyLaunch resolves the binary-embedded release directly from the
// embedded namespace, with no database or content store involvement.
func (l *Launcher) EmergencyLaunch() (*LaunchResult, error) {
	if l.namespace == nil {
		return nil, ErrNoEmbeddedFallback
	}

	resolved, err := l.namespace.Manifest(manifest.Context{ScopeKey: l.scopeKey})
	if err != nil {
		return nil, err
	}

	result := &LaunchResult{
		Update:     resolved.Update(models.UpdateStatusEmbedded),
		AssetPaths: make(map[string]string),
		Emergency:  true,
	}

	for i := range resolved.Assets {
		asset := &resolved.Assets[i]
		path, pathErr := l.namespace.Path(asset.EmbeddedFilename)
		if pathErr != nil {
			result.MissingAssets = append(result.MissingAssets, asset.Key)
			continue
		}
		if asset.IsLaunchAsset {
			result.LaunchAssetPath = path
		} else {
			result.AssetPaths[asset.Key] = path
		}
	}

	if result.LaunchAssetPath == "" {
		return nil, ErrLaunchAssetUnavailable
	}

	log.Warn().Str("update_id", result.Update.ID.String()).Msg("Running emergency embedded launch")
	return result, nil
}

// launchableCandidates loads READY and EMBEDDED rows for the scope and
// silently drops stale EMBEDDED rows from previous installs.
func (l *Launcher) launchableCandidates() ([]*models.Update, error) {
	updates, err := l.store.LaunchableUpdates(l.scopeKey)
	if err != nil {
		return nil, err
	}

	candidates := updates[:0]
	for _, update := range updates {
		if update.Status == models.UpdateStatusEmbedded && update.ID != l.embeddedUpdateID {
			log.Debug().Str("update_id", update.ID.String()).
				Msg("Dropping stale embedded record from previous install")
			continue
		}
		candidates = append(candidates, update)
	}
	return candidates, nil
}

// launchEmbedded resolves asset paths straight from the embedded
// namespace, bypassing the content store.
func (l *Launcher) launchEmbedded(selected *models.Update) (*LaunchResult, error) {
	if l.namespace == nil {
		return nil, ErrNoEmbeddedFallback
	}

	resolved, err := l.namespace.Manifest(manifest.Context{ScopeKey: l.scopeKey})
	if err != nil {
		return nil, err
	}

	result := &LaunchResult{
		Update:     selected,
		AssetPaths: make(map[string]string),
	}
	for i := range resolved.Assets {
		asset := &resolved.Assets[i]
		path, pathErr := l.namespace.Path(asset.EmbeddedFilename)
		if pathErr != nil {
			result.MissingAssets = append(result.MissingAssets, asset.Key)
			continue
		}
		if asset.IsLaunchAsset {
			result.LaunchAssetPath = path
		} else {
			result.AssetPaths[asset.Key] = path
		}
	}

	if result.LaunchAssetPath == "" {
		return nil, ErrLaunchAssetUnavailable
	}
	return result, nil
}

// launchFromStore resolves every asset path through the content store,
// self-healing files that have gone missing from disk.
func (l *Launcher) launchFromStore(ctx context.Context, selected *models.Update) (*LaunchResult, error) {
	assets, err := l.store.AssetsForUpdate(selected.ID, selected.ScopeKey)
	if err != nil {
		return nil, err
	}

	result := &LaunchResult{
		Update:     selected,
		AssetPaths: make(map[string]string),
	}

	for _, asset := range assets {
		path, resolveErr := l.resolveAssetPath(ctx, asset)
		if resolveErr != nil {
			if asset.IsLaunchAsset {
				return nil, fmt.Errorf("%w: %w", ErrLaunchAssetUnavailable, resolveErr)
			}
			log.Warn().Err(resolveErr).Str("asset_key", asset.Key).
				Msg("Non-launch asset unavailable, launching without it")
			result.MissingAssets = append(result.MissingAssets, asset.Key)
			continue
		}
		if asset.IsLaunchAsset {
			result.LaunchAssetPath = path
		} else {
			result.AssetPaths[asset.Key] = path
		}
	}

	if result.LaunchAssetPath == "" {
		return nil, ErrLaunchAssetUnavailable
	}
	return result, nil
}

// resolveAssetPath returns the asset's absolute path, re-materializing the
// file when disk corruption or eviction removed it. This is a read path
// that repairs as it reads: embedded copy by hash first, then network.
func (l *Launcher) resolveAssetPath(ctx context.Context, asset *models.Asset) (string, error) {
	if asset.RelativePath != "" {
		absolute := filepath.Join(l.updatesDir, asset.RelativePath)
		if _, err := os.Stat(absolute); err == nil {
			return absolute, nil
		}
		log.Warn().Str("asset_key", asset.Key).Str("relative_path", asset.RelativePath).
			Msg("Asset file missing from disk, self-healing")
	}

	// Try to find an embedded copy by hash when the row doesn't already
	// name one.
	healed := *asset
	if healed.EmbeddedFilename == "" && healed.Hash != "" && l.namespace != nil {
		if name, findErr := l.namespace.FindByHash(healed.Hash); findErr == nil {
			healed.EmbeddedFilename = name
		} else if !errors.Is(findErr, embedded.ErrNotEmbedded) {
			return "", findErr
		}
	}

	if _, err := l.assets.EnsureAsset(ctx, &healed); err != nil {
		return "", err
	}
	return filepath.Join(l.updatesDir, healed.RelativePath), nil
}
