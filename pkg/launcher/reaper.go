package launcher

import (
	"os"
	"path/filepath"

	"otafs/pkg/db"
	"otafs/pkg/log"
	"otafs/pkg/models"
	"otafs/pkg/policy"
)

// Reaper garbage-collects updates the selection policy marks deletable,
// then removes asset rows and files no surviving update references. It
// runs only after the launcher has committed to a replacement.
type Reaper struct {
	store      *db.Store
	selection  policy.SelectionPolicy
	filters    policy.Filters
	scopeKey   string
	updatesDir string
}

// NewReaper creates a reaper for one scope.
func NewReaper(store *db.Store, selection policy.SelectionPolicy, filters policy.Filters, scopeKey, updatesDir string) *Reaper {
	return &Reaper{
		store:      store,
		selection:  selection,
		filters:    filters,
		scopeKey:   scopeKey,
		updatesDir: updatesDir,
	}
}

// Reap deletes the updates that are safe to drop given what was just
// launched and returns how many were removed. Content shared with
// surviving updates stays on disk; only truly unreferenced files go.
func (r *Reaper) Reap(launched *models.Update) (int, error) {
	updates, err := r.store.UpdatesForScope(r.scopeKey)
	if err != nil {
		return 0, err
	}

	deletable := r.selection.SelectUpdatesToDelete(updates, launched, r.filters)
	if len(deletable) == 0 {
		return 0, nil
	}

	if err := r.store.DeleteUpdates(deletable); err != nil {
		return 0, err
	}
	for _, update := range deletable {
		log.Info().Str("update_id", update.ID.String()).
			Time("commit_time", update.CommitTime).Msg("Reaped update")
	}

	orphans, err := r.store.DeleteUnreferencedAssets()
	if err != nil {
		return len(deletable), err
	}

	for _, orphan := range orphans {
		if orphan.RelativePath == "" {
			continue
		}
		path := filepath.Join(r.updatesDir, orphan.RelativePath)
		if removeErr := os.Remove(path); removeErr != nil && !os.IsNotExist(removeErr) {
			log.Warn().Err(removeErr).Str("path", path).Msg("Failed to remove orphaned asset file")
			continue
		}
		log.Debug().Str("hash", orphan.Hash).Msg("Removed orphaned asset file")
	}

	return len(deletable), nil
}
