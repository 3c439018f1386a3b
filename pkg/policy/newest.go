package policy

import "otafs/pkg/models"

// Newest selects by commit time alone, ignoring filter predicates.
type Newest struct {
	runtimeVersions []string
}

// NewNewest creates a commit-time-only policy accepting the given runtime
// versions.
func NewNewest(runtimeVersions []string) *Newest {
	return &Newest{runtimeVersions: runtimeVersions}
}

// SelectUpdateToLaunch returns the runtime-compatible update with the
// latest commit time. Ties are broken by first-encountered input order.
func (p *Newest) SelectUpdateToLaunch(updates []*models.Update, _ Filters) *models.Update {
	var chosen *models.Update
	for _, update := range updates {
		if !runtimeCompatible(update, p.runtimeVersions) {
			continue
		}
		if chosen == nil || update.CommitTime.After(chosen.CommitTime) {
			chosen = update
		}
	}
	return chosen
}

// SelectUpdatesToDelete returns every update strictly older than the
// launched one except the next-newest-older, which is retained as a
// rollback margin.
func (p *Newest) SelectUpdatesToDelete(updates []*models.Update, launched *models.Update, _ Filters) []*models.Update {
	if launched == nil {
		return nil
	}

	var nextNewest *models.Update
	var older []*models.Update
	for _, update := range updates {
		if update.ID == launched.ID && update.ScopeKey == launched.ScopeKey {
			continue
		}
		if !update.CommitTime.Before(launched.CommitTime) {
			continue
		}
		older = append(older, update)
		if nextNewest == nil || update.CommitTime.After(nextNewest.CommitTime) {
			nextNewest = update
		}
	}

	var deletable []*models.Update
	for _, update := range older {
		if update == nextNewest {
			continue
		}
		deletable = append(deletable, update)
	}
	return deletable
}

// ShouldLoadNewUpdate is true when nothing is launched yet or the
// candidate is strictly newer than what is running.
func (p *Newest) ShouldLoadNewUpdate(candidate *models.Update, launched *models.Update, _ Filters) bool {
	if candidate == nil {
		return false
	}
	if launched == nil {
		return true
	}
	return candidate.CommitTime.After(launched.CommitTime)
}
