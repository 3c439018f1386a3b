package policy

import "otafs/pkg/models"

// FilterAware selects by commit time plus the server-declared filter
// predicates over update metadata.
type FilterAware struct {
	runtimeVersions []string
}

// NewFilterAware creates a filter-aware policy accepting the given runtime
// versions.
func NewFilterAware(runtimeVersions []string) *FilterAware {
	return &FilterAware{runtimeVersions: runtimeVersions}
}

// SelectUpdateToLaunch returns the runtime-compatible, filter-passing
// update with the latest commit time. Ties are broken by input order.
func (p *FilterAware) SelectUpdateToLaunch(updates []*models.Update, filters Filters) *models.Update {
	var chosen *models.Update
	for _, update := range updates {
		if !runtimeCompatible(update, p.runtimeVersions) {
			continue
		}
		if !filters.Matches(update.Metadata) {
			continue
		}
		if chosen == nil || update.CommitTime.After(chosen.CommitTime) {
			chosen = update
		}
	}
	return chosen
}

// SelectUpdatesToDelete returns the updates strictly older than the
// launched one, retaining the next-newest-older as a rollback margin and,
// when the next-newest fails the filters, additionally retaining the
// newest older update that passes them.
func (p *FilterAware) SelectUpdatesToDelete(updates []*models.Update, launched *models.Update, filters Filters) []*models.Update {
	if launched == nil {
		return nil
	}

	var nextNewest, nextNewestPassing *models.Update
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
		if filters.Matches(update.Metadata) {
			if nextNewestPassing == nil || update.CommitTime.After(nextNewestPassing.CommitTime) {
				nextNewestPassing = update
			}
		}
	}

	var deletable []*models.Update
	for _, update := range older {
		if update == nextNewest || update == nextNewestPassing {
			continue
		}
		deletable = append(deletable, update)
	}
	return deletable
}

// ShouldLoadNewUpdate is true when nothing is launched, when the launched
// update itself fails the filters (we must get off it regardless of commit
// times), or when a filter-passing candidate is strictly newer. A
// candidate that fails filters never supersedes a passing launched update.
func (p *FilterAware) ShouldLoadNewUpdate(candidate *models.Update, launched *models.Update, filters Filters) bool {
	if launched == nil {
		return candidate != nil
	}
	if !filters.Matches(launched.Metadata) {
		return true
	}
	if candidate == nil {
		return false
	}
	if !filters.Matches(candidate.Metadata) {
		return false
	}
	return candidate.CommitTime.After(launched.CommitTime)
}
