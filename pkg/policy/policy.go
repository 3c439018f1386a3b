// Package policy decides which persisted update should launch, which old
// ones are safe to garbage-collect, and whether a newly offered update
// should supersede the running one.
package policy

import "otafs/pkg/models"

// Filters is a server-declared predicate set matched against update
// metadata. Keys may be dot-paths into nested metadata objects.
type Filters map[string]any

// SelectionPolicy is the shared behavior contract of the Newest and
// FilterAware implementations.
type SelectionPolicy interface {
	// SelectUpdateToLaunch returns the qualifying update with the latest
	// commit time, ties broken by input order. Nil when none qualify.
	SelectUpdateToLaunch(updates []*models.Update, filters Filters) *models.Update

	// SelectUpdatesToDelete returns the updates strictly older than the
	// launched one that are safe to garbage-collect, always keeping a
	// one-generation rollback margin.
	SelectUpdatesToDelete(updates []*models.Update, launched *models.Update, filters Filters) []*models.Update

	// ShouldLoadNewUpdate reports whether a newly offered candidate should
	// be loaded given what is currently launched.
	ShouldLoadNewUpdate(candidate *models.Update, launched *models.Update, filters Filters) bool
}

// runtimeCompatible reports whether the update's runtime version is in the
// configured compatible set.
func runtimeCompatible(update *models.Update, runtimeVersions []string) bool {
	for _, version := range runtimeVersions {
		if update.RuntimeVersion == version {
			return true
		}
	}
	return false
}
