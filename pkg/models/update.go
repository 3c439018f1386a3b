package models

import (
	"time"

	"github.com/google/uuid"
)

// UpdateStatus is the lifecycle state of a persisted update record.
type UpdateStatus int

const (
	// UpdateStatusPending means the manifest has been recorded but not all
	// of its assets are confirmed present on disk yet.
	UpdateStatusPending UpdateStatus = iota

	// UpdateStatusReady means every asset, including the launch asset, is
	// confirmed present in the content store.
	UpdateStatusReady

	// UpdateStatusEmbedded means the update ships inside the running binary
	// and resolves its assets from the embedded namespace rather than the
	// content store.
	UpdateStatusEmbedded
)

// String returns the status name used in logs and the status API.
func (s UpdateStatus) String() string {
	switch s {
	case UpdateStatusPending:
		return "PENDING"
	case UpdateStatusReady:
		return "READY"
	case UpdateStatusEmbedded:
		return "EMBEDDED"
	default:
		return "UNKNOWN"
	}
}

// Update represents one fetched-or-embedded release of application code.
type Update struct {
	ID             uuid.UUID      `json:"id"`
	CommitTime     time.Time      `json:"commit_time"`
	RuntimeVersion string         `json:"runtime_version"`
	ScopeKey       string         `json:"scope_key"`
	Status         UpdateStatus   `json:"status"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// Launchable reports whether the record's status permits launching. Stale
// EMBEDDED rows from a previous binary install are filtered separately by
// the launcher; status alone is not sufficient.
func (u *Update) Launchable() bool {
	return u.Status == UpdateStatusReady || u.Status == UpdateStatusEmbedded
}
