package models

import (
	"time"

	"github.com/google/uuid"
)

// Manifest is the normalized in-memory form of a release description,
// produced by the manifest resolver from either supported dialect.
type Manifest struct {
	UpdateID       uuid.UUID
	CommitTime     time.Time
	RuntimeVersion string
	ScopeKey       string
	Metadata       map[string]any

	// Assets holds every asset of the release. LaunchAssetIndex points at
	// the mandatory entry bundle within it.
	Assets           []Asset
	LaunchAssetIndex int
}

// LaunchAsset returns the entry-point bundle descriptor.
func (m *Manifest) LaunchAsset() *Asset {
	if m.LaunchAssetIndex < 0 || m.LaunchAssetIndex >= len(m.Assets) {
		return nil
	}
	return &m.Assets[m.LaunchAssetIndex]
}

// Update builds the persistable record for this manifest with the given
// status.
func (m *Manifest) Update(status UpdateStatus) *Update {
	return &Update{
		ID:             m.UpdateID,
		CommitTime:     m.CommitTime,
		RuntimeVersion: m.RuntimeVersion,
		ScopeKey:       m.ScopeKey,
		Status:         status,
		Metadata:       m.Metadata,
	}
}
