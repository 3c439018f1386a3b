package loader

import "errors"

var (
	// ErrLaunchAssetFailed is returned when the entry-point bundle could
	// not be materialized. Its absence fails the whole load.
	ErrLaunchAssetFailed = errors.New("launch asset failed")

	// ErrAllAssetsFailed is returned when not a single asset of the
	// manifest could be materialized.
	ErrAllAssetsFailed = errors.New("all assets failed")

	// ErrManifestFetch is returned when the remote manifest request itself
	// fails.
	ErrManifestFetch = errors.New("manifest fetch failed")
)
