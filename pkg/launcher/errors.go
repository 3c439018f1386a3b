package launcher

import "errors"

var (
	// ErrNoLaunchableUpdate is returned when no persisted update
	// qualifies; the caller falls back to an emergency launch using only
	// the binary-embedded assets.
	ErrNoLaunchableUpdate = errors.New("no launchable update found")

	// ErrLaunchAssetUnavailable is returned when the entry bundle's file
	// could not be resolved even after self-healing attempts. Only the
	// launch asset is mandatory; other missing assets are tolerated.
	ErrLaunchAssetUnavailable = errors.New("launch asset unavailable")

	// ErrNoEmbeddedFallback is returned when an emergency launch is
	// requested but no embedded namespace is configured.
	ErrNoEmbeddedFallback = errors.New("no embedded fallback available")
)
