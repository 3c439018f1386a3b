package manifest

import "errors"

var (
	// ErrMalformed is returned when the raw manifest is not valid JSON or
	// is missing its identity fields.
	ErrMalformed = errors.New("malformed manifest")

	// ErrRuntimeVersionMissing is returned when the manifest does not
	// declare a runtime version. Such manifests are never loadable.
	ErrRuntimeVersionMissing = errors.New("manifest missing runtime version")

	// ErrLaunchAssetMissing is returned when the manifest does not
	// designate an entry-point bundle.
	ErrLaunchAssetMissing = errors.New("manifest missing launch asset")
)
