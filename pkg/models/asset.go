package models

// Asset represents one physical file that may be shared across many
// updates. Two rows with equal Hash refer to byte-identical content and
// share a single copy on disk.
type Asset struct {
	ID int64 `json:"id"`

	// Key is the logical name of the asset within its update. Empty for
	// hash-only assets such as the launch bundle of a legacy manifest.
	Key string `json:"key,omitempty"`

	// Hash is the hex-encoded SHA-256 of the asset bytes, the dedup key.
	// Empty until the bytes have been confirmed or when the manifest did
	// not declare one.
	Hash string `json:"hash,omitempty"`

	// Type is the file extension tag, without the leading dot.
	Type string `json:"type,omitempty"`

	// RelativePath is the asset's location under the updates directory.
	// Empty until materialized.
	RelativePath string `json:"relative_path,omitempty"`

	// URL is the remote origin, when the asset can be fetched.
	URL string `json:"url,omitempty"`

	// EmbeddedFilename is set when the asset ships inside the app binary's
	// embedded namespace.
	EmbeddedFilename string `json:"embedded_filename,omitempty"`

	// IsLaunchAsset marks the entry-point bundle of the owning update. The
	// role is per update, so it is persisted on the update-asset join row,
	// not on the content row.
	IsLaunchAsset bool `json:"is_launch_asset"`

	// NoCache forces a Cache-Control: no-cache header on the fetch
	// request. Set for assets from legacy manifests.
	NoCache bool `json:"-"`

	Size int64 `json:"size,omitempty"`
}

// Filename returns the content-addressed name the asset is stored under,
// derived from its hash and type. Empty when the hash is not yet known.
func (a *Asset) Filename() string {
	if a.Hash == "" {
		return ""
	}
	if a.Type == "" {
		return a.Hash
	}
	return a.Hash + "." + a.Type
}
