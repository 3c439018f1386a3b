package manifest

import (
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"otafs/pkg/models"

	"github.com/google/uuid"
)

// Context carries the pieces of agent configuration the resolver needs to
// normalize a manifest: the scope the update belongs to and the base URL
// legacy bundled-asset names resolve against.
type Context struct {
	ScopeKey     string
	AssetBaseURL string
}

// Resolve normalizes a raw manifest document into the in-memory model.
// Two dialects are supported: the legacy free-form shape (bundleUrl,
// bundledAssets) and the structured shape (launchAsset, assets[]). The
// transformation is pure; nothing is fetched or persisted.
func Resolve(raw []byte, resolveCtx Context) (*models.Manifest, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}

	if _, isLegacy := probe["bundleUrl"]; isLegacy {
		return resolveLegacy(raw, resolveCtx)
	}
	return resolveStructured(raw, resolveCtx)
}

// structuredManifest is the newer dialect with an explicit asset array.
type structuredManifest struct {
	ID             string            `json:"id"`
	CreatedAt      json.RawMessage   `json:"createdAt"`
	RuntimeVersion string            `json:"runtimeVersion"`
	Metadata       map[string]any    `json:"metadata"`
	LaunchAsset    *structuredAsset  `json:"launchAsset"`
	Assets         []structuredAsset `json:"assets"`
}

type structuredAsset struct {
	Name             string `json:"name"`
	Type             string `json:"type"`
	Scale            string `json:"scale"`
	PackagerHash     string `json:"packagerHash"`
	Subdirectory     string `json:"subdirectory"`
	URL              string `json:"url"`
	EmbeddedFilename string `json:"embeddedFilename"`
}

func resolveStructured(raw []byte, resolveCtx Context) (*models.Manifest, error) {
	var doc structuredManifest
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}

	if doc.RuntimeVersion == "" {
		return nil, ErrRuntimeVersionMissing
	}
	if doc.LaunchAsset == nil {
		return nil, ErrLaunchAssetMissing
	}

	updateID, err := parseUpdateID(doc.ID)
	if err != nil {
		return nil, err
	}
	commitTime, err := parseCommitTime(doc.CreatedAt)
	if err != nil {
		return nil, err
	}

	result := &models.Manifest{
		UpdateID:       updateID,
		CommitTime:     commitTime,
		RuntimeVersion: doc.RuntimeVersion,
		ScopeKey:       resolveCtx.ScopeKey,
		Metadata:       doc.Metadata,
	}

	launch := doc.LaunchAsset.toModel(resolveCtx, false)
	launch.IsLaunchAsset = true
	result.Assets = append(result.Assets, launch)
	result.LaunchAssetIndex = 0

	for i := range doc.Assets {
		result.Assets = append(result.Assets, doc.Assets[i].toModel(resolveCtx, false))
	}

	return result, nil
}

func (a *structuredAsset) toModel(resolveCtx Context, noCache bool) models.Asset {
	key := a.Name
	if a.Scale != "" {
		key = a.Name + "@" + a.Scale
	}

	url := a.URL
	if url == "" && a.Subdirectory != "" && resolveCtx.AssetBaseURL != "" {
		url = strings.TrimSuffix(resolveCtx.AssetBaseURL, "/") + path.Join("/", a.Subdirectory, a.Name)
	}

	return models.Asset{
		Key:              key,
		Hash:             strings.ToLower(a.PackagerHash),
		Type:             strings.TrimPrefix(a.Type, "."),
		URL:              url,
		EmbeddedFilename: a.EmbeddedFilename,
		NoCache:          noCache,
	}
}

// legacyManifest is the free-form dialect. Bundled assets are named
// "asset_<hash>.<type>" and ship inside the binary.
type legacyManifest struct {
	ReleaseID      string          `json:"releaseId"`
	ID             string          `json:"id"`
	CommitTime     json.RawMessage `json:"commitTime"`
	RuntimeVersion string          `json:"runtimeVersion"`
	BundleURL      string          `json:"bundleUrl"`
	BundledAssets  []string        `json:"bundledAssets"`
	Metadata       map[string]any  `json:"metadata"`
}

func resolveLegacy(raw []byte, resolveCtx Context) (*models.Manifest, error) {
	var doc legacyManifest
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}

	if doc.RuntimeVersion == "" {
		return nil, ErrRuntimeVersionMissing
	}
	if doc.BundleURL == "" {
		return nil, ErrLaunchAssetMissing
	}

	idField := doc.ReleaseID
	if idField == "" {
		idField = doc.ID
	}
	updateID, err := parseUpdateID(idField)
	if err != nil {
		return nil, err
	}
	commitTime, err := parseCommitTime(doc.CommitTime)
	if err != nil {
		return nil, err
	}

	result := &models.Manifest{
		UpdateID:       updateID,
		CommitTime:     commitTime,
		RuntimeVersion: doc.RuntimeVersion,
		ScopeKey:       resolveCtx.ScopeKey,
		Metadata:       doc.Metadata,
	}

	// Legacy manifests force no-cache on every fetch.
	result.Assets = append(result.Assets, models.Asset{
		Key:           "bundle",
		Type:          "js",
		URL:           doc.BundleURL,
		IsLaunchAsset: true,
		NoCache:       true,
	})
	result.LaunchAssetIndex = 0

	// Deterministic asset order regardless of manifest field ordering quirks.
	bundled := append([]string(nil), doc.BundledAssets...)
	sort.Strings(bundled)

	for _, name := range bundled {
		asset := models.Asset{
			Key:              name,
			Type:             strings.TrimPrefix(path.Ext(name), "."),
			EmbeddedFilename: name,
			NoCache:          true,
		}
		if resolveCtx.AssetBaseURL != "" {
			asset.URL = strings.TrimSuffix(resolveCtx.AssetBaseURL, "/") + "/" + name
		}
		result.Assets = append(result.Assets, asset)
	}

	return result, nil
}

func parseUpdateID(value string) (uuid.UUID, error) {
	if value == "" {
		return uuid.Nil, fmt.Errorf("%w: missing update id", ErrMalformed)
	}
	id, err := uuid.Parse(strings.ToLower(value))
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: invalid update id %q: %w", ErrMalformed, value, err)
	}
	return id, nil
}

// parseCommitTime accepts either an RFC3339 string or integer unix
// milliseconds, truncating to millisecond precision either way so commit
// times round-trip through the database unchanged.
func parseCommitTime(raw json.RawMessage) (time.Time, error) {
	if len(raw) == 0 {
		return time.Time{}, fmt.Errorf("%w: missing commit time", ErrMalformed)
	}

	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		parsed, parseErr := time.Parse(time.RFC3339, asString)
		if parseErr != nil {
			return time.Time{}, fmt.Errorf("%w: invalid commit time %q: %w", ErrMalformed, asString, parseErr)
		}
		return parsed.UTC().Truncate(time.Millisecond), nil
	}

	var asMillis int64
	if err := json.Unmarshal(raw, &asMillis); err == nil {
		return time.UnixMilli(asMillis).UTC(), nil
	}

	return time.Time{}, fmt.Errorf("%w: invalid commit time %s", ErrMalformed, string(raw))
}
