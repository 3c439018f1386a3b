package loader

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"otafs/pkg/db"
	"otafs/pkg/fetcher"
	"otafs/pkg/log"
	"otafs/pkg/manifest"
	"otafs/pkg/models"

	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"
)

// Protocol headers sent with every manifest request.
const (
	HeaderRuntimeVersion   = "OTA-Runtime-Version"
	HeaderScopeKey         = "OTA-Scope-Key"
	HeaderCurrentUpdateID  = "OTA-Current-Update-ID"
	HeaderEmbeddedUpdateID = "OTA-Embedded-Update-ID"
)

// Remote loads updates from an update server.
type Remote struct {
	engine
	client         *retryablehttp.Client
	manifestURL    string
	runtimeVersion string
	resolveCtx     manifest.Context

	// EmbeddedUpdateID, when set, is advertised to the server so it can
	// avoid re-serving the build's own release.
	EmbeddedUpdateID uuid.UUID

	// OnManifestLoaded is the optional veto hook, invoked once the
	// manifest is normalized but before any asset I/O. Returning false
	// skips the load entirely; no update row is created.
	OnManifestLoaded func(*models.Manifest) bool
}

// NewRemote creates the remote-variant loader.
func NewRemote(store *db.Store, assetFetcher *fetcher.Fetcher, client *retryablehttp.Client, manifestURL, runtimeVersion string, resolveCtx manifest.Context, concurrency int) *Remote {
	if client == nil {
		client = fetcher.NewRetryableClient(0, 0, 0)
	}
	return &Remote{
		engine:         newEngine(store, assetFetcher, concurrency),
		client:         client,
		manifestURL:    manifestURL,
		runtimeVersion: runtimeVersion,
		resolveCtx:     resolveCtx,
	}
}

// Load fetches the server's current manifest and materializes the update
// it describes. launched, when non-nil, is advertised in the request
// headers and available to the veto hook's caller.
func (l *Remote) Load(ctx context.Context, launched *models.Update) (*Outcome, error) {
	resolved, err := l.fetchManifest(ctx, launched)
	if err != nil {
		return nil, err
	}

	if l.OnManifestLoaded != nil && !l.OnManifestLoaded(resolved) {
		log.Info().Str("update_id", resolved.UpdateID.String()).Msg("Update vetoed before load")
		return &Outcome{Vetoed: true}, nil
	}

	return l.processManifest(ctx, resolved, models.UpdateStatusPending)
}

// fetchManifest downloads and normalizes the server manifest.
func (l *Remote) fetchManifest(ctx context.Context, launched *models.Update) (*models.Manifest, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, "GET", l.manifestURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrManifestFetch, err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set(HeaderRuntimeVersion, l.runtimeVersion)
	req.Header.Set(HeaderScopeKey, l.resolveCtx.ScopeKey)
	if launched != nil {
		req.Header.Set(HeaderCurrentUpdateID, launched.ID.String())
	}
	if l.EmbeddedUpdateID != uuid.Nil {
		req.Header.Set(HeaderEmbeddedUpdateID, l.EmbeddedUpdateID.String())
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrManifestFetch, err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			log.Warn().Err(closeErr).Msg("Failed to close manifest response body")
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: server returned %s", ErrManifestFetch, http.StatusText(resp.StatusCode))
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrManifestFetch, err)
	}

	return manifest.Resolve(raw, l.resolveCtx)
}
