package loader

import (
	"context"

	"otafs/pkg/db"
	"otafs/pkg/embedded"
	"otafs/pkg/fetcher"
	"otafs/pkg/manifest"
	"otafs/pkg/models"
)

// Embedded loads the update bundled inside the application install,
// copying its assets into the content store so later remote updates can
// deduplicate against them.
type Embedded struct {
	engine
	namespace  *embedded.Namespace
	resolveCtx manifest.Context
}

// NewEmbedded creates the embedded-variant loader.
func NewEmbedded(store *db.Store, assetFetcher *fetcher.Fetcher, namespace *embedded.Namespace, resolveCtx manifest.Context, concurrency int) *Embedded {
	return &Embedded{
		engine:     newEngine(store, assetFetcher, concurrency),
		namespace:  namespace,
		resolveCtx: resolveCtx,
	}
}

// Load resolves the embedded manifest and materializes its assets. The
// record starts as EMBEDDED and is promoted to READY only once every asset
// is also present in the content store; on partial failure it stays
// EMBEDDED, which is degraded but still launchable since every asset has a
// physical fallback inside the install.
func (l *Embedded) Load(ctx context.Context) (*Outcome, error) {
	resolved, err := l.namespace.Manifest(l.resolveCtx)
	if err != nil {
		return nil, err
	}
	return l.processManifest(ctx, resolved, models.UpdateStatusEmbedded)
}
