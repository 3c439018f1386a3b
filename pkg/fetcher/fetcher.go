package fetcher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"otafs/pkg/db"
	"otafs/pkg/log"
	"otafs/pkg/models"

	"github.com/dustin/go-humanize"
	"github.com/hashicorp/go-retryablehttp"
)

const (
	dirPerm             = 0o750
	defaultFetchTimeout = 60 * time.Second
)

// EmbeddedSource opens assets shipped inside the application binary's
// embedded namespace, addressed by filename.
type EmbeddedSource interface {
	Open(filename string) (io.ReadCloser, error)
}

// Fetcher materializes assets into the content-addressed updates
// directory, deduplicating by hash and verifying integrity.
type Fetcher struct {
	store      *db.Store
	embedded   EmbeddedSource
	updatesDir string
	client     *retryablehttp.Client
	timeout    time.Duration

	creationMutex sync.Mutex
	creationLocks map[string]*sync.Mutex
}

// New creates a fetcher writing into updatesDir. embedded may be nil when
// no embedded namespace is available (remote-only configurations).
func New(store *db.Store, embedded EmbeddedSource, updatesDir string, client *retryablehttp.Client, timeout time.Duration) *Fetcher {
	if client == nil {
		client = NewRetryableClient(0, 0, 0)
	}
	if timeout <= 0 {
		timeout = defaultFetchTimeout
	}
	return &Fetcher{
		store:         store,
		embedded:      embedded,
		updatesDir:    updatesDir,
		client:        client,
		timeout:       timeout,
		creationLocks: make(map[string]*sync.Mutex),
	}
}

// Result describes how EnsureAsset satisfied a request.
type Result int

const (
	// ResultNone is the zero value, paired with every error return.
	ResultNone Result = iota
	// ResultReused means byte-identical content was already present; no
	// copy or download happened.
	ResultReused
	// ResultCopied means the asset was materialized from the embedded
	// namespace without touching the network.
	ResultCopied
	// ResultDownloaded means the asset was fetched over the network.
	ResultDownloaded
)

// NewlyFetched reports whether the result involved a network download.
func (r Result) NewlyFetched() bool {
	return r == ResultDownloaded
}

// Materialized reports whether any copy or download work happened, as
// opposed to the dedup fast path.
func (r Result) Materialized() bool {
	return r == ResultCopied || r == ResultDownloaded
}

// EnsureAsset confirms that the asset's bytes exist in the content store,
// materializing them from the embedded namespace or the network when
// needed. On success the asset carries its database id, hash and relative
// path.
func (f *Fetcher) EnsureAsset(ctx context.Context, asset *models.Asset) (Result, error) {
	// Serialize concurrent materialization of the same content.
	unlock := f.lockContent(asset)
	defer unlock()

	// Dedup fast path: byte-identical content already registered and
	// present on disk means no I/O beyond a stat.
	if asset.Hash != "" {
		existing, err := f.store.GetAssetByHash(asset.Hash)
		switch {
		case err == nil:
			if existing.RelativePath != "" {
				if _, statErr := os.Stat(filepath.Join(f.updatesDir, existing.RelativePath)); statErr == nil {
					f.adoptExisting(asset, existing)
					return ResultReused, nil
				}
			}
			// Row survives but the file is gone: re-materialize into the
			// same row rather than inserting a duplicate hash.
			asset.ID = existing.ID
			log.Warn().Str("hash", asset.Hash).Str("relative_path", existing.RelativePath).
				Msg("Registered asset missing from disk, re-materializing")
		case !errors.Is(err, db.ErrAssetNotFound):
			return ResultNone, err
		}
	}

	// Embedded copy: no network, but the hash is still verified when the
	// manifest declared one. A missing or corrupted embedded copy is only
	// fatal when there is no URL to heal from.
	if f.embedded != nil && asset.EmbeddedFilename != "" {
		switch err := f.materializeFromEmbedded(asset); {
		case err == nil:
			return ResultCopied, nil
		case asset.URL == "":
			return ResultNone, err
		case errors.Is(err, os.ErrNotExist):
			log.Debug().Str("embedded_filename", asset.EmbeddedFilename).
				Msg("Embedded copy unavailable, falling back to network")
		default:
			log.Warn().Err(err).Str("embedded_filename", asset.EmbeddedFilename).
				Msg("Embedded copy unusable, falling back to network")
		}
	}

	if asset.URL == "" {
		return ResultNone, ErrNoSource
	}

	if err := f.materializeFromNetwork(ctx, asset); err != nil {
		return ResultNone, err
	}
	return ResultDownloaded, nil
}

// adoptExisting points the in-flight descriptor at the surviving content
// store row, keeping the descriptor's own identity fields.
func (f *Fetcher) adoptExisting(asset *models.Asset, existing *models.Asset) {
	asset.ID = existing.ID
	asset.RelativePath = existing.RelativePath
	asset.Size = existing.Size
	if asset.Type == "" {
		asset.Type = existing.Type
	}
}

// materializeFromEmbedded copies the binary-shipped asset into the content
// store.
func (f *Fetcher) materializeFromEmbedded(asset *models.Asset) error {
	source, err := f.embedded.Open(asset.EmbeddedFilename)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := source.Close(); closeErr != nil {
			log.Warn().Err(closeErr).Str("embedded_filename", asset.EmbeddedFilename).Msg("Failed to close embedded asset")
		}
	}()

	return f.saveStream(asset, source)
}

// materializeFromNetwork downloads the asset, verifying its hash while
// streaming.
func (f *Fetcher) materializeFromNetwork(ctx context.Context, asset *models.Asset) error {
	fetchCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := retryablehttp.NewRequestWithContext(fetchCtx, "GET", asset.URL, nil)
	if err != nil {
		return err
	}
	if asset.NoCache {
		req.Header.Set("Cache-Control", "no-cache")
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			log.Warn().Err(closeErr).Str("url", asset.URL).Msg("Failed to close asset response body")
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return StatusError{StatusCode: resp.StatusCode, URL: asset.URL}
	}

	if err := f.saveStream(asset, resp.Body); err != nil {
		return err
	}

	log.Info().Str("url", asset.URL).Str("hash", asset.Hash).
		Str("size", humanize.Bytes(uint64(asset.Size))).Msg("Asset downloaded")
	return nil
}

// saveStream hashes the stream into a temp file in the updates directory,
// verifies the expected hash when one was declared, atomically renames the
// file to its content-addressed name and registers the content store row.
func (f *Fetcher) saveStream(asset *models.Asset, reader io.Reader) error {
	if err := os.MkdirAll(f.updatesDir, dirPerm); err != nil {
		return err
	}

	tempFile, err := os.CreateTemp(f.updatesDir, ".fetch-*")
	if err != nil {
		return err
	}
	tempPath := tempFile.Name()
	defer func() {
		_ = tempFile.Close()
		_ = os.Remove(tempPath)
	}()

	hasher := sha256.New()
	size, err := io.Copy(io.MultiWriter(hasher, tempFile), reader)
	if err != nil {
		return err
	}
	if err := tempFile.Close(); err != nil {
		return err
	}

	actualHash := hex.EncodeToString(hasher.Sum(nil))
	if asset.Hash != "" && asset.Hash != actualHash {
		return HashMismatchError{Expected: asset.Hash, Actual: actualHash}
	}
	asset.Hash = actualHash
	asset.Size = size

	targetName := asset.Filename()
	if err := os.Rename(tempPath, filepath.Join(f.updatesDir, targetName)); err != nil {
		return err
	}
	asset.RelativePath = targetName

	return f.register(asset)
}

// register inserts or updates the content store row for the asset.
func (f *Fetcher) register(asset *models.Asset) error {
	if asset.ID != 0 {
		return f.store.UpdateAsset(asset)
	}
	return f.store.InsertAsset(asset)
}

// lockContent takes the creation lock for the asset's content identity so
// duplicate concurrent materializations of one new hash serialize; the
// second holder then hits the dedup fast path.
func (f *Fetcher) lockContent(asset *models.Asset) func() {
	key := asset.Hash
	if key == "" {
		key = asset.URL
	}
	if key == "" {
		key = asset.EmbeddedFilename
	}

	f.creationMutex.Lock()
	lock, exists := f.creationLocks[key]
	if !exists {
		lock = &sync.Mutex{}
		f.creationLocks[key] = lock
	}
	f.creationMutex.Unlock()

	lock.Lock()
	return lock.Unlock
}
