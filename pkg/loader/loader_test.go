package loader

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"otafs/pkg/db"
	"otafs/pkg/embedded"
	"otafs/pkg/fetcher"
	"otafs/pkg/manifest"
	"otafs/pkg/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
)

const testUpdateID = "079cde35-8367-4c20-84ab-6ff1096e2d27"

var (
	bundleContent = []byte("console.log('hello')")
	iconContent   = []byte("icon-bytes")
)

func contentHash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// LoaderTestSuite tests embedded and remote update loads.
type LoaderTestSuite struct {
	suite.Suite
	tempDir    string
	updatesDir string
	store      *db.Store
	fetch      *fetcher.Fetcher
	resolveCtx manifest.Context

	server *httptest.Server
	mu     sync.Mutex
	// failIcon makes the asset server reject icon downloads.
	failIcon bool
	// assetHits counts downloads per asset path.
	assetHits map[string]int
	// lastHeaders captures the most recent manifest request headers.
	lastHeaders http.Header
}

// SetupTest runs before each test.
func (s *LoaderTestSuite) SetupTest() {
	var err error
	s.tempDir, err = os.MkdirTemp("", "loader-test-*")
	s.Require().NoError(err)
	s.updatesDir = filepath.Join(s.tempDir, "updates")

	s.store, err = db.New(filepath.Join(s.tempDir, "test.db"))
	s.Require().NoError(err)

	s.failIcon = false
	s.assetHits = make(map[string]int)
	s.server = httptest.NewServer(http.HandlerFunc(s.handleRequest))

	s.resolveCtx = manifest.Context{ScopeKey: "app-1"}
	s.fetch = fetcher.New(s.store, nil, s.updatesDir, fetcher.NewRetryableClient(0, 0, 0), 0)
}

// TearDownTest runs after each test.
func (s *LoaderTestSuite) TearDownTest() {
	s.server.Close()
	if s.store != nil {
		s.store.Close()
	}
	os.RemoveAll(s.tempDir)
}

func (s *LoaderTestSuite) handleRequest(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	failIcon := s.failIcon
	if r.URL.Path == "/manifest" {
		s.lastHeaders = r.Header.Clone()
	} else {
		s.assetHits[r.URL.Path]++
	}
	s.mu.Unlock()

	switch r.URL.Path {
	case "/manifest":
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(s.manifestJSON())
	case "/bundle.js":
		_, _ = w.Write(bundleContent)
	case "/icon.png":
		if failIcon {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write(iconContent)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

// manifestJSON builds the structured manifest the test server publishes.
func (s *LoaderTestSuite) manifestJSON() []byte {
	doc := map[string]any{
		"id":             testUpdateID,
		"createdAt":      "2025-01-15T10:30:00Z",
		"runtimeVersion": "1.0",
		"metadata":       map[string]any{"branchName": "main"},
		"launchAsset": map[string]any{
			"name":         "bundle",
			"type":         "js",
			"packagerHash": contentHash(bundleContent),
			"url":          s.server.URL + "/bundle.js",
		},
		"assets": []map[string]any{{
			"name":         "icon.png",
			"type":         "png",
			"packagerHash": contentHash(iconContent),
			"url":          s.server.URL + "/icon.png",
		}},
	}
	raw, err := json.Marshal(doc)
	s.Require().NoError(err)
	return raw
}

func (s *LoaderTestSuite) hits(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.assetHits[path]
}

func (s *LoaderTestSuite) newRemote() *Remote {
	return NewRemote(s.store, s.fetch, fetcher.NewRetryableClient(0, 0, 0),
		s.server.URL+"/manifest", "1.0", s.resolveCtx, 2)
}

// writeEmbeddedNamespace lays out an embedded install directory with a
// manifest and both asset files.
func (s *LoaderTestSuite) writeEmbeddedNamespace() *embedded.Namespace {
	dir := filepath.Join(s.tempDir, "embedded")
	s.Require().NoError(os.MkdirAll(dir, 0o750))

	doc := fmt.Sprintf(`{
		"id": %q,
		"createdAt": "2025-01-15T10:30:00Z",
		"runtimeVersion": "1.0",
		"launchAsset": {"name": "bundle", "type": "js", "packagerHash": %q},
		"assets": [{"name": "icon.png", "type": "png", "packagerHash": %q}]
	}`, testUpdateID, contentHash(bundleContent), contentHash(iconContent))

	s.Require().NoError(os.WriteFile(filepath.Join(dir, "manifest.json"), []byte(doc), 0o600))
	s.Require().NoError(os.WriteFile(filepath.Join(dir, "bundle"), bundleContent, 0o600))
	s.Require().NoError(os.WriteFile(filepath.Join(dir, "icon.png"), iconContent, 0o600))
	return embedded.New(dir)
}

// TestEmbeddedLoadEndToEnd tests that loading the embedded update copies
// every asset into the content store, promotes the record to READY, and
// replays for free afterwards.
func (s *LoaderTestSuite) TestEmbeddedLoadEndToEnd() {
	namespace := s.writeEmbeddedNamespace()
	s.fetch = fetcher.New(s.store, namespace, s.updatesDir, fetcher.NewRetryableClient(0, 0, 0), 0)
	embeddedLoader := NewEmbedded(s.store, s.fetch, namespace, s.resolveCtx, 2)

	outcome, err := embeddedLoader.Load(context.Background())
	s.Require().NoError(err)
	s.True(outcome.Complete())
	s.False(outcome.Replayed)
	s.Equal(2, outcome.Fetched)
	s.Equal(0, outcome.Downloaded, "embedded load must not touch the network")

	record, err := s.store.GetUpdate(uuid.MustParse(testUpdateID), "app-1")
	s.Require().NoError(err)
	s.Equal(models.UpdateStatusReady, record.Status)

	count, err := s.store.CountAssetJoins(record.ID, "app-1")
	s.Require().NoError(err)
	s.Equal(int64(2), count)

	for _, content := range [][]byte{bundleContent, iconContent} {
		asset, lookupErr := s.store.GetAssetByHash(contentHash(content))
		s.Require().NoError(lookupErr)
		_, statErr := os.Stat(filepath.Join(s.updatesDir, asset.RelativePath))
		s.NoError(statErr)
	}

	// A second load replays without asset work.
	outcome, err = embeddedLoader.Load(context.Background())
	s.Require().NoError(err)
	s.True(outcome.Replayed)
	s.Zero(outcome.Fetched)
}

// TestEmbeddedPartialFailureStaysEmbedded tests that an embedded record
// with a failed non-launch asset keeps its EMBEDDED status, staying
// launchable through its physical in-install fallbacks.
func (s *LoaderTestSuite) TestEmbeddedPartialFailureStaysEmbedded() {
	namespace := s.writeEmbeddedNamespace()
	// Corrupt the icon so its hash check fails during the copy.
	s.Require().NoError(os.WriteFile(filepath.Join(s.tempDir, "embedded", "icon.png"), []byte("corrupted"), 0o600))

	s.fetch = fetcher.New(s.store, namespace, s.updatesDir, fetcher.NewRetryableClient(0, 0, 0), 0)
	embeddedLoader := NewEmbedded(s.store, s.fetch, namespace, s.resolveCtx, 2)

	outcome, err := embeddedLoader.Load(context.Background())
	s.Require().NoError(err, "a failed non-launch asset is not a load error")
	s.False(outcome.Complete())
	s.Require().Len(outcome.FailedAssets, 1)
	s.Equal("icon.png", outcome.FailedAssets[0].Key)
	s.False(outcome.FailedAssets[0].Launch)

	record, err := s.store.GetUpdate(uuid.MustParse(testUpdateID), "app-1")
	s.Require().NoError(err)
	s.Equal(models.UpdateStatusEmbedded, record.Status)

	// The launch asset's progress is retained.
	count, err := s.store.CountAssetJoins(record.ID, "app-1")
	s.Require().NoError(err)
	s.Equal(int64(1), count)
}

// TestRemoteLoadEndToEnd tests a complete remote load including the
// protocol headers.
func (s *LoaderTestSuite) TestRemoteLoadEndToEnd() {
	remote := s.newRemote()
	remote.EmbeddedUpdateID = uuid.New()
	launched := &models.Update{ID: uuid.New(), ScopeKey: "app-1"}

	outcome, err := remote.Load(context.Background(), launched)
	s.Require().NoError(err)
	s.True(outcome.Complete())
	s.Equal(2, outcome.Fetched)
	s.Equal(2, outcome.Downloaded)
	s.Equal(models.UpdateStatusReady, outcome.Update.Status)
	s.Equal("main", outcome.Update.Metadata["branchName"])

	s.mu.Lock()
	headers := s.lastHeaders
	s.mu.Unlock()
	s.Equal("1.0", headers.Get(HeaderRuntimeVersion))
	s.Equal("app-1", headers.Get(HeaderScopeKey))
	s.Equal(launched.ID.String(), headers.Get(HeaderCurrentUpdateID))
	s.Equal(remote.EmbeddedUpdateID.String(), headers.Get(HeaderEmbeddedUpdateID))
}

// TestRemotePartialFailureRetainsProgress tests that a load with one
// failed asset keeps the update PENDING and the successful asset's join
// row, and that the retry fetches only the missing asset.
func (s *LoaderTestSuite) TestRemotePartialFailureRetainsProgress() {
	s.mu.Lock()
	s.failIcon = true
	s.mu.Unlock()

	remote := s.newRemote()
	outcome, err := remote.Load(context.Background(), nil)
	s.Require().NoError(err)
	s.False(outcome.Complete())
	s.Require().Len(outcome.FailedAssets, 1)
	s.Equal("icon.png", outcome.FailedAssets[0].Key)

	record, err := s.store.GetUpdate(uuid.MustParse(testUpdateID), "app-1")
	s.Require().NoError(err)
	s.Equal(models.UpdateStatusPending, record.Status)

	count, err := s.store.CountAssetJoins(record.ID, "app-1")
	s.Require().NoError(err)
	s.Equal(int64(1), count, "successful asset keeps its join row")

	// Retry with the server healthy again: only the missing asset moves.
	s.mu.Lock()
	s.failIcon = false
	s.mu.Unlock()

	outcome, err = remote.Load(context.Background(), nil)
	s.Require().NoError(err)
	s.True(outcome.Complete())
	s.Equal(1, outcome.Downloaded, "already-present assets must not re-download")

	record, err = s.store.GetUpdate(uuid.MustParse(testUpdateID), "app-1")
	s.Require().NoError(err)
	s.Equal(models.UpdateStatusReady, record.Status)
	s.Equal(1, s.hits("/bundle.js"), "bundle downloaded exactly once across both loads")
}

// TestRemoteReplay tests that a READY update short-circuits with no
// network traffic beyond the manifest request.
func (s *LoaderTestSuite) TestRemoteReplay() {
	remote := s.newRemote()

	_, err := remote.Load(context.Background(), nil)
	s.Require().NoError(err)
	bundleHits := s.hits("/bundle.js")

	outcome, err := remote.Load(context.Background(), nil)
	s.Require().NoError(err)
	s.True(outcome.Replayed)
	s.Zero(outcome.Fetched)
	s.Equal(bundleHits, s.hits("/bundle.js"))
}

// TestRemoteLaunchAssetFailure tests that the load fails hard when the
// entry-point bundle cannot be materialized.
func (s *LoaderTestSuite) TestRemoteLaunchAssetFailure() {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/manifest" {
			doc := fmt.Sprintf(`{
				"id": %q,
				"createdAt": "2025-01-15T10:30:00Z",
				"runtimeVersion": "1.0",
				"launchAsset": {"name": "bundle", "type": "js", "url": "%s/gone.js"}
			}`, testUpdateID, "http://"+r.Host)
			_, _ = w.Write([]byte(doc))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	remote := NewRemote(s.store, s.fetch, fetcher.NewRetryableClient(0, 0, 0),
		server.URL+"/manifest", "1.0", s.resolveCtx, 2)

	outcome, err := remote.Load(context.Background(), nil)
	s.Require().ErrorIs(err, ErrLaunchAssetFailed)
	s.Require().NotNil(outcome)
	s.Require().Len(outcome.FailedAssets, 1)
	s.True(outcome.FailedAssets[0].Launch)

	// The row survives as PENDING for a later retry.
	record, recordErr := s.store.GetUpdate(uuid.MustParse(testUpdateID), "app-1")
	s.Require().NoError(recordErr)
	s.Equal(models.UpdateStatusPending, record.Status)
}

// TestRemoteVeto tests that the manifest hook can decline an update
// before any row or asset I/O happens.
func (s *LoaderTestSuite) TestRemoteVeto() {
	remote := s.newRemote()
	remote.OnManifestLoaded = func(m *models.Manifest) bool {
		return false
	}

	outcome, err := remote.Load(context.Background(), nil)
	s.Require().NoError(err)
	s.True(outcome.Vetoed)
	s.False(outcome.Complete())

	_, err = s.store.GetUpdate(uuid.MustParse(testUpdateID), "app-1")
	s.ErrorIs(err, db.ErrUpdateNotFound, "vetoed updates must not create rows")
	s.Zero(s.hits("/bundle.js"))
}

// TestRemoteManifestFetchError tests manifest request failures.
func (s *LoaderTestSuite) TestRemoteManifestFetchError() {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	remote := NewRemote(s.store, s.fetch, fetcher.NewRetryableClient(0, 0, 0),
		server.URL+"/manifest", "1.0", s.resolveCtx, 2)

	_, err := remote.Load(context.Background(), nil)
	s.ErrorIs(err, ErrManifestFetch)
}

// TestLoaderTestSuite runs the suite.
func TestLoaderTestSuite(t *testing.T) {
	suite.Run(t, new(LoaderTestSuite))
}
