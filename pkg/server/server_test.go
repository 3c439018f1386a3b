package server

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"otafs/pkg/db"
	"otafs/pkg/fetcher"
	"otafs/pkg/launcher"
	"otafs/pkg/loader"
	"otafs/pkg/manifest"
	"otafs/pkg/models"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/suite"
)

// ServerTestSuite tests the agent's HTTP handlers.
type ServerTestSuite struct {
	suite.Suite
	tempDir string
	store   *db.Store
	echo    *echo.Echo
}

// SetupTest runs before each test.
func (s *ServerTestSuite) SetupTest() {
	var err error
	s.tempDir, err = os.MkdirTemp("", "server-test-*")
	s.Require().NoError(err)

	s.store, err = db.New(filepath.Join(s.tempDir, "test.db"))
	s.Require().NoError(err)

	s.echo = echo.New()
}

// TearDownTest runs after each test.
func (s *ServerTestSuite) TearDownTest() {
	if s.store != nil {
		s.store.Close()
	}
	os.RemoveAll(s.tempDir)
}

func (s *ServerTestSuite) newContext(method, target string) (echo.Context, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	return s.echo.NewContext(req, rec), rec
}

// TestHealthHandler tests the liveness endpoint.
func (s *ServerTestSuite) TestHealthHandler() {
	server := New(s.store, nil, "0.1.0", "app-1", "1.0")
	ctx, rec := s.newContext(http.MethodGet, "/health")

	s.Require().NoError(server.HealthHandler(ctx))
	s.Equal(http.StatusOK, rec.Code)

	var body map[string]string
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &body))
	s.Equal("ok", body["status"])
}

// TestStatusHandler tests status reporting before and after launch.
func (s *ServerTestSuite) TestStatusHandler() {
	server := New(s.store, nil, "0.1.0", "app-1", "1.0")

	ctx, rec := s.newContext(http.MethodGet, "/status")
	s.Require().NoError(server.StatusHandler(ctx))
	s.Equal(http.StatusOK, rec.Code)

	var body map[string]any
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &body))
	s.Equal("0.1.0", body["version"])
	s.Equal("app-1", body["scope_key"])
	s.Nil(body["running"])

	running := &models.Update{
		ID:             uuid.New(),
		CommitTime:     time.Now().UTC().Truncate(time.Millisecond),
		RuntimeVersion: "1.0",
		ScopeKey:       "app-1",
		Status:         models.UpdateStatusReady,
	}
	server.SetLaunched(&launcher.LaunchResult{Update: running, MissingAssets: []string{"icon.png"}})

	ctx, rec = s.newContext(http.MethodGet, "/status")
	s.Require().NoError(server.StatusHandler(ctx))
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &body))

	runningBody, ok := body["running"].(map[string]any)
	s.Require().True(ok)
	s.Equal(running.ID.String(), runningBody["id"])
	s.Equal([]any{"icon.png"}, body["missing_assets"])
}

// TestUpdatesHandler tests the record listing with readable statuses.
func (s *ServerTestSuite) TestUpdatesHandler() {
	update := &models.Update{
		ID:             uuid.New(),
		CommitTime:     time.Now().UTC().Truncate(time.Millisecond),
		RuntimeVersion: "1.0",
		ScopeKey:       "app-1",
		Status:         models.UpdateStatusEmbedded,
	}
	s.Require().NoError(s.store.InsertUpdate(update))

	server := New(s.store, nil, "0.1.0", "app-1", "1.0")
	ctx, rec := s.newContext(http.MethodGet, "/updates")
	s.Require().NoError(server.UpdatesHandler(ctx))
	s.Equal(http.StatusOK, rec.Code)

	var body []map[string]any
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &body))
	s.Require().Len(body, 1)
	s.Equal(update.ID.String(), body[0]["id"])
	s.Equal("EMBEDDED", body[0]["status"])
}

// TestCheckHandlerDisabled tests the check endpoint without a remote.
func (s *ServerTestSuite) TestCheckHandlerDisabled() {
	server := New(s.store, nil, "0.1.0", "app-1", "1.0")
	ctx, rec := s.newContext(http.MethodPost, "/check")

	s.Require().NoError(server.CheckHandler(ctx))
	s.Equal(http.StatusConflict, rec.Code)
}

// TestCheckHandler tests an immediate remote check end to end.
func (s *ServerTestSuite) TestCheckHandler() {
	bundle := []byte("console.log('hello')")
	sum := sha256.Sum256(bundle)
	updateID := uuid.New().String()

	var updateServer *httptest.Server
	updateServer = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/bundle.js" {
			_, _ = w.Write(bundle)
			return
		}
		doc := fmt.Sprintf(`{
			"id": %q,
			"createdAt": "2025-01-15T10:30:00Z",
			"runtimeVersion": "1.0",
			"launchAsset": {"name": "bundle", "type": "js", "packagerHash": %q, "url": %q}
		}`, updateID, hex.EncodeToString(sum[:]), updateServer.URL+"/bundle.js")
		_, _ = w.Write([]byte(doc))
	}))
	defer updateServer.Close()

	updatesDir := filepath.Join(s.tempDir, "updates")
	assetFetcher := fetcher.New(s.store, nil, updatesDir, fetcher.NewRetryableClient(0, 0, 0), 0)
	remote := loader.NewRemote(s.store, assetFetcher, fetcher.NewRetryableClient(0, 0, 0),
		updateServer.URL+"/manifest", "1.0", manifest.Context{ScopeKey: "app-1"}, 2)

	server := New(s.store, remote, "0.1.0", "app-1", "1.0")
	ctx, rec := s.newContext(http.MethodPost, "/check")

	s.Require().NoError(server.CheckHandler(ctx))
	s.Equal(http.StatusOK, rec.Code)

	var body checkResponse
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &body))
	s.Equal(updateID, body.UpdateID)
	s.Equal("READY", body.Status)
	s.Equal(1, body.Downloaded)
}

// TestCheckHandlerBadGateway tests failure propagation from the remote.
func (s *ServerTestSuite) TestCheckHandlerBadGateway() {
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer broken.Close()

	assetFetcher := fetcher.New(s.store, nil, filepath.Join(s.tempDir, "updates"), fetcher.NewRetryableClient(0, 0, 0), 0)
	remote := loader.NewRemote(s.store, assetFetcher, fetcher.NewRetryableClient(0, 0, 0),
		broken.URL+"/manifest", "1.0", manifest.Context{ScopeKey: "app-1"}, 2)

	server := New(s.store, remote, "0.1.0", "app-1", "1.0")
	ctx, rec := s.newContext(http.MethodPost, "/check")

	s.Require().NoError(server.CheckHandler(ctx))
	s.Equal(http.StatusBadGateway, rec.Code)
}

// TestServerTestSuite runs the suite.
func TestServerTestSuite(t *testing.T) {
	suite.Run(t, new(ServerTestSuite))
}
