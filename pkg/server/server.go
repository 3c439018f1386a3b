// Package server exposes the agent's operational HTTP surface: status,
// persisted update records, and a trigger for an immediate remote check.
package server

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"otafs/pkg/db"
	"otafs/pkg/launcher"
	"otafs/pkg/loader"
	"otafs/pkg/log"
	"otafs/pkg/models"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

const shutdownTimeout = 10

// Server is the agent's HTTP API.
type Server struct {
	echo           *echo.Echo
	store          *db.Store
	remote         *loader.Remote
	version        string
	scopeKey       string
	runtimeVersion string

	mu       sync.RWMutex
	launched *launcher.LaunchResult
}

// New creates the agent server. remote may be nil when no update URL is
// configured; the check endpoint then reports that remote checks are
// disabled.
func New(store *db.Store, remote *loader.Remote, version, scopeKey, runtimeVersion string) *Server {
	return &Server{
		echo:           echo.New(),
		store:          store,
		remote:         remote,
		version:        version,
		scopeKey:       scopeKey,
		runtimeVersion: runtimeVersion,
	}
}

// SetLaunched records the result the launcher committed to; the status
// endpoint reports it.
func (s *Server) SetLaunched(result *launcher.LaunchResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.launched = result
}

// Launched returns the currently running launch result, nil before launch.
func (s *Server) Launched() *launcher.LaunchResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.launched
}

// launchedUpdate returns the running update record, nil before launch.
func (s *Server) launchedUpdate() *models.Update {
	if result := s.Launched(); result != nil {
		return result.Update
	}
	return nil
}

// Start runs the server until SIGINT/SIGTERM, then shuts down gracefully.
func (s *Server) Start(addr string) error {
	s.setupRoutes()

	go func() {
		log.Info().
			Str("addr", addr).
			Str("scope_key", s.scopeKey).
			Str("version", s.version).
			Msg("Starting update agent server")

		if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server startup failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	return s.Shutdown()
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown() error {
	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout*time.Second)
	defer cancel()

	if err := s.echo.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server shutdown failed")
		return err
	}

	log.Info().Msg("Server gracefully stopped")
	return nil
}

func (s *Server) setupRoutes() {
	s.echo.HideBanner = true
	s.echo.HidePort = true

	s.echo.Use(middleware.LoggerWithConfig(middleware.LoggerConfig{
		Format: "${time_rfc3339} ${status} ${method} ${uri} (${latency_human})\n",
	}))
	s.echo.Use(middleware.Recover())

	s.echo.GET("/health", s.HealthHandler)
	s.echo.GET("/status", s.StatusHandler)
	s.echo.GET("/updates", s.UpdatesHandler)
	s.echo.POST("/check", s.CheckHandler)
}

// HealthHandler reports liveness.
func (s *Server) HealthHandler(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, map[string]string{"status": "ok"})
}
