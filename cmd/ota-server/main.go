// Command ota-server publishes a directory containing a manifest and its
// asset files over HTTP, for exercising the remote loader in development.
package main

import (
	_ "embed"
	"errors"
	"flag"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"otafs/pkg/log"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

//go:embed VERSION
var Version string

func main() {
	_ = log.Logger

	dir := flag.String("dir", "build/publish", "Directory containing manifest.json and asset files")
	port := flag.String("port", "8090", "Server port")
	flag.Parse()

	manifestPath := filepath.Join(*dir, "manifest.json")
	if _, err := os.Stat(manifestPath); err != nil {
		log.Fatal().Err(err).Str("manifest", manifestPath).Msg("Manifest not found in publish directory")
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.LoggerWithConfig(middleware.LoggerConfig{
		Format: "${time_rfc3339} ${status} ${method} ${uri} (${latency_human})\n",
	}))
	e.Use(middleware.Recover())

	e.GET("/manifest", func(ctx echo.Context) error {
		return ctx.File(manifestPath)
	})
	e.GET("/assets/:name", func(ctx echo.Context) error {
		name := filepath.Clean(ctx.Param("name"))
		if strings.Contains(name, "..") || filepath.IsAbs(name) {
			return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid asset name"})
		}
		return ctx.File(filepath.Join(*dir, name))
	})

	log.Info().
		Str("dir", *dir).
		Str("port", *port).
		Str("version", strings.TrimSpace(Version)).
		Msg("Starting development update server")

	if err := e.Start(":" + *port); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("Server failed to start")
	}
}
