package server

import (
	"net/http"

	"otafs/pkg/models"

	"github.com/dustin/go-humanize"
	"github.com/labstack/echo/v4"
)

// statusResponse is the /status payload.
type statusResponse struct {
	Version        string         `json:"version"`
	ScopeKey       string         `json:"scope_key"`
	RuntimeVersion string         `json:"runtime_version"`
	Running        *models.Update `json:"running,omitempty"`
	Emergency      bool           `json:"emergency,omitempty"`
	MissingAssets  []string       `json:"missing_assets,omitempty"`
	UpdateCount    int64          `json:"update_count"`
	AssetCount     int64          `json:"asset_count"`
	StorageUsed    string         `json:"storage_used"`
}

// StatusHandler reports the running update and store totals.
func (s *Server) StatusHandler(ctx echo.Context) error {
	stats, err := s.store.GetStats()
	if err != nil {
		return ctx.JSON(http.StatusInternalServerError, map[string]string{
			"error": "Failed to read store stats: " + err.Error(),
		})
	}

	response := statusResponse{
		Version:        s.version,
		ScopeKey:       s.scopeKey,
		RuntimeVersion: s.runtimeVersion,
		UpdateCount:    stats.UpdateCount,
		AssetCount:     stats.AssetCount,
		StorageUsed:    humanize.Bytes(uint64(stats.TotalAssetSize)),
	}

	if result := s.Launched(); result != nil {
		response.Running = result.Update
		response.Emergency = result.Emergency
		response.MissingAssets = result.MissingAssets
	}

	return ctx.JSON(http.StatusOK, response)
}

// UpdatesHandler lists every persisted update record.
func (s *Server) UpdatesHandler(ctx echo.Context) error {
	updates, err := s.store.AllUpdates()
	if err != nil {
		return ctx.JSON(http.StatusInternalServerError, map[string]string{
			"error": "Failed to list updates: " + err.Error(),
		})
	}

	type updateResponse struct {
		*models.Update
		Status string `json:"status"`
	}
	response := make([]updateResponse, 0, len(updates))
	for _, update := range updates {
		response = append(response, updateResponse{Update: update, Status: update.Status.String()})
	}

	return ctx.JSON(http.StatusOK, response)
}
