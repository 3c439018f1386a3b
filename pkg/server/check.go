package server

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// checkResponse is the /check payload.
type checkResponse struct {
	UpdateID     string   `json:"update_id,omitempty"`
	Status       string   `json:"status,omitempty"`
	Vetoed       bool     `json:"vetoed,omitempty"`
	Replayed     bool     `json:"replayed,omitempty"`
	Fetched      int      `json:"fetched"`
	Downloaded   int      `json:"downloaded"`
	FailedAssets []string `json:"failed_assets,omitempty"`
}

// CheckHandler triggers an immediate remote update check. The newly loaded
// update, if any, takes effect on the next launch.
func (s *Server) CheckHandler(ctx echo.Context) error {
	if s.remote == nil {
		return ctx.JSON(http.StatusConflict, map[string]string{
			"error": "Remote checks are disabled: no update URL configured",
		})
	}

	outcome, err := s.remote.Load(ctx.Request().Context(), s.launchedUpdate())
	if err != nil {
		return ctx.JSON(http.StatusBadGateway, map[string]string{
			"error": "Update check failed: " + err.Error(),
		})
	}

	response := checkResponse{
		Vetoed:     outcome.Vetoed,
		Replayed:   outcome.Replayed,
		Fetched:    outcome.Fetched,
		Downloaded: outcome.Downloaded,
	}
	if outcome.Update != nil {
		response.UpdateID = outcome.Update.ID.String()
		response.Status = outcome.Update.Status.String()
	}
	for _, failure := range outcome.FailedAssets {
		response.FailedAssets = append(response.FailedAssets, failure.Key)
	}

	return ctx.JSON(http.StatusOK, response)
}
