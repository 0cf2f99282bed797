package api

import (
	"net/http"
	"strconv"

	echo "github.com/labstack/echo/v5"
)

// episodeListCap bounds a corpus listing regardless of the requested limit.
const episodeListCap = 100

// episodesHandler handles GET /api/episodes?limit=
func (s *Server) episodesHandler(c *echo.Context) error {
	limit := 20
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid limit")
		}
		limit = n
	}
	if limit > episodeListCap {
		limit = episodeListCap
	}

	episodes, err := s.listEpisodes(limit)
	if err != nil {
		return mapServiceError(err)
	}
	if episodes == nil {
		episodes = []episodeListing{}
	}
	return c.JSON(http.StatusOK, map[string]any{"ok": true, "episodes": episodes})
}

// episodeHandler handles GET /api/episodes/:trace_id, accepting a full
// trace id or a unique prefix.
func (s *Server) episodeHandler(c *echo.Context) error {
	ref := c.Param("trace_id")
	if ref == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "missing_trace_id")
	}
	ep, err := s.loadEpisode(ref)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"ok": true, "episode": ep})
}
