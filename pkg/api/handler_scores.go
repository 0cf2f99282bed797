package api

import (
	"errors"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	echo "github.com/labstack/echo/v5"

	"github.com/agentos-io/agentcore/pkg/scoreboard"
)

// scoresDBName is the SQLite export the score queries read. It is
// rebuilt from the episode corpus when missing or when refresh=1.
const scoresDBName = "scores.sqlite"

func (s *Server) scoresDBPath() string {
	return filepath.Join(s.baseDir, scoresDBName)
}

// ensureScoresDB refreshes the scores export from the episode corpus
// when the caller asks or no export exists yet.
func (s *Server) ensureScoresDB(refresh bool) (string, error) {
	path := s.scoresDBPath()
	if !refresh {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		} else if !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}
	}
	rows, err := s.scanScores()
	if err != nil {
		return "", err
	}
	if err := scoreboard.ExportSQLite(rows, path); err != nil {
		return "", err
	}
	return path, nil
}

func (s *Server) scanScores() ([]scoreboard.Row, error) {
	if s.sqliteBackend() {
		return scoreboard.ScanSQLite(s.cfg.Outbox.SQLitePath)
	}
	dir := s.cfg.Scoreboard.EpisodesDir
	if dir == "" {
		dir = s.cfg.Outbox.EpisodesDir
	}
	return scoreboard.ScanEpisodes(dir)
}

func scoreFilter(c *echo.Context) (scoreboard.Filter, error) {
	f := scoreboard.Filter{
		Model:    c.QueryParam("model"),
		Provider: c.QueryParam("provider"),
		Window:   c.QueryParam("window"),
		GroupBy:  c.QueryParam("group_by"),
	}
	if v := c.QueryParam("top_n"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return f, echo.NewHTTPError(http.StatusBadRequest, "invalid top_n")
		}
		f.TopN = n
	}
	return f, nil
}

// scoresSummaryHandler handles GET /api/scores/summary.
func (s *Server) scoresSummaryHandler(c *echo.Context) error {
	filter, err := scoreFilter(c)
	if err != nil {
		return err
	}
	path, err := s.ensureScoresDB(c.QueryParam("refresh") == "1")
	if err != nil {
		return mapServiceError(err)
	}
	summary, err := scoreboard.Query(path, filter)
	if err != nil {
		return scoreQueryError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"ok": true, "summary": summary})
}

// scoresGroupCSVHandler handles GET /api/scores/group.csv.
func (s *Server) scoresGroupCSVHandler(c *echo.Context) error {
	filter, err := scoreFilter(c)
	if err != nil {
		return err
	}
	path, err := s.ensureScoresDB(c.QueryParam("refresh") == "1")
	if err != nil {
		return mapServiceError(err)
	}
	groups, err := scoreboard.QueryGroups(path, filter)
	if err != nil {
		return scoreQueryError(err)
	}
	groupBy := filter.GroupBy
	if groupBy == "" {
		groupBy = "model"
	}
	return writeCSV(c, scoreboard.GroupCSV(groupBy, groups))
}

// scoresDetailCSVHandler handles GET /api/scores/detail.csv.
func (s *Server) scoresDetailCSVHandler(c *echo.Context) error {
	filter, err := scoreFilter(c)
	if err != nil {
		return err
	}
	path, err := s.ensureScoresDB(c.QueryParam("refresh") == "1")
	if err != nil {
		return mapServiceError(err)
	}
	rows, err := scoreboard.QueryDetail(path, filter)
	if err != nil {
		return scoreQueryError(err)
	}
	return writeCSV(c, scoreboard.DetailCSV(rows))
}

// writeCSV sends a BOM-prefixed CSV body so spreadsheet tools detect the
// encoding.
func writeCSV(c *echo.Context, body string) error {
	c.Response().Header().Set("Content-Type", "text/csv; charset=utf-8")
	c.Response().WriteHeader(http.StatusOK)
	_, err := c.Response().Write([]byte(body))
	return err
}

// scoreQueryError downgrades filter validation to a client error.
func scoreQueryError(err error) *echo.HTTPError {
	if errors.Is(err, scoreboard.ErrBadGroupBy) {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return mapServiceError(err)
}
