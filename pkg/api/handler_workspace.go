package api

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"

	echo "github.com/labstack/echo/v5"
)

// workspaceListHandler handles GET /api/ws/ls?path=
func (s *Server) workspaceListHandler(c *echo.Context) error {
	listing, err := s.files.List(c.QueryParam("path"))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"ok":    true,
		"cwd":   listing.CWD,
		"root":  listing.Root,
		"dirs":  listing.Dirs,
		"files": listing.Files,
	})
}

// workspaceReadHandler handles GET /api/ws/read?path=
func (s *Server) workspaceReadHandler(c *echo.Context) error {
	rel := c.QueryParam("path")
	if rel == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "missing_path")
	}
	content, err := s.files.Read(rel)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"ok": true, "path": rel, "content": content})
}

type workspaceWriteRequest struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// workspaceWriteHandler handles POST /api/ws/write. Every write lands in
// the audit log with the acting user and address.
func (s *Server) workspaceWriteHandler(c *echo.Context) error {
	var req workspaceWriteRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Path == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "missing_path")
	}
	user := extractAuthor(c.Request())
	if err := s.files.Write(req.Path, req.Content, user, clientIP(c.Request())); err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"ok": true, "path": req.Path})
}

// downloadHandler handles GET /download?path=, serving files contained
// under the application base directory as attachments.
func (s *Server) downloadHandler(c *echo.Context) error {
	rel := c.QueryParam("path")
	if rel == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "missing_path")
	}

	base, err := filepath.Abs(s.baseDir)
	if err != nil {
		return mapServiceError(err)
	}
	abs := filepath.Join(base, rel)
	within, err := filepath.Rel(base, abs)
	if err != nil || within == ".." || strings.HasPrefix(within, ".."+string(filepath.Separator)) {
		return echo.NewHTTPError(http.StatusForbidden, "path outside base directory")
	}

	info, err := os.Stat(abs)
	if err != nil || info.IsDir() {
		return echo.NewHTTPError(http.StatusNotFound, "file not found")
	}

	c.Response().Header().Set("Content-Disposition", `attachment; filename="`+filepath.Base(abs)+`"`)
	http.ServeFile(c.Response(), c.Request(), abs)
	return nil
}
