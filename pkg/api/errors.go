package api

import (
	"errors"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/agentos-io/agentcore/pkg/intake"
	"github.com/agentos-io/agentcore/pkg/mcp"
	"github.com/agentos-io/agentcore/pkg/outbox"
	"github.com/agentos-io/agentcore/pkg/replay"
	"github.com/agentos-io/agentcore/pkg/services"
	"github.com/agentos-io/agentcore/pkg/session"
	"github.com/agentos-io/agentcore/pkg/workspace"
)

// mapServiceError maps domain errors to HTTP error responses.
func mapServiceError(err error) *echo.HTTPError {
	var validErr *services.ValidationError
	if errors.As(err, &validErr) {
		return echo.NewHTTPError(http.StatusBadRequest, validErr.Error())
	}
	if insufficient, ok := intake.AsInsufficient(err); ok {
		return echo.NewHTTPError(http.StatusBadRequest, insufficient.Error())
	}
	if errors.Is(err, services.ErrNotFound) ||
		errors.Is(err, session.ErrNotFound) ||
		errors.Is(err, outbox.ErrTraceNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "resource not found")
	}
	if errors.Is(err, services.ErrAlreadyExists) {
		return echo.NewHTTPError(http.StatusConflict, "resource already exists")
	}
	if errors.Is(err, replay.ErrAmbiguousPrefix) {
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	if errors.Is(err, workspace.ErrForbidden) {
		return echo.NewHTTPError(http.StatusForbidden, "path outside workspace root")
	}
	if errors.Is(err, workspace.ErrSuffixNotAllowed) ||
		errors.Is(err, workspace.ErrTooLarge) ||
		errors.Is(err, workspace.ErrNotDirectory) ||
		errors.Is(err, workspace.ErrNotFile) {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if errors.Is(err, mcp.ErrUnavailable) {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}

	// Unexpected error
	slog.Error("Unexpected service error", "error", err)
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
}
