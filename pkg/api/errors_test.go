package api

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/agentos-io/agentcore/pkg/intake"
	"github.com/agentos-io/agentcore/pkg/mcp"
	"github.com/agentos-io/agentcore/pkg/outbox"
	"github.com/agentos-io/agentcore/pkg/replay"
	"github.com/agentos-io/agentcore/pkg/services"
	"github.com/agentos-io/agentcore/pkg/session"
	"github.com/agentos-io/agentcore/pkg/workspace"
)

func TestMapServiceError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code int
	}{
		{"validation", services.NewValidationError("name", "required"), http.StatusBadRequest},
		{"insufficient intake", &intake.ErrInsufficient{Missing: []string{"query"}}, http.StatusBadRequest},
		{"service not found", services.ErrNotFound, http.StatusNotFound},
		{"job not found", fmt.Errorf("%w: job-1", session.ErrNotFound), http.StatusNotFound},
		{"trace not found", fmt.Errorf("%w: t-1", outbox.ErrTraceNotFound), http.StatusNotFound},
		{"already exists", services.ErrAlreadyExists, http.StatusConflict},
		{"ambiguous prefix", fmt.Errorf("%w %q", replay.ErrAmbiguousPrefix, "t-"), http.StatusConflict},
		{"workspace escape", workspace.ErrForbidden, http.StatusForbidden},
		{"suffix", workspace.ErrSuffixNotAllowed, http.StatusBadRequest},
		{"mcp unavailable", fmt.Errorf("%w: fs.ls", mcp.ErrUnavailable), http.StatusBadGateway},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.code, mapServiceError(tc.err).Code)
		})
	}
}
