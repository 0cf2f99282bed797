package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateAcceptsDefaults(t *testing.T) {
	require.NoError(t, validate(Default()))
}

func TestValidateRejectsUnknownBackend(t *testing.T) {
	cfg := Default()
	cfg.Outbox.Backend = "parquet"

	err := validate(cfg)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidValue)
	assert.Contains(t, err.Error(), "parquet")
}

func TestValidateRejectsUnknownProvider(t *testing.T) {
	cfg := Default()
	cfg.LLM.Provider = "bedrock"

	err := validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bedrock")
}

func TestValidateMCPServerRequirements(t *testing.T) {
	tests := []struct {
		name    string
		server  MCPServerConfig
		wantErr string
	}{
		{
			name:    "stdio without command",
			server:  MCPServerConfig{ID: "a", Transport: TransportStdio},
			wantErr: "needs a command",
		},
		{
			name:    "http without url",
			server:  MCPServerConfig{ID: "b", Transport: TransportStreamableHTTP},
			wantErr: "needs a url",
		},
		{
			name:    "unknown transport",
			server:  MCPServerConfig{ID: "c", Transport: "carrier-pigeon"},
			wantErr: "unknown transport",
		},
		{
			name:    "missing id",
			server:  MCPServerConfig{Transport: TransportStdio, Command: "x"},
			wantErr: "missing required field",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.MCP.Servers = []MCPServerConfig{tt.server}

			err := validate(cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateDuplicateServerIDs(t *testing.T) {
	cfg := Default()
	cfg.MCP.Servers = []MCPServerConfig{
		{ID: "api", Transport: TransportStreamableHTTP, URL: "http://a"},
		{ID: "api", Transport: TransportStreamableHTTP, URL: "http://b"},
	}

	err := validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate server id")
}

func TestValidateCollectsMultipleErrors(t *testing.T) {
	cfg := Default()
	cfg.Outbox.Backend = "x"
	cfg.LLM.Provider = "y"
	zero := 0
	cfg.LLM.MaxRows = &zero

	err := validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "outbox")
	assert.Contains(t, err.Error(), "llm")
	assert.Contains(t, err.Error(), "max_rows")
}
