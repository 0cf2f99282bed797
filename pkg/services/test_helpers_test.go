package services

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agentos-io/agentcore/pkg/database"
)

// newTestClient opens a migrated chat store in a temp dir.
func newTestClient(t *testing.T) *database.Client {
	t.Helper()
	client, err := database.NewClient(context.Background(),
		database.Config{Path: filepath.Join(t.TempDir(), "chat.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}
