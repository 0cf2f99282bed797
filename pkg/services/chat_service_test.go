package services

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentos-io/agentcore/pkg/models"
)

func TestChatServiceAppendAndHistory(t *testing.T) {
	svc := NewChatService(newTestClient(t))
	ctx := context.Background()

	require.NoError(t, svc.AppendMessage(ctx, "s1", models.RoleUser, "hello", ""))
	require.NoError(t, svc.AppendMessage(ctx, "s1", models.RoleAssistant, "hi there", `{"type":"run"}`))
	require.NoError(t, svc.AppendMessage(ctx, "s2", models.RoleUser, "other session", ""))

	history, err := svc.History(ctx, "s1", 100)
	require.NoError(t, err)
	require.Len(t, history, 2)

	assert.Equal(t, models.RoleUser, history[0].Role)
	assert.Equal(t, "hello", history[0].Content)
	assert.Empty(t, history[0].Action)
	assert.Equal(t, models.RoleAssistant, history[1].Role)
	assert.Equal(t, `{"type":"run"}`, history[1].Action)
	assert.NotEmpty(t, history[0].TS)
}

func TestChatServiceHistoryLimit(t *testing.T) {
	svc := NewChatService(newTestClient(t))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, svc.AppendMessage(ctx, "s1", models.RoleUser, fmt.Sprintf("m%d", i), ""))
	}

	history, err := svc.History(ctx, "s1", 3)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, "m0", history[0].Content)
}

func TestChatServiceClearSession(t *testing.T) {
	svc := NewChatService(newTestClient(t))
	ctx := context.Background()

	require.NoError(t, svc.AppendMessage(ctx, "s1", models.RoleUser, "hello", ""))
	require.NoError(t, svc.ClearSession(ctx, "s1"))

	history, err := svc.History(ctx, "s1", 100)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestChatServiceValidation(t *testing.T) {
	svc := NewChatService(newTestClient(t))
	ctx := context.Background()

	err := svc.AppendMessage(ctx, "", models.RoleUser, "x", "")
	assert.True(t, IsValidationError(err))

	_, err = svc.History(ctx, "", 10)
	assert.True(t, IsValidationError(err))
}

func TestChatServiceTaskStack(t *testing.T) {
	svc := NewChatService(newTestClient(t))
	ctx := context.Background()

	_, err := svc.LoadTaskStack(ctx, "s1")
	assert.ErrorIs(t, err, ErrNotFound)

	stack := map[string]any{"tasks": []any{"collect", "render"}, "cursor": float64(1)}
	require.NoError(t, svc.SaveTaskStack(ctx, "s1", stack))

	got, err := svc.LoadTaskStack(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, stack, got)

	// Replacing is an upsert, not an insert.
	stack["cursor"] = float64(2)
	require.NoError(t, svc.SaveTaskStack(ctx, "s1", stack))

	got, err = svc.LoadTaskStack(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, float64(2), got["cursor"])

	list, err := svc.ListTaskStacks(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "s1", list[0].SessionID)
}
