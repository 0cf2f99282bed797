package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentos-io/agentcore/pkg/runner"
)

func dialEvents(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/agent/events" + query
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func readEventFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var frame map[string]any
	require.NoError(t, json.Unmarshal(data, &frame))
	return frame
}

// readUntil skips frames until one of the wanted type arrives.
func readUntil(t *testing.T, conn *websocket.Conn, frameType string) map[string]any {
	t.Helper()
	for i := 0; i < 50; i++ {
		frame := readEventFrame(t, conn)
		if frame["type"] == frameType {
			return frame
		}
	}
	t.Fatalf("no %q frame arrived", frameType)
	return nil
}

func TestEventsStreamMissingJob(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(env.server)
	t.Cleanup(srv.Close)

	conn := dialEvents(t, srv, "?job_id=job-nope")
	frame := readEventFrame(t, conn)
	assert.Equal(t, "error", frame["type"])
	assert.Equal(t, "job_not_found", frame["message"])
}

func TestEventsStreamRequiresTarget(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(env.server)
	t.Cleanup(srv.Close)

	conn := dialEvents(t, srv, "")
	frame := readEventFrame(t, conn)
	assert.Equal(t, "error", frame["type"])
	assert.Equal(t, "missing_job_id", frame["message"])
}

func TestEventsStreamJobToCompletion(t *testing.T) {
	env := newTestEnv(t)
	env.runner.delay = 200 * time.Millisecond
	env.runner.outcome = &runner.Outcome{
		OK:     true,
		Result: map[string]any{"status": "success", "trace_id": "t-aaaabbbbcccc"},
	}
	srv := httptest.NewServer(env.server)
	t.Cleanup(srv.Close)

	rec := env.do(t, http.MethodPost, "/api/run", map[string]any{
		"srs_path":  "examples/srs/weekly.json",
		"data_path": "examples/data/weekly.csv",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	jobID := decodeBody(t, rec)["job_id"].(string)

	conn := dialEvents(t, srv, "?job_id="+jobID)

	status := readUntil(t, conn, "status")
	assert.Equal(t, "pending", status["state"])

	final := readUntil(t, conn, "final")
	assert.Equal(t, "t-aaaabbbbcccc", final["trace_id"])
	result := final["result"].(map[string]any)
	assert.Equal(t, "success", result["status"])
}

func TestEventsStreamFailedJob(t *testing.T) {
	env := newTestEnv(t)
	env.runner.outcome = &runner.Outcome{
		OK:     false,
		Result: map[string]any{"status": "failed"},
		Stderr: "plan rejected",
	}
	srv := httptest.NewServer(env.server)
	t.Cleanup(srv.Close)

	rec := env.do(t, http.MethodPost, "/api/run", map[string]any{
		"srs_path":  "examples/srs/weekly.json",
		"data_path": "examples/data/weekly.csv",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	jobID := decodeBody(t, rec)["job_id"].(string)
	waitForJob(t, env, jobID)

	conn := dialEvents(t, srv, "?job_id="+jobID)
	frame := readUntil(t, conn, "error")
	assert.NotEmpty(t, frame["message"])
}

func TestEventsStreamChatMode(t *testing.T) {
	env := newTestEnv(t)
	env.provider.replies = []string{"sure"}
	srv := httptest.NewServer(env.server)
	t.Cleanup(srv.Close)

	rec := env.do(t, http.MethodPost, "/api/chat/send", map[string]any{
		"session": "live",
		"message": "hi",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	conn := dialEvents(t, srv, "?session=live")

	initFrame := readEventFrame(t, conn)
	assert.Equal(t, "chat.init", initFrame["type"])
	assert.Equal(t, "live", initFrame["session"])
	history := initFrame["history"].([]any)
	assert.Len(t, history, 2)

	statusFrame := readEventFrame(t, conn)
	assert.Equal(t, "chat.status", statusFrame["type"])
	assert.Equal(t, "idle", statusFrame["state"])

	// A second turn should fan out live frames to the subscriber.
	go func() {
		env.do(t, http.MethodPost, "/api/chat/send", map[string]any{
			"session": "live",
			"message": "and again",
		}, nil)
	}()

	msg := readUntil(t, conn, "chat.message")
	assert.Equal(t, "user", msg["role"])
	assert.Equal(t, "and again", msg["content"])
}
