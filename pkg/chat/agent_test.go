package chat

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentos-io/agentcore/pkg/config"
	"github.com/agentos-io/agentcore/pkg/llm"
	"github.com/agentos-io/agentcore/pkg/mcp"
	"github.com/agentos-io/agentcore/pkg/models"
	"github.com/agentos-io/agentcore/pkg/outbox"
)

// fakeProvider replays canned replies and records the last call.
type fakeProvider struct {
	replies  []string
	err      error
	calls    int
	lastMsgs []llm.Message
	lastOpts llm.Options
}

func (f *fakeProvider) ChatWithMeta(_ context.Context, msgs []llm.Message, opts llm.Options) (string, llm.Meta, error) {
	f.lastMsgs = msgs
	f.lastOpts = opts
	meta := llm.Meta{Provider: "fake", Model: "fake-1", Attempts: 1, Temperature: opts.Temperature}
	if f.err != nil {
		return "", meta, f.err
	}
	reply := ""
	if len(f.replies) > 0 {
		if f.calls < len(f.replies) {
			reply = f.replies[f.calls]
		} else {
			reply = f.replies[len(f.replies)-1]
		}
	}
	f.calls++
	return reply, meta, nil
}

// testRouter builds a router with no reachable servers, so every call
// lands on the local tool set rooted at dir.
func testRouter(t *testing.T, dir string, requireRemote bool) *mcp.Router {
	t.Helper()
	cfg := config.MCPConfig{RequireRemote: requireRemote}
	return mcp.NewRouter(mcp.NewClient(cfg), mcp.NewLocal(dir), cfg)
}

func fileTraces(t *testing.T, dir string) TraceFactory {
	t.Helper()
	return func() (outbox.Outbox, func(), error) {
		box, err := outbox.NewFileOutbox(dir, nil)
		if err != nil {
			return nil, nil, err
		}
		return box, func() {}, nil
	}
}

func loadEpisodes(t *testing.T, dir string) []*outbox.Episode {
	t.Helper()
	paths, err := outbox.ListEpisodeFiles(dir)
	require.NoError(t, err)
	eps := make([]*outbox.Episode, 0, len(paths))
	for _, p := range paths {
		ep, err := outbox.LoadEpisode(p)
		require.NoError(t, err)
		eps = append(eps, ep)
	}
	return eps
}

type draftRecorder struct {
	rel     string
	content string
	err     error
}

func (d *draftRecorder) Write(rel, content, _, _ string) error {
	if d.err != nil {
		return d.err
	}
	d.rel, d.content = rel, content
	return nil
}

func TestRespondPlainAnswer(t *testing.T) {
	fake := &fakeProvider{replies: []string{"Nothing to do here."}}
	a := New(fake, testRouter(t, t.TempDir(), false), Options{AutoProceed: true, Temperature: 0.4, Retries: 2})

	history := []llm.Message{
		{Role: models.RoleUser, Content: "earlier question"},
		{Role: models.RoleAssistant, Content: "earlier answer"},
	}
	res, err := a.Respond(context.Background(), "s-1", history, "hello")
	require.NoError(t, err)
	assert.Equal(t, 1, fake.calls)
	assert.True(t, strings.HasPrefix(res.Reply, "Progress\n- "))
	assert.Contains(t, res.Reply, "no tool needed, answering directly")
	assert.True(t, strings.HasSuffix(res.Reply, "Nothing to do here."))
	assert.Nil(t, res.Action)
	assert.Nil(t, res.NextAction)
	assert.Nil(t, res.MCP)
	assert.Equal(t, "fake", res.LLM["provider"])

	require.Len(t, fake.lastMsgs, 4)
	assert.Equal(t, models.RoleSystem, fake.lastMsgs[0].Role)
	assert.Contains(t, fake.lastMsgs[0].Content, "AgentOS assistant")
	assert.Contains(t, fake.lastMsgs[0].Content, "Available MCP tools (local fallback)")
	assert.Equal(t, "earlier question", fake.lastMsgs[1].Content)
	assert.Equal(t, "hello", fake.lastMsgs[3].Content)
	assert.Equal(t, 0.4, fake.lastOpts.Temperature)
	assert.Equal(t, 2, fake.lastOpts.Retries)
}

func TestRespondExecutesToolThenAnswers(t *testing.T) {
	dir := t.TempDir()
	episodes := filepath.Join(dir, "episodes")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("hello from notes"), 0o644))

	fake := &fakeProvider{replies: []string{
		`Let me look. {"action":{"type":"mcp_call","tool":"cat","args":{"path":"notes.txt"}}}`,
		"The notes say hello.",
	}}
	a := New(fake, testRouter(t, dir, false), Options{AutoProceed: true, Traces: fileTraces(t, episodes)})

	res, err := a.Respond(context.Background(), "s-1", nil, "what do my notes say?")
	require.NoError(t, err)
	assert.Equal(t, 2, fake.calls)
	assert.True(t, strings.HasSuffix(res.Reply, "The notes say hello."))
	assert.Contains(t, res.Reply, "planned call: api.fs.read_text")
	assert.Contains(t, res.Reply, "tool finished: api.fs.read_text")

	require.NotNil(t, res.MCP)
	assert.Equal(t, "api", res.MCP.Server)
	assert.Equal(t, "fs.read_text", res.MCP.Tool)
	assert.Equal(t, string(mcp.OriginLocal), res.MCP.Origin)
	assert.Equal(t, "hello from notes", res.MCP.Result["text"])
	assert.Regexp(t, `^t-[0-9a-f]{12}$`, res.MCP.TraceID)
	require.NotNil(t, res.Action)
	assert.Equal(t, "cat", res.Action.Tool)

	obs := fake.lastMsgs[len(fake.lastMsgs)-1]
	assert.Equal(t, models.RoleUser, obs.Role)
	assert.Contains(t, obs.Content, "[tool result] api.fs.read_text:")
	assert.Contains(t, obs.Content, "hello from notes")

	eps := loadEpisodes(t, episodes)
	require.Len(t, eps, 1)
	assert.Equal(t, "chat.mcp_call api.fs.read_text", eps[0].Goal)
	assert.Equal(t, outbox.StatusSuccess, eps[0].Status)
	require.Len(t, eps[0].Events, 2)
	assert.Equal(t, "mcp.call.request", eps[0].Events[0]["type"])
	labels, ok := eps[0].Events[0]["labels"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "chat", labels["source"])
	assert.Equal(t, "s-1", labels["session"])
	assert.Equal(t, "mcp.call.result", eps[0].Events[1]["type"])
}

func TestRespondLoopBudgetStopsChaining(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("aaa"), 0o644))

	command := `{"action":{"type":"mcp_call","tool":"fs.read_text","args":{"path":"a.txt"}}}`
	fake := &fakeProvider{replies: []string{command}}
	a := New(fake, testRouter(t, dir, false), Options{AutoProceed: true, MaxLoops: 2})

	res, err := a.Respond(context.Background(), "s-1", nil, "keep reading")
	require.NoError(t, err)
	assert.Equal(t, 2, fake.calls)
	assert.Equal(t, 2, strings.Count(res.Reply, "tool finished"))
	assert.True(t, strings.HasSuffix(res.Reply, command))
}

func TestRespondAutoProceedOffSurfacesNextAction(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "data"), 0o755))

	fake := &fakeProvider{replies: []string{
		`{"action":{"type":"mcp_call","tool":"fs.list_dir","args":{"path":"."}}}`,
		`The workspace has a data directory. {"action":{"type":"mcp_call","tool":"data.csv_head","args":{"path":"data/weekly.csv","n":10}}}`,
	}}
	a := New(fake, testRouter(t, dir, false), Options{AutoProceed: false})

	res, err := a.Respond(context.Background(), "s-2", nil, "what's here?")
	require.NoError(t, err)
	assert.Equal(t, 2, fake.calls)
	assert.Equal(t, 1, strings.Count(res.Reply, "tool finished"))
	assert.Contains(t, res.Reply, "observation analyzed")
	assert.Contains(t, res.Reply, "suggested next step: api.data.csv_head")
	assert.Contains(t, res.Reply, "The workspace has a data directory.")

	assert.Nil(t, res.Action)
	require.NotNil(t, res.NextAction)
	assert.Equal(t, "data.csv_head", res.NextAction.Tool)
	require.NotNil(t, res.MCP)
	assert.Equal(t, "fs.list_dir", res.MCP.Tool)
}

func TestRespondSavesSRSDraft(t *testing.T) {
	drafts := &draftRecorder{}
	fake := &fakeProvider{replies: []string{
		`Here is a task you can run. {"srs":{"goal":"weekly report","params":{"top_n":5}},"action":{"type":"run","args":{"srs_path":"srs/x.json"}}}`,
	}}
	a := New(fake, testRouter(t, t.TempDir(), false), Options{AutoProceed: true, Drafts: drafts})

	res, err := a.Respond(context.Background(), "s 3/x", nil, "draft a weekly report task")
	require.NoError(t, err)
	assert.Regexp(t, `^srs/srs_s-3-x_\d+\.json$`, res.SRSPath)
	assert.Equal(t, res.SRSPath, drafts.rel)
	assert.Contains(t, res.Reply, "SRS draft saved")

	var saved map[string]any
	require.NoError(t, json.Unmarshal([]byte(drafts.content), &saved))
	assert.Equal(t, "weekly report", saved["goal"])

	require.NotNil(t, res.Action)
	assert.Equal(t, ActionRun, res.Action.Type)
	assert.Nil(t, res.MCP)
}

func TestRespondDegradesWhenModelDown(t *testing.T) {
	dir := t.TempDir()
	episodes := filepath.Join(dir, "episodes")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "examples"), 0o755))

	fake := &fakeProvider{err: errors.New("connect refused")}
	a := New(fake, testRouter(t, dir, false), Options{AutoProceed: true, Traces: fileTraces(t, episodes)})

	res, err := a.Respond(context.Background(), "s-4", nil, "ls examples")
	require.NoError(t, err)
	assert.Contains(t, res.Reply, "LLM call failed: connect refused")
	assert.Contains(t, res.Reply, `"tool":"data.csv_head"`)
	assert.False(t, strings.HasPrefix(res.Reply, "Progress"))
	assert.Contains(t, res.Reply, "[MCP] api.fs.list_dir result:")
	assert.Contains(t, res.Reply, `"cwd"`)

	assert.Equal(t, map[string]any{"error": "connect refused"}, res.LLM)
	require.NotNil(t, res.Action)
	assert.Equal(t, "fs.list_dir", res.Action.Tool)
	assert.Equal(t, "examples", res.Action.Args["path"])
	require.NotNil(t, res.MCP)
	assert.Equal(t, string(mcp.OriginLocal), res.MCP.Origin)

	eps := loadEpisodes(t, episodes)
	require.Len(t, eps, 1)
	assert.Equal(t, "chat.mcp_call api.fs.list_dir", eps[0].Goal)
	assert.Equal(t, outbox.StatusSuccess, eps[0].Status)
}

func TestRespondDegradeWithoutIntent(t *testing.T) {
	fake := &fakeProvider{err: errors.New("boom")}
	a := New(fake, testRouter(t, t.TempDir(), false), Options{AutoProceed: true})

	res, err := a.Respond(context.Background(), "s-5", nil, "summarize the quarter")
	require.NoError(t, err)
	assert.Contains(t, res.Reply, "LLM call failed")
	assert.Nil(t, res.Action)
	assert.Nil(t, res.MCP)
}

func TestRespondToolFailureUnderRequireRemote(t *testing.T) {
	dir := t.TempDir()
	episodes := filepath.Join(dir, "episodes")

	fake := &fakeProvider{replies: []string{
		`{"action":{"type":"mcp_call","server":"api","tool":"fs.read_text","args":{"path":"x.txt"}}}`,
	}}
	a := New(fake, testRouter(t, dir, true), Options{AutoProceed: true, Traces: fileTraces(t, episodes)})

	res, err := a.Respond(context.Background(), "s-6", nil, "read x.txt")
	require.NoError(t, err)
	assert.Equal(t, 1, fake.calls)
	assert.Contains(t, res.Reply, "tool call failed")
	require.NotNil(t, res.MCP)
	assert.NotEmpty(t, res.MCP.Error)
	assert.Empty(t, res.MCP.Result)

	eps := loadEpisodes(t, episodes)
	require.Len(t, eps, 1)
	assert.Equal(t, outbox.StatusFailed, eps[0].Status)
	require.Len(t, eps[0].Events, 2)
	assert.Equal(t, "mcp.call.error", eps[0].Events[1]["type"])
}

func TestRespondParsesCommandFromUserText(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "f.csv"), []byte("a,b\n1,2\n"), 0o644))

	fake := &fakeProvider{replies: []string{
		"Sure, let me run that for you.",
		"The file has columns a and b.",
	}}
	a := New(fake, testRouter(t, dir, false), Options{AutoProceed: true})

	res, err := a.Respond(context.Background(), "s-7", nil,
		`{"action":{"type":"mcp_call","tool":"data.csv_head","args":{"path":"f.csv","n":1}}}`)
	require.NoError(t, err)
	assert.Equal(t, 2, fake.calls)
	require.NotNil(t, res.MCP)
	assert.Equal(t, "data.csv_head", res.MCP.Tool)
	assert.True(t, strings.HasSuffix(res.Reply, "The file has columns a and b."))
}

func TestProgressRedactsSensitiveArgs(t *testing.T) {
	fake := &fakeProvider{replies: []string{
		`{"action":{"type":"mcp_call","tool":"fs.read_text","args":{"path":"x.txt","api_key":"sk-very-secret"}}}`,
		"done",
	}}
	a := New(fake, testRouter(t, t.TempDir(), false), Options{AutoProceed: true})

	res, err := a.Respond(context.Background(), "s-8", nil, "read it")
	require.NoError(t, err)
	assert.Contains(t, res.Reply, `"api_key":"<redacted>"`)
	assert.NotContains(t, res.Reply, "sk-very-secret")
}
