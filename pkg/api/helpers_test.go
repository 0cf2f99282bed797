package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/agentos-io/agentcore/pkg/chat"
	"github.com/agentos-io/agentcore/pkg/config"
	"github.com/agentos-io/agentcore/pkg/database"
	"github.com/agentos-io/agentcore/pkg/events"
	"github.com/agentos-io/agentcore/pkg/intake"
	"github.com/agentos-io/agentcore/pkg/llm"
	"github.com/agentos-io/agentcore/pkg/mcp"
	"github.com/agentos-io/agentcore/pkg/runner"
	"github.com/agentos-io/agentcore/pkg/services"
	"github.com/agentos-io/agentcore/pkg/session"
	"github.com/agentos-io/agentcore/pkg/workspace"
)

// stubRunner returns a canned outcome after an optional delay.
type stubRunner struct {
	mu      sync.Mutex
	outcome *runner.Outcome
	err     error
	delay   time.Duration
	calls   int
}

func (r *stubRunner) Run(ctx context.Context, inv runner.Invocation) (*runner.Outcome, error) {
	r.mu.Lock()
	r.calls++
	outcome, err, delay := r.outcome, r.err, r.delay
	r.mu.Unlock()
	if delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	if err != nil {
		return nil, err
	}
	if outcome == nil {
		outcome = &runner.Outcome{OK: true, Result: map[string]any{"status": "success"}}
	}
	return outcome, nil
}

// stubProvider returns canned model replies.
type stubProvider struct {
	mu      sync.Mutex
	replies []string
	err     error
	calls   int
}

func (p *stubProvider) ChatWithMeta(_ context.Context, _ []llm.Message, _ llm.Options) (string, llm.Meta, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", llm.Meta{}, p.err
	}
	reply := "ok"
	if p.calls < len(p.replies) {
		reply = p.replies[p.calls]
	} else if len(p.replies) > 0 {
		reply = p.replies[len(p.replies)-1]
	}
	p.calls++
	return reply, llm.Meta{Model: "stub"}, nil
}

type testEnv struct {
	server   *Server
	cfg      *config.Config
	db       *database.Client
	runner   *stubRunner
	provider *stubProvider
	base     string
}

// newTestEnv wires a full server over temp storage and a stub pipeline
// runner.
func newTestEnv(t *testing.T) *testEnv {
	return newTestEnvWith(t, nil)
}

// newTestEnvWith rebuilds the environment over an existing config, so a
// test can flip settings the components capture at construction.
func newTestEnvWith(t *testing.T, cfg *config.Config) *testEnv {
	t.Helper()
	var base string
	if cfg == nil {
		base = t.TempDir()
		cfg = config.Default()
		cfg.Outbox.EpisodesDir = filepath.Join(base, "episodes")
		cfg.Outbox.SQLitePath = filepath.Join(base, "episodes.db")
		cfg.Scoreboard.EpisodesDir = cfg.Outbox.EpisodesDir
		cfg.Workspace.Root = filepath.Join(base, "workspace")
	} else {
		base = filepath.Dir(cfg.Outbox.EpisodesDir)
	}

	db, err := database.NewClient(context.Background(),
		database.Config{Path: filepath.Join(base, "chat.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	files, err := workspace.NewService(cfg.Workspace, base)
	require.NoError(t, err)

	stub := &stubRunner{}
	jobs := session.NewManager(session.Options{
		Runner: func(job *session.Job) runner.PipelineRunner { return stub },
	})

	provider := &stubProvider{}
	router := mcp.NewRouter(mcp.NewClient(cfg.MCP), mcp.NewLocal(base), cfg.MCP)
	agent := chat.New(provider, router, chat.Options{
		AutoProceed: true,
		Drafts:      files,
	})

	srv := NewServer(Deps{
		Config:    cfg,
		BaseDir:   base,
		DB:        db,
		Jobs:      jobs,
		ChatAgent: agent,
		Intake:    &intake.Builder{Provider: provider},
		Chat:      services.NewChatService(db),
		Approvals: services.NewApprovalService(db),
		Workflows: services.NewWorkflowService(db),
		JobQueue:  services.NewJobService(db),
		Workspace: files,
		MCP:       router,
		Events:    events.NewManager(events.Options{}),
	})
	return &testEnv{server: srv, cfg: cfg, db: db, runner: stub, provider: provider, base: base}
}

// do runs one request through the full middleware chain.
func (env *testEnv) do(t *testing.T, method, target string, body any, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	env.server.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var doc map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	return doc
}

func waitForJob(t *testing.T, env *testEnv, jobID string) session.Job {
	t.Helper()
	var snap session.Job
	require.Eventually(t, func() bool {
		job, err := env.server.jobs.Get(jobID)
		if err != nil {
			return false
		}
		snap = job.Clone()
		return snap.Done
	}, 5*time.Second, 10*time.Millisecond)
	return snap
}
