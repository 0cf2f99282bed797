package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentos-io/agentcore/pkg/database"
	"github.com/agentos-io/agentcore/pkg/models"
	"github.com/agentos-io/agentcore/pkg/runner"
	"github.com/agentos-io/agentcore/pkg/services"
)

// scriptedRunner records invocations and answers them via script.
type scriptedRunner struct {
	mu     sync.Mutex
	calls  []runner.Invocation
	script func(inv runner.Invocation) (*runner.Outcome, error)
}

func (r *scriptedRunner) Run(_ context.Context, inv runner.Invocation) (*runner.Outcome, error) {
	r.mu.Lock()
	r.calls = append(r.calls, inv)
	r.mu.Unlock()
	return r.script(inv)
}

func (r *scriptedRunner) invocations() []runner.Invocation {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]runner.Invocation, len(r.calls))
	copy(out, r.calls)
	return out
}

func newScheduler(t *testing.T, r runner.PipelineRunner) (*Scheduler, *services.WorkflowService, *services.JobService) {
	t.Helper()
	client, err := database.NewClient(context.Background(),
		database.Config{Path: filepath.Join(t.TempDir(), "agent.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	workflows := services.NewWorkflowService(client)
	jobs := services.NewJobService(client)
	return New(jobs, workflows, r, Options{Interval: 10 * time.Millisecond}), workflows, jobs
}

func jobOutcome(t *testing.T, jobs *services.JobService, jobID int64) (*models.Job, models.JobOutcome) {
	t.Helper()
	job, err := jobs.Get(context.Background(), jobID)
	require.NoError(t, err)
	var outcome models.JobOutcome
	require.NoError(t, json.Unmarshal([]byte(job.ResultJSON), &outcome))
	return job, outcome
}

func TestScanExecutesStepsWithSubstitution(t *testing.T) {
	stub := &scriptedRunner{script: func(inv runner.Invocation) (*runner.Outcome, error) {
		if inv.Kind == runner.KindReplay {
			trace, _ := inv.Args["trace"].(string)
			return &runner.Outcome{OK: true, Result: map[string]any{"trace_id": trace, "status": "rerun_ok"}}, nil
		}
		return &runner.Outcome{OK: true, Result: map[string]any{"trace_id": "t-first", "status": "success"}}, nil
	}}
	s, workflows, jobs := newScheduler(t, stub)
	ctx := context.Background()

	def := `{"steps":[
		{"type":"run","args":{"srs_path":"srs/a.json","data_path":"data/a.csv","out":"reports/a.md"}},
		{"type":"replay","args":{"trace":"{prev.trace_id}","rerun":true,"out":"reports/{prev.trace_id}.md"}}
	]}`
	wfID, err := workflows.Create(ctx, "report-then-rerun", def, true)
	require.NoError(t, err)
	jobID, err := jobs.Schedule(ctx, wfID, "2020-01-01T00:00:00Z", "")
	require.NoError(t, err)

	require.NoError(t, s.Scan(ctx))

	job, outcome := jobOutcome(t, jobs, jobID)
	assert.Equal(t, models.JobStatusDone, job.Status)
	assert.True(t, outcome.OK)
	require.Len(t, outcome.Steps, 2)
	assert.Equal(t, "run", outcome.Steps[0].Type)
	assert.True(t, outcome.Steps[1].OK)
	assert.Equal(t, "t-first", outcome.Steps[1].Args["trace"])
	assert.Equal(t, "reports/t-first.md", outcome.Steps[1].Args["out"])

	calls := stub.invocations()
	require.Len(t, calls, 2)
	assert.Equal(t, runner.KindRun, calls[0].Kind)
	assert.Equal(t, "t-first", calls[1].Args["trace"])

	// A finished job does not run again.
	require.NoError(t, s.Scan(ctx))
	assert.Len(t, stub.invocations(), 2)
}

func TestScanWrapsSingleAction(t *testing.T) {
	stub := &scriptedRunner{script: func(runner.Invocation) (*runner.Outcome, error) {
		return &runner.Outcome{OK: true, Result: map[string]any{"trace_id": "t-x", "pass": true}}, nil
	}}
	s, workflows, jobs := newScheduler(t, stub)
	ctx := context.Background()

	wfID, err := workflows.Create(ctx, "review-last",
		`{"action":{"type":"replay","args":{"last":true}}}`, true)
	require.NoError(t, err)
	jobID, err := jobs.Schedule(ctx, wfID, "2020-01-01T00:00:00Z", "")
	require.NoError(t, err)

	require.NoError(t, s.Scan(ctx))

	job, outcome := jobOutcome(t, jobs, jobID)
	assert.Equal(t, models.JobStatusDone, job.Status)
	require.Len(t, outcome.Steps, 1)
	assert.Equal(t, "replay", outcome.Steps[0].Type)
	assert.Equal(t, true, outcome.Steps[0].Args["last"])
}

func TestScanFallsBackToJobArgs(t *testing.T) {
	stub := &scriptedRunner{script: func(runner.Invocation) (*runner.Outcome, error) {
		return &runner.Outcome{OK: true, Result: map[string]any{"trace_id": "t-y"}}, nil
	}}
	s, workflows, jobs := newScheduler(t, stub)
	ctx := context.Background()

	wfID, err := workflows.Create(ctx, "bare", "", true)
	require.NoError(t, err)
	jobID, err := jobs.Schedule(ctx, wfID, "2020-01-01T00:00:00Z", `{"srs_path":"custom.json"}`)
	require.NoError(t, err)

	require.NoError(t, s.Scan(ctx))

	calls := stub.invocations()
	require.Len(t, calls, 1)
	assert.Equal(t, runner.KindRun, calls[0].Kind)
	assert.Equal(t, "custom.json", calls[0].Args["srs_path"])
	assert.Equal(t, DefaultDataPath, calls[0].Args["data_path"])
	assert.Equal(t, fmt.Sprintf("reports/weekly_report_%d_0.md", jobID), calls[0].Args["out"])
}

func TestScanStopsOnFirstFailure(t *testing.T) {
	stub := &scriptedRunner{}
	stub.script = func(runner.Invocation) (*runner.Outcome, error) {
		if len(stub.invocations()) >= 2 {
			return &runner.Outcome{OK: false, RawTail: "boom", Stderr: strings.Repeat("x", 1500)}, nil
		}
		return &runner.Outcome{OK: true, Result: map[string]any{"trace_id": "t-1"}}, nil
	}
	s, workflows, jobs := newScheduler(t, stub)
	ctx := context.Background()

	def := `{"steps":[{"type":"run"},{"type":"run"},{"type":"run"}]}`
	wfID, err := workflows.Create(ctx, "three", def, true)
	require.NoError(t, err)
	jobID, err := jobs.Schedule(ctx, wfID, "2020-01-01T00:00:00Z", "")
	require.NoError(t, err)

	require.NoError(t, s.Scan(ctx))

	job, outcome := jobOutcome(t, jobs, jobID)
	assert.Equal(t, models.JobStatusFailed, job.Status)
	assert.False(t, outcome.OK)
	require.Len(t, outcome.Steps, 2)
	assert.True(t, outcome.Steps[0].OK)
	assert.False(t, outcome.Steps[1].OK)
	assert.Equal(t, "boom", outcome.Steps[1].Result["raw"])
	assert.Len(t, outcome.Steps[1].Stderr, stderrTailLimit)
	assert.Len(t, stub.invocations(), 2)
}

func TestScanRecordsUnknownStepType(t *testing.T) {
	stub := &scriptedRunner{script: func(inv runner.Invocation) (*runner.Outcome, error) {
		return nil, fmt.Errorf("unknown step type: %s", inv.Kind)
	}}
	s, workflows, jobs := newScheduler(t, stub)
	ctx := context.Background()

	def := `{"steps":[{"type":"transmogrify"},{"type":"run"}]}`
	wfID, err := workflows.Create(ctx, "odd", def, true)
	require.NoError(t, err)
	jobID, err := jobs.Schedule(ctx, wfID, "2020-01-01T00:00:00Z", "")
	require.NoError(t, err)

	require.NoError(t, s.Scan(ctx))

	job, outcome := jobOutcome(t, jobs, jobID)
	assert.Equal(t, models.JobStatusFailed, job.Status)
	require.Len(t, outcome.Steps, 1)
	assert.Equal(t, "transmogrify", outcome.Steps[0].Type)
	assert.False(t, outcome.Steps[0].OK)
	assert.Equal(t, "unknown step type: transmogrify", outcome.Steps[0].Error)
}

func TestScanMarksUnparsableDefinitionFailed(t *testing.T) {
	stub := &scriptedRunner{script: func(runner.Invocation) (*runner.Outcome, error) {
		t.Fatal("runner must not be called")
		return nil, nil
	}}
	s, workflows, jobs := newScheduler(t, stub)
	ctx := context.Background()

	// Valid JSON, wrong shape.
	wfID, err := workflows.Create(ctx, "broken", `[1,2,3]`, true)
	require.NoError(t, err)
	jobID, err := jobs.Schedule(ctx, wfID, "2020-01-01T00:00:00Z", "")
	require.NoError(t, err)

	require.NoError(t, s.Scan(ctx))

	job, err := jobs.Get(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, job.Status)
	var doc map[string]string
	require.NoError(t, json.Unmarshal([]byte(job.ResultJSON), &doc))
	assert.Contains(t, doc["error"], "definition")
}

func TestSubstituteArgs(t *testing.T) {
	args := map[string]any{
		"trace": "{prev.trace_id}",
		"out":   "reports/{prev.trace_id}_{prev.trace_id}.md",
		"plain": "untouched",
		"rerun": true,
	}

	got := substituteArgs(args, "t-9")
	assert.Equal(t, "t-9", got["trace"])
	assert.Equal(t, "reports/t-9_t-9.md", got["out"])
	assert.Equal(t, "untouched", got["plain"])
	assert.Equal(t, true, got["rerun"])
	// The source map stays pristine.
	assert.Equal(t, "{prev.trace_id}", args["trace"])

	empty := substituteArgs(map[string]any{"trace": "{prev.trace_id}"}, "")
	assert.Equal(t, "", empty["trace"])
}

func TestSchedulerLoopLifecycle(t *testing.T) {
	stub := &scriptedRunner{script: func(runner.Invocation) (*runner.Outcome, error) {
		return &runner.Outcome{OK: true, Result: map[string]any{"trace_id": "t-loop"}}, nil
	}}
	s, workflows, jobs := newScheduler(t, stub)
	ctx := context.Background()

	wfID, err := workflows.Create(ctx, "loop", "", true)
	require.NoError(t, err)
	jobID, err := jobs.Schedule(ctx, wfID, "2020-01-01T00:00:00Z", "")
	require.NoError(t, err)

	s.Start(ctx)
	require.Eventually(t, func() bool {
		job, err := jobs.Get(ctx, jobID)
		return err == nil && job.Status == models.JobStatusDone
	}, 3*time.Second, 20*time.Millisecond)

	s.Stop()
	s.Stop() // idempotent
}
