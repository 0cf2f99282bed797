package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentos-io/agentcore/pkg/outbox"
	"github.com/agentos-io/agentcore/pkg/runner"
)

type stubRunner struct {
	out   *runner.Outcome
	err   error
	delay time.Duration
}

func (r *stubRunner) Run(_ context.Context, _ runner.Invocation) (*runner.Outcome, error) {
	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	return r.out, r.err
}

func managerFor(stub *stubRunner, opts Options) *Manager {
	opts.Runner = func(*Job) runner.PipelineRunner { return stub }
	return NewManager(opts)
}

func waitDone(t *testing.T, m *Manager, id string) Job {
	t.Helper()
	var snap Job
	require.Eventually(t, func() bool {
		job, err := m.Get(id)
		if err != nil {
			return false
		}
		snap = job.Clone()
		return snap.Done
	}, 2*time.Second, 10*time.Millisecond)
	return snap
}

func TestEnqueueRunsJobToCompletion(t *testing.T) {
	stub := &stubRunner{out: &runner.Outcome{
		OK:     true,
		Result: map[string]any{"trace_id": "t-abc123", "status": "success"},
	}}
	m := managerFor(stub, Options{})

	job := m.Enqueue(runner.Invocation{Kind: runner.KindRun, Args: map[string]any{
		"srs_path": "srs/weekly.json",
		"retries":  float64(2),
		"nested":   map[string]any{"dropped": true},
	}})
	assert.Regexp(t, `^job-[0-9a-f]{8}$`, job.ID)

	snap := waitDone(t, m, job.ID)
	assert.True(t, snap.OK)
	assert.Equal(t, StatusDone, snap.Status)
	assert.Equal(t, "t-abc123", snap.TraceID)
	assert.Equal(t, "success", snap.Result["status"])
	assert.Equal(t, map[string]any{"srs_path": "srs/weekly.json", "retries": float64(2)}, snap.Meta)
}

func TestFailedOutcomeCarriesStderr(t *testing.T) {
	stub := &stubRunner{out: &runner.Outcome{
		OK:      false,
		RawTail: "panic in child",
		Stderr:  " disk full \n",
	}}
	m := managerFor(stub, Options{})

	job := m.Enqueue(runner.Invocation{Kind: runner.KindRun, Args: map[string]any{}})
	snap := waitDone(t, m, job.ID)

	assert.False(t, snap.OK)
	assert.Equal(t, StatusFailed, snap.Status)
	assert.Equal(t, "panic in child", snap.Result["raw"])
	assert.Equal(t, "disk full", snap.Result["stderr"])
	assert.Equal(t, "disk full", snap.Stderr)
	assert.Empty(t, snap.TraceID)
}

func TestResultStderrNotOverwritten(t *testing.T) {
	stub := &stubRunner{out: &runner.Outcome{
		OK:     true,
		Result: map[string]any{"status": "failed", "stderr": "from result"},
		Stderr: "from pipe",
	}}
	m := managerFor(stub, Options{})

	job := m.Enqueue(runner.Invocation{Kind: runner.KindRun, Args: map[string]any{}})
	snap := waitDone(t, m, job.ID)

	assert.Equal(t, "from result", snap.Result["stderr"])
}

func TestEpisodeAttachedAfterCompletion(t *testing.T) {
	stub := &stubRunner{out: &runner.Outcome{
		OK:     true,
		Result: map[string]any{"trace_id": "t-ep1", "status": "success"},
	}}
	loader := EpisodeLoaderFunc(func(ref string) (*outbox.Episode, error) {
		return &outbox.Episode{
			TraceID:   ref,
			Goal:      "weekly-report",
			Status:    "success",
			LatencyMS: 42,
			Header:    map[string]any{"schema_version": "1.0"},
			Events:    []map[string]any{{"type": "sense.srs_loaded"}},
			Artifacts: map[string]any{"output_path": "reports/x.md"},
		}, nil
	})
	m := managerFor(stub, Options{
		Episodes: loader,
		Locate:   func(traceID string) string { return "episodes/" + traceID + ".json" },
	})

	job := m.Enqueue(runner.Invocation{Kind: runner.KindRun, Args: map[string]any{}})
	snap := waitDone(t, m, job.ID)

	require.NotNil(t, snap.Episode)
	assert.Equal(t, "weekly-report", snap.Episode.Goal)
	assert.Equal(t, "success", snap.Episode.Status)
	assert.Equal(t, int64(42), snap.Episode.LatencyMS)
	assert.Equal(t, "reports/x.md", snap.Episode.Artifacts["output_path"])
	require.Len(t, snap.Events, 1)
	assert.Equal(t, "sense.srs_loaded", snap.Events[0]["type"])
	assert.Equal(t, "episodes/t-ep1.json", snap.EpisodePath)
}

func TestEpisodeLoadFailureKeepsTraceID(t *testing.T) {
	stub := &stubRunner{out: &runner.Outcome{
		OK:     true,
		Result: map[string]any{"trace_id": "t-gone"},
	}}
	loader := EpisodeLoaderFunc(func(string) (*outbox.Episode, error) {
		return nil, errors.New("not here")
	})
	m := managerFor(stub, Options{Episodes: loader})

	job := m.Enqueue(runner.Invocation{Kind: runner.KindRun, Args: map[string]any{}})
	snap := waitDone(t, m, job.ID)

	assert.Equal(t, "t-gone", snap.TraceID)
	assert.Nil(t, snap.Episode)
	assert.Empty(t, snap.Events)
}

func TestRunnerErrorFailsJob(t *testing.T) {
	stub := &stubRunner{err: errors.New("step timed out after 10m0s")}
	m := managerFor(stub, Options{})

	job := m.Enqueue(runner.Invocation{Kind: runner.KindRun, Args: map[string]any{}})
	snap := waitDone(t, m, job.ID)

	assert.False(t, snap.OK)
	assert.Equal(t, StatusFailed, snap.Status)
	assert.Equal(t, "step timed out after 10m0s", snap.Error)
	require.NotEmpty(t, snap.Stream)
	assert.Equal(t, "[error] step timed out after 10m0s", snap.Stream[len(snap.Stream)-1].Line)
}

func TestWaitForTrace(t *testing.T) {
	stub := &stubRunner{
		delay: 150 * time.Millisecond,
		out:   &runner.Outcome{OK: true, Result: map[string]any{"trace_id": "t-wait"}},
	}
	m := managerFor(stub, Options{})

	job := m.Enqueue(runner.Invocation{Kind: runner.KindRun, Args: map[string]any{}})
	assert.Equal(t, "t-wait", m.WaitForTrace(job.ID, 2*time.Second))
}

func TestWaitForTraceTimesOut(t *testing.T) {
	stub := &stubRunner{
		delay: time.Second,
		out:   &runner.Outcome{OK: true, Result: map[string]any{"trace_id": "t-late"}},
	}
	m := managerFor(stub, Options{})

	job := m.Enqueue(runner.Invocation{Kind: runner.KindRun, Args: map[string]any{}})
	assert.Empty(t, m.WaitForTrace(job.ID, 120*time.Millisecond))
}

func TestWaitForTraceUnknownJob(t *testing.T) {
	m := managerFor(&stubRunner{out: &runner.Outcome{OK: true}}, Options{})
	assert.Empty(t, m.WaitForTrace("job-missing", 50*time.Millisecond))
}

func TestGetUnknownJob(t *testing.T) {
	m := managerFor(&stubRunner{out: &runner.Outcome{OK: true}}, Options{})
	_, err := m.Get("job-nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListNewestFirst(t *testing.T) {
	stub := &stubRunner{out: &runner.Outcome{OK: true, Result: map[string]any{}}}
	m := managerFor(stub, Options{})

	first := m.Enqueue(runner.Invocation{Kind: runner.KindRun, Args: map[string]any{}})
	time.Sleep(5 * time.Millisecond)
	second := m.Enqueue(runner.Invocation{Kind: runner.KindRun, Args: map[string]any{}})

	jobs := m.List()
	require.Len(t, jobs, 2)
	assert.Equal(t, second.ID, jobs[0].ID)
	assert.Equal(t, first.ID, jobs[1].ID)

	require.NoError(t, m.Delete(first.ID))
	assert.Len(t, m.List(), 1)
	assert.ErrorIs(t, m.Delete(first.ID), ErrNotFound)
}

func TestAppendLineParsesDocuments(t *testing.T) {
	job := &Job{}
	job.AppendLine("plain log line")
	job.AppendLine("   ")
	job.AppendLine(`{"kind": "progress", "stage": "plan"}`)
	job.AppendLine(`{"trace_id": "t-1", "status": "success"}`)
	job.AppendLine(`{not json`)

	entries := job.StreamSince(0)
	require.Len(t, entries, 4)
	assert.Equal(t, "plain log line", entries[0].Line)
	assert.Nil(t, entries[0].Doc)
	assert.Equal(t, "progress", entries[1].Kind)
	assert.Equal(t, "plan", entries[1].Doc["stage"])
	assert.Empty(t, entries[2].Kind)
	assert.Equal(t, "t-1", entries[2].Doc["trace_id"])
	assert.Nil(t, entries[3].Doc)

	assert.Len(t, job.StreamSince(2), 2)
	assert.Nil(t, job.StreamSince(4))
	assert.Len(t, job.StreamSince(-1), 4)
}

func TestJobLoggerFeedsStream(t *testing.T) {
	job := &Job{}
	job.Logger().Info("pipeline finished", "status", "success")

	entries := job.StreamSince(0)
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].Line, "msg=\"pipeline finished\"")
	assert.Contains(t, entries[0].Line, "status=success")
}

func TestSetStatusSyncsDone(t *testing.T) {
	job := &Job{}
	job.SetStatus(StatusRunning)
	assert.False(t, job.Clone().Done)
	job.SetStatus(StatusFailed)
	assert.True(t, job.Clone().Done)
}
