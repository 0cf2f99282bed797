// Package session tracks background pipeline jobs in memory: the stream
// buffer a running job fills line by line, and the outcome, trace id and
// episode attached once it finishes. Jobs survive until the process
// exits; callers poll snapshots or follow the stream with a cursor.
package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentos-io/agentcore/pkg/outbox"
	"github.com/agentos-io/agentcore/pkg/runner"
)

// ErrNotFound reports an unknown job id.
var ErrNotFound = errors.New("job not found")

// DefaultTraceWait bounds how long an enqueue response waits for the
// run to surface a trace id.
const DefaultTraceWait = 1500 * time.Millisecond

// RunnerFactory builds the runner one job executes on. Factories wire
// the job's stream in whichever way fits the runner: an in-process
// runner takes job.Logger(), a subprocess runner takes job.AppendLine
// as its line observer.
type RunnerFactory func(job *Job) runner.PipelineRunner

// EpisodeLoader resolves a finalized episode by trace reference.
type EpisodeLoader interface {
	Load(ref string) (*outbox.Episode, error)
}

// EpisodeLoaderFunc adapts a function to the EpisodeLoader interface.
type EpisodeLoaderFunc func(ref string) (*outbox.Episode, error)

func (f EpisodeLoaderFunc) Load(ref string) (*outbox.Episode, error) { return f(ref) }

// Options configure a Manager.
type Options struct {
	// Runner builds the runner each job executes on. Required.
	Runner RunnerFactory
	// Episodes resolves the finalized episode once a run reports a
	// trace id. Nil leaves job snapshots without event lists.
	Episodes EpisodeLoader
	// Locate maps a trace id to its storage path. Nil leaves the
	// episode path off job snapshots.
	Locate func(traceID string) string
	// OnComplete observes every job that reaches a terminal state.
	OnComplete func(job Job)
}

// Manager tracks jobs in memory.
type Manager struct {
	jobs map[string]*Job
	mu   sync.RWMutex
	opts Options
}

// NewManager creates a new job manager.
func NewManager(opts Options) *Manager {
	return &Manager{
		jobs: make(map[string]*Job),
		opts: opts,
	}
}

// Enqueue registers a job for the invocation and starts it on its own
// goroutine. The job's meta keeps the scalar args for status displays.
func (m *Manager) Enqueue(inv runner.Invocation) *Job {
	u := uuid.New()
	now := time.Now()

	job := &Job{
		ID:        fmt.Sprintf("job-%x", u[:4]),
		Meta:      scalarMeta(inv.Args),
		Status:    StatusQueued,
		Stream:    []StreamEntry{},
		CreatedAt: now,
		UpdatedAt: now,
	}

	m.mu.Lock()
	m.jobs[job.ID] = job
	m.mu.Unlock()

	go m.execute(job, inv)
	return job
}

// Get retrieves a job by ID.
func (m *Manager) Get(jobID string) (*Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	job, ok := m.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, jobID)
	}
	return job, nil
}

// List returns snapshots of all tracked jobs, newest first.
func (m *Manager) List() []Job {
	m.mu.RLock()
	defer m.mu.RUnlock()

	jobs := make([]Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		jobs = append(jobs, j.Clone())
	}
	sort.Slice(jobs, func(a, b int) bool { return jobs[a].CreatedAt.After(jobs[b].CreatedAt) })
	return jobs
}

// Delete removes a job.
func (m *Manager) Delete(jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.jobs[jobID]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, jobID)
	}
	delete(m.jobs, jobID)
	return nil
}

// WaitForTrace polls the job until it reports a trace id, finishes, or
// wait elapses, stepping every 100ms. It returns the trace id or "".
func (m *Manager) WaitForTrace(jobID string, wait time.Duration) string {
	deadline := time.Now().Add(wait)
	for {
		job, err := m.Get(jobID)
		if err != nil {
			return ""
		}
		snap := job.Clone()
		if snap.TraceID != "" {
			return snap.TraceID
		}
		if snap.Done || !time.Now().Before(deadline) {
			return ""
		}
		time.Sleep(100 * time.Millisecond)
	}
}

func (m *Manager) execute(job *Job, inv runner.Invocation) {
	defer func() {
		if r := recover(); r != nil {
			job.Fail(fmt.Sprintf("panic: %v", r))
		}
		if m.opts.OnComplete != nil {
			m.opts.OnComplete(job.Clone())
		}
	}()

	job.SetStatus(StatusRunning)
	out, err := m.opts.Runner(job).Run(context.Background(), inv)
	if err != nil {
		job.Fail(err.Error())
		return
	}
	m.finish(job, out)
}

// finish folds a runner outcome into the job record: the result document
// (raw tail when the run printed no JSON), captured stderr, and, when a
// trace id surfaced, the finalized episode behind it.
func (m *Manager) finish(job *Job, out *runner.Outcome) {
	result := out.ResultDoc()
	stderrText := strings.TrimSpace(out.Stderr)
	if stderrText != "" {
		if _, exists := result["stderr"]; !exists {
			result["stderr"] = stderrText
		}
	}

	traceID := out.TraceID()
	job.Complete(out.OK, result, traceID)

	if traceID == "" {
		job.SetStderr(stderrText)
		return
	}
	if m.opts.Episodes == nil {
		return
	}
	ep, err := m.opts.Episodes.Load(traceID)
	if err != nil {
		// The trace may live in a backend this manager cannot read;
		// the job still carries the id.
		return
	}
	path := ""
	if m.opts.Locate != nil {
		path = m.opts.Locate(traceID)
	}
	job.AttachEpisode(&EpisodeSummary{
		Status:    ep.Status,
		Goal:      ep.Goal,
		LatencyMS: ep.LatencyMS,
		Artifacts: ep.Artifacts,
		Header:    ep.Header,
	}, ep.Events, path)
}

// scalarMeta keeps only the scalar args, the part of an invocation worth
// echoing back on job snapshots.
func scalarMeta(args map[string]any) map[string]any {
	meta := make(map[string]any, len(args))
	for k, v := range args {
		switch v.(type) {
		case string, bool, float64, int, int64:
			meta[k] = v
		}
	}
	return meta
}
