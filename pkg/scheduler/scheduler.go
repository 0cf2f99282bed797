// Package scheduler owns the background job scan loop: every interval it
// selects due jobs, resolves each workflow definition into a step list,
// and drives the steps sequentially through a PipelineRunner. One scanner
// runs at a time; jobs within a scan and steps within a job are strictly
// sequential.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/agentos-io/agentcore/pkg/models"
	"github.com/agentos-io/agentcore/pkg/runner"
	"github.com/agentos-io/agentcore/pkg/services"
)

// DefaultScanInterval is the pause between scans.
const DefaultScanInterval = 5 * time.Second

// Fallbacks for run steps that name no inputs. Each step of a job writes
// its own report file.
const (
	DefaultSRSPath  = "examples/srs/weekly_report.json"
	DefaultDataPath = "examples/data/weekly.csv"
)

// prevToken is the substitution marker steps use to reference the trace
// id of the step before them.
const prevToken = "{prev.trace_id}"

// stderrTailLimit caps how much captured stderr a step record keeps.
const stderrTailLimit = 1000

// Options configure a Scheduler.
type Options struct {
	Interval time.Duration // scan period; default DefaultScanInterval
	Logger   *slog.Logger
}

// Scheduler scans for due jobs and executes them.
type Scheduler struct {
	jobs      *services.JobService
	workflows *services.WorkflowService
	runner    runner.PipelineRunner
	interval  time.Duration
	logger    *slog.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a Scheduler over the given stores and runner.
func New(jobs *services.JobService, workflows *services.WorkflowService, r runner.PipelineRunner, opts Options) *Scheduler {
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultScanInterval
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		jobs:      jobs,
		workflows: workflows,
		runner:    r,
		interval:  interval,
		logger:    logger,
		stopCh:    make(chan struct{}),
	}
}

// Start begins the scan loop in a goroutine.
func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.run(ctx)
}

// Stop signals the loop to stop and waits for the in-flight scan to
// finish. It is safe to call Stop multiple times.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()

	s.logger.Info("job scanner started", "interval", s.interval)
	for {
		select {
		case <-s.stopCh:
			s.logger.Info("job scanner shutting down")
			return
		case <-ctx.Done():
			s.logger.Info("context cancelled, job scanner shutting down")
			return
		default:
			if err := s.Scan(ctx); err != nil {
				s.logger.Error("job scan failed", "error", err)
			}
			s.sleep(s.interval)
		}
	}
}

// sleep waits for the given duration or until stop is signalled.
func (s *Scheduler) sleep(d time.Duration) {
	select {
	case <-s.stopCh:
	case <-time.After(d):
	}
}

// Scan executes every currently due job, oldest first. It is the loop
// body, exported so callers can force a pass without waiting out the
// interval.
func (s *Scheduler) Scan(ctx context.Context) error {
	due, err := s.jobs.Due(ctx, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("query due jobs: %w", err)
	}
	for _, job := range due {
		s.executeJob(ctx, job)
	}
	return nil
}

func (s *Scheduler) executeJob(ctx context.Context, job models.Job) {
	log := s.logger.With("job_id", job.ID, "workflow_id", job.WorkflowID)
	log.Info("job due, executing")

	outcome, err := s.runJob(ctx, job, log)
	if err != nil {
		doc, _ := json.Marshal(map[string]string{"error": err.Error()})
		if mErr := s.jobs.MarkResult(ctx, job.ID, models.JobStatusFailed, string(doc)); mErr != nil {
			log.Error("failed to record job failure", "error", mErr)
		}
		log.Error("job failed", "error", err)
		return
	}

	status := models.JobStatusDone
	if !outcome.OK {
		status = models.JobStatusFailed
	}
	doc, _ := json.Marshal(outcome)
	if err := s.jobs.MarkResult(ctx, job.ID, status, string(doc)); err != nil {
		log.Error("failed to record job result", "error", err)
	}
	log.Info("job finished", "status", status, "steps", len(outcome.Steps))
}

// runJob resolves the job's steps and executes them in order, stopping
// at the first failure.
func (s *Scheduler) runJob(ctx context.Context, job models.Job, log *slog.Logger) (*models.JobOutcome, error) {
	steps, err := s.resolveSteps(ctx, job)
	if err != nil {
		return nil, err
	}

	outcome := &models.JobOutcome{OK: true}
	prevTrace := ""
	for idx, step := range steps {
		record := s.executeStep(ctx, job.ID, idx, step, prevTrace)
		outcome.Steps = append(outcome.Steps, record)
		log.Info("step executed", "index", idx, "type", record.Type, "ok", record.OK, "duration_ms", record.DurationMS)
		if !record.OK {
			outcome.OK = false
			break
		}
		// The token always resolves against the immediately preceding
		// step; a step that reported no trace clears it.
		prevTrace = ""
		if record.Result != nil {
			prevTrace, _ = record.Result["trace_id"].(string)
		}
	}
	return outcome, nil
}

// resolveSteps turns the job's workflow definition into a step list:
// explicit steps, a single wrapped action, or a run step built from the
// job's own args.
func (s *Scheduler) resolveSteps(ctx context.Context, job models.Job) ([]models.WorkflowStep, error) {
	wf, err := s.workflows.Get(ctx, job.WorkflowID)
	if err != nil {
		return nil, fmt.Errorf("workflow %d: %w", job.WorkflowID, err)
	}
	def, err := wf.Definition()
	if err != nil {
		return nil, fmt.Errorf("workflow %d definition: %w", job.WorkflowID, err)
	}

	if len(def.Steps) > 0 {
		return def.Steps, nil
	}
	if def.Action != nil {
		return []models.WorkflowStep{*def.Action}, nil
	}

	args := map[string]any{}
	if job.ArgsJSON != "" {
		if err := json.Unmarshal([]byte(job.ArgsJSON), &args); err != nil {
			return nil, fmt.Errorf("job %d args: %w", job.ID, err)
		}
	}
	return []models.WorkflowStep{{Type: models.StepTypeRun, Args: args}}, nil
}

func (s *Scheduler) executeStep(ctx context.Context, jobID int64, idx int, step models.WorkflowStep, prevTrace string) models.StepRecord {
	typ := step.Type
	if typ == "" {
		typ = models.StepTypeRun
	}
	args := substituteArgs(step.Args, prevTrace)
	if typ == models.StepTypeRun {
		applyRunDefaults(args, jobID, idx)
	}

	record := models.StepRecord{Type: typ, Args: args}
	started := time.Now()
	out, err := s.runner.Run(ctx, runner.Invocation{Kind: typ, Args: args})
	record.DurationMS = time.Since(started).Milliseconds()
	if err != nil {
		record.Error = err.Error()
		return record
	}
	record.OK = out.OK
	record.Result = out.ResultDoc()
	record.Stderr = tail(out.Stderr, stderrTailLimit)
	return record
}

// substituteArgs resolves the {prev.trace_id} token in string args. The
// first step of a job, or one following a step without a trace, gets the
// empty string.
func substituteArgs(args map[string]any, prevTrace string) map[string]any {
	out := make(map[string]any, len(args))
	for k, v := range args {
		if str, ok := v.(string); ok && strings.Contains(str, prevToken) {
			out[k] = strings.ReplaceAll(str, prevToken, prevTrace)
			continue
		}
		out[k] = v
	}
	return out
}

// applyRunDefaults fills the inputs a bare run step leaves open: the
// bundled weekly-report example and a per-step report path.
func applyRunDefaults(args map[string]any, jobID int64, idx int) {
	if v, _ := args["srs_path"].(string); v == "" {
		args["srs_path"] = DefaultSRSPath
	}
	if v, _ := args["data_path"].(string); v == "" {
		args["data_path"] = DefaultDataPath
	}
	if v, _ := args["out"].(string); v == "" {
		args["out"] = fmt.Sprintf("reports/weekly_report_%d_%d.md", jobID, idx)
	}
}

// tail keeps the final max bytes of s.
func tail(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[len(s)-max:]
}
