// Package pipeline drives the closed loop for one task spec: plan,
// execute, review, at most one revision, then finalize the episode on the
// outbox. Stage names equal the event types they emit.
package pipeline

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/agentos-io/agentcore/pkg/agent"
	"github.com/agentos-io/agentcore/pkg/envelope"
	"github.com/agentos-io/agentcore/pkg/guardian"
	"github.com/agentos-io/agentcore/pkg/models"
	"github.com/agentos-io/agentcore/pkg/outbox"
	"github.com/agentos-io/agentcore/pkg/skills"
)

// DefaultExcerptLines caps the CSV excerpt rendered into prompts, header
// line included.
const DefaultExcerptLines = 80

// DefaultGoal labels traces whose spec carries no goal.
const DefaultGoal = "weekly-report"

// DefaultRegistryPath locates the skill registry document when the caller
// does not override it.
const DefaultRegistryPath = "skills/registry.json"

// Options tune one run beyond what the task spec itself carries.
type Options struct {
	// ExcerptLines caps the CSV excerpt. Zero means DefaultExcerptLines.
	ExcerptLines int
	// PromptsDir is handed to LLM agents for prompt pair loading.
	PromptsDir string
	// CheckSkills verifies the skill registry before the local executor runs.
	CheckSkills bool
	// RegistryPath locates the skill registry. Zero means DefaultRegistryPath.
	RegistryPath string
	// Timeout is the guardian wall-clock limit for the whole run. Zero
	// falls back to the guardian default.
	Timeout time.Duration
	// EmitScript writes an offline reproduction script after finalize and
	// records it on the episode.
	EmitScript bool
	// ScriptDir is where reproduction scripts land. Zero means "episodes".
	ScriptDir string
	// Logger receives stage progress. Nil means slog.Default().
	Logger *slog.Logger
}

// Result is the caller-facing summary of one finished run. A run whose
// final verdict failed still yields a Result; only stage failures return
// an error instead.
type Result struct {
	TraceID string   `json:"trace_id"`
	Status  string   `json:"status"`
	Score   float64  `json:"score"`
	Reasons []string `json:"reasons"`
	OutPath string   `json:"out"`
}

// Pipeline runs the closed loop against one outbox. An outbox holds a
// single open trace, so runs on the same Pipeline must not overlap.
type Pipeline struct {
	box    outbox.Outbox
	opts   Options
	logger *slog.Logger
}

// New returns a pipeline bound to the given outbox.
func New(box outbox.Outbox, opts Options) *Pipeline {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{box: box, opts: opts, logger: logger}
}

// Run drives spec through plan, execute, review and at most one revision,
// writes the final Markdown to outPath and finalizes the trace. The trace
// status is success exactly when the last verdict passes. A stage failure
// records a pipeline.error event, finalizes the trace as failed and
// returns the stage error.
func (p *Pipeline) Run(ctx context.Context, spec *models.TaskSpec, outPath string, impls *agent.Impls) (*Result, error) {
	goal := spec.Goal
	if goal == "" {
		goal = DefaultGoal
	}
	traceID := p.box.NewTrace(goal)
	grd := guardian.New(spec.BudgetUSD, p.opts.Timeout)
	logger := p.logger.With("trace_id", traceID)
	logger.Info("trace opened", "goal", goal)

	if err := p.box.Append(envelope.TypeSenseSRSLoaded, map[string]any{"srs": spec}); err != nil {
		return nil, p.abort(logger, "sense", err)
	}
	rc, err := p.loadInputs(spec)
	if err != nil {
		return nil, p.abort(logger, "sense", err)
	}

	if err := grd.Check(); err != nil {
		return nil, p.abort(logger, "plan", err)
	}
	logger.Info("planning", "impl", impls.Planner.Name())
	plan, err := impls.Planner.Plan(ctx, spec, rc)
	if err != nil {
		return nil, p.abort(logger, "plan", err)
	}
	if plan == nil {
		return nil, p.abort(logger, "plan", errors.New("planner returned no plan"))
	}
	if err := grd.Check(); err != nil {
		return nil, p.abort(logger, "plan", err)
	}
	planPayload := map[string]any{"plan": plan, "impl": impls.Planner.Name()}
	attachMeta(planPayload, impls.Planner)
	if err := p.box.Append(envelope.TypePlanGenerated, planPayload); err != nil {
		return nil, p.abort(logger, "plan", err)
	}

	if err := grd.Check(); err != nil {
		return nil, p.abort(logger, "exec", err)
	}
	if err := p.verifySkills(impls.Executor); err != nil {
		return nil, p.abort(logger, "exec", err)
	}
	logger.Info("executing", "impl", impls.Executor.Name(), "steps", len(plan.Steps))
	markdown, execMeta, err := impls.Executor.Execute(ctx, spec, plan, rc)
	if err != nil {
		return nil, p.abort(logger, "exec", err)
	}
	if execMeta == nil {
		execMeta = &agent.ExecMeta{}
	}
	grd.AddCost(execMeta.Metrics.Cost)
	if err := grd.Check(); err != nil {
		return nil, p.abort(logger, "exec", err)
	}
	if err := p.box.Append(envelope.TypeExecOutput, execPayload(impls.Executor.Name(), execMeta)); err != nil {
		return nil, p.abort(logger, "exec", err)
	}

	if err := grd.Check(); err != nil {
		return nil, p.abort(logger, "review", err)
	}
	verdict, err := p.review(ctx, grd, logger, spec, markdown, rc, impls.Critic)
	if err != nil {
		return nil, p.abort(logger, "review", err)
	}

	// One revision at most. The guardian check after the patch event
	// doubles as the entry gate for the second review.
	if !verdict.Pass {
		if err := grd.Check(); err != nil {
			return nil, p.abort(logger, "patch", err)
		}
		logger.Info("revising", "impl", impls.Reviser.Name(), "score", verdict.Score)
		revised, err := impls.Reviser.Revise(ctx, spec, markdown, verdict, rc)
		if err != nil {
			return nil, p.abort(logger, "patch", err)
		}
		if err := grd.Check(); err != nil {
			return nil, p.abort(logger, "patch", err)
		}
		patchPayload := map[string]any{"impl": impls.Reviser.Name()}
		attachMeta(patchPayload, impls.Reviser)
		if err := p.box.Append(envelope.TypePatchRevised, patchPayload); err != nil {
			return nil, p.abort(logger, "patch", err)
		}
		markdown = revised

		verdict, err = p.review(ctx, grd, logger, spec, markdown, rc, impls.Critic)
		if err != nil {
			return nil, p.abort(logger, "review", err)
		}
	}

	if err := writeReport(outPath, markdown); err != nil {
		return nil, p.abort(logger, "write", err)
	}

	status := outbox.StatusFailed
	if verdict.Pass {
		status = outbox.StatusSuccess
	}
	location, err := p.box.Finalize(status, map[string]any{"output_path": outPath, "plan": plan})
	if err != nil {
		return nil, fmt.Errorf("finalize trace %s: %w", traceID, err)
	}
	logger.Info("trace finalized", "status", status, "score", verdict.Score, "episode", location)

	if p.opts.EmitScript {
		p.emitScript(logger, traceID, outPath)
	}

	return &Result{
		TraceID: traceID,
		Status:  status,
		Score:   verdict.Score,
		Reasons: reasonsOrEmpty(verdict.Reasons),
		OutPath: outPath,
	}, nil
}

// review invokes the critic and records its verdict on the trace.
func (p *Pipeline) review(ctx context.Context, grd *guardian.Guardian, logger *slog.Logger, spec *models.TaskSpec, markdown string, rc *agent.RunContext, critic agent.Critic) (*models.ReviewVerdict, error) {
	verdict, err := critic.Review(ctx, spec, markdown, rc)
	if err != nil {
		return nil, err
	}
	if verdict == nil {
		return nil, errors.New("critic returned no verdict")
	}
	if err := grd.Check(); err != nil {
		return nil, err
	}
	payload := map[string]any{
		"score":   verdict.Score,
		"pass":    verdict.Pass,
		"reasons": reasonsOrEmpty(verdict.Reasons),
	}
	attachMeta(payload, critic)
	if err := p.box.Append(envelope.TypeReviewScored, payload); err != nil {
		return nil, err
	}
	logger.Info("review scored", "impl", critic.Name(), "score", verdict.Score, "pass", verdict.Pass)
	return verdict, nil
}

// loadInputs reads the task's CSV twice: a bounded excerpt for prompts and
// the full rows for the skills.
func (p *Pipeline) loadInputs(spec *models.TaskSpec) (*agent.RunContext, error) {
	csvPath := spec.CSVPath()
	if csvPath == "" {
		return nil, errors.New("task spec has no inputs.csv_path")
	}
	capLines := p.opts.ExcerptLines
	if capLines <= 0 {
		capLines = DefaultExcerptLines
	}
	excerpt, err := csvExcerpt(csvPath, capLines)
	if err != nil {
		return nil, err
	}
	rows, err := skills.LoadCSV(csvPath)
	if err != nil {
		return nil, err
	}
	return &agent.RunContext{Rows: rows, CSVExcerpt: excerpt, PromptsDir: p.opts.PromptsDir}, nil
}

// verifySkills re-hashes the skill registry before the local executor runs.
// Only the skills executor touches the pinned primitives, so other
// executors skip the check.
func (p *Pipeline) verifySkills(executor agent.Executor) error {
	if !p.opts.CheckSkills {
		return nil
	}
	if _, ok := executor.(*agent.SkillsExecutor); !ok {
		return nil
	}
	path := p.opts.RegistryPath
	if path == "" {
		path = DefaultRegistryPath
	}
	return skills.VerifyRegistry(path)
}

// abort records a stage failure on the open trace, finalizes it as failed
// and returns the wrapped cause. Events emitted before the failure remain
// part of the episode.
func (p *Pipeline) abort(logger *slog.Logger, stage string, cause error) error {
	logger.Error("stage failed", "stage", stage, "error", cause)
	if err := p.box.Append(envelope.TypePipelineError, map[string]any{"stage": stage, "error": cause.Error()}); err != nil {
		logger.Warn("stage failure not recorded", "stage", stage, "error", err)
	}
	if _, err := p.box.Finalize(outbox.StatusFailed, map[string]any{}); err != nil {
		logger.Warn("failed trace not finalized", "error", err)
	}
	return fmt.Errorf("%s stage: %w", stage, cause)
}

// attachMeta embeds a role's last provider metadata into an event payload.
func attachMeta(payload map[string]any, role any) {
	mc, ok := role.(agent.MetaCarrier)
	if !ok {
		return
	}
	if meta := mc.LastMeta(); meta != nil {
		payload["llm"] = meta.Doc()
	}
}

// execPayload spreads the executor's side channel into the exec.output
// payload next to the implementation name.
func execPayload(impl string, meta *agent.ExecMeta) map[string]any {
	payload := map[string]any{
		"impl": impl,
		"metrics": map[string]any{
			"latency_ms": meta.Metrics.LatencyMS,
			"retries":    meta.Metrics.Retries,
			"cost":       meta.Metrics.Cost,
		},
	}
	if meta.Artifacts != nil {
		payload["artifacts"] = meta.Artifacts
	}
	if meta.LLM != nil {
		payload["llm"] = meta.LLM.Doc()
	}
	if meta.MCP != nil {
		payload["mcp"] = meta.MCP
	}
	return payload
}

func reasonsOrEmpty(reasons []string) []string {
	if reasons == nil {
		return []string{}
	}
	return reasons
}

// csvExcerpt returns the first capLines lines of the file at path, header
// included, newline-joined. This bounds the tokens spent on raw data in
// prompts.
func csvExcerpt(path string, capLines int) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("read excerpt: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	lines := make([]string, 0, capLines)
	for len(lines) < capLines && sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return "", fmt.Errorf("read excerpt: %w", err)
	}
	return strings.Join(lines, "\n"), nil
}

// writeReport materializes the final Markdown, creating the parent
// directory when missing.
func writeReport(outPath, markdown string) error {
	if dir := filepath.Dir(outPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create report dir: %w", err)
		}
	}
	if err := os.WriteFile(outPath, []byte(markdown), 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}
