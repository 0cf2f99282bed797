package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/agentos-io/agentcore/pkg/llm"
	"github.com/agentos-io/agentcore/pkg/models"
)

// Built-in prompts used when the prompts directory carries no override.
const (
	defaultPlannerSystem  = "You are the planner. Given an SRS and a CSV excerpt, output a single JSON object describing the plan. No text outside the JSON."
	defaultPlannerUser    = "SRS:\n{{SRS}}\n\nCSV_Excerpt:\n{{CSV_EXCERPT}}"
	defaultExecutorSystem = "You are the executor and report writer. Produce the report as Markdown."
	defaultExecutorUser   = "SRS:\n{{SRS}}\n\nPlan:\n{{PLAN}}\n\nCSV:\n{{CSV_EXCERPT}}"
	defaultCriticSystem   = "You are the reviewer. Score the report against the SRS and answer with a JSON object {\"score\": 0..1, \"pass\": bool, \"reasons\": [..]}."
	defaultCriticUser     = "SRS:\n{{SRS}}\n\nREPORT:\n{{REPORT_MD}}"
	defaultReviserSystem  = "You are the reviser. Rewrite the report to address the critic's reasons. Output only the revised Markdown."
	defaultReviserUser    = "SRS:\n{{SRS}}\n\nCRITIC:\n{{CRITIC}}\n\nREPORT:\n{{REPORT_MD}}"
)

func specJSON(spec *models.TaskSpec) string {
	data, err := json.Marshal(spec)
	if err != nil {
		return "{}"
	}
	return string(data)
}

// LLMPlanner asks the model for a plan object and tolerates both bare plans
// and {"plan": {...}} wrappers.
type LLMPlanner struct {
	client      llm.ChatProvider
	temperature float64
	retries     int
	lastMeta    *llm.Meta
}

func (p *LLMPlanner) Name() string        { return "llm" }
func (p *LLMPlanner) LastMeta() *llm.Meta { return p.lastMeta }

func (p *LLMPlanner) Plan(ctx context.Context, spec *models.TaskSpec, rc *RunContext) (*models.Plan, error) {
	system, user := LoadPromptPair(rc.PromptsDir, "planner")
	if system == "" {
		system = defaultPlannerSystem
	}
	if user == "" {
		user = defaultPlannerUser
	}
	user = RenderPrompt(user, map[string]string{
		"SRS":         specJSON(spec),
		"CSV_EXCERPT": rc.CSVExcerpt,
	})

	content, meta, err := p.client.ChatWithMeta(ctx, []llm.Message{
		{Role: models.RoleSystem, Content: system},
		{Role: models.RoleUser, Content: user},
	}, llm.Options{Temperature: p.temperature, Retries: p.retries})
	p.lastMeta = &meta
	if err != nil {
		return nil, fmt.Errorf("planner llm call failed: %w", err)
	}

	obj, err := llm.ExtractJSONMap(content)
	if err != nil {
		return nil, fmt.Errorf("planner reply carried no JSON plan: %w", err)
	}
	if inner, ok := obj["plan"].(map[string]any); ok {
		obj = inner
	}

	raw, err := json.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("failed to re-encode plan object: %w", err)
	}
	var plan models.Plan
	if err := json.Unmarshal(raw, &plan); err != nil {
		return nil, fmt.Errorf("plan object has an invalid shape: %w", err)
	}
	if plan.ID == "" {
		plan.ID = "plan-" + uuid.NewString()[:8]
	}
	return &plan, nil
}

// LLMExecutor lets the model write the report directly from the spec, the
// plan, and the CSV excerpt.
type LLMExecutor struct {
	client      llm.ChatProvider
	temperature float64
	retries     int
	lastMeta    *llm.Meta
}

func (e *LLMExecutor) Name() string        { return "llm" }
func (e *LLMExecutor) LastMeta() *llm.Meta { return e.lastMeta }

func (e *LLMExecutor) Execute(ctx context.Context, spec *models.TaskSpec, plan *models.Plan, rc *RunContext) (string, *ExecMeta, error) {
	system, user := LoadPromptPair(rc.PromptsDir, "executor")
	if system == "" {
		system = defaultExecutorSystem
	}
	if user == "" {
		user = defaultExecutorUser
	}
	planJSON, err := json.Marshal(plan)
	if err != nil {
		return "", nil, fmt.Errorf("failed to encode plan for prompt: %w", err)
	}
	user = RenderPrompt(user, map[string]string{
		"SRS":         specJSON(spec),
		"PLAN":        string(planJSON),
		"CSV_EXCERPT": rc.CSVExcerpt,
	})

	start := time.Now()
	md, meta, err := e.client.ChatWithMeta(ctx, []llm.Message{
		{Role: models.RoleSystem, Content: system},
		{Role: models.RoleUser, Content: user},
	}, llm.Options{Temperature: e.temperature, Retries: e.retries})
	e.lastMeta = &meta
	if err != nil {
		return "", nil, fmt.Errorf("executor llm call failed: %w", err)
	}

	execMeta := &ExecMeta{
		Metrics: Metrics{
			LatencyMS: int(time.Since(start).Milliseconds()),
			Retries:   meta.Attempts - 1,
			Cost:      0,
		},
		LLM: &meta,
	}
	return md, execMeta, nil
}

// LLMCritic extracts a verdict object from the model's reply. Absent fields
// default to score 0, empty reasons, and pass derived from the threshold.
type LLMCritic struct {
	client      llm.ChatProvider
	temperature float64
	retries     int
	lastMeta    *llm.Meta
}

func (c *LLMCritic) Name() string        { return "llm" }
func (c *LLMCritic) LastMeta() *llm.Meta { return c.lastMeta }

func (c *LLMCritic) Review(ctx context.Context, spec *models.TaskSpec, reportMD string, rc *RunContext) (*models.ReviewVerdict, error) {
	system, user := LoadPromptPair(rc.PromptsDir, "critic")
	if system == "" {
		system = defaultCriticSystem
	}
	if user == "" {
		user = defaultCriticUser
	}
	user = RenderPrompt(user, map[string]string{
		"SRS":       specJSON(spec),
		"REPORT_MD": reportMD,
	})

	content, meta, err := c.client.ChatWithMeta(ctx, []llm.Message{
		{Role: models.RoleSystem, Content: system},
		{Role: models.RoleUser, Content: user},
	}, llm.Options{Temperature: c.temperature, Retries: c.retries})
	c.lastMeta = &meta
	if err != nil {
		return nil, fmt.Errorf("critic llm call failed: %w", err)
	}

	obj, err := llm.ExtractJSONMap(content)
	if err != nil {
		return nil, fmt.Errorf("critic reply carried no JSON verdict: %w", err)
	}

	verdict := &models.ReviewVerdict{Reasons: []string{}}
	if v, ok := obj["score"].(float64); ok {
		verdict.Score = v
	}
	if rs, ok := obj["reasons"].([]any); ok {
		for _, r := range rs {
			if s, ok := r.(string); ok {
				verdict.Reasons = append(verdict.Reasons, s)
			}
		}
	}
	if p, ok := obj["pass"].(bool); ok {
		verdict.Pass = p
	} else {
		verdict.Pass = verdict.Score >= models.PassThreshold
	}
	return verdict, nil
}

// LLMReviser asks for a rewritten report; the reply is taken verbatim.
type LLMReviser struct {
	client      llm.ChatProvider
	temperature float64
	retries     int
	lastMeta    *llm.Meta
}

func (r *LLMReviser) Name() string        { return "llm" }
func (r *LLMReviser) LastMeta() *llm.Meta { return r.lastMeta }

func (r *LLMReviser) Revise(ctx context.Context, spec *models.TaskSpec, reportMD string, verdict *models.ReviewVerdict, rc *RunContext) (string, error) {
	system, user := LoadPromptPair(rc.PromptsDir, "reviser")
	if system == "" {
		system = defaultReviserSystem
	}
	if user == "" {
		user = defaultReviserUser
	}
	verdictJSON, err := json.Marshal(verdict)
	if err != nil {
		return "", fmt.Errorf("failed to encode verdict for prompt: %w", err)
	}
	user = RenderPrompt(user, map[string]string{
		"SRS":       specJSON(spec),
		"CRITIC":    string(verdictJSON),
		"REPORT_MD": reportMD,
	})

	revised, meta, err := r.client.ChatWithMeta(ctx, []llm.Message{
		{Role: models.RoleSystem, Content: system},
		{Role: models.RoleUser, Content: user},
	}, llm.Options{Temperature: r.temperature, Retries: r.retries})
	r.lastMeta = &meta
	if err != nil {
		return "", fmt.Errorf("reviser llm call failed: %w", err)
	}
	return revised, nil
}
