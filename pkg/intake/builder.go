package intake

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/agentos-io/agentcore/pkg/llm"
	"github.com/agentos-io/agentcore/pkg/models"
)

// DefaultDataPath is assumed when neither the request text nor the
// caller names a CSV.
const DefaultDataPath = "examples/data/weekly.csv"

const refineSystemPrompt = `You refine software requirement specs for a data-report pipeline.
Given a user request and a draft task_spec, return improved JSON with the
shape {"task_spec": {"goal", "budget_usd", "inputs", "constraints",
"params", "acceptance", "risks"}}. Keep fields you cannot improve. Output
JSON only.`

// Result is one intake pass: the finalized spec, the LLM call metadata
// when a refinement ran, and a warning when refinement was attempted but
// failed (the heuristic spec still stands).
type Result struct {
	Spec    *models.TaskSpec
	LLM     map[string]any
	Warning string
}

// Builder runs the server-side intake flow: heuristic parse, optional
// LLM refinement, caller overrides, finalize.
type Builder struct {
	Parser Parser
	// Provider enables the refinement pass. Nil skips it.
	Provider    llm.ChatProvider
	Temperature float64
	Retries     int
	Logger      *slog.Logger
}

// Build produces the spec for one intake request. Refinement failures
// never fail the build; they downgrade to Result.Warning.
func (b *Builder) Build(ctx context.Context, query, dataPath string, refine bool, overrides *models.TaskSpec) (*Result, error) {
	if dataPath == "" {
		if p := extractCSVPath(query); p == "" {
			dataPath = DefaultDataPath
		}
	}
	spec, err := b.Parser.Parse(query, dataPath, nil)
	if err != nil {
		return nil, err
	}

	res := &Result{Spec: spec}
	if refine && b.Provider != nil {
		refined, meta, err := b.refine(ctx, query, spec)
		res.LLM = meta
		if err != nil {
			res.Warning = fmt.Sprintf("llm refinement failed: %v", err)
			if b.Logger != nil {
				b.Logger.Warn("intake refinement failed", "error", err)
			}
		} else if refined != nil {
			if err := applyOverrides(spec, refined); err != nil {
				res.Warning = fmt.Sprintf("llm refinement merge failed: %v", err)
			}
		}
	}

	if overrides != nil {
		if err := applyOverrides(spec, overrides); err != nil {
			return nil, err
		}
	}
	Finalize(spec)
	return res, nil
}

// refine asks the provider for an improved spec and decodes whichever
// of the conventional envelope keys it answered with.
func (b *Builder) refine(ctx context.Context, query string, draft *models.TaskSpec) (*models.TaskSpec, map[string]any, error) {
	draftJSON, err := json.Marshal(draft)
	if err != nil {
		return nil, nil, err
	}
	messages := []llm.Message{
		{Role: "system", Content: refineSystemPrompt},
		{Role: "user", Content: fmt.Sprintf("Request:\n%s\n\nDraft task_spec:\n%s", query, draftJSON)},
	}
	opts := llm.Options{Temperature: b.Temperature, Retries: b.Retries}
	content, meta, err := b.Provider.ChatWithMeta(ctx, messages, opts)
	metaDoc := meta.Doc()
	if err != nil {
		return nil, metaDoc, err
	}

	doc := map[string]any{}
	if jsonErr := json.Unmarshal([]byte(strings.TrimSpace(content)), &doc); jsonErr != nil {
		doc, err = llm.ExtractJSONMap(content)
		if err != nil {
			return nil, metaDoc, err
		}
	}
	candidate := doc
	for _, key := range []string{"task_spec", "TaskSpec", "srs", "spec"} {
		if nested, ok := doc[key].(map[string]any); ok {
			candidate = nested
			break
		}
	}

	raw, err := json.Marshal(candidate)
	if err != nil {
		return nil, metaDoc, err
	}
	var refined models.TaskSpec
	if err := json.Unmarshal(raw, &refined); err != nil {
		return nil, metaDoc, fmt.Errorf("refined spec shape: %w", err)
	}
	return &refined, metaDoc, nil
}

// RunPlan derives the run arguments the saved spec implies: the report
// lands next to other reports, named after the SRS file.
func RunPlan(srsPath, dataPath string) map[string]any {
	stem := strings.TrimSuffix(filepath.Base(srsPath), filepath.Ext(srsPath))
	return map[string]any{
		"srs_path":  srsPath,
		"data_path": dataPath,
		"out_path":  "reports/" + stem + ".md",
		"planner":   "llm",
		"executor":  "llm",
		"critic":    "llm",
		"reviser":   "llm",
	}
}
