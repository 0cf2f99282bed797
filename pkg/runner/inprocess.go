package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/agentos-io/agentcore/pkg/agent"
	"github.com/agentos-io/agentcore/pkg/config"
	"github.com/agentos-io/agentcore/pkg/llm"
	"github.com/agentos-io/agentcore/pkg/mcp"
	"github.com/agentos-io/agentcore/pkg/models"
	"github.com/agentos-io/agentcore/pkg/outbox"
	"github.com/agentos-io/agentcore/pkg/pipeline"
	"github.com/agentos-io/agentcore/pkg/replay"
)

// DefaultOutPath receives the report when a run names no output path.
const DefaultOutPath = "reports/weekly_report.md"

// RunRequest mirrors the run command's flags. Empty role names fall back
// to the configured defaults; nil knobs keep the configured values.
type RunRequest struct {
	SRSPath    string
	DataPath   string
	OutPath    string
	Planner    string
	Executor   string
	Critic     string
	Reviser    string
	Provider   string
	EmitScript bool

	TempPlanner  *float64
	TempExecutor *float64
	TempCritic   *float64
	TempReviser  *float64
	Retries      *int
	MaxRows      *int
}

// ReplayRequest mirrors the replay command's flags. DBPath pins the
// relational store explicitly; when empty the configured backend decides.
type ReplayRequest struct {
	DBPath string
	Trace  string
	Last   bool
	Rerun  bool
	Out    string
}

// ExecuteRun loads the task spec, resolves the role set and drives one
// pipeline run against the configured outbox backend. It is the library
// form of the run command; the CLI and the in-process runner both call
// through here.
func ExecuteRun(ctx context.Context, cfg *config.Config, logger *slog.Logger, req RunRequest) (*pipeline.Result, error) {
	if logger == nil {
		logger = slog.Default()
	}

	spec, err := loadTaskSpec(req.SRSPath)
	if err != nil {
		return nil, err
	}
	if req.DataPath != "" {
		if spec.Inputs == nil {
			spec.Inputs = map[string]any{}
		}
		spec.Inputs["csv_path"] = req.DataPath
	}
	outPath := req.OutPath
	if outPath == "" {
		outPath = DefaultOutPath
	}

	sel := agent.Selection{
		Planner:  firstNonEmpty(req.Planner, cfg.Defaults.Planner),
		Executor: firstNonEmpty(req.Executor, cfg.Defaults.Executor),
		Critic:   firstNonEmpty(req.Critic, cfg.Defaults.Critic),
		Reviser:  firstNonEmpty(req.Reviser, cfg.Defaults.Reviser),
	}
	deps, closeDeps, err := buildDeps(cfg, sel, req.Provider)
	if err != nil {
		return nil, err
	}
	defer closeDeps()
	if req.Retries != nil {
		deps.Retries = *req.Retries
	}
	if req.TempPlanner != nil {
		deps.Temps.Planner = *req.TempPlanner
	}
	if req.TempExecutor != nil {
		deps.Temps.Executor = *req.TempExecutor
	}
	if req.TempCritic != nil {
		deps.Temps.Critic = *req.TempCritic
	}
	if req.TempReviser != nil {
		deps.Temps.Reviser = *req.TempReviser
	}

	impls, err := agent.NewRegistry().Resolve(sel, deps)
	if err != nil {
		return nil, err
	}

	box, closeBox, err := openOutbox(cfg)
	if err != nil {
		return nil, err
	}
	defer closeBox()

	excerpt := cfg.LLM.ExcerptRows()
	if req.MaxRows != nil {
		excerpt = *req.MaxRows
	}
	p := pipeline.New(box, pipeline.Options{
		ExcerptLines: excerpt,
		PromptsDir:   cfg.Prompts.Dir,
		CheckSkills:  cfg.Risk.CheckSkillsEnabled(),
		RegistryPath: cfg.Risk.RegistryPath,
		Timeout:      time.Duration(cfg.Guardian.TimeoutMS) * time.Millisecond,
		EmitScript:   req.EmitScript,
		ScriptDir:    cfg.Outbox.EpisodesDir,
		Logger:       logger,
	})
	return p.Run(ctx, spec, outPath, impls)
}

// ExecuteReplay resolves an episode from the configured (or explicitly
// named) backend and either returns its saved verdict or reruns it.
func ExecuteReplay(ctx context.Context, cfg *config.Config, req ReplayRequest) (map[string]any, error) {
	episode, err := loadEpisodeFor(cfg, req)
	if err != nil {
		return nil, err
	}
	if !req.Rerun {
		return replay.Review(episode), nil
	}
	res, err := replay.Rerun(ctx, episode, req.Out)
	if err != nil {
		return nil, err
	}
	return map[string]any{"trace_id": res.TraceID, "status": res.Status, "out": res.OutPath}, nil
}

func loadEpisodeFor(cfg *config.Config, req ReplayRequest) (*outbox.Episode, error) {
	dbPath := req.DBPath
	if dbPath == "" && cfg.Outbox.Backend == config.BackendSQLite {
		dbPath = cfg.Outbox.SQLitePath
	}
	if dbPath != "" {
		box, err := outbox.NewSQLiteOutbox(dbPath, nil)
		if err != nil {
			return nil, err
		}
		defer box.Close()
		ref := req.Trace
		if ref == "" {
			if !req.Last {
				return nil, errors.New("a trace reference or --last is required")
			}
			traces, err := box.ListTraces(1)
			if err != nil {
				return nil, err
			}
			if len(traces) == 0 {
				return nil, fmt.Errorf("%w: no episodes in %s", outbox.ErrTraceNotFound, dbPath)
			}
			ref = traces[0].TraceID
		}
		return replay.LoadSQLite(box, ref)
	}

	eng := replay.New(cfg.Outbox.EpisodesDir)
	if req.Trace == "" {
		if !req.Last {
			return nil, errors.New("a trace reference or --last is required")
		}
		return eng.Last()
	}
	return eng.Load(req.Trace)
}

// InProcess drives the pipeline inside the current process, the default
// dispatch for scheduled steps and job requests.
type InProcess struct {
	Config *config.Config
	Logger *slog.Logger
}

func (r *InProcess) Run(ctx context.Context, inv Invocation) (*Outcome, error) {
	started := time.Now()
	var (
		doc map[string]any
		err error
	)
	switch inv.Kind {
	case KindRun, "":
		doc, err = r.runStep(ctx, inv.Args)
	case KindReplay:
		doc, err = r.replayStep(ctx, inv.Args)
	default:
		return nil, fmt.Errorf("unknown step type: %s", inv.Kind)
	}

	out := &Outcome{Duration: time.Since(started)}
	if err != nil {
		out.Stderr = err.Error()
		return out, nil
	}
	out.OK = true
	out.Result = doc
	return out, nil
}

func (r *InProcess) runStep(ctx context.Context, args map[string]any) (map[string]any, error) {
	req := RunRequest{
		SRSPath:      stringArg(args, "srs_path"),
		DataPath:     stringArg(args, "data_path"),
		OutPath:      stringArg(args, "out"),
		Planner:      stringArg(args, "planner"),
		Executor:     stringArg(args, "executor"),
		Critic:       stringArg(args, "critic"),
		Reviser:      stringArg(args, "reviser"),
		Provider:     stringArg(args, "provider"),
		EmitScript:   truthyArg(args, "emit_script"),
		TempPlanner:  floatArg(args, "temp_planner"),
		TempExecutor: floatArg(args, "temp_executor"),
		TempCritic:   floatArg(args, "temp_critic"),
		TempReviser:  floatArg(args, "temp_reviser"),
		Retries:      intArg(args, "retries"),
		MaxRows:      intArg(args, "max_rows"),
	}
	res, err := ExecuteRun(ctx, r.Config, r.Logger, req)
	if err != nil {
		return nil, err
	}
	return toDoc(res)
}

func (r *InProcess) replayStep(ctx context.Context, args map[string]any) (map[string]any, error) {
	return ExecuteReplay(ctx, r.Config, ReplayRequest{
		DBPath: stringArg(args, "db"),
		Trace:  stringArg(args, "trace"),
		Last:   truthyArg(args, "last"),
		Rerun:  truthyArg(args, "rerun"),
		Out:    stringArg(args, "out"),
	})
}

func loadTaskSpec(path string) (*models.TaskSpec, error) {
	if path == "" {
		return nil, errors.New("srs path is required")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read srs: %w", err)
	}
	var spec models.TaskSpec
	if err := json.Unmarshal(raw, &spec); err != nil {
		return nil, fmt.Errorf("parse srs %s: %w", path, err)
	}
	return &spec, nil
}

func buildDeps(cfg *config.Config, sel agent.Selection, providerOverride string) (agent.Deps, func(), error) {
	deps := agent.Deps{
		Retries: cfg.LLM.RetryCount(),
		Temps: agent.Temperatures{
			Planner:  cfg.LLM.Temperature.PlannerValue(),
			Executor: cfg.LLM.Temperature.ExecutorValue(),
			Critic:   cfg.LLM.Temperature.CriticValue(),
			Reviser:  cfg.LLM.Temperature.ReviserValue(),
		},
	}
	closeDeps := func() {}

	if needsLLM(sel) {
		pc := llm.ProviderConfig{
			Provider: cfg.LLM.Provider,
			BaseURL:  cfg.LLM.BaseURL,
			Model:    cfg.LLM.Model,
			APIKey:   cfg.LLM.APIKey,
			Seed:     cfg.LLM.Seed,
		}
		if providerOverride != "" && providerOverride != cfg.LLM.Provider {
			// The configured URL, model and key belong to the configured
			// provider; an override starts from that provider's env vars.
			pc = llm.ProviderConfig{Provider: providerOverride}
		}
		client, err := llm.NewRouter(pc)
		if err != nil {
			return agent.Deps{}, nil, fmt.Errorf("configure llm provider: %w", err)
		}
		deps.LLM = client
	}

	if strings.EqualFold(sel.Executor, "mcp_tool") {
		client := mcp.NewClient(cfg.MCP)
		local := mcp.NewLocal(firstNonEmpty(cfg.Workspace.Root, "."))
		deps.MCP = mcp.NewRouter(client, local, cfg.MCP)
		closeDeps = func() { _ = client.Close() }
	}
	return deps, closeDeps, nil
}

func needsLLM(sel agent.Selection) bool {
	for _, name := range []string{sel.Planner, sel.Executor, sel.Critic, sel.Reviser} {
		if strings.EqualFold(name, "llm") {
			return true
		}
	}
	return false
}

func openOutbox(cfg *config.Config) (outbox.Outbox, func(), error) {
	if cfg.Outbox.Backend == config.BackendSQLite {
		box, err := outbox.NewSQLiteOutbox(cfg.Outbox.SQLitePath, nil)
		if err != nil {
			return nil, nil, err
		}
		return box, func() { _ = box.Close() }, nil
	}
	box, err := outbox.NewFileOutbox(cfg.Outbox.EpisodesDir, nil)
	if err != nil {
		return nil, nil, err
	}
	return box, func() {}, nil
}

func toDoc(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
