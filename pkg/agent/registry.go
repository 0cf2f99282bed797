package agent

import (
	"fmt"
	"sort"
	"strings"
)

// Selection names one implementation per role.
type Selection struct {
	Planner  string
	Executor string
	Critic   string
	Reviser  string
}

// Impls is a resolved set of role implementations ready to run.
type Impls struct {
	Planner  Planner
	Executor Executor
	Critic   Critic
	Reviser  Reviser
}

// Registry maps role and name to an implementation factory. Resolution
// happens once at startup so an unknown name fails the run before any
// trace is opened.
type Registry struct {
	planners  map[string]func(Deps) Planner
	executors map[string]func(Deps) Executor
	critics   map[string]func(Deps) Critic
	revisers  map[string]func(Deps) Reviser
}

// NewRegistry returns a registry with the built-in agents registered:
// planner rules|llm, executor skills|llm|mcp_tool, critic rules|llm,
// reviser rules|llm.
func NewRegistry() *Registry {
	r := &Registry{
		planners:  make(map[string]func(Deps) Planner),
		executors: make(map[string]func(Deps) Executor),
		critics:   make(map[string]func(Deps) Critic),
		revisers:  make(map[string]func(Deps) Reviser),
	}

	r.RegisterPlanner("rules", func(Deps) Planner { return &RulePlanner{} })
	r.RegisterPlanner("llm", func(d Deps) Planner {
		return &LLMPlanner{client: d.LLM, temperature: d.Temps.Planner, retries: d.Retries}
	})

	r.RegisterExecutor("skills", func(Deps) Executor { return &SkillsExecutor{} })
	r.RegisterExecutor("llm", func(d Deps) Executor {
		return &LLMExecutor{client: d.LLM, temperature: d.Temps.Executor, retries: d.Retries}
	})
	r.RegisterExecutor("mcp_tool", func(d Deps) Executor {
		return &MCPToolExecutor{router: d.MCP}
	})

	r.RegisterCritic("rules", func(Deps) Critic { return &RuleCritic{} })
	r.RegisterCritic("llm", func(d Deps) Critic {
		return &LLMCritic{client: d.LLM, temperature: d.Temps.Critic, retries: d.Retries}
	})

	r.RegisterReviser("rules", func(Deps) Reviser { return &RuleReviser{} })
	r.RegisterReviser("llm", func(d Deps) Reviser {
		return &LLMReviser{client: d.LLM, temperature: d.Temps.Reviser, retries: d.Retries}
	})

	return r
}

// RegisterPlanner adds or replaces a planner factory.
func (r *Registry) RegisterPlanner(name string, f func(Deps) Planner) {
	r.planners[strings.ToLower(name)] = f
}

// RegisterExecutor adds or replaces an executor factory.
func (r *Registry) RegisterExecutor(name string, f func(Deps) Executor) {
	r.executors[strings.ToLower(name)] = f
}

// RegisterCritic adds or replaces a critic factory.
func (r *Registry) RegisterCritic(name string, f func(Deps) Critic) {
	r.critics[strings.ToLower(name)] = f
}

// RegisterReviser adds or replaces a reviser factory.
func (r *Registry) RegisterReviser(name string, f func(Deps) Reviser) {
	r.revisers[strings.ToLower(name)] = f
}

// Resolve builds the full implementation set for a selection. Any unknown
// role/name combination fails here, before a trace is opened.
func (r *Registry) Resolve(sel Selection, deps Deps) (*Impls, error) {
	planner, ok := r.planners[strings.ToLower(sel.Planner)]
	if !ok {
		return nil, unknownImpl("planner", sel.Planner, keys(r.planners))
	}
	executor, ok := r.executors[strings.ToLower(sel.Executor)]
	if !ok {
		return nil, unknownImpl("executor", sel.Executor, keys(r.executors))
	}
	critic, ok := r.critics[strings.ToLower(sel.Critic)]
	if !ok {
		return nil, unknownImpl("critic", sel.Critic, keys(r.critics))
	}
	reviser, ok := r.revisers[strings.ToLower(sel.Reviser)]
	if !ok {
		return nil, unknownImpl("reviser", sel.Reviser, keys(r.revisers))
	}

	return &Impls{
		Planner:  planner(deps),
		Executor: executor(deps),
		Critic:   critic(deps),
		Reviser:  reviser(deps),
	}, nil
}

func unknownImpl(role, name string, known []string) error {
	return fmt.Errorf("unknown %s %q (registered: %s)", role, name, strings.Join(known, ", "))
}

func keys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
