// Package chat implements the conversational MCP agent: a bounded
// Reason + Act loop that lets the model inspect the workspace through MCP
// tools before answering. Each turn walks an explicit phase machine
// (build context, call LLM, parse action, execute tool, inject
// observation) with a hard budget on model calls, and every tool
// invocation is recorded as its own mini-trace in the episode corpus.
package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/agentos-io/agentcore/pkg/envelope"
	"github.com/agentos-io/agentcore/pkg/llm"
	"github.com/agentos-io/agentcore/pkg/masking"
	"github.com/agentos-io/agentcore/pkg/mcp"
	"github.com/agentos-io/agentcore/pkg/models"
	"github.com/agentos-io/agentcore/pkg/outbox"
)

// DefaultMaxLoops bounds model calls per turn when auto-proceed is on.
const DefaultMaxLoops = 2

// observationLimit caps the tool output injected back into the
// conversation. Model context is the scarce resource here; the full
// result still reaches the caller and the mini-trace.
const observationLimit = 1200

// snippetLimit caps tool output quoted in progress lines.
const snippetLimit = 160

// catalogLimit caps how many tool names the system prompt lists.
const catalogLimit = 30

// builtinSystemPrompt is used when no server carries a chat.system
// prompt. The %s slot names the default server for the mcp_call shape.
const builtinSystemPrompt = `You are the AgentOS assistant. Answer concisely. When you recognize an executable task, reply with a JSON object: {"action":{...},"srs":{...}}.
Two action types are supported: 1) {"type":"run","args":{"srs_path","data_path","out","planner","executor","critic","reviser","provider"}};
2) {"type":"mcp_call","server":"%s","tool":"<tool_name>","args":{...}}.
Do not paste large raw data into answers; lead with conclusions, key points and next steps, quoting at most a handful of sample rows.
Text outside the JSON is treated as commentary.`

// localCatalogLine describes the built-in tool set when no catalog can be
// fetched at all.
const localCatalogLine = "Available MCP tools (local fallback): fs.list_dir, fs.read_text, data.csv_head, skills.csv_clean, stats.aggregate, report.md_render"

// TraceFactory opens a fresh outbox for one tool-call mini-trace. The
// close function releases the backend once the trace is finalized.
type TraceFactory func() (outbox.Outbox, func(), error)

// DraftStore persists SRS drafts the model proposes during conversation.
// *workspace.Service satisfies it.
type DraftStore interface {
	Write(rel, content, user, ip string) error
}

// Options configure the conversation agent.
type Options struct {
	// AutoProceed lets the agent chain tool calls up to MaxLoops. When
	// false, one tool call and one analysis turn run per message, and
	// any follow-up call is surfaced as NextAction instead of executed.
	AutoProceed bool
	// MaxLoops bounds model calls per turn. Zero means DefaultMaxLoops.
	MaxLoops int
	// Temperature and Retries are passed through to every model call.
	Temperature float64
	Retries     int
	// Traces records tool calls in the episode corpus. Nil skips the
	// mini-traces.
	Traces TraceFactory
	// Drafts stores SRS objects found in replies. Nil drops them.
	Drafts DraftStore
	// Logger receives turn progress. Nil means slog.Default().
	Logger *slog.Logger
}

// Agent drives the bounded Reason + Act loop, one conversation turn per
// Respond call. Safe for concurrent use across sessions.
type Agent struct {
	llm    llm.ChatProvider
	mcp    *mcp.Router
	masker *masking.Service
	opts   Options
	logger *slog.Logger
}

// New creates a conversation agent over the given model and tool router.
func New(provider llm.ChatProvider, router *mcp.Router, opts Options) *Agent {
	if opts.MaxLoops < 1 {
		opts.MaxLoops = DefaultMaxLoops
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{
		llm:    provider,
		mcp:    router,
		masker: masking.NewService(),
		opts:   opts,
		logger: logger,
	}
}

// phase names one stop of the turn state machine. Each handler returns
// the next phase; phaseDone ends the turn.
type phase int

const (
	phaseBuildContext phase = iota
	phaseCallLLM
	phaseParseAction
	phaseExecuteTool
	phaseInjectObservation
	phaseDone
)

// turn carries the mutable state of one Respond call through the phases.
type turn struct {
	session  string
	history  []llm.Message
	userText string

	messages []llm.Message
	loop     int  // model calls made so far, analysis excluded
	analysis bool // the next model call only analyzes the observation
	degraded bool

	content     string // latest assistant text
	action      *Action
	exec        *ToolExecution
	observation string

	progress []string
	res      Result
	err      error
}

func (t *turn) progressf(format string, args ...any) {
	t.progress = append(t.progress, fmt.Sprintf(format, args...))
}

// Respond runs one user turn through the loop and returns the reply plus
// any action the model took or proposed. Model failures degrade into a
// usable reply rather than an error; a non-nil error means the turn was
// cancelled.
func (a *Agent) Respond(ctx context.Context, sessionID string, history []llm.Message, userText string) (*Result, error) {
	t := &turn{session: sessionID, history: history, userText: userText}
	t.progress = append(t.progress, "init: loading MCP prompt and tool catalog")

	for ph := phaseBuildContext; ph != phaseDone; {
		switch ph {
		case phaseBuildContext:
			ph = a.buildContext(ctx, t)
		case phaseCallLLM:
			ph = a.callLLM(ctx, t)
		case phaseParseAction:
			ph = a.parseAction(t)
		case phaseExecuteTool:
			ph = a.executeTool(ctx, t)
		case phaseInjectObservation:
			ph = a.injectObservation(t)
		}
		if t.err != nil {
			return nil, t.err
		}
	}
	return a.finish(t), nil
}

// buildContext assembles the system prompt, replays the session history
// and appends the user turn.
func (a *Agent) buildContext(ctx context.Context, t *turn) phase {
	t.messages = append(t.messages, llm.Message{Role: models.RoleSystem, Content: a.systemPrompt(ctx)})
	t.messages = append(t.messages, t.history...)
	t.messages = append(t.messages, llm.Message{Role: models.RoleUser, Content: t.userText})
	return phaseCallLLM
}

// systemPrompt prefers the server-side chat.system prompt and falls back
// to the built-in contract. Either way the tool catalog is appended so
// the model knows what it may call.
func (a *Agent) systemPrompt(ctx context.Context) string {
	catalog := a.catalogLine(ctx)
	prompt, err := a.mcp.Prompt(ctx, "", "chat.system", nil)
	if err == nil && prompt.Text != "" {
		return prompt.Text + "\n\n" + catalog
	}
	return fmt.Sprintf(builtinSystemPrompt, a.mcp.DefaultServer()) + "\n" + catalog
}

// catalogLine renders the discovered tool catalog as one prompt line.
func (a *Agent) catalogLine(ctx context.Context) string {
	tools, origin, err := a.mcp.Tools(ctx, "")
	if err != nil || len(tools) == 0 {
		return localCatalogLine
	}
	names := make([]string, 0, catalogLimit)
	for _, tool := range tools {
		if len(names) == catalogLimit {
			break
		}
		names = append(names, tool.Name)
	}
	scope := "server=" + a.mcp.DefaultServer()
	if origin == mcp.OriginLocal {
		scope = "local fallback"
	}
	return fmt.Sprintf("Available MCP tools (%s): %s", scope, strings.Join(names, ", "))
}

// callLLM makes one model call. The first failed call degrades the turn;
// later failures keep whatever the conversation already produced.
func (a *Agent) callLLM(ctx context.Context, t *turn) phase {
	if !t.analysis {
		t.loop++
	}
	content, meta, err := a.llm.ChatWithMeta(ctx, t.messages, llm.Options{
		Temperature: a.opts.Temperature,
		Retries:     a.opts.Retries,
	})
	if err != nil {
		if ctx.Err() != nil {
			t.err = ctx.Err()
			return phaseDone
		}
		t.res.LLM = map[string]any{"error": err.Error()}
		if t.content != "" {
			// A tool already ran; surface its observation instead of
			// discarding the turn.
			a.logger.Warn("Chat model call failed mid-turn", "session", t.session, "error", err)
			t.res.Reply = t.content
			return phaseDone
		}
		a.degrade(ctx, t, err)
		return phaseDone
	}

	t.content = content
	t.res.LLM = meta.Doc()
	if t.analysis {
		t.progressf("[%d] observation analyzed", t.loop)
	}
	return phaseParseAction
}

// parseAction extracts the structured object from the reply. In analysis
// mode a proposed call becomes NextAction; otherwise an mcp_call action
// moves the turn to execution.
func (a *Agent) parseAction(t *turn) phase {
	if t.analysis {
		if obj, err := llm.ExtractJSONMap(t.content); err == nil {
			if act := actionFromDoc(obj["action"]); act.IsMCPCall() {
				t.res.NextAction = act
				t.progressf("[%d] suggested next step: %s.%s args=%s",
					t.loop, a.serverOf(act), mcp.NormalizeTool(act.Tool), a.masker.PreviewArgs(act.Args))
			}
		}
		t.res.Reply = t.content
		return phaseDone
	}

	obj, err := llm.ExtractJSONMap(t.content)
	if err != nil {
		// Users sometimes paste the JSON command themselves.
		obj, err = llm.ExtractJSONMap(t.userText)
	}
	t.action = nil
	if err == nil {
		t.progressf("[%d] parsed a structured object", t.loop)
		if srs, ok := obj["srs"].(map[string]any); ok {
			a.saveDraft(t, srs)
		}
		if act := actionFromDoc(obj["action"]); act != nil {
			t.action = act
		}
	}

	if !t.action.IsMCPCall() {
		t.progressf("[%d] no tool needed, answering directly", t.loop)
		t.res.Reply = t.content
		t.res.Action = t.action
		return phaseDone
	}

	t.progressf("[%d] planned call: %s.%s args=%s",
		t.loop, a.serverOf(t.action), mcp.NormalizeTool(t.action.Tool), a.masker.PreviewArgs(t.action.Args))
	return phaseExecuteTool
}

// executeTool runs the planned call through the router and records it as
// a mini-trace. Failures end the turn with the pre-call reply; the error
// rides along in the execution record.
func (a *Agent) executeTool(ctx context.Context, t *turn) phase {
	exec := &ToolExecution{
		Server: a.serverOf(t.action),
		Tool:   mcp.NormalizeTool(t.action.Tool),
		Args:   t.action.Args,
	}
	t.exec = exec
	t.res.MCP = exec
	t.res.Action = t.action

	res, err := a.runTool(ctx, t.session, exec)
	if err != nil {
		if ctx.Err() != nil {
			t.err = ctx.Err()
			return phaseDone
		}
		t.progressf("[%d] tool call failed: %v", t.loop, err)
		t.res.Reply = t.content
		return phaseDone
	}

	t.observation = renderObservation(res)
	t.progressf("[%d] tool finished: %s.%s -> %s",
		t.loop, exec.Server, exec.Tool, truncateRunes(t.observation, snippetLimit, "…"))
	return phaseInjectObservation
}

// injectObservation feeds the truncated tool output back into the
// conversation and decides whether the loop budget allows another pass.
func (a *Agent) injectObservation(t *turn) phase {
	obs := truncateRunes(t.observation, observationLimit, "\n...[truncated]...")
	t.messages = append(t.messages,
		llm.Message{Role: models.RoleAssistant, Content: t.content},
		llm.Message{Role: models.RoleUser, Content: fmt.Sprintf(
			"[tool result] %s.%s:\n%s\n\nContinue from this result: issue another mcp_call if more information is needed, otherwise give the final answer.",
			t.exec.Server, t.exec.Tool, obs)},
	)

	if !a.opts.AutoProceed {
		t.analysis = true
		return phaseCallLLM
	}
	if t.loop >= a.opts.MaxLoops {
		t.res.Reply = t.content
		return phaseDone
	}
	return phaseCallLLM
}

// degrade keeps chat usable when the model is unreachable: the reply
// explains direct-tool mode, and an obvious file-browsing request is
// still served through the intent fallback.
func (a *Agent) degrade(ctx context.Context, t *turn, callErr error) {
	t.degraded = true
	sample := fmt.Sprintf(
		`{"action":{"type":"mcp_call","server":"%s","tool":"data.csv_head","args":{"path":"examples/data/weekly.csv","n":50}}}`,
		a.mcp.DefaultServer())
	t.res.Reply = fmt.Sprintf(
		"LLM call failed: %v. You can send a JSON command directly (for example %s) or run tools from the tools panel.",
		callErr, sample)
	a.logger.Warn("Chat degraded to direct-tool mode", "session", t.session, "error", callErr)

	intent := DetectIntent(t.userText)
	if intent == nil {
		return
	}
	exec := &ToolExecution{
		Server: a.serverOf(intent),
		Tool:   mcp.NormalizeTool(intent.Tool),
		Args:   intent.Args,
	}
	t.res.MCP = exec
	res, err := a.runTool(ctx, t.session, exec)
	if err != nil {
		return
	}
	t.res.Action = intent
	t.res.Reply += fmt.Sprintf("\n\n[MCP] %s.%s result:\n%s",
		exec.Server, exec.Tool, truncateRunes(renderObservation(res), observationLimit, "\n...[truncated]..."))
}

// runTool executes one tool through the router and records the exchange
// on a fresh mini-trace. The execution record is filled in either way;
// recording failures only log.
func (a *Agent) runTool(ctx context.Context, session string, exec *ToolExecution) (*mcp.ToolResult, error) {
	var box outbox.Outbox
	if a.opts.Traces != nil {
		b, closeBox, err := a.opts.Traces()
		if err != nil {
			a.logger.Warn("Chat mini-trace unavailable", "error", err)
		} else {
			box = b
			defer closeBox()
			exec.TraceID = box.NewTrace(fmt.Sprintf("chat.mcp_call %s.%s", exec.Server, exec.Tool))
			a.append(box, envelope.TypeMCPCallRequest,
				map[string]any{"server": exec.Server, "tool": exec.Tool, "args": exec.Args},
				envelope.WithLabels(map[string]any{"source": "chat", "session": session}))
		}
	}

	res, origin, err := a.mcp.Call(ctx, exec.Server, exec.Tool, exec.Args)
	if err != nil {
		exec.Error = err.Error()
		if box != nil {
			a.append(box, envelope.TypeMCPCallError, map[string]any{"error": err.Error()})
			a.finalize(box, outbox.StatusFailed, map[string]any{"error": err.Error()})
		}
		return nil, err
	}

	exec.Origin = string(origin)
	exec.Result = res.Doc()
	if box != nil {
		a.append(box, envelope.TypeMCPCallResult,
			map[string]any{"server": exec.Server, "tool": exec.Tool, "result": res.Doc()})
		a.finalize(box, outbox.StatusSuccess, map[string]any{"result": res.Doc()})
	}
	return res, nil
}

func (a *Agent) append(box outbox.Outbox, eventType string, payload map[string]any, opts ...envelope.Option) {
	if err := box.Append(eventType, payload, opts...); err != nil {
		a.logger.Warn("Chat mini-trace append failed", "type", eventType, "error", err)
	}
}

func (a *Agent) finalize(box outbox.Outbox, status string, artifacts map[string]any) {
	if _, err := box.Finalize(status, artifacts); err != nil {
		a.logger.Warn("Chat mini-trace finalize failed", "error", err)
	}
}

// saveDraft persists an SRS object the model proposed so the user can
// run it later. Draft failures only log; the conversation goes on.
func (a *Agent) saveDraft(t *turn, srs map[string]any) {
	if a.opts.Drafts == nil {
		return
	}
	data, err := json.MarshalIndent(srs, "", "  ")
	if err != nil {
		a.logger.Warn("SRS draft not encodable", "session", t.session, "error", err)
		return
	}
	rel := fmt.Sprintf("srs/srs_%s_%d.json", safeSession(t.session), time.Now().Unix())
	if err := a.opts.Drafts.Write(rel, string(data), "chat", ""); err != nil {
		a.logger.Warn("SRS draft not saved", "path", rel, "error", err)
		return
	}
	t.res.SRSPath = rel
	t.progressf("[%d] SRS draft saved: %s", t.loop, rel)
}

func (a *Agent) serverOf(act *Action) string {
	if act != nil && act.Server != "" {
		return act.Server
	}
	return a.mcp.DefaultServer()
}

// finish applies the auto-proceed policy, attaches the intent fallback
// when the turn produced nothing actionable, and prepends the progress
// log to the reply.
func (a *Agent) finish(t *turn) *Result {
	if t.res.Reply == "" {
		t.res.Reply = t.content
	}
	if !a.opts.AutoProceed && !t.degraded {
		// Executed calls stay visible through MCP; the action slot is
		// reserved for commands the caller may run without approval.
		t.res.Action = nil
	}
	if t.res.Action == nil && t.res.NextAction == nil && t.res.MCP == nil {
		t.res.Action = DetectIntent(t.userText)
	}
	if !t.degraded && len(t.progress) > 0 {
		t.res.Reply = "Progress\n- " + strings.Join(t.progress, "\n- ") + "\n\n" + t.res.Reply
	}
	return &t.res
}

// safeSession strips path metacharacters so a session id is usable in a
// draft filename.
func safeSession(session string) string {
	var b strings.Builder
	for _, r := range session {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	if b.Len() == 0 {
		return "anonymous"
	}
	return b.String()
}
