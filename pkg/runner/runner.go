// Package runner executes pipeline commands on behalf of the server. The
// scheduler's workflow steps and the job endpoints both dispatch through
// the PipelineRunner contract: the in-process implementation calls the
// pipeline directly, the subprocess implementation shells out to the CLI
// and tails its stdout, one JSON document per line.
package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Step kinds understood by the runners.
const (
	KindRun    = "run"
	KindReplay = "replay"
)

// Invocation is one step to execute: a kind and its string-keyed args,
// the same shape workflow definitions carry.
type Invocation struct {
	Kind string
	Args map[string]any
}

// Outcome is the normalized result of one invocation. OK reflects whether
// the command itself completed; a completed run whose review failed still
// reports OK with status "failed" in Result.
type Outcome struct {
	OK       bool
	Result   map[string]any
	Progress []map[string]any
	RawTail  string
	Stderr   string
	Duration time.Duration
}

// TraceID extracts the trace id from the result document.
func (o *Outcome) TraceID() string {
	if o == nil || o.Result == nil {
		return ""
	}
	if v, ok := o.Result["trace_id"].(string); ok && v != "" {
		return v
	}
	if v, ok := o.Result["trace"].(string); ok {
		return v
	}
	return ""
}

// ResultDoc returns the result document, or a raw-tail wrapper when the
// output carried no JSON.
func (o *Outcome) ResultDoc() map[string]any {
	if o.Result != nil {
		return o.Result
	}
	return map[string]any{"raw": o.RawTail}
}

// PipelineRunner executes one invocation to completion.
type PipelineRunner interface {
	Run(ctx context.Context, inv Invocation) (*Outcome, error)
}

// consoleSink accumulates console stdout line by line: every line is
// tried as JSON, {"kind": "progress"} documents collect separately, and
// the last remaining document wins as the final result.
type consoleSink struct {
	lines    []string
	progress []map[string]any
	result   map[string]any
}

// feed consumes one line and reports the decoded document, if any, and
// whether it was a progress entry.
func (s *consoleSink) feed(line string) (map[string]any, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil, false
	}
	s.lines = append(s.lines, line)
	if !strings.HasPrefix(line, "{") {
		return nil, false
	}
	var doc map[string]any
	if err := json.Unmarshal([]byte(line), &doc); err != nil {
		return nil, false
	}
	if kind, _ := doc["kind"].(string); kind == "progress" {
		s.progress = append(s.progress, doc)
		return doc, true
	}
	s.result = doc
	return doc, false
}

// rawTail returns the last five lines when no final document showed up.
func (s *consoleSink) rawTail() string {
	if s.result != nil {
		return ""
	}
	tail := s.lines
	if len(tail) > 5 {
		tail = tail[len(tail)-5:]
	}
	return strings.Join(tail, "\n")
}

// ParseConsoleOutput tails captured console stdout. See consoleSink for
// the per-line rules.
func ParseConsoleOutput(stdout string) (result map[string]any, progress []map[string]any, rawTail string) {
	var sink consoleSink
	for _, line := range strings.Split(stdout, "\n") {
		sink.feed(line)
	}
	return sink.result, sink.progress, sink.rawTail()
}

// Argv translates an invocation into CLI arguments. Only present args
// become flags; absent ones keep their CLI-side defaults.
func Argv(inv Invocation) ([]string, error) {
	args := inv.Args
	switch inv.Kind {
	case KindRun, "":
		argv := []string{"run"}
		if v := stringArg(args, "srs_path"); v != "" {
			argv = append(argv, "--srs", v)
		}
		if v := stringArg(args, "data_path"); v != "" {
			argv = append(argv, "--data", v)
		}
		if v := stringArg(args, "out"); v != "" {
			argv = append(argv, "--out", v)
		}
		for _, role := range []string{"planner", "executor", "critic", "reviser"} {
			if v := stringArg(args, role); v != "" {
				argv = append(argv, "--"+role, v)
			}
		}
		if v := stringArg(args, "provider"); v != "" {
			argv = append(argv, "--provider", v)
		}
		for _, knob := range []string{"temp_planner", "temp_executor", "temp_critic", "temp_reviser", "retries", "max_rows"} {
			if v := stringArg(args, knob); v != "" {
				argv = append(argv, "--"+strings.ReplaceAll(knob, "_", "-"), v)
			}
		}
		if truthyArg(args, "emit_script") {
			argv = append(argv, "--emit-script")
		}
		return argv, nil
	case KindReplay:
		argv := []string{"replay"}
		if v := stringArg(args, "trace"); v != "" {
			argv = append(argv, "--trace", v)
		}
		if truthyArg(args, "last") {
			argv = append(argv, "--last")
		}
		if truthyArg(args, "rerun") {
			argv = append(argv, "--rerun")
		}
		if v := stringArg(args, "out"); v != "" {
			argv = append(argv, "--out", v)
		}
		return argv, nil
	default:
		return nil, fmt.Errorf("unknown step type: %s", inv.Kind)
	}
}

func stringArg(args map[string]any, key string) string {
	switch v := args[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return ""
}

func truthyArg(args map[string]any, key string) bool {
	switch v := args[key].(type) {
	case bool:
		return v
	case string:
		return v != "" && v != "false" && v != "0"
	case float64:
		return v != 0
	}
	return false
}

func floatArg(args map[string]any, key string) *float64 {
	switch v := args[key].(type) {
	case float64:
		return &v
	case string:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return &f
		}
	}
	return nil
}

func intArg(args map[string]any, key string) *int {
	switch v := args[key].(type) {
	case float64:
		n := int(v)
		return &n
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return &n
		}
	}
	return nil
}
