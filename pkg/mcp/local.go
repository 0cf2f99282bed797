package mcp

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/agentos-io/agentcore/pkg/skills"
)

// toolAliases maps shorthand tool names coming out of model replies to
// canonical catalog names.
var toolAliases = map[string]string{
	"ls":         "fs.list_dir",
	"list_files": "fs.list_dir",
	"cat":        "fs.read_text",
}

// NormalizeTool resolves shorthand aliases to canonical tool names.
func NormalizeTool(name string) string {
	name = strings.TrimSpace(name)
	if canonical, ok := toolAliases[name]; ok {
		return canonical
	}
	return name
}

const (
	// localReadCap bounds fs.read_text output.
	localReadCap = 32 * 1024
	// localListCap bounds fs.list_dir entries.
	localListCap = 500
	// localCSVHeadLines is the default line count for data.csv_head.
	localCSVHeadLines = 50
)

// Local serves the built-in tool set when no remote server answers.
// Directory listings are confined to the base directory; file reads resolve
// relative paths against it.
type Local struct {
	baseDir string
}

// NewLocal creates the local tool set rooted at baseDir.
func NewLocal(baseDir string) *Local {
	abs, err := filepath.Abs(baseDir)
	if err != nil {
		abs = baseDir
	}
	return &Local{baseDir: abs}
}

// Catalog lists the local tools in catalog form, sorted by name.
func (l *Local) Catalog() []ToolInfo {
	return []ToolInfo{
		{Name: "data.csv_head", Description: "Read the first n lines of a CSV file"},
		{Name: "fs.list_dir", Description: "List directory entries inside the workspace"},
		{Name: "fs.read_text", Description: "Read a text file, truncated to 32 KiB"},
		{Name: "report.md_render", Description: "Render a Markdown report from a summary and top list"},
		{Name: "skills.csv_clean", Description: "Clean a CSV file and report the surviving row count"},
		{Name: "stats.aggregate", Description: "Aggregate a CSV file by a score column"},
	}
}

// Call executes a local tool. Failures are reported inside the result text
// or structured payload, the way MCP servers report tool errors, so a bad
// call becomes an observation instead of aborting the conversation.
func (l *Local) Call(name string, args map[string]any) *ToolResult {
	switch NormalizeTool(name) {
	case "fs.read_text":
		return l.readText(args)
	case "fs.list_dir":
		return l.listDir(args)
	case "data.csv_head":
		return l.csvHead(args)
	case "skills.csv_clean":
		return l.csvClean(args)
	case "stats.aggregate":
		return l.aggregate(args)
	case "report.md_render":
		return l.renderReport(args)
	default:
		return &ToolResult{Text: fmt.Sprintf("<unknown tool: %s>", name), IsError: true}
	}
}

// resolve maps a tool path argument onto the filesystem: absolute paths are
// used as-is, relative ones are anchored at the base directory.
func (l *Local) resolve(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(l.baseDir, path)
}

func (l *Local) readText(args map[string]any) *ToolResult {
	path := argString(args, "path", "")
	maxBytes := argInt(args, "max_bytes", localReadCap)
	resolved := l.resolve(path)

	info, err := os.Stat(resolved)
	if err != nil || !info.Mode().IsRegular() {
		return &ToolResult{Text: fmt.Sprintf("<not found: %s>", path)}
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return &ToolResult{Text: fmt.Sprintf("<error: %v>", err), IsError: true}
	}
	if maxBytes > 0 && len(data) > maxBytes {
		data = data[:maxBytes]
	}
	return &ToolResult{Text: string(data)}
}

func (l *Local) listDir(args map[string]any) *ToolResult {
	rel := argString(args, "path", ".")

	abs, err := filepath.Abs(l.resolve(rel))
	if err != nil {
		return structuredError(err.Error())
	}
	inside, err := filepath.Rel(l.baseDir, abs)
	if err != nil || inside == ".." || strings.HasPrefix(inside, ".."+string(filepath.Separator)) {
		return structuredError("forbidden")
	}

	entries, err := os.ReadDir(abs)
	if err != nil {
		return structuredError(fmt.Sprintf("not a directory: %s", rel))
	}

	dirs := []map[string]any{}
	files := []map[string]any{}
	for i, entry := range entries {
		if i >= localListCap {
			break
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		item := map[string]any{
			"name":  entry.Name(),
			"size":  info.Size(),
			"mtime": info.ModTime().UTC().Format(time.RFC3339),
		}
		if entry.IsDir() {
			dirs = append(dirs, item)
		} else {
			files = append(files, item)
		}
	}

	cwd := "/"
	if inside != "." {
		cwd = filepath.ToSlash(inside)
	}
	return &ToolResult{Structured: map[string]any{"cwd": cwd, "dirs": dirs, "files": files}}
}

func (l *Local) csvHead(args map[string]any) *ToolResult {
	path := argString(args, "path", "")
	n := argInt(args, "n", localCSVHeadLines)

	f, err := os.Open(l.resolve(path))
	if err != nil {
		return &ToolResult{Text: fmt.Sprintf("<error: %v>", err), IsError: true}
	}
	defer f.Close()

	var b strings.Builder
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for i := 0; i < n && scanner.Scan(); i++ {
		b.WriteString(scanner.Text())
		b.WriteByte('\n')
	}
	if err := scanner.Err(); err != nil {
		return &ToolResult{Text: fmt.Sprintf("<error: %v>", err), IsError: true}
	}
	return &ToolResult{Text: b.String()}
}

func (l *Local) csvClean(args map[string]any) *ToolResult {
	rows, err := skills.LoadCSV(l.resolve(argString(args, "path", "")))
	if err != nil {
		return &ToolResult{Text: fmt.Sprintf("<error: %v>", err), IsError: true}
	}
	cleaned := skills.CSVClean(rows, true)
	return &ToolResult{Text: fmt.Sprintf("cleaned_count=%d", len(cleaned))}
}

func (l *Local) aggregate(args map[string]any) *ToolResult {
	rows, err := skills.LoadCSV(l.resolve(argString(args, "path", "")))
	if err != nil {
		return &ToolResult{Text: fmt.Sprintf("<error: %v>", err), IsError: true}
	}
	topN := argInt(args, "top_n", 10)
	scoreBy := argString(args, "score_by", "views")
	titleField := argString(args, "title_field", "title")

	res := skills.StatsAggregate(rows, topN, scoreBy, titleField)
	return &ToolResult{Text: fmt.Sprintf("top=%d score_by=%s", len(res.Top), scoreBy)}
}

func (l *Local) renderReport(args map[string]any) *ToolResult {
	var summary skills.Summary
	if raw, err := json.Marshal(args["summary"]); err == nil {
		_ = json.Unmarshal(raw, &summary)
	}
	var top []skills.TopItem
	if raw, err := json.Marshal(args["top"]); err == nil {
		_ = json.Unmarshal(raw, &top)
	}
	return &ToolResult{Text: skills.MDRender(summary, top, argBool(args, "include_table", true))}
}

func structuredError(msg string) *ToolResult {
	return &ToolResult{Structured: map[string]any{"error": msg}, IsError: true}
}

func argString(args map[string]any, key, fallback string) string {
	if v, ok := args[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

func argInt(args map[string]any, key string, fallback int) int {
	switch v := args[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return fallback
}

func argBool(args map[string]any, key string, fallback bool) bool {
	switch v := args[key].(type) {
	case bool:
		return v
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "1", "yes":
			return true
		case "false", "0", "no":
			return false
		}
	}
	return fallback
}
