// Package replay reads finalized episodes back: the saved review verdict
// without re-running anything, or a full offline re-execution of the saved
// plan with the local skill primitives. Nothing here touches the network.
package replay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/agentos-io/agentcore/pkg/agent"
	"github.com/agentos-io/agentcore/pkg/envelope"
	"github.com/agentos-io/agentcore/pkg/models"
	"github.com/agentos-io/agentcore/pkg/outbox"
	"github.com/agentos-io/agentcore/pkg/skills"
)

// ErrAmbiguousPrefix is returned when a trace reference matches more than
// one episode.
var ErrAmbiguousPrefix = errors.New("ambiguous trace prefix")

// DefaultRerunPath receives rerun output when the episode recorded no
// output path and the caller gave no override.
const DefaultRerunPath = "reports/replay.md"

// Engine replays episodes from a file-backend episodes directory.
type Engine struct {
	dir string
}

// New returns an engine over the given episodes directory.
func New(dir string) *Engine { return &Engine{dir: dir} }

// ResolveTraceID maps a trace reference to a full trace id within the
// episodes directory. A unique prefix resolves to its trace; no match
// leaves the reference as-is (it may still name a literal episode);
// several matches fail with ErrAmbiguousPrefix naming the candidates.
func ResolveTraceID(dir, ref string) (string, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return ref, nil
	}
	if err != nil {
		return "", fmt.Errorf("read episodes dir: %w", err)
	}
	var matches []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		id := strings.TrimSuffix(name, ".json")
		if strings.HasPrefix(id, ref) {
			matches = append(matches, id)
		}
	}
	switch len(matches) {
	case 0:
		return ref, nil
	case 1:
		return matches[0], nil
	default:
		sort.Strings(matches)
		return "", fmt.Errorf("%w %q: %s", ErrAmbiguousPrefix, ref, strings.Join(matches, ", "))
	}
}

// Load resolves ref (full id or unique prefix) and reads its episode.
func (e *Engine) Load(ref string) (*outbox.Episode, error) {
	traceID, err := ResolveTraceID(e.dir, ref)
	if err != nil {
		return nil, err
	}
	return outbox.LoadEpisode(outbox.EpisodePath(e.dir, traceID))
}

// Last loads the most recently modified episode.
func (e *Engine) Last() (*outbox.Episode, error) {
	files, err := outbox.ListEpisodeFiles(e.dir)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: no episodes under %s", outbox.ErrTraceNotFound, e.dir)
	}
	return outbox.LoadEpisode(files[0])
}

// Listing is one row of the episode inventory, newest first.
type Listing struct {
	TraceID  string    `json:"trace_id"`
	Path     string    `json:"path"`
	Modified time.Time `json:"modified"`
}

// List returns up to limit episodes, most recently modified first.
func (e *Engine) List(limit int) ([]Listing, error) {
	files, err := outbox.ListEpisodeFiles(e.dir)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(files) > limit {
		files = files[:limit]
	}
	out := make([]Listing, 0, len(files))
	for _, path := range files {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		out = append(out, Listing{
			TraceID:  strings.TrimSuffix(filepath.Base(path), ".json"),
			Path:     path,
			Modified: info.ModTime(),
		})
	}
	return out, nil
}

// Review returns the episode's last saved verdict merged under its trace
// id, without re-running anything. Episodes that never reached review
// yield the no_saved_review default.
func Review(episode *outbox.Episode) map[string]any {
	out := map[string]any{"trace_id": episode.TraceID}
	if pay := episode.LastEventPayload(envelope.TypeReviewScored); pay != nil {
		for k, v := range pay {
			out[k] = v
		}
		return out
	}
	out["pass"] = false
	out["score"] = 0.0
	out["reasons"] = []string{"no_saved_review"}
	return out
}

// RerunResult reports a completed offline re-execution.
type RerunResult struct {
	TraceID string `json:"trace_id"`
	Status  string `json:"status"`
	OutPath string `json:"out"`
}

// Rerun re-executes the episode's saved plan over its saved inputs using
// only the local skill primitives, writing the report to outOverride or
// the episode's recorded output path.
func Rerun(ctx context.Context, episode *outbox.Episode, outOverride string) (*RerunResult, error) {
	spec, err := senseSpec(episode)
	if err != nil {
		return nil, err
	}
	plan, err := savedPlan(episode)
	if err != nil {
		return nil, err
	}

	csvPath := spec.CSVPath()
	if csvPath == "" {
		return nil, fmt.Errorf("episode %s has no saved inputs.csv_path", episode.TraceID)
	}
	rows, err := skills.LoadCSV(csvPath)
	if err != nil {
		return nil, err
	}

	executor := &agent.SkillsExecutor{}
	markdown, _, err := executor.Execute(ctx, spec, plan, &agent.RunContext{Rows: rows})
	if err != nil {
		return nil, fmt.Errorf("re-execute plan: %w", err)
	}

	outPath := outOverride
	if outPath == "" {
		if p, ok := episode.Artifacts["output_path"].(string); ok && p != "" {
			outPath = p
		} else {
			outPath = DefaultRerunPath
		}
	}
	if dir := filepath.Dir(outPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create report dir: %w", err)
		}
	}
	if err := os.WriteFile(outPath, []byte(markdown), 0o644); err != nil {
		return nil, fmt.Errorf("write report: %w", err)
	}
	return &RerunResult{TraceID: episode.TraceID, Status: "rerun_ok", OutPath: outPath}, nil
}

// senseSpec decodes the saved sense payload into a task spec. A missing
// sense yields an empty spec; the csv_path check downstream reports it.
func senseSpec(episode *outbox.Episode) (*models.TaskSpec, error) {
	var spec models.TaskSpec
	if episode.Sense == nil {
		return &spec, nil
	}
	raw, err := json.Marshal(episode.Sense)
	if err != nil {
		return nil, fmt.Errorf("encode saved sense: %w", err)
	}
	if err := json.Unmarshal(raw, &spec); err != nil {
		return nil, fmt.Errorf("parse saved sense: %w", err)
	}
	return &spec, nil
}

// savedPlan decodes the saved plan. A missing plan reruns on the per-step
// defaults.
func savedPlan(episode *outbox.Episode) (*models.Plan, error) {
	var plan models.Plan
	if episode.Plan == nil {
		return &plan, nil
	}
	raw, err := json.Marshal(episode.Plan)
	if err != nil {
		return nil, fmt.Errorf("encode saved plan: %w", err)
	}
	if err := json.Unmarshal(raw, &plan); err != nil {
		return nil, fmt.Errorf("parse saved plan: %w", err)
	}
	return &plan, nil
}

// ResolveSQLite maps a trace reference to a trace id using the relational
// backend's prefix index, with the same zero/one/many policy as the file
// backend.
func ResolveSQLite(box *outbox.SQLiteOutbox, ref string) (string, error) {
	ids, err := box.TraceIDsByPrefix(ref)
	if err != nil {
		return "", err
	}
	switch len(ids) {
	case 0:
		return ref, nil
	case 1:
		return ids[0], nil
	default:
		sort.Strings(ids)
		return "", fmt.Errorf("%w %q: %s", ErrAmbiguousPrefix, ref, strings.Join(ids, ", "))
	}
}

// LoadSQLite resolves and loads an episode from the relational backend.
func LoadSQLite(box *outbox.SQLiteOutbox, ref string) (*outbox.Episode, error) {
	traceID, err := ResolveSQLite(box, ref)
	if err != nil {
		return nil, err
	}
	return box.LoadEpisode(traceID)
}
