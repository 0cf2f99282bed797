package outbox

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/agentos-io/agentcore/pkg/envelope"
	"github.com/agentos-io/agentcore/pkg/masking"
)

// FileOutbox materializes one pretty-printed JSON episode per trace under
// an episodes directory. Events are buffered in memory until Finalize,
// which writes the file via tmp-then-rename.
type FileOutbox struct {
	dir   string
	codec eventCodec

	mu      sync.Mutex
	traceID string
	goal    string
	started time.Time
	events  []map[string]any
	header  *headerState
}

// NewFileOutbox creates the episodes directory if needed.
func NewFileOutbox(dir string, masker *masking.Service) (*FileOutbox, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create episodes dir: %w", err)
	}
	return &FileOutbox{dir: dir, codec: newEventCodec(masker)}, nil
}

// Dir returns the episodes directory.
func (f *FileOutbox) Dir() string { return f.dir }

// NewTrace opens a fresh trace, discarding any buffered state.
func (f *FileOutbox) NewTrace(goal string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.traceID = envelope.NewTraceID()
	f.goal = goal
	f.started = time.Now()
	f.events = nil
	f.header = newHeaderState()
	return f.traceID
}

// TraceID returns the open trace id, or "".
func (f *FileOutbox) TraceID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.traceID
}

// Append validates, redacts and buffers one event on the open trace.
func (f *FileOutbox) Append(eventType string, payload map[string]any, opts ...envelope.Option) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.traceID == "" {
		return ErrNoTrace
	}
	doc, err := f.codec.encode(f.traceID, eventType, payload, opts...)
	if err != nil {
		return err
	}
	f.header.observe(doc)
	f.events = append(f.events, doc)
	return nil
}

// AppendDoc is Append for a caller-built envelope document.
func (f *FileOutbox) AppendDoc(doc map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.traceID == "" {
		return ErrNoTrace
	}
	out, err := f.codec.finishDoc(doc)
	if err != nil {
		return err
	}
	f.header.observe(out)
	f.events = append(f.events, out)
	return nil
}

// Finalize writes the episode JSON and returns its path. Calling it again
// for the same trace replaces the file.
func (f *FileOutbox) Finalize(status string, artifacts map[string]any) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.traceID == "" {
		return "", ErrNoTrace
	}
	if artifacts == nil {
		artifacts = map[string]any{}
	}
	episode := &Episode{
		TraceID:   f.traceID,
		Goal:      f.goal,
		Status:    status,
		LatencyMS: time.Since(f.started).Milliseconds(),
		Header:    f.header.doc(),
		Events:    f.events,
		Sense:     lastPayloadField(f.events, envelope.TypeSenseSRSLoaded, "srs"),
		Plan:      lastPayloadField(f.events, envelope.TypePlanGenerated, "plan"),
		Artifacts: artifacts,
	}
	path := EpisodePath(f.dir, f.traceID)
	if err := writeJSONAtomic(path, episode); err != nil {
		return "", err
	}
	return path, nil
}

// AppendToFinalized loads a finalized episode file, appends one validated
// envelope document and rewrites the file atomically.
func (f *FileOutbox) AppendToFinalized(traceID string, doc map[string]any) error {
	path := EpisodePath(f.dir, traceID)
	episode, err := LoadEpisode(path)
	if err != nil {
		return err
	}
	out, err := f.codec.finishDoc(doc)
	if err != nil {
		return err
	}
	episode.Events = append(episode.Events, out)
	return writeJSONAtomic(path, episode)
}

// EpisodePath returns the file path of a trace's episode under dir.
func EpisodePath(dir, traceID string) string {
	return filepath.Join(dir, traceID+".json")
}

// LoadEpisode reads one episode JSON file.
func LoadEpisode(path string) (*Episode, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrTraceNotFound, filepath.Base(path))
	}
	if err != nil {
		return nil, fmt.Errorf("read episode: %w", err)
	}
	var episode Episode
	if err := json.Unmarshal(raw, &episode); err != nil {
		return nil, fmt.Errorf("parse episode %s: %w", filepath.Base(path), err)
	}
	return &episode, nil
}

// ListEpisodeFiles returns the episode files under dir, newest first by
// modification time.
func ListEpisodeFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read episodes dir: %w", err)
	}
	type fileInfo struct {
		path string
		mod  time.Time
	}
	files := make([]fileInfo, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, fileInfo{path: filepath.Join(dir, entry.Name()), mod: info.ModTime()})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].mod.After(files[j].mod) })
	out := make([]string, len(files))
	for i, fi := range files {
		out[i] = fi.path
	}
	return out, nil
}

func writeJSONAtomic(path string, v any) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create %s: %w", tmp, err)
	}
	enc := json.NewEncoder(f)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("encode episode: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace episode: %w", err)
	}
	return nil
}
