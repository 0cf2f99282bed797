package session

import (
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Status is the lifecycle state of a background job.
type Status string

const (
	StatusQueued  Status = "queued"
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
)

// StreamEntry is one captured console line. Lines that parsed as JSON
// objects carry the decoded document, and progress documents are
// kind-tagged so stream followers can tell them apart from plain logs.
type StreamEntry struct {
	TS   time.Time      `json:"ts"`
	Line string         `json:"line"`
	Doc  map[string]any `json:"json,omitempty"`
	Kind string         `json:"kind,omitempty"`
}

// EpisodeSummary is the slice of a finalized episode that job snapshots
// carry alongside the raw event list.
type EpisodeSummary struct {
	Status    string         `json:"status"`
	Goal      string         `json:"goal"`
	LatencyMS int64          `json:"latency_ms"`
	Artifacts map[string]any `json:"artifacts"`
	Header    map[string]any `json:"header"`
}

// Job tracks one background pipeline invocation: its stream buffer while
// running, then the outcome, trace id and episode once finished.
type Job struct {
	ID          string           `json:"id"`
	Meta        map[string]any   `json:"meta"`
	Status      Status           `json:"status"`
	Done        bool             `json:"done"`
	OK          bool             `json:"ok"`
	TraceID     string           `json:"trace_id,omitempty"`
	Result      map[string]any   `json:"result,omitempty"`
	Stream      []StreamEntry    `json:"stream"`
	Stderr      string           `json:"stderr,omitempty"`
	Error       string           `json:"error,omitempty"`
	Events      []map[string]any `json:"events,omitempty"`
	Episode     *EpisodeSummary  `json:"episode,omitempty"`
	EpisodePath string           `json:"episode_path,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
	mu          sync.RWMutex
}

// AppendLine records one console line on the stream (thread-safe).
// Blank lines are dropped.
func (j *Job) AppendLine(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	j.mu.Lock()
	defer j.mu.Unlock()

	j.appendLineLocked(line)
	j.UpdatedAt = time.Now()
}

func (j *Job) appendLineLocked(line string) {
	entry := StreamEntry{TS: time.Now(), Line: line}
	if strings.HasPrefix(line, "{") {
		var doc map[string]any
		if err := json.Unmarshal([]byte(line), &doc); err == nil {
			entry.Doc = doc
			if kind, _ := doc["kind"].(string); kind == "progress" {
				entry.Kind = "progress"
			}
		}
	}
	j.Stream = append(j.Stream, entry)
}

// SetStatus updates the lifecycle state (thread-safe). Done stays in
// sync: it reports whether the job reached a terminal state.
func (j *Job) SetStatus(status Status) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.Status = status
	j.Done = status == StatusDone || status == StatusFailed
	j.UpdatedAt = time.Now()
}

// Complete records the invocation's outcome (thread-safe). OK reflects
// whether the command itself completed; a run whose review failed still
// completes with status "failed" inside the result document.
func (j *Job) Complete(ok bool, result map[string]any, traceID string) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.OK = ok
	j.Result = result
	j.TraceID = traceID
	j.Done = true
	if ok {
		j.Status = StatusDone
	} else {
		j.Status = StatusFailed
	}
	j.UpdatedAt = time.Now()
}

// Fail marks the job failed and leaves the cause on both the job and its
// stream, where log followers see it (thread-safe).
func (j *Job) Fail(msg string) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.Error = msg
	j.Status = StatusFailed
	j.Done = true
	j.appendLineLocked("[error] " + msg)
	j.UpdatedAt = time.Now()
}

// SetStderr stores the captured stderr text (thread-safe).
func (j *Job) SetStderr(text string) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.Stderr = text
	j.UpdatedAt = time.Now()
}

// AttachEpisode links the finalized episode a completed run produced
// (thread-safe).
func (j *Job) AttachEpisode(ep *EpisodeSummary, events []map[string]any, path string) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.Episode = ep
	j.Events = events
	j.EpisodePath = path
	j.UpdatedAt = time.Now()
}

// StreamSince returns a copy of stream entries from index i on, for
// cursor-style readers (thread-safe).
func (j *Job) StreamSince(i int) []StreamEntry {
	j.mu.RLock()
	defer j.mu.RUnlock()

	if i < 0 {
		i = 0
	}
	if i >= len(j.Stream) {
		return nil
	}
	out := make([]StreamEntry, len(j.Stream)-i)
	copy(out, j.Stream[i:])
	return out
}

// Logger returns a job-scoped logger whose output lands on the stream
// buffer, line by line.
func (j *Job) Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&streamWriter{job: j}, nil))
}

// Clone creates a safe copy of the job for reading.
func (j *Job) Clone() Job {
	j.mu.RLock()
	defer j.mu.RUnlock()

	stream := make([]StreamEntry, len(j.Stream))
	copy(stream, j.Stream)
	var events []map[string]any
	if j.Events != nil {
		events = make([]map[string]any, len(j.Events))
		copy(events, j.Events)
	}

	return Job{
		ID:          j.ID,
		Meta:        j.Meta,
		Status:      j.Status,
		Done:        j.Done,
		OK:          j.OK,
		TraceID:     j.TraceID,
		Result:      j.Result,
		Stream:      stream,
		Stderr:      j.Stderr,
		Error:       j.Error,
		Events:      events,
		Episode:     j.Episode,
		EpisodePath: j.EpisodePath,
		CreatedAt:   j.CreatedAt,
		UpdatedAt:   j.UpdatedAt,
	}
}

// streamWriter bridges an slog handler onto a job's stream buffer.
type streamWriter struct {
	job *Job
}

func (w *streamWriter) Write(p []byte) (int, error) {
	for _, line := range strings.Split(strings.TrimRight(string(p), "\n"), "\n") {
		w.job.AppendLine(line)
	}
	return len(p), nil
}
