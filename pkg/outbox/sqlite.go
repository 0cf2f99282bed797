package outbox

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/agentos-io/agentcore/pkg/envelope"
	"github.com/agentos-io/agentcore/pkg/masking"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS episodes (
  trace_id TEXT PRIMARY KEY,
  goal TEXT,
  status TEXT,
  latency_ms INTEGER,
  header_json TEXT,
  sense_json TEXT,
  plan_json TEXT,
  artifacts_json TEXT,
  created_ts TEXT
);
CREATE TABLE IF NOT EXISTS events (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  trace_id TEXT,
  msg_id TEXT,
  ts TEXT,
  type TEXT,
  payload_json TEXT
);
CREATE INDEX IF NOT EXISTS idx_events_trace ON events(trace_id, id);
`

// SQLiteOutbox stores episodes and events in a single SQLite database.
// The monotone events.id is the canonical event order.
type SQLiteOutbox struct {
	db    *sql.DB
	path  string
	codec eventCodec

	mu      sync.Mutex
	traceID string
	goal    string
	started time.Time
	header  *headerState
}

// NewSQLiteOutbox opens (creating if needed) the database at dbPath and
// ensures the schema exists.
func NewSQLiteOutbox(dbPath string, masker *masking.Service) (*SQLiteOutbox, error) {
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create outbox dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open outbox db: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init outbox schema: %w", err)
	}
	return &SQLiteOutbox{db: db, path: dbPath, codec: newEventCodec(masker)}, nil
}

// Close releases the database handle.
func (s *SQLiteOutbox) Close() error { return s.db.Close() }

// Path returns the database file path.
func (s *SQLiteOutbox) Path() string { return s.path }

// NewTrace opens a fresh trace.
func (s *SQLiteOutbox) NewTrace(goal string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.traceID = envelope.NewTraceID()
	s.goal = goal
	s.started = time.Now()
	s.header = newHeaderState()
	return s.traceID
}

// TraceID returns the open trace id, or "".
func (s *SQLiteOutbox) TraceID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.traceID
}

func (s *SQLiteOutbox) insertEvent(traceID string, doc map[string]any) error {
	payloadJSON, err := json.Marshal(doc["payload"])
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	_, err = s.db.Exec(
		"INSERT INTO events(trace_id, msg_id, ts, type, payload_json) VALUES (?, ?, ?, ?, ?)",
		traceID, doc["msg_id"], doc["ts"], doc["type"], string(payloadJSON),
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// Append validates, redacts and inserts one event row on the open trace.
func (s *SQLiteOutbox) Append(eventType string, payload map[string]any, opts ...envelope.Option) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.traceID == "" {
		return ErrNoTrace
	}
	doc, err := s.codec.encode(s.traceID, eventType, payload, opts...)
	if err != nil {
		return err
	}
	if err := s.insertEvent(s.traceID, doc); err != nil {
		return err
	}
	s.header.observe(doc)
	return nil
}

// AppendDoc is Append for a caller-built envelope document.
func (s *SQLiteOutbox) AppendDoc(doc map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.traceID == "" {
		return ErrNoTrace
	}
	out, err := s.codec.finishDoc(doc)
	if err != nil {
		return err
	}
	if err := s.insertEvent(s.traceID, out); err != nil {
		return err
	}
	s.header.observe(out)
	return nil
}

func lastPayloadFieldTx(tx *sql.Tx, traceID, eventType, key string) (any, error) {
	var payloadJSON string
	err := tx.QueryRow(
		"SELECT payload_json FROM events WHERE trace_id = ? AND type = ? ORDER BY id DESC LIMIT 1",
		traceID, eventType,
	).Scan(&payloadJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select last %s: %w", eventType, err)
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(payloadJSON), &payload); err != nil {
		return nil, fmt.Errorf("parse %s payload: %w", eventType, err)
	}
	return payload[key], nil
}

// Finalize upserts the episodes row in one transaction and returns the
// database path. Calling it again for the same trace replaces the row.
func (s *SQLiteOutbox) Finalize(status string, artifacts map[string]any) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.traceID == "" {
		return "", ErrNoTrace
	}
	if artifacts == nil {
		artifacts = map[string]any{}
	}

	tx, err := s.db.Begin()
	if err != nil {
		return "", fmt.Errorf("begin finalize: %w", err)
	}
	defer tx.Rollback()

	sense, err := lastPayloadFieldTx(tx, s.traceID, envelope.TypeSenseSRSLoaded, "srs")
	if err != nil {
		return "", err
	}
	plan, err := lastPayloadFieldTx(tx, s.traceID, envelope.TypePlanGenerated, "plan")
	if err != nil {
		return "", err
	}

	headerJSON, err := json.Marshal(s.header.doc())
	if err != nil {
		return "", fmt.Errorf("encode header: %w", err)
	}
	senseJSON, err := json.Marshal(sense)
	if err != nil {
		return "", fmt.Errorf("encode sense: %w", err)
	}
	planJSON, err := json.Marshal(plan)
	if err != nil {
		return "", fmt.Errorf("encode plan: %w", err)
	}
	artifactsJSON, err := json.Marshal(artifacts)
	if err != nil {
		return "", fmt.Errorf("encode artifacts: %w", err)
	}

	_, err = tx.Exec(
		`REPLACE INTO episodes(trace_id, goal, status, latency_ms, header_json, sense_json, plan_json, artifacts_json, created_ts)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.traceID, s.goal, status, time.Since(s.started).Milliseconds(),
		string(headerJSON), string(senseJSON), string(planJSON), string(artifactsJSON),
		envelope.Now(),
	)
	if err != nil {
		return "", fmt.Errorf("finalize episode: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit finalize: %w", err)
	}
	return s.path, nil
}

// AppendToFinalized validates and inserts one envelope document on an
// already finalized trace.
func (s *SQLiteOutbox) AppendToFinalized(traceID string, doc map[string]any) error {
	var exists int
	err := s.db.QueryRow("SELECT 1 FROM episodes WHERE trace_id = ?", traceID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrTraceNotFound, traceID)
	}
	if err != nil {
		return fmt.Errorf("check trace: %w", err)
	}
	out, err := s.codec.finishDoc(doc)
	if err != nil {
		return err
	}
	return s.insertEvent(traceID, out)
}

// FetchEvents returns the events of a trace as envelope-shaped documents
// in canonical id order.
func (s *SQLiteOutbox) FetchEvents(traceID string) ([]map[string]any, error) {
	rows, err := s.db.Query(
		"SELECT msg_id, ts, type, payload_json FROM events WHERE trace_id = ? ORDER BY id ASC",
		traceID,
	)
	if err != nil {
		return nil, fmt.Errorf("select events: %w", err)
	}
	defer rows.Close()

	var out []map[string]any
	for rows.Next() {
		var msgID, ts, eventType, payloadJSON string
		if err := rows.Scan(&msgID, &ts, &eventType, &payloadJSON); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		var payload map[string]any
		if err := json.Unmarshal([]byte(payloadJSON), &payload); err != nil {
			return nil, fmt.Errorf("parse event payload: %w", err)
		}
		out = append(out, map[string]any{
			"msg_id":  msgID,
			"ts":      ts,
			"type":    eventType,
			"payload": payload,
		})
	}
	return out, rows.Err()
}

// TraceSummary is one corpus listing row.
type TraceSummary struct {
	TraceID   string `json:"trace_id"`
	Goal      string `json:"goal"`
	Status    string `json:"status"`
	CreatedTS string `json:"created_ts"`
}

// ListTraces returns finalized traces, newest first.
func (s *SQLiteOutbox) ListTraces(limit int) ([]TraceSummary, error) {
	rows, err := s.db.Query(
		"SELECT trace_id, goal, status, created_ts FROM episodes ORDER BY created_ts DESC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list traces: %w", err)
	}
	defer rows.Close()

	var out []TraceSummary
	for rows.Next() {
		var t TraceSummary
		if err := rows.Scan(&t.TraceID, &t.Goal, &t.Status, &t.CreatedTS); err != nil {
			return nil, fmt.Errorf("scan trace: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// TraceIDsByPrefix returns trace ids starting with prefix, newest first.
func (s *SQLiteOutbox) TraceIDsByPrefix(prefix string) ([]string, error) {
	rows, err := s.db.Query(
		"SELECT trace_id FROM episodes WHERE trace_id LIKE ? || '%' ORDER BY created_ts DESC",
		prefix,
	)
	if err != nil {
		return nil, fmt.Errorf("match trace prefix: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan trace id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// LoadEpisode assembles the full episode for a finalized trace.
func (s *SQLiteOutbox) LoadEpisode(traceID string) (*Episode, error) {
	var episode Episode
	var headerJSON, senseJSON, planJSON, artifactsJSON string
	err := s.db.QueryRow(
		"SELECT goal, status, latency_ms, header_json, sense_json, plan_json, artifacts_json FROM episodes WHERE trace_id = ?",
		traceID,
	).Scan(&episode.Goal, &episode.Status, &episode.LatencyMS, &headerJSON, &senseJSON, &planJSON, &artifactsJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrTraceNotFound, traceID)
	}
	if err != nil {
		return nil, fmt.Errorf("select episode: %w", err)
	}
	episode.TraceID = traceID
	for _, field := range []struct {
		raw  string
		into any
	}{
		{headerJSON, &episode.Header},
		{senseJSON, &episode.Sense},
		{planJSON, &episode.Plan},
		{artifactsJSON, &episode.Artifacts},
	} {
		if field.raw == "" {
			continue
		}
		if err := json.Unmarshal([]byte(field.raw), field.into); err != nil {
			return nil, fmt.Errorf("parse episode field: %w", err)
		}
	}
	events, err := s.FetchEvents(traceID)
	if err != nil {
		return nil, err
	}
	episode.Events = events
	return &episode, nil
}
