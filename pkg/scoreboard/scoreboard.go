// Package scoreboard projects the episode corpus into score rows: one row
// per finalized trace carrying the last review verdict and the model that
// produced it. Rows export to CSV or a scores SQLite table, and the table
// answers the filtered summary, grouping and percentile queries behind the
// scores endpoints.
package scoreboard

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/agentos-io/agentcore/pkg/envelope"
	"github.com/agentos-io/agentcore/pkg/outbox"
)

// Row is one episode's score projection. Score and Pass are nil for
// episodes that never reached review; Model and Provider are empty when
// no event carried llm metadata.
type Row struct {
	TraceID   string   `json:"trace_id"`
	Goal      string   `json:"goal"`
	Status    string   `json:"status"`
	LatencyMS int64    `json:"latency_ms"`
	Score     *float64 `json:"score"`
	Pass      *bool    `json:"pass"`
	Model     string   `json:"model,omitempty"`
	Provider  string   `json:"provider,omitempty"`
	TS        string   `json:"ts"`
}

// ScanEpisodes projects every readable episode file under dir, newest
// first. Unreadable or malformed files are skipped rather than failing
// the whole scan.
func ScanEpisodes(dir string) ([]Row, error) {
	files, err := outbox.ListEpisodeFiles(dir)
	if err != nil {
		return nil, err
	}
	rows := make([]Row, 0, len(files))
	for _, path := range files {
		episode, err := outbox.LoadEpisode(path)
		if err != nil {
			continue
		}
		fallbackTS := ""
		if info, err := os.Stat(path); err == nil {
			fallbackTS = info.ModTime().UTC().Format(time.RFC3339)
		}
		rows = append(rows, rowFromEpisode(episode, fallbackTS))
	}
	return rows, nil
}

// ScanSQLite projects every finalized trace of a SQLite-backend episodes
// database, newest first.
func ScanSQLite(path string) ([]Row, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("episodes db: %w", err)
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open episodes db: %w", err)
	}
	defer db.Close()

	type episodeHead struct {
		traceID    string
		goal       string
		status     string
		latencyMS  int64
		headerJSON string
		createdTS  string
	}
	res, err := db.Query(
		"SELECT trace_id, goal, status, latency_ms, header_json, created_ts FROM episodes ORDER BY created_ts DESC",
	)
	if err != nil {
		return nil, fmt.Errorf("select episodes: %w", err)
	}
	var heads []episodeHead
	for res.Next() {
		var h episodeHead
		if err := res.Scan(&h.traceID, &h.goal, &h.status, &h.latencyMS, &h.headerJSON, &h.createdTS); err != nil {
			res.Close()
			return nil, fmt.Errorf("scan episode: %w", err)
		}
		heads = append(heads, h)
	}
	if err := res.Err(); err != nil {
		res.Close()
		return nil, err
	}
	res.Close()

	rows := make([]Row, 0, len(heads))
	for _, h := range heads {
		episode := outbox.Episode{
			TraceID:   h.traceID,
			Goal:      h.goal,
			Status:    h.status,
			LatencyMS: h.latencyMS,
		}
		if h.headerJSON != "" {
			if err := json.Unmarshal([]byte(h.headerJSON), &episode.Header); err != nil {
				episode.Header = nil
			}
		}
		events, err := fetchEvents(db, h.traceID)
		if err != nil {
			return nil, err
		}
		episode.Events = events
		rows = append(rows, rowFromEpisode(&episode, h.createdTS))
	}
	return rows, nil
}

func fetchEvents(db *sql.DB, traceID string) ([]map[string]any, error) {
	res, err := db.Query(
		"SELECT ts, type, payload_json FROM events WHERE trace_id = ? ORDER BY id ASC",
		traceID,
	)
	if err != nil {
		return nil, fmt.Errorf("select events: %w", err)
	}
	defer res.Close()
	var out []map[string]any
	for res.Next() {
		var ts, eventType, payloadJSON string
		if err := res.Scan(&ts, &eventType, &payloadJSON); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		var payload map[string]any
		if err := json.Unmarshal([]byte(payloadJSON), &payload); err != nil {
			payload = map[string]any{}
		}
		out = append(out, map[string]any{"ts": ts, "type": eventType, "payload": payload})
	}
	return out, res.Err()
}

// rowFromEpisode derives one score row. The row timestamp prefers the
// last review event, then the last event of any type, then fallbackTS
// (the finalize time known to the caller).
func rowFromEpisode(episode *outbox.Episode, fallbackTS string) Row {
	row := Row{
		TraceID:   episode.TraceID,
		Goal:      episode.Goal,
		Status:    episode.Status,
		LatencyMS: episode.LatencyMS,
		TS:        fallbackTS,
	}
	reviewed := false
	for i := len(episode.Events) - 1; i >= 0; i-- {
		ev := episode.Events[i]
		if ev["type"] != envelope.TypeReviewScored {
			continue
		}
		reviewed = true
		if ts, ok := ev["ts"].(string); ok && ts != "" {
			row.TS = ts
		}
		if payload, ok := ev["payload"].(map[string]any); ok {
			if score, ok := asFloat(payload["score"]); ok {
				row.Score = &score
			}
			if pass, ok := payload["pass"].(bool); ok {
				row.Pass = &pass
			}
		}
		break
	}
	if !reviewed && len(episode.Events) > 0 {
		if ts, ok := episode.Events[len(episode.Events)-1]["ts"].(string); ok && ts != "" {
			row.TS = ts
		}
	}
	row.Model, row.Provider = modelProvider(episode)
	return row
}

// modelProvider prefers the accumulated header and falls back to the
// first event carrying llm metadata, for episodes written without one.
func modelProvider(episode *outbox.Episode) (model, provider string) {
	if episode.Header != nil {
		model, _ = episode.Header["model"].(string)
		provider, _ = episode.Header["provider"].(string)
	}
	if model != "" && provider != "" {
		return model, provider
	}
	for _, ev := range episode.Events {
		payload, ok := ev["payload"].(map[string]any)
		if !ok {
			continue
		}
		meta, ok := payload["llm"].(map[string]any)
		if !ok {
			continue
		}
		if model == "" {
			model, _ = meta["model"].(string)
		}
		if provider == "" {
			provider, _ = meta["provider"].(string)
		}
		if model != "" && provider != "" {
			break
		}
	}
	return model, provider
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
