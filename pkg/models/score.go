package models

// Episode terminal states.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// ScoreRow is the scoreboard projection of one episode.
type ScoreRow struct {
	TraceID   string  `json:"trace_id"`
	Goal      string  `json:"goal"`
	Status    string  `json:"status"`
	LatencyMS int64   `json:"latency_ms"`
	Score     float64 `json:"score"`
	Pass      bool    `json:"pass"`
	Model     string  `json:"model,omitempty"`
	Provider  string  `json:"provider,omitempty"`
	TS        string  `json:"ts"`
}
