package scoreboard

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeEpisode(t *testing.T, dir, traceID string, score float64, pass bool, model string, ts string) {
	t.Helper()
	status := "success"
	if !pass {
		status = "failed"
	}
	ep := map[string]any{
		"trace_id":   traceID,
		"goal":       "demo",
		"status":     status,
		"latency_ms": 120,
		"header":     map[string]any{"model": model, "provider": "openrouter"},
		"events": []map[string]any{
			{"type": "plan.created", "ts": ts, "payload": map[string]any{}},
			{"type": "review.scored", "ts": ts, "payload": map[string]any{"score": score, "pass": pass}},
		},
	}
	raw, err := json.Marshal(ep)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, traceID+".json"), raw, 0o644))
}

func TestScanEpisodes(t *testing.T) {
	dir := t.TempDir()
	writeEpisode(t, dir, "t-1", 0.9, true, "m1", "2026-08-01T00:00:00Z")
	writeEpisode(t, dir, "t-2", 0.4, false, "m2", "2026-08-02T00:00:00Z")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{"), 0o644))

	rows, err := ScanEpisodes(dir)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	byTrace := map[string]Row{}
	for _, row := range rows {
		byTrace[row.TraceID] = row
	}
	r1 := byTrace["t-1"]
	require.NotNil(t, r1.Score)
	assert.Equal(t, 0.9, *r1.Score)
	require.NotNil(t, r1.Pass)
	assert.True(t, *r1.Pass)
	assert.Equal(t, "m1", r1.Model)
	assert.Equal(t, "openrouter", r1.Provider)
	assert.Equal(t, "2026-08-01T00:00:00Z", r1.TS)
}

func TestExportCSV(t *testing.T) {
	dir := t.TempDir()
	writeEpisode(t, dir, "t-1", 0.9, true, "m1", "2026-08-01T00:00:00Z")
	rows, err := ScanEpisodes(dir)
	require.NoError(t, err)

	out := filepath.Join(t.TempDir(), "scores.csv")
	require.NoError(t, ExportCSV(rows, out))

	raw, err := os.ReadFile(out)
	require.NoError(t, err)
	text := strings.TrimPrefix(string(raw), "\uFEFF")
	lines := strings.Split(strings.TrimSpace(text), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "trace_id,goal,status,latency_ms,score,pass,model,provider,ts", lines[0])
	assert.Contains(t, lines[1], "t-1,demo,success,120,0.9,true,m1,openrouter")
}

func TestExportSQLiteUpsert(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "scores.sqlite")
	score := 0.5
	pass := false
	row := Row{TraceID: "t-1", Goal: "demo", Status: "failed", LatencyMS: 100, Score: &score, Pass: &pass, Model: "m1", Provider: "p1", TS: "2026-08-01T00:00:00Z"}
	require.NoError(t, ExportSQLite([]Row{row}, dbPath))

	// Re-export with an updated verdict for the same trace.
	score2 := 0.95
	pass2 := true
	row.Score, row.Pass, row.Status = &score2, &pass2, "success"
	require.NoError(t, ExportSQLite([]Row{row}, dbPath))

	db, err := sql.Open("sqlite3", dbPath)
	require.NoError(t, err)
	defer db.Close()
	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(1) FROM scores").Scan(&count))
	assert.Equal(t, 1, count)
	var gotScore float64
	var gotStatus string
	require.NoError(t, db.QueryRow("SELECT score, status FROM scores WHERE trace_id = 't-1'").Scan(&gotScore, &gotStatus))
	assert.Equal(t, 0.95, gotScore)
	assert.Equal(t, "success", gotStatus)
}

func seedScores(t *testing.T) string {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "scores.sqlite")
	now := time.Now().UTC()
	var rows []Row
	for i := 0; i < 10; i++ {
		score := 0.5 + float64(i)*0.05
		pass := i%2 == 0
		model := "alpha"
		if i >= 5 {
			model = "beta"
		}
		rows = append(rows, Row{
			TraceID:   fmt.Sprintf("t-%d", i),
			Goal:      "demo",
			Status:    "success",
			LatencyMS: int64(100 + i*10),
			Score:     &score,
			Pass:      &pass,
			Model:     model,
			Provider:  "openrouter",
			TS:        now.Add(-time.Duration(i) * time.Hour).Format(time.RFC3339),
		})
	}
	old := 0.1
	oldPass := false
	rows = append(rows, Row{
		TraceID: "t-old", Goal: "demo", Status: "failed", LatencyMS: 900,
		Score: &old, Pass: &oldPass, Model: "alpha", Provider: "legacy",
		TS: now.Add(-40 * 24 * time.Hour).Format(time.RFC3339),
	})
	require.NoError(t, ExportSQLite(rows, dbPath))
	return dbPath
}

func TestQuerySummary(t *testing.T) {
	dbPath := seedScores(t)

	summary, err := Query(dbPath, Filter{})
	require.NoError(t, err)
	assert.Equal(t, 11, summary.Stats.Total)
	require.NotNil(t, summary.Stats.AvgScore)
	require.NotNil(t, summary.Stats.P50)
	require.NotNil(t, summary.Stats.P95)
	assert.Len(t, summary.Detail, 11)
	assert.ElementsMatch(t, []string{"alpha", "beta"}, summary.Models)
	assert.ElementsMatch(t, []string{"legacy", "openrouter"}, summary.Providers)
	require.Len(t, summary.Groups, 2)
	assert.Equal(t, "beta", summary.Groups[0].Key)
}

func TestQueryWindowFilter(t *testing.T) {
	dbPath := seedScores(t)

	summary, err := Query(dbPath, Filter{Window: "7d"})
	require.NoError(t, err)
	assert.Equal(t, 10, summary.Stats.Total)

	summary, err = Query(dbPath, Filter{Window: "2h"})
	require.NoError(t, err)
	assert.LessOrEqual(t, summary.Stats.Total, 3)
}

func TestQueryModelFilterAndTopN(t *testing.T) {
	dbPath := seedScores(t)

	summary, err := Query(dbPath, Filter{Model: "alph", TopN: 2})
	require.NoError(t, err)
	assert.Equal(t, 6, summary.Stats.Total)
	assert.Len(t, summary.Detail, 2)
	for _, row := range summary.Detail {
		assert.Equal(t, "alpha", row.Model)
	}
}

func TestQueryGroupByProvider(t *testing.T) {
	dbPath := seedScores(t)

	groups, err := QueryGroups(dbPath, Filter{GroupBy: "provider"})
	require.NoError(t, err)
	require.Len(t, groups, 2)
	keys := []string{groups[0].Key, groups[1].Key}
	assert.ElementsMatch(t, []string{"openrouter", "legacy"}, keys)
}

func TestQueryRejectsUnknownGroupBy(t *testing.T) {
	dbPath := seedScores(t)
	_, err := Query(dbPath, Filter{GroupBy: "ts"})
	assert.Error(t, err)
}

func TestQueryMissingDB(t *testing.T) {
	_, err := Query(filepath.Join(t.TempDir(), "absent.sqlite"), Filter{})
	assert.Error(t, err)
}

func TestPercentileNearestRank(t *testing.T) {
	values := []int64{100, 200, 300, 400, 500}
	assert.Equal(t, int64(300), percentile(values, 50))
	assert.Equal(t, int64(500), percentile(values, 95))
	assert.Equal(t, int64(100), percentile([]int64{100}, 95))
}

func TestGroupAndDetailCSV(t *testing.T) {
	dbPath := seedScores(t)

	groups, err := QueryGroups(dbPath, Filter{})
	require.NoError(t, err)
	groupCSV := GroupCSV("model", groups)
	assert.True(t, strings.HasPrefix(groupCSV, "\uFEFF"))
	assert.Contains(t, groupCSV, "model,count,avg_score,pass_rate")

	detail, err := QueryDetail(dbPath, Filter{Model: "beta"})
	require.NoError(t, err)
	detailCSV := DetailCSV(detail)
	assert.Contains(t, detailCSV, "trace_id,goal,status")
	assert.Equal(t, 5, strings.Count(detailCSV, "beta"))
}
