package scoreboard

import (
	"database/sql"
	"encoding/csv"
	"errors"
	"fmt"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ErrBadGroupBy rejects group keys outside the scores schema.
var ErrBadGroupBy = errors.New("unsupported group_by")

// DefaultDetailLimit caps the recent-rows list when the filter does not
// ask for a specific Top-N.
const DefaultDetailLimit = 20

// Filter narrows a scores query. Model and Provider match as
// substrings. Window is either relative ("7d", "24h") or an absolute
// RFC3339 lower bound. GroupBy picks the grouping column and must be
// "model" or "provider".
type Filter struct {
	Model    string
	Provider string
	Window   string
	GroupBy  string
	TopN     int
}

// GroupRow aggregates one group of scores.
type GroupRow struct {
	Key      string  `json:"key"`
	Count    int     `json:"count"`
	AvgScore float64 `json:"avg_score"`
	PassRate float64 `json:"pass_rate"`
}

// Stats is the aggregate view over the filtered rows. Averages and
// percentiles are nil when nothing matched.
type Stats struct {
	Total      int      `json:"total"`
	AvgScore   *float64 `json:"avg_score"`
	PassRate   *float64 `json:"pass_rate"`
	AvgLatency *float64 `json:"avg_latency"`
	P50        *int64   `json:"p50"`
	P95        *int64   `json:"p95"`
}

// Summary is one query's full answer: aggregate stats, per-group rows
// for both grouping columns, the recent detail rows, and the distinct
// filter option lists.
type Summary struct {
	Stats     Stats      `json:"stats"`
	Groups    []GroupRow `json:"groups"`
	Detail    []Row      `json:"detail"`
	Models    []string   `json:"models"`
	Providers []string   `json:"providers"`
}

// Query answers a filtered scores query against the scores database at
// path. Percentiles are computed in memory over the filtered latencies,
// nearest-rank.
func Query(path string, filter Filter) (*Summary, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("scores db: %w", err)
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open scores db: %w", err)
	}
	defer db.Close()

	where, args := filter.whereClause(time.Now().UTC())

	summary := &Summary{}
	if err := querySummaryStats(db, where, args, &summary.Stats); err != nil {
		return nil, err
	}

	groupBy := filter.GroupBy
	if groupBy == "" {
		groupBy = "model"
	}
	if groupBy != "model" && groupBy != "provider" {
		return nil, fmt.Errorf("%w: %s", ErrBadGroupBy, groupBy)
	}
	summary.Groups, err = queryGroups(db, groupBy, where, args)
	if err != nil {
		return nil, err
	}

	limit := filter.TopN
	if limit <= 0 {
		limit = DefaultDetailLimit
	}
	summary.Detail, err = queryDetail(db, where, args, limit)
	if err != nil {
		return nil, err
	}

	if summary.Models, err = queryOptions(db, "model"); err != nil {
		return nil, err
	}
	if summary.Providers, err = queryOptions(db, "provider"); err != nil {
		return nil, err
	}
	return summary, nil
}

// QueryDetail returns every filtered row, newest first, for the detail
// CSV export.
func QueryDetail(path string, filter Filter) ([]Row, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("scores db: %w", err)
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open scores db: %w", err)
	}
	defer db.Close()

	where, args := filter.whereClause(time.Now().UTC())
	return queryDetail(db, where, args, 0)
}

// QueryGroups returns the per-group aggregation for the group CSV
// export.
func QueryGroups(path string, filter Filter) ([]GroupRow, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("scores db: %w", err)
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open scores db: %w", err)
	}
	defer db.Close()

	groupBy := filter.GroupBy
	if groupBy == "" {
		groupBy = "model"
	}
	if groupBy != "model" && groupBy != "provider" {
		return nil, fmt.Errorf("%w: %s", ErrBadGroupBy, groupBy)
	}
	where, args := filter.whereClause(time.Now().UTC())
	return queryGroups(db, groupBy, where, args)
}

// whereClause renders the filter as SQL. now anchors relative windows.
func (f Filter) whereClause(now time.Time) (string, []any) {
	var clauses []string
	var args []any
	if f.Model != "" {
		clauses = append(clauses, "model LIKE ?")
		args = append(args, "%"+f.Model+"%")
	}
	if f.Provider != "" {
		clauses = append(clauses, "provider LIKE ?")
		args = append(args, "%"+f.Provider+"%")
	}
	if since, ok := resolveWindow(f.Window, now); ok {
		clauses = append(clauses, "ts >= ?", "ts <= ?")
		args = append(args, since.Format(time.RFC3339), now.Format(time.RFC3339))
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// resolveWindow parses "Nd"/"Nh" relative windows or an absolute
// RFC3339 lower bound. Unparseable windows are ignored.
func resolveWindow(window string, now time.Time) (time.Time, bool) {
	w := strings.ToLower(strings.TrimSpace(window))
	if w == "" {
		return time.Time{}, false
	}
	if strings.HasSuffix(w, "d") {
		if n, err := strconv.Atoi(w[:len(w)-1]); err == nil {
			return now.Add(-time.Duration(n) * 24 * time.Hour), true
		}
	}
	if strings.HasSuffix(w, "h") {
		if n, err := strconv.Atoi(w[:len(w)-1]); err == nil {
			return now.Add(-time.Duration(n) * time.Hour), true
		}
	}
	if ts, err := time.Parse(time.RFC3339, strings.TrimSpace(window)); err == nil {
		return ts, true
	}
	return time.Time{}, false
}

func querySummaryStats(db *sql.DB, where string, args []any, stats *Stats) error {
	var avgScore, passRate, avgLatency sql.NullFloat64
	err := db.QueryRow(
		"SELECT COUNT(1), AVG(score), AVG(pass), AVG(latency_ms) FROM scores"+where, args...,
	).Scan(&stats.Total, &avgScore, &passRate, &avgLatency)
	if err != nil {
		return fmt.Errorf("summary stats: %w", err)
	}
	if avgScore.Valid {
		stats.AvgScore = &avgScore.Float64
	}
	if passRate.Valid {
		stats.PassRate = &passRate.Float64
	}
	if avgLatency.Valid {
		stats.AvgLatency = &avgLatency.Float64
	}

	res, err := db.Query("SELECT latency_ms FROM scores"+where, args...)
	if err != nil {
		return fmt.Errorf("latencies: %w", err)
	}
	defer res.Close()
	var latencies []int64
	for res.Next() {
		var l sql.NullInt64
		if err := res.Scan(&l); err != nil {
			return err
		}
		if l.Valid {
			latencies = append(latencies, l.Int64)
		}
	}
	if err := res.Err(); err != nil {
		return err
	}
	if len(latencies) > 0 {
		p50 := percentile(latencies, 50)
		p95 := percentile(latencies, 95)
		stats.P50 = &p50
		stats.P95 = &p95
	}
	return nil
}

// percentile is nearest-rank over a copy of values.
func percentile(values []int64, p float64) int64 {
	sorted := make([]int64, len(values))
	copy(sorted, values)
	sort.Slice(sorted, func(a, b int) bool { return sorted[a] < sorted[b] })
	k := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	if k < 0 {
		k = 0
	}
	if k >= len(sorted) {
		k = len(sorted) - 1
	}
	return sorted[k]
}

func queryGroups(db *sql.DB, groupBy, where string, args []any) ([]GroupRow, error) {
	res, err := db.Query(
		"SELECT "+groupBy+", COUNT(1), AVG(score), AVG(pass) FROM scores"+where+
			" GROUP BY "+groupBy+" ORDER BY AVG(score) DESC", args...,
	)
	if err != nil {
		return nil, fmt.Errorf("group query: %w", err)
	}
	defer res.Close()
	var groups []GroupRow
	for res.Next() {
		var key sql.NullString
		var avgScore, passRate sql.NullFloat64
		var g GroupRow
		if err := res.Scan(&key, &g.Count, &avgScore, &passRate); err != nil {
			return nil, err
		}
		g.Key = key.String
		g.AvgScore = round4(avgScore.Float64)
		g.PassRate = round4(passRate.Float64)
		groups = append(groups, g)
	}
	return groups, res.Err()
}

func queryDetail(db *sql.DB, where string, args []any, limit int) ([]Row, error) {
	q := "SELECT trace_id, goal, status, latency_ms, score, pass, model, provider, ts FROM scores" +
		where + " ORDER BY ts DESC"
	if limit > 0 {
		q += " LIMIT " + strconv.Itoa(limit)
	}
	res, err := db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("detail query: %w", err)
	}
	defer res.Close()
	var rows []Row
	for res.Next() {
		var row Row
		var score sql.NullFloat64
		var pass sql.NullInt64
		var model, provider, ts sql.NullString
		if err := res.Scan(&row.TraceID, &row.Goal, &row.Status, &row.LatencyMS, &score, &pass, &model, &provider, &ts); err != nil {
			return nil, err
		}
		if score.Valid {
			v := score.Float64
			row.Score = &v
		}
		if pass.Valid {
			v := pass.Int64 != 0
			row.Pass = &v
		}
		row.Model, row.Provider, row.TS = model.String, provider.String, ts.String
		rows = append(rows, row)
	}
	return rows, res.Err()
}

func queryOptions(db *sql.DB, column string) ([]string, error) {
	res, err := db.Query(
		"SELECT DISTINCT " + column + " FROM scores WHERE " + column +
			" IS NOT NULL AND " + column + " != '' ORDER BY " + column,
	)
	if err != nil {
		return nil, fmt.Errorf("options query: %w", err)
	}
	defer res.Close()
	var options []string
	for res.Next() {
		var v string
		if err := res.Scan(&v); err != nil {
			return nil, err
		}
		options = append(options, v)
	}
	return options, res.Err()
}

// GroupCSV renders group rows the way the CSV endpoint serves them.
func GroupCSV(groupBy string, groups []GroupRow) string {
	var b strings.Builder
	b.WriteString("\uFEFF")
	w := csv.NewWriter(&b)
	w.Write([]string{groupBy, "count", "avg_score", "pass_rate"})
	for _, g := range groups {
		w.Write([]string{
			g.Key,
			strconv.Itoa(g.Count),
			strconv.FormatFloat(g.AvgScore, 'f', 4, 64),
			strconv.FormatFloat(g.PassRate, 'f', 4, 64),
		})
	}
	w.Flush()
	return b.String()
}

// DetailCSV renders detail rows with the shared column order.
func DetailCSV(rows []Row) string {
	var b strings.Builder
	b.WriteString("\uFEFF")
	w := csv.NewWriter(&b)
	w.Write(csvHeader)
	for _, row := range rows {
		w.Write(csvRecord(row))
	}
	w.Flush()
	return b.String()
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
