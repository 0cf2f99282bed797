package scoreboard

import (
	"database/sql"
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
)

// csvHeader is the detail column order shared by file exports and the
// detail endpoint.
var csvHeader = []string{"trace_id", "goal", "status", "latency_ms", "score", "pass", "model", "provider", "ts"}

// ExportCSV writes rows to path, header first. The leading BOM keeps
// spreadsheet tools honest about UTF-8 goals.
func ExportCSV(rows []Row, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create csv: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString("\uFEFF"); err != nil {
		return err
	}
	w := csv.NewWriter(f)
	if err := w.Write(csvHeader); err != nil {
		return err
	}
	for _, row := range rows {
		if err := w.Write(csvRecord(row)); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func csvRecord(row Row) []string {
	score, pass := "", ""
	if row.Score != nil {
		score = strconv.FormatFloat(*row.Score, 'f', -1, 64)
	}
	if row.Pass != nil {
		pass = strconv.FormatBool(*row.Pass)
	}
	return []string{
		row.TraceID, row.Goal, row.Status,
		strconv.FormatInt(row.LatencyMS, 10),
		score, pass, row.Model, row.Provider, row.TS,
	}
}

const scoresSchema = `
CREATE TABLE IF NOT EXISTS scores (
	trace_id   TEXT PRIMARY KEY,
	goal       TEXT,
	status     TEXT,
	latency_ms INTEGER,
	score      REAL,
	pass       INTEGER,
	model      TEXT,
	provider   TEXT,
	ts         TEXT
)`

// ExportSQLite upserts rows into the scores table at path, creating the
// database on first use. Re-exporting the same corpus replaces rows in
// place, keyed by trace id.
func ExportSQLite(rows []Row, path string) error {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return fmt.Errorf("open scores db: %w", err)
	}
	defer db.Close()

	if _, err := db.Exec(scoresSchema); err != nil {
		return fmt.Errorf("create scores table: %w", err)
	}

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	stmt, err := tx.Prepare(`
		INSERT INTO scores (trace_id, goal, status, latency_ms, score, pass, model, provider, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(trace_id) DO UPDATE SET
			goal = excluded.goal,
			status = excluded.status,
			latency_ms = excluded.latency_ms,
			score = excluded.score,
			pass = excluded.pass,
			model = excluded.model,
			provider = excluded.provider,
			ts = excluded.ts`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, row := range rows {
		var score any
		if row.Score != nil {
			score = *row.Score
		}
		var pass any
		if row.Pass != nil {
			pass = boolToInt(*row.Pass)
		}
		if _, err := stmt.Exec(
			row.TraceID, row.Goal, row.Status, row.LatencyMS,
			score, pass, row.Model, row.Provider, row.TS,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("upsert %s: %w", row.TraceID, err)
		}
	}
	return tx.Commit()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
