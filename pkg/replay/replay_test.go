package replay

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentos-io/agentcore/pkg/envelope"
	"github.com/agentos-io/agentcore/pkg/outbox"
)

type recordedEvent struct {
	typ     string
	payload map[string]any
}

func senseEvent(csvPath string) recordedEvent {
	return recordedEvent{typ: envelope.TypeSenseSRSLoaded, payload: map[string]any{
		"srs": map[string]any{
			"goal":   "weekly-report",
			"inputs": map[string]any{"csv_path": csvPath},
		},
	}}
}

func buildEpisode(t *testing.T, dir, goal string, events []recordedEvent, status string, artifacts map[string]any) string {
	t.Helper()
	ob, err := outbox.NewFileOutbox(dir, nil)
	require.NoError(t, err)
	traceID := ob.NewTrace(goal)
	for _, ev := range events {
		require.NoError(t, ob.Append(ev.typ, ev.payload))
	}
	_, err = ob.Finalize(status, artifacts)
	require.NoError(t, err)
	return traceID
}

func writeSourceCSV(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "data.csv")
	csv := "title,views\nFirst,100\nSecond,50\nThird,25\n"
	require.NoError(t, os.WriteFile(path, []byte(csv), 0o644))
	return path
}

func TestResolveTraceID(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"t-aaa111.json", "t-aaa222.json", "t-bbb333.json", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("{}"), 0o644))
	}

	t.Run("unique prefix resolves", func(t *testing.T) {
		got, err := ResolveTraceID(dir, "t-bbb")
		require.NoError(t, err)
		assert.Equal(t, "t-bbb333", got)
	})

	t.Run("no match stays literal", func(t *testing.T) {
		got, err := ResolveTraceID(dir, "t-zzz")
		require.NoError(t, err)
		assert.Equal(t, "t-zzz", got)
	})

	t.Run("ambiguous prefix names candidates", func(t *testing.T) {
		_, err := ResolveTraceID(dir, "t-aaa")
		require.ErrorIs(t, err, ErrAmbiguousPrefix)
		assert.Contains(t, err.Error(), "t-aaa111")
		assert.Contains(t, err.Error(), "t-aaa222")
	})

	t.Run("missing dir stays literal", func(t *testing.T) {
		got, err := ResolveTraceID(filepath.Join(dir, "absent"), "t-1")
		require.NoError(t, err)
		assert.Equal(t, "t-1", got)
	})
}

func TestEngineLoadByPrefix(t *testing.T) {
	dir := t.TempDir()
	traceID := buildEpisode(t, dir, "weekly-report", []recordedEvent{senseEvent("data.csv")}, outbox.StatusSuccess, map[string]any{})

	ep, err := New(dir).Load(traceID[:8])
	require.NoError(t, err)
	assert.Equal(t, traceID, ep.TraceID)
	assert.Equal(t, "weekly-report", ep.Goal)
}

func TestEngineLoadMissing(t *testing.T) {
	_, err := New(t.TempDir()).Load("t-missing")
	assert.ErrorIs(t, err, outbox.ErrTraceNotFound)
}

func TestEngineLastAndList(t *testing.T) {
	dir := t.TempDir()
	first := buildEpisode(t, dir, "g1", []recordedEvent{senseEvent("a.csv")}, outbox.StatusSuccess, map[string]any{})
	second := buildEpisode(t, dir, "g2", []recordedEvent{senseEvent("b.csv")}, outbox.StatusFailed, map[string]any{})
	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(outbox.EpisodePath(dir, first), old, old))

	eng := New(dir)

	ep, err := eng.Last()
	require.NoError(t, err)
	assert.Equal(t, second, ep.TraceID)

	listings, err := eng.List(20)
	require.NoError(t, err)
	require.Len(t, listings, 2)
	assert.Equal(t, second, listings[0].TraceID)
	assert.Equal(t, first, listings[1].TraceID)

	capped, err := eng.List(1)
	require.NoError(t, err)
	require.Len(t, capped, 1)
	assert.Equal(t, second, capped[0].TraceID)
}

func TestEngineLastEmptyDir(t *testing.T) {
	_, err := New(t.TempDir()).Last()
	assert.ErrorIs(t, err, outbox.ErrTraceNotFound)
}

func TestReviewReturnsLastSavedVerdict(t *testing.T) {
	dir := t.TempDir()
	traceID := buildEpisode(t, dir, "weekly-report", []recordedEvent{
		{typ: envelope.TypeReviewScored, payload: map[string]any{"score": 0.4, "pass": false, "reasons": []string{"missing header"}}},
		{typ: envelope.TypeReviewScored, payload: map[string]any{
			"score": 0.9, "pass": true, "reasons": []string{},
			"llm": map[string]any{"provider": "openrouter", "attempts": 1},
		}},
	}, outbox.StatusSuccess, map[string]any{})

	ep, err := New(dir).Load(traceID)
	require.NoError(t, err)

	rv := Review(ep)
	assert.Equal(t, traceID, rv["trace_id"])
	assert.Equal(t, true, rv["pass"])
	assert.InDelta(t, 0.9, rv["score"].(float64), 1e-9)
	assert.Empty(t, rv["reasons"])
	llm, ok := rv["llm"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "openrouter", llm["provider"])
}

func TestReviewDefaultWhenUnreviewed(t *testing.T) {
	dir := t.TempDir()
	traceID := buildEpisode(t, dir, "weekly-report", []recordedEvent{senseEvent("data.csv")}, outbox.StatusFailed, map[string]any{})

	ep, err := New(dir).Load(traceID)
	require.NoError(t, err)

	rv := Review(ep)
	assert.Equal(t, traceID, rv["trace_id"])
	assert.Equal(t, false, rv["pass"])
	assert.Equal(t, 0.0, rv["score"])
	assert.Equal(t, []string{"no_saved_review"}, rv["reasons"])
}

func TestRerunWritesRecordedOutputPath(t *testing.T) {
	dir := t.TempDir()
	csvPath := writeSourceCSV(t, dir)
	outPath := filepath.Join(dir, "reports", "weekly.md")

	traceID := buildEpisode(t, dir, "weekly-report", []recordedEvent{
		senseEvent(csvPath),
		{typ: envelope.TypePlanGenerated, payload: map[string]any{"plan": map[string]any{
			"id": "plan-rules",
			"steps": []map[string]any{
				{"id": "s2", "op": "stats.aggregate", "args": map[string]any{"top_n": 2}},
			},
		}}},
	}, outbox.StatusSuccess, map[string]any{"output_path": outPath})

	ep, err := New(dir).Load(traceID)
	require.NoError(t, err)

	res, err := Rerun(context.Background(), ep, "")
	require.NoError(t, err)
	assert.Equal(t, traceID, res.TraceID)
	assert.Equal(t, "rerun_ok", res.Status)
	assert.Equal(t, outPath, res.OutPath)

	body, err := os.ReadFile(outPath)
	require.NoError(t, err)
	md := string(body)
	assert.Contains(t, md, "# Weekly Report")
	assert.Contains(t, md, "## Top Items")
	assert.Contains(t, md, "| 1 | First | 100 |")
	assert.NotContains(t, md, "Third")
}

func TestRerunOverridePath(t *testing.T) {
	dir := t.TempDir()
	csvPath := writeSourceCSV(t, dir)
	recorded := filepath.Join(dir, "reports", "weekly.md")
	override := filepath.Join(dir, "elsewhere", "copy.md")

	traceID := buildEpisode(t, dir, "weekly-report",
		[]recordedEvent{senseEvent(csvPath)},
		outbox.StatusSuccess, map[string]any{"output_path": recorded})

	ep, err := New(dir).Load(traceID)
	require.NoError(t, err)

	res, err := Rerun(context.Background(), ep, override)
	require.NoError(t, err)
	assert.Equal(t, override, res.OutPath)
	assert.FileExists(t, override)
	assert.NoFileExists(t, recorded)
}

func TestRerunDefaultsWithoutPlanOrArtifact(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	csvPath := writeSourceCSV(t, dir)

	traceID := buildEpisode(t, dir, "weekly-report",
		[]recordedEvent{senseEvent(csvPath)},
		outbox.StatusFailed, map[string]any{})

	ep, err := New(dir).Load(traceID)
	require.NoError(t, err)

	res, err := Rerun(context.Background(), ep, "")
	require.NoError(t, err)
	assert.Equal(t, DefaultRerunPath, res.OutPath)

	body, err := os.ReadFile(filepath.Join(dir, "reports", "replay.md"))
	require.NoError(t, err)
	assert.Contains(t, string(body), "# Weekly Report")
}

func TestRerunMissingCSVPath(t *testing.T) {
	dir := t.TempDir()
	traceID := buildEpisode(t, dir, "weekly-report",
		[]recordedEvent{{typ: envelope.TypeSenseSRSLoaded, payload: map[string]any{"srs": map[string]any{"goal": "weekly-report"}}}},
		outbox.StatusFailed, map[string]any{})

	ep, err := New(dir).Load(traceID)
	require.NoError(t, err)

	_, err = Rerun(context.Background(), ep, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no saved inputs.csv_path")
}

func TestSQLitePrefixResolution(t *testing.T) {
	box, err := outbox.NewSQLiteOutbox(filepath.Join(t.TempDir(), "episodes.db"), nil)
	require.NoError(t, err)
	defer box.Close()

	first := box.NewTrace("g1")
	_, err = box.Finalize(outbox.StatusSuccess, map[string]any{})
	require.NoError(t, err)
	second := box.NewTrace("g2")
	_, err = box.Finalize(outbox.StatusFailed, map[string]any{})
	require.NoError(t, err)

	got, err := ResolveSQLite(box, first)
	require.NoError(t, err)
	assert.Equal(t, first, got)

	got, err = ResolveSQLite(box, first[:len(first)-1])
	require.NoError(t, err)
	assert.Equal(t, first, got)

	_, err = ResolveSQLite(box, "t-")
	require.ErrorIs(t, err, ErrAmbiguousPrefix)
	assert.Contains(t, err.Error(), first)
	assert.Contains(t, err.Error(), second)

	got, err = ResolveSQLite(box, "zzz")
	require.NoError(t, err)
	assert.Equal(t, "zzz", got)
}

func TestLoadSQLiteReviewRoundTrip(t *testing.T) {
	box, err := outbox.NewSQLiteOutbox(filepath.Join(t.TempDir(), "episodes.db"), nil)
	require.NoError(t, err)
	defer box.Close()

	traceID := box.NewTrace("weekly-report")
	require.NoError(t, box.Append(envelope.TypeReviewScored, map[string]any{
		"score": 1.0, "pass": true, "reasons": []string{},
	}))
	_, err = box.Finalize(outbox.StatusSuccess, map[string]any{"output_path": "reports/weekly.md"})
	require.NoError(t, err)

	ep, err := LoadSQLite(box, traceID[:10])
	require.NoError(t, err)
	assert.Equal(t, traceID, ep.TraceID)

	rv := Review(ep)
	assert.Equal(t, true, rv["pass"])
	assert.InDelta(t, 1.0, rv["score"].(float64), 1e-9)

	_, err = LoadSQLite(box, "t-ffffffffffff")
	assert.ErrorIs(t, err, outbox.ErrTraceNotFound)
}
