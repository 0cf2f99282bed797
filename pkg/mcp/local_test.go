package mcp

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLocal(t *testing.T) (*Local, string) {
	t.Helper()
	dir := t.TempDir()
	return NewLocal(dir), dir
}

func TestNormalizeTool(t *testing.T) {
	assert.Equal(t, "fs.list_dir", NormalizeTool("ls"))
	assert.Equal(t, "fs.list_dir", NormalizeTool("list_files"))
	assert.Equal(t, "fs.read_text", NormalizeTool("cat"))
	assert.Equal(t, "stats.aggregate", NormalizeTool("stats.aggregate"))
	assert.Equal(t, "fs.read_text", NormalizeTool("  cat  "))
}

func TestLocalReadText(t *testing.T) {
	local, dir := newTestLocal(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "note.txt"), []byte("hello"), 0o644))

	res := local.Call("fs.read_text", map[string]any{"path": "note.txt"})
	assert.Equal(t, "hello", res.Text)
	assert.False(t, res.IsError)
}

func TestLocalReadTextMissing(t *testing.T) {
	local, _ := newTestLocal(t)

	res := local.Call("fs.read_text", map[string]any{"path": "nope.txt"})
	assert.Equal(t, "<not found: nope.txt>", res.Text)
}

func TestLocalReadTextCap(t *testing.T) {
	local, dir := newTestLocal(t)
	big := strings.Repeat("x", localReadCap+100)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "big.txt"), []byte(big), 0o644))

	res := local.Call("fs.read_text", map[string]any{"path": "big.txt"})
	assert.Len(t, res.Text, localReadCap)
}

func TestLocalReadTextAlias(t *testing.T) {
	local, dir := newTestLocal(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("aliased"), 0o644))

	res := local.Call("cat", map[string]any{"path": "a.txt"})
	assert.Equal(t, "aliased", res.Text)
}

func TestLocalListDir(t *testing.T) {
	local, dir := newTestLocal(t)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "data.csv"), []byte("a,b\n"), 0o644))

	res := local.Call("fs.list_dir", map[string]any{"path": "."})
	require.NotNil(t, res.Structured)
	assert.Equal(t, "/", res.Structured["cwd"])

	dirs, ok := res.Structured["dirs"].([]map[string]any)
	require.True(t, ok)
	require.Len(t, dirs, 1)
	assert.Equal(t, "sub", dirs[0]["name"])

	files, ok := res.Structured["files"].([]map[string]any)
	require.True(t, ok)
	require.Len(t, files, 1)
	assert.Equal(t, "data.csv", files[0]["name"])
	assert.EqualValues(t, 4, files[0]["size"])
}

func TestLocalListDirSubdir(t *testing.T) {
	local, dir := newTestLocal(t)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "reports"), 0o755))

	res := local.Call("ls", map[string]any{"path": "reports"})
	assert.Equal(t, "reports", res.Structured["cwd"])
}

func TestLocalListDirForbidden(t *testing.T) {
	local, _ := newTestLocal(t)

	res := local.Call("fs.list_dir", map[string]any{"path": "../.."})
	assert.Equal(t, "forbidden", res.Structured["error"])
	assert.True(t, res.IsError)
}

func TestLocalListDirNotADirectory(t *testing.T) {
	local, dir := newTestLocal(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "f.txt"), []byte("x"), 0o644))

	res := local.Call("fs.list_dir", map[string]any{"path": "f.txt"})
	assert.Contains(t, res.Structured["error"], "not a directory")
}

func TestLocalCSVHead(t *testing.T) {
	local, dir := newTestLocal(t)
	content := "h1,h2\n1,2\n3,4\n5,6\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "w.csv"), []byte(content), 0o644))

	res := local.Call("data.csv_head", map[string]any{"path": "w.csv", "n": float64(2)})
	assert.Equal(t, "h1,h2\n1,2\n", res.Text)
}

func TestLocalCSVClean(t *testing.T) {
	local, dir := newTestLocal(t)
	content := "title,views\nA,10\n ,20\nB,\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "w.csv"), []byte(content), 0o644))

	res := local.Call("skills.csv_clean", map[string]any{"path": "w.csv"})
	assert.Equal(t, "cleaned_count=1", res.Text)
}

func TestLocalAggregate(t *testing.T) {
	local, dir := newTestLocal(t)
	content := "title,views\nA,10\nB,30\nC,20\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "w.csv"), []byte(content), 0o644))

	res := local.Call("stats.aggregate", map[string]any{"path": "w.csv", "top_n": float64(2)})
	assert.Equal(t, "top=2 score_by=views", res.Text)
}

func TestLocalRenderReport(t *testing.T) {
	local, _ := newTestLocal(t)

	res := local.Call("report.md_render", map[string]any{
		"summary": map[string]any{"count": 2, "total": 30.0, "avg": 15.0},
		"top":     []any{map[string]any{"rank": 1, "title": "First", "score": 20.0}},
	})
	assert.Contains(t, res.Text, "# Weekly Report")
	assert.Contains(t, res.Text, "First")
}

func TestLocalUnknownTool(t *testing.T) {
	local, _ := newTestLocal(t)

	res := local.Call("compute.magic", nil)
	assert.Equal(t, "<unknown tool: compute.magic>", res.Text)
	assert.True(t, res.IsError)
}
