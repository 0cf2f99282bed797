package skills

import (
	"strconv"
	"strings"
)

func formatScore(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// MDRender renders the weekly Markdown report from an aggregation summary
// and its ranked top list.
func MDRender(summary Summary, top []TopItem, includeTable bool) string {
	lines := []string{
		"# Weekly Report",
		"",
		"## Summary",
		"- Count: " + strconv.Itoa(summary.Count),
		"- Total: " + formatScore(summary.Total),
		"- Average: " + formatScore(summary.Avg),
		"",
		"## Top Items",
	}
	if includeTable {
		lines = append(lines,
			"",
			"| Rank | Title | Score |",
			"| ---- | ----- | -----:|",
		)
		for _, item := range top {
			title := strings.ReplaceAll(item.Title, "|", `\|`)
			lines = append(lines, "| "+strconv.Itoa(item.Rank)+" | "+title+" | "+formatScore(item.Score)+" |")
		}
	}
	return strings.Join(lines, "\n") + "\n"
}
