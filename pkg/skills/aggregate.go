package skills

import (
	"math"
	"sort"
	"strconv"
	"strings"
)

// Summary describes the aggregated score column.
type Summary struct {
	Count int     `json:"count"`
	Total float64 `json:"total"`
	Avg   float64 `json:"avg"`
}

// TopItem is one ranked entry of the aggregation output.
type TopItem struct {
	Rank  int     `json:"rank"`
	Title string  `json:"title"`
	Score float64 `json:"score"`
}

// AggregateResult is the output of StatsAggregate.
type AggregateResult struct {
	Summary Summary   `json:"summary"`
	Top     []TopItem `json:"top"`
}

// toNumber parses a score value leniently: surrounding whitespace and
// thousands separators are ignored, anything unparseable counts as zero.
func toNumber(s string) float64 {
	v, err := strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(s), ",", ""), 64)
	if err != nil {
		return 0
	}
	return v
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// StatsAggregate computes count/total/average over the scoreBy column and
// ranks rows by score descending. Ties keep input order. Rows whose title
// is empty are skipped in the top list but still occupy their rank slot,
// matching how the ranking is numbered by position.
func StatsAggregate(rows []Row, topN int, scoreBy, titleField string) AggregateResult {
	n := len(rows)
	total := 0.0
	for _, r := range rows {
		total += toNumber(r[scoreBy])
	}
	avg := 0.0
	if n > 0 {
		avg = total / float64(n)
	}

	ranked := make([]TopItem, 0, n)
	for _, r := range rows {
		ranked = append(ranked, TopItem{Title: r[titleField], Score: toNumber(r[scoreBy])})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Score > ranked[j].Score })

	limit := topN
	if limit < 0 {
		limit = 0
	}
	if limit > len(ranked) {
		limit = len(ranked)
	}
	top := make([]TopItem, 0, limit)
	for i := 0; i < limit; i++ {
		if ranked[i].Title == "" {
			continue
		}
		top = append(top, TopItem{Rank: i + 1, Title: ranked[i].Title, Score: ranked[i].Score})
	}

	return AggregateResult{
		Summary: Summary{Count: n, Total: round2(total), Avg: round2(avg)},
		Top:     top,
	}
}
