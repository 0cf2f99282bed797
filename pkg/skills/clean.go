// Package skills implements the deterministic local skills the executor
// runs (CSV cleaning, score aggregation, Markdown report rendering) and the
// digest registry that pins skill assets to known hashes.
package skills

import "strings"

// Row is a single CSV record keyed by column name.
type Row map[string]string

// CSVClean trims surrounding whitespace from every value and, when
// dropEmpty is set, removes rows whose title or views column is empty
// after trimming.
func CSVClean(rows []Row, dropEmpty bool) []Row {
	out := make([]Row, 0, len(rows))
	for _, r := range rows {
		clean := make(Row, len(r))
		for k, v := range r {
			clean[k] = strings.TrimSpace(v)
		}
		if dropEmpty && (clean["title"] == "" || clean["views"] == "") {
			continue
		}
		out = append(out, clean)
	}
	return out
}
