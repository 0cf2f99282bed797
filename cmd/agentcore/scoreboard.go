package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agentos-io/agentcore/pkg/config"
	"github.com/agentos-io/agentcore/pkg/scoreboard"
)

// newScoreboardCmd projects the episode corpus into score rows and
// either exports them or answers a filtered query against an existing
// scores database.
func newScoreboardCmd(flags *rootFlags) *cobra.Command {
	var (
		episodesDir string
		episodesDB  string
		csvOut      string
		sqliteOut   string
		queryDB     string
		filter      scoreboard.Filter
	)

	cmd := &cobra.Command{
		Use:   "scoreboard",
		Short: "Export or query episode scores",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, flags)
			if err != nil {
				return err
			}

			if queryDB != "" {
				summary, err := scoreboard.Query(queryDB, filter)
				if err != nil {
					return err
				}
				return printJSON(summary)
			}

			rows, err := scanCorpus(cfg, episodesDir, episodesDB)
			if err != nil {
				return err
			}
			if csvOut != "" {
				if err := scoreboard.ExportCSV(rows, csvOut); err != nil {
					return err
				}
			}
			if sqliteOut != "" {
				if err := scoreboard.ExportSQLite(rows, sqliteOut); err != nil {
					return err
				}
			}
			if csvOut == "" && sqliteOut == "" {
				return printJSON(rows)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "exported %d rows\n", len(rows))
			return nil
		},
	}

	cmd.Flags().StringVar(&episodesDir, "episodes-dir", "", "Episode directory to scan (overrides scoreboard.episodes_dir)")
	cmd.Flags().StringVar(&episodesDB, "episodes-db", "", "SQLite episode store to scan instead of a directory")
	cmd.Flags().StringVar(&csvOut, "csv", "", "Write rows to a CSV file")
	cmd.Flags().StringVar(&sqliteOut, "sqlite", "", "Write rows to a scores SQLite database")
	cmd.Flags().StringVar(&queryDB, "query", "", "Query an existing scores database instead of scanning")
	cmd.Flags().StringVar(&filter.Model, "model", "", "Filter: model substring")
	cmd.Flags().StringVar(&filter.Provider, "provider", "", "Filter: provider substring")
	cmd.Flags().StringVar(&filter.Window, "window", "", "Filter: relative (7d, 24h) or RFC3339 lower bound")
	cmd.Flags().StringVar(&filter.GroupBy, "group-by", "", "Group rows by model or provider")
	cmd.Flags().IntVar(&filter.TopN, "top-n", 0, "Cap detail rows")
	return cmd
}

// scanCorpus picks the scan source: an explicit flag wins, then the
// configured backend.
func scanCorpus(cfg *config.Config, dir, db string) ([]scoreboard.Row, error) {
	switch {
	case db != "":
		return scoreboard.ScanSQLite(db)
	case dir != "":
		return scoreboard.ScanEpisodes(dir)
	case cfg.Outbox.Backend == config.BackendSQLite:
		return scoreboard.ScanSQLite(cfg.Outbox.SQLitePath)
	default:
		episodes := cfg.Scoreboard.EpisodesDir
		if episodes == "" {
			episodes = cfg.Outbox.EpisodesDir
		}
		return scoreboard.ScanEpisodes(episodes)
	}
}
