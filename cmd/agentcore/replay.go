package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agentos-io/agentcore/pkg/runner"
)

// newReplayCmd resolves an episode from the configured backend and
// prints its saved verdict, or re-executes it with --rerun.
func newReplayCmd(flags *rootFlags) *cobra.Command {
	var req runner.ReplayRequest

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Review or re-execute a recorded episode",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, flags)
			if err != nil {
				return err
			}
			if req.Trace == "" && !req.Last {
				return fmt.Errorf("--trace or --last is required")
			}
			doc, err := runner.ExecuteReplay(cmd.Context(), cfg, req)
			if err != nil {
				return err
			}
			return printJSON(doc)
		},
	}

	cmd.Flags().StringVar(&req.Trace, "trace", "", "Trace id or unique prefix")
	cmd.Flags().BoolVar(&req.Last, "last", false, "Use the most recent episode")
	cmd.Flags().BoolVar(&req.Rerun, "rerun", false, "Re-execute instead of reviewing")
	cmd.Flags().StringVar(&req.Out, "out", "", "Report output path for --rerun")
	return cmd
}

// newReplaySQLiteCmd is replay pinned to an explicit relational store,
// regardless of the configured backend.
func newReplaySQLiteCmd(flags *rootFlags) *cobra.Command {
	var req runner.ReplayRequest

	cmd := &cobra.Command{
		Use:   "replay-sqlite",
		Short: "Review or re-execute an episode from a SQLite store",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, flags)
			if err != nil {
				return err
			}
			if req.DBPath == "" {
				req.DBPath = cfg.Outbox.SQLitePath
			}
			if req.Trace == "" && !req.Last {
				return fmt.Errorf("--trace or --last is required")
			}
			doc, err := runner.ExecuteReplay(cmd.Context(), cfg, req)
			if err != nil {
				return err
			}
			return printJSON(doc)
		},
	}

	cmd.Flags().StringVar(&req.DBPath, "db", "", "SQLite episode store path")
	cmd.Flags().StringVar(&req.Trace, "trace", "", "Trace id or unique prefix")
	cmd.Flags().BoolVar(&req.Last, "last", false, "Use the most recent episode")
	cmd.Flags().BoolVar(&req.Rerun, "rerun", false, "Re-execute instead of reviewing")
	cmd.Flags().StringVar(&req.Out, "out", "", "Report output path for --rerun")
	return cmd
}
