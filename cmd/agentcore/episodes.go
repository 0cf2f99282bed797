package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agentos-io/agentcore/pkg/config"
	"github.com/agentos-io/agentcore/pkg/outbox"
	"github.com/agentos-io/agentcore/pkg/replay"
)

// newEpisodesCmd inspects the recorded episode corpus on whichever
// backend the configuration names.
func newEpisodesCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "episodes",
		Short: "List or show recorded episodes",
	}

	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List episodes, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, flags)
			if err != nil {
				return err
			}
			if cfg.Outbox.Backend == config.BackendSQLite {
				box, err := outbox.NewSQLiteOutbox(cfg.Outbox.SQLitePath, nil)
				if err != nil {
					return err
				}
				defer box.Close()
				rows, err := box.ListTraces(limit)
				if err != nil {
					return err
				}
				return printJSON(rows)
			}
			rows, err := replay.New(cfg.Outbox.EpisodesDir).List(limit)
			if err != nil {
				return err
			}
			return printJSON(rows)
		},
	}
	list.Flags().IntVar(&limit, "limit", 20, "Maximum episodes to list")

	show := &cobra.Command{
		Use:   "show <trace>",
		Short: "Print one episode by trace id or unique prefix",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, flags)
			if err != nil {
				return err
			}
			episode, err := loadEpisode(cfg, args[0])
			if err != nil {
				return err
			}
			return printJSON(episode)
		},
	}

	cmd.AddCommand(list, show)
	return cmd
}

func loadEpisode(cfg *config.Config, ref string) (*outbox.Episode, error) {
	if cfg.Outbox.Backend == config.BackendSQLite {
		box, err := outbox.NewSQLiteOutbox(cfg.Outbox.SQLitePath, nil)
		if err != nil {
			return nil, err
		}
		defer box.Close()
		episode, err := replay.LoadSQLite(box, ref)
		if err != nil {
			return nil, fmt.Errorf("load episode %q: %w", ref, err)
		}
		return episode, nil
	}
	episode, err := replay.New(cfg.Outbox.EpisodesDir).Load(ref)
	if err != nil {
		return nil, fmt.Errorf("load episode %q: %w", ref, err)
	}
	return episode, nil
}
