// Agentcore binary entry point. The serve command runs the HTTP API,
// job scanner and chat agent in one process; the remaining commands are
// one-shot pipeline operations sharing the same configuration.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/agentos-io/agentcore/pkg/config"
	"github.com/agentos-io/agentcore/pkg/version"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// rootFlags are shared by every subcommand.
type rootFlags struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	cmd := &cobra.Command{
		Use:           "agentcore",
		Short:         "Closed-loop agent orchestration",
		Long:          "Agentcore plans, executes and reviews data tasks in a closed loop,\nrecords every run as a replayable episode, and serves the whole surface\nover HTTP.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			setupLogging(flags.logLevel)
			loadDotEnv()
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", getEnv("AGENTCORE_CONFIG", "config.json"), "Path to configuration file (JSON)")
	cmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	cmd.AddCommand(
		newServeCmd(flags),
		newRunCmd(flags),
		newReplayCmd(flags),
		newReplaySQLiteCmd(flags),
		newScoreboardCmd(flags),
		newRegistryCmd(flags),
		newEpisodesCmd(flags),
		newVersionCmd(),
	)
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version.Full())
		},
	}
}

// setupLogging routes slog to stderr so command stdout stays reserved
// for JSON result documents.
func setupLogging(level string) {
	lvl := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)
}

func loadDotEnv() {
	if err := godotenv.Load(); err == nil {
		slog.Debug("Loaded environment", "path", ".env")
	}
}

// loadConfig initializes configuration for one command run. A missing
// file is fine; compiled defaults apply.
func loadConfig(cmd *cobra.Command, flags *rootFlags) (*config.Config, error) {
	cfg, err := config.Initialize(cmd.Context(), flags.configPath)
	if err != nil {
		return nil, fmt.Errorf("initialize configuration: %w", err)
	}
	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
