package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentos-io/agentcore/pkg/api"
	"github.com/agentos-io/agentcore/pkg/chat"
	"github.com/agentos-io/agentcore/pkg/config"
	"github.com/agentos-io/agentcore/pkg/database"
	"github.com/agentos-io/agentcore/pkg/events"
	"github.com/agentos-io/agentcore/pkg/intake"
	"github.com/agentos-io/agentcore/pkg/llm"
	"github.com/agentos-io/agentcore/pkg/masking"
	"github.com/agentos-io/agentcore/pkg/mcp"
	"github.com/agentos-io/agentcore/pkg/outbox"
	"github.com/agentos-io/agentcore/pkg/replay"
	"github.com/agentos-io/agentcore/pkg/runner"
	"github.com/agentos-io/agentcore/pkg/scheduler"
	"github.com/agentos-io/agentcore/pkg/services"
	"github.com/agentos-io/agentcore/pkg/session"
	"github.com/agentos-io/agentcore/pkg/version"
	"github.com/agentos-io/agentcore/pkg/workspace"
)

// shutdownTimeout bounds the graceful drain of the scheduler and the
// HTTP server at exit.
const shutdownTimeout = 10 * time.Second

func newServeCmd(flags *rootFlags) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, job scanner and chat agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, flags)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}
			return runServe(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides server.addr)")
	return cmd
}

func runServe(ctx context.Context, cfg *config.Config) error {
	logger := slog.Default()
	baseDir, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("resolve working directory: %w", err)
	}

	slog.Info("Starting agentcore",
		"version", version.Full(),
		"addr", cfg.Server.Addr,
		"outbox_backend", cfg.Outbox.Backend)

	// Chat store
	db, err := database.NewClient(ctx, database.Config{Path: cfg.Server.ChatDBPath})
	if err != nil {
		return fmt.Errorf("open chat store: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			slog.Error("Error closing chat store", "error", err)
		}
	}()

	chatSvc := services.NewChatService(db)
	approvals := services.NewApprovalService(db)
	workflows := services.NewWorkflowService(db)
	jobQueue := services.NewJobService(db)

	files, err := workspace.NewService(cfg.Workspace, baseDir)
	if err != nil {
		return fmt.Errorf("init workspace: %w", err)
	}

	// Model provider. A missing key is tolerated at startup; the chat
	// agent degrades per turn and intake skips refinement instead.
	var provider llm.ChatProvider
	var refiner llm.ChatProvider
	client, err := llm.NewRouter(llm.ProviderConfig{
		Provider: cfg.LLM.Provider,
		BaseURL:  cfg.LLM.BaseURL,
		Model:    cfg.LLM.Model,
		APIKey:   cfg.LLM.APIKey,
		Seed:     cfg.LLM.Seed,
	})
	if err != nil {
		slog.Warn("LLM provider unavailable, chat runs in degraded mode", "error", err)
		provider = unavailableProvider{err: err}
	} else {
		provider = client
		refiner = client
	}

	// MCP routing: remote client over configured servers, local tools as
	// the fallback unless require_remote forbids it.
	mcpRouter := mcp.NewRouter(mcp.NewClient(cfg.MCP), mcp.NewLocal(baseDir), cfg.MCP)

	masker := masking.NewService()
	chatAgent := chat.New(provider, mcpRouter, chat.Options{
		AutoProceed: cfg.Agent.AutoProceedEnabled(),
		MaxLoops:    cfg.Agent.ReactLoops,
		Temperature: cfg.LLM.Temperature.ExecutorValue(),
		Retries:     cfg.LLM.RetryCount(),
		Traces:      traceFactory(cfg, masker),
		Drafts:      files,
		Logger:      logger,
	})

	intakeBuilder := &intake.Builder{
		Provider:    refiner,
		Temperature: cfg.LLM.IntakeTemperature,
		Retries:     cfg.LLM.RetryCount(),
		Logger:      logger,
	}

	metrics := api.NewMetrics()

	// Background jobs run the pipeline in-process; the job stream doubles
	// as the run's logger.
	jobs := session.NewManager(session.Options{
		Runner: func(job *session.Job) runner.PipelineRunner {
			return &runner.InProcess{Config: cfg, Logger: job.Logger()}
		},
		Episodes:   episodeLoader(cfg),
		Locate:     episodeLocator(cfg),
		OnComplete: metrics.ObserveJob,
	})

	// Scheduled workflows share the in-process runner.
	scanner := scheduler.New(jobQueue, workflows, &runner.InProcess{Config: cfg, Logger: logger}, scheduler.Options{Logger: logger})
	scanner.Start(ctx)
	defer scanner.Stop()

	httpServer := api.NewServer(api.Deps{
		Config:    cfg,
		BaseDir:   baseDir,
		DB:        db,
		Jobs:      jobs,
		ChatAgent: chatAgent,
		Intake:    intakeBuilder,
		Chat:      chatSvc,
		Approvals: approvals,
		Workflows: workflows,
		JobQueue:  jobQueue,
		Workspace: files,
		MCP:       mcpRouter,
		Events:    events.NewManager(events.Options{Logger: logger}),
		Metrics:   metrics,
		Logger:    logger,
	})

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", cfg.Server.Addr)
		if err := httpServer.Start(cfg.Server.Addr); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	case <-ctx.Done():
		slog.Info("Context cancelled, shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
	return nil
}

// traceFactory opens a fresh outbox per chat tool-call mini-trace, on
// whichever backend the configuration names.
func traceFactory(cfg *config.Config, masker *masking.Service) chat.TraceFactory {
	return func() (outbox.Outbox, func(), error) {
		if cfg.Outbox.Backend == config.BackendSQLite {
			box, err := outbox.NewSQLiteOutbox(cfg.Outbox.SQLitePath, masker)
			if err != nil {
				return nil, nil, err
			}
			return box, func() { _ = box.Close() }, nil
		}
		box, err := outbox.NewFileOutbox(cfg.Outbox.EpisodesDir, masker)
		if err != nil {
			return nil, nil, err
		}
		return box, func() {}, nil
	}
}

// episodeLoader resolves finalized episodes for job snapshots.
func episodeLoader(cfg *config.Config) session.EpisodeLoader {
	if cfg.Outbox.Backend == config.BackendSQLite {
		return session.EpisodeLoaderFunc(func(ref string) (*outbox.Episode, error) {
			box, err := outbox.NewSQLiteOutbox(cfg.Outbox.SQLitePath, nil)
			if err != nil {
				return nil, err
			}
			defer box.Close()
			return replay.LoadSQLite(box, ref)
		})
	}
	eng := replay.New(cfg.Outbox.EpisodesDir)
	return session.EpisodeLoaderFunc(eng.Load)
}

// unavailableProvider stands in when no model credentials are
// configured. Every call fails, which the chat agent turns into a
// degraded but usable reply.
type unavailableProvider struct{ err error }

func (p unavailableProvider) ChatWithMeta(context.Context, []llm.Message, llm.Options) (string, llm.Meta, error) {
	return "", llm.Meta{}, p.err
}

func episodeLocator(cfg *config.Config) func(traceID string) string {
	if cfg.Outbox.Backend == config.BackendSQLite {
		return func(string) string { return cfg.Outbox.SQLitePath }
	}
	return func(traceID string) string {
		return filepath.Join(cfg.Outbox.EpisodesDir, traceID+".json")
	}
}
