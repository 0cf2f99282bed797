// Package api exposes the orchestration surface over HTTP: intake, runs,
// replay, approvals, episodes, chat, MCP tools, workflows and scheduled
// jobs, the workspace file API, the scoreboard, and the live event
// WebSocket. Handlers stay thin; domain behavior lives in the packages
// they call into.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/agentos-io/agentcore/pkg/chat"
	"github.com/agentos-io/agentcore/pkg/config"
	"github.com/agentos-io/agentcore/pkg/database"
	"github.com/agentos-io/agentcore/pkg/events"
	"github.com/agentos-io/agentcore/pkg/intake"
	"github.com/agentos-io/agentcore/pkg/mcp"
	"github.com/agentos-io/agentcore/pkg/services"
	"github.com/agentos-io/agentcore/pkg/session"
	"github.com/agentos-io/agentcore/pkg/workspace"
)

// Server is the HTTP surface. Construct with NewServer and run with Start.
type Server struct {
	echo    *echo.Echo
	httpSrv *http.Server
	cfg     *config.Config
	baseDir string
	logger  *slog.Logger

	dbClient  *database.Client
	jobs      *session.Manager
	chatAgent *chat.Agent
	chatSvc   *services.ChatService
	approvals *services.ApprovalService
	workflows *services.WorkflowService
	jobQueue  *services.JobService
	files     *workspace.Service
	mcpRouter *mcp.Router
	intake    *intake.Builder
	events    *events.Manager
	publisher *events.Publisher
	metrics   *Metrics
}

// Deps carries the wired components a Server serves. Config, DB and the
// job manager are required; nil optional fields disable their endpoints'
// deeper behavior but never panic.
type Deps struct {
	Config    *config.Config
	BaseDir   string
	DB        *database.Client
	Jobs      *session.Manager
	ChatAgent *chat.Agent
	Chat      *services.ChatService
	Approvals *services.ApprovalService
	Workflows *services.WorkflowService
	JobQueue  *services.JobService
	Workspace *workspace.Service
	MCP       *mcp.Router
	Intake    *intake.Builder
	Events    *events.Manager
	Metrics   *Metrics
	Logger    *slog.Logger
}

// NewServer builds the server and registers every route.
func NewServer(deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	evts := deps.Events
	if evts == nil {
		evts = events.NewManager(events.Options{Logger: logger})
	}
	m := deps.Metrics
	if m == nil {
		m = NewMetrics()
	}

	s := &Server{
		echo:      echo.New(),
		cfg:       deps.Config,
		baseDir:   deps.BaseDir,
		logger:    logger,
		dbClient:  deps.DB,
		jobs:      deps.Jobs,
		chatAgent: deps.ChatAgent,
		chatSvc:   deps.Chat,
		approvals: deps.Approvals,
		workflows: deps.Workflows,
		jobQueue:  deps.JobQueue,
		files:     deps.Workspace,
		mcpRouter: deps.MCP,
		intake:    deps.Intake,
		events:    evts,
		publisher: events.NewPublisher(evts),
		metrics:   m,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	e := s.echo
	e.Use(securityHeaders())
	e.Use(s.requestMetrics())

	e.GET("/healthz", s.healthzHandler)
	e.GET("/metrics", s.metricsHandler)
	e.GET("/download", s.downloadHandler)
	e.GET("/agent/events", s.eventsHandler)

	api := e.Group("/api")
	api.POST("/agent/intake", s.intakeHandler)
	api.POST("/run", s.runHandler)
	api.GET("/run/status", s.runStatusHandler)
	api.POST("/replay", s.replayHandler)
	api.POST("/rerun", s.rerunHandler)
	api.POST("/approve", s.approveHandler)
	api.GET("/approvals", s.approvalsHandler)
	api.GET("/episodes", s.episodesHandler)
	api.GET("/episodes/:trace_id", s.episodeHandler)

	api.POST("/chat/send", s.chatSendHandler)
	api.GET("/chat/history", s.chatHistoryHandler)
	api.POST("/chat/clear", s.chatClearHandler)

	api.GET("/mcp/tools", s.mcpToolsHandler)
	api.POST("/mcp/call", s.mcpCallHandler)

	api.GET("/scores/summary", s.scoresSummaryHandler)
	api.GET("/scores/group.csv", s.scoresGroupCSVHandler)
	api.GET("/scores/detail.csv", s.scoresDetailCSVHandler)

	api.GET("/ws/ls", s.workspaceListHandler)
	api.GET("/ws/read", s.workspaceReadHandler)
	api.POST("/ws/write", s.workspaceWriteHandler, s.adminGuard())

	api.GET("/config", s.configHandler)

	admin := api.Group("", s.adminGuard())
	admin.POST("/workflows", s.workflowCreateHandler)
	admin.GET("/workflows", s.workflowListHandler)
	admin.GET("/workflows/:id", s.workflowGetHandler)
	admin.POST("/jobs/schedule", s.jobScheduleHandler)
	admin.GET("/jobs", s.jobListHandler)
	admin.GET("/jobs/get", s.jobGetHandler)
	admin.POST("/jobs/retry", s.jobRetryHandler)
	admin.POST("/jobs/retry-step", s.jobRetryStepHandler)
}

// Start serves on addr until the listener fails or Shutdown runs.
func (s *Server) Start(addr string) error {
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.echo,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("http server listening", "addr", addr)
	return s.httpSrv.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// ServeHTTP lets the server act as a plain http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}
