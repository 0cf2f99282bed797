package api

import (
	"time"

	"github.com/coder/websocket"
	echo "github.com/labstack/echo/v5"

	"github.com/agentos-io/agentcore/pkg/events"
	"github.com/agentos-io/agentcore/pkg/models"
	"github.com/agentos-io/agentcore/pkg/session"
)

// jobPollInterval is how often a job stream drains new console lines.
const jobPollInterval = 300 * time.Millisecond

// eventReplayGap spaces the finalized-event replay so slow clients keep
// frame order without queue pressure.
const eventReplayGap = 50 * time.Millisecond

// chatInitHistory is how much stored history a fresh chat stream gets.
const chatInitHistory = 50

// eventsHandler handles GET /agent/events, the live stream WebSocket.
// ?job_id follows one pipeline job to completion; ?session subscribes to
// a conversation channel. The manager's writer emits ping frames on idle
// either way.
func (s *Server) eventsHandler(c *echo.Context) error {
	conn, err := websocket.Accept(c.Response(), c.Request(), &websocket.AcceptOptions{
		// Browser clients connect from arbitrary origins in local
		// deployments; the admin guard protects the mutating surface.
		InsecureSkipVerify: true,
	})
	if err != nil {
		return nil
	}

	wsConn := s.events.Register(c.Request().Context(), conn)
	s.metrics.ConnectionOpened()
	defer func() {
		s.events.Unregister(wsConn)
		s.metrics.ConnectionClosed()
	}()

	query := c.Request().URL.Query()
	if jobID := query.Get("job_id"); jobID != "" {
		s.streamJob(wsConn, jobID)
		return nil
	}

	sessionID := query.Get("session")
	if sessionID == "" {
		sessionID = query.Get("session_id")
	}
	if sessionID == "" {
		sessionID = query.Get("chat_session")
	}
	if sessionID == "" {
		s.events.Send(wsConn, events.JobError("missing_job_id", nil))
		return nil
	}

	s.streamChat(c, wsConn, sessionID)
	return nil
}

// streamChat opens a conversation stream: stored history, an idle status,
// then whatever the publisher fans out until the peer leaves.
func (s *Server) streamChat(c *echo.Context, wsConn *events.Connection, sessionID string) {
	history, err := s.chatSvc.History(c.Request().Context(), sessionID, chatInitHistory)
	if err != nil {
		s.logger.Warn("chat stream history", "session", sessionID, "error", err)
	}
	if history == nil {
		history = []models.ChatMessage{}
	}
	s.events.Send(wsConn, events.ChatInit(sessionID, history))
	s.events.Send(wsConn, map[string]any{
		"type":    events.TypeChatStatus,
		"state":   "idle",
		"session": sessionID,
		"ts":      time.Now().UTC().Format(time.RFC3339),
	})

	s.events.Join(wsConn, events.ChatChannel(sessionID))
	<-wsConn.Done()
}

// streamJob cursor-polls one job's stream buffer onto the socket, then
// closes the stream with the episode events and the final result.
func (s *Server) streamJob(wsConn *events.Connection, jobID string) {
	job, err := s.jobs.Get(jobID)
	if err != nil {
		s.events.Send(wsConn, events.JobError("job_not_found", nil))
		return
	}

	s.events.Send(wsConn, events.JobStatus("pending", ""))

	cursor := 0
	ticker := time.NewTicker(jobPollInterval)
	defer ticker.Stop()
	for {
		entries := job.StreamSince(cursor)
		cursor += len(entries)
		for _, entry := range entries {
			if entry.Kind == "progress" && entry.Doc != nil {
				s.events.Send(wsConn, events.JobProgress(entry.Doc))
			} else {
				s.events.Send(wsConn, events.JobLog(entry))
			}
		}

		snap := job.Clone()
		if snap.Done {
			s.finishJobStream(wsConn, snap)
			return
		}

		select {
		case <-wsConn.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Server) finishJobStream(wsConn *events.Connection, snap session.Job) {
	if !snap.OK {
		message := snap.Error
		if message == "" {
			message = "run failed"
		}
		s.events.Send(wsConn, events.JobError(message, snap.Result))
	} else {
		s.events.Send(wsConn, events.JobStatus("completed", snap.TraceID))
	}

	for _, event := range snap.Events {
		select {
		case <-wsConn.Done():
			return
		case <-time.After(eventReplayGap):
		}
		s.events.Send(wsConn, events.JobEvent(event))
	}
	s.events.Send(wsConn, events.JobFinal(snap.Result, snap.TraceID, snap.Episode))
}
