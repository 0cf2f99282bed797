package api

import (
	"time"

	"github.com/agentos-io/agentcore/pkg/masking"
	"github.com/agentos-io/agentcore/pkg/outbox"
	"github.com/agentos-io/agentcore/pkg/replay"
)

// episodeListing is one row of the corpus index, shape-compatible across
// both backends.
type episodeListing struct {
	TraceID  string `json:"trace_id"`
	Goal     string `json:"goal,omitempty"`
	Status   string `json:"status,omitempty"`
	Path     string `json:"path,omitempty"`
	Modified string `json:"modified,omitempty"`
}

// withSQLite runs fn over a freshly opened SQLite outbox and closes it.
func (s *Server) withSQLite(fn func(box *outbox.SQLiteOutbox) error) error {
	box, err := outbox.NewSQLiteOutbox(s.cfg.Outbox.SQLitePath, masking.NewService())
	if err != nil {
		return err
	}
	defer box.Close()
	return fn(box)
}

func (s *Server) sqliteBackend() bool {
	return s.cfg.Outbox.Backend == "sqlite"
}

// loadEpisode resolves ref (full trace id or unique prefix) against the
// configured backend.
func (s *Server) loadEpisode(ref string) (*outbox.Episode, error) {
	if s.sqliteBackend() {
		var ep *outbox.Episode
		err := s.withSQLite(func(box *outbox.SQLiteOutbox) error {
			var err error
			ep, err = replay.LoadSQLite(box, ref)
			return err
		})
		return ep, err
	}
	return replay.New(s.cfg.Outbox.EpisodesDir).Load(ref)
}

// listEpisodes indexes the corpus, newest first.
func (s *Server) listEpisodes(limit int) ([]episodeListing, error) {
	if s.sqliteBackend() {
		var out []episodeListing
		err := s.withSQLite(func(box *outbox.SQLiteOutbox) error {
			traces, err := box.ListTraces(limit)
			if err != nil {
				return err
			}
			for _, t := range traces {
				out = append(out, episodeListing{
					TraceID:  t.TraceID,
					Goal:     t.Goal,
					Status:   t.Status,
					Modified: t.CreatedTS,
				})
			}
			return nil
		})
		return out, err
	}

	listings, err := replay.New(s.cfg.Outbox.EpisodesDir).List(limit)
	if err != nil {
		return nil, err
	}
	out := make([]episodeListing, 0, len(listings))
	for _, l := range listings {
		out = append(out, episodeListing{
			TraceID:  l.TraceID,
			Path:     l.Path,
			Modified: l.Modified.UTC().Format(time.RFC3339),
		})
	}
	return out, nil
}

// appendToEpisode validates and appends one envelope document to the
// finalized episode behind traceID.
func (s *Server) appendToEpisode(traceID string, doc map[string]any) error {
	if s.sqliteBackend() {
		return s.withSQLite(func(box *outbox.SQLiteOutbox) error {
			return box.AppendToFinalized(traceID, doc)
		})
	}
	box, err := outbox.NewFileOutbox(s.cfg.Outbox.EpisodesDir, masking.NewService())
	if err != nil {
		return err
	}
	return box.AppendToFinalized(traceID, doc)
}

// openTraceOutbox opens a fresh outbox for a mini-trace on the configured
// backend. The returned close function releases the backend.
func (s *Server) openTraceOutbox() (outbox.Outbox, func(), error) {
	masker := masking.NewService()
	if s.sqliteBackend() {
		box, err := outbox.NewSQLiteOutbox(s.cfg.Outbox.SQLitePath, masker)
		if err != nil {
			return nil, nil, err
		}
		return box, func() { _ = box.Close() }, nil
	}
	box, err := outbox.NewFileOutbox(s.cfg.Outbox.EpisodesDir, masker)
	if err != nil {
		return nil, nil, err
	}
	return box, func() {}, nil
}
