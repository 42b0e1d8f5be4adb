// Package server exposes a Conduit session over HTTP.
//
// The server owns the column mapping between result sets and JSON — the
// session layer stays wire-format free. Statements and bind values are
// forwarded to the store verbatim: this is not a SQL front end, it speaks
// whatever dialect the configured store speaks.
//
// A single session backs all requests. The session's implicit transaction
// spans from a request's first Execute to its Commit/Rollback, so the whole
// window has to be held by one request at a time — txMu does that; wrapping
// the Conn with session.Serialize on top is still required for the handlers
// that touch it outside that window (health, tables).
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/koustreak/conduit/internal/errs"
	"github.com/koustreak/conduit/internal/export"
	"github.com/koustreak/conduit/internal/logger"
	"github.com/koustreak/conduit/internal/session"
)

// Config holds the server's request-handling settings.
type Config struct {
	// QueryTimeout bounds each statement's execution. Zero disables the
	// deadline.
	QueryTimeout time.Duration
}

// Server routes HTTP requests onto a session.Conn.
type Server struct {
	conn         session.Conn
	exporter     *export.Exporter // nil when no sink is configured
	queryTimeout time.Duration
	log          *logger.Logger
	router       chi.Router

	// txMu scopes the session's implicit transaction to one request:
	// execute → fetch → commit/rollback runs under it, so a concurrent
	// request can never commit (or discard) another request's work.
	txMu sync.Mutex
}

// New builds a Server. exporter may be nil, which disables /export; cfg may
// be nil, which disables the statement deadline.
func New(conn session.Conn, exporter *export.Exporter, cfg *Config, log *logger.Logger) *Server {
	if log == nil {
		log = logger.Nop()
	}
	s := &Server{
		conn:     conn,
		exporter: exporter,
		log:      log.Named("server"),
	}
	if cfg != nil {
		s.queryTimeout = cfg.QueryTimeout
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/healthz", s.handleHealth)
	r.Get("/tables", s.handleTables)
	r.Post("/query", s.handleQuery)
	r.Post("/export", s.handleExport)

	s.router = r
	return s
}

// Handler returns the root http.Handler.
func (s *Server) Handler() http.Handler { return s.router }

// --- handlers ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.conn.Ping(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleTables(w http.ResponseWriter, r *http.Request) {
	tables, err := s.conn.ListTables(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"tables": tables})
}

// queryRequest is the body of POST /query and POST /export.
type queryRequest struct {
	SQL    string `json:"sql"`
	Args   []any  `json:"args"`
	Commit bool   `json:"commit"`
	Format string `json:"format"` // /export only
}

// queryResponse is the body of a successful POST /query.
type queryResponse struct {
	Columns      []string `json:"columns,omitempty"`
	Rows         [][]any  `json:"rows,omitempty"`
	RowsAffected int64    `json:"rows_affected"`
	Committed    bool     `json:"committed"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeRequest(w, r)
	if !ok {
		return
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	cur, err := s.conn.Cursor()
	if err != nil {
		s.writeError(w, err)
		return
	}
	defer cur.Close()

	ctx, cancel := s.statementCtx(r.Context())
	defer cancel()

	if err := cur.Execute(ctx, req.SQL, req.Args...); err != nil {
		_ = s.conn.Rollback(r.Context())
		s.writeError(w, err)
		return
	}

	resp := queryResponse{RowsAffected: cur.RowsAffected()}

	if cur.State() == session.StateResults {
		rows, err := cur.FetchAll()
		if err != nil {
			_ = s.conn.Rollback(r.Context())
			s.writeError(w, err)
			return
		}
		resp.Columns = cur.Columns()
		resp.Rows = make([][]any, len(rows))
		for i, row := range rows {
			resp.Rows[i] = row.Values()
		}
	}

	// End the implicit transaction one way or the other; a dangling
	// transaction would hold locks across unrelated requests.
	if req.Commit {
		if err := s.conn.Commit(r.Context()); err != nil {
			s.writeError(w, err)
			return
		}
		resp.Committed = true
	} else if err := s.conn.Rollback(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	if s.exporter == nil {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"error": "no export sink configured",
		})
		return
	}

	req, ok := s.decodeRequest(w, r)
	if !ok {
		return
	}

	format := export.Format(req.Format)
	if !format.Valid() {
		s.writeError(w, errs.Newf(errs.ErrKindInvalidInput, "unsupported export format %q", req.Format))
		return
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	cur, err := s.conn.Cursor()
	if err != nil {
		s.writeError(w, err)
		return
	}
	defer cur.Close()

	ctx, cancel := s.statementCtx(r.Context())
	defer cancel()

	if err := cur.Execute(ctx, req.SQL, req.Args...); err != nil {
		_ = s.conn.Rollback(r.Context())
		s.writeError(w, err)
		return
	}
	rows, err := cur.FetchAll()
	if err != nil {
		_ = s.conn.Rollback(r.Context())
		s.writeError(w, err)
		return
	}
	if err := s.conn.Rollback(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}

	key, err := s.exporter.Export(r.Context(), rows, format)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"key": key, "rows": len(rows)})
}

// --- plumbing ---

// statementCtx bounds a statement with the configured query timeout. The
// deadline covers execution only; commit and rollback run on the request
// context so a timed-out statement can still be rolled back.
func (s *Server) statementCtx(parent context.Context) (context.Context, context.CancelFunc) {
	if s.queryTimeout <= 0 {
		return parent, func() {}
	}
	return context.WithTimeout(parent, s.queryTimeout)
}

func (s *Server) decodeRequest(w http.ResponseWriter, r *http.Request) (*queryRequest, bool) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, errs.Wrap(errs.ErrKindInvalidInput, "invalid request body", err))
		return nil, false
	}
	if req.SQL == "" {
		s.writeError(w, errs.New(errs.ErrKindInvalidInput, "sql must be set"))
		return nil, false
	}
	return &req, true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.log.Err(err).Warn("failed to write response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	var e *errs.Error
	kind := errs.ErrKindUnknown
	if errors.As(err, &e) {
		kind = e.Kind
	}
	s.writeJSON(w, statusFor(kind), map[string]any{
		"error": err.Error(),
		"kind":  kind.String(),
	})
}

// statusFor maps error kinds onto HTTP status codes.
func statusFor(kind errs.ErrKind) int {
	switch kind {
	case errs.ErrKindBindingMismatch, errs.ErrKindInvalidInput, errs.ErrKindQuery:
		return http.StatusBadRequest
	case errs.ErrKindNotFound:
		return http.StatusNotFound
	case errs.ErrKindState:
		return http.StatusConflict
	case errs.ErrKindConnection:
		return http.StatusBadGateway
	case errs.ErrKindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Str("method", r.Method).Str("path", r.URL.Path).
			Infof("%d in %s", ww.Status(), time.Since(start))
	})
}
