package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/BrandonDHaskell/gradebridge/internal/gradebridge/service"
	"github.com/BrandonDHaskell/gradebridge/internal/gradebridge/store"
	"github.com/BrandonDHaskell/gradebridge/internal/gradebridge/types"
)

const (
	defaultRecentLimit = 50
	maxRecentLimit     = 500
)

type Dependencies struct {
	Logger zerolog.Logger
	Addr   string
	Status *service.Status
	Cursor store.CursorStore
	// Audit is optional; without it the audit routes answer 503.
	Audit store.AuditReader
}

type Server struct {
	httpServer *http.Server
	logger     zerolog.Logger
	router     *chi.Mux
	status     *service.Status
	cursor     store.CursorStore
	audit      store.AuditReader
}

func NewServer(d Dependencies) *Server {
	s := &Server{
		logger: d.Logger.With().Str("component", "httpapi").Logger(),
		router: chi.NewRouter(),
		status: d.Status,
		cursor: d.Cursor,
		audit:  d.Audit,
	}
	if s.status == nil {
		s.status = service.NewStatus()
	}

	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Recoverer)
	s.router.Use(loggingMiddleware(s.logger))

	s.router.Get("/healthz", s.handleHealth)
	s.router.Route("/v1", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/audit/recent", s.handleAuditRecent)
	})

	s.httpServer = &http.Server{
		Addr:              d.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return s
}

func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	snap := s.status.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":      true,
		"running": snap.Running,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap := s.status.Snapshot()

	fields := map[string]any{
		"running":         snap.Running,
		"cycles":          float64(snap.Cycles),
		"total_attempted": float64(snap.TotalAttempted),
		"total_succeeded": float64(snap.TotalSucceeded),
		"total_failed":    float64(snap.TotalFailed),
		"last_cycle":      cycleFields(snap.LastCycle),
		"server_time":     time.Now().UTC().Format(time.RFC3339Nano),
	}
	if snap.LastError != "" {
		fields["last_error"] = snap.LastError
		fields["last_error_at"] = formatTime(snap.LastErrorAt)
	}

	if s.cursor != nil {
		cursor, ok, err := s.cursor.Load(r.Context())
		if err != nil {
			s.logger.Error().Err(err).Msg("status: load cursor")
			writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
			return
		}
		if ok {
			fields["cursor"] = cursor
		}
	}

	if s.audit != nil {
		sum, err := s.audit.Summary(r.Context())
		if err != nil {
			s.logger.Error().Err(err).Msg("status: audit summary")
			writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
			return
		}
		fields["audit"] = map[string]any{
			"total":          float64(sum.Total),
			"succeeded":      float64(sum.Succeeded),
			"failed":         float64(sum.Failed),
			"last_attempted": formatTime(sum.LastAttempted),
		}
	}

	writeStruct(w, r, http.StatusOK, fields)
}

type auditEntryJSON struct {
	types.AuditEntry
	Payload string `json:"payload,omitempty"`
}

func (s *Server) handleAuditRecent(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeError(w, http.StatusServiceUnavailable, "audit_unavailable", "audit mirror is not configured")
		return
	}

	limit := defaultRecentLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		limit = min(n, maxRecentLimit)
	}

	entries, err := s.audit.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("audit recent")
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
		return
	}

	// Payloads are ciphertext; they stay in the audit file unless asked for.
	withPayload := r.URL.Query().Get("payload") == "1"
	out := make([]auditEntryJSON, 0, len(entries))
	for _, e := range entries {
		item := auditEntryJSON{AuditEntry: e}
		if withPayload {
			item.Payload = e.Payload
		}
		out = append(out, item)
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": out})
}

func cycleFields(c service.CycleResult) map[string]any {
	if c.CycleID == "" {
		return map[string]any{}
	}
	return map[string]any{
		"cycle_id":    c.CycleID,
		"started_at":  formatTime(c.StartedAt),
		"finished_at": formatTime(c.FinishedAt),
		"fetched":     float64(c.Fetched),
		"attempted":   float64(c.Attempted),
		"succeeded":   float64(c.Succeeded),
		"failed":      float64(c.Failed),
		"interrupted": c.Interrupted,
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
