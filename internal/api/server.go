// Package api implements the HTTP and websocket API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/farrosalferro/fashion-recommender/internal/agent"
	"github.com/farrosalferro/fashion-recommender/internal/buildinfo"
	"github.com/farrosalferro/fashion-recommender/internal/connwatch"
	"github.com/farrosalferro/fashion-recommender/internal/imageref"
	"github.com/farrosalferro/fashion-recommender/internal/session"
	"github.com/farrosalferro/fashion-recommender/internal/tools"
	"github.com/farrosalferro/fashion-recommender/internal/usage"
)

// RequestIDHeader carries the turn's request id in both directions.
const RequestIDHeader = "X-Request-Id"

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// Server is the HTTP API server.
type Server struct {
	address string
	port    int
	chat    *agent.Service
	usage   *usage.Store
	metrics http.Handler
	health  HealthReporter
	logger  *slog.Logger
	server  *http.Server

	upgrader websocket.Upgrader
}

// NewServer creates a new API server.
func NewServer(address string, port int, chat *agent.Service, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		address: address,
		port:    port,
		chat:    chat,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// SetUsageStore enables the usage summary endpoint.
func (s *Server) SetUsageStore(u *usage.Store) {
	s.usage = u
}

// HealthReporter reports the reachability of the agent's backends.
type HealthReporter interface {
	Status() []connwatch.Status
	Ready() bool
}

// SetHealthReporter adds backend status to /health.
func (s *Server) SetHealthReporter(h HealthReporter) {
	s.health = h
}

// SetMetricsHandler mounts h at /metrics.
func (s *Server) SetMetricsHandler(h http.Handler) {
	s.metrics = h
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.withRequestID)
	r.Use(middleware.RealIP)
	r.Use(s.withLogging)
	r.Use(middleware.Recoverer)

	r.Get("/", s.handleRoot)
	r.Get("/health", s.handleHealth)
	r.Get("/v1/version", s.handleVersion)
	r.Get("/v1/usage", s.handleUsage)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics)
	}

	r.Post("/chat", s.handleChat)
	r.Get("/chat/ws", s.handleChatWS)

	r.Route("/session/{id}", func(r chi.Router) {
		r.Get("/", s.handleSessionGet)
		r.Delete("/", s.handleSessionDelete)
		r.Get("/transcript", s.handleTranscript)
	})
	return r
}

// Start begins serving HTTP requests.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:        fmt.Sprintf("%s:%d", s.address, s.port),
		Handler:     s.Handler(),
		ReadTimeout: 30 * time.Second,
		// A turn may run several tool rounds; the websocket route also
		// needs an unbounded write window.
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	addr := s.address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.logger.Info("starting API server", "address", addr, "port", s.port)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// withRequestID attaches a request id to the context: the client's
// X-Request-Id when present, otherwise a fresh one.
func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" || len(id) > 64 {
			id = agent.NewRequestID()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(tools.WithRequestID(r.Context(), id)))
	})
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"request_id", tools.RequestIDFromContext(r.Context()),
			"remote", r.RemoteAddr,
			"duration", time.Since(start),
		)
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{
		"name":    "fashion",
		"version": buildinfo.Version,
		"status":  "ok",
	}, s.logger)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, buildinfo.Info(), s.logger)
}

// HealthResponse is the body of GET /health. The server itself answers
// 200 while a backend is down, reporting "degraded".
type HealthResponse struct {
	Status   string             `json:"status"`
	Backends []connwatch.Status `json:"backends,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "healthy"}
	if s.health != nil {
		resp.Backends = s.health.Status()
		if !s.health.Ready() {
			resp.Status = "degraded"
		}
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, resp, s.logger)
}

// handleChat runs one turn.
// POST /chat {"query": "find me a black jacket", "session_id": "..."}
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req agent.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}

	resp, err := s.chat.Chat(r.Context(), req, nil)
	if err != nil {
		code := statusFor(err)
		if code == http.StatusInternalServerError {
			s.logger.Error("chat turn failed", "session", req.SessionID, "error", err)
		}
		s.errorResponse(w, code, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, resp, s.logger)
}

func (s *Server) handleSessionGet(w http.ResponseWriter, r *http.Request) {
	snap, err := s.chat.SessionData(chi.URLParam(r, "id"))
	if err != nil {
		s.errorResponse(w, statusFor(err), err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, snap, s.logger)
}

func (s *Server) handleSessionDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.chat.Cleanup(chi.URLParam(r, "id")); err != nil {
		s.errorResponse(w, statusFor(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	snap, err := s.chat.SessionData(chi.URLParam(r, "id"))
	if err != nil {
		s.errorResponse(w, statusFor(err), err.Error())
		return
	}
	page, err := renderTranscript(snap)
	if err != nil {
		s.logger.Error("transcript render failed", "session", snap.SessionID, "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "render failed")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if _, err := w.Write(page); err != nil {
		s.logger.Debug("failed to write transcript", "error", err)
	}
}

// UsageResponse is the body of GET /v1/usage.
type UsageResponse struct {
	Start     time.Time                 `json:"start"`
	End       time.Time                 `json:"end"`
	Total     *usage.Summary            `json:"total"`
	ByModel   map[string]*usage.Summary `json:"by_model"`
	ByPurpose map[string]*usage.Summary `json:"by_purpose"`
	BySession map[string]*usage.Summary `json:"by_session,omitempty"`
}

// handleUsage reports token usage over the last ?hours= (default 24).
// ?by=session adds per-session totals.
func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	if s.usage == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "usage tracking not configured")
		return
	}

	hours := 24
	if v := r.URL.Query().Get("hours"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.errorResponse(w, http.StatusBadRequest, "hours must be a positive integer")
			return
		}
		hours = n
	}
	bySession := false
	switch by := r.URL.Query().Get("by"); by {
	case "":
	case "session":
		bySession = true
	default:
		s.errorResponse(w, http.StatusBadRequest, "unknown usage grouping: "+by)
		return
	}
	end := time.Now().UTC()
	start := end.Add(-time.Duration(hours) * time.Hour)

	resp := UsageResponse{Start: start, End: end}
	var err error
	if resp.Total, err = s.usage.Summary(start, end); err == nil {
		if resp.ByModel, err = s.usage.SummaryByModel(start, end); err == nil {
			resp.ByPurpose, err = s.usage.SummaryByPurpose(start, end)
		}
	}
	if err == nil && bySession {
		resp.BySession, err = s.usage.SummaryBySession(start, end)
	}
	if err != nil {
		s.logger.Error("usage query failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "usage query failed")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, resp, s.logger)
}

// statusFor maps turn and session errors to HTTP status codes.
func statusFor(err error) int {
	var ve *imageref.ValidationError
	switch {
	case errors.As(err, &ve), errors.Is(err, agent.ErrEmptyQuery):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) errorResponse(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	writeJSON(w, map[string]any{
		"error": map[string]any{
			"message": message,
			"code":    code,
		},
	}, s.logger)
}
