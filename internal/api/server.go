// Package api implements the portal's HTTP API: conversations, chat
// streaming over SSE and WebSocket, transcript export, and the daily
// feeds.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/nugget/laopeng-portal/internal/agent"
	"github.com/nugget/laopeng-portal/internal/agents"
	"github.com/nugget/laopeng-portal/internal/buildinfo"
	"github.com/nugget/laopeng-portal/internal/config"
	"github.com/nugget/laopeng-portal/internal/conversation"
	"github.com/nugget/laopeng-portal/internal/feeds"
	"github.com/nugget/laopeng-portal/internal/llm"
)

// WarningHeader is set on responses whose mutation succeeded in memory
// but could not be persisted.
const WarningHeader = "X-Laopeng-Warning"

// streamWriteTimeout bounds each write to a streaming client; it is
// extended after every event.
const streamWriteTimeout = 120 * time.Second

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// Deps are the components the server exposes.
type Deps struct {
	Store    *conversation.Store
	Catalog  *agents.Catalog
	Session  *agent.Session
	Feeds    *feeds.Service
	Defaults config.ListenConfig
}

// Server is the HTTP API server.
type Server struct {
	address   string
	port      int
	publicURL string
	store     *conversation.Store
	catalog   *agents.Catalog
	session   *agent.Session
	feeds     *feeds.Service
	logger    *slog.Logger
	server    *http.Server
}

// NewServer creates a new API server.
func NewServer(deps Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		address:   deps.Defaults.Address,
		port:      deps.Defaults.Port,
		publicURL: deps.Defaults.PublicURL,
		store:     deps.Store,
		catalog:   deps.Catalog,
		session:   deps.Session,
		feeds:     deps.Feeds,
		logger:    logger.With("component", "api"),
	}
}

// Handler returns the routed handler, wrapped with request logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /v1/version", s.handleVersion)

	mux.HandleFunc("GET /v1/agents", s.handleAgents)

	mux.HandleFunc("GET /v1/conversations", s.handleConversationList)
	mux.HandleFunc("POST /v1/conversations", s.handleConversationCreate)
	mux.HandleFunc("GET /v1/conversations/{id}", s.handleConversationGet)
	mux.HandleFunc("PATCH /v1/conversations/{id}", s.handleConversationUpdate)
	mux.HandleFunc("DELETE /v1/conversations/{id}", s.handleConversationDelete)
	mux.HandleFunc("POST /v1/conversations/{id}/activate", s.handleConversationActivate)
	mux.HandleFunc("GET /v1/conversations/{id}/ws", s.handleChatSocket)
	mux.HandleFunc("GET /v1/conversations/{id}/export", s.handleExport)
	mux.HandleFunc("GET /v1/conversations/{id}/qr", s.handleQR)

	mux.HandleFunc("POST /v1/chat", s.handleChat)

	mux.HandleFunc("GET /v1/feeds/home", s.handleHomeFeed)
	mux.HandleFunc("GET /v1/feeds/news", s.handleNewsFeed)

	return s.withLogging(mux)
}

// Start begins serving HTTP requests. It returns when the server stops.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.address, s.port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      streamWriteTimeout,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
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

// statusRecorder captures the response status for request logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Unwrap exposes the underlying writer to http.ResponseController and
// the WebSocket upgrader.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// Hijack lets the WebSocket upgrader take over the connection.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	r.status = http.StatusSwitchingProtocols
	return http.NewResponseController(r.ResponseWriter).Hijack()
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
		)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{"status": "healthy"}, s.logger)
}

func (s *Server) handleVersion(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, buildinfo.RuntimeInfo(), s.logger)
}

func (s *Server) handleAgents(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{"agents": s.catalog.List()}, s.logger)
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

// statusFor maps a domain error to an HTTP status.
func statusFor(err error) int {
	var apiErr *llm.APIError
	switch {
	case errors.Is(err, conversation.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, agent.ErrSendInFlight):
		return http.StatusConflict
	case errors.Is(err, config.ErrMissingAPIKey):
		return http.StatusServiceUnavailable
	case errors.As(err, &apiErr), errors.Is(err, agent.ErrMaxRounds), errors.Is(err, llm.ErrMalformedResponse):
		return http.StatusBadGateway
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// warnPersist marks the response when err is a persistence failure and
// reports whether err was nil or only that.
func warnPersist(w http.ResponseWriter, err error) bool {
	if err == nil {
		return true
	}
	if conversation.IsPersistError(err) {
		w.Header().Set(WarningHeader, "persistence failed")
		return true
	}
	return false
}
