// Package server is the HTTP adapter over the world manager: CRUD for
// worlds, agents, and chats, message publishing, SSE streaming, and the
// approval/HITL response endpoints.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/agent-world/agent-world/internal/manager"
	"github.com/agent-world/agent-world/internal/observability"
	"github.com/agent-world/agent-world/internal/sse"
	"github.com/agent-world/agent-world/internal/store"
)

// Options configure the server.
type Options struct {
	Addr string

	// IdleTimeout and IdleGrace are passed through to the SSE layer.
	IdleTimeout time.Duration
	IdleGrace   time.Duration
}

// Server serves the HTTP API.
type Server struct {
	manager  *manager.Manager
	streamer *sse.Streamer
	metrics  *observability.Metrics
	logger   *slog.Logger
	opts     Options

	httpServer *http.Server
}

// New creates a server. Metrics may be nil to disable collection.
func New(m *manager.Manager, metrics *observability.Metrics, logger *slog.Logger, opts Options) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		manager:  m,
		streamer: sse.NewStreamer(logger),
		metrics:  metrics,
		logger:   logger.With("component", "server"),
		opts:     opts,
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealthz)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}

	mux.HandleFunc("POST /api/worlds", s.handleCreateWorld)
	mux.HandleFunc("GET /api/worlds", s.handleListWorlds)
	mux.HandleFunc("GET /api/worlds/{worldID}", s.handleGetWorld)
	mux.HandleFunc("PUT /api/worlds/{worldID}", s.handleUpdateWorld)
	mux.HandleFunc("DELETE /api/worlds/{worldID}", s.handleDeleteWorld)
	mux.HandleFunc("GET /api/worlds/{worldID}/export", s.handleExportWorld)
	mux.HandleFunc("POST /api/worlds/import", s.handleImportWorld)

	mux.HandleFunc("POST /api/worlds/{worldID}/agents", s.handleCreateAgent)
	mux.HandleFunc("GET /api/worlds/{worldID}/agents", s.handleListAgents)
	mux.HandleFunc("PATCH /api/worlds/{worldID}/agents/{agentID}", s.handleUpdateAgent)
	mux.HandleFunc("DELETE /api/worlds/{worldID}/agents/{agentID}", s.handleDeleteAgent)

	mux.HandleFunc("POST /api/worlds/{worldID}/chats", s.handleCreateChat)
	mux.HandleFunc("GET /api/worlds/{worldID}/chats", s.handleListChats)
	mux.HandleFunc("DELETE /api/worlds/{worldID}/chats/{chatID}", s.handleDeleteChat)
	mux.HandleFunc("PUT /api/worlds/{worldID}/current-chat", s.handleSetCurrentChat)
	mux.HandleFunc("POST /api/worlds/{worldID}/chats/{chatID}/branch", s.handleBranchChat)

	mux.HandleFunc("GET /api/worlds/{worldID}/events", s.handleGetEvents)
	mux.HandleFunc("POST /api/worlds/{worldID}/messages", s.handlePublishMessage)
	mux.HandleFunc("POST /api/worlds/{worldID}/messages/{messageID}/edit", s.handleEditMessage)
	mux.HandleFunc("GET /api/worlds/{worldID}/stream", s.handleStream)

	mux.HandleFunc("GET /api/worlds/{worldID}/hitl", s.handleListHITL)
	mux.HandleFunc("POST /api/worlds/{worldID}/hitl", s.handleResolveHITL)
	mux.HandleFunc("POST /api/worlds/{worldID}/approvals", s.handleApprovalDecision)

	return mux
}

// Start listens and serves until Shutdown.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("http listen: %w", err)
	}
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.logger.Info("http server listening", "addr", listener.Addr().String())
	if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains open connections.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		_ = json.NewEncoder(w).Encode(payload)
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, store.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, store.ErrValidation):
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func errValidationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", store.ErrValidation, fmt.Sprintf(format, args...))
}

func decodeBody(r *http.Request, dst any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: invalid request body: %v", store.ErrValidation, err)
	}
	return nil
}
