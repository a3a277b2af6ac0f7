// Package gateway exposes the orchestrator over HTTP and WebSocket: task
// submission, org management, the HITL review API, and a per-org live event
// feed.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/aiorg/internal/bus"
	"github.com/nextlevelbuilder/aiorg/internal/config"
	"github.com/nextlevelbuilder/aiorg/internal/engine"
	"github.com/nextlevelbuilder/aiorg/internal/hitl"
	"github.com/nextlevelbuilder/aiorg/internal/org"
	"github.com/nextlevelbuilder/aiorg/internal/store"
	"github.com/nextlevelbuilder/aiorg/pkg/protocol"
)

// Server is the gateway server handling HTTP and WebSocket connections.
type Server struct {
	cfg    *config.Config
	stores *store.Stores
	engine *engine.Engine
	orgs   *org.Service
	hitl   *hitl.Manager
	bus    *bus.Bus
	logger *slog.Logger

	upgrader   websocket.Upgrader
	httpServer *http.Server
	mux        *http.ServeMux
}

func NewServer(cfg *config.Config, stores *store.Stores, eng *engine.Engine, orgSvc *org.Service, hitlMgr *hitl.Manager, eventBus *bus.Bus, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:    cfg,
		stores: stores,
		engine: eng,
		orgs:   orgSvc,
		hitl:   hitlMgr,
		bus:    eventBus,
		logger: logger,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// checkOrigin validates WebSocket connection origin against the allowed
// origins whitelist. No configured origins = allow all (dev mode). An empty
// Origin header (non-browser clients) is always allowed.
func (s *Server) checkOrigin(r *http.Request) bool {
	allowed := s.cfg.Gateway.AllowedOrigins
	if len(allowed) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, a := range allowed {
		if origin == a || a == "*" {
			return true
		}
	}
	s.logger.Warn("origin rejected", "origin", origin)
	return false
}

// BuildMux creates and caches the HTTP mux with all routes registered.
func (s *Server) BuildMux() *http.ServeMux {
	if s.mux != nil {
		return s.mux
	}
	mux := http.NewServeMux()

	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)

	auth := s.authMiddleware

	mux.HandleFunc("POST /v1/orgs", auth(s.handleCreateOrg))
	mux.HandleFunc("GET /v1/orgs/{id}", auth(s.handleGetOrg))
	mux.HandleFunc("GET /v1/orgs/{id}/tree", auth(s.handleOrgTree))
	mux.HandleFunc("GET /v1/orgs/{id}/stats", auth(s.handleOrgStats))
	mux.HandleFunc("GET /v1/orgs/{id}/events", auth(s.handleOrgEvents))
	mux.HandleFunc("GET /v1/orgs/{id}/tasks", auth(s.handleActiveTasks))
	mux.HandleFunc("POST /v1/orgs/{id}/activate", auth(s.handleActivateOrg))
	mux.HandleFunc("POST /v1/orgs/{id}/pause", auth(s.handlePauseOrg))
	mux.HandleFunc("POST /v1/orgs/{id}/archive", auth(s.handleArchiveOrg))
	mux.HandleFunc("POST /v1/orgs/{id}/nodes", auth(s.handleAddNode))

	mux.HandleFunc("POST /v1/nodes/{id}/reparent", auth(s.handleReparentNode))
	mux.HandleFunc("DELETE /v1/nodes/{id}", auth(s.handleRemoveNode))
	mux.HandleFunc("POST /v1/nodes/{id}/pause", auth(s.handlePauseNode))
	mux.HandleFunc("POST /v1/nodes/{id}/resume", auth(s.handleResumeNode))

	mux.HandleFunc("POST /v1/tasks", auth(s.handleSubmitTask))
	mux.HandleFunc("GET /v1/tasks/{id}", auth(s.handleGetTask))
	mux.HandleFunc("GET /v1/tasks/{id}/tree", auth(s.handleTaskTree))
	mux.HandleFunc("POST /v1/tasks/{id}/cancel", auth(s.handleCancelTask))

	mux.HandleFunc("GET /v1/hitl/pending", auth(s.handleHITLPending))
	mux.HandleFunc("POST /v1/hitl/{id}/approve", auth(s.handleHITLApprove))
	mux.HandleFunc("POST /v1/hitl/{id}/reject", auth(s.handleHITLReject))
	mux.HandleFunc("POST /v1/hitl/{id}/override", auth(s.handleHITLOverride))
	mux.HandleFunc("POST /v1/hitl/{id}/message", auth(s.handleHITLMessage))

	s.mux = mux
	return mux
}

// Start begins listening and blocks until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	mux := s.BuildMux()

	addr := fmt.Sprintf("%s:%d", s.cfg.Gateway.Host, s.cfg.Gateway.Port)
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	s.logger.Info("gateway starting", "addr", addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("gateway server: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"ok","protocol":%d}`, protocol.ProtocolVersion)
}

func (s *Server) authMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Gateway.Token != "" {
			if extractBearerToken(r) != s.cfg.Gateway.Token {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
				return
			}
		}
		next(w, r)
	}
}

func extractBearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	// WebSocket clients can't set headers from browsers; accept ?token=.
	return r.URL.Query().Get("token")
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
