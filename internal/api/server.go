package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"rosterbot/internal/router"
	"rosterbot/pkg/types"
)

// ActorHeader names the admin making an API request.
const ActorHeader = "X-Actor-ID"

// HealthChecker reports storage health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Roster exposes the admin views of the character store. *router.Router
// implements it.
type Roster interface {
	IsAdmin(userID string) bool
	AvailableCharacters(ctx context.Context) ([]*types.Character, error)
}

// Options wires optional handlers into the server.
type Options struct {
	// Stats returns in-memory counters reported by /health.
	Stats func() map[string]int
	// Metrics serves /metrics when set.
	Metrics http.Handler
	// Gateway serves /ws when set.
	Gateway http.Handler
}

// Server is the HTTP surface: health, metrics, admin roster views and the
// relay gateway.
type Server struct {
	db      HealthChecker
	roster  Roster
	opts    Options
	logger  *slog.Logger
	mux     *http.ServeMux
	started time.Time
}

// NewServer creates the server and registers its routes.
func NewServer(db HealthChecker, roster Roster, opts Options, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		db:      db,
		roster:  roster,
		opts:    opts,
		logger:  logger.With("component", "api"),
		mux:     http.NewServeMux(),
		started: time.Now(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.mux.Handle("/health", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.healthCheck))))
	s.mux.Handle("/api/available", s.corsMiddleware(s.jsonMiddleware(s.adminOnly(http.HandlerFunc(s.handleAvailable)))))
	s.mux.Handle("/api/groups", s.corsMiddleware(s.jsonMiddleware(s.adminOnly(http.HandlerFunc(s.handleGroups)))))
	if s.opts.Metrics != nil {
		s.mux.Handle("/metrics", s.opts.Metrics)
	}
	if s.opts.Gateway != nil {
		s.mux.Handle("/ws", s.opts.Gateway)
	}
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

type HealthResponse struct {
	Status    string         `json:"status"`
	Timestamp time.Time      `json:"timestamp"`
	Database  string         `json:"database"`
	Uptime    string         `json:"uptime"`
	Counters  map[string]int `json:"counters,omitempty"`
}

type AvailableResponse struct {
	Characters []*types.Character `json:"characters"`
	Count      int                `json:"count"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// GET /health
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "healthy"
	dbStatus := "healthy"
	if err := s.db.HealthCheck(ctx); err != nil {
		status = "unhealthy"
		dbStatus = fmt.Sprintf("error: %v", err)
		s.logger.Warn("health check failed", "err", err)
	}

	response := HealthResponse{
		Status:    status,
		Timestamp: time.Now().UTC(),
		Database:  dbStatus,
		Uptime:    time.Since(s.started).Round(time.Second).String(),
	}
	if s.opts.Stats != nil {
		response.Counters = s.opts.Stats()
	}

	if status == "unhealthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	_ = json.NewEncoder(w).Encode(response)
}

// GET /api/available
func (s *Server) handleAvailable(w http.ResponseWriter, r *http.Request) {
	chars, ok := s.available(w, r)
	if !ok {
		return
	}
	_ = json.NewEncoder(w).Encode(AvailableResponse{Characters: chars, Count: len(chars)})
}

// GET /api/groups
func (s *Server) handleGroups(w http.ResponseWriter, r *http.Request) {
	chars, ok := s.available(w, r)
	if !ok {
		return
	}
	_ = json.NewEncoder(w).Encode(router.BuildGroups(chars))
}

func (s *Server) available(w http.ResponseWriter, r *http.Request) ([]*types.Character, bool) {
	if r.Method != http.MethodGet {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return nil, false
	}
	chars, err := s.roster.AvailableCharacters(r.Context())
	if err != nil {
		s.logger.Error("listing available characters failed", "err", err)
		s.sendError(w, "Failed to list characters", http.StatusInternalServerError)
		return nil, false
	}
	if chars == nil {
		chars = []*types.Character{}
	}
	return chars, true
}

func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}

// adminOnly rejects requests whose actor header does not name an admin.
func (s *Server) adminOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor := r.Header.Get(ActorHeader)
		if actor == "" || !s.roster.IsAdmin(actor) {
			s.logger.Info("admin api request refused", "actor", actor, "path", r.URL.Path)
			s.sendError(w, "Admin access required", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+ActorHeader)
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}
