// Package rest implements the operator-facing control and observability
// HTTP API (§4.14): health/metrics endpoints, session status, JWT login,
// and haptic/config drive endpoints for integration tests and manual QA.
// It is disjoint from the mobile-facing wire protocol — it cannot originate
// HELLO/POSE/CMD on behalf of a mobile device.
package rest

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/telepose/posehost/pkg/api/middleware"
	"github.com/telepose/posehost/pkg/host"
)

// Config holds REST server configuration (mirrors config.APIConfig).
type Config struct {
	Address   string
	APIKey    string
	JWTSecret string
}

// Server serves the control API atop a *host.Host.
type Server struct {
	h        *host.Host
	cfg      Config
	log      *slog.Logger
	srv      *http.Server
	validate *validator.Validate
}

// NewServer creates a control API server bound to h.
func NewServer(h *host.Host, cfg Config, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{h: h, cfg: cfg, log: log, validate: validator.New()}
}

// Start begins serving in a background goroutine.
func (s *Server) Start() error {
	r := mux.NewRouter()
	s.registerRoutes(r)

	if s.cfg.APIKey != "" {
		auth := middleware.NewAPIKeyAuth(s.cfg.APIKey, s.cfg.JWTSecret)
		r.Use(auth.Handler)
	}

	addr := s.cfg.Address
	if addr == "" {
		addr = ":8080"
	}
	s.srv = &http.Server{Addr: addr, Handler: r}

	go func() {
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error("control api server error", "error", err)
		}
	}()
	s.log.Info("control api listening", "address", addr)
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func (s *Server) registerRoutes(r *mux.Router) {
	v1 := r.PathPrefix("/api/v1").Subrouter()

	r.HandleFunc("/health", s.handleHealth).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")
	v1.HandleFunc("/login", s.handleLogin).Methods("POST")
	v1.HandleFunc("/status", s.handleStatus).Methods("GET")
	v1.HandleFunc("/haptic", s.handleHaptic).Methods("POST")
	v1.HandleFunc("/config", s.handleConfig).Methods("POST")
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
