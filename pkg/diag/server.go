package diag

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	apperrors "github.com/odvcencio/backchannel/pkg/errors"
	"github.com/odvcencio/backchannel/pkg/logging"
)

// Status is the bridge state snapshot served at /api/status.
type Status struct {
	SessionUsable  bool   `json:"session_usable"`
	ConversationID string `json:"conversation_id,omitempty"`
	Model          string `json:"model"`
}

// StatusFunc supplies the current bridge status. It is called on every
// /api/status request.
type StatusFunc func() Status

// Server is the optional diagnostics HTTP server: health, metrics, status.
type Server struct {
	addr       string
	statusFn   StatusFunc
	logger     *logging.Logger
	httpServer *http.Server
	listener   net.Listener
	started    time.Time
}

// NewServer creates a diagnostics server bound to addr.
func NewServer(addr string, statusFn StatusFunc, logger *logging.Logger) *Server {
	return &Server{
		addr:     addr,
		statusFn: statusFn,
		logger:   logger,
	}
}

// Start begins serving and returns once the listener is bound. The server
// carries no authentication, so non-loopback binds are refused.
func (s *Server) Start() error {
	if !isLoopbackBindAddress(s.addr) {
		return apperrors.New(apperrors.ErrCodeDiagServer,
			fmt.Sprintf("refusing to bind diagnostics server to non-loopback address %q", s.addr))
	}

	router := chi.NewRouter()
	router.Get("/healthz", s.handleHealthz)
	router.Get("/metrics", promhttp.Handler().ServeHTTP)
	router.Get("/api/status", s.handleStatus)

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeDiagServer, "listen failed").
			WithContext("addr", s.addr)
	}
	s.listener = listener
	s.started = time.Now()
	s.httpServer = &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error(logging.CategoryAPI, "diag_serve_failed", err.Error(), map[string]any{
				"addr": s.addr,
			})
		}
	}()

	s.logger.Info(logging.CategoryAPI, "diag_started", "serving diagnostics", map[string]any{
		"addr": s.addr,
	})
	return nil
}

// Addr returns the bound address, useful when the port was chosen by the OS.
func (s *Server) Addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s == nil || s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	var status Status
	if s.statusFn != nil {
		status = s.statusFn()
	}
	respondJSON(w, map[string]any{
		"session_usable":  status.SessionUsable,
		"conversation_id": status.ConversationID,
		"model":           status.Model,
		"uptime_seconds":  int(time.Since(s.started).Seconds()),
		"time":            time.Now().UTC().Format(time.RFC3339),
	})
}

// respondJSON sends a JSON response with appropriate headers.
func respondJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}

func isLoopbackBindAddress(addr string) bool {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return false
	}

	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	host = strings.TrimSpace(host)
	if host == "" {
		return false
	}
	switch strings.ToLower(host) {
	case "localhost":
		return true
	case "0.0.0.0", "::":
		return false
	default:
		ip := net.ParseIP(host)
		if ip == nil {
			return false
		}
		return ip.IsLoopback()
	}
}
