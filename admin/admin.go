// Package admin provides a small HTTP API for inspecting a running rtspcast
// server and changing its admission limit without a restart.
//
// Routes:
//
//	GET /status        server and stream counters
//	GET /sessions      connected clients
//	PUT /clients/max   {"max_clients": n}, clamped to the hard cap
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/opd-ai/rtspcast"
	"github.com/sirupsen/logrus"
)

// Default HTTP timeouts.
const (
	DefaultReadTimeout     = 5 * time.Second
	DefaultWriteTimeout    = 5 * time.Second
	DefaultShutdownTimeout = 5 * time.Second
)

// Backend is the part of the RTSP server the API exposes.
type Backend interface {
	Status() rtspcast.Status
	Sessions() []rtspcast.SessionInfo
	SetMaxClients(n int) int
}

// MaxClientsRequest is the body of PUT /clients/max.
type MaxClientsRequest struct {
	MaxClients *int `json:"max_clients"`
}

// MaxClientsResponse reports the limit actually applied.
type MaxClientsResponse struct {
	MaxClients int `json:"max_clients"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Server serves the admin API.
type Server struct {
	backend    Backend
	router     *chi.Mux
	httpServer *http.Server
	listener   net.Listener
}

// NewServer creates the admin API over backend.
func NewServer(backend Backend) *Server {
	s := &Server{backend: backend}

	router := chi.NewRouter()
	router.Use(chimiddleware.RealIP)
	router.Use(chimiddleware.Recoverer)
	router.Use(requestLogger)

	router.Get("/status", s.handleStatus)
	router.Get("/sessions", s.handleSessions)
	router.Put("/clients/max", s.handleSetMaxClients)

	s.router = router
	return s
}

// Router returns the chi router, for mounting or tests.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Listen binds addr and serves in the background until Shutdown.
func (s *Server) Listen(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("admin listen on %s: %w", addr, err)
	}
	s.listener = listener
	s.httpServer = &http.Server{
		Handler:      s.router,
		ReadTimeout:  DefaultReadTimeout,
		WriteTimeout: DefaultWriteTimeout,
	}

	logrus.WithFields(logrus.Fields{
		"function": "admin.Server.Listen",
		"addr":     listener.Addr().String(),
	}).Info("Admin API listening")

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.WithFields(logrus.Fields{
				"function": "admin.Server.Listen",
				"error":    err.Error(),
			}).Error("Admin API stopped")
		}
	}()
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Shutdown gracefully stops the API.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, DefaultShutdownTimeout)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.backend.Status())
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.backend.Sessions())
}

func (s *Server) handleSetMaxClients(w http.ResponseWriter, r *http.Request) {
	var req MaxClientsRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1024))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid body: " + err.Error()})
		return
	}
	if req.MaxClients == nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "max_clients is required"})
		return
	}

	applied := s.backend.SetMaxClients(*req.MaxClients)

	logrus.WithFields(logrus.Fields{
		"function":  "admin.Server.handleSetMaxClients",
		"requested": *req.MaxClients,
		"applied":   applied,
	}).Info("Max clients changed")

	writeJSON(w, http.StatusOK, MaxClientsResponse{MaxClients: applied})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "admin.writeJSON",
			"error":    err.Error(),
		}).Warn("Failed to write response")
	}
}

// requestLogger logs each request at debug level.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		logrus.WithFields(logrus.Fields{
			"function":    "admin.requestLogger",
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      ww.Status(),
			"remote_addr": r.RemoteAddr,
			"duration":    time.Since(start).String(),
		}).Debug("Admin request")
	})
}
