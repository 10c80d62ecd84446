// Package server exposes a user's memory collection over HTTP: REST
// endpoints for capture, listing, mutations and insights, and a websocket
// that pushes the user's events as they happen.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/scrypster/memorytap/internal/backup"
	"github.com/scrypster/memorytap/internal/config"
	"github.com/scrypster/memorytap/internal/engine"
	"github.com/scrypster/memorytap/internal/identity"
	"github.com/scrypster/memorytap/internal/insight"
)

// Deps are the collaborators a Server needs.
type Deps struct {
	Config   config.ServerConfig
	Sessions *engine.SessionManager
	Identity identity.Provider
	Insight  *insight.Service
	Hub      *WebSocketHub

	// AudioDir, when set, is served read-only under /audio/.
	AudioDir string

	// Backup, when set, adds the backup endpoints.
	Backup *backup.Service

	Logger *slog.Logger
}

// Server is the HTTP surface.
type Server struct {
	cfg      config.ServerConfig
	sessions *engine.SessionManager
	identity identity.Provider
	insight  *insight.Service
	hub      *WebSocketHub
	audioDir string
	backup   *backup.Service
	limiter  *RateLimiter
	logger   *slog.Logger

	done chan struct{}
}

// New validates deps and creates a Server.
func New(d Deps) (*Server, error) {
	if d.Sessions == nil || d.Identity == nil || d.Insight == nil {
		return nil, errors.New("server: sessions, identity and insight are required")
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Hub == nil {
		d.Hub = NewWebSocketHub(nil, d.Logger)
	}
	if d.Config.MaxUploadBytes <= 0 {
		d.Config.MaxUploadBytes = 25 << 20
	}
	return &Server{
		cfg:      d.Config,
		sessions: d.Sessions,
		identity: d.Identity,
		insight:  d.Insight,
		hub:      d.Hub,
		audioDir: d.AudioDir,
		backup:   d.Backup,
		limiter:  NewRateLimiter(d.Config.RequestsPerSecond, d.Config.Burst),
		logger:   d.Logger.With("component", "server"),
		done:     make(chan struct{}),
	}, nil
}

// Handler returns the complete HTTP handler.
func (s *Server) Handler() http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("GET /api/memories", s.listMemories)
	api.HandleFunc("POST /api/memories", s.createMemory)
	api.HandleFunc("GET /api/memories/{id}", s.getMemory)
	api.HandleFunc("DELETE /api/memories/{id}", s.deleteMemory)
	api.HandleFunc("POST /api/memories/{id}/favorite", s.toggleFavorite)
	api.HandleFunc("POST /api/memories/{id}/complete", s.toggleCompletion)
	api.HandleFunc("GET /api/capture", s.captureStatus)
	api.HandleFunc("GET /api/focus", s.focus)
	api.HandleFunc("GET /api/analytics", s.analytics)
	api.HandleFunc("POST /api/logout", s.logout)
	if s.backup != nil {
		api.HandleFunc("GET /api/backups", s.listBackups)
		api.HandleFunc("POST /api/backups", s.createBackup)
	}
	api.HandleFunc("GET /ws", s.websocket)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	})
	mux.Handle("/api/", s.requireAuth(api))
	mux.Handle("/ws", s.requireAuth(api))
	if s.audioDir != "" {
		mux.Handle("GET /audio/", http.StripPrefix("/audio/", http.FileServer(http.Dir(s.audioDir))))
	}

	return securityHeaders(rateLimit(mux, s.limiter))
}

// Start listens on the configured address and serves until ctx is done.
// It returns the address actually bound, which differs from the configured
// one when the port is 0.
func (s *Server) Start(ctx context.Context) (string, error) {
	ln, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		return "", fmt.Errorf("listen on %s: %w", s.cfg.Addr(), err)
	}

	srv := &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 2 * time.Minute, // uploads wait for transcription
		IdleTimeout:  60 * time.Second,
	}

	go s.hub.Run()
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("server error", "error", err)
		}
	}()
	go func() {
		defer close(s.done)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.hub.Stop()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("server shutdown error", "error", err)
		}
		s.sessions.CloseAll()
	}()

	addr := ln.Addr().String()
	s.logger.Info("server listening", "addr", addr)
	return addr, nil
}

// Done is closed once a started server has shut down and closed every
// session.
func (s *Server) Done() <-chan struct{} {
	return s.done
}
