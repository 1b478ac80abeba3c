package server

import (
	"context"
	"log"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danshapiro/socratic/internal/agent"
	"github.com/danshapiro/socratic/internal/storage"
)

// Config holds server configuration.
type Config struct {
	Addr string // listen address, e.g. ":8484"

	// Credentials and AgentConfig configure every session this server starts.
	Credentials []string
	AgentConfig agent.Config

	// Factory builds a model client per credential attempt.
	Factory agent.ClientFactory

	// Store persists sessions; may be nil to run in-memory only.
	Store *storage.Store
}

// Server is the HTTP surface over dialogue sessions.
type Server struct {
	config   Config
	registry *SessionRegistry
	baseCtx  context.Context
	cancel   context.CancelFunc
	httpSrv  *http.Server
	logger   *log.Logger
}

// New creates a new Server with the given config.
func New(cfg Config) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		config:   cfg,
		registry: NewSessionRegistry(),
		baseCtx:  ctx,
		cancel:   cancel,
		logger:   log.New(os.Stderr, "[socratic-server] ", log.LstdFlags),
	}

	mux := http.NewServeMux()

	// Go 1.22+ method+pattern routing.
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /sessions", s.handleStartSession)
	mux.HandleFunc("GET /sessions", s.handleListSessions)
	mux.HandleFunc("GET /sessions/{id}", s.handleGetSession)
	mux.HandleFunc("GET /sessions/{id}/turns", s.handleGetTurns)
	mux.HandleFunc("GET /sessions/{id}/events", s.handleSessionEvents)
	mux.HandleFunc("POST /sessions/{id}/message", s.handleSendMessage)
	mux.HandleFunc("POST /sessions/{id}/pause", s.handlePauseSession)
	mux.HandleFunc("POST /sessions/{id}/finish", s.handleFinishSession)
	mux.HandleFunc("POST /sessions/{id}/quiz", s.handleGenerateQuiz)
	mux.HandleFunc("POST /sessions/{id}/concept-map", s.handleGenerateConceptMap)
	mux.HandleFunc("POST /sessions/{id}/turns/{tid}/resend", s.handleResend)
	mux.HandleFunc("POST /sessions/{id}/turns/{tid}/regenerate", s.handleRegenerate)
	mux.HandleFunc("POST /sessions/{id}/turns/{tid}/rephrase", s.handleRephrase)
	mux.HandleFunc("DELETE /sessions/{id}", s.handleDeleteSession)

	s.httpSrv = &http.Server{
		Handler:      csrfProtect(mux),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // SSE requires no write timeout
		IdleTimeout:  120 * time.Second,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	return s
}

// ListenAndServe starts the server and blocks until shutdown.
func (s *Server) ListenAndServe() error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		s.logger.Printf("received %s, shutting down...", sig)
		s.Shutdown()
	}()

	s.logger.Printf("listening on %s", s.config.Addr)
	s.httpSrv.Addr = s.config.Addr
	err := s.httpSrv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// csrfProtect rejects cross-origin mutating requests. Browsers automatically
// set the Origin header on cross-origin requests, so checking it blocks CSRF
// from malicious web pages while allowing CLI/programmatic callers (which
// either omit Origin or set it to match the server).
func csrfProtect(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost || r.Method == http.MethodDelete {
			origin := r.Header.Get("Origin")
			if origin != "" {
				u, err := url.Parse(origin)
				if err != nil {
					http.Error(w, `{"error":"invalid Origin header"}`, http.StatusForbidden)
					return
				}
				// Allow only localhost-family origins.
				host := u.Hostname()
				if host != "localhost" && host != "127.0.0.1" && host != "::1" {
					http.Error(w, `{"error":"cross-origin request blocked"}`, http.StatusForbidden)
					return
				}
			}
		}
		next.ServeHTTP(w, r)
	})
}

// Shutdown gracefully stops the server and all running session loops.
func (s *Server) Shutdown() {
	s.registry.CancelAll()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	_ = s.httpSrv.Shutdown(shutdownCtx)

	s.cancel()
}
