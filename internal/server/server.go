// Package server provides the HTTP JSON API.
package server

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"prospect/internal/auth"
	"prospect/internal/logging"
	"prospect/internal/query"
	"prospect/internal/store"
	"prospect/internal/trigger"
)

// Config holds server configuration.
type Config struct {
	// Logger for structured logging.
	Logger *slog.Logger

	// Tokens guards the maintenance endpoints. When nil they are
	// disabled entirely rather than left open.
	Tokens *auth.TokenService

	// RatePerSecond and RateBurst bound write and search traffic per
	// client address. Zero disables rate limiting.
	RatePerSecond float64
	RateBurst     int
}

// Server is the HTTP front of the lead store: CRUD on leads and their
// subcollections, search, and index maintenance.
type Server struct {
	store      store.Store
	maintainer *trigger.Maintainer
	// bound is true when the maintainer observes store events directly;
	// the handlers then never deliver events themselves, avoiding double
	// regeneration.
	bound   bool
	planner *query.Planner
	tokens  *auth.TokenService
	logger  *slog.Logger
	limiter *rateLimiter

	mu       sync.Mutex
	listener net.Listener
	server   *http.Server
	shutdown chan struct{}
	inFlight sync.WaitGroup // tracks in-flight requests for graceful drain
	draining atomic.Bool    // true when server is draining (rejecting new requests)

	cleanupCancel context.CancelFunc
	cleanupWG     sync.WaitGroup
}

// New creates a Server. bound reports whether the maintainer is already
// attached to the store's event stream.
func New(st store.Store, maintainer *trigger.Maintainer, bound bool, planner *query.Planner, cfg Config) *Server {
	s := &Server{
		store:      st,
		maintainer: maintainer,
		bound:      bound,
		planner:    planner,
		tokens:     cfg.Tokens,
		logger:     logging.Default(cfg.Logger).With("component", "server"),
		shutdown:   make(chan struct{}),
	}
	if cfg.RatePerSecond > 0 {
		s.limiter = newRateLimiter(rate.Limit(cfg.RatePerSecond), cfg.RateBurst)
	}
	return s
}

// registerProbes adds Kubernetes liveness and readiness probe endpoints.
func (s *Server) registerProbes(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if s.draining.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
}

// trackingMiddleware wraps an http.Handler to track in-flight requests.
func (s *Server) trackingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.draining.Load() {
			http.Error(w, "server is draining", http.StatusServiceUnavailable)
			return
		}
		s.inFlight.Add(1)
		defer s.inFlight.Done()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) buildMux() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/leads", s.createLead)
	mux.HandleFunc("GET /api/leads/{id}", s.getLead)
	mux.HandleFunc("PATCH /api/leads/{id}", s.updateLead)
	mux.HandleFunc("DELETE /api/leads/{id}", s.deleteLead)

	mux.HandleFunc("POST /api/leads/{id}/{collection}", s.createChild)
	mux.HandleFunc("GET /api/leads/{id}/{collection}/{childID}", s.getChild)
	mux.HandleFunc("PATCH /api/leads/{id}/{collection}/{childID}", s.updateChild)
	mux.HandleFunc("DELETE /api/leads/{id}/{collection}/{childID}", s.deleteChild)

	mux.HandleFunc("GET /api/search", s.searchGet)
	mux.HandleFunc("POST /api/search", s.searchPost)

	if s.tokens != nil {
		mux.HandleFunc("POST /api/index/rebuild", s.tokens.Require(s.rebuildIndex))
	}

	s.registerProbes(mux)
	return mux
}

// Serve starts the server on the given listener. It blocks until the
// server is stopped or an error occurs.
func (s *Server) Serve(listener net.Listener) error {
	s.mu.Lock()
	s.listener = listener
	handler := s.trackingMiddleware(s.buildMux())
	if s.limiter != nil {
		handler = rateLimitMiddleware(s.limiter)(handler)

		ctx, cancel := context.WithCancel(context.Background())
		s.cleanupCancel = cancel
		s.limiter.startCleanup(ctx, &s.cleanupWG, time.Minute, 10*time.Minute)
	}
	s.server = &http.Server{Handler: handler}
	s.mu.Unlock()

	s.logger.Info("server starting", "addr", listener.Addr().String())

	err := s.server.Serve(listener)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// ServeTCP starts the server on a TCP address.
func (s *Server) ServeTCP(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(listener)
}

// Stop gracefully stops the server.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	server := s.server
	cancel := s.cleanupCancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		s.cleanupWG.Wait()
	}
	if server == nil {
		return nil
	}
	s.logger.Info("server stopping")
	return server.Shutdown(ctx)
}

// InitiateShutdown drains in-flight requests and signals ShutdownChan.
func (s *Server) InitiateShutdown() {
	s.mu.Lock()
	select {
	case <-s.shutdown:
		s.mu.Unlock()
		return
	default:
	}
	s.mu.Unlock()

	s.logger.Info("draining in-flight requests")
	s.draining.Store(true)
	s.inFlight.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.shutdown:
	default:
		close(s.shutdown)
	}
}

// ShutdownChan returns a channel that is closed when shutdown is initiated.
func (s *Server) ShutdownChan() <-chan struct{} {
	return s.shutdown
}

// Handler returns the request handler without binding a listener.
// Useful for testing or embedding in another server.
func (s *Server) Handler() http.Handler {
	return s.trackingMiddleware(s.buildMux())
}
