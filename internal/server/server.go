// Package server is the producing side of the state protocol: it exposes
// registered transitions as POST {base}/transition/{name} endpoints and
// streams each handler's frames back as validated NDJSON.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"git.home.luguber.info/inful/anchorstream/internal/config"
	ferrors "git.home.luguber.info/inful/anchorstream/internal/foundation/errors"
	"git.home.luguber.info/inful/anchorstream/internal/logfields"
	"git.home.luguber.info/inful/anchorstream/internal/metrics"
	smw "git.home.luguber.info/inful/anchorstream/internal/server/middleware"
)

// Options carries the collaborators a Server needs besides its config.
type Options struct {
	// Page, when set, is served at GET {base}/.
	Page http.Handler
	// MetricsHandler is mounted at the metrics path when metrics are enabled.
	MetricsHandler http.Handler
	Recorder       metrics.Recorder
	Logger         *slog.Logger
	// ErrorTemplate is the anchor handler failures are rendered into.
	ErrorTemplate string
}

// Server serves transitions over HTTP.
type Server struct {
	cfg          *config.Config
	registry     *Registry
	opts         Options
	logger       *slog.Logger
	recorder     metrics.Recorder
	errorAdapter *ferrors.HTTPErrorAdapter
	router       chi.Router
	started      time.Time

	mu       sync.Mutex
	http     *http.Server
	listener net.Listener
	done     chan error
}

// New constructs a server for the transitions in reg.
func New(cfg *config.Config, reg *Registry, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:          cfg,
		registry:     reg,
		opts:         opts,
		logger:       logger,
		recorder:     metrics.OrNoop(opts.Recorder),
		errorAdapter: ferrors.NewHTTPErrorAdapter(logger),
		started:      time.Now(),
	}
	s.router = s.routes()
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(smw.Chain(s.logger, s.errorAdapter, s.cfg.Monitoring.Health.Path, s.cfg.Monitoring.Metrics.Path))

	base := s.cfg.Server.BasePath
	r.Get(s.cfg.Monitoring.Health.Path, s.handleHealth)
	if s.cfg.Monitoring.Metrics.Enabled && s.opts.MetricsHandler != nil {
		r.Method(http.MethodGet, s.cfg.Monitoring.Metrics.Path, s.opts.MetricsHandler)
	}

	if s.opts.Page != nil {
		r.Method(http.MethodGet, base+"/", s.opts.Page)
	}
	r.Get(base+"/transitions", s.handleListTransitions)
	r.Post(base+"/transition/{name}", s.handleTransition)

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		s.errorAdapter.WriteErrorResponse(w, req, ferrors.NotFoundError("no such endpoint").
			WithContext("path", req.URL.Path).
			Build())
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		s.errorAdapter.WriteErrorResponse(w, req, ferrors.ValidationError("invalid HTTP method").
			WithContext("method", req.Method).
			WithContext("path", req.URL.Path).
			Build())
	})
	return r
}

// Start binds the listen address and serves in the background until Stop.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.http != nil {
		return errors.New("server already started")
	}

	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", s.cfg.Server.Addr)
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryRuntime, "failed to bind listen address").
			WithContext("addr", s.cfg.Server.Addr).
			Build()
	}
	s.listener = ln
	s.http = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      s.cfg.Server.WriteTimeout,
		IdleTimeout:       60 * time.Second,
	}
	s.done = make(chan error, 1)
	go func(srv *http.Server, done chan<- error) {
		err := srv.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		done <- err
	}(s.http, s.done)

	s.logger.Info("HTTP server started",
		slog.String("addr", ln.Addr().String()),
		slog.String("base_path", s.cfg.Server.BasePath),
		logfields.Count(len(s.registry.Names())))
	return nil
}

// Addr returns the bound listen address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Done receives the serve error (nil on clean shutdown) once the server
// stops.
func (s *Server) Done() <-chan error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// Stop gracefully shuts the server down. In-flight transition streams get
// until ctx expires to finish.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.http
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	s.logger.Info("HTTP server stopped")
	return nil
}
