package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Server struct {
	mu           sync.Mutex
	public       *http.Server
	publicRouter *chi.Mux
	routes       sync.Once

	handler  *Handler
	gatherer prometheus.Gatherer
}

func New(handler *Handler, gatherer prometheus.Gatherer) *Server {
	return &Server{
		publicRouter: chi.NewRouter(),

		handler:  handler,
		gatherer: gatherer,
	}
}

// Router returns the public router with every route registered.
func (s *Server) Router(mws ...func(http.Handler) http.Handler) http.Handler {
	s.routes.Do(func() {
		s.registerPublicRoutes(mws...)
	})
	return s.publicRouter
}

func (s *Server) ServePublic(addr string, mws ...func(http.Handler) http.Handler) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.Router(mws...),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	s.mu.Lock()
	if s.public != nil {
		s.mu.Unlock()
		return http.ErrServerClosed
	}
	s.public = srv
	s.mu.Unlock()

	return srv.ListenAndServe()
}

// ShutdownPublic stops the public server. A server that has not started yet never will.
func (s *Server) ShutdownPublic(ctx context.Context) error {
	s.mu.Lock()
	if s.public == nil {
		s.public = &http.Server{}
	}
	srv := s.public
	s.mu.Unlock()

	if err := srv.Shutdown(ctx); err != nil {
		return srv.Close()
	}
	return nil
}

func (s *Server) registerPublicRoutes(middlewares ...func(http.Handler) http.Handler) {
	s.publicRouter.Use(middleware.Recoverer)
	s.publicRouter.Use(middlewares...)
	s.publicRouter.Get("/_/ready", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("OK"))
	})

	if s.gatherer != nil {
		s.publicRouter.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	s.publicRouter.Route("/v1", func(r chi.Router) {
		r.Post("/event", s.handler.Event)
	})
}
