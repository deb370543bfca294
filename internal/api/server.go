// Package api serves the accessory host over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/hubspaced/internal/accessory"
	"github.com/dokzlo13/hubspaced/internal/discovery"
	"github.com/dokzlo13/hubspaced/internal/host"
	"github.com/dokzlo13/hubspaced/internal/ledger"
)

// Accessories is the runtime the server dispatches to.
type Accessories interface {
	List() []host.Snapshot
	Describe(id string) (host.Snapshot, error)
	Get(ctx context.Context, id string, c accessory.Characteristic) (any, error)
	Set(ctx context.Context, id string, c accessory.Characteristic, value any) error
}

// Discoverer runs discovery on demand.
type Discoverer interface {
	Discover(ctx context.Context) (discovery.Result, error)
	Last() discovery.Status
}

// History reads the discovery ledger.
type History interface {
	Recent(eventType ledger.EventType, limit int) ([]*ledger.Entry, error)
	ForAccessory(accessoryID string, limit int) ([]*ledger.Entry, error)
}

// Config configures the HTTP listener.
type Config struct {
	Host           string
	Port           int
	CORSOrigins    []string
	RequestTimeout time.Duration
}

// Server is the HTTP surface of the accessory host.
type Server struct {
	addr        string
	cfg         Config
	accessories Accessories
	discoverer  Discoverer
	history     History
	httpServer  *http.Server
}

// NewServer creates a server. history may be nil when no ledger is kept.
func NewServer(cfg Config, accessories Accessories, discoverer Discoverer, history History) *Server {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	return &Server{
		addr:        fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		cfg:         cfg,
		accessories: accessories,
		discoverer:  discoverer,
		history:     history,
	}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(s.cfg.RequestTimeout))

	if len(s.cfg.CORSOrigins) > 0 {
		r.Use(cors.New(cors.Options{
			AllowedOrigins: s.cfg.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPut, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		}).Handler)
	}

	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)

	r.Route("/accessories", func(r chi.Router) {
		r.Get("/", s.handleListAccessories)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetAccessory)
			r.Get("/events", s.handleAccessoryEvents)
			r.Get("/characteristics/{name}", s.handleGetCharacteristic)
			r.Put("/characteristics/{name}", s.handleSetCharacteristic)
		})
	})

	r.Post("/discovery", s.handleDiscover)
	r.Get("/discovery", s.handleLastDiscovery)
	r.Get("/events", s.handleEvents)

	return r
}

// Run starts the server. It blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context, shutdownTimeout time.Duration) error {
	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Info().Str("addr", s.addr).Msg("Starting API server")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("API server shutdown error")
		}
	}()

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}
