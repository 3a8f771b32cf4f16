// Package api is the REST+WebSocket surface for the dashboard.
package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/quantive/signalscan/internal/detect"
	"github.com/quantive/signalscan/internal/health"
	"github.com/quantive/signalscan/internal/market"
	"github.com/quantive/signalscan/internal/sched"
	"github.com/quantive/signalscan/internal/signals"
	"github.com/quantive/signalscan/internal/strategy"
	"github.com/quantive/signalscan/internal/user"
)

type ctxKey string

const requestIDKey ctxKey = "request_id"

// Deps are the collaborators the handlers read from. Strategies and
// ReloadStrategies go through closures so the API never holds strategy
// state of its own.
type Deps struct {
	Cache     *market.Cache
	Signals   *signals.Store
	Detectors *detect.Registry
	Users     *user.Registry
	Health    *health.Checker
	Scheduler *sched.Scheduler

	Strategies       func() []strategy.Spec
	ReloadStrategies func(body []byte) []string // returns validation errors
}

// ServerConfig holds the HTTP server tunables.
type ServerConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DefaultServerConfig returns the standard timeouts on :8080.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:         ":8080",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// Server is the HTTP/WS server.
type Server struct {
	router *mux.Router
	server *http.Server
	deps   Deps
	cfg    ServerConfig
}

// NewServer wires routes and middleware.
func NewServer(cfg ServerConfig, deps Deps) *Server {
	s := &Server{
		router: mux.NewRouter(),
		deps:   deps,
		cfg:    cfg,
	}
	s.setupRoutes()
	s.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.corsMiddleware)

	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// WebSocket upgrades bypass the JSON subrouter and its timeouts.
	s.router.HandleFunc("/ws/markets/{symbol}", s.handleMarketWS).Methods("GET")

	api := s.router.PathPrefix("/api").Subrouter()
	api.Use(s.timeoutMiddleware)
	api.Use(s.jsonContentTypeMiddleware)

	api.HandleFunc("/pairs", s.handlePairs).Methods("GET")
	api.HandleFunc("/candles", s.handleCandles).Methods("GET")
	api.HandleFunc("/markets/{symbol}/candles", s.handleMarketCandles).Methods("GET")
	api.HandleFunc("/signals", s.handleSignals).Methods("GET")
	api.HandleFunc("/signals/{id}", s.handleSignalByID).Methods("GET")
	api.HandleFunc("/detectors", s.handleDetectors).Methods("GET")
	api.HandleFunc("/strategies", s.handleStrategies).Methods("GET")
	api.HandleFunc("/strategies", s.handleStrategiesPut).Methods("PUT")
	api.HandleFunc("/scan/start", s.handleScanStart).Methods("POST")
	api.HandleFunc("/scan/stop", s.handleScanStop).Methods("POST")
	api.HandleFunc("/scan/manual", s.handleScanManual).Methods("POST")

	s.router.NotFoundHandler = http.HandlerFunc(s.handleNotFound)
}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.New().String()[:8]
		ctx := context.WithValue(r.Context(), requestIDKey, requestID)
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapper := &responseWrapper{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapper, r)

		requestID, _ := r.Context().Value(requestIDKey).(string)
		log.Info().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", wrapper.statusCode).
			Dur("duration", time.Since(start)).
			Str("remote", r.RemoteAddr).
			Msg("http request")
	})
}

func (s *Server) timeoutMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if strings.Contains(origin, "localhost") || strings.Contains(origin, "127.0.0.1") {
			w.Header().Set("Access-Control-Allow-Origin", origin)
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, PUT, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) jsonContentTypeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	log.Info().Str("addr", s.cfg.Addr).Msg("http server starting")
	err := s.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("http server shutting down")
	return s.server.Shutdown(ctx)
}

type responseWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWrapper) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
