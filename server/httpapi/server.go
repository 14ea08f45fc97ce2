package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/lememe/leme/consts"
	"github.com/lememe/leme/logger"
	"github.com/lememe/leme/pkg/metrics"
	"github.com/lememe/leme/pkg/resilient"
	"github.com/lememe/leme/reports"
)

const bannerText = "LEME report API is running. Check /status for database connectivity.\n"

// statusPingTimeout bounds the database round trip of /status.
const statusPingTimeout = 5 * time.Second

// PoolSource hands out the shared database pool.
type PoolSource interface {
	Acquire(ctx context.Context) (*resilient.Handle, error)
	Status() resilient.Status
}

// Server represents the report HTTP API server
type Server struct {
	addr            string
	corsOrigin      string
	shutdownTimeout time.Duration
	pools           PoolSource
	registry        *reports.Registry
	runner          *reports.Runner
	server          *http.Server
	tls             bool
	tlsCertFile     string
	tlsKeyFile      string
}

// ServerOptions holds configuration options for the report API server
type ServerOptions struct {
	Addr            string
	CORSOrigin      string
	ShutdownTimeout time.Duration
	QueryTimeout    time.Duration
	TLS             bool
	TLSCertFile     string
	TLSKeyFile      string
}

// New creates a new report API server
func New(pools PoolSource, registry *reports.Registry, options ServerOptions) (*Server, error) {
	if pools == nil {
		return nil, fmt.Errorf("a pool source is required for the report API server")
	}
	if registry == nil {
		return nil, fmt.Errorf("a report registry is required for the report API server")
	}
	if options.TLS && (options.TLSCertFile == "" || options.TLSKeyFile == "") {
		return nil, fmt.Errorf("TLS certificate and key files are required when TLS is enabled")
	}
	if options.CORSOrigin == "" {
		options.CORSOrigin = "*"
	}
	if options.ShutdownTimeout <= 0 {
		options.ShutdownTimeout = 5 * time.Second
	}

	return &Server{
		addr:            options.Addr,
		corsOrigin:      options.CORSOrigin,
		shutdownTimeout: options.ShutdownTimeout,
		pools:           pools,
		registry:        registry,
		runner:          reports.NewRunner(options.QueryTimeout),
		tls:             options.TLS,
		tlsCertFile:     options.TLSCertFile,
		tlsKeyFile:      options.TLSKeyFile,
	}, nil
}

// Start runs the report API server until ctx is cancelled. Listener
// failures are sent to errChan.
func Start(ctx context.Context, pools PoolSource, registry *reports.Registry, options ServerOptions, errChan chan error) {
	server, err := New(pools, registry, options)
	if err != nil {
		errChan <- fmt.Errorf("failed to create report API server: %w", err)
		return
	}

	logger.Info("Starting report API server", "component", "HTTP", "addr", options.Addr, "tls", options.TLS)
	if err := server.start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) && ctx.Err() == nil {
		errChan <- fmt.Errorf("report API server failed: %w", err)
	}
}

// start initializes and starts the HTTP server
func (s *Server) start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	go func() {
		<-ctx.Done()
		logger.Info("Shutting down report API server", "component", "HTTP")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Error shutting down report API server", "component", "HTTP", "error", err)
		}
	}()

	if s.tls {
		return s.server.ListenAndServeTLS(s.tlsCertFile, s.tlsKeyFile)
	}
	return s.server.ListenAndServe()
}

// Handler returns the router wrapped in the CORS and request ID
// middleware. Both sit outside the router so that preflight, 404 and 405
// responses carry them too.
func (s *Server) Handler() http.Handler {
	return s.corsMiddleware(s.requestIDMiddleware(s.setupRoutes()))
}

// setupRoutes configures all HTTP routes and middleware
func (s *Server) setupRoutes() *mux.Router {
	router := mux.NewRouter()

	router.Use(s.loggingMiddleware)

	router.HandleFunc("/", s.handleBanner).Methods("GET")
	router.HandleFunc("/status", s.handleStatus).Methods("GET")
	router.HandleFunc("/reports", s.handleListReports).Methods("GET")
	router.HandleFunc("/reports/{name}", s.handleReportByName).Methods("GET")

	// Reports with a route of their own
	for _, rep := range s.registry.All() {
		if rep.Path == "" {
			continue
		}
		router.HandleFunc(rep.Path, s.handleReportByPath).Methods("GET")
	}

	router.NotFoundHandler = s.loggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, http.StatusNotFound, "Not found")
	}))
	router.MethodNotAllowedHandler = s.loggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}))

	return router
}

// Middleware functions

// statusRecorder captures the response code for logging and metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.New().String()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), consts.RequestIDKey, id)))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		elapsed := time.Since(start)

		route := routeName(r)
		metrics.HTTPRequestsTotal.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(route).Observe(elapsed.Seconds())

		logger.InfoContext(r.Context(), "HTTP request", "component", "HTTP", "method", r.Method,
			"path", r.URL.Path, "status", rec.status, "duration", elapsed, "remote", r.RemoteAddr)
	})
}

// routeName returns the route template, keeping metric labels bounded.
func routeName(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

// corsMiddleware allows browser dashboards on any origin to read reports.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", s.corsOrigin)
		h.Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, If-None-Match, X-Request-ID")
		h.Set("Access-Control-Expose-Headers", "ETag, X-Request-ID")
		if s.corsOrigin != "*" {
			h.Add("Vary", "Origin")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Utility functions

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Warn("Error encoding JSON response", "component", "HTTP", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
