package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/cwygoda/extractd/internal/adapter/auth"
	"github.com/cwygoda/extractd/internal/domain"
)

// tracerName is the instrumentation scope for HTTP spans.
const tracerName = "github.com/cwygoda/extractd/internal/adapter/http"

// Server is the HTTP adapter for the extraction job service.
type Server struct {
	svc      *domain.JobService
	verifier auth.Verifier
	logger   *slog.Logger
	tracer   trace.Tracer
	mux      *http.ServeMux
	handler  http.Handler
	server   *http.Server
}

// Option configures the Server.
type Option func(*Server)

// WithLogger sets the request and error logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithTracer overrides the global OpenTelemetry tracer.
func WithTracer(tracer trace.Tracer) Option {
	return func(s *Server) { s.tracer = tracer }
}

// NewServer creates a new HTTP server listening on addr. A nil verifier
// disables authentication.
func NewServer(svc *domain.JobService, verifier auth.Verifier, addr string, opts ...Option) *Server {
	s := &Server{
		svc:      svc,
		verifier: verifier,
		logger:   slog.Default(),
		tracer:   otel.Tracer(tracerName),
		mux:      http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.routes()
	s.handler = s.tracing(s.logRequests(s.mux))
	s.server = &http.Server{
		Addr:     addr,
		Handler:  s.handler,
		ErrorLog: slog.NewLogLogger(s.logger.Handler(), slog.LevelError),
	}
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /extraction-jobs", s.requireAuth(s.handleCreate))
	s.mux.HandleFunc("GET /extraction-jobs", s.requireAuth(s.handleList))
	s.mux.HandleFunc("GET /extraction-jobs/{job_id}", s.requireAuth(s.handleGet))
	s.mux.HandleFunc("PATCH /extraction-jobs/{job_id}", s.requireAuth(s.handleUpdate))
	s.mux.HandleFunc("GET /health", s.handleHealth)
}

// errorResponse is the JSON error body.
type errorResponse struct {
	Detail string `json:"detail"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("write response failed", "err", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, detail string) {
	s.writeJSON(w, status, errorResponse{Detail: detail})
}

// writeServiceError maps domain errors onto HTTP statuses.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var ve *domain.ValidationError
	switch {
	case errors.As(err, &ve):
		s.writeError(w, http.StatusUnprocessableEntity, ve.Error())
	case errors.Is(err, domain.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "Extraction job not found")
	case errors.Is(err, domain.ErrConflict):
		s.writeError(w, http.StatusConflict, "Extraction job already exists")
	case errors.Is(err, domain.ErrUnauthorized):
		s.unauthorized(w, "Invalid token")
	default:
		s.logger.ErrorContext(r.Context(), "request failed",
			"method", r.Method, "path", r.URL.Path, "err", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) unauthorized(w http.ResponseWriter, detail string) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	s.writeError(w, http.StatusUnauthorized, detail)
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// ServeHTTP implements http.Handler for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Addr returns the server address.
func (s *Server) Addr() string {
	return s.server.Addr
}

// Port extracts the port from the address.
func (s *Server) Port() int {
	addr := s.server.Addr
	if idx := strings.LastIndex(addr, ":"); idx >= 0 {
		port, _ := strconv.Atoi(addr[idx+1:])
		return port
	}
	return 0
}
