package cartapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/utafrali/cartsync/pkg/health"
	"github.com/utafrali/cartsync/pkg/httputil"
	"github.com/utafrali/cartsync/pkg/middleware"
)

var errUnknownToken = errors.New("unknown token")

// Request is one recorded call to the cart routes.
type Request struct {
	Method string
	Path   string
	Token  string
	Status int
}

// Server wires the cart service behind an HTTP router with bearer-token
// sessions, a request log and injectable failures.
type Server struct {
	service *Service
	handler http.Handler
	logger  *slog.Logger
	// registry holds this server's HTTP metrics, served on /metrics.
	registry *prometheus.Registry

	mu          sync.Mutex
	tokens      map[string]string
	failures    []int
	requests    []Request
	inFlight    int
	maxInFlight int
	onRequest   func(*http.Request)
}

// NewServer creates a server selling catalog.
func NewServer(catalog []CatalogItem, logger *slog.Logger) *Server {
	srv := &Server{
		service:  NewService(catalog, logger),
		logger:   logger,
		registry: prometheus.NewRegistry(),
		tokens:   make(map[string]string),
	}
	hh := health.NewHandler()
	hh.Register("cart-service", func(_ context.Context) error { return nil })
	srv.handler = NewRouter(srv, hh, logger)
	return srv
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Service returns the underlying cart service.
func (s *Server) Service() *Service { return s.service }

// IssueToken starts a session for userID.
func (s *Server) IssueToken(token, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[token] = userID
}

// RevokeToken ends a session. Later requests with token get 401.
func (s *Server) RevokeToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, token)
}

// FailNext makes the next n cart requests fail with status before they
// reach authentication.
func (s *Server) FailNext(n, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := 0; i < n; i++ {
		s.failures = append(s.failures, status)
	}
}

// OnRequest installs a hook run for every cart request before it is served.
// Tests use it to block a request mid-flight.
func (s *Server) OnRequest(fn func(*http.Request)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onRequest = fn
}

// Requests returns a copy of the request log.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// Mutations returns the logged requests other than GETs.
func (s *Server) Mutations() []Request {
	var out []Request
	for _, req := range s.Requests() {
		if req.Method != http.MethodGet {
			out = append(out, req)
		}
	}
	return out
}

// ResetRequests clears the request log and the concurrency high-water mark.
func (s *Server) ResetRequests() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = nil
	s.maxInFlight = s.inFlight
}

// MaxInFlight reports the highest number of cart requests served at once.
func (s *Server) MaxInFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxInFlight
}

func (s *Server) validateToken(token string) (*middleware.Claims, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	userID, ok := s.tokens[token]
	if !ok {
		return nil, errUnknownToken
	}
	return &middleware.Claims{UserID: userID}, nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.inFlight++
		if s.inFlight > s.maxInFlight {
			s.maxInFlight = s.inFlight
		}
		hook := s.onRequest
		s.mu.Unlock()

		if hook != nil {
			hook(r)
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		s.mu.Lock()
		s.inFlight--
		s.requests = append(s.requests, Request{
			Method: r.Method,
			Path:   r.URL.Path,
			Token:  strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "),
			Status: rec.status,
		})
		s.mu.Unlock()
	})
}

func (s *Server) injectFaults(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		status := 0
		if len(s.failures) > 0 {
			status, s.failures = s.failures[0], s.failures[1:]
		}
		s.mu.Unlock()

		if status != 0 {
			httputil.WriteJSON(w, status, httputil.Response{
				Error: &httputil.ErrorResponse{Code: "INJECTED_FAILURE", Message: http.StatusText(status)},
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}
