package httpserver

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/tokligence/chatstream/internal/adapter"
	adapterrouter "github.com/tokligence/chatstream/internal/adapter/router"
	"github.com/tokligence/chatstream/internal/chat"
	"github.com/tokligence/chatstream/internal/health"
	"github.com/tokligence/chatstream/internal/ledger"
	"github.com/tokligence/chatstream/internal/metrics"
	"github.com/tokligence/chatstream/internal/session"
)

var defaultEndpointKeys = []string{"conversations", "connections", "usage", "health", "metrics"}

// DefaultSSEPingInterval is how often an idle snapshot stream gets a comment line.
const DefaultSSEPingInterval = 15 * time.Second

// Server exposes the chat-stream REST and SSE API.
type Server struct {
	chat    *chat.Service
	router  *adapterrouter.Router
	ledger  ledger.Store
	checker *health.Checker
	metrics *metrics.Collector

	endpointKeys    []string
	ssePingInterval time.Duration

	logger   *log.Logger
	logLevel string
}

// Config wires a Server. Ledger, Checker and Metrics may be nil.
type Config struct {
	Chat            *chat.Service
	Metrics         *metrics.Collector
	AdapterRouter   *adapterrouter.Router
	Ledger          ledger.Store
	Checker         *health.Checker
	EndpointKeys    []string
	SSEPingInterval time.Duration
	Logger          *log.Logger
	LogLevel        string
}

// New constructs a Server.
func New(cfg Config) *Server {
	s := &Server{
		chat:            cfg.Chat,
		router:          cfg.AdapterRouter,
		ledger:          cfg.Ledger,
		checker:         cfg.Checker,
		metrics:         cfg.Metrics,
		endpointKeys:    normalizeEndpointKeys(cfg.EndpointKeys, defaultEndpointKeys),
		ssePingInterval: cfg.SSEPingInterval,
		logger:          cfg.Logger,
	}
	if s.ssePingInterval <= 0 {
		s.ssePingInterval = DefaultSSEPingInterval
	}
	if s.logger == nil {
		s.logger = log.Default()
	}
	s.SetLogger(cfg.LogLevel, nil)
	return s
}

// Router returns a configured chi router for embedding in HTTP servers.
func (s *Server) Router() http.Handler {
	r := s.newBaseRouter()
	s.registerEndpointKeys(r, s.endpointKeys...)
	return r
}

func (s *Server) newBaseRouter() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	if s.isDebug() {
		r.Use(middleware.Logger)
	}
	r.Use(middleware.Recoverer)
	if s.metrics != nil {
		r.Use(s.metricsMiddleware)
	}
	return r
}

// metricsMiddleware counts requests by matched route pattern.
func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = r.Method + " " + rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.metrics.RecordRequest(route, time.Since(start), status)
	})
}

func (s *Server) registerEndpoints(r chi.Router, endpoints ...endpoint) {
	for _, ep := range endpoints {
		if ep == nil {
			continue
		}
		s.debugf("registering endpoint %s", ep.Name())
		for _, route := range ep.Routes() {
			r.Method(route.Method, route.Path, route.Handler)
		}
	}
}

func (s *Server) registerEndpointKeys(r chi.Router, keys ...string) int {
	var endpoints []endpoint
	for _, key := range keys {
		if ep := s.endpointByKey(key); ep != nil {
			endpoints = append(endpoints, ep)
		} else {
			s.debugf("endpoint %s unavailable, skipping registration", key)
		}
	}
	s.registerEndpoints(r, endpoints...)
	return len(endpoints)
}

func (s *Server) endpointByKey(key string) endpoint {
	switch key {
	case "conversations", "chat":
		if s.chat == nil {
			return nil
		}
		return newConversationsEndpoint(s)
	case "connections":
		if s.chat == nil {
			return nil
		}
		return newConnectionsEndpoint(s)
	case "usage":
		if s.ledger == nil {
			return nil
		}
		return newUsageEndpoint(s)
	case "health", "status":
		return newHealthEndpoint(s)
	case "metrics":
		if s.metrics == nil {
			return nil
		}
		return newMetricsEndpoint(s)
	default:
		return nil
	}
}

func normalizeEndpointKeys(list []string, defaults []string) []string {
	if len(list) == 0 {
		list = defaults
	}
	seen := make(map[string]struct{}, len(list))
	out := make([]string, 0, len(list))
	for _, key := range list {
		key = strings.ToLower(strings.TrimSpace(key))
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	return out
}

// SetLogger configures server-level logger and verbosity ("debug", "info", ...).
func (s *Server) SetLogger(level string, logger *log.Logger) {
	s.logLevel = strings.ToLower(strings.TrimSpace(level))
	if logger != nil {
		s.logger = logger
	}
}

func (s *Server) isDebug() bool { return s.logLevel == "debug" }

func (s *Server) debugf(format string, args ...any) {
	if s.logger != nil && s.isDebug() {
		s.logger.Printf("[DEBUG] "+format, args...)
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload any) {
	if payload == nil {
		w.WriteHeader(status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) respondError(w http.ResponseWriter, status int, err error) {
	if err == nil {
		err = errors.New("unknown error")
	}
	payload := map[string]any{"error": err.Error()}
	var pe *session.PreconditionError
	if errors.As(err, &pe) {
		payload["field"] = pe.Field
	}
	if te, ok := adapter.AsTransportError(err); ok {
		payload["kind"] = te.Kind
		if te.StatusCode != 0 {
			payload["upstream_status"] = te.StatusCode
		}
	}
	s.respondJSON(w, status, payload)
}

// errorStatus maps engine and transport errors onto HTTP status codes.
func errorStatus(err error) int {
	var pe *session.PreconditionError
	switch {
	case errors.Is(err, session.ErrAlreadyStreaming):
		return http.StatusConflict
	case errors.As(err, &pe):
		return http.StatusUnprocessableEntity
	case errors.Is(err, adapter.ErrRequestRejected), errors.Is(err, adapter.ErrStreamInterrupted):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
