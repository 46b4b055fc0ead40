package httpserver

import (
	"net/http"
	"time"

	"github.com/tokligence/chatstream/internal/health"
	"github.com/tokligence/chatstream/internal/version"
)

type healthEndpoint struct {
	server *Server
}

func newHealthEndpoint(server *Server) endpoint {
	return &healthEndpoint{server: server}
}

func (e *healthEndpoint) Name() string { return "health" }

func (e *healthEndpoint) Routes() []endpointRoute {
	return []endpointRoute{
		{Method: http.MethodGet, Path: "/health", Handler: http.HandlerFunc(e.server.HandleHealth)},
		{Method: http.MethodGet, Path: "/health/live", Handler: http.HandlerFunc(e.server.handleLive)},
	}
}

// HandleHealth reports component health plus adapter routing. Unhealthy
// storage answers 503; unreachable connections only degrade.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	payload := map[string]any{
		"status":  "ok",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": version.Info(),
	}
	status := http.StatusOK
	if s.checker != nil {
		hs := s.checker.Check(r.Context())
		payload["status"] = hs.Status
		payload["components"] = hs.Components
		if hs.Status == health.StatusUnhealthy {
			status = http.StatusServiceUnavailable
		}
	}
	if s.router != nil {
		payload["adapters"] = s.router.ListAdapters()
		payload["routes"] = s.router.ListRoutes()
		payload["cached_adapters"] = s.router.CachedAdapters()
	}
	if s.chat != nil {
		payload["active_streams"] = s.chat.Engine().Registry().ActiveCount()
	}
	s.respondJSON(w, status, payload)
}

// handleLive answers without touching storage or upstreams.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]any{"status": "ok", "version": version.Info()})
}
