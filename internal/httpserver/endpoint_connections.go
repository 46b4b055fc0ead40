package httpserver

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tokligence/chatstream/internal/adapter"
	"github.com/tokligence/chatstream/internal/connections"
)

const modelListTimeout = 15 * time.Second

type connectionsEndpoint struct {
	server *Server
}

func newConnectionsEndpoint(server *Server) endpoint {
	return &connectionsEndpoint{server: server}
}

func (e *connectionsEndpoint) Name() string { return "connections" }

func (e *connectionsEndpoint) Routes() []endpointRoute {
	return []endpointRoute{
		{Method: http.MethodGet, Path: "/v1/connections", Handler: http.HandlerFunc(e.server.handleListConnections)},
		{Method: http.MethodGet, Path: "/v1/connections/{id}/models", Handler: http.HandlerFunc(e.server.handleListModels)},
	}
}

type connectionView struct {
	connections.Connection
	HasAPIKey bool `json:"has_api_key"`
}

func (s *Server) handleListConnections(w http.ResponseWriter, r *http.Request) {
	list := s.chat.Resolver().Catalog().List()
	views := make([]connectionView, 0, len(list))
	for _, c := range list {
		views = append(views, connectionView{Connection: c, HasAPIKey: c.HasAPIKey()})
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"connections": views})
}

// handleListModels doubles as "test connection": a successful listing
// proves the endpoint and credentials work.
func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	conn, ok := s.chat.Resolver().Catalog().Get(id)
	if !ok {
		s.respondJSON(w, http.StatusNotFound, map[string]any{"error": "unknown connection " + id})
		return
	}
	if s.router == nil {
		s.respondJSON(w, http.StatusNotImplemented, map[string]any{"error": "model listing unavailable"})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), modelListTimeout)
	defer cancel()
	models, err := s.router.ListModels(ctx, conn.Adapter())
	if err != nil {
		status := http.StatusBadGateway
		if _, ok := adapter.AsTransportError(err); !ok && !errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusUnprocessableEntity
		}
		s.logger.Printf("[WARN] list models connection=%s: %v", id, err)
		s.respondError(w, status, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"connection": id, "models": models})
}
