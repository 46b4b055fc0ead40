package httpserver

import (
	"net/http"
	"strconv"
)

type usageEndpoint struct {
	server *Server
}

func newUsageEndpoint(server *Server) endpoint {
	return &usageEndpoint{server: server}
}

func (e *usageEndpoint) Name() string { return "usage" }

func (e *usageEndpoint) Routes() []endpointRoute {
	return []endpointRoute{
		{Method: http.MethodGet, Path: "/v1/usage/summary", Handler: http.HandlerFunc(e.server.handleUsageSummary)},
		{Method: http.MethodGet, Path: "/v1/usage/recent", Handler: http.HandlerFunc(e.server.handleUsageRecent)},
	}
}

func (s *Server) handleUsageSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.ledger.Summary(r.Context(), r.URL.Query().Get("conversation"))
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	s.respondJSON(w, http.StatusOK, summary)
}

func (s *Server) handleUsageRecent(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			s.respondJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid limit"})
			return
		}
		limit = n
	}
	entries, err := s.ledger.ListRecent(r.Context(), r.URL.Query().Get("conversation"), limit)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"entries": entries})
}
