package httpserver

import (
	"io"
	"net/http"

	"github.com/tokligence/chatstream/internal/metrics"
)

type metricsEndpoint struct {
	server *Server
}

func newMetricsEndpoint(server *Server) endpoint {
	return &metricsEndpoint{server: server}
}

func (e *metricsEndpoint) Name() string { return "metrics" }

func (e *metricsEndpoint) Routes() []endpointRoute {
	return []endpointRoute{
		{Method: http.MethodGet, Path: "/metrics", Handler: http.HandlerFunc(e.server.handleMetrics)},
	}
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	snap := s.metrics.GetSnapshot()
	if s.chat != nil {
		snap.ActiveStreams = int64(s.chat.Engine().Registry().ActiveCount())
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, metrics.FormatPrometheus(snap))
}
