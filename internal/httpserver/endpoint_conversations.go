package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tokligence/chatstream/internal/chat"
	"github.com/tokligence/chatstream/internal/delta"
	"github.com/tokligence/chatstream/internal/session"
)

const maxSendBody = 1 << 20

type conversationsEndpoint struct {
	server *Server
}

func newConversationsEndpoint(server *Server) endpoint {
	return &conversationsEndpoint{server: server}
}

func (e *conversationsEndpoint) Name() string { return "conversations" }

func (e *conversationsEndpoint) Routes() []endpointRoute {
	return []endpointRoute{
		{Method: http.MethodPost, Path: "/v1/conversations/{id}/messages", Handler: http.HandlerFunc(e.server.handleSend)},
		{Method: http.MethodGet, Path: "/v1/conversations/{id}/messages", Handler: http.HandlerFunc(e.server.handleHistory)},
		{Method: http.MethodGet, Path: "/v1/conversations/{id}/stream", Handler: http.HandlerFunc(e.server.handleStreamStatus)},
		{Method: http.MethodDelete, Path: "/v1/conversations/{id}/stream", Handler: http.HandlerFunc(e.server.handleCancel)},
	}
}

// sendResult is the JSON body of a non-SSE send.
type sendResult struct {
	ConversationID string       `json:"conversation_id"`
	RequestID      string       `json:"request_id"`
	MessageID      string       `json:"message_id"`
	Status         string       `json:"status"`
	Content        string       `json:"content"`
	Reasoning      string       `json:"reasoning,omitempty"`
	FinishReason   string       `json:"finish_reason,omitempty"`
	Usage          *delta.Usage `json:"usage,omitempty"`
	Incomplete     bool         `json:"incomplete,omitempty"`
	DurationMS     int64        `json:"duration_ms"`
	Error          string       `json:"error,omitempty"`
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var req chat.SendRequest
	body, err := io.ReadAll(io.LimitReader(r.Body, maxSendBody))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}
	if err := json.Unmarshal(body, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, fmt.Errorf("invalid JSON body: %w", err))
		return
	}
	req.ConversationID = chi.URLParam(r, "id")

	send, err := s.chat.Send(r.Context(), req)
	if err != nil {
		status := errorStatus(err)
		if status == http.StatusInternalServerError {
			s.logger.Printf("[ERROR] send conversation=%s: %v", req.ConversationID, err)
		}
		s.respondError(w, status, err)
		return
	}

	if raw := r.URL.Query().Get("stream"); raw != "" {
		if stream, err := strconv.ParseBool(raw); err == nil && !stream {
			s.respondOutcome(w, r, send)
			return
		}
	}
	s.streamSnapshots(w, r, send)
}

func (s *Server) respondOutcome(w http.ResponseWriter, r *http.Request, send *chat.Send) {
	go func() {
		for range send.Controller.Snapshots() {
		}
	}()
	select {
	case <-send.Done():
	case <-r.Context().Done():
		return
	}
	out := send.Outcome()
	res := sendResult{
		ConversationID: out.ConversationID,
		RequestID:      out.RequestID,
		MessageID:      send.Assistant.ID,
		Status:         string(out.Status),
		Content:        out.Content,
		Reasoning:      out.Reasoning,
		FinishReason:   out.FinishReason,
		Usage:          out.Usage,
		Incomplete:     out.Incomplete,
		DurationMS:     out.Duration.Milliseconds(),
	}
	status := http.StatusOK
	if out.Status == session.StatusFailed && out.Err != nil {
		res.Error = out.Err.Error()
		status = errorStatus(out.Err)
	}
	s.respondJSON(w, status, res)
}

// streamSnapshots relays the attempt as SSE: "snapshot" events carry
// cumulative state, a single "done" event carries the final snapshot.
// A client going away stops the relay but not the attempt.
func (s *Server) streamSnapshots(w http.ResponseWriter, r *http.Request, send *chat.Send) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.respondOutcome(w, r, send)
		return
	}
	ctrl := send.Controller
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Request-Id", ctrl.RequestID())
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ping := time.NewTicker(s.ssePingInterval)
	defer ping.Stop()
	registry := s.chat.Engine().Registry()

	for {
		select {
		case snap, open := <-ctrl.Snapshots():
			if !open {
				return
			}
			if !snap.Final && !snap.Current(registry) {
				continue
			}
			event := "snapshot"
			if snap.Final {
				event = "done"
			}
			if err := writeSSE(w, event, snap); err != nil {
				s.debugf("sse write conversation=%s: %v", ctrl.ConversationID(), err)
				go drainSnapshots(ctrl)
				return
			}
			flusher.Flush()
		case <-ping.C:
			if _, err := io.WriteString(w, ": ping\n\n"); err != nil {
				go drainSnapshots(ctrl)
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			s.debugf("sse client gone conversation=%s request=%s", ctrl.ConversationID(), ctrl.RequestID())
			go drainSnapshots(ctrl)
			return
		}
	}
}

func drainSnapshots(ctrl *session.Controller) {
	for range ctrl.Snapshots() {
	}
}

func writeSSE(w io.Writer, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			s.respondError(w, http.StatusBadRequest, errors.New("invalid limit"))
			return
		}
		limit = n
	}
	id := chi.URLParam(r, "id")
	msgs, err := s.chat.History(r.Context(), id, limit)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"conversation_id": id, "messages": msgs})
}

func (s *Server) handleStreamStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	requestID, active := s.chat.Active(id)
	payload := map[string]any{"conversation_id": id, "streaming": active}
	if active {
		payload["request_id"] = requestID
	}
	s.respondJSON(w, http.StatusOK, payload)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	// Cancelling an idle conversation is a no-op, not an error.
	cancelled := s.chat.Cancel(id)
	s.respondJSON(w, http.StatusOK, map[string]any{"conversation_id": id, "cancelled": cancelled})
}
