package chat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/tokligence/chatstream/internal/adapter"
	"github.com/tokligence/chatstream/internal/ledger"
	"github.com/tokligence/chatstream/internal/messagestore"
	"github.com/tokligence/chatstream/internal/metrics"
	"github.com/tokligence/chatstream/internal/resolver"
	"github.com/tokligence/chatstream/internal/session"
)

// Service ties the engine to persistence: it stores the user turn and an
// assistant placeholder, starts the attempt, and writes the terminal state
// and a ledger entry once the attempt ends.
type Service struct {
	engine        *session.Engine
	resolver      *resolver.Resolver
	messages      *messagestore.Store
	ledger        ledger.Store
	metrics       *metrics.Collector
	historyLimit  int
	streamEnabled bool
	logger        *log.Logger
	wg            sync.WaitGroup
}

// Config wires a Service. Ledger and Metrics may be nil.
type Config struct {
	Engine        *session.Engine
	Resolver      *resolver.Resolver
	Messages      *messagestore.Store
	Ledger        ledger.Store
	Metrics       *metrics.Collector
	HistoryLimit  int
	StreamEnabled bool
	Logger        *log.Logger
}

// New returns a Service.
func New(cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Service{
		engine:        cfg.Engine,
		resolver:      cfg.Resolver,
		messages:      cfg.Messages,
		ledger:        cfg.Ledger,
		metrics:       cfg.Metrics,
		historyLimit:  cfg.HistoryLimit,
		streamEnabled: cfg.StreamEnabled,
		logger:        logger,
	}
}

// SendRequest is one user turn.
type SendRequest struct {
	ConversationID string             `json:"-"`
	Content        string             `json:"content"`
	Overrides      resolver.Overrides `json:"overrides"`
	// Stream overrides the configured stream_enabled default.
	Stream *bool `json:"stream,omitempty"`
}

// Send is a started attempt.
type Send struct {
	Controller *session.Controller
	User       messagestore.Message
	Assistant  messagestore.Message

	done    chan struct{}
	outcome session.Outcome
}

// Done is closed after the outcome has been persisted.
func (s *Send) Done() <-chan struct{} { return s.done }

// Outcome returns the terminal outcome. Valid after Done is closed.
func (s *Send) Outcome() session.Outcome {
	<-s.done
	return s.outcome
}

// Engine returns the underlying engine.
func (s *Service) Engine() *session.Engine { return s.engine }

// Resolver returns the context resolver.
func (s *Service) Resolver() *resolver.Resolver { return s.resolver }

// Messages returns the message store.
func (s *Service) Messages() *messagestore.Store { return s.messages }

// Send starts an attempt for req. The attempt is not bound to ctx's
// cancellation; use Cancel or Send.Controller.Cancel to stop it.
func (s *Service) Send(ctx context.Context, req SendRequest) (*Send, error) {
	if strings.TrimSpace(req.Content) == "" {
		return nil, &session.PreconditionError{Field: "content", Reason: "is empty"}
	}
	if _, busy := s.engine.Active(req.ConversationID); busy {
		return nil, fmt.Errorf("%w: %s", session.ErrAlreadyStreaming, req.ConversationID)
	}
	history, err := s.messages.History(ctx, req.ConversationID, s.historyLimit)
	if err != nil {
		return nil, err
	}
	sctx, err := s.resolver.Resolve(req.Overrides, history)
	if err != nil {
		return nil, err
	}
	sctx.History = append(sctx.History, adapter.Message{Role: messagestore.RoleUser, Content: req.Content})

	stream := s.streamEnabled
	if req.Stream != nil {
		stream = *req.Stream
	}
	ctrl, err := s.engine.Start(context.WithoutCancel(ctx), session.Request{
		ConversationID: req.ConversationID,
		Context:        sctx,
		NonStreaming:   !stream,
	})
	if err != nil {
		return nil, err
	}

	send := &Send{Controller: ctrl, done: make(chan struct{})}
	user, err := s.messages.AppendUser(ctx, req.ConversationID, req.Content)
	if err == nil {
		send.User = user
		send.Assistant, err = s.messages.BeginAssistant(ctx, req.ConversationID, ctrl.RequestID(), sctx.Model)
	}
	if err != nil {
		ctrl.Cancel()
		<-ctrl.Done()
		return nil, fmt.Errorf("chat: persist turn: %w", err)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(send.done)
		out, _ := ctrl.Wait(context.Background())
		send.outcome = out
		s.persist(send.Assistant.ID, out)
	}()
	return send, nil
}

// persist writes the terminal state. Failures are logged; the outcome has
// already been delivered to the caller through the controller.
func (s *Service) persist(messageID string, out session.Outcome) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	final := messagestore.Final{
		Content:    out.Content,
		Reasoning:  out.Reasoning,
		Status:     string(out.Status),
		Incomplete: out.Incomplete,
		Usage:      out.Usage,
	}
	if out.Err != nil && out.Status == session.StatusFailed {
		final.Error = out.Err.Error()
	}
	if err := s.messages.Finalize(ctx, messageID, final); err != nil {
		s.logger.Printf("[ERROR] chat: finalize message %s: %v", messageID, err)
	}
	if s.metrics != nil {
		s.metrics.RecordOutcome(out)
	}
	if s.ledger == nil {
		return
	}
	if err := s.ledger.Record(ctx, ledger.FromOutcome(out)); err != nil {
		s.logger.Printf("[WARN] chat: record usage for %s: %v", out.RequestID, err)
	}
}

// Cancel stops the conversation's active attempt.
func (s *Service) Cancel(conversationID string) bool {
	return s.engine.Cancel(conversationID)
}

// Active reports the request id streaming for conversationID.
func (s *Service) Active(conversationID string) (string, bool) {
	return s.engine.Active(conversationID)
}

// History returns the stored conversation.
func (s *Service) History(ctx context.Context, conversationID string, limit int) ([]messagestore.Message, error) {
	return s.messages.History(ctx, conversationID, limit)
}

// Shutdown cancels active attempts and waits until their outcomes are
// persisted or ctx ends.
func (s *Service) Shutdown(ctx context.Context) error {
	err := s.engine.Shutdown(ctx)
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return err
	case <-ctx.Done():
		return errors.Join(err, ctx.Err())
	}
}
