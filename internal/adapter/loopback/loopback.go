package loopback

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/tokligence/chatstream/internal/adapter"
	"github.com/tokligence/chatstream/internal/delta"
	"github.com/tokligence/chatstream/internal/openai"
	"github.com/tokligence/chatstream/internal/stream"
)

var (
	_ adapter.StreamingChatAdapter = (*LoopbackAdapter)(nil)
	_ adapter.ChatCompleter        = (*LoopbackAdapter)(nil)
	_ adapter.ModelLister          = (*LoopbackAdapter)(nil)
)

// Name is the adapter name connections use to select the loopback backend.
const Name = "loopback"

// LoopbackAdapter echoes the last user message back to the caller. Streams
// are rendered as OpenAI SSE and decoded through the same pump as a real
// upstream, one word per frame.
type LoopbackAdapter struct {
	// Delay is slept between frames.
	Delay time.Duration
}

// New creates a LoopbackAdapter instance.
func New() *LoopbackAdapter {
	return &LoopbackAdapter{}
}

// StreamCompletion streams the echo word by word.
func (a *LoopbackAdapter) StreamCompletion(ctx context.Context, req adapter.Request, onDelta adapter.DeltaFunc) (adapter.Result, error) {
	if err := req.Validate(); err != nil {
		return adapter.Result{}, adapter.Rejected(0, "loopback: "+err.Error(), err)
	}
	reply := echo(req)
	usage := estimateUsage(req, reply)

	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(a.writeSSE(ctx, pw, req.Model, reply, usage))
	}()
	defer pr.Close()

	res, err := adapter.Pump(ctx, pr, delta.ProviderOpenAI, onDelta)
	if err != nil {
		return adapter.Result{}, err
	}
	res.Model = req.Model
	return res, nil
}

// CreateCompletion fabricates a deterministic completion.
func (a *LoopbackAdapter) CreateCompletion(ctx context.Context, req adapter.Request) (adapter.Result, error) {
	if err := req.Validate(); err != nil {
		return adapter.Result{}, adapter.Rejected(0, "loopback: "+err.Error(), err)
	}
	reply := echo(req)
	u := estimateUsage(req, reply)
	return adapter.Result{
		Model:        req.Model,
		Content:      reply,
		FinishReason: "stop",
		Usage:        &delta.Usage{PromptTokens: u.PromptTokens, CompletionTokens: u.CompletionTokens, TotalTokens: u.TotalTokens},
	}, nil
}

// ListModels reports the single loopback model.
func (a *LoopbackAdapter) ListModels(context.Context) ([]adapter.Model, error) {
	return []adapter.Model{{ID: Name, Name: Name, OwnedBy: "chatstream"}}, nil
}

func (a *LoopbackAdapter) writeSSE(ctx context.Context, w io.Writer, model, reply string, usage openai.UsageBreakdown) error {
	words := splitWords(reply)
	for i, word := range words {
		if i > 0 && a.Delay > 0 {
			select {
			case <-time.After(a.Delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		chunk := openai.ChatCompletionChunk{
			ID:     "chatcmpl-loopback",
			Object: "chat.completion.chunk",
			Model:  model,
			Choices: []openai.ChatCompletionChunkChoice{{
				Index: 0,
				Delta: openai.ChatMessageDelta{Content: word},
			}},
		}
		if err := writeFrame(w, chunk); err != nil {
			return err
		}
	}
	stop := "stop"
	final := openai.ChatCompletionChunk{
		ID:      "chatcmpl-loopback",
		Object:  "chat.completion.chunk",
		Model:   model,
		Choices: []openai.ChatCompletionChunkChoice{{Index: 0, FinishReason: &stop}},
		Usage:   &usage,
	}
	if err := writeFrame(w, final); err != nil {
		return err
	}
	_, err := io.WriteString(w, "data: "+stream.DoneSentinel+"\n\n")
	return err
}

func writeFrame(w io.Writer, chunk openai.ChatCompletionChunk) error {
	raw, err := json.Marshal(chunk)
	if err != nil {
		return fmt.Errorf("loopback: marshal chunk: %w", err)
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", raw)
	return err
}

func echo(req adapter.Request) string {
	message := req.Messages[len(req.Messages)-1]
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if strings.ToLower(req.Messages[i].Role) == "user" {
			message = req.Messages[i]
			break
		}
	}
	return "[loopback] " + strings.TrimSpace(message.Content)
}

// splitWords keeps the separating space on each word so the pieces
// concatenate back to the input.
func splitWords(s string) []string {
	var out []string
	for s != "" {
		i := strings.IndexByte(s, ' ')
		if i < 0 {
			out = append(out, s)
			break
		}
		out = append(out, s[:i+1])
		s = s[i+1:]
	}
	return out
}

func estimateUsage(req adapter.Request, reply string) openai.UsageBreakdown {
	prompt := len(req.Messages) * 10
	completion := len(reply) / 4
	return openai.UsageBreakdown{
		PromptTokens:     prompt,
		CompletionTokens: completion,
		TotalTokens:      prompt + completion,
	}
}
