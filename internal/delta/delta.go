// Package delta normalises provider-native stream frames into a single
// provider-agnostic increment.
package delta

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tokligence/chatstream/internal/ollama"
	"github.com/tokligence/chatstream/internal/openai"
	"github.com/tokligence/chatstream/internal/stream"
)

// Provider identifies the frame shape (and wire protocol) of a backend.
type Provider string

const (
	// ProviderOpenAI covers OpenAI and every OpenAI-compatible server: SSE framing,
	// choices[0].delta.content.
	ProviderOpenAI Provider = "openai"
	// ProviderOllama is Ollama's native API: NDJSON framing, message.content.
	ProviderOllama Provider = "ollama"
)

// ParseProvider maps a configuration value to a Provider.
func ParseProvider(s string) (Provider, error) {
	switch Provider(strings.ToLower(strings.TrimSpace(s))) {
	case ProviderOpenAI:
		return ProviderOpenAI, nil
	case ProviderOllama:
		return ProviderOllama, nil
	default:
		return "", fmt.Errorf("delta: unknown provider %q", s)
	}
}

// Framing returns the stream framing the provider uses.
func (p Provider) Framing() stream.Kind {
	if p == ProviderOllama {
		return stream.KindNDJSON
	}
	return stream.KindSSE
}

// Usage is a token-count summary. Providers usually report it on the last frame.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Delta is one normalised increment of a streamed completion.
type Delta struct {
	Content      string `json:"content,omitempty"`
	Reasoning    string `json:"reasoning,omitempty"`
	FinishReason string `json:"finish_reason,omitempty"`
	Usage        *Usage `json:"usage,omitempty"`
}

// Empty reports whether the delta carries nothing at all.
func (d Delta) Empty() bool {
	return d.Content == "" && d.Reasoning == "" && d.FinishReason == "" && d.Usage == nil
}

// Extract maps a raw frame onto a Delta. It never fails: frames of an
// unrecognised shape yield an empty Delta.
func Extract(frame []byte, p Provider) Delta {
	switch p {
	case ProviderOllama:
		return extractOllama(frame)
	case ProviderOpenAI:
		return extractOpenAI(frame)
	default:
		return Delta{}
	}
}

func extractOpenAI(frame []byte) Delta {
	var chunk openai.ChatCompletionChunk
	if err := json.Unmarshal(frame, &chunk); err != nil {
		return Delta{}
	}
	d := chunk.GetDelta()
	out := Delta{
		Content:   d.Content,
		Reasoning: d.ReasoningText(),
	}
	if fr := chunk.GetFinishReason(); fr != nil {
		out.FinishReason = *fr
	}
	if chunk.Usage != nil {
		out.Usage = &Usage{
			PromptTokens:     chunk.Usage.PromptTokens,
			CompletionTokens: chunk.Usage.CompletionTokens,
			TotalTokens:      chunk.Usage.TotalTokens,
		}
	}
	return out
}

func extractOllama(frame []byte) Delta {
	var chunk ollama.ChatChunk
	if err := json.Unmarshal(frame, &chunk); err != nil {
		return Delta{}
	}
	out := Delta{
		Content:   chunk.Message.Content,
		Reasoning: chunk.Message.Thinking,
	}
	if chunk.Done {
		out.FinishReason = chunk.DoneReason
		if out.FinishReason == "" {
			out.FinishReason = "stop"
		}
	}
	if chunk.PromptEvalCount > 0 || chunk.EvalCount > 0 {
		out.Usage = &Usage{
			PromptTokens:     chunk.PromptEvalCount,
			CompletionTokens: chunk.EvalCount,
			TotalTokens:      chunk.PromptEvalCount + chunk.EvalCount,
		}
	}
	return out
}
