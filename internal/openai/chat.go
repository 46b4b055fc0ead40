package openai

import "time"

// ChatCompletionRequest captures the subset of OpenAI's request we send upstream.
type ChatCompletionRequest struct {
	Model           string         `json:"model"`
	Messages        []ChatMessage  `json:"messages"`
	Stream          bool           `json:"stream,omitempty"`
	StreamOptions   *StreamOptions `json:"stream_options,omitempty"`
	Temperature     *float64       `json:"temperature,omitempty"`
	MaxTokens       *int           `json:"max_tokens,omitempty"`
	ReasoningEffort string         `json:"reasoning_effort,omitempty"`
}

// StreamOptions asks compatible servers to append a usage-only chunk before [DONE].
type StreamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

// ChatMessage follows OpenAI's role/content schema (plain text only).
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	// Reasoning is returned by some OpenAI-compatible servers (vLLM, DeepSeek, LM Studio).
	ReasoningContent string `json:"reasoning_content,omitempty"`
}

// ChatCompletionResponse mirrors the OpenAI schema for non-streaming calls.
type ChatCompletionResponse struct {
	ID      string                 `json:"id"`
	Object  string                 `json:"object"`
	Created int64                  `json:"created"`
	Model   string                 `json:"model"`
	Choices []ChatCompletionChoice `json:"choices"`
	Usage   *UsageBreakdown        `json:"usage,omitempty"`
}

// ChatCompletionChoice contains the generated message.
type ChatCompletionChoice struct {
	Index        int         `json:"index"`
	FinishReason string      `json:"finish_reason"`
	Message      ChatMessage `json:"message"`
}

// UsageBreakdown is OpenAI's token accounting block.
type UsageBreakdown struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ErrorResponse is the body OpenAI-compatible servers return on non-2xx status.
type ErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    any    `json:"code"`
	} `json:"error"`
}

// FirstChoice returns the first choice or a zero value.
func (r ChatCompletionResponse) FirstChoice() ChatCompletionChoice {
	if len(r.Choices) == 0 {
		return ChatCompletionChoice{}
	}
	return r.Choices[0]
}

// NewCompletionResponse builds a response with the provided message.
func NewCompletionResponse(model string, message ChatMessage, usage UsageBreakdown) ChatCompletionResponse {
	return ChatCompletionResponse{
		ID:      "cmpl-loopback",
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   model,
		Choices: []ChatCompletionChoice{{
			Index:        0,
			FinishReason: "stop",
			Message:      message,
		}},
		Usage: &usage,
	}
}
