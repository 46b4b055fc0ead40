package openai

// ChatCompletionChunk represents one `data:` payload of an SSE chat stream.
type ChatCompletionChunk struct {
	ID      string                      `json:"id"`
	Object  string                      `json:"object"`
	Created int64                       `json:"created"`
	Model   string                      `json:"model"`
	Choices []ChatCompletionChunkChoice `json:"choices"`
	// Usage is only set on the trailing chunk when stream_options.include_usage is on.
	Usage *UsageBreakdown `json:"usage,omitempty"`
}

// ChatCompletionChunkChoice represents a choice in a streaming chunk.
type ChatCompletionChunkChoice struct {
	Index        int              `json:"index"`
	Delta        ChatMessageDelta `json:"delta"`
	FinishReason *string          `json:"finish_reason"`
}

// ChatMessageDelta represents the incremental content in a stream chunk.
type ChatMessageDelta struct {
	Role             string `json:"role,omitempty"`
	Content          string `json:"content,omitempty"`
	ReasoningContent string `json:"reasoning_content,omitempty"`
	// Reasoning is the field name used by OpenRouter and Ollama's OpenAI facade.
	Reasoning string `json:"reasoning,omitempty"`
}

// GetDelta returns the first choice's delta, or a zero delta when there are no choices.
func (c *ChatCompletionChunk) GetDelta() ChatMessageDelta {
	if len(c.Choices) > 0 {
		return c.Choices[0].Delta
	}
	return ChatMessageDelta{}
}

// GetFinishReason returns the first choice's finish reason, if any.
func (c *ChatCompletionChunk) GetFinishReason() *string {
	if len(c.Choices) > 0 {
		return c.Choices[0].FinishReason
	}
	return nil
}

// ReasoningText prefers reasoning_content and falls back to reasoning.
func (d ChatMessageDelta) ReasoningText() string {
	if d.ReasoningContent != "" {
		return d.ReasoningContent
	}
	return d.Reasoning
}
