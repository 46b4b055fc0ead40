// Package ollama holds the wire types of Ollama's native /api endpoints.
package ollama

// ChatRequest is the body of POST /api/chat.
type ChatRequest struct {
	Model    string        `json:"model"`
	Messages []ChatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
	Think    *bool         `json:"think,omitempty"`
	Options  *Options      `json:"options,omitempty"`
}

// Options carries sampling parameters; num_predict is Ollama's max_tokens.
type Options struct {
	Temperature *float64 `json:"temperature,omitempty"`
	NumPredict  *int     `json:"num_predict,omitempty"`
}

// ChatMessage is a single turn. Thinking is populated by reasoning models.
type ChatMessage struct {
	Role     string `json:"role"`
	Content  string `json:"content"`
	Thinking string `json:"thinking,omitempty"`
}

// ChatChunk is one NDJSON line of a streaming /api/chat response and also the
// whole body of a non-streaming one.
type ChatChunk struct {
	Model      string      `json:"model"`
	CreatedAt  string      `json:"created_at,omitempty"`
	Message    ChatMessage `json:"message"`
	Done       bool        `json:"done"`
	DoneReason string      `json:"done_reason,omitempty"`
	// Counters are reported on the final line only.
	PromptEvalCount int    `json:"prompt_eval_count,omitempty"`
	EvalCount       int    `json:"eval_count,omitempty"`
	Error           string `json:"error,omitempty"`
}

// TagsResponse is the body of GET /api/tags.
type TagsResponse struct {
	Models []Tag `json:"models"`
}

// Tag describes one locally available model.
type Tag struct {
	Name       string `json:"name"`
	Model      string `json:"model,omitempty"`
	ModifiedAt string `json:"modified_at,omitempty"`
	Size       int64  `json:"size,omitempty"`
}

// ErrorResponse is the body Ollama returns on non-2xx status.
type ErrorResponse struct {
	Error string `json:"error"`
}
