package router

import (
	"time"

	"github.com/tokligence/chatstream/internal/adapter"
	"github.com/tokligence/chatstream/internal/adapter/loopback"
	"github.com/tokligence/chatstream/internal/adapter/ollama"
	"github.com/tokligence/chatstream/internal/adapter/openai"
	"github.com/tokligence/chatstream/internal/delta"
)

// NewDefault returns a router with the OpenAI and Ollama factories and the
// loopback adapter registered.
func NewDefault(cacheSize int, requestTimeout time.Duration) (*Router, error) {
	r, err := New(cacheSize)
	if err != nil {
		return nil, err
	}
	_ = r.RegisterFactory(delta.ProviderOpenAI, func(conn adapter.Connection) (adapter.StreamingChatAdapter, error) {
		return openai.New(openai.Config{
			APIKey:         conn.APIKey,
			BaseURL:        conn.BaseURL,
			Headers:        conn.Headers,
			RequestTimeout: requestTimeout,
		})
	})
	_ = r.RegisterFactory(delta.ProviderOllama, func(conn adapter.Connection) (adapter.StreamingChatAdapter, error) {
		return ollama.New(ollama.Config{
			BaseURL:        conn.BaseURL,
			Headers:        conn.Headers,
			RequestTimeout: requestTimeout,
		})
	})
	_ = r.RegisterAdapter(loopback.Name, loopback.New())
	return r, nil
}
