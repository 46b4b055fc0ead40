// Package ollama implements the adapter for Ollama's native /api endpoints.
package ollama

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tokligence/chatstream/internal/adapter"
	"github.com/tokligence/chatstream/internal/delta"
	"github.com/tokligence/chatstream/internal/ollama"
)

var (
	_ adapter.StreamingChatAdapter = (*OllamaAdapter)(nil)
	_ adapter.ChatCompleter        = (*OllamaAdapter)(nil)
	_ adapter.ModelLister          = (*OllamaAdapter)(nil)
)

const defaultBaseURL = "http://localhost:11434"

// OllamaAdapter streams NDJSON from POST /api/chat.
type OllamaAdapter struct {
	baseURL        string
	headers        map[string]string
	httpClient     *http.Client
	requestTimeout time.Duration
}

// Config holds configuration for the Ollama adapter.
type Config struct {
	// BaseURL may be given with or without the OpenAI-compatible /v1 suffix.
	BaseURL        string
	Headers        map[string]string
	RequestTimeout time.Duration
	HTTPClient     *http.Client
}

// New creates an OllamaAdapter.
func New(cfg Config) (*OllamaAdapter, error) {
	timeout := cfg.RequestTimeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	client := cfg.HTTPClient
	if client == nil {
		client = adapter.NewHTTPClient(timeout)
	}
	return &OllamaAdapter{
		baseURL:        NativeBaseURL(cfg.BaseURL),
		headers:        cfg.Headers,
		httpClient:     client,
		requestTimeout: timeout,
	}, nil
}

// NativeBaseURL strips a trailing /v1 so the native /api routes resolve.
func NativeBaseURL(raw string) string {
	base := adapter.TrimBaseURL(raw, defaultBaseURL)
	return strings.TrimSuffix(base, "/v1")
}

// StreamCompletion posts to /api/chat with stream=true and pumps the NDJSON body.
func (a *OllamaAdapter) StreamCompletion(ctx context.Context, req adapter.Request, onDelta adapter.DeltaFunc) (adapter.Result, error) {
	if err := req.Validate(); err != nil {
		return adapter.Result{}, adapter.Rejected(0, "ollama: "+err.Error(), err)
	}
	payload := buildRequest(req)
	payload.Stream = true

	httpReq, err := adapter.NewJSONRequest(ctx, http.MethodPost, a.baseURL+"/api/chat", payload, a.headers)
	if err != nil {
		return adapter.Result{}, adapter.Rejected(0, "ollama: "+err.Error(), err)
	}
	httpReq.Header.Set("Accept", "application/x-ndjson")

	resp, err := adapter.Handshake(ctx, a.httpClient, httpReq)
	if err != nil {
		return adapter.Result{}, err
	}
	defer resp.Body.Close()

	res, err := adapter.Pump(ctx, resp.Body, delta.ProviderOllama, onDelta)
	if err != nil {
		return adapter.Result{}, err
	}
	res.Model = req.Model
	return res, nil
}

// CreateCompletion posts to /api/chat with stream=false.
func (a *OllamaAdapter) CreateCompletion(ctx context.Context, req adapter.Request) (adapter.Result, error) {
	if err := req.Validate(); err != nil {
		return adapter.Result{}, adapter.Rejected(0, "ollama: "+err.Error(), err)
	}
	ctx, cancel := context.WithTimeout(ctx, a.requestTimeout)
	defer cancel()

	httpReq, err := adapter.NewJSONRequest(ctx, http.MethodPost, a.baseURL+"/api/chat", buildRequest(req), a.headers)
	if err != nil {
		return adapter.Result{}, adapter.Rejected(0, "ollama: "+err.Error(), err)
	}
	resp, err := adapter.Handshake(ctx, a.httpClient, httpReq)
	if err != nil {
		return adapter.Result{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return adapter.Result{}, adapter.Cancelled("", "", ctxErr)
		}
		return adapter.Result{}, adapter.Interrupted("", "", fmt.Errorf("ollama: read response: %w", err))
	}
	var chunk ollama.ChatChunk
	if err := json.Unmarshal(body, &chunk); err != nil {
		return adapter.Result{}, adapter.Interrupted("", "", fmt.Errorf("ollama: unmarshal response: %w", err))
	}
	if chunk.Error != "" {
		return adapter.Result{}, adapter.Rejected(resp.StatusCode, chunk.Error, nil)
	}
	d := delta.Extract(body, delta.ProviderOllama)
	model := chunk.Model
	if model == "" {
		model = req.Model
	}
	return adapter.Result{
		Model:        model,
		Content:      d.Content,
		Reasoning:    d.Reasoning,
		FinishReason: d.FinishReason,
		Usage:        d.Usage,
	}, nil
}

// ListModels fetches GET /api/tags.
func (a *OllamaAdapter) ListModels(ctx context.Context) ([]adapter.Model, error) {
	ctx, cancel := context.WithTimeout(ctx, a.requestTimeout)
	defer cancel()

	httpReq, err := adapter.NewJSONRequest(ctx, http.MethodGet, a.baseURL+"/api/tags", nil, a.headers)
	if err != nil {
		return nil, fmt.Errorf("ollama: %w", err)
	}
	resp, err := adapter.Handshake(ctx, a.httpClient, httpReq)
	if err != nil {
		return nil, fmt.Errorf("ollama: list models: %w", err)
	}
	defer resp.Body.Close()

	var tags ollama.TagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, fmt.Errorf("ollama: decode tags: %w", err)
	}
	out := make([]adapter.Model, 0, len(tags.Models))
	for _, t := range tags.Models {
		if t.Name == "" {
			continue
		}
		out = append(out, adapter.Model{ID: t.Name, Name: t.Name, OwnedBy: "ollama"})
	}
	return out, nil
}

func buildRequest(req adapter.Request) ollama.ChatRequest {
	msgs := make([]ollama.ChatMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		msgs = append(msgs, ollama.ChatMessage{Role: m.Role, Content: m.Content})
	}
	out := ollama.ChatRequest{Model: req.Model, Messages: msgs}
	if req.Temperature != nil || req.MaxTokens != nil {
		out.Options = &ollama.Options{Temperature: req.Temperature, NumPredict: req.MaxTokens}
	}
	if req.ReasoningEffort != "" {
		think := req.ReasoningEffort != "none"
		out.Think = &think
	}
	return out
}
