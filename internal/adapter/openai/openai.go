package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tokligence/chatstream/internal/adapter"
	"github.com/tokligence/chatstream/internal/delta"
	"github.com/tokligence/chatstream/internal/openai"
)

var (
	_ adapter.StreamingChatAdapter = (*OpenAIAdapter)(nil)
	_ adapter.ChatCompleter        = (*OpenAIAdapter)(nil)
	_ adapter.ModelLister          = (*OpenAIAdapter)(nil)
)

const defaultBaseURL = "https://api.openai.com/v1"

// OpenAIAdapter talks to OpenAI and any OpenAI-compatible server (vLLM,
// LM Studio, OpenRouter, Ollama's /v1 facade) over SSE.
type OpenAIAdapter struct {
	apiKey         string
	baseURL        string
	org            string
	headers        map[string]string
	httpClient     *http.Client
	requestTimeout time.Duration
}

// Config holds configuration for the OpenAI adapter.
type Config struct {
	APIKey         string            // optional; local servers often need none
	BaseURL        string            // optional, defaults to https://api.openai.com/v1
	Organization   string            // optional
	Headers        map[string]string // optional extra headers
	RequestTimeout time.Duration     // handshake timeout for streams, total timeout otherwise
	HTTPClient     *http.Client      // optional
}

// New creates an OpenAIAdapter instance.
func New(cfg Config) (*OpenAIAdapter, error) {
	timeout := cfg.RequestTimeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	client := cfg.HTTPClient
	if client == nil {
		client = adapter.NewHTTPClient(timeout)
	}
	return &OpenAIAdapter{
		apiKey:         cfg.APIKey,
		baseURL:        adapter.TrimBaseURL(cfg.BaseURL, defaultBaseURL),
		org:            cfg.Organization,
		headers:        cfg.Headers,
		httpClient:     client,
		requestTimeout: timeout,
	}, nil
}

// StreamCompletion posts a streaming chat completion and pumps its SSE body.
func (a *OpenAIAdapter) StreamCompletion(ctx context.Context, req adapter.Request, onDelta adapter.DeltaFunc) (adapter.Result, error) {
	if err := req.Validate(); err != nil {
		return adapter.Result{}, adapter.Rejected(0, "openai: "+err.Error(), err)
	}
	payload := a.buildRequest(req)
	payload.Stream = true
	payload.StreamOptions = &openai.StreamOptions{IncludeUsage: true}

	httpReq, err := a.newRequest(ctx, http.MethodPost, "/chat/completions", payload)
	if err != nil {
		return adapter.Result{}, adapter.Rejected(0, "openai: "+err.Error(), err)
	}
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := adapter.Handshake(ctx, a.httpClient, httpReq)
	if err != nil {
		return adapter.Result{}, err
	}
	defer resp.Body.Close()

	res, err := adapter.Pump(ctx, resp.Body, delta.ProviderOpenAI, onDelta)
	if err != nil {
		return adapter.Result{}, err
	}
	res.Model = req.Model
	return res, nil
}

// CreateCompletion sends a non-streaming chat completion request.
func (a *OpenAIAdapter) CreateCompletion(ctx context.Context, req adapter.Request) (adapter.Result, error) {
	if err := req.Validate(); err != nil {
		return adapter.Result{}, adapter.Rejected(0, "openai: "+err.Error(), err)
	}
	ctx, cancel := context.WithTimeout(ctx, a.requestTimeout)
	defer cancel()

	httpReq, err := a.newRequest(ctx, http.MethodPost, "/chat/completions", a.buildRequest(req))
	if err != nil {
		return adapter.Result{}, adapter.Rejected(0, "openai: "+err.Error(), err)
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
		return adapter.Result{}, adapter.Interrupted("", "", fmt.Errorf("openai: read response: %w", err))
	}
	var completion openai.ChatCompletionResponse
	if err := json.Unmarshal(body, &completion); err != nil {
		return adapter.Result{}, adapter.Interrupted("", "", fmt.Errorf("openai: unmarshal response: %w", err))
	}
	choice := completion.FirstChoice()
	res := adapter.Result{
		Model:        firstNonEmpty(completion.Model, req.Model),
		Content:      choice.Message.Content,
		Reasoning:    choice.Message.ReasoningContent,
		FinishReason: choice.FinishReason,
	}
	if completion.Usage != nil {
		res.Usage = &delta.Usage{
			PromptTokens:     completion.Usage.PromptTokens,
			CompletionTokens: completion.Usage.CompletionTokens,
			TotalTokens:      completion.Usage.TotalTokens,
		}
	}
	return res, nil
}

// ListModels fetches GET {base}/models.
func (a *OpenAIAdapter) ListModels(ctx context.Context) ([]adapter.Model, error) {
	ctx, cancel := context.WithTimeout(ctx, a.requestTimeout)
	defer cancel()

	httpReq, err := a.newRequest(ctx, http.MethodGet, "/models", nil)
	if err != nil {
		return nil, fmt.Errorf("openai: %w", err)
	}
	resp, err := adapter.Handshake(ctx, a.httpClient, httpReq)
	if err != nil {
		return nil, fmt.Errorf("openai: list models: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("openai: read models: %w", err)
	}
	models, err := openai.DecodeModels(body)
	if err != nil {
		return nil, err
	}
	out := make([]adapter.Model, 0, len(models))
	for _, m := range models {
		out = append(out, adapter.Model{ID: m.ID, Name: m.Name, OwnedBy: m.OwnedBy})
	}
	return out, nil
}

func (a *OpenAIAdapter) buildRequest(req adapter.Request) openai.ChatCompletionRequest {
	msgs := make([]openai.ChatMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		msgs = append(msgs, openai.ChatMessage{Role: m.Role, Content: m.Content})
	}
	return openai.ChatCompletionRequest{
		Model:           req.Model,
		Messages:        msgs,
		Temperature:     req.Temperature,
		MaxTokens:       req.MaxTokens,
		ReasoningEffort: req.ReasoningEffort,
	}
}

func (a *OpenAIAdapter) newRequest(ctx context.Context, method, path string, payload any) (*http.Request, error) {
	httpReq, err := adapter.NewJSONRequest(ctx, method, a.baseURL+path, payload, a.headers)
	if err != nil {
		return nil, err
	}
	if a.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)
	}
	if a.org != "" {
		httpReq.Header.Set("OpenAI-Organization", a.org)
	}
	return httpReq, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
