package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/tokligence/chatstream/internal/adapter"
	"github.com/tokligence/chatstream/internal/delta"
	"github.com/tokligence/chatstream/internal/openai"
	"github.com/tokligence/chatstream/internal/testutil"
)

func contentFrame(text string) string {
	return testutil.SSEFrame(`{"id":"chatcmpl-test","object":"chat.completion.chunk","model":"gpt-4","choices":[{"index":0,"delta":{"content":` + quote(text) + `},"finish_reason":null}]}`)
}

func quote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func userRequest(text string) adapter.Request {
	return adapter.Request{
		Model:    "gpt-4",
		Messages: []adapter.Message{{Role: "user", Content: text}},
	}
}

func TestNew(t *testing.T) {
	tests := []struct {
		name     string
		cfg      Config
		wantBase string
	}{
		{
			name: "all fields",
			cfg: Config{
				APIKey:         "sk-test123",
				BaseURL:        "https://api.openai.com/v1/",
				Organization:   "org-123",
				RequestTimeout: 30 * time.Second,
			},
			wantBase: "https://api.openai.com/v1",
		},
		{
			name:     "no api key for local server",
			cfg:      Config{BaseURL: "http://localhost:1234/v1"},
			wantBase: "http://localhost:1234/v1",
		},
		{
			name:     "defaults",
			cfg:      Config{},
			wantBase: defaultBaseURL,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := New(tt.cfg)
			if err != nil {
				t.Fatalf("New() unexpected error = %v", err)
			}
			if a.baseURL != tt.wantBase {
				t.Errorf("baseURL = %q, want %q", a.baseURL, tt.wantBase)
			}
			if a.apiKey != tt.cfg.APIKey {
				t.Errorf("apiKey = %q, want %q", a.apiKey, tt.cfg.APIKey)
			}
		})
	}
}

func TestStreamCompletion_Success(t *testing.T) {
	var gotBody openai.ChatCompletionRequest
	server := testutil.NewIPv4Server(t, testutil.StreamHandler(testutil.StreamScript{
		Inspect: func(r *http.Request) {
			if r.URL.Path != "/chat/completions" {
				t.Errorf("path = %q, want /chat/completions", r.URL.Path)
			}
			if accept := r.Header.Get("Accept"); accept != "text/event-stream" {
				t.Errorf("Accept header = %q, want text/event-stream", accept)
			}
			if auth := r.Header.Get("Authorization"); auth != "Bearer sk-test123" {
				t.Errorf("Authorization = %q", auth)
			}
			if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
				t.Errorf("decode body: %v", err)
			}
		},
		Frames: []string{
			testutil.SSEFrame(`{"choices":[{"index":0,"delta":{"role":"assistant","content":""}}]}`),
			contentFrame("Hello"),
			": keep-alive\n\n",
			contentFrame(" world"),
			testutil.SSEFrame(`{"choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}`),
			testutil.SSEFrame(`{"choices":[],"usage":{"prompt_tokens":3,"completion_tokens":2,"total_tokens":5}}`),
			"data: [DONE]\n\n",
		},
	}))
	defer server.Close()

	a, err := New(Config{APIKey: "sk-test123", BaseURL: server.URL, HTTPClient: server.Client()})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	var deltas []delta.Delta
	res, err := a.StreamCompletion(context.Background(), userRequest("Hello"), func(d delta.Delta) {
		deltas = append(deltas, d)
	})
	if err != nil {
		t.Fatalf("StreamCompletion() error = %v", err)
	}
	if res.Content != "Hello world" {
		t.Errorf("content = %q, want %q", res.Content, "Hello world")
	}
	if res.FinishReason != "stop" {
		t.Errorf("finish reason = %q, want stop", res.FinishReason)
	}
	if res.Usage == nil || res.Usage.TotalTokens != 5 {
		t.Errorf("usage = %+v, want total 5", res.Usage)
	}
	if len(deltas) != 4 {
		t.Errorf("got %d deltas, want 4", len(deltas))
	}
	if !gotBody.Stream {
		t.Error("request did not ask for stream")
	}
	if gotBody.StreamOptions == nil || !gotBody.StreamOptions.IncludeUsage {
		t.Error("request did not ask for usage")
	}
	if len(gotBody.Messages) != 1 || gotBody.Messages[0].Content != "Hello" {
		t.Errorf("messages = %+v", gotBody.Messages)
	}
}

func TestStreamCompletion_RejectedCarriesServerMessage(t *testing.T) {
	server := testutil.NewIPv4Server(t, testutil.StreamHandler(testutil.StreamScript{
		Status: http.StatusUnauthorized,
		Body:   `{"error":{"message":"Invalid API key","type":"invalid_request_error"}}`,
	}))
	defer server.Close()

	a, _ := New(Config{APIKey: "bad", BaseURL: server.URL, HTTPClient: server.Client()})
	called := false
	_, err := a.StreamCompletion(context.Background(), userRequest("hi"), func(delta.Delta) { called = true })
	if !errors.Is(err, adapter.ErrRequestRejected) {
		t.Fatalf("err = %v, want request rejected", err)
	}
	te, _ := adapter.AsTransportError(err)
	if te.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", te.StatusCode)
	}
	if te.Message != "Invalid API key" {
		t.Errorf("message = %q", te.Message)
	}
	if called {
		t.Error("onDelta called for rejected request")
	}
}

func TestStreamCompletion_CancelKeepsPartial(t *testing.T) {
	server := testutil.NewIPv4Server(t, testutil.StreamHandler(testutil.StreamScript{
		Frames: []string{
			contentFrame("one "),
			contentFrame("two "),
			contentFrame("three "),
			contentFrame("four "),
			contentFrame("five"),
		},
		HoldOpen: true,
	}))
	defer server.Close()

	a, _ := New(Config{BaseURL: server.URL, HTTPClient: server.Client()})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	n := 0
	_, err := a.StreamCompletion(ctx, userRequest("count"), func(delta.Delta) {
		n++
		if n == 2 {
			cancel()
		}
	})
	if !errors.Is(err, adapter.ErrCancelled) {
		t.Fatalf("err = %v, want cancelled", err)
	}
	te, _ := adapter.AsTransportError(err)
	if te.Partial != "one two " {
		t.Errorf("partial = %q, want %q", te.Partial, "one two ")
	}
	if n != 2 {
		t.Errorf("onDelta called %d times after cancel, want 2", n)
	}
}

func TestStreamCompletion_ConnectionRefused(t *testing.T) {
	server := testutil.NewIPv4Server(t, nil)
	url := server.URL
	server.Close()

	a, _ := New(Config{BaseURL: url, RequestTimeout: time.Second})
	_, err := a.StreamCompletion(context.Background(), userRequest("hi"), nil)
	if !errors.Is(err, adapter.ErrRequestRejected) {
		t.Fatalf("err = %v, want request rejected", err)
	}
}

func TestStreamCompletion_InvalidRequest(t *testing.T) {
	a, _ := New(Config{})
	_, err := a.StreamCompletion(context.Background(), adapter.Request{Model: "gpt-4"}, nil)
	if !errors.Is(err, adapter.ErrRequestRejected) {
		t.Fatalf("err = %v, want request rejected", err)
	}
	if !strings.Contains(err.Error(), "no messages provided") {
		t.Errorf("err = %v", err)
	}
}

func TestCreateCompletion_Success(t *testing.T) {
	server := testutil.NewIPv4Server(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q, want application/json", ct)
		}
		var reqBody map[string]any
		if err := json.NewDecoder(r.Body).Decode(&reqBody); err != nil {
			t.Errorf("failed to decode request body: %v", err)
		}
		if _, ok := reqBody["stream"]; ok {
			t.Error("non-streaming request carries stream field")
		}
		resp := openai.NewCompletionResponse("gpt-4", openai.ChatMessage{Role: "assistant", Content: "Hello! How can I help?"},
			openai.UsageBreakdown{PromptTokens: 10, CompletionTokens: 6, TotalTokens: 16})
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	a, _ := New(Config{APIKey: "sk-test123", BaseURL: server.URL, HTTPClient: server.Client()})
	res, err := a.CreateCompletion(context.Background(), userRequest("Hello"))
	if err != nil {
		t.Fatalf("CreateCompletion() error = %v", err)
	}
	if res.Content != "Hello! How can I help?" {
		t.Errorf("content = %q", res.Content)
	}
	if res.Usage == nil || res.Usage.TotalTokens != 16 {
		t.Errorf("usage = %+v", res.Usage)
	}
}

func TestListModels(t *testing.T) {
	tests := []struct {
		name string
		body string
		want []string
	}{
		{name: "envelope", body: `{"object":"list","data":[{"id":"gpt-4"},{"id":"gpt-4o-mini"}]}`, want: []string{"gpt-4", "gpt-4o-mini"}},
		{name: "bare array", body: `[{"id":"llama3"},{"name":"qwen2"}]`, want: []string{"llama3", "qwen2"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := testutil.NewIPv4Server(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/models" {
					t.Errorf("path = %q, want /models", r.URL.Path)
				}
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			a, _ := New(Config{BaseURL: server.URL, HTTPClient: server.Client()})
			models, err := a.ListModels(context.Background())
			if err != nil {
				t.Fatalf("ListModels() error = %v", err)
			}
			if len(models) != len(tt.want) {
				t.Fatalf("got %d models, want %d", len(models), len(tt.want))
			}
			for i, id := range tt.want {
				if models[i].ID != id {
					t.Errorf("models[%d].ID = %q, want %q", i, models[i].ID, id)
				}
			}
		})
	}
}

func TestListModels_UnexpectedFormat(t *testing.T) {
	server := testutil.NewIPv4Server(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"models":"nope"}`))
	}))
	defer server.Close()

	a, _ := New(Config{BaseURL: server.URL, HTTPClient: server.Client()})
	if _, err := a.ListModels(context.Background()); !errors.Is(err, openai.ErrUnexpectedModelsFormat) {
		t.Fatalf("err = %v, want ErrUnexpectedModelsFormat", err)
	}
}
