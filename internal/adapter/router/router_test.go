package router

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/tokligence/chatstream/internal/adapter"
	"github.com/tokligence/chatstream/internal/adapter/loopback"
	"github.com/tokligence/chatstream/internal/adapter/ollama"
	"github.com/tokligence/chatstream/internal/adapter/openai"
	"github.com/tokligence/chatstream/internal/delta"
)

// mockAdapter is a mock implementation of StreamingChatAdapter for testing.
type mockAdapter struct {
	name string
}

func (m *mockAdapter) StreamCompletion(ctx context.Context, req adapter.Request, onDelta adapter.DeltaFunc) (adapter.Result, error) {
	return adapter.Result{Model: req.Model, Content: "Response from " + m.name}, nil
}

func newRouter(t *testing.T) *Router {
	t.Helper()
	r, err := New(4)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return r
}

func TestRegisterAdapter(t *testing.T) {
	tests := []struct {
		name        string
		adapterName string
		adapter     adapter.StreamingChatAdapter
		wantErr     bool
		errContains string
	}{
		{name: "valid adapter", adapterName: "openai", adapter: &mockAdapter{name: "openai"}},
		{name: "empty adapter name", adapter: &mockAdapter{name: "test"}, wantErr: true, errContains: "name cannot be empty"},
		{name: "nil adapter", adapterName: "test", wantErr: true, errContains: "adapter cannot be nil"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRouter(t)
			err := r.RegisterAdapter(tt.adapterName, tt.adapter)
			if tt.wantErr {
				if err == nil {
					t.Error("RegisterAdapter() expected error, got nil")
					return
				}
				if tt.errContains != "" && !strings.Contains(err.Error(), tt.errContains) {
					t.Errorf("error = %v, want error containing %q", err, tt.errContains)
				}
				return
			}
			if err != nil {
				t.Errorf("RegisterAdapter() unexpected error = %v", err)
			}
		})
	}
}

func TestRegisterRoute(t *testing.T) {
	r := newRouter(t)
	_ = r.RegisterAdapter("echo", &mockAdapter{name: "echo"})

	if err := r.RegisterRoute("", "echo"); err == nil || !strings.Contains(err.Error(), "pattern cannot be empty") {
		t.Errorf("empty pattern error = %v", err)
	}
	if err := r.RegisterRoute("gpt-4", ""); err == nil || !strings.Contains(err.Error(), "adapter name cannot be empty") {
		t.Errorf("empty adapter error = %v", err)
	}
	if err := r.RegisterRoute("gpt-4", "anthropic"); err == nil || !strings.Contains(err.Error(), `adapter "anthropic" not registered`) {
		t.Errorf("unregistered adapter error = %v", err)
	}
	if err := r.RegisterRoute("echo-[", "echo"); err == nil || !strings.Contains(err.Error(), "invalid model pattern") {
		t.Errorf("invalid pattern error = %v", err)
	}
	if err := r.RegisterRoute("echo-*", "echo"); err != nil {
		t.Errorf("RegisterRoute() unexpected error = %v", err)
	}
}

func TestMatchPattern(t *testing.T) {
	tests := []struct {
		model, pattern string
		want           bool
	}{
		{"gpt-4", "gpt-4", true},
		{"GPT-4o", "gpt-*", true},
		{"gpt-3.5-turbo", "*-turbo", true},
		{"gpt-3.5-turbo", "*3.5*", true},
		{"gpt-4o-mini", "gpt-*-mini", true},
		{"gpt-4o", "gpt-*-mini", false},
		{"llama3.1", "llama3.?", true},
		{"o3-mini", "{o1,o3}-*", true},
		{"o2-mini", "{o1,o3}-*", false},
		{"claude-3", "gpt-*", false},
		{"gpt-4", "gpt-5", false},
	}
	for _, tt := range tests {
		if got := matchPattern(tt.model, tt.pattern); got != tt.want {
			t.Errorf("matchPattern(%q, %q) = %v, want %v", tt.model, tt.pattern, got, tt.want)
		}
	}
}

func TestResolve_NamedAdapterWins(t *testing.T) {
	r := newRouter(t)
	named := &mockAdapter{name: "named"}
	_ = r.RegisterAdapter("Named", named)
	built := 0
	_ = r.RegisterFactory(delta.ProviderOpenAI, func(adapter.Connection) (adapter.StreamingChatAdapter, error) {
		built++
		return &mockAdapter{name: "factory"}, nil
	})

	got, err := r.Resolve(adapter.Connection{ID: "c", Provider: delta.ProviderOpenAI, Adapter: "named"}, "gpt-4")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got != named {
		t.Errorf("Resolve() returned %v, want named adapter", got)
	}
	if built != 0 {
		t.Errorf("factory called %d times, want 0", built)
	}

	if _, err := r.Resolve(adapter.Connection{Adapter: "missing"}, "gpt-4"); err == nil {
		t.Error("Resolve() expected error for unknown adapter")
	}
}

func TestResolve_ModelRoutes(t *testing.T) {
	r := newRouter(t)
	_ = r.RegisterAdapter("echo", &mockAdapter{name: "echo"})
	_ = r.RegisterAdapter("echo-long", &mockAdapter{name: "echo-long"})
	_ = r.RegisterRoute("echo-*", "echo")
	_ = r.RegisterRoute("echo-long-*", "echo-long")
	_ = r.RegisterRoute("*-turbo", "echo")
	_ = r.RegisterRoute("*3.5*", "echo")

	tests := []struct {
		model string
		want  string
	}{
		{"echo-1", "echo"},
		{"ECHO-long-2", "echo-long"},
		{"gpt-3.5-turbo", "echo"},
		{"x3.5y", "echo"},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			a, err := r.Resolve(adapter.Connection{Provider: delta.ProviderOpenAI}, tt.model)
			if err != nil {
				t.Fatalf("Resolve() error = %v", err)
			}
			res, _ := a.StreamCompletion(context.Background(), adapter.Request{Model: tt.model}, nil)
			if res.Content != "Response from "+tt.want {
				t.Errorf("routed to %q, want %q", res.Content, tt.want)
			}
		})
	}
}

func TestResolve_FactoryCache(t *testing.T) {
	r := newRouter(t)
	built := 0
	_ = r.RegisterFactory(delta.ProviderOpenAI, func(conn adapter.Connection) (adapter.StreamingChatAdapter, error) {
		built++
		return &mockAdapter{name: conn.ID}, nil
	})

	conn := adapter.Connection{ID: "a", Provider: delta.ProviderOpenAI, BaseURL: "http://x", APIKey: "k", Headers: map[string]string{"X-A": "1"}}
	first, err := r.Resolve(conn, "gpt-4")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	second, _ := r.Resolve(conn, "gpt-4o")
	if first != second {
		t.Error("same connection settings built a second adapter")
	}
	if built != 1 {
		t.Errorf("factory called %d times, want 1", built)
	}

	conn.APIKey = "rotated"
	third, _ := r.Resolve(conn, "gpt-4")
	if third == first {
		t.Error("changed api key reused the cached adapter")
	}
	if r.CachedAdapters() != 2 {
		t.Errorf("CachedAdapters() = %d, want 2", r.CachedAdapters())
	}
}

func TestResolve_FactoryError(t *testing.T) {
	r := newRouter(t)
	_ = r.RegisterFactory(delta.ProviderOllama, func(adapter.Connection) (adapter.StreamingChatAdapter, error) {
		return nil, errors.New("boom")
	})
	if _, err := r.Resolve(adapter.Connection{ID: "o", Provider: delta.ProviderOllama}, "llama3"); err == nil || !strings.Contains(err.Error(), "boom") {
		t.Errorf("Resolve() error = %v, want boom", err)
	}
	if _, err := r.Resolve(adapter.Connection{ID: "x", Provider: delta.ProviderOpenAI}, "gpt"); err == nil {
		t.Error("Resolve() expected error for provider without factory")
	}
}

func TestNewDefault(t *testing.T) {
	r, err := NewDefault(0, time.Second)
	if err != nil {
		t.Fatalf("NewDefault() error = %v", err)
	}
	a, err := r.Resolve(adapter.Connection{ID: "oa", Provider: delta.ProviderOpenAI}, "gpt-4")
	if err != nil {
		t.Fatalf("Resolve(openai) error = %v", err)
	}
	if _, ok := a.(*openai.OpenAIAdapter); !ok {
		t.Errorf("openai connection resolved to %T", a)
	}
	a, _ = r.Resolve(adapter.Connection{ID: "ol", Provider: delta.ProviderOllama}, "llama3")
	if _, ok := a.(*ollama.OllamaAdapter); !ok {
		t.Errorf("ollama connection resolved to %T", a)
	}
	a, _ = r.Resolve(adapter.Connection{ID: "lb", Provider: delta.ProviderOpenAI, Adapter: loopback.Name}, "loopback")
	if _, ok := a.(*loopback.LoopbackAdapter); !ok {
		t.Errorf("loopback connection resolved to %T", a)
	}

	models, err := r.ListModels(context.Background(), adapter.Connection{Adapter: loopback.Name})
	if err != nil || len(models) != 1 {
		t.Errorf("ListModels() = %v, %v", models, err)
	}
	if got := r.ListAdapters(); len(got) != 1 || got[0] != loopback.Name {
		t.Errorf("ListAdapters() = %v", got)
	}
}

