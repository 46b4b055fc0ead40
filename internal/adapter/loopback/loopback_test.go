package loopback

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/tokligence/chatstream/internal/adapter"
	"github.com/tokligence/chatstream/internal/delta"
)

func request(text string) adapter.Request {
	return adapter.Request{
		Model: "loopback",
		Messages: []adapter.Message{
			{Role: "system", Content: "echo"},
			{Role: "user", Content: text},
		},
	}
}

func TestLoopbackAdapter(t *testing.T) {
	a := New()
	res, err := a.CreateCompletion(context.Background(), request("Hello"))
	if err != nil {
		t.Fatalf("CreateCompletion: %v", err)
	}
	if res.Content != "[loopback] Hello" {
		t.Fatalf("unexpected content %q", res.Content)
	}
	if res.Usage == nil || res.Usage.TotalTokens == 0 {
		t.Fatalf("expected usage to be recorded")
	}
}

func TestLoopbackAdapterNoMessages(t *testing.T) {
	a := New()
	if _, err := a.CreateCompletion(context.Background(), adapter.Request{Model: "loopback"}); err == nil {
		t.Fatalf("expected error for missing messages")
	}
	_, err := a.StreamCompletion(context.Background(), adapter.Request{Model: "loopback"}, nil)
	if !errors.Is(err, adapter.ErrRequestRejected) {
		t.Fatalf("expected request rejected, got %v", err)
	}
}

func TestLoopbackStream(t *testing.T) {
	a := New()
	var pieces []string
	res, err := a.StreamCompletion(context.Background(), request("the quick brown fox"), func(d delta.Delta) {
		if d.Content != "" {
			pieces = append(pieces, d.Content)
		}
	})
	if err != nil {
		t.Fatalf("StreamCompletion: %v", err)
	}
	want := "[loopback] the quick brown fox"
	if res.Content != want {
		t.Fatalf("content %q, want %q", res.Content, want)
	}
	if strings.Join(pieces, "") != want {
		t.Fatalf("pieces %q do not concatenate to content", pieces)
	}
	if len(pieces) != 5 {
		t.Fatalf("got %d pieces, want 5", len(pieces))
	}
	if res.FinishReason != "stop" || res.Usage == nil {
		t.Fatalf("unexpected terminal metadata %+v", res)
	}
}

func TestLoopbackStreamCancel(t *testing.T) {
	a := &LoopbackAdapter{Delay: 5 * time.Millisecond}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	n := 0
	_, err := a.StreamCompletion(ctx, request("a b c d e f"), func(d delta.Delta) {
		n++
		if n == 2 {
			cancel()
		}
	})
	if !errors.Is(err, adapter.ErrCancelled) {
		t.Fatalf("expected cancelled, got %v", err)
	}
	te, _ := adapter.AsTransportError(err)
	if te.Partial != "[loopback] a " {
		t.Fatalf("partial %q", te.Partial)
	}
}

func TestSplitWords(t *testing.T) {
	got := splitWords("a  b c")
	if strings.Join(got, "") != "a  b c" {
		t.Fatalf("splitWords lost text: %q", got)
	}
}
