package messagestore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokligence/chatstream/internal/delta"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "messages.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestConversationLifecycle(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	user, err := s.AppendUser(ctx, "conv-1", "hello")
	require.NoError(t, err)
	_, err = ulid.ParseStrict(user.ID)
	require.NoError(t, err)

	placeholder, err := s.BeginAssistant(ctx, "conv-1", "req-1", "llama3")
	require.NoError(t, err)
	assert.Equal(t, StatusStreaming, placeholder.Status)
	assert.Greater(t, placeholder.ID, user.ID)

	require.NoError(t, s.Finalize(ctx, placeholder.ID, Final{
		Content:   "hi there",
		Reasoning: "greet back",
		Status:    StatusCompleted,
		Usage:     &delta.Usage{PromptTokens: 3, CompletionTokens: 2, TotalTokens: 5},
	}))

	history, err := s.History(ctx, "conv-1", 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, RoleUser, history[0].Role)
	assert.Equal(t, "hello", history[0].Content)
	assert.Equal(t, RoleAssistant, history[1].Role)
	assert.Equal(t, "hi there", history[1].Content)
	assert.Equal(t, "greet back", history[1].Reasoning)
	assert.Equal(t, "req-1", history[1].RequestID)
	require.NotNil(t, history[1].Usage)
	assert.Equal(t, 5, history[1].Usage.TotalTokens)
	assert.Nil(t, history[0].Usage)
}

func TestFinalizeCancelledKeepsPartial(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	m, err := s.BeginAssistant(ctx, "c", "r", "m")
	require.NoError(t, err)

	require.NoError(t, s.Finalize(ctx, m.ID, Final{Content: "par", Status: StatusCancelled, Incomplete: true}))
	got, err := s.Get(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status)
	assert.True(t, got.Incomplete)
	assert.Equal(t, "par", got.Content)
}

func TestFinalizeErrors(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	assert.ErrorIs(t, s.Finalize(ctx, "missing", Final{Status: StatusFailed}), ErrNotFound)
	assert.Error(t, s.Finalize(ctx, "missing", Final{Status: StatusStreaming}))

	_, err := s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.AppendUser(ctx, " ", "x")
	assert.Error(t, err)
}

func TestHistoryLimitKeepsMostRecent(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	for _, text := range []string{"one", "two", "three", "four"} {
		_, err := s.AppendUser(ctx, "c", text)
		require.NoError(t, err)
	}
	_, err := s.AppendUser(ctx, "other", "elsewhere")
	require.NoError(t, err)

	history, err := s.History(ctx, "c", 2)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "three", history[0].Content)
	assert.Equal(t, "four", history[1].Content)
}

func TestMarkAbandoned(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	m, err := s.BeginAssistant(ctx, "c", "r", "m")
	require.NoError(t, err)
	_, err = s.AppendUser(ctx, "c", "q")
	require.NoError(t, err)

	n, err := s.MarkAbandoned(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := s.Get(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.True(t, got.Incomplete)
}
