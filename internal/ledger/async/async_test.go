package async

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokligence/chatstream/internal/ledger"
)

type memoryStore struct {
	mu      sync.Mutex
	entries []ledger.Entry
	fail    string
	closed  bool
}

func (m *memoryStore) Record(_ context.Context, e ledger.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.RequestID == m.fail {
		return errors.New("boom")
	}
	m.entries = append(m.entries, e)
	return nil
}

func (m *memoryStore) Summary(_ context.Context, _ string) (ledger.Summary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return ledger.Summary{Sessions: int64(len(m.entries))}, nil
}

func (m *memoryStore) ListRecent(_ context.Context, _ string, _ int) ([]ledger.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ledger.Entry(nil), m.entries...), nil
}

func (m *memoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *memoryStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func entry(id string) ledger.Entry {
	return ledger.Entry{ConversationID: "c", RequestID: id, Status: "completed"}
}

func TestCloseFlushesQueuedEntries(t *testing.T) {
	mem := &memoryStore{}
	s := New(mem, Config{BatchSize: 1000, FlushInterval: time.Hour, NumWorkers: 3})
	for i := 0; i < 25; i++ {
		require.NoError(t, s.Record(context.Background(), entry(string(rune('a'+i)))))
	}
	require.NoError(t, s.Close())

	assert.Equal(t, 25, mem.count())
	assert.Equal(t, uint64(25), s.Written())
	assert.True(t, mem.closed)
	assert.ErrorIs(t, s.Record(context.Background(), entry("late")), ErrClosed)
	assert.NoError(t, s.Close())
}

func TestBatchSizeTriggersFlush(t *testing.T) {
	mem := &memoryStore{}
	s := New(mem, Config{BatchSize: 2, FlushInterval: time.Hour})
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.Record(context.Background(), entry("1")))
	require.NoError(t, s.Record(context.Background(), entry("2")))
	assert.Eventually(t, func() bool { return mem.count() == 2 }, time.Second, 5*time.Millisecond)
}

func TestTickerFlushesPartialBatch(t *testing.T) {
	mem := &memoryStore{}
	s := New(mem, Config{BatchSize: 100, FlushInterval: 10 * time.Millisecond})
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.Record(context.Background(), entry("only")))
	assert.Eventually(t, func() bool { return mem.count() == 1 }, time.Second, 5*time.Millisecond)

	summary, err := s.Summary(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, int64(1), summary.Sessions)
}

func TestFailedWritesDoNotStopBatch(t *testing.T) {
	mem := &memoryStore{fail: "bad"}
	s := New(mem, Config{BatchSize: 10, FlushInterval: time.Hour})
	require.NoError(t, s.Record(context.Background(), entry("good-1")))
	require.NoError(t, s.Record(context.Background(), entry("bad")))
	require.NoError(t, s.Record(context.Background(), entry("good-2")))
	require.NoError(t, s.Close())

	assert.Equal(t, 2, mem.count())
	assert.Equal(t, uint64(2), s.Written())
}

func TestRecordValidatesEagerly(t *testing.T) {
	s := New(&memoryStore{}, Config{})
	t.Cleanup(func() { _ = s.Close() })
	assert.ErrorIs(t, s.Record(context.Background(), ledger.Entry{Status: "completed"}), ledger.ErrRequestIDRequired)
}
