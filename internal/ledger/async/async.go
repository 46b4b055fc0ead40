package async

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tokligence/chatstream/internal/ledger"
)

// ErrClosed is returned by Record after Close.
var ErrClosed = errors.New("ledger: async store closed")

// Store wraps a ledger.Store with asynchronous batch writes so terminal
// sessions never wait on the database.
// WARNING: Entries may be lost if the process crashes before flushing.
type Store struct {
	underlying    ledger.Store
	entryChan     chan ledger.Entry
	batchSize     int
	flushInterval time.Duration
	wg            sync.WaitGroup
	logger        *log.Logger

	mu      sync.RWMutex
	closed  bool
	dropped atomic.Uint64
	written atomic.Uint64
}

// Config configures the async ledger behavior.
type Config struct {
	BatchSize     int           // Maximum entries per batch (default: 100)
	FlushInterval time.Duration // Maximum time between flushes (default: 1s)
	ChannelBuffer int           // Queue size before entries are dropped (default: 10000)
	NumWorkers    int           // Parallel batch writers (default: 1)
	Logger        *log.Logger   // Optional logger for diagnostics
}

// New wraps an existing ledger store with async batch writing.
func New(underlying ledger.Store, cfg Config) *Store {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Second
	}
	if cfg.ChannelBuffer <= 0 {
		cfg.ChannelBuffer = 10000
	}
	if cfg.NumWorkers <= 0 {
		cfg.NumWorkers = 1
	}

	s := &Store{
		underlying:    underlying,
		entryChan:     make(chan ledger.Entry, cfg.ChannelBuffer),
		batchSize:     cfg.BatchSize,
		flushInterval: cfg.FlushInterval,
		logger:        cfg.Logger,
	}
	for i := 0; i < cfg.NumWorkers; i++ {
		s.wg.Add(1)
		go s.batchWriter(i)
	}
	s.logf("[INFO] async ledger started %d worker(s), batch_size=%d, flush_interval=%v, buffer=%d",
		cfg.NumWorkers, cfg.BatchSize, cfg.FlushInterval, cfg.ChannelBuffer)
	return s
}

func (s *Store) logf(format string, args ...any) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
	}
}

// batchWriter drains entryChan until it is closed, flushing on size or tick.
func (s *Store) batchWriter(workerID int) {
	defer s.wg.Done()

	batch := make([]ledger.Entry, 0, s.batchSize)
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		start := time.Now()
		ctx := context.Background()
		ok := 0
		for _, entry := range batch {
			if err := s.underlying.Record(ctx, entry); err != nil {
				s.logf("[ERROR] async ledger worker-%d writing entry %s: %v", workerID, entry.RequestID, err)
				continue
			}
			ok++
		}
		s.written.Add(uint64(ok))
		s.logf("[DEBUG] async ledger worker-%d flushed %d/%d entries in %v", workerID, ok, len(batch), time.Since(start))
		batch = batch[:0]
	}

	for {
		select {
		case entry, open := <-s.entryChan:
			if !open {
				flush()
				return
			}
			batch = append(batch, entry)
			if len(batch) >= s.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

// Record queues an entry for asynchronous writing. It never blocks; when
// the queue is full the entry is dropped and counted.
func (s *Store) Record(ctx context.Context, entry ledger.Entry) error {
	entry, err := ledger.Prepare(entry)
	if err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	select {
	case s.entryChan <- entry:
	default:
		s.dropped.Add(1)
		s.logf("[WARN] async ledger queue full, dropping entry %s", entry.RequestID)
	}
	return nil
}

// Dropped reports how many entries were discarded because the queue was full.
func (s *Store) Dropped() uint64 { return s.dropped.Load() }

// Written reports how many entries reached the underlying store.
func (s *Store) Written() uint64 { return s.written.Load() }

// Summary delegates to the underlying store (blocking operation).
func (s *Store) Summary(ctx context.Context, conversationID string) (ledger.Summary, error) {
	return s.underlying.Summary(ctx, conversationID)
}

// ListRecent delegates to the underlying store (blocking operation).
func (s *Store) ListRecent(ctx context.Context, conversationID string, limit int) ([]ledger.Entry, error) {
	return s.underlying.ListRecent(ctx, conversationID, limit)
}

// Ping delegates to the underlying store when it supports it.
func (s *Store) Ping(ctx context.Context) error {
	if p, ok := s.underlying.(interface{ Ping(context.Context) error }); ok {
		return p.Ping(ctx)
	}
	return nil
}

// Close flushes queued entries and closes the underlying store.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.entryChan)
	s.mu.Unlock()

	s.wg.Wait()
	return s.underlying.Close()
}
