package history

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"promptkeeper/internal/core"
)

// captureStore records every batch it receives.
type captureStore struct {
	mu      sync.Mutex
	batches [][]*Exchange
	flushed bool
	closed  bool
	err     error
}

func (s *captureStore) WriteBatch(_ context.Context, exchanges []*Exchange) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	batch := make([]*Exchange, len(exchanges))
	copy(batch, exchanges)
	s.batches = append(s.batches, batch)
	return nil
}

func (s *captureStore) Flush(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushed = true
	return nil
}

func (s *captureStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *captureStore) total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, b := range s.batches {
		n += len(b)
	}
	return n
}

func testExchange(id string) *Exchange {
	ex := NewExchange("gpt-4o-mini", []core.Message{{Role: "user", Content: "hi"}}, &core.ChatResponse{
		Choices: []core.Choice{{Message: core.Message{Role: "assistant", Content: "hello"}}},
	})
	if id != "" {
		ex.ID = id
	}
	return ex
}

func TestRecorderFlushesOnClose(t *testing.T) {
	store := &captureStore{}
	r := NewRecorder(store, Config{Enabled: true, BufferSize: 10, FlushInterval: time.Hour})

	r.Record(testExchange("ex-1"))
	r.Record(testExchange("ex-2"))
	require.NoError(t, r.Close())

	assert.Equal(t, 2, store.total())
	assert.True(t, store.flushed)
	assert.True(t, store.closed)
}

func TestRecorderFlushesOnInterval(t *testing.T) {
	store := &captureStore{}
	r := NewRecorder(store, Config{Enabled: true, BufferSize: 10, FlushInterval: 10 * time.Millisecond})
	defer r.Close()

	r.Record(testExchange("ex-1"))

	require.Eventually(t, func() bool {
		return store.total() == 1
	}, time.Second, 5*time.Millisecond)
}

func TestRecorderFlushesFullBatch(t *testing.T) {
	store := &captureStore{}
	r := NewRecorder(store, Config{Enabled: true, BufferSize: 500, FlushInterval: time.Hour})
	defer r.Close()

	for i := 0; i < flushBatchSize; i++ {
		r.Record(testExchange(fmt.Sprintf("ex-%d", i)))
	}

	require.Eventually(t, func() bool {
		return store.total() == flushBatchSize
	}, time.Second, 5*time.Millisecond)
}

func TestRecorderDropsWhenFull(t *testing.T) {
	store := &captureStore{}
	r := NewRecorder(store, Config{Enabled: true, BufferSize: 1, FlushInterval: time.Hour})

	dropped := 0
	r.SetDropHandler(func() { dropped++ })

	// The flush goroutine consumes concurrently, so enough records are
	// queued that the one-slot buffer must overflow.
	const sent = 1000
	for i := 0; i < sent; i++ {
		r.Record(testExchange(fmt.Sprintf("ex-%d", i)))
	}

	assert.Greater(t, dropped, 0)
	require.NoError(t, r.Close())
	assert.Equal(t, sent-dropped, store.total())
}

func TestRecorderIgnoresNil(t *testing.T) {
	store := &captureStore{}
	r := NewRecorder(store, Config{Enabled: true, BufferSize: 10, FlushInterval: time.Hour})

	r.Record(nil)
	require.NoError(t, r.Close())
	assert.Equal(t, 0, store.total())
}

func TestRecorderSurvivesWriteFailure(t *testing.T) {
	store := &captureStore{err: errors.New("disk full")}
	r := NewRecorder(store, Config{Enabled: true, BufferSize: 10, FlushInterval: time.Hour})

	r.Record(testExchange("ex-1"))
	// Close drains and attempts the write; the failure is logged, not returned
	// from the batch path, and the store still gets closed.
	require.NoError(t, r.Close())
	assert.True(t, store.closed)
}

func TestNoopRecorder(t *testing.T) {
	r := &NoopRecorder{}
	assert.False(t, r.Enabled())
	r.Record(testExchange("ex-1"))
	assert.NoError(t, r.Close())
}

func TestNewExchangeDefaults(t *testing.T) {
	before := time.Now().UTC()
	ex := NewExchange("gpt-4o-mini", nil, &core.ChatResponse{
		Choices: []core.Choice{{Message: core.Message{Role: "assistant", Content: "hello"}}},
	})

	assert.NotEmpty(t, ex.ID)
	assert.Equal(t, "gpt-4o-mini", ex.Model)
	assert.NotNil(t, ex.Messages)
	assert.GreaterOrEqual(t, ex.Created, before.Unix())
	assert.Equal(t, 0, ex.TotalTokens)
	assert.JSONEq(t, string(ex.Response), string(ex.RawResponse))
}

func TestNewExchangeUsage(t *testing.T) {
	ex := NewExchange("gpt-4o-mini", []core.Message{{Role: "user", Content: "hi"}}, &core.ChatResponse{
		Created: 1700000000,
		Usage:   &core.Usage{PromptTokens: 3, CompletionTokens: 5, TotalTokens: 8},
	})

	assert.Equal(t, int64(1700000000), ex.Created)
	assert.Equal(t, 3, ex.PromptTokens)
	assert.Equal(t, 5, ex.CompletionTokens)
	assert.Equal(t, 8, ex.TotalTokens)
}
