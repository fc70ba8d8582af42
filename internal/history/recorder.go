package history

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Config holds recorder configuration
type Config struct {
	// Enabled controls whether exchanges are recorded
	Enabled bool

	// BufferSize is the number of exchanges to buffer before dropping
	BufferSize int

	// FlushInterval is how often to flush buffered exchanges
	FlushInterval time.Duration
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		Enabled:       true,
		BufferSize:    1000,
		FlushInterval: 5 * time.Second,
	}
}

// RecorderInterface is implemented by both the real and the noop recorder.
type RecorderInterface interface {
	// Record queues an exchange for asynchronous writing. Never blocks.
	Record(ex *Exchange)

	// Enabled reports whether recording is active.
	Enabled() bool

	// Close flushes remaining exchanges and releases resources.
	Close() error
}

// Recorder provides async buffered recording with batch writes.
// Exchanges are collected in a bounded channel and flushed to storage
// either when a batch fills or at regular intervals. This is the explicit
// replacement for fire-and-forget background writes: failures land in a
// dedicated writer goroutine and are logged, never surfaced to a request.
type Recorder struct {
	store  Store
	config Config
	buffer chan *Exchange
	done   chan struct{}
	wg     sync.WaitGroup

	// onDrop is invoked when the buffer is full and an exchange is dropped.
	// Used for metrics; may be nil.
	onDrop func()
}

const flushBatchSize = 100

// NewRecorder creates a new async buffered Recorder and starts its
// background flush goroutine.
func NewRecorder(store Store, cfg Config) *Recorder {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1000
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}

	r := &Recorder{
		store:  store,
		config: cfg,
		buffer: make(chan *Exchange, cfg.BufferSize),
		done:   make(chan struct{}),
	}

	r.wg.Add(1)
	go r.flushLoop()

	return r
}

// SetDropHandler registers a callback invoked whenever an exchange is
// dropped because the buffer is full. Must be called before concurrent use.
func (r *Recorder) SetDropHandler(fn func()) {
	r.onDrop = fn
}

// Record queues an exchange for async writing. This method is non-blocking:
// if the buffer is full, the exchange is dropped and a warning is logged.
func (r *Recorder) Record(ex *Exchange) {
	if ex == nil {
		return
	}

	select {
	case r.buffer <- ex:
	default:
		slog.Warn("history buffer full, dropping exchange",
			"id", ex.ID,
			"model", ex.Model,
		)
		if r.onDrop != nil {
			r.onDrop()
		}
	}
}

// Enabled reports whether recording is active
func (r *Recorder) Enabled() bool {
	return r.config.Enabled
}

// Close stops the recorder, flushes remaining exchanges and closes the store.
// This should be called during graceful shutdown.
func (r *Recorder) Close() error {
	close(r.done)
	r.wg.Wait()
	return r.store.Close()
}

// flushLoop runs in the background and periodically flushes the buffer.
func (r *Recorder) flushLoop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.config.FlushInterval)
	defer ticker.Stop()

	batch := make([]*Exchange, 0, flushBatchSize)

	for {
		select {
		case ex := <-r.buffer:
			batch = append(batch, ex)
			if len(batch) >= flushBatchSize {
				r.flushBatch(batch)
				batch = make([]*Exchange, 0, flushBatchSize)
			}

		case <-ticker.C:
			if len(batch) > 0 {
				r.flushBatch(batch)
				batch = make([]*Exchange, 0, flushBatchSize)
			}

		case <-r.done:
			// Shutdown: drain remaining exchanges from the buffer
			close(r.buffer)
			for ex := range r.buffer {
				batch = append(batch, ex)
			}
			if len(batch) > 0 {
				r.flushBatch(batch)
			}
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := r.store.Flush(ctx); err != nil {
				slog.Error("failed to flush history store", "error", err)
			}
			cancel()
			return
		}
	}
}

// flushBatch writes a batch of exchanges to the store.
func (r *Recorder) flushBatch(batch []*Exchange) {
	if len(batch) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := r.store.WriteBatch(ctx, batch); err != nil {
		slog.Error("failed to write exchange batch",
			"error", err,
			"count", len(batch),
		)
	}
}

// NoopRecorder is a recorder that does nothing (used when recording is disabled)
type NoopRecorder struct{}

// Record does nothing
func (r *NoopRecorder) Record(_ *Exchange) {}

// Enabled reports false
func (r *NoopRecorder) Enabled() bool { return false }

// Close does nothing
func (r *NoopRecorder) Close() error { return nil }
