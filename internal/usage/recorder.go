package usage

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	batchWriteTimeout = 30 * time.Second
	finalFlushTimeout = 10 * time.Second
)

var (
	entriesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "aigateway_usage_entries_dropped_total",
		Help: "Usage entries dropped because the record buffer was full",
	})
	batchFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "aigateway_usage_batch_failures_total",
		Help: "Usage batches the store failed to write",
	})
)

// Recorder accepts one usage entry per routed call. Record never blocks the
// calling request.
type Recorder interface {
	Record(entry *UsageEntry)
	Close() error
}

// Discard is the Recorder used when usage tracking is off.
var Discard Recorder = discard{}

type discard struct{}

func (discard) Record(*UsageEntry) {}
func (discard) Close() error       { return nil }

// BatchRecorder queues entries in a bounded channel and writes them to a
// UsageStore in batches, either when BatchFlushThreshold entries are pending
// or every FlushInterval. Entries arriving while the queue is full are
// dropped and counted.
type BatchRecorder struct {
	store UsageStore
	queue chan *UsageEntry
	every time.Duration

	// mu guards closed; senders hold the read lock so Close never closes
	// the queue under them.
	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewBatchRecorder starts the background writer. Close must be called to
// drain the queue.
func NewBatchRecorder(store UsageStore, cfg Config) *BatchRecorder {
	cfg = applyDefaults(cfg)
	r := &BatchRecorder{
		store: store,
		queue: make(chan *UsageEntry, cfg.BufferSize),
		every: cfg.FlushInterval,
		done:  make(chan struct{}),
	}
	go r.run()
	return r
}

// Record queues entry without blocking.
func (r *BatchRecorder) Record(entry *UsageEntry) {
	if entry == nil {
		return
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}
	select {
	case r.queue <- entry:
	default:
		entriesDropped.Inc()
		slog.Warn("usage queue full, dropping entry",
			"request_id", entry.RequestID,
			"endpoint", entry.Endpoint,
		)
	}
}

// Close stops accepting entries, writes everything still queued and closes
// the store. Calling it again is a no-op.
func (r *BatchRecorder) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()

	<-r.done
	return r.store.Close()
}

func (r *BatchRecorder) run() {
	defer close(r.done)

	ticker := time.NewTicker(r.every)
	defer ticker.Stop()

	pending := make([]*UsageEntry, 0, BatchFlushThreshold)
	for {
		select {
		case entry, ok := <-r.queue:
			if !ok {
				r.write(pending)
				ctx, cancel := context.WithTimeout(context.Background(), finalFlushTimeout)
				if err := r.store.Flush(ctx); err != nil {
					slog.Error("failed to flush usage store", "error", err)
				}
				cancel()
				return
			}
			pending = append(pending, entry)
			if len(pending) >= BatchFlushThreshold {
				r.write(pending)
				pending = make([]*UsageEntry, 0, BatchFlushThreshold)
			}
		case <-ticker.C:
			if len(pending) > 0 {
				r.write(pending)
				pending = make([]*UsageEntry, 0, BatchFlushThreshold)
			}
		}
	}
}

func (r *BatchRecorder) write(batch []*UsageEntry) {
	if len(batch) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), batchWriteTimeout)
	defer cancel()
	if err := r.store.WriteBatch(ctx, batch); err != nil {
		batchFailures.Inc()
		slog.Error("failed to write usage batch", "error", err, "count", len(batch))
	}
}
