// Package buffer implements the in-memory ingestion buffer between the
// proxy observation path and the record store. Submit must never block or
// fail the request path it observes: monitoring is best effort and records
// beyond capacity are dropped, not queued unboundedly.
package buffer

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/meshgate/opmond/internal/logging"
	"github.com/meshgate/opmond/internal/metrics"
	"github.com/meshgate/opmond/internal/models"
)

// Appender is the slice of the record store the buffer needs.
type Appender interface {
	Append(ctx context.Context, batch []models.OperationalRecord) error
}

const flushTimeout = 30 * time.Second

// Buffer is a size-bounded record queue with two drain triggers: a
// periodic ticker and a capacity threshold. Capacity 0 is a valid
// configuration meaning no record is ever buffered or stored.
type Buffer struct {
	appender Appender
	size     int
	interval time.Duration
	logger   *logging.Logger

	mu      sync.Mutex
	pending []models.OperationalRecord

	submitted atomic.Int64
	dropped   atomic.Int64

	flushCh chan struct{}
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// Stats is a point-in-time snapshot of buffer counters.
type Stats struct {
	Submitted int64 `json:"submitted"`
	Dropped   int64 `json:"dropped"`
	Pending   int   `json:"pending"`
}

func New(appender Appender, size int, interval time.Duration, logger *logging.Logger) *Buffer {
	b := &Buffer{
		appender: appender,
		size:     size,
		interval: interval,
		logger:   logger,
		flushCh:  make(chan struct{}, 1),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	go b.run()
	return b
}

// Submit queues one record for storage. It assigns monitoringDataTs when
// unset, completes in bounded time and never returns an error: failures
// on this path are absorbed and only visible through the drop counters.
func (b *Buffer) Submit(record models.OperationalRecord) {
	b.submitted.Add(1)
	metrics.RecordsSubmitted.Inc()

	if record.MonitoringDataTs == 0 {
		record.MonitoringDataTs = time.Now().Unix()
	}

	if b.size == 0 {
		b.dropped.Add(1)
		metrics.RecordsDropped.WithLabelValues("disabled").Inc()
		return
	}

	full := false
	b.mu.Lock()
	if len(b.pending) >= b.size {
		b.mu.Unlock()
		b.dropped.Add(1)
		metrics.RecordsDropped.WithLabelValues("overflow").Inc()
		return
	}
	b.pending = append(b.pending, record)
	full = len(b.pending) >= b.size
	metrics.BufferDepth.Set(float64(len(b.pending)))
	b.mu.Unlock()

	if full {
		// Non-blocking: a flush signal is already queued if this loses
		// the race.
		select {
		case b.flushCh <- struct{}{}:
		default:
		}
	}
}

// Stats returns the current counters.
func (b *Buffer) Stats() Stats {
	b.mu.Lock()
	pending := len(b.pending)
	b.mu.Unlock()
	return Stats{
		Submitted: b.submitted.Load(),
		Dropped:   b.dropped.Load(),
		Pending:   pending,
	}
}

// Stop flushes remaining records and stops the background worker.
func (b *Buffer) Stop(ctx context.Context) {
	close(b.stopCh)
	select {
	case <-b.doneCh:
	case <-ctx.Done():
		return
	}
	b.flush(ctx)
}

func (b *Buffer) run() {
	defer close(b.doneCh)

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			b.flushWithTimeout()
		case <-b.flushCh:
			b.flushWithTimeout()
		case <-b.stopCh:
			return
		}
	}
}

func (b *Buffer) flushWithTimeout() {
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	b.flush(ctx)
}

// flush swaps out the pending slice and writes it as one batch. The lock
// covers only the swap, never the store I/O. On failure the batch is
// requeued in front of newer records, up to capacity; the rest is
// dropped and counted.
func (b *Buffer) flush(ctx context.Context) {
	b.mu.Lock()
	batch := b.pending
	b.pending = nil
	metrics.BufferDepth.Set(0)
	b.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	if err := b.appender.Append(ctx, batch); err != nil {
		metrics.FlushErrors.Inc()
		b.logger.Warn("flush failed, retrying on next tick",
			"batch_size", len(batch), "error", err)
		b.requeue(batch)
		return
	}

	metrics.FlushBatches.Inc()
	b.logger.Debug("flushed record batch", "batch_size", len(batch))
}

func (b *Buffer) requeue(batch []models.OperationalRecord) {
	b.mu.Lock()
	room := b.size - len(b.pending)
	if room > len(batch) {
		room = len(batch)
	}
	if room < 0 {
		room = 0
	}
	lost := len(batch) - room
	b.pending = append(batch[:room:room], b.pending...)
	metrics.BufferDepth.Set(float64(len(b.pending)))
	b.mu.Unlock()

	if lost > 0 {
		b.dropped.Add(int64(lost))
		metrics.RecordsDropped.WithLabelValues("overflow").Add(float64(lost))
	}
}
