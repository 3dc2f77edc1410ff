// Package worker forwards queued batches to the ingestion endpoint.
package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/okian/stresstrack/internal/adapters/mq/queue"
	"github.com/okian/stresstrack/internal/domain/model"
	"github.com/okian/stresstrack/pkg/logger"
	"github.com/okian/stresstrack/pkg/metrics"
)

// Default worker configuration constants.
const (
	defaultWorkerMultiplier = 2 // multiplier for runtime.NumCPU()
	poolShutdownTimeout     = 30 * time.Second
)

// Forwarder delivers one batch. Errors wrapping model.ErrBatchRejected are
// final; anything else may succeed on a later attempt.
type Forwarder interface {
	Forward(ctx context.Context, batch model.Batch) error
}

// Queue defines how workers receive messages.
type Queue interface {
	Dequeue(ctx context.Context) <-chan queue.Message
}

// Worker processes messages from a queue.
type Worker interface {
	// Run starts the worker loop until ctx is canceled, Shutdown is called
	// or the queue is drained after Close.
	Run(ctx context.Context)

	// Shutdown stops the worker without waiting for the queue to drain.
	Shutdown(ctx context.Context) error
}

// InMemoryWorker forwards messages and answers each sender.
type InMemoryWorker struct {
	queue     Queue
	forwarder Forwarder
	name      string

	shutdown     chan struct{}
	shutdownOnce sync.Once
	done         chan struct{}

	logger logger.Logger
}

// NewInMemoryWorker creates a new worker with configuration options.
func NewInMemoryWorker(q Queue, f Forwarder, opts ...Option) *InMemoryWorker {
	w := &InMemoryWorker{
		queue:     q,
		forwarder: f,
		name:      "worker",
		shutdown:  make(chan struct{}),
		done:      make(chan struct{}),
		logger:    logger.Nop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.Named(w.name)
	return w
}

// Run starts the worker loop.
func (w *InMemoryWorker) Run(ctx context.Context) {
	defer close(w.done)

	messages := w.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.shutdown:
			return
		case m, ok := <-messages:
			if !ok {
				return
			}
			w.process(ctx, m)
		}
	}
}

// Shutdown stops the worker loop.
func (w *InMemoryWorker) Shutdown(ctx context.Context) error {
	w.shutdownOnce.Do(func() { close(w.shutdown) })

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

// Done is closed once Run has returned.
func (w *InMemoryWorker) Done() <-chan struct{} {
	return w.done
}

// process forwards one message and replies on its channel. It never panics
// on a forwarding failure; the failure becomes the ack.
func (w *InMemoryWorker) process(ctx context.Context, m queue.Message) { //nolint:gocritic // hugeParam: Message travels by value through the queue
	start := time.Now()
	defer func() {
		metrics.RecordWorkerProcessingLatency(float64(time.Since(start).Microseconds()) / 1000)
	}()

	err := w.forwarder.Forward(ctx, m.Batch)
	if err == nil {
		metrics.RecordForwardResult("success")
		m.Respond(model.Ack{Success: true})
		return
	}

	permanent := errors.Is(err, model.ErrBatchRejected)
	result := "error"
	if permanent {
		result = "rejected"
	}
	metrics.RecordForwardResult(result)
	metrics.RecordWorkerError()
	metrics.RecordErrorByComponent("worker", result)
	w.logger.Warn(ctx, "forward failed",
		logger.String("batch_id", m.Batch.ID),
		logger.String("key", m.Batch.Record.Key().String()),
		logger.Bool("permanent", permanent),
		logger.Error(err),
	)
	m.Respond(model.Ack{Error: err.Error(), Permanent: permanent})
}

// Pool manages multiple workers sharing one queue.
type Pool struct {
	workers []*InMemoryWorker
	queue   Queue
	logger  logger.Logger
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithPoolLogger sets the logger handed to the pool and its workers.
func WithPoolLogger(l logger.Logger) PoolOption {
	return func(p *Pool) {
		if l != nil {
			p.logger = l
		}
	}
}

// NewPool creates a new worker pool. workerCount < 1 picks a count from the CPU count.
func NewPool(workerCount int, q Queue, f Forwarder, opts ...PoolOption) *Pool {
	if workerCount < 1 {
		workerCount = runtime.NumCPU() * defaultWorkerMultiplier
	}

	pool := &Pool{
		workers: make([]*InMemoryWorker, workerCount),
		queue:   q,
		logger:  logger.Nop(),
	}
	for _, opt := range opts {
		opt(pool)
	}

	for i := 0; i < workerCount; i++ {
		pool.workers[i] = NewInMemoryWorker(q, f,
			WithName("worker-"+strconv.Itoa(i)),
			WithLogger(pool.logger),
		)
	}
	return pool
}

// Size returns the number of workers.
func (p *Pool) Size() int {
	return len(p.workers)
}

// Start starts all workers in the pool.
func (p *Pool) Start(ctx context.Context) {
	for _, w := range p.workers {
		go w.Run(ctx)
	}
	metrics.UpdateWorkerActiveCount(len(p.workers))
}

// Shutdown closes the queue and waits for workers to drain it. When ctx
// expires first the workers are stopped and remaining messages are abandoned.
func (p *Pool) Shutdown(ctx context.Context) error {
	if closer, ok := p.queue.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			p.logger.Error(ctx, "error closing queue", logger.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, poolShutdownTimeout)
	defer cancel()

	var timedOut bool
	for i, w := range p.workers {
		select {
		case <-w.done:
		case <-shutdownCtx.Done():
			timedOut = true
			p.logger.Warn(ctx, "worker drain timed out", logger.Int("worker_id", i))
			w.shutdownOnce.Do(func() { close(w.shutdown) })
		}
	}
	metrics.UpdateWorkerActiveCount(0)

	if timedOut {
		return fmt.Errorf("worker pool drain: %w", shutdownCtx.Err())
	}
	return nil
}
