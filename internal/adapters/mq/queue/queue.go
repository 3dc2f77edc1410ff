// Package queue buffers batches between page observers and the forwarding workers.
package queue

import (
	"context"
	"sync"
	"time"

	"github.com/okian/stresstrack/internal/domain/model"
	"github.com/okian/stresstrack/pkg/metrics"
)

const defaultQueueCapacity = 1024

// Message is one batch waiting to be forwarded. Reply, when set, receives
// exactly one Ack and must be buffered so a worker never blocks on it.
type Message struct {
	Batch      model.Batch
	Reply      chan<- model.Ack
	EnqueuedAt time.Time
}

// Respond delivers ack to the waiting sender, if any.
func (m Message) Respond(ack model.Ack) {
	if m.Reply == nil {
		return
	}
	select {
	case m.Reply <- ack:
	default:
	}
}

// Queue provides non-blocking enqueue and channel-based dequeue semantics.
type Queue interface {
	// Enqueue adds a message, failing with ErrFull or ErrClosed instead of blocking.
	Enqueue(ctx context.Context, m Message) error

	// Dequeue returns a channel of messages that is closed once the queue
	// is closed and drained.
	Dequeue(ctx context.Context) <-chan Message

	// Len returns the current number of queued messages.
	Len(ctx context.Context) int

	// Close stops accepting messages. Queued messages stay available to Dequeue.
	Close() error

	// IsClosed returns true if the queue has been closed.
	IsClosed() bool
}

// InMemoryQueue implements Queue using a buffered channel.
type InMemoryQueue struct {
	messages chan Message
	capacity int
	now      func() time.Time

	mu     sync.RWMutex
	closed bool
}

// NewInMemoryQueue creates a new in-memory queue with configuration options.
func NewInMemoryQueue(opts ...Option) *InMemoryQueue {
	q := &InMemoryQueue{
		capacity: defaultQueueCapacity,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	q.messages = make(chan Message, q.capacity)

	metrics.UpdateQueueCapacity(q.capacity)
	metrics.UpdateQueueSize(0)
	metrics.UpdateQueueUtilization(0.0)

	return q
}

// Enqueue adds a message to the queue.
func (q *InMemoryQueue) Enqueue(ctx context.Context, m Message) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		metrics.RecordQueueEnqueueError()
		metrics.RecordErrorByComponent("queue", "closed")
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		metrics.RecordQueueEnqueueError()
		metrics.RecordErrorByComponent("queue", "context_cancelled")
		return err
	}

	m.EnqueuedAt = q.now()
	select {
	case q.messages <- m:
		metrics.RecordQueueEnqueue()
		q.updateGauges()
		return nil
	default:
		metrics.RecordQueueEnqueueError()
		metrics.RecordErrorByComponent("queue", "queue_full")
		return ErrFull
	}
}

// Dequeue returns a channel that will receive messages as they become available.
// The channel closes when the queue is closed and drained, or when ctx ends.
func (q *InMemoryQueue) Dequeue(ctx context.Context) <-chan Message {
	out := make(chan Message)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-q.messages:
				if !ok {
					return
				}
				select {
				case out <- m:
					metrics.RecordQueueDequeue()
					metrics.RecordQueueProcessingLatency(float64(q.now().Sub(m.EnqueuedAt).Microseconds()) / 1000)
					q.updateGauges()
				case <-ctx.Done():
					m.Respond(model.Ack{Error: ctx.Err().Error()})
					return
				}
			}
		}
	}()
	return out
}

// Len returns the current number of queued messages.
func (q *InMemoryQueue) Len(_ context.Context) int {
	return q.updateGauges()
}

// Close stops accepting messages.
func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	close(q.messages)
	q.closed = true
	return nil
}

// IsClosed returns true if the queue has been closed.
func (q *InMemoryQueue) IsClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}

func (q *InMemoryQueue) updateGauges() int {
	size := len(q.messages)
	metrics.UpdateQueueSize(size)
	metrics.UpdateQueueUtilization(float64(size) / float64(q.capacity))
	return size
}
