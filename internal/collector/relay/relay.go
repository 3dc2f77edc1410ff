// Package relay bridges page observers to the ingestion endpoint. It owns a
// bounded queue drained by a pool of forwarding workers and answers every
// acknowledged send through a per-message reply channel.
package relay

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/okian/stresstrack/internal/adapters/mq/queue"
	"github.com/okian/stresstrack/internal/adapters/mq/worker"
	"github.com/okian/stresstrack/internal/collector/observer"
	"github.com/okian/stresstrack/internal/domain/model"
	"github.com/okian/stresstrack/pkg/logger"
)

// Relay errors.
var (
	ErrBackpressure  = errors.New("relay queue full")
	ErrAckTimeout    = errors.New("acknowledgement timed out")
	ErrForward       = errors.New("forward failed")
	ErrNotObservable = errors.New("page cannot be observed")
)

const (
	defaultAckTimeout    = 15 * time.Second
	defaultQueueCapacity = 256
	defaultWorkers       = 4
)

type tab struct {
	obs    *observer.Observer
	cancel context.CancelFunc
}

// Relay forwards batches for every open tab.
type Relay struct {
	queue      *queue.InMemoryQueue
	pool       *worker.Pool
	ackTimeout time.Duration
	capacity   int
	workers    int
	obsOpts    []observer.Option
	logger     logger.Logger

	mu      sync.Mutex
	tabs    map[string]*tab
	baseCtx context.Context
	started bool
	closed  bool
}

// Option configures a Relay.
type Option func(*Relay)

// WithAckTimeout bounds how long Send waits for the forwarding result.
func WithAckTimeout(d time.Duration) Option {
	return func(r *Relay) {
		if d > 0 {
			r.ackTimeout = d
		}
	}
}

// WithQueueCapacity sets how many batches may wait for a worker.
func WithQueueCapacity(n int) Option {
	return func(r *Relay) {
		if n > 0 {
			r.capacity = n
		}
	}
}

// WithWorkers sets the number of concurrent forwards.
func WithWorkers(n int) Option {
	return func(r *Relay) {
		if n > 0 {
			r.workers = n
		}
	}
}

// WithObserverOptions configures every observer the relay creates.
func WithObserverOptions(opts ...observer.Option) Option {
	return func(r *Relay) {
		r.obsOpts = append(r.obsOpts, opts...)
	}
}

// WithLogger sets the relay logger.
func WithLogger(l logger.Logger) Option {
	return func(r *Relay) {
		if l != nil {
			r.logger = l
		}
	}
}

// New creates a relay that forwards through f.
func New(f worker.Forwarder, opts ...Option) *Relay {
	r := &Relay{
		ackTimeout: defaultAckTimeout,
		capacity:   defaultQueueCapacity,
		workers:    defaultWorkers,
		logger:     logger.Nop(),
		tabs:       make(map[string]*tab),
		baseCtx:    context.Background(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.Named("relay")
	r.queue = queue.NewInMemoryQueue(queue.WithCapacity(r.capacity))
	r.pool = worker.NewPool(r.workers, r.queue, f, worker.WithPoolLogger(r.logger))
	return r
}

// Start launches the forwarding workers. Observers created later run under ctx.
func (r *Relay) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started || r.closed {
		return
	}
	r.started = true
	r.baseCtx = ctx
	r.pool.Start(ctx)
	r.logger.Info(ctx, "relay started", logger.Int("workers", r.pool.Size()))
}

// Send queues b and waits for its acknowledgement.
func (r *Relay) Send(ctx context.Context, b model.Batch) error {
	reply := make(chan model.Ack, 1)
	if err := r.enqueue(ctx, queue.Message{Batch: b, Reply: reply}); err != nil {
		return err
	}

	timer := time.NewTimer(r.ackTimeout)
	defer timer.Stop()

	select {
	case ack := <-reply:
		switch {
		case ack.Success:
			return nil
		case ack.Permanent:
			return fmt.Errorf("%w: %s", model.ErrBatchRejected, ack.Error)
		default:
			return fmt.Errorf("%w: %s", ErrForward, ack.Error)
		}
	case <-timer.C:
		return fmt.Errorf("%w after %s", ErrAckTimeout, r.ackTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Post queues b without waiting for the result.
func (r *Relay) Post(b model.Batch) error {
	return r.enqueue(context.Background(), queue.Message{Batch: b})
}

func (r *Relay) enqueue(ctx context.Context, m queue.Message) error { //nolint:gocritic // hugeParam: Message travels by value through the queue
	err := r.queue.Enqueue(ctx, m)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, queue.ErrClosed):
		return model.ErrRelayClosed
	case errors.Is(err, queue.ErrFull):
		return fmt.Errorf("%w: %w", ErrBackpressure, err)
	default:
		return err
	}
}

// NavigationComplete attaches a fresh observer to tabID for the page at
// rawURL. The tab's previous observer, if any, is unloaded first.
func (r *Relay) NavigationComplete(ctx context.Context, tabID, rawURL string) (*observer.Observer, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotObservable, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Hostname() == "" {
		return nil, fmt.Errorf("%w: %q", ErrNotObservable, rawURL)
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, model.ErrRelayClosed
	}
	prev := r.tabs[tabID]
	obs := observer.New(u.Hostname(), r, append([]observer.Option{observer.WithLogger(r.logger)}, r.obsOpts...)...)
	runCtx, cancel := context.WithCancel(r.baseCtx)
	r.tabs[tabID] = &tab{obs: obs, cancel: cancel}
	r.mu.Unlock()

	if prev != nil {
		prev.obs.Unload()
		prev.cancel()
	}
	go obs.Run(runCtx)

	r.logger.Debug(ctx, "observer attached", logger.String("tab", tabID), logger.String("website", u.Hostname()))
	return obs, nil
}

// Observer returns the observer currently attached to tabID.
func (r *Relay) Observer(tabID string) (*observer.Observer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tabs[tabID]
	if !ok {
		return nil, false
	}
	return t.obs, true
}

// Tabs returns the number of observed tabs.
func (r *Relay) Tabs() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tabs)
}

// CloseTab unloads the observer of tabID.
func (r *Relay) CloseTab(tabID string) {
	r.mu.Lock()
	t, ok := r.tabs[tabID]
	delete(r.tabs, tabID)
	r.mu.Unlock()

	if ok {
		t.obs.Unload()
		t.cancel()
	}
}

// Stop unloads every observer, drains the queue and stops the workers.
func (r *Relay) Stop(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	tabs := r.tabs
	r.tabs = make(map[string]*tab)
	started := r.started
	r.mu.Unlock()

	for _, t := range tabs {
		t.obs.Unload()
		t.cancel()
	}

	if !started {
		return r.queue.Close()
	}
	if err := r.pool.Shutdown(ctx); err != nil {
		r.logger.Warn(ctx, "relay drain incomplete", logger.Error(err), logger.Int("queued", r.queue.Len(ctx)))
		return err
	}
	r.logger.Info(ctx, "relay stopped")
	return nil
}
