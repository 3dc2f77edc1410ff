// Package dedupe tracks batch ids so retried uploads are merged at most once.
package dedupe

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// Deduper records seen batch IDs to ensure at-most-once merging.
type Deduper interface {
	// SeenAndRecord atomically checks if id was seen and records it if not.
	// Returns true if id was already seen, false if it was newly recorded.
	SeenAndRecord(ctx context.Context, id string) (bool, error)

	// Unrecord removes an ID so the batch can be retried. Used when a batch
	// was recorded but failed to merge.
	Unrecord(ctx context.Context, id string) error

	// Size returns the number of ids currently tracked.
	Size(ctx context.Context) int64
}

type entry struct {
	id        string
	expiresAt time.Time
}

// inMemoryDeduper keeps ids in insertion order and evicts the oldest once
// maxSize is reached. With maxSize <= 0 it never evicts by size.
type inMemoryDeduper struct {
	mu      sync.Mutex
	seen    map[string]*list.Element
	order   *list.List // front = oldest
	maxSize int
	ttl     time.Duration
	now     func() time.Time
}

// NewInMemoryDeduper creates a new in-memory deduper with configuration options.
func NewInMemoryDeduper(opts ...Option) Deduper {
	d := &inMemoryDeduper{
		maxSize: 50000,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.seen = make(map[string]*list.Element)
	d.order = list.New()
	return d
}

func (d *inMemoryDeduper) SeenAndRecord(_ context.Context, id string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	d.expire(now)

	if _, ok := d.seen[id]; ok {
		return true, nil
	}

	if d.maxSize > 0 && d.order.Len() >= d.maxSize {
		d.remove(d.order.Front())
	}

	e := &entry{id: id}
	if d.ttl > 0 {
		e.expiresAt = now.Add(d.ttl)
	}
	d.seen[id] = d.order.PushBack(e)
	return false, nil
}

func (d *inMemoryDeduper) Unrecord(_ context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if el, ok := d.seen[id]; ok {
		d.remove(el)
	}
	return nil
}

func (d *inMemoryDeduper) Size(_ context.Context) int64 {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.expire(d.now())
	return int64(d.order.Len())
}

// expire drops entries whose ttl has passed. Entries share one ttl, so the
// list is also ordered by expiry. Must be called with d.mu held.
func (d *inMemoryDeduper) expire(now time.Time) {
	if d.ttl <= 0 {
		return
	}
	for el := d.order.Front(); el != nil; el = d.order.Front() {
		if now.Before(el.Value.(*entry).expiresAt) {
			return
		}
		d.remove(el)
	}
}

// remove must be called with d.mu held.
func (d *inMemoryDeduper) remove(el *list.Element) {
	if el == nil {
		return
	}
	delete(d.seen, el.Value.(*entry).id)
	d.order.Remove(el)
}

// noopDeduper never reports duplicates.
type noopDeduper struct{}

// NewNoop returns a Deduper that disables idempotency tracking.
func NewNoop() Deduper { return noopDeduper{} }

func (noopDeduper) SeenAndRecord(context.Context, string) (bool, error) { return false, nil }
func (noopDeduper) Unrecord(context.Context, string) error             { return nil }
func (noopDeduper) Size(context.Context) int64                         { return 0 }
