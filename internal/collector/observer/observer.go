// Package observer accumulates interaction signals for one page load and
// periodically hands them to a Sender as batches.
//
// An Observer belongs to exactly one page load. Navigating creates a new one;
// nothing is shared between page loads.
package observer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/okian/stresstrack/internal/domain/model"
	"github.com/okian/stresstrack/pkg/logger"
	"github.com/okian/stresstrack/pkg/metrics"
)

// ErrStopped is returned once the observer was unloaded or lost its relay.
var ErrStopped = errors.New("observer stopped")

// Sender delivers batches on behalf of an observer.
type Sender interface {
	// Send waits for the batch to be acknowledged.
	Send(ctx context.Context, b model.Batch) error
	// Post hands the batch over without waiting.
	Post(b model.Batch) error
}

type window struct {
	start          time.Time
	moves          []model.MouseMovement
	clicks         int64
	scrollDistance float64
	scrollSpeed    float64
	lastSampleAt   time.Time
}

type pendingBatch struct {
	batch    model.Batch
	attempts int
	nextAt   time.Time
	policy   backoff.BackOff
	posted   bool // handed to Post by Unload
}

// Observer records signals for one page and flushes them as batches.
type Observer struct {
	website        string
	sender         Sender
	now            func() time.Time
	newID          func() string
	newBackOff     func() backoff.BackOff
	flushInterval  time.Duration
	sampleInterval time.Duration
	maxSamples     int
	maxAttempts    int
	logger         logger.Logger

	// flushMu serializes Flush; mu guards the state below.
	flushMu sync.Mutex
	mu      sync.Mutex
	win     window
	pending *pendingBatch
	dropped int64

	// The scroll baseline survives window resets; only the first event of a page sets it.
	hasScroll    bool
	lastScrollY  float64
	lastScrollAt time.Time

	stopped bool
	stopCh  chan struct{}
	done    chan struct{}
}

// New starts observing website. The first window opens immediately.
func New(website string, sender Sender, opts ...Option) *Observer {
	o := &Observer{
		website:        website,
		sender:         sender,
		now:            time.Now,
		newID:          uuid.NewString,
		newBackOff:     defaultBackOff,
		flushInterval:  DefaultFlushInterval,
		sampleInterval: DefaultSampleInterval,
		maxSamples:     DefaultMaxSamples,
		maxAttempts:    DefaultMaxAttempts,
		logger:         logger.Nop(),
		stopCh:         make(chan struct{}),
		done:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.Named("observer")
	o.win.start = o.now()
	return o
}

// Website returns the observed hostname.
func (o *Observer) Website() string { return o.website }

// MouseMove records a pointer sample, subject to throttling and the per-window cap.
func (o *Observer) MouseMove(x, y float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.stopped {
		return
	}

	now := o.now()
	if o.sampleInterval > 0 && !o.win.lastSampleAt.IsZero() && now.Sub(o.win.lastSampleAt) < o.sampleInterval {
		o.dropped++
		metrics.RecordObserverSampleDropped("throttled")
		return
	}
	if len(o.win.moves) >= o.maxSamples {
		o.dropped++
		metrics.RecordObserverSampleDropped("window_full")
		return
	}
	o.win.moves = append(o.win.moves, model.MouseMovement{X: x, Y: y, T: now.UnixMilli()})
	o.win.lastSampleAt = now
}

// Click counts one click.
func (o *Observer) Click() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.stopped {
		return
	}
	o.win.clicks++
}

// Scroll records the page's vertical offset y. The first call on a page only
// sets the baseline. Two events at the same instant add distance but keep
// the previous speed.
func (o *Observer) Scroll(y float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.stopped {
		return
	}

	now := o.now()
	if o.hasScroll {
		distance := math.Abs(y - o.lastScrollY)
		o.win.scrollDistance += distance
		if elapsed := now.Sub(o.lastScrollAt).Seconds(); elapsed > 0 {
			o.win.scrollSpeed = distance / elapsed
		}
	}
	o.hasScroll = true
	o.lastScrollY = y
	o.lastScrollAt = now
}

// Window returns the record the next flush would emit.
func (o *Observer) Window() model.BehaviorRecord {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.recordLocked(o.now())
}

// Pending returns the batch awaiting a retry, if any.
func (o *Observer) Pending() (model.Batch, int, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.pending == nil {
		return model.Batch{}, 0, false
	}
	return o.pending.batch, o.pending.attempts, true
}

// DroppedSamples returns how many mouse samples were discarded.
func (o *Observer) DroppedSamples() int64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.dropped
}

// Flush emits the current window if it carries any signal. While a failed
// batch waits for its retry, the window keeps accumulating instead.
func (o *Observer) Flush(ctx context.Context) error {
	o.flushMu.Lock()
	defer o.flushMu.Unlock()

	o.mu.Lock()
	if o.stopped {
		o.mu.Unlock()
		return ErrStopped
	}
	now := o.now()
	p := o.pending
	if p != nil && now.Before(p.nextAt) {
		o.mu.Unlock()
		return nil
	}
	if p == nil {
		b, ok := o.freezeLocked(now)
		if !ok {
			o.mu.Unlock()
			return nil
		}
		policy := backoff.WithMaxRetries(o.newBackOff(), uint64(o.maxAttempts-1))
		policy.Reset()
		p = &pendingBatch{batch: b, policy: policy}
		// Visible to Unload while the first attempt is in flight.
		o.pending = p
	}
	p.attempts++
	o.mu.Unlock()

	return o.deliver(ctx, p)
}

func (o *Observer) deliver(ctx context.Context, p *pendingBatch) error {
	err := o.sender.Send(ctx, p.batch)

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.stopped {
		if err != nil && !p.posted && !errors.Is(err, model.ErrRelayClosed) {
			p.posted = true
			if perr := o.sender.Post(p.batch); perr != nil {
				metrics.RecordObserverBatchDropped()
				o.logger.Warn(ctx, "final batch not delivered",
					logger.String("batch_id", p.batch.ID),
					logger.String("website", o.website),
					logger.Error(perr),
				)
			}
		}
		return err
	}

	switch {
	case err == nil:
		o.pending = nil
		metrics.RecordObserverFlush("sent")
		return nil
	case errors.Is(err, model.ErrRelayClosed):
		o.pending = nil
		o.stopLocked()
		metrics.RecordObserverFlush("relay_closed")
		o.logger.Warn(ctx, "relay unavailable, stopping", logger.String("website", o.website))
		return fmt.Errorf("%w: %w", ErrStopped, err)
	case errors.Is(err, model.ErrBatchRejected):
		o.pending = nil
		metrics.RecordObserverFlush("rejected")
		metrics.RecordObserverBatchDropped()
		o.logger.Warn(ctx, "batch rejected",
			logger.String("batch_id", p.batch.ID),
			logger.String("website", o.website),
			logger.Error(err),
		)
		return err
	}

	wait := p.policy.NextBackOff()
	if wait == backoff.Stop {
		o.pending = nil
		metrics.RecordObserverFlush("dropped")
		metrics.RecordObserverBatchDropped()
		o.logger.Error(ctx, "batch dropped after retries",
			logger.String("batch_id", p.batch.ID),
			logger.String("website", o.website),
			logger.Int("attempts", p.attempts),
			logger.Error(err),
		)
		return fmt.Errorf("batch %s dropped after %d attempts: %w", p.batch.ID, p.attempts, err)
	}
	p.nextAt = o.now().Add(wait)
	o.pending = p
	metrics.RecordObserverFlush("retry")
	o.logger.Debug(ctx, "batch delivery failed, will retry",
		logger.String("batch_id", p.batch.ID),
		logger.Int("attempt", p.attempts),
		logger.Any("retry_in", wait),
		logger.Error(err),
	)
	return err
}

// Run flushes every flush interval until ctx ends, Unload is called or the
// relay goes away.
func (o *Observer) Run(ctx context.Context) {
	defer close(o.done)

	ticker := time.NewTicker(o.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-o.stopCh:
			return
		case <-ticker.C:
			err := o.Flush(ctx)
			if errors.Is(err, ErrStopped) {
				return
			}
			if err != nil {
				o.logger.Debug(ctx, "flush failed", logger.Error(err))
			}
		}
	}
}

// Done is closed when Run returns.
func (o *Observer) Done() <-chan struct{} { return o.done }

// Unload closes the final window and posts it, together with any batch still
// waiting for a retry, without waiting for acknowledgement. Later calls do nothing.
func (o *Observer) Unload() {
	o.mu.Lock()
	if o.stopped {
		o.mu.Unlock()
		return
	}
	var out []model.Batch
	if o.pending != nil {
		o.pending.posted = true
		out = append(out, o.pending.batch)
		o.pending = nil
	}
	if b, ok := o.freezeLocked(o.now()); ok {
		out = append(out, b)
	}
	o.stopLocked()
	o.mu.Unlock()

	for _, b := range out {
		if err := o.sender.Post(b); err != nil {
			metrics.RecordObserverBatchDropped()
			o.logger.Warn(context.Background(), "final batch not delivered",
				logger.String("batch_id", b.ID),
				logger.String("website", o.website),
				logger.Error(err),
			)
		}
	}
}

// Stopped reports whether the observer stopped recording.
func (o *Observer) Stopped() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stopped
}

func (o *Observer) stopLocked() {
	if !o.stopped {
		o.stopped = true
		close(o.stopCh)
	}
}

// recordLocked builds the record for the open window as of now.
func (o *Observer) recordLocked(now time.Time) model.BehaviorRecord {
	moves := make([]model.MouseMovement, len(o.win.moves))
	copy(moves, o.win.moves)
	return model.BehaviorRecord{
		Website:        o.website,
		Date:           model.DateOf(now),
		MouseMovements: moves,
		Clicks:         o.win.clicks,
		ScrollDistance: o.win.scrollDistance,
		ScrollSpeed:    o.win.scrollSpeed,
		TimeSpent:      math.Round(now.Sub(o.win.start).Seconds()),
	}
}

// freezeLocked turns the open window into a batch and opens a new one.
func (o *Observer) freezeLocked(now time.Time) (model.Batch, bool) {
	rec := o.recordLocked(now)
	if !rec.HasSignal() {
		return model.Batch{}, false
	}
	o.win = window{start: now}
	return model.Batch{ID: o.newID(), Record: rec}, true
}
