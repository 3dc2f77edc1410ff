package observer_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/stresstrack/internal/collector/observer"
	"github.com/okian/stresstrack/internal/domain/model"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeSender struct {
	mu      sync.Mutex
	sendErr error
	postErr error
	sent    []model.Batch
	posted  []model.Batch
}

func (s *fakeSender) Send(_ context.Context, b model.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, b)
	return s.sendErr
}

func (s *fakeSender) Post(b model.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.posted = append(s.posted, b)
	return s.postErr
}

func (s *fakeSender) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sendErr = err
}

func (s *fakeSender) sends() []model.Batch {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Batch(nil), s.sent...)
}

func newObserver(clock *fakeClock, sender *fakeSender, opts ...observer.Option) *observer.Observer {
	n := 0
	base := []observer.Option{
		observer.WithClock(clock.Now),
		observer.WithBackOff(func() backoff.BackOff { return backoff.NewConstantBackOff(time.Second) }),
		observer.WithIDGenerator(func() string { n++; return fmt.Sprintf("batch-%d", n) }),
	}
	return observer.New("example.com", sender, append(base, opts...)...)
}

func TestObserver_Signals(t *testing.T) {
	Convey("Given an observer on a fresh page", t, func() {
		clock := &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
		obs := newObserver(clock, &fakeSender{})

		Convey("When the mouse moves faster than the sample interval", func() {
			obs.MouseMove(1, 1)
			clock.Advance(10 * time.Millisecond)
			obs.MouseMove(2, 2)
			clock.Advance(50 * time.Millisecond)
			obs.MouseMove(3, 3)

			Convey("Then samples are coalesced", func() {
				w := obs.Window()
				So(w.MouseMovements, ShouldHaveLength, 2)
				So(w.MouseMovements[0].T, ShouldEqual, time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC).UnixMilli())
				So(w.MouseMovements[1].X, ShouldEqual, 3)
				So(obs.DroppedSamples(), ShouldEqual, 1)
			})
		})

		Convey("When a window reaches its sample cap", func() {
			capped := newObserver(clock, &fakeSender{}, observer.WithMaxSamples(3), observer.WithSampleInterval(0))
			for i := 0; i < 5; i++ {
				capped.MouseMove(float64(i), 0)
			}

			Convey("Then extra samples are dropped", func() {
				So(capped.Window().MouseMovements, ShouldHaveLength, 3)
				So(capped.DroppedSamples(), ShouldEqual, 2)
			})
		})

		Convey("When the user clicks", func() {
			obs.Click()
			obs.Click()
			So(obs.Window().Clicks, ShouldEqual, 2)
		})

		Convey("When the page scrolls", func() {
			obs.Scroll(100)
			clock.Advance(500 * time.Millisecond)
			obs.Scroll(300)

			Convey("Then the first event only sets the baseline", func() {
				w := obs.Window()
				So(w.ScrollDistance, ShouldEqual, 200)
				So(w.ScrollSpeed, ShouldEqual, 400)
			})

			Convey("And two events at the same instant keep the previous speed", func() {
				obs.Scroll(250)
				w := obs.Window()
				So(w.ScrollDistance, ShouldEqual, 250)
				So(w.ScrollSpeed, ShouldEqual, 400)
			})
		})

		Convey("When time passes", func() {
			clock.Advance(2600 * time.Millisecond)
			w := obs.Window()

			Convey("Then timeSpent is rounded to whole seconds", func() {
				So(w.TimeSpent, ShouldEqual, 3)
				So(w.Website, ShouldEqual, "example.com")
				So(w.Date, ShouldEqual, "2024-01-01")
			})
		})
	})
}

func TestObserver_Flush(t *testing.T) {
	Convey("Given an observer with some activity", t, func() {
		ctx := context.Background()
		clock := &fakeClock{now: time.Date(2024, 1, 1, 23, 59, 58, 0, time.UTC)}
		sender := &fakeSender{}
		obs := newObserver(clock, sender, observer.WithMaxAttempts(3))
		obs.Click()
		obs.MouseMove(10, 20)
		obs.Scroll(0)
		clock.Advance(time.Second)
		obs.Scroll(50)

		Convey("When nothing happened yet", func() {
			idle := newObserver(clock, sender)
			So(idle.Flush(ctx), ShouldBeNil)
			So(sender.sends(), ShouldBeEmpty)
		})

		Convey("When the flush succeeds", func() {
			clock.Advance(4 * time.Second)
			So(obs.Flush(ctx), ShouldBeNil)

			Convey("Then one batch with the window's totals was sent", func() {
				sent := sender.sends()
				So(sent, ShouldHaveLength, 1)
				So(sent[0].ID, ShouldEqual, "batch-1")
				rec := sent[0].Record
				So(rec.Clicks, ShouldEqual, 1)
				So(rec.MouseMovements, ShouldHaveLength, 1)
				So(rec.ScrollDistance, ShouldEqual, 50)
				So(rec.ScrollSpeed, ShouldEqual, 50)
				So(rec.TimeSpent, ShouldEqual, 5)
			})

			Convey("And the date is taken when the window closes", func() {
				So(sender.sends()[0].Record.Date, ShouldEqual, "2024-01-02")
			})

			Convey("And the window starts over", func() {
				w := obs.Window()
				So(w.Clicks, ShouldEqual, 0)
				So(w.MouseMovements, ShouldBeEmpty)
				So(w.ScrollDistance, ShouldEqual, 0)
				So(w.ScrollSpeed, ShouldEqual, 0)
				So(w.TimeSpent, ShouldEqual, 0)
			})

			Convey("And the scroll baseline carries over", func() {
				clock.Advance(time.Second)
				obs.Scroll(80)
				So(obs.Window().ScrollDistance, ShouldEqual, 30)
			})
		})

		Convey("When delivery fails", func() {
			sender.fail(errors.New("connection refused"))
			So(obs.Flush(ctx), ShouldNotBeNil)
			obs.Click()

			Convey("Then the batch waits for its backoff while the new window grows", func() {
				_, attempts, ok := obs.Pending()
				So(ok, ShouldBeTrue)
				So(attempts, ShouldEqual, 1)

				So(obs.Flush(ctx), ShouldBeNil)
				So(sender.sends(), ShouldHaveLength, 1)
				So(obs.Window().Clicks, ShouldEqual, 1)
			})

			Convey("And the same batch is retried after the delay", func() {
				sender.fail(nil)
				clock.Advance(time.Second)
				So(obs.Flush(ctx), ShouldBeNil)

				sent := sender.sends()
				So(sent, ShouldHaveLength, 2)
				So(sent[1].ID, ShouldEqual, sent[0].ID)
				_, _, ok := obs.Pending()
				So(ok, ShouldBeFalse)

				Convey("And the next flush sends the new window", func() {
					So(obs.Flush(ctx), ShouldBeNil)
					sent := sender.sends()
					So(sent, ShouldHaveLength, 3)
					So(sent[2].ID, ShouldEqual, "batch-2")
					So(sent[2].Record.Clicks, ShouldEqual, 1)
				})
			})

			Convey("And it is dropped after the last attempt", func() {
				clock.Advance(time.Second)
				So(obs.Flush(ctx), ShouldNotBeNil)
				clock.Advance(time.Second)
				err := obs.Flush(ctx)

				So(err, ShouldNotBeNil)
				So(err.Error(), ShouldContainSubstring, "dropped after 3 attempts")
				So(sender.sends(), ShouldHaveLength, 3)
				_, _, ok := obs.Pending()
				So(ok, ShouldBeFalse)
			})
		})

		Convey("When the server rejects the batch", func() {
			sender.fail(fmt.Errorf("%w: status 400", model.ErrBatchRejected))
			err := obs.Flush(ctx)

			Convey("Then it is not retried", func() {
				So(errors.Is(err, model.ErrBatchRejected), ShouldBeTrue)
				_, _, ok := obs.Pending()
				So(ok, ShouldBeFalse)
			})
		})

		Convey("When the relay is gone", func() {
			sender.fail(model.ErrRelayClosed)
			err := obs.Flush(ctx)

			Convey("Then the observer stops", func() {
				So(errors.Is(err, observer.ErrStopped), ShouldBeTrue)
				So(obs.Stopped(), ShouldBeTrue)
				So(obs.Flush(ctx), ShouldEqual, observer.ErrStopped)
			})
		})
	})
}

func TestObserver_Unload(t *testing.T) {
	Convey("Given an observer with a failed batch and a newer window", t, func() {
		ctx := context.Background()
		clock := &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
		sender := &fakeSender{}
		obs := newObserver(clock, sender)

		obs.Click()
		sender.fail(errors.New("timeout"))
		_ = obs.Flush(ctx)
		obs.Click()
		obs.Click()
		clock.Advance(3 * time.Second)

		Convey("When the page unloads", func() {
			obs.Unload()
			obs.Unload()

			Convey("Then both batches are posted without waiting", func() {
				sender.mu.Lock()
				posted := append([]model.Batch(nil), sender.posted...)
				sender.mu.Unlock()

				So(posted, ShouldHaveLength, 2)
				So(posted[0].Record.Clicks, ShouldEqual, 1)
				So(posted[1].Record.Clicks, ShouldEqual, 2)
				So(posted[1].Record.TimeSpent, ShouldEqual, 3)
			})

			Convey("And later signals are ignored", func() {
				obs.Click()
				So(obs.Stopped(), ShouldBeTrue)
				So(obs.Window().Clicks, ShouldEqual, 0)
			})
		})
	})
}

// gatedSender holds every Send until release is called.
type gatedSender struct {
	fakeSender
	entered chan struct{}
	gate    chan error
}

func newGatedSender() *gatedSender {
	return &gatedSender{entered: make(chan struct{}, 1), gate: make(chan error)}
}

func (s *gatedSender) Send(ctx context.Context, b model.Batch) error {
	s.entered <- struct{}{}
	err := <-s.gate
	_ = s.fakeSender.Send(ctx, b)
	return err
}

func TestObserver_UnloadDuringSend(t *testing.T) {
	Convey("Given an observer whose first delivery is still in flight", t, func() {
		ctx := context.Background()
		clock := &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
		sender := newGatedSender()
		obs := observer.New("example.com", sender,
			observer.WithClock(clock.Now),
			observer.WithIDGenerator(func() string { return "batch-1" }),
		)

		obs.Click()
		obs.Click()
		obs.Click()

		flushed := make(chan error, 1)
		go func() { flushed <- obs.Flush(ctx) }()
		<-sender.entered

		Convey("When the page unloads and the delivery then fails", func() {
			obs.Unload()
			sender.gate <- errors.New("context canceled")
			err := <-flushed

			Convey("Then the in-flight batch is posted exactly once", func() {
				So(err, ShouldNotBeNil)
				sender.mu.Lock()
				posted := append([]model.Batch(nil), sender.posted...)
				sender.mu.Unlock()

				So(posted, ShouldHaveLength, 1)
				So(posted[0].ID, ShouldEqual, "batch-1")
				So(posted[0].Record.Clicks, ShouldEqual, 3)

				_, _, pending := obs.Pending()
				So(pending, ShouldBeFalse)
			})
		})

		Convey("When the delivery succeeds before the page unloads", func() {
			sender.gate <- nil
			So(<-flushed, ShouldBeNil)
			obs.Unload()

			Convey("Then nothing is posted again", func() {
				sender.mu.Lock()
				defer sender.mu.Unlock()
				So(sender.posted, ShouldBeEmpty)
				So(sender.sent, ShouldHaveLength, 1)
			})
		})
	})
}

func TestObserver_Run(t *testing.T) {
	Convey("Given a running observer", t, func() {
		sender := &fakeSender{}
		obs := observer.New("example.com", sender, observer.WithFlushInterval(10*time.Millisecond))
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go obs.Run(ctx)
		obs.Click()

		Convey("Then the window is flushed on the interval", func() {
			deadline := time.Now().Add(time.Second)
			for len(sender.sends()) == 0 && time.Now().Before(deadline) {
				time.Sleep(5 * time.Millisecond)
			}
			So(sender.sends(), ShouldNotBeEmpty)
			So(sender.sends()[0].Record.Clicks, ShouldEqual, 1)
		})

		Convey("Then Unload stops the loop", func() {
			obs.Unload()
			select {
			case <-obs.Done():
			case <-time.After(time.Second):
				t.Fatal("run loop did not stop")
			}
		})
	})
}
