package service_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	repository "github.com/okian/stresstrack/internal/adapters/repository"
	service "github.com/okian/stresstrack/internal/app"
	"github.com/okian/stresstrack/internal/domain/dedupe"
	"github.com/okian/stresstrack/internal/domain/model"
	"github.com/okian/stresstrack/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	. "github.com/smartystreets/goconvey/convey"
)

var errBoom = errors.New("boom")

// flakyStore fails Merge or SetScore on demand.
type flakyStore struct {
	*repository.MemoryStore
	mu          sync.Mutex
	failMerge   bool
	failScore   bool
	staleScores bool
	merges      int
}

func (f *flakyStore) Merge(ctx context.Context, rec model.BehaviorRecord) (model.Behavior, error) {
	f.mu.Lock()
	fail := f.failMerge
	f.merges++
	f.mu.Unlock()
	if fail {
		return model.Behavior{}, errBoom
	}
	return f.MemoryStore.Merge(ctx, rec)
}

func (f *flakyStore) SetScore(ctx context.Context, key model.Key, revision int64, score float64) (bool, error) {
	if f.failScore {
		return false, errBoom
	}
	if f.staleScores {
		return false, nil
	}
	return f.MemoryStore.SetScore(ctx, key, revision, score)
}

func first() model.BehaviorRecord {
	return model.BehaviorRecord{
		Website: "example.com", Date: "2024-01-01",
		Clicks: 3, ScrollDistance: 100, ScrollSpeed: 20, TimeSpent: 10,
		MouseMovements: []model.MouseMovement{{X: 0, Y: 0, T: 1}, {X: 50, Y: 10, T: 2}},
	}
}

func second() model.BehaviorRecord {
	return model.BehaviorRecord{
		Website: "example.com", Date: "2024-01-01",
		Clicks: 2, ScrollDistance: 50, ScrollSpeed: 5, TimeSpent: 5,
		MouseMovements: []model.MouseMovement{{X: 80, Y: 5, T: 3}},
	}
}

func TestService_Lifecycle(t *testing.T) {
	Convey("Given a new service", t, func() {
		ctx := context.Background()
		svc := service.New(service.WithMetricsInterval(10 * time.Millisecond))
		defer func() { _ = svc.Stop(ctx) }()

		Convey("When starting the service", func() {
			So(svc.Start(ctx), ShouldBeNil)
			So(svc.Start(ctx), ShouldBeNil)

			Convey("Then it should be marked as started", func() {
				stats := svc.GetStats(ctx)
				So(stats["started"], ShouldEqual, true)
				So(stats["documents"], ShouldEqual, 0)
				So(svc.Ping(ctx), ShouldBeNil)
			})

			Convey("And stopping closes the store", func() {
				time.Sleep(30 * time.Millisecond)
				So(svc.Stop(ctx), ShouldBeNil)
				So(svc.Stop(ctx), ShouldBeNil)
				So(svc.GetStats(ctx)["started"], ShouldEqual, false)
				So(errors.Is(svc.Ping(ctx), repository.ErrClosed), ShouldBeTrue)
			})
		})
	})
}

func TestService_MetricsUpdater(t *testing.T) {
	Convey("Given a started service with a fast gauge refresh", t, func() {
		ctx := context.Background()
		metrics.UpdateSystemGoroutineCount(-1)
		svc := service.New(service.WithMetricsInterval(10 * time.Millisecond))
		So(svc.Start(ctx), ShouldBeNil)
		defer func() { _ = svc.Stop(ctx) }()

		_, _, err := svc.Track(ctx, "", first())
		So(err, ShouldBeNil)

		Convey("When a few refresh ticks pass", func() {
			time.Sleep(60 * time.Millisecond)

			Convey("Then only the document gauge is refreshed", func() {
				expected := `
# HELP stresstrack_documents_total Number of (website, date) documents in the store
# TYPE stresstrack_documents_total gauge
stresstrack_documents_total 1
# HELP stresstrack_system_goroutine_count Current number of goroutines
# TYPE stresstrack_system_goroutine_count gauge
stresstrack_system_goroutine_count -1
`
				err := testutil.GatherAndCompare(metrics.GetRegistry(), strings.NewReader(expected),
					"stresstrack_documents_total", "stresstrack_system_goroutine_count")
				So(err, ShouldBeNil)
			})
		})
	})
}

func TestService_Track(t *testing.T) {
	Convey("Given a service on an in-memory store", t, func() {
		ctx := context.Background()
		store := repository.NewMemoryStore()
		svc := service.New(service.WithStore(store))

		Convey("When the two example records are tracked", func() {
			_, _, err := svc.Track(ctx, "", first())
			So(err, ShouldBeNil)
			doc, dup, err := svc.Track(ctx, "", second())
			So(err, ShouldBeNil)

			Convey("Then the merged document matches the expected totals and score", func() {
				So(dup, ShouldBeFalse)
				So(doc.Clicks, ShouldEqual, 5)
				So(doc.ScrollDistance, ShouldEqual, 150)
				So(doc.ScrollSpeed, ShouldEqual, 5)
				So(doc.TimeSpent, ShouldEqual, 15)
				So(doc.MouseMovements, ShouldHaveLength, 3)
				So(doc.StressScore, ShouldEqual, 20.65)
			})

			Convey("And the score is persisted", func() {
				stored, err := store.Get(ctx, model.Key{Website: "example.com", Date: "2024-01-01"})
				So(err, ShouldBeNil)
				So(stored.StressScore, ShouldEqual, 20.65)
			})
		})

		Convey("When a record is missing its key", func() {
			_, _, _ = svc.Track(ctx, "", first())
			before, _ := svc.All(ctx)

			_, _, errWebsite := svc.Track(ctx, "", model.BehaviorRecord{Date: "2024-01-01", Clicks: 9})
			_, _, errDate := svc.Track(ctx, "", model.BehaviorRecord{Website: "example.com", Date: "  ", Clicks: 9})

			Convey("Then it is rejected and the store is untouched", func() {
				So(errors.Is(errWebsite, model.ErrMissingKey), ShouldBeTrue)
				So(errors.Is(errDate, model.ErrMissingKey), ShouldBeTrue)
				after, _ := svc.All(ctx)
				So(after, ShouldResemble, before)
			})
		})

		Convey("When a record has a negative counter", func() {
			_, _, err := svc.Track(ctx, "", model.BehaviorRecord{Website: "a.com", Date: "2024-01-01", Clicks: -1})

			Convey("Then it is rejected", func() {
				So(errors.Is(err, model.ErrInvalidRecord), ShouldBeTrue)
				n, _ := store.Count(ctx)
				So(n, ShouldEqual, 0)
			})
		})

		Convey("When keys carry surrounding whitespace", func() {
			rec := first()
			rec.Website = " example.com "
			doc, _, err := svc.Track(ctx, "", rec)

			Convey("Then they are trimmed before merging", func() {
				So(err, ShouldBeNil)
				So(doc.Website, ShouldEqual, "example.com")
			})
		})
	})
}

func TestService_Idempotency(t *testing.T) {
	Convey("Given a service with batch dedupe", t, func() {
		ctx := context.Background()
		store := &flakyStore{MemoryStore: repository.NewMemoryStore()}
		svc := service.New(service.WithStore(store), service.WithDeduper(dedupe.NewInMemoryDeduper()))

		Convey("When the same batch is delivered twice", func() {
			_, _, err := svc.Track(ctx, "batch-1", first())
			So(err, ShouldBeNil)
			doc, dup, err := svc.Track(ctx, "batch-1", first())
			So(err, ShouldBeNil)

			Convey("Then it is merged once and reported as duplicate", func() {
				So(dup, ShouldBeTrue)
				So(doc.Clicks, ShouldEqual, 3)
				So(store.merges, ShouldEqual, 1)
			})
		})

		Convey("When the merge fails", func() {
			store.failMerge = true
			_, _, err := svc.Track(ctx, "batch-2", first())
			So(errors.Is(err, errBoom), ShouldBeTrue)

			Convey("Then a retry of the same batch is merged", func() {
				store.failMerge = false
				doc, dup, err := svc.Track(ctx, "batch-2", first())
				So(err, ShouldBeNil)
				So(dup, ShouldBeFalse)
				So(doc.Clicks, ShouldEqual, 3)
			})
		})

		Convey("When the score write fails after the merge", func() {
			store.failScore = true
			_, _, err := svc.Track(ctx, "batch-3", first())
			So(errors.Is(err, errBoom), ShouldBeTrue)

			Convey("Then a retry does not merge twice", func() {
				store.failScore = false
				doc, dup, err := svc.Track(ctx, "batch-3", first())
				So(err, ShouldBeNil)
				So(dup, ShouldBeTrue)
				So(doc.Clicks, ShouldEqual, 3)
			})
		})

		Convey("When a newer merge supersedes the score write", func() {
			store.staleScores = true
			doc, _, err := svc.Track(ctx, "batch-4", first())

			Convey("Then the response still carries this merge's score", func() {
				So(err, ShouldBeNil)
				So(doc.StressScore, ShouldEqual, 21.1)
			})
		})
	})
}

func TestService_Concurrency(t *testing.T) {
	Convey("Given many tabs reporting the same site concurrently", t, func() {
		ctx := context.Background()
		store := repository.NewMemoryStore()
		svc := service.New(service.WithStore(store))

		var wg sync.WaitGroup
		for i := 0; i < 40; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, _, _ = svc.Track(ctx, fmt.Sprintf("batch-%d", i), model.BehaviorRecord{
					Website:        "busy.com",
					Date:           "2024-01-01",
					Clicks:         1,
					TimeSpent:      1,
					MouseMovements: []model.MouseMovement{{X: float64(i)}},
				})
			}(i)
		}
		wg.Wait()

		Convey("Then nothing is lost and the final score reflects every merge", func() {
			doc, err := store.Get(ctx, model.Key{Website: "busy.com", Date: "2024-01-01"})
			So(err, ShouldBeNil)
			So(doc.Clicks, ShouldEqual, 40)
			So(doc.TimeSpent, ShouldEqual, 40)
			So(doc.MovementCount, ShouldEqual, 40)
			// 40 clicks*2 + spread 39*0.1 + 40s*0.01
			So(doc.StressScore, ShouldEqual, 84.3)
		})
	})
}
