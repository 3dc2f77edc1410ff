package metrics

import (
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMetricsManagerCreation(t *testing.T) {
	Convey("Given metrics manager creation", t, func() {
		Convey("When creating with default options", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(WithPrometheusRegistry(registry))

			Convey("Then it uses the stresstrack namespace", func() {
				So(manager, ShouldNotBeNil)
				So(manager.namespace, ShouldEqual, "stresstrack")
			})
		})

		Convey("When creating with custom options", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(
				WithNamespace("test_ns"),
				WithSubsystem("collector"),
				WithHistogramBuckets([]float64{0.1, 0.5, 1.0}),
				WithConstLabels(map[string]string{"env": "test"}),
				WithPrometheusRegistry(registry),
			)
			manager.recordsIngested.Inc()

			Convey("Then metric names carry namespace and subsystem", func() {
				families, err := registry.Gather()
				So(err, ShouldBeNil)

				var found bool
				for _, mf := range families {
					if mf.GetName() == "test_ns_collector_records_ingested_total" {
						found = true
						So(mf.GetMetric()[0].GetLabel()[0].GetName(), ShouldEqual, "env")
					}
				}
				So(found, ShouldBeTrue)
			})
		})

		Convey("When creating with empty or nil options", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(
				WithNamespace(""),
				WithSubsystem(""),
				WithHistogramBuckets(nil),
				WithConstLabels(nil),
				WithPrometheusRegistry(nil),
				WithPrometheusRegistry(registry),
			)

			Convey("Then the defaults survive", func() {
				So(manager.namespace, ShouldEqual, "stresstrack")
				So(manager.histogramBuckets, ShouldResemble, prometheus.DefBuckets)
				So(manager.constLabels, ShouldNotBeNil)
				So(manager.registry, ShouldEqual, registry)
			})
		})
	})
}

func TestMetricsRecording(t *testing.T) {
	Convey("Given the global metrics manager", t, func() {
		Convey("When recording ingestion metrics", func() {
			before := testutil.ToFloat64(globalManager.movementsIngested)
			RecordIngested(42)
			RecordDuplicate()
			RecordRejected("validation")
			RecordStressScore(20.65)
			RecordScoreWriteSkipped()

			Convey("Then counters move", func() {
				So(testutil.ToFloat64(globalManager.movementsIngested)-before, ShouldEqual, 42)
				So(testutil.ToFloat64(globalManager.recordsRejected.WithLabelValues("validation")), ShouldBeGreaterThanOrEqualTo, 1)
			})
		})

		Convey("When recording store metrics", func() {
			So(func() {
				RecordStoreLatency("merge", 1.5)
				RecordStoreError("merge")
				UpdateDocumentsTotal(7)
			}, ShouldNotPanic)
			So(testutil.ToFloat64(globalManager.documentsTotal), ShouldEqual, 7)
		})

		Convey("When recording HTTP metrics", func() {
			So(func() {
				RecordHTTPRequest("/api/track", "POST", "200")
				RecordHTTPRequestDuration("/api/track", "POST", "200", 5.0)
				RecordRateLimited()
			}, ShouldNotPanic)
		})

		Convey("When recording relay metrics", func() {
			So(func() {
				UpdateQueueSize(3)
				UpdateQueueCapacity(100)
				UpdateQueueUtilization(0.03)
				RecordQueueEnqueue()
				RecordQueueDequeue()
				RecordQueueEnqueueError()
				RecordQueueProcessingLatency(0.2)
				UpdateWorkerActiveCount(2)
				RecordWorkerProcessingLatency(12)
				RecordWorkerError()
				RecordForwardResult("success")
			}, ShouldNotPanic)
			So(testutil.ToFloat64(globalManager.queueCapacity), ShouldEqual, 100)
		})

		Convey("When recording observer metrics", func() {
			So(func() {
				RecordObserverFlush("sent")
				RecordObserverBatchDropped()
				RecordObserverSampleDropped("throttled")
			}, ShouldNotPanic)
		})

		Convey("When recording error and system metrics", func() {
			So(func() {
				RecordErrorByComponent("store", "timeout")
				RecordErrorByType("timeout", "error")
				RecordErrorByEndpoint("/api/track", "POST", "validation_error")
				RecordErrorLatency("store", "timeout", 100)
				UpdateSystemMemoryUsage(1 << 20)
				UpdateSystemGoroutineCount(12)
				RecordSystemGCPauseTime(0.3)
			}, ShouldNotPanic)
		})

		Convey("When gathering the registry", func() {
			RecordIngested(1)
			families, err := GetRegistry().Gather()
			So(err, ShouldBeNil)

			var names []string
			for _, mf := range families {
				names = append(names, mf.GetName())
			}

			Convey("Then stresstrack metrics are exported", func() {
				So(strings.Join(names, ","), ShouldContainSubstring, "stresstrack_records_ingested_total")
			})
		})
	})
}

func TestMetricsConcurrency(t *testing.T) {
	Convey("Given metrics concurrency", t, func() {
		Convey("When recording metrics concurrently", func() {
			before := testutil.ToFloat64(globalManager.recordsDuplicate)

			var wg sync.WaitGroup
			for i := 0; i < 10; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for j := 0; j < 100; j++ {
						RecordDuplicate()
						UpdateQueueSize(j)
						RecordHTTPRequest("/test", "GET", "200")
					}
				}()
			}
			wg.Wait()

			Convey("Then no increment is lost", func() {
				So(testutil.ToFloat64(globalManager.recordsDuplicate)-before, ShouldEqual, 1000)
			})
		})
	})
}
