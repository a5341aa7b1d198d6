package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMetricsManagerCreation(t *testing.T) {
	Convey("Given metrics manager creation", t, func() {
		Convey("When creating with default options on a private registry", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(WithRegistry(registry))

			Convey("Then it should use the service namespace and millisecond buckets", func() {
				So(manager, ShouldNotBeNil)
				So(manager.namespace, ShouldEqual, "pulse")
				So(manager.latencyBuckets[len(manager.latencyBuckets)-1], ShouldEqual, 1000)
				So(manager.tickBuckets[0], ShouldBeLessThan, manager.latencyBuckets[0])
			})

			Convey("Then collectors are grouped by subsystem", func() {
				manager.sessionsStarted.Inc()
				manager.httpRequests.WithLabelValues("samples", "POST", "2xx").Inc()
				n, err := testutil.GatherAndCount(registry, "pulse_session_started_total", "pulse_http_requests_total")
				So(err, ShouldBeNil)
				So(n, ShouldEqual, 2)
			})
		})

		Convey("When creating with custom options", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(
				WithRegistry(registry),
				WithNamespace("test"),
				WithLatencyBuckets([]float64{1, 2, 3}),
				WithTickBuckets([]float64{0.1}),
			)

			Convey("Then the options should be applied", func() {
				So(manager.namespace, ShouldEqual, "test")
				So(manager.latencyBuckets, ShouldResemble, []float64{1, 2, 3})
				So(manager.tickBuckets, ShouldResemble, []float64{0.1})
			})
		})

		Convey("When passing empty values", func() {
			registry := prometheus.NewRegistry()
			defaults := NewManager(WithRegistry(prometheus.NewRegistry()))
			manager := NewManager(WithRegistry(registry), WithNamespace(""), WithLatencyBuckets(nil), WithTickBuckets(nil))

			Convey("Then defaults should be kept", func() {
				So(manager.namespace, ShouldEqual, "pulse")
				So(manager.latencyBuckets, ShouldResemble, defaults.latencyBuckets)
				So(manager.tickBuckets, ShouldResemble, defaults.tickBuckets)
			})
		})
	})
}

func TestStatusClass(t *testing.T) {
	Convey("Given HTTP status codes", t, func() {
		So(StatusClass(200), ShouldEqual, "2xx")
		So(StatusClass(202), ShouldEqual, "2xx")
		So(StatusClass(429), ShouldEqual, "4xx")
		So(StatusClass(503), ShouldEqual, "5xx")
		So(StatusClass(0), ShouldEqual, "other")
		So(StatusClass(700), ShouldEqual, "other")
	})
}

func TestMetricsRecording(t *testing.T) {
	Convey("Given the global metrics manager", t, func() {
		Convey("When recording coin awards", func() {
			before := testutil.ToFloat64(globalManager.coinsAwarded.WithLabelValues("red"))
			RecordCoinsAwarded("red", 3)
			after := testutil.ToFloat64(globalManager.coinsAwarded.WithLabelValues("red"))

			Convey("Then the color counter should grow by the coin value", func() {
				So(after-before, ShouldEqual, 3)
			})
		})

		Convey("When updating the session state", func() {
			UpdateSessionState("active", []string{"idle", "buffering", "active"})

			Convey("Then only the current state should be set", func() {
				So(testutil.ToFloat64(globalManager.sessionState.WithLabelValues("active")), ShouldEqual, 1)
				So(testutil.ToFloat64(globalManager.sessionState.WithLabelValues("idle")), ShouldEqual, 0)
			})
		})

		Convey("When recording a failed persist", func() {
			before := testutil.ToFloat64(globalManager.persistErrors)
			RecordPersist(12, errors.New("disk full"))
			RecordPersist(4, nil)

			Convey("Then only the failure should be counted as an error", func() {
				So(testutil.ToFloat64(globalManager.persistErrors)-before, ShouldEqual, 1)
			})
		})

		Convey("When recording the remaining helpers", func() {
			So(func() {
				RecordSampleIngested("heart_rate")
				RecordSampleRejected("duplicate")
				RecordTick(1.5)
				RecordCatchUpTick()
				RecordDroppedKeys(2)
				UpdateSeriesCount(10)
				UpdateActiveParticipants(3)
				RecordSessionStarted()
				RecordSessionEnded("explicit")
				RecordIdentityMismatch()
				RecordAwardSuppressed()
				RecordTransfer()
				RecordSaveAccepted()
				RecordSaveRejected("insufficient-ticks")
				UpdateQueueSize("session", 4)
				RecordQueueEnqueueError("session", "full")
				RecordQueueWait(0.2)
				RecordHTTPRequest("samples", "POST", 202, 1)
				UpdateLiveClients(1)
				RecordLiveFrameDropped()
			}, ShouldNotPanic)
		})
	})
}

func TestMetricsConcurrency(t *testing.T) {
	Convey("Given metrics concurrency", t, func() {
		Convey("When recording metrics concurrently", func() {
			done := make(chan bool, 10)

			for i := 0; i < 10; i++ {
				go func() {
					for j := 0; j < 100; j++ {
						RecordSampleIngested("power")
						UpdateQueueSize("session", j)
						RecordTick(float64(j))
						RecordHTTPRequest("session", "GET", 200, float64(j))
					}
					done <- true
				}()
			}

			for i := 0; i < 10; i++ {
				<-done
			}

			Convey("Then it should handle concurrent access without panics", func() {
				So(GetRegistry(), ShouldNotBeNil)
			})
		})
	})
}
