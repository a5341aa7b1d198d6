package device_test

import (
	"testing"
	"time"

	"github.com/okian/pulse/internal/domain/device"
	"github.com/okian/pulse/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

func TestRegistry(t *testing.T) {
	Convey("Given a device registry", t, func() {
		r := device.NewRegistry()
		now := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)

		Convey("When a bike reports rpm and power in separate packets", func() {
			r.Ingest(model.DeviceSample{DeviceID: "bike1", Type: model.DeviceBike, Timestamp: now, RPM: model.Float(80)})
			r.Ingest(model.DeviceSample{DeviceID: "bike1", Timestamp: now.Add(time.Second), Power: model.Float(200)})

			Convey("Then both fields are retained", func() {
				d, ok := r.Get("bike1")
				So(ok, ShouldBeTrue)
				So(d.Type, ShouldEqual, model.DeviceBike)
				So(*d.Metrics.RPM, ShouldEqual, 80)
				So(*d.Metrics.Power, ShouldEqual, 200)
				So(d.LastSeen, ShouldEqual, now.Add(time.Second))
			})
		})

		Convey("When a device goes quiet", func() {
			r.Ingest(model.DeviceSample{DeviceID: "hr1", Timestamp: now, HeartRate: model.Float(90)})
			r.Ingest(model.DeviceSample{DeviceID: "hr2", Timestamp: now.Add(20 * time.Second), HeartRate: model.Float(95)})

			Convey("Then it falls out of the active window but stays known", func() {
				active := r.Active(now.Add(20*time.Second), 10*time.Second)
				So(len(active), ShouldEqual, 1)
				So(active[0].ID, ShouldEqual, "hr2")
				So(len(r.Known()), ShouldEqual, 2)
				So(r.LastActivity(), ShouldEqual, now.Add(20*time.Second))
			})
		})

		Convey("When a sample has no device id", func() {
			r.Ingest(model.DeviceSample{Timestamp: now})
			So(r.Known(), ShouldBeEmpty)
		})

		Convey("When reset", func() {
			r.Ingest(model.DeviceSample{DeviceID: "hr1", Timestamp: now})
			r.Reset()
			So(r.Known(), ShouldBeEmpty)
		})
	})
}
