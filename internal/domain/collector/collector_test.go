package collector_test

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/okian/pulse/internal/domain/collector"
	"github.com/okian/pulse/internal/domain/device"
	"github.com/okian/pulse/internal/domain/identity"
	"github.com/okian/pulse/internal/domain/model"
	"github.com/okian/pulse/internal/domain/zone"
	. "github.com/smartystreets/goconvey/convey"
)

func testZones() *zone.Table {
	t, err := zone.NewTable([]zone.Zone{
		{ID: "cool", Min: 60, Color: "blue", Coins: 1},
		{ID: "warm", Min: 120, Color: "yellow", Coins: 2},
		{ID: "fire", Min: 160, Color: "red", Coins: 3},
	})
	if err != nil {
		panic(err)
	}
	return t
}

func dev(id string, hr, rpm, power *float64) device.Device {
	return device.Device{ID: id, Metrics: model.RawMetrics{HeartRate: hr, RPM: rpm, Power: power}}
}

func TestSanitizeRules(t *testing.T) {
	Convey("Given the named sanitation rules", t, func() {
		So(collector.HeartRate(model.Float(29)), ShouldBeNil)
		So(collector.HeartRate(model.Float(251)), ShouldBeNil)
		So(*collector.HeartRate(model.Float(142.6)), ShouldEqual, 143)
		So(collector.HeartRate(model.Float(math.NaN())), ShouldBeNil)
		So(collector.HeartRate(nil), ShouldBeNil)
		So(collector.RPM(model.Float(-1)), ShouldBeNil)
		So(*collector.Power(model.Float(0)), ShouldEqual, 0)
		So(collector.Distance(model.Float(math.Inf(1))), ShouldBeNil)
	})
}

func TestCollect(t *testing.T) {
	Convey("Given a collector with two registered riders", t, func() {
		dir, err := identity.NewDirectory([]identity.User{
			{ID: "kckern", Devices: []string{"101", "201"}},
			{ID: "ana", Devices: []string{"102"}},
		})
		So(err, ShouldBeNil)
		c := collector.New(identity.NewResolver(identity.NewLedger(), dir), testZones())
		ctx := context.Background()

		Convey("When one rider reports HR and cadence from two devices", func() {
			res := c.Collect(ctx, []device.Device{
				dev("101", model.Float(170), nil, nil),
				dev("201", model.Float(90), model.Float(60), model.Float(200)),
				dev("102", nil, nil, nil),
			}, 5*time.Second)

			Convey("Then the first device wins each field", func() {
				So(*res.Values["user:kckern:heart_rate"], ShouldEqual, 170)
				So(*res.Values["user:kckern:rpm"], ShouldEqual, 60)
				So(*res.Values["user:kckern:zone_id"], ShouldEqual, 2)
				So(res.Participants["kckern"].ZoneID, ShouldEqual, "fire")
			})

			Convey("Then device keys and rotations are emitted", func() {
				So(*res.Values["device:201:rotations"], ShouldEqual, 5)
				So(*res.Values["device:101:heart_rate"], ShouldEqual, 170)
				_, hasEmpty := res.Values["device:102:heart_rate"]
				So(hasEmpty, ShouldBeFalse)
			})

			Convey("Then only the broadcasting rider is active but both accumulate beats", func() {
				So(res.Active, ShouldResemble, []string{"kckern"})
				So(*res.Values["user:kckern:heart_beats"], ShouldAlmostEqual, 170.0/60*5, 1e-9)
				So(*res.Values["user:ana:heart_beats"], ShouldEqual, 0)
				_, anaHR := res.Values["user:ana:heart_rate"]
				So(anaHR, ShouldBeFalse)
			})

			Convey("And another tick follows", func() {
				res := c.Collect(ctx, []device.Device{
					dev("201", nil, model.Float(120), nil),
				}, 5*time.Second)

				Convey("Then the integrals keep growing", func() {
					So(*res.Values["device:201:rotations"], ShouldEqual, 15)
					So(c.HeartBeats("kckern"), ShouldAlmostEqual, 170.0/60*5, 1e-9)
				})
			})
		})

		Convey("When a device id would form a malformed key", func() {
			res := c.Collect(ctx, []device.Device{
				dev("bogus!id", model.Float(100), nil, nil),
				dev("101", model.Float(100), nil, nil),
			}, time.Second)

			Convey("Then the bad keys are reported and the rest survive", func() {
				So(res.Dropped, ShouldContain, "device:bogus!id:heart_rate")
				So(*res.Values["user:kckern:heart_rate"], ShouldEqual, 100)
			})
		})

		Convey("When an unknown device reports", func() {
			res := c.Collect(ctx, []device.Device{dev("999", model.Float(100), nil, nil)}, time.Second)

			Convey("Then no participant series use the fallback id", func() {
				_, ok := res.Values["user:999:heart_rate"]
				So(ok, ShouldBeFalse)
				So(res.Active, ShouldBeEmpty)
				So(*res.Values["device:999:heart_rate"], ShouldEqual, 100)
			})
		})
	})
}
