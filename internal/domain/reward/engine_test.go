package reward_test

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/okian/pulse/internal/domain/reward"
	"github.com/okian/pulse/internal/domain/zone"
	. "github.com/smartystreets/goconvey/convey"
)

var t0 = time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)

type fakeActivity map[string]bool

func (f fakeActivity) IsActive(id string) bool { return f[id] }

func zones() *zone.Table {
	t, err := zone.NewTable([]zone.Zone{
		{ID: "fire", Min: 160, Color: "red", Coins: 3},
		{ID: "cool", Min: 60, Color: "blue", Coins: 1},
		{ID: "warm", Min: 120, Color: "yellow", Coins: 2},
	})
	if err != nil {
		panic(err)
	}
	return t
}

func at(ms int) time.Time { return t0.Add(time.Duration(ms) * time.Millisecond) }

func TestAwardAfterInterval(t *testing.T) {
	Convey("Given an engine with a 1s interval", t, func() {
		e, err := reward.New(zones(), t0, reward.WithInterval(time.Second), reward.WithBucketWidth(time.Second))
		So(err, ShouldBeNil)

		Convey("When a participant stays at HR 170 through the interval", func() {
			e.RecordSample("kckern", 170, at(0))
			e.RecordSample("kckern", 170, at(500))
			awards := e.ProcessTick([]string{"kckern"}, at(1000))

			Convey("Then exactly 3 coins are awarded once and the interval resets", func() {
				So(len(awards), ShouldEqual, 1)
				So(awards[0].Coins, ShouldEqual, 3)
				acc, _ := e.Accumulator("kckern")
				So(acc.TotalCoins, ShouldEqual, 3)
				So(acc.HighestZone, ShouldBeNil)
				So(e.Total(), ShouldEqual, 3)
				So(e.Summary().Buckets["red"], ShouldEqual, 3)
			})

			Convey("Then a second tick in the same interval awards nothing", func() {
				So(e.ProcessTick([]string{"kckern"}, at(1200)), ShouldBeEmpty)
				So(e.Total(), ShouldEqual, 3)
			})
		})

		Convey("When the participant leaves the active set at the tick boundary", func() {
			e.RecordSample("kckern", 170, at(0))
			e.RecordSample("kckern", 170, at(900))
			awards := e.ProcessTick(nil, at(1000))

			Convey("Then no coins are earned for that interval", func() {
				So(awards, ShouldBeEmpty)
				acc, _ := e.Accumulator("kckern")
				So(acc.TotalCoins, ShouldEqual, 0)
				So(acc.HighestZone, ShouldBeNil)
				So(e.ProcessTick([]string{"kckern"}, at(1100)), ShouldBeEmpty)
			})
		})

		Convey("When the highest zone is promoted but never demoted", func() {
			e.RecordSample("kckern", 130, at(0))
			e.RecordSample("kckern", 170, at(200))
			e.RecordSample("kckern", 90, at(400))
			acc, _ := e.Accumulator("kckern")

			Convey("Then the interval keeps fire and the color follows the latest sample", func() {
				So(acc.HighestZone.ID, ShouldEqual, "fire")
				So(acc.CurrentColor, ShouldEqual, "blue")
				So(acc.LastColor, ShouldEqual, "red")
			})
		})

		Convey("When a dropout sample arrives", func() {
			e.RecordSample("kckern", 170, at(0))
			e.RecordSample("kckern", 0, at(600))
			e.RecordSample("kckern", math.NaN(), at(700))

			Convey("Then the interval restarts from the dropout", func() {
				acc, _ := e.Accumulator("kckern")
				So(acc.HighestZone, ShouldBeNil)
				So(acc.CurrentIntervalStart, ShouldEqual, at(700))
				So(acc.CurrentColor, ShouldEqual, zone.NoZoneColor)
				So(e.ProcessTick([]string{"kckern"}, at(1000)), ShouldBeEmpty)
			})
		})

		Convey("When a sample arrives after the interval elapsed", func() {
			e.RecordSample("kckern", 125, at(0))
			award := e.RecordSample("kckern", 165, at(1300))

			Convey("Then it promotes first and awards immediately", func() {
				So(award, ShouldNotBeNil)
				So(award.ZoneID, ShouldEqual, "fire")
				acc, _ := e.Accumulator("kckern")
				So(acc.CurrentIntervalStart, ShouldEqual, at(1300))
			})
		})

		Convey("When HR is below every zone", func() {
			e.RecordSample("kckern", 40, at(0))
			So(e.ProcessTick([]string{"kckern"}, at(1000)), ShouldBeEmpty)
		})
	})
}

func TestActivityGate(t *testing.T) {
	Convey("Given an engine checking activity by profile", t, func() {
		act := fakeActivity{"kckern": false}
		e, err := reward.New(zones(), t0, reward.WithInterval(time.Second), reward.WithActivity(act))
		So(err, ShouldBeNil)
		e.Register("entity-1", "kckern", at(0))
		e.SetDeviceEntity("101", "entity-1")

		Convey("When the entity is in the tick's active set but the profile is not active", func() {
			e.RecordForDevice("101", 170, "kckern", at(0))
			awards := e.ProcessTick([]string{"entity-1"}, at(1000))

			Convey("Then the award is suppressed", func() {
				So(awards, ShouldBeEmpty)
				So(e.Total(), ShouldEqual, 0)
			})
		})

		Convey("When the profile is active", func() {
			act["kckern"] = true
			e.RecordForDevice("101", 170, "kckern", at(0))
			awards := e.ProcessTick([]string{"entity-1"}, at(1000))

			Convey("Then the entity is credited, not the participant key", func() {
				So(len(awards), ShouldEqual, 1)
				So(awards[0].Key, ShouldEqual, "entity-1")
				_, legacy := e.Accumulator("kckern")
				So(legacy, ShouldBeFalse)
				So(e.ProfileCoins("kckern"), ShouldEqual, 3)
			})
		})

		Convey("When the device has no entity mapping", func() {
			act["kckern"] = true
			e.ClearDeviceEntity("101")
			e.RecordForDevice("101", 170, "kckern", at(0))
			e.ProcessTick([]string{"kckern"}, at(1000))

			Convey("Then it behaves like direct participant keying", func() {
				acc, ok := e.Accumulator("kckern")
				So(ok, ShouldBeTrue)
				So(acc.TotalCoins, ShouldEqual, 3)
			})
		})
	})
}

func TestTransferConservation(t *testing.T) {
	Convey("Given two accumulators with coins", t, func() {
		e, err := reward.New(zones(), t0, reward.WithInterval(time.Second))
		So(err, ShouldBeNil)
		e.Register("a", "guest", at(0))
		e.Register("b", "kckern", at(0))
		e.RecordSample("a", 170, at(0))
		e.ProcessTick([]string{"a", "b"}, at(1000))
		e.RecordSample("b", 130, at(1000))
		e.ProcessTick([]string{"a", "b"}, at(2000))
		e.RecordSample("a", 170, at(2100))

		beforeA, _ := e.Accumulator("a")
		beforeB, _ := e.Accumulator("b")
		grand := e.Total()

		Convey("When a is transferred into b", func() {
			So(e.Transfer("a", "b"), ShouldBeNil)
			afterA, _ := e.Accumulator("a")
			afterB, _ := e.Accumulator("b")

			Convey("Then coins move without minting or burning", func() {
				So(afterB.TotalCoins, ShouldEqual, beforeA.TotalCoins+beforeB.TotalCoins)
				So(afterA.TotalCoins, ShouldEqual, 0)
				So(e.Total(), ShouldEqual, grand)
				So(afterA.Transferred, ShouldBeTrue)
				So(afterA.TransferredTo, ShouldEqual, "b")
			})

			Convey("Then the in-flight zone is carried over", func() {
				So(afterB.HighestZone.ID, ShouldEqual, "fire")
			})

			Convey("Then the source ignores further samples and repeat transfers", func() {
				So(e.RecordSample("a", 170, at(5000)), ShouldBeNil)
				So(errors.Is(e.Transfer("a", "b"), reward.ErrAlreadyTransferred), ShouldBeTrue)
			})
		})

		Convey("When transferring to an unknown or identical key", func() {
			So(errors.Is(e.Transfer("a", "zzz"), reward.ErrUnknownKey), ShouldBeTrue)
			So(errors.Is(e.Transfer("a", "a"), reward.ErrSelfTransfer), ShouldBeTrue)
		})
	})
}

func TestColorTimeline(t *testing.T) {
	Convey("Given awards in different buckets", t, func() {
		e, err := reward.New(zones(), t0, reward.WithInterval(time.Second), reward.WithBucketWidth(time.Second))
		So(err, ShouldBeNil)
		e.RecordSample("p", 170, at(0))
		e.ProcessTick([]string{"p"}, at(1000))
		e.RecordSample("p", 130, at(1000))
		e.ProcessTick([]string{"p"}, at(2000))
		e.RecordSample("p", 170, at(2000))
		e.ProcessTick([]string{"p"}, at(4000))

		Convey("Then cumulative values are backfilled without gaps", func() {
			s := e.Summary()
			So(s.ColorTimeline["red"], ShouldResemble, []int{0, 3, 3, 3, 6})
			So(s.ColorTimeline["yellow"], ShouldResemble, []int{0, 0, 2, 2, 2})
			So(s.TotalCoins, ShouldEqual, 8)
		})
	})

	Convey("Given a non-positive interval", t, func() {
		_, err := reward.New(zones(), t0, reward.WithInterval(0))
		So(errors.Is(err, reward.ErrInvalidInterval), ShouldBeTrue)
	})
}
