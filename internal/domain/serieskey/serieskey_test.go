package serieskey_test

import (
	"errors"
	"testing"

	"github.com/okian/pulse/internal/domain/serieskey"
	. "github.com/smartystreets/goconvey/convey"
)

func f(v float64) *float64 { return &v }

func TestParse(t *testing.T) {
	Convey("Given raw series keys", t, func() {
		Convey("When the key is a valid user key", func() {
			k, err := serieskey.Parse("user:kckern:heart_rate")

			Convey("Then it should parse into its segments", func() {
				So(err, ShouldBeNil)
				So(k.Scope, ShouldEqual, serieskey.ScopeUser)
				So(k.Subject, ShouldEqual, "kckern")
				So(k.Metric, ShouldEqual, "heart_rate")
				So(k.String(), ShouldEqual, "user:kckern:heart_rate")
			})
		})

		Convey("When the key is a global key", func() {
			k, err := serieskey.Parse("global:coins_total")

			So(err, ShouldBeNil)
			So(k.Scope, ShouldEqual, serieskey.ScopeGlobal)
			So(k.String(), ShouldEqual, "global:coins_total")
		})

		Convey("When segments use upper case", func() {
			So(serieskey.Valid("DEVICE:Ant-12345:RPM"), ShouldBeTrue)
		})

		Convey("When the key is malformed", func() {
			for _, raw := range []string{"bogus!key", "user::heart_rate", "user:a:b:c", "global", "team:x:rpm", "global:", "device:12 34:rpm"} {
				So(serieskey.Valid(raw), ShouldBeFalse)
			}
		})

		Convey("When the scope is unknown", func() {
			_, err := serieskey.Parse("team:x:rpm")
			So(errors.Is(err, serieskey.ErrUnknownScope), ShouldBeTrue)
		})
	})
}

func TestConstructors(t *testing.T) {
	Convey("Given the typed constructors", t, func() {
		Convey("When the subject is valid", func() {
			k, err := serieskey.Device("12345", "rotations")
			So(err, ShouldBeNil)
			So(k.String(), ShouldEqual, "device:12345:rotations")
		})

		Convey("When the subject is a display name with spaces", func() {
			_, err := serieskey.User("Kevin K", "heart_rate")
			So(errors.Is(err, serieskey.ErrMalformedKey), ShouldBeTrue)
		})
	})
}

func TestFilter(t *testing.T) {
	Convey("Given a tick payload with a malformed key", t, func() {
		payload := map[string]*float64{
			"bogus!key":             f(1),
			"user:kckern:heart_rate": f(142),
			"global:active_count":    nil,
		}

		clean, dropped := serieskey.Filter(payload)

		Convey("Then the bogus key is stripped and reported", func() {
			So(dropped, ShouldResemble, []string{"bogus!key"})
			So(clean, ShouldNotContainKey, "bogus!key")
		})

		Convey("And valid keys are retained including explicit nulls", func() {
			So(*clean["user:kckern:heart_rate"], ShouldEqual, 142)
			So(clean, ShouldContainKey, "global:active_count")
			So(clean["global:active_count"], ShouldBeNil)
		})
	})
}
