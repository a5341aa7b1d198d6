package identity_test

import (
	"errors"
	"testing"
	"time"

	"github.com/okian/pulse/internal/domain/identity"
	. "github.com/smartystreets/goconvey/convey"
)

func TestNormalizeID(t *testing.T) {
	Convey("Given free-form participant labels", t, func() {
		So(identity.NormalizeID("KC Kern"), ShouldEqual, "kc_kern")
		So(identity.NormalizeID("  guest-1 "), ShouldEqual, "guest-1")
		So(identity.NormalizeID("Ana!!"), ShouldEqual, "ana")
		So(identity.NormalizeID("!!!"), ShouldEqual, "")
	})
}

func TestResolverPriority(t *testing.T) {
	Convey("Given a directory owning device 101 and an empty ledger", t, func() {
		dir, err := identity.NewDirectory([]identity.User{
			{ID: "kckern", Name: "KC", Devices: []string{"101"}},
		})
		So(err, ShouldBeNil)
		ledger := identity.NewLedger()
		r := identity.NewResolver(ledger, dir)

		Convey("When resolving the registered device", func() {
			res := r.Resolve("101")

			Convey("Then the directory owner is returned", func() {
				So(res.ParticipantID, ShouldEqual, "kckern")
				So(res.Source, ShouldEqual, identity.SourceDirectory)
				So(res.Fallback(), ShouldBeFalse)
			})
		})

		Convey("When a guest is assigned to the device", func() {
			So(ledger.Assign(identity.Assignment{DeviceID: "101", ParticipantID: "Guest Ana", Guest: true, AssignedAt: time.Now()}), ShouldBeNil)
			res := r.Resolve("101")

			Convey("Then the ledger wins and the mismatch is reported", func() {
				So(res.ParticipantID, ShouldEqual, "guest_ana")
				So(res.Source, ShouldEqual, identity.SourceLedger)
				So(res.Guest, ShouldBeTrue)

				mm := r.Reconcile()
				So(len(mm), ShouldEqual, 1)
				So(mm[0].DirectoryID, ShouldEqual, "kckern")
				So(mm[0].LedgerIsGuest, ShouldBeTrue)
			})

			Convey("And then unassigned", func() {
				_, err := ledger.Unassign("101")
				So(err, ShouldBeNil)
				So(r.Resolve("101").Source, ShouldEqual, identity.SourceDirectory)
				So(r.Reconcile(), ShouldBeEmpty)
			})
		})

		Convey("When resolving an unknown device", func() {
			res := r.Resolve("999")

			Convey("Then the raw device id is returned as a flagged fallback", func() {
				So(res.ParticipantID, ShouldEqual, "999")
				So(res.Fallback(), ShouldBeTrue)
			})
		})

		Convey("When unassigning a device with no entry", func() {
			_, err := ledger.Unassign("555")
			So(errors.Is(err, identity.ErrUnknownDevice), ShouldBeTrue)
		})
	})
}

func TestDirectoryValidation(t *testing.T) {
	Convey("Given two users claiming the same device", t, func() {
		_, err := identity.NewDirectory([]identity.User{
			{ID: "a", Devices: []string{"1"}},
			{ID: "b", Devices: []string{"1"}},
		})
		So(errors.Is(err, identity.ErrDuplicateOwner), ShouldBeTrue)
	})

	Convey("Given a user with an unusable id", t, func() {
		_, err := identity.NewDirectory([]identity.User{{ID: "***"}})
		So(errors.Is(err, identity.ErrInvalidID), ShouldBeTrue)
	})
}
