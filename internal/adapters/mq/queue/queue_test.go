package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func TestInMemoryQueue(t *testing.T) {
	Convey("Given a queue with capacity 2", t, func() {
		q := NewInMemoryQueue[string](WithCapacity(2), WithName("test"))
		ctx := context.Background()

		Convey("When it is filled", func() {
			So(q.Enqueue(ctx, "a"), ShouldBeNil)
			So(q.Enqueue(ctx, "b"), ShouldBeNil)
			err := q.Enqueue(ctx, "c")

			Convey("Then further enqueues fail fast with ErrFull", func() {
				So(errors.Is(err, ErrFull), ShouldBeTrue)
				So(q.Len(), ShouldEqual, 2)
			})

			Convey("Then items come out in order", func() {
				out := q.Dequeue(ctx)
				So(<-out, ShouldEqual, "a")
				So(<-out, ShouldEqual, "b")
			})
		})

		Convey("When closed with items pending", func() {
			So(q.Enqueue(ctx, "a"), ShouldBeNil)
			So(q.Close(), ShouldBeNil)
			So(q.Close(), ShouldBeNil)

			Convey("Then new items are rejected but pending ones drain", func() {
				So(errors.Is(q.Enqueue(ctx, "b"), ErrClosed), ShouldBeTrue)
				So(q.IsClosed(), ShouldBeTrue)
				var got []string
				for v := range q.Dequeue(ctx) {
					got = append(got, v)
				}
				So(got, ShouldResemble, []string{"a"})
			})
		})

		Convey("When the dequeue context is cancelled", func() {
			cctx, cancel := context.WithCancel(ctx)
			out := q.Dequeue(cctx)
			cancel()

			Convey("Then the output channel closes", func() {
				select {
				case _, ok := <-out:
					So(ok, ShouldBeFalse)
				case <-time.After(time.Second):
					So("timeout", ShouldBeEmpty)
				}
			})
		})
	})
}
