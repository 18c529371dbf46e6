package recompute

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/repute/internal/adapters/mq/queue"
	"github.com/okian/repute/internal/adapters/repository"
	"github.com/okian/repute/internal/domain/model"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// recordingTriggerer captures sweep triggers.
type recordingTriggerer struct {
	mu       sync.Mutex
	triggers map[model.LawyerID]queue.Reason
	order    []model.LawyerID
	failed   []model.LawyerID
	reject   map[model.LawyerID]error
	notify   chan struct{}
}

func newRecordingTriggerer() *recordingTriggerer {
	return &recordingTriggerer{
		triggers: make(map[model.LawyerID]queue.Reason),
		reject:   make(map[model.LawyerID]error),
		notify:   make(chan struct{}, 100),
	}
}

func (r *recordingTriggerer) Trigger(_ context.Context, id model.LawyerID, reason queue.Reason) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.reject[id]; err != nil {
		return err
	}
	r.triggers[id] = reason
	r.order = append(r.order, id)
	r.notify <- struct{}{}
	return nil
}

func (r *recordingTriggerer) Failed() []model.LawyerID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.LawyerID(nil), r.failed...)
}

func (r *recordingTriggerer) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.triggers = make(map[model.LawyerID]queue.Reason)
	r.order = nil
}

func (r *recordingTriggerer) snapshot() ([]model.LawyerID, map[model.LawyerID]queue.Reason) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[model.LawyerID]queue.Reason, len(r.triggers))
	for k, v := range r.triggers {
		out[k] = v
	}
	return append([]model.LawyerID(nil), r.order...), out
}

// failingLister always fails.
type failingLister struct{ err error }

func (f failingLister) LawyersWithEventsSince(context.Context, time.Time) ([]model.LawyerID, error) {
	return nil, f.err
}

func TestSweeper(t *testing.T) {
	Convey("Given a store with events for two lawyers", t, func() {
		clock := &testClock{now: t0}
		store := repository.NewMemoryStore(repository.WithClock(clock.Now))
		seedReviews(store, "l-2", 1, 5)
		seedReviews(store, "l-1", 1, 3)

		trig := newRecordingTriggerer()
		sw := NewSweeper(store, trig, WithClock(clock.Now), WithRate(0))
		ctx := context.Background()

		clock.Advance(time.Minute)

		Convey("When the first sweep runs", func() {
			n, err := sw.Sweep(ctx)

			Convey("Then every lawyer with events is triggered in order", func() {
				So(err, ShouldBeNil)
				So(n, ShouldEqual, 2)
				order, reasons := trig.snapshot()
				So(order, ShouldResemble, []model.LawyerID{"l-1", "l-2"})
				So(reasons["l-1"], ShouldEqual, queue.ReasonSweep)
				So(sw.Watermark(), ShouldEqual, t0.Add(time.Minute))
			})

			Convey("Then the next sweep only sees newer events", func() {
				trig.reset()
				clock.Advance(time.Minute)
				So(store.AppendReview(ctx, model.Review{ID: "new", LawyerID: "l-2", Rating: 4, CreatedAt: t0}), ShouldBeNil)

				n, err := sw.Sweep(ctx)
				So(err, ShouldBeNil)
				So(n, ShouldEqual, 1)
				order, _ := trig.snapshot()
				So(order, ShouldResemble, []model.LawyerID{"l-2"})
			})

			Convey("Then failed lawyers are retried even without new events", func() {
				trig.reset()
				trig.failed = []model.LawyerID{"l-9"}
				clock.Advance(time.Minute)

				n, err := sw.Sweep(ctx)
				So(err, ShouldBeNil)
				So(n, ShouldEqual, 1)
				_, reasons := trig.snapshot()
				So(reasons["l-9"], ShouldEqual, queue.ReasonRetry)
			})
		})

		Convey("When a trigger is rejected", func() {
			reject := errors.New("queue full")
			trig.reject["l-1"] = reject
			n, err := sw.Sweep(ctx)

			Convey("Then the others still run and the error is reported", func() {
				So(errors.Is(err, reject), ShouldBeTrue)
				So(n, ShouldEqual, 1)
				So(sw.Watermark(), ShouldEqual, t0.Add(time.Minute))
			})
		})

		Convey("When listing fails", func() {
			lerr := errors.New("db gone")
			sw := NewSweeper(failingLister{err: lerr}, trig, WithClock(clock.Now))
			_, err := sw.Sweep(ctx)

			Convey("Then the watermark stays put", func() {
				So(errors.Is(err, lerr), ShouldBeTrue)
				So(sw.Watermark().IsZero(), ShouldBeTrue)
			})
		})

		Convey("When served", func() {
			sw := NewSweeper(store, trig, WithClock(clock.Now), WithInterval(10*time.Millisecond), WithRate(1000))
			sctx, cancel := context.WithCancel(ctx)
			served := make(chan error, 1)
			go func() { served <- sw.Serve(sctx) }()

			<-trig.notify
			<-trig.notify
			cancel()

			Convey("Then it sweeps at start and stops with the context", func() {
				So(errors.Is(<-served, context.Canceled), ShouldBeTrue)
				So(sw.String(), ShouldEqual, "sweeper")
				order, _ := trig.snapshot()
				So(len(order), ShouldBeGreaterThanOrEqualTo, 2)
			})
		})
	})
}
