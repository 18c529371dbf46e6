package recompute

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/repute/internal/adapters/mq/queue"
	"github.com/okian/repute/internal/adapters/mq/worker"
	"github.com/okian/repute/internal/adapters/repository"
	"github.com/okian/repute/internal/domain/model"
	"github.com/okian/repute/internal/domain/scoring"
)

// fakeQueue records enqueued requests instead of delivering them.
type fakeQueue struct {
	mu       sync.Mutex
	requests []queue.Request
	err      error
}

func (q *fakeQueue) Enqueue(_ context.Context, r queue.Request) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.requests = append(q.requests, r)
	return nil
}

func (q *fakeQueue) Dequeue(context.Context) <-chan queue.Request { return nil }
func (q *fakeQueue) Len(context.Context) int                     { return len(q.pop(false)) }
func (q *fakeQueue) Close() error                                { return nil }
func (q *fakeQueue) IsClosed() bool                              { return false }

// pop returns the recorded requests, clearing them when take is set.
func (q *fakeQueue) pop(take bool) []queue.Request {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := append([]queue.Request(nil), q.requests...)
	if take {
		q.requests = nil
	}
	return out
}

// gatedRunner blocks each recompute until released.
type gatedRunner struct {
	mu      sync.Mutex
	calls   map[model.LawyerID]int
	errs    map[model.LawyerID]error
	gate    chan struct{}
	started chan model.LawyerID
}

func newGatedRunner() *gatedRunner {
	return &gatedRunner{
		calls:   make(map[model.LawyerID]int),
		errs:    make(map[model.LawyerID]error),
		started: make(chan model.LawyerID, 10),
	}
}

func (g *gatedRunner) Recompute(ctx context.Context, id model.LawyerID) (scoring.Report, error) {
	g.started <- id
	if g.gate != nil {
		select {
		case <-g.gate:
		case <-ctx.Done():
			return scoring.Report{}, ctx.Err()
		}
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls[id]++
	return scoring.Report{}, g.errs[id]
}

func TestScheduler(t *testing.T) {
	Convey("Given a scheduler over a recording queue", t, func() {
		q := &fakeQueue{}
		runner := newGatedRunner()
		s := NewScheduler(q, runner)
		ctx := context.Background()

		Convey("When a lawyer is triggered repeatedly before it runs", func() {
			So(s.Trigger(ctx, "l-1", queue.ReasonReview), ShouldBeNil)
			So(s.Trigger(ctx, "l-1", queue.ReasonOutcome), ShouldBeNil)
			So(s.Trigger(ctx, "l-1", queue.ReasonManual), ShouldBeNil)

			Convey("Then exactly one request is queued", func() {
				reqs := q.pop(false)
				So(reqs, ShouldHaveLength, 1)
				So(reqs[0].LawyerID, ShouldEqual, "l-1")
				So(reqs[0].Reason, ShouldEqual, queue.ReasonReview)
				So(s.State("l-1"), ShouldEqual, StateQueued)
				So(s.Pending(), ShouldEqual, 1)
			})
		})

		Convey("When triggers arrive while the lawyer is computing", func() {
			runner.gate = make(chan struct{})
			So(s.Trigger(ctx, "l-1", queue.ReasonReview), ShouldBeNil)
			req := q.pop(true)[0]

			done := make(chan error, 1)
			go func() { done <- s.Handle(ctx, req) }()
			<-runner.started
			So(s.State("l-1"), ShouldEqual, StateComputing)

			So(s.Trigger(ctx, "l-1", queue.ReasonReview), ShouldBeNil)
			So(s.Trigger(ctx, "l-1", queue.ReasonCompliance), ShouldBeNil)
			So(q.pop(false), ShouldBeEmpty)

			close(runner.gate)
			So(<-done, ShouldBeNil)

			Convey("Then they coalesce into one follow-up", func() {
				reqs := q.pop(true)
				So(reqs, ShouldHaveLength, 1)
				So(reqs[0].Reason, ShouldEqual, queue.ReasonFollowUp)
				So(s.State("l-1"), ShouldEqual, StateQueued)

				So(s.Handle(ctx, reqs[0]), ShouldBeNil)
				<-runner.started
				So(s.State("l-1"), ShouldEqual, StateIdle)
				So(q.pop(false), ShouldBeEmpty)
				So(runner.calls["l-1"], ShouldEqual, 2)
			})
		})

		Convey("When a recompute fails", func() {
			cause := fmt.Errorf("%w: gave up", ErrSchedulingFailure)
			runner.errs["l-2"] = cause
			So(s.Trigger(ctx, "l-2", queue.ReasonReview), ShouldBeNil)
			err := s.Handle(ctx, q.pop(true)[0])
			<-runner.started

			Convey("Then the lawyer is marked failed", func() {
				So(errors.Is(err, ErrSchedulingFailure), ShouldBeTrue)
				So(s.State("l-2"), ShouldEqual, StateFailed)
				So(s.Failed(), ShouldResemble, []model.LawyerID{"l-2"})
				So(s.LastError("l-2"), ShouldEqual, cause)
			})

			Convey("Then a later trigger recovers it", func() {
				delete(runner.errs, "l-2")
				So(s.Trigger(ctx, "l-2", queue.ReasonRetry), ShouldBeNil)
				So(s.Handle(ctx, q.pop(true)[0]), ShouldBeNil)
				<-runner.started
				So(s.State("l-2"), ShouldEqual, StateIdle)
				So(s.Failed(), ShouldBeEmpty)
				So(s.LastError("l-2"), ShouldBeNil)
			})
		})

		Convey("When the queue rejects a request", func() {
			q.err = queue.ErrFull
			err := s.Trigger(ctx, "l-3", queue.ReasonSweep)

			Convey("Then the trigger fails and the lawyer awaits a retry", func() {
				So(errors.Is(err, ErrSchedulingFailure), ShouldBeTrue)
				So(errors.Is(err, queue.ErrFull), ShouldBeTrue)
				So(s.State("l-3"), ShouldEqual, StateFailed)
				So(s.Failed(), ShouldResemble, []model.LawyerID{"l-3"})
			})
		})

		Convey("When the lawyer id is empty", func() {
			err := s.Trigger(ctx, "", queue.ReasonManual)

			Convey("Then the trigger is rejected", func() {
				So(errors.Is(err, ErrInvalidTrigger), ShouldBeTrue)
				So(q.pop(false), ShouldBeEmpty)
			})
		})

		Convey("When the worker is cancelled mid recompute", func() {
			runner.gate = make(chan struct{})
			So(s.Trigger(ctx, "l-4", queue.ReasonReview), ShouldBeNil)
			cctx, cancel := context.WithCancel(ctx)
			done := make(chan error, 1)
			go func() { done <- s.Handle(cctx, q.pop(true)[0]) }()
			<-runner.started
			cancel()

			Convey("Then the lawyer is left for the next sweep", func() {
				So(errors.Is(<-done, context.Canceled), ShouldBeTrue)
				So(s.State("l-4"), ShouldEqual, StateFailed)
			})
		})
	})
}

// serialRunner records the peak number of concurrent runs per lawyer.
type serialRunner struct {
	inner    Runner
	mu       sync.Mutex
	inflight map[model.LawyerID]int
	peak     atomic.Int32
}

func (r *serialRunner) Recompute(ctx context.Context, id model.LawyerID) (scoring.Report, error) {
	r.mu.Lock()
	r.inflight[id]++
	if n := int32(r.inflight[id]); n > r.peak.Load() {
		r.peak.Store(n)
	}
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.inflight[id]--
		r.mu.Unlock()
	}()
	time.Sleep(time.Millisecond)
	return r.inner.Recompute(ctx, id)
}

func TestSchedulerWithPool(t *testing.T) {
	Convey("Given a scheduler feeding a worker pool", t, func() {
		store := repository.NewMemoryStore()
		lawyers := []model.LawyerID{"l-a", "l-b", "l-c", "l-d"}
		for _, id := range lawyers {
			seedReviews(store, id, 3, 4)
		}
		runner := &serialRunner{
			inner:    NewRecomputer(store, mustEngine(), WithInitialInterval(time.Millisecond)),
			inflight: make(map[model.LawyerID]int),
		}
		q := queue.NewInMemoryQueue(queue.WithCapacity(100))
		s := NewScheduler(q, runner)
		pool := worker.NewPool(4, q, s)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() { _ = pool.Serve(ctx) }()

		Convey("When every lawyer is triggered many times concurrently", func() {
			var wg sync.WaitGroup
			for i := 0; i < 25; i++ {
				for _, id := range lawyers {
					wg.Add(1)
					go func(id model.LawyerID) {
						defer wg.Done()
						_ = s.Trigger(ctx, id, queue.ReasonReview)
					}(id)
				}
			}
			wg.Wait()

			deadline := time.Now().Add(3 * time.Second)
			for s.Pending() > 0 && time.Now().Before(deadline) {
				time.Sleep(5 * time.Millisecond)
			}

			Convey("Then each lawyer is computed and never twice at once", func() {
				So(s.Pending(), ShouldEqual, 0)
				So(s.Failed(), ShouldBeEmpty)
				So(runner.peak.Load(), ShouldEqual, 1)
				for _, id := range lawyers {
					snap, err := store.Snapshot(context.Background(), id)
					So(err, ShouldBeNil)
					So(snap.TotalReviews, ShouldEqual, 3)
				}
			})
		})
	})
}
