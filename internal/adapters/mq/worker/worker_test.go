package worker_test

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/repute/internal/adapters/mq/queue"
	"github.com/okian/repute/internal/adapters/mq/worker"
	"github.com/okian/repute/pkg/logger"
)

type recorder struct {
	mu      sync.Mutex
	seen    []string
	fail    map[string]error
	block   chan struct{}
	handled chan string
}

func newRecorder() *recorder {
	return &recorder{fail: make(map[string]error), handled: make(chan string, 100)}
}

func (r *recorder) Handle(ctx context.Context, req queue.Request) error {
	if r.block != nil {
		select {
		case <-r.block:
		case <-ctx.Done():
		}
	}
	r.mu.Lock()
	r.seen = append(r.seen, req.LawyerID)
	err := r.fail[req.LawyerID]
	r.mu.Unlock()
	r.handled <- req.LawyerID
	return err
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.seen)
}

func waitHandled(t *testing.T, r *recorder, n int) []string {
	t.Helper()
	var got []string
	deadline := time.After(2 * time.Second)
	for len(got) < n {
		select {
		case id := <-r.handled:
			got = append(got, id)
		case <-deadline:
			t.Fatalf("handled %d of %d requests", len(got), n)
		}
	}
	return got
}

func TestMain(m *testing.M) {
	if err := logger.Init(logger.WithOutput(io.Discard)); err != nil {
		panic(err)
	}
	m.Run()
}

func TestWorker(t *testing.T) {
	Convey("Given a worker reading from a queue", t, func() {
		q := queue.NewInMemoryQueue(queue.WithCapacity(10))
		rec := newRecorder()
		w := worker.NewInMemoryWorker(q, rec, worker.WithName("w-test"))
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go w.Run(ctx)

		Convey("When requests are enqueued", func() {
			So(q.Enqueue(ctx, queue.NewRequest("l-1", queue.ReasonReview)), ShouldBeNil)
			So(q.Enqueue(ctx, queue.NewRequest("l-2", queue.ReasonOutcome)), ShouldBeNil)
			got := waitHandled(t, rec, 2)

			Convey("Then each is handed to the handler in order", func() {
				So(got, ShouldResemble, []string{"l-1", "l-2"})
			})
		})

		Convey("When the handler fails", func() {
			rec.fail["l-bad"] = errors.New("boom")
			So(q.Enqueue(ctx, queue.NewRequest("l-bad", queue.ReasonManual)), ShouldBeNil)
			So(q.Enqueue(ctx, queue.NewRequest("l-ok", queue.ReasonManual)), ShouldBeNil)
			got := waitHandled(t, rec, 2)

			Convey("Then the worker keeps going", func() {
				So(got, ShouldResemble, []string{"l-bad", "l-ok"})
			})
		})

		Convey("When it is shut down", func() {
			sctx, scancel := context.WithTimeout(context.Background(), time.Second)
			defer scancel()

			Convey("Then Shutdown returns and is safe to repeat", func() {
				So(w.Shutdown(sctx), ShouldBeNil)
				So(w.Shutdown(sctx), ShouldBeNil)
			})
		})
	})
}

func TestWorkerShutdownTimeout(t *testing.T) {
	q := queue.NewInMemoryQueue(queue.WithCapacity(10))
	rec := newRecorder()
	rec.block = make(chan struct{})
	defer close(rec.block)

	w := worker.NewInMemoryWorker(q, rec)
	go w.Run(context.Background())

	if err := q.Enqueue(context.Background(), queue.NewRequest("l-1", queue.ReasonManual)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	// let the worker pick the request up and block in the handler
	deadline := time.Now().Add(time.Second)
	for q.Len(context.Background()) > 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if err := w.Shutdown(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestPool(t *testing.T) {
	Convey("Given a pool serving a queue", t, func() {
		q := queue.NewInMemoryQueue(queue.WithCapacity(100))
		rec := newRecorder()
		pool := worker.NewPool(4, q, rec, worker.WithPoolName("test-pool"), worker.WithMetricsInterval(10*time.Millisecond))

		ctx, cancel := context.WithCancel(context.Background())
		served := make(chan error, 1)
		go func() { served <- pool.Serve(ctx) }()

		Convey("Then it reports its name and size", func() {
			So(pool.String(), ShouldEqual, "test-pool")
			So(pool.Size(), ShouldEqual, 4)
			cancel()
			<-served
		})

		Convey("When many requests arrive", func() {
			for i := 0; i < 50; i++ {
				So(q.Enqueue(ctx, queue.NewRequest("l-x", queue.ReasonSweep)), ShouldBeNil)
			}
			waitHandled(t, rec, 50)

			Convey("Then all are handled and Serve returns on cancel", func() {
				So(rec.count(), ShouldEqual, 50)
				So(pool.Active(), ShouldEqual, 0)
				cancel()
				So(errors.Is(<-served, context.Canceled), ShouldBeTrue)
			})
		})

		Convey("When Serve restarts after cancellation", func() {
			cancel()
			<-served
			So(q.Enqueue(context.Background(), queue.NewRequest("l-late", queue.ReasonRetry)), ShouldBeNil)

			ctx2, cancel2 := context.WithCancel(context.Background())
			defer cancel2()
			go func() { _ = pool.Serve(ctx2) }()

			Convey("Then pending requests are still delivered", func() {
				So(waitHandled(t, rec, 1), ShouldResemble, []string{"l-late"})
			})
		})
	})
}

func TestNewPoolDefaultsSize(t *testing.T) {
	pool := worker.NewPool(0, queue.NewInMemoryQueue(), worker.HandlerFunc(func(context.Context, queue.Request) error { return nil }))
	if pool.Size() < 1 {
		t.Fatalf("expected a positive default size, got %d", pool.Size())
	}
}
