package bus

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/repute/internal/adapters/mq/queue"
	"github.com/okian/repute/internal/domain/model"
	"github.com/okian/repute/pkg/logger"
)

type trigger struct {
	lawyerID model.LawyerID
	reason   queue.Reason
}

type fakeScheduler struct {
	mu       sync.Mutex
	failNext map[model.LawyerID]error
	calls    chan trigger
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{failNext: make(map[model.LawyerID]error), calls: make(chan trigger, 100)}
}

func (f *fakeScheduler) Trigger(_ context.Context, id model.LawyerID, reason queue.Reason) error {
	f.calls <- trigger{lawyerID: id, reason: reason}
	f.mu.Lock()
	defer f.mu.Unlock()
	err := f.failNext[id]
	delete(f.failNext, id)
	return err
}

func next(t *testing.T, f *fakeScheduler) trigger {
	t.Helper()
	select {
	case tr := <-f.calls:
		return tr
	case <-time.After(2 * time.Second):
		t.Fatal("no trigger delivered")
		return trigger{}
	}
}

func quiet(f *fakeScheduler) bool {
	select {
	case <-f.calls:
		return false
	case <-time.After(50 * time.Millisecond):
		return true
	}
}

func rawPublish(b *Bus, topic string, uuid string, payload []byte) {
	So(b.pubsub.Publish(topic, message.NewMessage(uuid, payload)), ShouldBeNil)
}

func TestMain(m *testing.M) {
	if err := logger.Init(logger.WithOutput(io.Discard)); err != nil {
		panic(err)
	}
	m.Run()
}

func TestBus(t *testing.T) {
	Convey("Given a running bus", t, func() {
		sched := newFakeScheduler()
		b, err := New(sched, WithBufferSize(16))
		So(err, ShouldBeNil)

		ctx, cancel := context.WithCancel(context.Background())
		served := make(chan error, 1)
		go func() { served <- b.Serve(ctx) }()
		defer func() {
			cancel()
			_ = b.Close()
		}()

		Convey("When notifications are published on each topic", func() {
			So(b.Publish(ctx, TopicReviews, "l-1"), ShouldBeNil)
			r := next(t, sched)
			So(b.Publish(ctx, TopicOutcomes, "l-2"), ShouldBeNil)
			o := next(t, sched)
			So(b.Publish(ctx, TopicCompliance, "l-3"), ShouldBeNil)
			c := next(t, sched)

			Convey("Then each becomes a trigger with the matching reason", func() {
				So(r, ShouldResemble, trigger{"l-1", queue.ReasonReview})
				So(o, ShouldResemble, trigger{"l-2", queue.ReasonOutcome})
				So(c, ShouldResemble, trigger{"l-3", queue.ReasonCompliance})
			})
		})

		Convey("When the topic is unknown", func() {
			err := b.Publish(ctx, "payments.settled", "l-1")

			Convey("Then publishing fails", func() {
				So(errors.Is(err, ErrUnknownTopic), ShouldBeTrue)
			})
		})

		Convey("When the same message is delivered twice", func() {
			payload, err := json.Marshal(Notification{MessageID: "m-1", LawyerID: "l-1"})
			So(err, ShouldBeNil)
			rawPublish(b, TopicReviews, "u-1", payload)
			rawPublish(b, TopicReviews, "u-2", payload)

			Convey("Then only one trigger is produced", func() {
				So(next(t, sched).lawyerID, ShouldEqual, "l-1")
				So(quiet(sched), ShouldBeTrue)
			})
		})

		Convey("When a payload is malformed", func() {
			rawPublish(b, TopicReviews, "u-bad", []byte("{not json"))
			rawPublish(b, TopicReviews, "u-empty", []byte(`{"message_id":"m-2"}`))
			So(b.Publish(ctx, TopicReviews, "l-ok"), ShouldBeNil)

			Convey("Then it is dropped and delivery continues", func() {
				So(next(t, sched).lawyerID, ShouldEqual, "l-ok")
				So(quiet(sched), ShouldBeTrue)
			})
		})

		Convey("When a trigger fails", func() {
			sched.failNext["l-1"] = errors.New("queue full")
			payload, err := json.Marshal(Notification{MessageID: "m-3", LawyerID: "l-1"})
			So(err, ShouldBeNil)
			rawPublish(b, TopicReviews, "u-3", payload)
			next(t, sched)
			rawPublish(b, TopicReviews, "u-4", payload)
			So(b.Publish(ctx, TopicReviews, "l-2"), ShouldBeNil)

			Convey("Then the message is consumed once and delivery continues", func() {
				So(next(t, sched).lawyerID, ShouldEqual, "l-2")
				So(quiet(sched), ShouldBeTrue)
			})
		})

		Convey("When the bus is closed", func() {
			So(b.Close(), ShouldBeNil)

			Convey("Then publishing fails and Serve returns", func() {
				So(errors.Is(b.Publish(ctx, TopicReviews, "l-1"), ErrClosed), ShouldBeTrue)
				So(errors.Is(<-served, ErrClosed), ShouldBeTrue)
				So(b.Close(), ShouldBeNil)
			})
		})
	})
}
