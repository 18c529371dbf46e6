// Package bus is the in-process trigger bus. Collaborators publish a small
// notification when an event for a lawyer is accepted; the bus turns each
// notification into a scheduler trigger, dropping redeliveries.
package bus

import (
	"context"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/okian/repute/internal/adapters/mq/queue"
	"github.com/okian/repute/internal/domain/dedupe"
	"github.com/okian/repute/internal/domain/model"
	"github.com/okian/repute/pkg/logger"
	"github.com/okian/repute/pkg/metrics"
)

// Topics carried by the bus.
const (
	TopicReviews     = "reviews.accepted"
	TopicOutcomes    = "appointments.resolved"
	TopicCompliance  = "compliance.changed"
	metadataLawyerID = "lawyer_id"
)

var reasons = map[string]queue.Reason{
	TopicReviews:    queue.ReasonReview,
	TopicOutcomes:   queue.ReasonOutcome,
	TopicCompliance: queue.ReasonCompliance,
}

// Notification is the message payload.
type Notification struct {
	MessageID string         `json:"message_id"`
	LawyerID  model.LawyerID `json:"lawyer_id"`
}

// Triggerer receives the triggers the bus produces.
type Triggerer interface {
	Trigger(ctx context.Context, lawyerID model.LawyerID, reason queue.Reason) error
}

// Bus publishes notifications and delivers them to a Triggerer. Serve runs
// the delivery loop and is meant to run under a supervisor.
type Bus struct {
	pubsub     *gochannel.GoChannel
	sched      Triggerer
	seen       dedupe.Seen
	bufferSize int

	subs   map[string]<-chan *message.Message
	cancel context.CancelFunc

	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool

	logger logger.Logger
}

// New creates a bus and subscribes to every topic so that nothing published
// after New returns is lost, even before Serve starts.
func New(sched Triggerer, opts ...Option) (*Bus, error) {
	b := &Bus{
		sched:      sched,
		seen:       dedupe.NewSeen(),
		bufferSize: defaultBufferSize,
		subs:       make(map[string]<-chan *message.Message, len(reasons)),
		logger:     logger.Get().Named("bus"),
	}
	for _, opt := range opts {
		opt(b)
	}

	b.pubsub = gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: int64(b.bufferSize),
	}, watermill.NewSlogLogger(logger.Slog()))

	ctx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	for topic := range reasons {
		ch, err := b.pubsub.Subscribe(ctx, topic)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("subscribe to %s: %w", topic, err)
		}
		b.subs[topic] = ch
	}
	return b, nil
}

// String implements fmt.Stringer for suture logging.
func (b *Bus) String() string { return "trigger-bus" }

// Publish announces a new event of lawyerID on topic.
func (b *Bus) Publish(ctx context.Context, topic string, lawyerID model.LawyerID) error {
	if _, ok := reasons[topic]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTopic, topic)
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}

	n := Notification{MessageID: uuid.NewString(), LawyerID: lawyerID}
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	msg := message.NewMessage(n.MessageID, payload)
	msg.Metadata.Set(metadataLawyerID, lawyerID)
	msg.SetContext(ctx)

	if err := b.pubsub.Publish(topic, msg); err != nil {
		metrics.RecordBusMessage(topic, "publish_failed")
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	metrics.RecordBusMessage(topic, "published")
	return nil
}

// Serve delivers messages until ctx is done or the bus is closed.
func (b *Bus) Serve(ctx context.Context) error {
	reviews := b.subs[TopicReviews]
	outcomes := b.subs[TopicOutcomes]
	compliance := b.subs[TopicCompliance]

	for {
		var (
			msg   *message.Message
			ok    bool
			topic string
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok = <-reviews:
			topic = TopicReviews
		case msg, ok = <-outcomes:
			topic = TopicOutcomes
		case msg, ok = <-compliance:
			topic = TopicCompliance
		}
		if !ok {
			return ErrClosed
		}
		b.deliver(ctx, topic, msg)
	}
}

// deliver always acks: a trigger that could not be scheduled leaves the
// lawyer failed in the scheduler, and the sweep retries it.
func (b *Bus) deliver(ctx context.Context, topic string, msg *message.Message) {
	defer msg.Ack()

	var n Notification
	if err := json.Unmarshal(msg.Payload, &n); err != nil || n.LawyerID == "" {
		metrics.RecordBusMessage(topic, "malformed")
		b.logger.Warn(ctx, "dropping malformed notification",
			logger.String("topic", topic),
			logger.String("message_uuid", msg.UUID),
			logger.Any("decode_error", err),
		)
		return
	}
	if n.MessageID == "" {
		n.MessageID = msg.UUID
	}

	if b.seen.SeenAndRecord(ctx, n.MessageID) {
		metrics.RecordBusMessage(topic, "duplicate")
		return
	}

	// The message is acked even when the trigger fails: the scheduler has
	// marked the lawyer failed and the next sweep retries it.
	if err := b.sched.Trigger(ctx, n.LawyerID, reasons[topic]); err != nil {
		metrics.RecordBusMessage(topic, "trigger_failed")
		b.logger.Warn(ctx, "trigger from notification failed",
			logger.String("topic", topic),
			logger.String("lawyer_id", n.LawyerID),
			logger.Error(err),
		)
		return
	}
	metrics.RecordBusMessage(topic, "delivered")
}

// Close stops the subscriptions and the underlying pub/sub.
func (b *Bus) Close() error {
	var err error
	b.closeOnce.Do(func() {
		b.mu.Lock()
		b.closed = true
		b.mu.Unlock()
		b.cancel()
		err = b.pubsub.Close()
	})
	return err
}
