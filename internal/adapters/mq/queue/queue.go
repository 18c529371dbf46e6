// Package queue carries recompute requests from the scheduler to the
// worker pool.
package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/okian/repute/internal/domain/model"
	"github.com/okian/repute/pkg/metrics"
)

// Default queue configuration constants.
const (
	defaultQueueCapacity = 10000
	defaultBufferSize    = 10000
)

// Reason names what caused a recompute.
type Reason string

// Recompute reasons.
const (
	ReasonReview     Reason = "review"
	ReasonOutcome    Reason = "outcome"
	ReasonCompliance Reason = "compliance"
	ReasonSweep      Reason = "sweep"
	ReasonManual     Reason = "manual"
	ReasonFollowUp   Reason = "follow_up" // coalesced trigger replayed after a run
	ReasonRetry      Reason = "retry"     // lawyer whose previous recompute failed
)

// Request asks for one full recompute of a lawyer.
type Request struct {
	ID         uuid.UUID
	LawyerID   model.LawyerID
	Reason     Reason
	EnqueuedAt time.Time
}

// NewRequest stamps a request with a fresh id.
func NewRequest(lawyerID model.LawyerID, reason Reason) Request {
	return Request{ID: uuid.New(), LawyerID: lawyerID, Reason: reason, EnqueuedAt: time.Now()}
}

// Queue provides non-blocking enqueue and channel-based dequeue semantics.
type Queue interface {
	// Enqueue adds a request. It fails with ErrFull or ErrClosed instead of blocking.
	Enqueue(ctx context.Context, r Request) error

	// Dequeue returns a channel that receives requests as they become
	// available. The channel is closed when the queue is closed and drained
	// or ctx is done.
	Dequeue(ctx context.Context) <-chan Request

	// putBack returns a request taken off the buffer whose consumer went away,
// so a restarted consumer still sees it.
func (q *InMemoryQueue) putBack(r Request) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return
	}
	select {
	case q.requests <- r:
	default:
		metrics.RecordErrorByComponent("queue", "request_dropped")
	}
}

// Len returns the current number of queued requests.
	Len(ctx context.Context) int

	// Close stops accepting requests. Pending requests can still be dequeued.
	Close() error

	IsClosed() bool
}

// InMemoryQueue implements Queue using a buffered channel.
type InMemoryQueue struct {
	requests   chan Request
	capacity   int
	bufferSize int
	mu         sync.RWMutex
	closed     bool
}

// NewInMemoryQueue creates a new in-memory queue with configuration options.
func NewInMemoryQueue(opts ...Option) *InMemoryQueue {
	q := &InMemoryQueue{
		capacity:   defaultQueueCapacity,
		bufferSize: defaultBufferSize,
	}
	for _, opt := range opts {
		opt(q)
	}
	if q.bufferSize < q.capacity {
		q.bufferSize = q.capacity
	}
	q.requests = make(chan Request, q.bufferSize)

	metrics.UpdateQueueCapacity(q.capacity)
	metrics.UpdateQueueSize(0)
	metrics.UpdateQueueUtilization(0.0)

	return q
}

// Capacity returns the maximum number of pending requests.
func (q *InMemoryQueue) Capacity() int { return q.capacity }

// Enqueue adds a request to the queue.
func (q *InMemoryQueue) Enqueue(ctx context.Context, r Request) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		metrics.RecordQueueEnqueueError()
		metrics.RecordErrorByComponent("queue", "closed")
		return ErrClosed
	}
	if len(q.requests) >= q.capacity {
		metrics.RecordQueueEnqueueError()
		metrics.RecordErrorByComponent("queue", "capacity_exceeded")
		return fmt.Errorf("%w: %d pending", ErrFull, len(q.requests))
	}
	if r.EnqueuedAt.IsZero() {
		r.EnqueuedAt = time.Now()
	}

	select {
	case q.requests <- r:
		metrics.RecordQueueEnqueue()
		q.observe()
		return nil
	case <-ctx.Done():
		metrics.RecordQueueEnqueueError()
		metrics.RecordErrorByComponent("queue", "context_cancelled")
		return ctx.Err()
	default:
		metrics.RecordQueueEnqueueError()
		metrics.RecordErrorByComponent("queue", "queue_full")
		return ErrFull
	}
}

// Dequeue returns a channel that will receive requests as they become available.
func (q *InMemoryQueue) Dequeue(ctx context.Context) <-chan Request {
	out := make(chan Request)
	go func() {
		defer close(out)
		for {
			select {
			case r, ok := <-q.requests:
				if !ok {
					return
				}
				select {
				case out <- r:
					metrics.RecordQueueDequeue()
					metrics.RecordQueueProcessingLatency(float64(time.Since(r.EnqueuedAt).Microseconds()) / 1000)
					q.observe()
				case <-ctx.Done():
					q.putBack(r)
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// putBack returns a request taken off the buffer whose consumer went away,
// so a restarted consumer still sees it.
func (q *InMemoryQueue) putBack(r Request) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return
	}
	select {
	case q.requests <- r:
	default:
		metrics.RecordErrorByComponent("queue", "request_dropped")
	}
}

// Len returns the current number of queued requests.
func (q *InMemoryQueue) Len(_ context.Context) int {
	return q.observe()
}

func (q *InMemoryQueue) observe() int {
	size := len(q.requests)
	metrics.UpdateQueueSize(size)
	metrics.UpdateQueueUtilization(float64(size) / float64(q.capacity))
	return size
}

// Close gracefully shuts down the queue.
func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	close(q.requests)
	q.closed = true
	return nil
}

// IsClosed returns true if the queue has been closed.
func (q *InMemoryQueue) IsClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}
