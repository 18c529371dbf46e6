package recompute

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/okian/repute/internal/adapters/mq/queue"
	"github.com/okian/repute/internal/domain/model"
	"github.com/okian/repute/pkg/logger"
	"github.com/okian/repute/pkg/metrics"
)

// State is where a lawyer sits in the recompute lifecycle.
type State string

// Lawyer states. A lawyer with no entry is Idle.
const (
	StateIdle      State = "idle"
	StateQueued    State = "queued"
	StateComputing State = "computing"
	StateFailed    State = "failed"
)

type entry struct {
	state   State
	dirty   bool // triggered again while computing
	lastErr error
}

// Scheduler coalesces triggers per lawyer and hands at most one request per
// lawyer to the queue at a time. A trigger that arrives while a lawyer is
// queued is absorbed; one that arrives while it is computing schedules
// exactly one follow-up run. Different lawyers proceed in parallel.
type Scheduler struct {
	mu      sync.Mutex
	entries map[model.LawyerID]*entry

	queue  queue.Queue
	runner Runner
	logger logger.Logger
}

// NewScheduler creates a scheduler that feeds q and runs requests through runner.
func NewScheduler(q queue.Queue, runner Runner) *Scheduler {
	return &Scheduler{
		entries: make(map[model.LawyerID]*entry),
		queue:   q,
		runner:  runner,
		logger:  logger.Get().Named("scheduler"),
	}
}

// Trigger asks for a recompute of lawyerID. It never blocks on the
// recompute itself and is idempotent while a run is pending.
func (s *Scheduler) Trigger(ctx context.Context, lawyerID model.LawyerID, reason queue.Reason) error {
	if lawyerID == "" {
		return fmt.Errorf("%w: empty lawyer id", ErrInvalidTrigger)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[lawyerID]
	if !ok {
		e = &entry{state: StateIdle}
		s.entries[lawyerID] = e
	}

	switch e.state {
	case StateQueued:
		metrics.RecordCoalescedTrigger()
		return nil
	case StateComputing:
		e.dirty = true
		metrics.RecordCoalescedTrigger()
		return nil
	default:
		return s.enqueueLocked(ctx, lawyerID, e, reason)
	}
}

func (s *Scheduler) enqueueLocked(ctx context.Context, lawyerID model.LawyerID, e *entry, reason queue.Reason) error {
	if err := s.queue.Enqueue(ctx, queue.NewRequest(lawyerID, reason)); err != nil {
		e.state = StateFailed
		e.lastErr = err
		metrics.RecordSchedulingFailure()
		return fmt.Errorf("%w: enqueue %s: %w", ErrSchedulingFailure, lawyerID, err)
	}
	e.state = StateQueued
	return nil
}

// Handle runs one dequeued request. It is the worker pool's handler.
func (s *Scheduler) Handle(ctx context.Context, r queue.Request) error {
	id := r.LawyerID

	s.mu.Lock()
	e, ok := s.entries[id]
	if !ok {
		e = &entry{}
		s.entries[id] = e
	}
	if e.state == StateComputing {
		e.dirty = true
		s.mu.Unlock()
		return nil
	}
	e.state = StateComputing
	e.dirty = false
	s.mu.Unlock()

	start := time.Now()
	_, err := s.runner.Recompute(ctx, id)
	latency := float64(time.Since(start).Microseconds()) / 1000

	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case err == nil:
		metrics.RecordRecompute("success", latency)
		e.state = StateIdle
		e.lastErr = nil
	case errors.Is(err, context.Canceled):
		metrics.RecordRecompute("cancelled", latency)
		e.state = StateFailed
		e.lastErr = err
	default:
		metrics.RecordRecompute("failure", latency)
		if errors.Is(err, ErrSchedulingFailure) {
			metrics.RecordSchedulingFailure()
		}
		e.state = StateFailed
		e.lastErr = err
	}

	if e.dirty && ctx.Err() == nil {
		e.dirty = false
		if qerr := s.enqueueLocked(ctx, id, e, queue.ReasonFollowUp); qerr != nil {
			s.logger.Warn(ctx, "follow-up recompute not scheduled", logger.String("lawyer_id", id), logger.Error(qerr))
		}
	} else if e.state == StateIdle {
		delete(s.entries, id)
	}
	return err
}

// State reports the lifecycle state of lawyerID.
func (s *Scheduler) State(lawyerID model.LawyerID) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[lawyerID]; ok {
		return e.state
	}
	return StateIdle
}

// LastError returns the error of the last failed recompute of lawyerID, if
// it is still failed.
func (s *Scheduler) LastError(lawyerID model.LawyerID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[lawyerID]; ok && e.state == StateFailed {
		return e.lastErr
	}
	return nil
}

// Failed lists lawyers whose last recompute failed, sorted.
func (s *Scheduler) Failed() []model.LawyerID {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.LawyerID
	for id, e := range s.entries {
		if e.state == StateFailed {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// Pending counts lawyers queued or computing.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, e := range s.entries {
		if e.state == StateQueued || e.state == StateComputing {
			n++
		}
	}
	return n
}
