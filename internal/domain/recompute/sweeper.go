package recompute

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/okian/repute/internal/adapters/mq/queue"
	"github.com/okian/repute/internal/domain/model"
	"github.com/okian/repute/pkg/logger"
	"github.com/okian/repute/pkg/metrics"
)

// Lister finds lawyers with events recorded at or after a point in time.
type Lister interface {
	LawyersWithEventsSince(ctx context.Context, since time.Time) ([]model.LawyerID, error)
}

// Triggerer is the part of Scheduler a sweep drives.
type Triggerer interface {
	Trigger(ctx context.Context, lawyerID model.LawyerID, reason queue.Reason) error
	Failed() []model.LawyerID
}

// Sweeper periodically triggers every lawyer with events recorded since
// the previous sweep, plus every lawyer whose last recompute failed. The
// first sweep starts from the zero time and so rebuilds all snapshots.
type Sweeper struct {
	lister   Lister
	sched    Triggerer
	limiter  *rate.Limiter
	interval time.Duration
	clock    func() time.Time

	mu        sync.Mutex // serializes sweeps
	watermark time.Time

	logger logger.Logger
}

// NewSweeper creates a sweeper with configuration options.
func NewSweeper(lister Lister, sched Triggerer, opts ...SweeperOption) *Sweeper {
	s := &Sweeper{
		lister:   lister,
		sched:    sched,
		limiter:  newLimiter(DefaultSweepRate),
		interval: DefaultSweepInterval,
		clock:    time.Now,
		logger:   logger.Get().Named("sweeper"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// String implements fmt.Stringer for suture logging.
func (s *Sweeper) String() string { return "sweeper" }

// Watermark returns the start of the window the next sweep covers.
func (s *Sweeper) Watermark() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.watermark
}

// Sweep triggers a recompute for every lawyer that needs one and returns
// how many triggers were accepted. The watermark only advances when the
// sweep runs to completion; lawyers whose trigger failed are picked up by
// the next sweep through the scheduler's failed set.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	now := s.clock()

	changed, err := s.lister.LawyersWithEventsSince(ctx, s.watermark)
	if err != nil {
		return 0, fmt.Errorf("sweep: %w", err)
	}

	reasons := make(map[model.LawyerID]queue.Reason, len(changed))
	for _, id := range s.sched.Failed() {
		reasons[id] = queue.ReasonRetry
	}
	for _, id := range changed {
		reasons[id] = queue.ReasonSweep
	}
	ids := make([]model.LawyerID, 0, len(reasons))
	for id := range reasons {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var (
		triggered int
		errs      []error
	)
	for _, id := range ids {
		if err := s.limiter.Wait(ctx); err != nil {
			return triggered, fmt.Errorf("sweep: %w", err)
		}
		if err := s.sched.Trigger(ctx, id, reasons[id]); err != nil {
			errs = append(errs, err)
			continue
		}
		triggered++
	}

	s.watermark = now
	metrics.RecordSweep(triggered, float64(time.Since(start).Microseconds())/1000)
	s.logger.Debug(ctx, "sweep finished",
		logger.Int("candidates", len(ids)),
		logger.Int("triggered", triggered),
		logger.Duration("took", time.Since(start)),
	)
	return triggered, errors.Join(errs...)
}

// Serve sweeps once at start and then every interval until ctx is done.
func (s *Sweeper) Serve(ctx context.Context) error {
	s.run(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.run(ctx)
		}
	}
}

func (s *Sweeper) run(ctx context.Context) {
	if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
		s.logger.Warn(ctx, "sweep incomplete", logger.Error(err))
	}
}
