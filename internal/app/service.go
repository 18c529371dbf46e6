// Package app wires the reputation engine together and implements the
// dependencies required by the HTTP API.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/okian/repute/internal/adapters/http/api"
	"github.com/okian/repute/internal/adapters/http/swagger"
	"github.com/okian/repute/internal/adapters/mq/bus"
	"github.com/okian/repute/internal/adapters/mq/queue"
	"github.com/okian/repute/internal/adapters/mq/worker"
	"github.com/okian/repute/internal/adapters/repository"
	"github.com/okian/repute/internal/config"
	"github.com/okian/repute/internal/domain/dedupe"
	"github.com/okian/repute/internal/domain/model"
	"github.com/okian/repute/internal/domain/recompute"
	"github.com/okian/repute/internal/domain/scoring"
	"github.com/okian/repute/internal/supervisor"
	"github.com/okian/repute/pkg/logger"
	"github.com/okian/repute/pkg/metrics"
)

// MemoryDSN selects the in-process store.
const MemoryDSN = "memory"

// Lifecycle errors.
var (
	ErrNotStarted = errors.New("service not started")
	ErrStopped    = errors.New("service stopped")
)

// Service owns every component of the engine and their lifecycle.
type Service struct {
	mu sync.Mutex

	cfg *config.Config

	// Core components
	store      *repository.GuardedStore
	queue      *queue.InMemoryQueue
	recomputer *recompute.Recomputer
	scheduler  *recompute.Scheduler
	pool       *worker.Pool
	bus        *bus.Bus
	sweeper    *recompute.Sweeper
	tree       *supervisor.Tree

	inner repository.Store
	clock func() time.Time

	// State
	started bool
	stopped bool
	cancel  context.CancelFunc
	done    <-chan error

	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithStore replaces the store selected by db_dsn. The service closes it on Stop.
func WithStore(store repository.Store) Option {
	return func(s *Service) {
		if store != nil {
			s.inner = store
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock sets the time source of the sweeper watermark.
func WithClock(clock func() time.Time) Option {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// New builds every component from cfg. Nothing runs until Start.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Service, error) {
	if cfg == nil {
		cfg = config.New()
	}
	s := &Service{cfg: cfg, clock: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}

	inner := s.inner
	if inner == nil {
		var err error
		if inner, err = openStore(ctx, cfg, s.clock); err != nil {
			return nil, err
		}
	}
	guarded := repository.NewGuardedStore(inner, repository.BreakerConfig{
		FailureThreshold: uint32(cfg.BreakerFailureThreshold),
		OpenTimeout:      cfg.BreakerOpenTimeout(),
	})
	s.store = guarded

	engine, err := scoring.NewEngine(
		scoring.WithPriorMean(cfg.PriorMean),
		scoring.WithConfidenceK(cfg.ConfidenceK),
		scoring.WithSpecializationK(cfg.SpecializationK),
		scoring.WithWeights(cfg.QualityWeight, cfg.ReliabilityWeight),
		scoring.WithMinReviewThreshold(cfg.MinReviewThreshold),
		scoring.WithDedupeWindow(cfg.DedupeWindow()),
	)
	if err != nil {
		_ = s.store.Close()
		return nil, fmt.Errorf("create scoring engine: %w", err)
	}

	s.queue = queue.NewInMemoryQueue(
		queue.WithCapacity(cfg.QueueSize),
		queue.WithBufferSize(cfg.QueueSize),
	)
	s.recomputer = recompute.NewRecomputer(guarded, engine,
		recompute.WithTimeout(cfg.RecomputeTimeout()),
		recompute.WithMaxAttempts(cfg.RetryMaxAttempts),
		recompute.WithInitialInterval(cfg.RetryInitialInterval()),
	)
	s.scheduler = recompute.NewScheduler(s.queue, s.recomputer)
	s.pool = worker.NewPool(cfg.WorkerCount, s.queue, s.scheduler, worker.WithPoolName("recompute-pool"))

	s.bus, err = bus.New(s.scheduler,
		bus.WithBufferSize(cfg.BusBufferSize),
		bus.WithSeen(dedupe.NewSeen(dedupe.WithMaxSize(cfg.SeenCacheSize))),
	)
	if err != nil {
		_ = s.store.Close()
		return nil, fmt.Errorf("create trigger bus: %w", err)
	}

	s.sweeper = recompute.NewSweeper(guarded, s.scheduler,
		recompute.WithInterval(cfg.SweepInterval()),
		recompute.WithRate(cfg.SweepRatePerSecond),
		recompute.WithClock(s.clock),
	)

	return s, nil
}

func openStore(ctx context.Context, cfg *config.Config, clock func() time.Time) (repository.Store, error) {
	if cfg.DBDSN == MemoryDSN {
		return repository.NewMemoryStore(repository.WithClock(clock)), nil
	}
	store, err := repository.OpenSQLite(ctx, cfg.DBDSN, repository.WithClock(clock))
	if err != nil {
		return nil, fmt.Errorf("open event store: %w", err)
	}
	return store, nil
}

// Handler returns the HTTP routes of the service.
func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	swagger.Register(context.Background(), mux)
	api.NewServer(s).Register(mux)
	return mux
}

// Start runs the worker pool, the sweeper, the trigger bus and, when srv is
// not nil, the HTTP server under the supervision tree.
func (s *Service) Start(ctx context.Context, srv supervisor.HTTPServer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrStopped
	}
	if s.started {
		return nil
	}

	s.logger.Info(ctx, "starting reputation service...")

	s.tree = supervisor.NewTree(logger.Slog(), supervisor.TreeConfig{
		ShutdownTimeout: s.cfg.ShutdownTimeout(),
	})
	s.tree.AddRecomputeService(s.pool)
	s.tree.AddRecomputeService(s.sweeper)
	s.tree.AddMessagingService(s.bus)
	if srv != nil {
		s.tree.AddAPIService(supervisor.NewHTTPService(srv, s.cfg.ShutdownTimeout()))
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.done = s.tree.ServeBackground(runCtx)

	metrics.UpdateQueueCapacity(s.queue.Capacity())
	metrics.UpdateWorkerCount(s.pool.Size())

	s.started = true
	s.logger.Info(ctx, "reputation service started",
		logger.Int("workers", s.pool.Size()),
		logger.Int("queue_size", s.queue.Capacity()),
		logger.String("db_dsn", s.cfg.DBDSN),
	)
	return nil
}

// Stop cancels the supervision tree, waits for it within the shutdown
// timeout and releases the bus, the queue and the store.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return ErrNotStarted
	}

	s.logger.Info(ctx, "stopping reputation service...")
	s.cancel()

	var errs []error
	select {
	case <-s.done:
	case <-time.After(s.cfg.ShutdownTimeout()):
		report, _ := s.tree.UnstoppedServiceReport()
		s.logger.Warn(ctx, "supervision tree did not stop in time", logger.Any("unstopped", report))
		errs = append(errs, context.DeadlineExceeded)
	}

	if err := s.bus.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close bus: %w", err))
	}
	if err := s.queue.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close queue: %w", err))
	}
	if err := s.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}

	s.started = false
	s.stopped = true
	s.logger.Info(ctx, "reputation service stopped")
	return errors.Join(errs...)
}

// Recompute schedules a recompute of lawyerID and returns without waiting.
func (s *Service) Recompute(ctx context.Context, lawyerID model.LawyerID) error {
	return s.scheduler.Trigger(ctx, lawyerID, queue.ReasonManual)
}

// RecomputeAll sweeps every lawyer with events since the last sweep and
// every lawyer whose last recompute failed.
func (s *Service) RecomputeAll(ctx context.Context) (int, error) {
	return s.sweeper.Sweep(ctx)
}

// Snapshot returns the last good snapshot of lawyerID.
func (s *Service) Snapshot(ctx context.Context, lawyerID model.LawyerID) (model.Snapshot, error) {
	return s.store.Snapshot(ctx, lawyerID)
}

// Specializations returns the specialization scores of lawyerID.
func (s *Service) Specializations(ctx context.Context, lawyerID model.LawyerID) ([]model.SpecializationScore, error) {
	return s.store.Specializations(ctx, lawyerID)
}

// State reports where lawyerID sits in the recompute lifecycle.
func (s *Service) State(lawyerID model.LawyerID) recompute.State {
	return s.scheduler.State(lawyerID)
}

// AppendReview stores a review and announces it on the bus.
func (s *Service) AppendReview(ctx context.Context, r model.Review) error {
	if err := s.store.AppendReview(ctx, r); err != nil {
		return err
	}
	s.announce(ctx, bus.TopicReviews, r.LawyerID)
	return nil
}

// AppendOutcome stores a resolved appointment and announces it on the bus.
func (s *Service) AppendOutcome(ctx context.Context, o model.AppointmentOutcome) error {
	if err := s.store.AppendOutcome(ctx, o); err != nil {
		return err
	}
	s.announce(ctx, bus.TopicOutcomes, o.LawyerID)
	return nil
}

// AppendCompliance stores a compliance event and announces it on the bus.
func (s *Service) AppendCompliance(ctx context.Context, c model.ComplianceEvent) error {
	if err := s.store.AppendCompliance(ctx, c); err != nil {
		return err
	}
	s.announce(ctx, bus.TopicCompliance, c.LawyerID)
	return nil
}

// ResolveCompliance resolves an open compliance event and announces the change.
func (s *Service) ResolveCompliance(ctx context.Context, eventID string, at time.Time) (model.LawyerID, error) {
	id, err := s.store.ResolveCompliance(ctx, eventID, at)
	if err != nil {
		return "", err
	}
	s.announce(ctx, bus.TopicCompliance, id)
	return id, nil
}

// announce publishes a trigger. A lost notification only delays the
// recompute until the next sweep, so it never fails the append.
func (s *Service) announce(ctx context.Context, topic string, lawyerID model.LawyerID) {
	if err := s.bus.Publish(ctx, topic, lawyerID); err != nil {
		s.logger.Warn(ctx, "trigger notification not published",
			logger.String("topic", topic),
			logger.String("lawyer_id", lawyerID),
			logger.Error(err),
		)
	}
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats(ctx context.Context) (map[string]any, error) {
	st, err := s.store.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("store stats: %w", err)
	}

	tiers := make(map[string]int, len(model.Tiers))
	for _, t := range model.Tiers {
		tiers[string(t)] = st.Tiers[t]
	}
	queueLen := s.queue.Len(ctx)

	metrics.UpdateLawyersTotal(st.Lawyers)
	metrics.UpdateTierDistribution(tiers)
	metrics.UpdateQueueSize(queueLen)

	s.mu.Lock()
	started := s.started
	s.mu.Unlock()

	return map[string]any{
		"started":         started,
		"lawyers":         st.Lawyers,
		"tiers":           tiers,
		"queue_length":    queueLen,
		"queue_capacity":  s.queue.Capacity(),
		"worker_count":    s.pool.Size(),
		"workers_active":  s.pool.Active(),
		"pending":         s.scheduler.Pending(),
		"failed":          len(s.scheduler.Failed()),
		"sweep_watermark": s.sweeper.Watermark(),
		"breaker_state":   s.store.State(),
	}, nil
}
