// Package worker runs recompute requests off the queue on a fixed pool of
// goroutines.
package worker

import (
	"context"
	"fmt"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/repute/internal/adapters/mq/queue"
	"github.com/okian/repute/pkg/logger"
	"github.com/okian/repute/pkg/metrics"
)

// Default worker configuration constants.
const (
	defaultWorkerMultiplier = 2 // multiplier for runtime.NumCPU()
	poolShutdownTimeout     = 30 * time.Second
)

// Handler processes one dequeued request.
type Handler interface {
	Handle(ctx context.Context, r queue.Request) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, r queue.Request) error

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, r queue.Request) error { return f(ctx, r) }

// Source defines how workers receive requests.
type Source interface {
	Dequeue(ctx context.Context) <-chan queue.Request
}

// Worker processes requests until stopped.
type Worker interface {
	// Run starts the worker loop until ctx is canceled.
	Run(ctx context.Context)

	// Shutdown stops the worker after the request in hand, if any.
	Shutdown(ctx context.Context) error
}

// InMemoryWorker implements Worker on top of a Source.
type InMemoryWorker struct {
	source  Source
	handler Handler
	name    string
	busy    *atomic.Int64

	shutdown     chan struct{}
	shutdownOnce sync.Once
	done         chan struct{}

	logger logger.Logger
}

// NewInMemoryWorker creates a new worker with configuration options.
func NewInMemoryWorker(source Source, handler Handler, opts ...Option) *InMemoryWorker {
	w := &InMemoryWorker{
		source:   source,
		handler:  handler,
		name:     "worker",
		busy:     new(atomic.Int64),
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
		logger:   logger.Get().Named("worker"),
	}

	for _, opt := range opts {
		opt(w)
	}

	if w.name != "worker" {
		w.logger = w.logger.Named(w.name)
	}

	return w
}

// Run starts the worker loop.
func (w *InMemoryWorker) Run(ctx context.Context) {
	defer close(w.done)

	requests := w.source.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.shutdown:
			return
		case r, ok := <-requests:
			if !ok {
				return
			}
			if err := w.process(ctx, r); err != nil {
				w.logger.Error(ctx, "error processing request",
					logger.String("lawyer_id", r.LawyerID),
					logger.String("request_id", r.ID.String()),
					logger.Error(err),
				)
			}
		}
	}
}

// Shutdown stops the worker and waits for it to finish.
func (w *InMemoryWorker) Shutdown(ctx context.Context) error {
	w.shutdownOnce.Do(func() { close(w.shutdown) })

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

func (w *InMemoryWorker) process(ctx context.Context, r queue.Request) error {
	w.busy.Add(1)
	start := time.Now()
	defer func() {
		w.busy.Add(-1)
		metrics.RecordWorkerProcessingLatency(float64(time.Since(start).Microseconds()) / 1000)
	}()

	if err := w.handler.Handle(ctx, r); err != nil {
		metrics.RecordWorkerError()
		metrics.RecordErrorByComponent("worker", "handler_error")
		return fmt.Errorf("request %s: %w", r.ID, err)
	}
	return nil
}

// Pool manages multiple workers. It is a suture service: Serve runs the
// workers until ctx is done.
type Pool struct {
	name     string
	size     int
	source   Source
	handler  Handler
	busy     atomic.Int64
	interval time.Duration

	logger logger.Logger
}

// NewPool creates a pool of workerCount workers. A count below one picks a
// size from the number of CPUs.
func NewPool(workerCount int, source Source, handler Handler, opts ...PoolOption) *Pool {
	if workerCount < 1 {
		workerCount = runtime.NumCPU() * defaultWorkerMultiplier
	}

	p := &Pool{
		name:     "worker-pool",
		size:     workerCount,
		source:   source,
		handler:  handler,
		interval: defaultMetricsInterval,
		logger:   logger.Get().Named("worker-pool"),
	}
	for _, opt := range opts {
		opt(p)
	}

	metrics.UpdateWorkerCount(workerCount)
	metrics.UpdateWorkerActiveCount(0)
	metrics.UpdateWorkerIdleCount(workerCount)

	return p
}

// Size returns the number of workers.
func (p *Pool) Size() int { return p.size }

// Active returns the number of workers holding a request.
func (p *Pool) Active() int { return int(p.busy.Load()) }

// String implements fmt.Stringer for suture logging.
func (p *Pool) String() string { return p.name }

// Serve runs the workers until ctx is canceled, then waits for in-flight
// requests to finish.
func (p *Pool) Serve(ctx context.Context) error {
	workers := make([]*InMemoryWorker, p.size)
	for i := range workers {
		w := NewInMemoryWorker(p.source, p.handler, WithName("worker-"+strconv.Itoa(i)))
		w.busy = &p.busy
		workers[i] = w
		go w.Run(ctx)
	}
	p.logger.Info(ctx, "worker pool started", logger.Int("workers", p.size))

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.stop(workers)
			return ctx.Err()
		case <-ticker.C:
			p.updateMetrics()
		}
	}
}

func (p *Pool) updateMetrics() {
	active := p.Active()
	metrics.UpdateWorkerActiveCount(active)
	metrics.UpdateWorkerIdleCount(p.size - active)
}

func (p *Pool) stop(workers []*InMemoryWorker) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), poolShutdownTimeout)
	defer cancel()

	for i, w := range workers {
		if err := w.Shutdown(shutdownCtx); err != nil {
			p.logger.Warn(shutdownCtx, "worker shutdown timed out", logger.Int("worker_id", i))
		}
	}
	metrics.UpdateWorkerActiveCount(0)
	metrics.UpdateWorkerIdleCount(p.size)
	p.logger.Info(shutdownCtx, "worker pool stopped")
}
