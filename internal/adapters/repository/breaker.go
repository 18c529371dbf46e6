package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/okian/repute/internal/domain/model"
	"github.com/okian/repute/pkg/logger"
	"github.com/okian/repute/pkg/metrics"
)

// Breaker defaults.
const (
	DefaultBreakerName             = "event-store"
	DefaultBreakerFailureThreshold = 5
	DefaultBreakerOpenTimeout      = 30 * time.Second
	defaultBreakerHalfOpenRequests = 1
)

// BreakerConfig tunes the circuit breaker in front of event reads.
type BreakerConfig struct {
	Name             string
	FailureThreshold uint32        // consecutive failures that open the circuit
	OpenTimeout      time.Duration // time in open state before probing again
}

// GuardedStore is a Store whose event reads pass through a circuit breaker.
// While the circuit is open, Load fails fast with ErrEventStoreUnavailable
// and the store is not touched.
type GuardedStore struct {
	Store
	cb   *gobreaker.CircuitBreaker[*model.EventSet]
	name string
}

// NewGuardedStore wraps inner with a circuit breaker on Load.
func NewGuardedStore(inner Store, cfg BreakerConfig) *GuardedStore {
	if cfg.Name == "" {
		cfg.Name = DefaultBreakerName
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = DefaultBreakerFailureThreshold
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = DefaultBreakerOpenTimeout
	}

	log := logger.Get().Named("breaker")
	metrics.UpdateBreakerState(cfg.Name, stateValue(gobreaker.StateClosed))

	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: defaultBreakerHalfOpenRequests,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !(errors.Is(err, ErrEventStoreUnavailable) || errors.Is(err, context.DeadlineExceeded))
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn(context.Background(), "circuit breaker state change",
				logger.String("breaker", name),
				logger.String("from", from.String()),
				logger.String("to", to.String()),
			)
			metrics.UpdateBreakerState(name, stateValue(to))
		},
	}

	return &GuardedStore{
		Store: inner,
		cb:    gobreaker.NewCircuitBreaker[*model.EventSet](settings),
		name:  cfg.Name,
	}
}

// Load implements EventReader through the breaker.
func (g *GuardedStore) Load(ctx context.Context, lawyerID model.LawyerID) (*model.EventSet, error) {
	set, err := g.cb.Execute(func() (*model.EventSet, error) {
		return g.Store.Load(ctx, lawyerID)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %s: %w", ErrEventStoreUnavailable, g.name, err)
	}
	return set, err
}

// State reports the breaker state as closed, half-open or open.
func (g *GuardedStore) State() string {
	return g.cb.State().String()
}

func stateValue(s gobreaker.State) int {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
