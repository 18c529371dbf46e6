package recompute

import (
	"time"

	"golang.org/x/time/rate"
)

// Default recompute configuration constants.
const (
	DefaultTimeout         = 5 * time.Second
	DefaultMaxAttempts     = 3
	DefaultInitialInterval = 100 * time.Millisecond
	DefaultSweepInterval   = time.Minute
	DefaultSweepRate       = 50.0 // triggers per second

	maxConflictRetries = 1
)

// Option configures a Recomputer.
type Option func(*Recomputer)

// WithTimeout sets the deadline of a single attempt.
func WithTimeout(d time.Duration) Option {
	return func(r *Recomputer) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithMaxAttempts sets how many times a transient failure is attempted in
// total before giving up.
func WithMaxAttempts(n int) Option {
	return func(r *Recomputer) {
		if n > 0 {
			r.maxAttempts = n
		}
	}
}

// WithInitialInterval sets the first backoff delay between attempts.
func WithInitialInterval(d time.Duration) Option {
	return func(r *Recomputer) {
		if d > 0 {
			r.initialInterval = d
		}
	}
}

// SweeperOption configures a Sweeper.
type SweeperOption func(*Sweeper)

// WithInterval sets the time between periodic sweeps.
func WithInterval(d time.Duration) SweeperOption {
	return func(s *Sweeper) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithRate limits how many triggers per second a sweep issues. A
// non-positive rate disables the limit.
func WithRate(perSecond float64) SweeperOption {
	return func(s *Sweeper) {
		s.limiter = newLimiter(perSecond)
	}
}

// WithClock sets the clock used for sweep watermarks. It must agree with
// the clock the store stamps events with.
func WithClock(clock func() time.Time) SweeperOption {
	return func(s *Sweeper) {
		if clock != nil {
			s.clock = clock
		}
	}
}

func newLimiter(perSecond float64) *rate.Limiter {
	if perSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	burst := int(perSecond)
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(perSecond), burst)
}
