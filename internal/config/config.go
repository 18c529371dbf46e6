// Package config defines service configuration and its loading.
package config

import (
	"runtime"
	"time"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level" validate:"oneof=debug info warn warning error"`

	// LogFormat selects the log handler: text or json.
	LogFormat string `koanf:"log_format" validate:"oneof=text json"`

	// Addr configures the HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr" validate:"required"`

	// DBDSN is a SQLite DSN, or "memory" for the in-process store.
	DBDSN string `koanf:"db_dsn" validate:"required"`

	// QueueSize bounds the recompute request queue.
	QueueSize int `koanf:"queue_size" validate:"gt=0"`

	// WorkerCount sets the number of recompute workers.
	WorkerCount int `koanf:"worker_count" validate:"gt=0"`

	RecomputeTimeoutMS     int `koanf:"recompute_timeout_ms" validate:"gt=0"`
	RetryMaxAttempts       int `koanf:"retry_max_attempts" validate:"gt=0"`
	RetryInitialIntervalMS int `koanf:"retry_initial_interval_ms" validate:"gt=0"`

	BreakerFailureThreshold int `koanf:"breaker_failure_threshold" validate:"gt=0"`
	BreakerOpenTimeoutMS    int `koanf:"breaker_open_timeout_ms" validate:"gt=0"`

	SweepIntervalS     int     `koanf:"sweep_interval_s" validate:"gt=0"`
	SweepRatePerSecond float64 `koanf:"sweep_rate_per_second" validate:"gte=0"`

	BusBufferSize int `koanf:"bus_buffer_size" validate:"gt=0"`

	// SeenCacheSize bounds the bus message id cache; 0 means unbounded.
	SeenCacheSize int `koanf:"seen_cache_size" validate:"gte=0"`

	ShutdownTimeoutS int `koanf:"shutdown_timeout_s" validate:"gt=0"`

	// Scoring parameters.
	PriorMean          float64 `koanf:"prior_mean" validate:"gte=0,lte=100"`
	ConfidenceK        float64 `koanf:"confidence_k" validate:"gt=0"`
	SpecializationK    float64 `koanf:"specialization_k" validate:"gt=0"`
	QualityWeight      float64 `koanf:"quality_weight" validate:"gte=0,lte=1"`
	ReliabilityWeight  float64 `koanf:"reliability_weight" validate:"gte=0,lte=1"`
	MinReviewThreshold int     `koanf:"min_review_threshold" validate:"gte=0"`
	DedupeWindowH      float64 `koanf:"dedupe_window_h" validate:"gt=0"`
}

// New creates a Config with defaults.
func New() *Config {
	return &Config{
		LogLevel:                "info",
		LogFormat:               "text",
		Addr:                    ":9080",
		DBDSN:                   "memory",
		QueueSize:               10_000,
		WorkerCount:             runtime.NumCPU() * 2,
		RecomputeTimeoutMS:      5_000,
		RetryMaxAttempts:        3,
		RetryInitialIntervalMS:  100,
		BreakerFailureThreshold: 5,
		BreakerOpenTimeoutMS:    30_000,
		SweepIntervalS:          60,
		SweepRatePerSecond:      50,
		BusBufferSize:           1024,
		SeenCacheSize:           50_000,
		ShutdownTimeoutS:        10,
		PriorMean:               60,
		ConfidenceK:             10,
		SpecializationK:         5,
		QualityWeight:           0.6,
		ReliabilityWeight:       0.4,
		MinReviewThreshold:      5,
		DedupeWindowH:           24,
	}
}

// RecomputeTimeout is the deadline of one recompute attempt.
func (c *Config) RecomputeTimeout() time.Duration { return ms(c.RecomputeTimeoutMS) }

// RetryInitialInterval is the first backoff delay.
func (c *Config) RetryInitialInterval() time.Duration { return ms(c.RetryInitialIntervalMS) }

// BreakerOpenTimeout is how long the circuit stays open.
func (c *Config) BreakerOpenTimeout() time.Duration { return ms(c.BreakerOpenTimeoutMS) }

// SweepInterval is the time between periodic sweeps.
func (c *Config) SweepInterval() time.Duration { return time.Duration(c.SweepIntervalS) * time.Second }

// ShutdownTimeout bounds graceful shutdown of each service.
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutS) * time.Second
}

// DedupeWindow is the anti-gaming window.
func (c *Config) DedupeWindow() time.Duration {
	return time.Duration(c.DedupeWindowH * float64(time.Hour))
}

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }
