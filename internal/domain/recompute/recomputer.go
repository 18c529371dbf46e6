// Package recompute turns triggers into full recomputes of a lawyer's
// reputation: per-lawyer scheduling with coalescing, the retrying
// load-score-save pipeline and the periodic sweep.
package recompute

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/okian/repute/internal/adapters/repository"
	"github.com/okian/repute/internal/domain/dedupe"
	"github.com/okian/repute/internal/domain/model"
	"github.com/okian/repute/internal/domain/scoring"
	"github.com/okian/repute/pkg/logger"
	"github.com/okian/repute/pkg/metrics"
)

// Store is what a recompute reads from and writes to.
type Store interface {
	repository.EventReader
	repository.SnapshotWriter
}

// Runner performs one recompute of a lawyer.
type Runner interface {
	Recompute(ctx context.Context, lawyerID model.LawyerID) (scoring.Report, error)
}

// Recomputer loads a lawyer's full event set, scores it and saves the
// result in one transaction. Transient store failures and per-attempt
// timeouts are retried with exponential backoff. A revision conflict at
// write time reruns the whole pipeline once.
type Recomputer struct {
	store           Store
	scorer          scoring.Scorer
	timeout         time.Duration
	maxAttempts     int
	initialInterval time.Duration
	logger          logger.Logger
}

// NewRecomputer creates a Recomputer with configuration options.
func NewRecomputer(store Store, scorer scoring.Scorer, opts ...Option) *Recomputer {
	r := &Recomputer{
		store:           store,
		scorer:          scorer,
		timeout:         DefaultTimeout,
		maxAttempts:     DefaultMaxAttempts,
		initialInterval: DefaultInitialInterval,
		logger:          logger.Get().Named("recompute"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Recompute implements Runner. On failure the previous snapshot is left
// untouched. Exhausted retries and repeated conflicts wrap
// ErrSchedulingFailure; cancellation of ctx is returned as is.
func (r *Recomputer) Recompute(ctx context.Context, lawyerID model.LawyerID) (scoring.Report, error) {
	var (
		rep       scoring.Report
		conflicts int
		attempts  int
	)

	op := func() error {
		for {
			attempts++
			var err error
			rep, err = r.attempt(ctx, lawyerID)
			if err == nil {
				return nil
			}
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			if errors.Is(err, repository.ErrTransactionConflict) {
				metrics.RecordTransactionConflict()
				conflicts++
				if conflicts > maxConflictRetries {
					return backoff.Permanent(fmt.Errorf("%w: %s: %w", ErrSchedulingFailure, lawyerID, err))
				}
				metrics.RecordRecomputeRetry(retryCause(err))
				r.logger.Info(ctx, "snapshot changed underneath recompute, rerunning",
					logger.String("lawyer_id", lawyerID),
				)
				continue
			}
			if retryCause(err) == "" {
				return backoff.Permanent(err)
			}
			return err
		}
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = r.initialInterval
	policy.MaxElapsedTime = 0
	b := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(r.maxAttempts-1)), ctx)

	notify := func(err error, wait time.Duration) {
		metrics.RecordRecomputeRetry(retryCause(err))
		r.logger.Warn(ctx, "recompute attempt failed, retrying",
			logger.String("lawyer_id", lawyerID),
			logger.Int("attempt", attempts),
			logger.Duration("backoff", wait),
			logger.Error(err),
		)
	}

	if err := backoff.RetryNotify(op, b, notify); err != nil {
		switch {
		case ctx.Err() != nil:
			return scoring.Report{}, fmt.Errorf("recompute %s: %w", lawyerID, ctx.Err())
		case errors.Is(err, ErrSchedulingFailure):
			return scoring.Report{}, err
		case retryCause(err) != "":
			return scoring.Report{}, fmt.Errorf("%w: %s after %d attempts: %w", ErrSchedulingFailure, lawyerID, attempts, err)
		default:
			return scoring.Report{}, fmt.Errorf("recompute %s: %w", lawyerID, err)
		}
	}

	r.report(ctx, rep)
	return rep, nil
}

func (r *Recomputer) attempt(ctx context.Context, lawyerID model.LawyerID) (scoring.Report, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	set, err := r.store.Load(ctx, lawyerID)
	if err != nil {
		return scoring.Report{}, err
	}
	rep, err := r.scorer.Score(ctx, set)
	if err != nil {
		return scoring.Report{}, err
	}
	if err := r.store.Save(ctx, rep.Result, set.Revision); err != nil {
		return scoring.Report{}, err
	}
	return rep, nil
}

// report logs and counts what the engine skipped.
func (r *Recomputer) report(ctx context.Context, rep scoring.Report) {
	snap := rep.Result.Snapshot
	for _, row := range rep.Invalid {
		metrics.RecordInvalidRow(string(row.Kind))
		r.logger.Warn(ctx, "skipped invalid event row",
			logger.String("lawyer_id", snap.LawyerID),
			logger.String("kind", string(row.Kind)),
			logger.String("event_id", row.ID),
			logger.Error(row.Err),
		)
	}

	byReason := make(map[dedupe.Reason]int)
	for _, s := range rep.Suppressed {
		byReason[s.Reason]++
		r.logger.Debug(ctx, "review suppressed",
			logger.String("lawyer_id", snap.LawyerID),
			logger.String("review_id", s.Review.ID),
			logger.String("kept_id", s.KeptID),
			logger.String("reason", string(s.Reason)),
		)
	}
	for reason, n := range byReason {
		metrics.RecordReviewsSuppressed(string(reason), n)
	}

	r.logger.Debug(ctx, "lawyer recomputed",
		logger.String("lawyer_id", snap.LawyerID),
		logger.Float64("rating_score", snap.RatingScore),
		logger.String("tier", string(snap.Tier)),
		logger.Int("total_reviews", snap.TotalReviews),
		logger.Int("total_interactions", snap.TotalInteractions),
	)
}

// retryCause names a retryable failure, or returns "" when err is permanent.
func retryCause(err error) string {
	switch {
	case errors.Is(err, repository.ErrTransactionConflict):
		return "conflict"
	case errors.Is(err, repository.ErrEventStoreUnavailable):
		return "unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return ""
	}
}
