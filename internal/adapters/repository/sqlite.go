package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/okian/repute/internal/domain/model"
	"github.com/okian/repute/pkg/metrics"
)

// SQLiteStore implements Store on SQLite through modernc.org/sqlite.
type SQLiteStore struct {
	db   *sql.DB
	opts options
}

// OpenSQLite opens (or creates) the database at dsn and ensures the schema
// exists. Use ":memory:" for a private in-memory database.
func OpenSQLite(ctx context.Context, dsn string, opts ...Option) (*SQLiteStore, error) {
	o := newOptions(opts)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", dsn, err)
	}
	// One connection: SQLite has a single writer, and ":memory:" databases
	// are per connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &SQLiteStore{db: db, opts: o}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	pragmas := []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", s.opts.busyTimeout.Milliseconds()),
		"PRAGMA journal_mode = WAL",
	}
	for _, p := range pragmas {
		if _, err := s.db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("apply %q: %w", p, err)
		}
	}
	return s.withTransaction(ctx, func(tx *sql.Tx) error {
		for _, stmt := range schema {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("create schema: %w", err)
			}
		}
		return nil
	})
}

// Ping checks that the database answers.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return s.unavailable("ping", err)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type txFunc func(tx *sql.Tx) error

// withTransaction runs fn in a transaction, committing on success and
// rolling back on error or panic.
func (s *SQLiteStore) withTransaction(ctx context.Context, fn txFunc) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("transaction failed (rollback error: %v): %w", rbErr, err)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// unavailable classifies a driver error. Cancellation and domain sentinels
// pass through and constraint failures are permanent. Everything else is a
// transient store failure.
func (s *SQLiteStore) unavailable(op string, err error) error {
	var sqlErr *sqlite.Error
	switch {
	case errors.As(err, &sqlErr) && sqlErr.Code()&0xff == sqlite3.SQLITE_CONSTRAINT:
		return fmt.Errorf("%w: %s: %w", ErrConstraintViolation, op, err)
	case errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, ErrTransactionConflict),
		errors.Is(err, ErrNotFound),
		errors.Is(err, ErrDuplicateAppointment),
		errors.Is(err, ErrDuplicateEvent),
		errors.Is(err, ErrAlreadyResolved),
		errors.Is(err, model.ErrInvalidEventData):
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrEventStoreUnavailable, op, err)
}

func observe(op string, start time.Time) {
	metrics.RecordRepositoryQueryLatency(op, float64(time.Since(start).Microseconds())/1000)
}

// Load implements EventReader.
func (s *SQLiteStore) Load(ctx context.Context, lawyerID model.LawyerID) (*model.EventSet, error) {
	defer observe("load", time.Now())

	set := &model.EventSet{LawyerID: lawyerID}
	err := s.withTransaction(ctx, func(tx *sql.Tx) error {
		var err error
		if set.Reviews, err = loadReviews(ctx, tx, lawyerID); err != nil {
			return err
		}
		if set.Outcomes, err = loadOutcomes(ctx, tx, lawyerID); err != nil {
			return err
		}
		if set.Compliance, err = loadCompliance(ctx, tx, lawyerID); err != nil {
			return err
		}
		set.Revision, err = revision(ctx, tx, lawyerID)
		return err
	})
	if err != nil {
		return nil, s.unavailable("load events of "+lawyerID, err)
	}
	return set, nil
}

func loadReviews(ctx context.Context, tx *sql.Tx, lawyerID model.LawyerID) ([]model.Review, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT id, lawyer_id, rating, comment, ip_address, device_id, specialization, created_at
		FROM reviews
		WHERE lawyer_id = ?
		ORDER BY created_at, id`, lawyerID)
	if err != nil {
		return nil, fmt.Errorf("query reviews: %w", err)
	}
	defer rows.Close()

	var out []model.Review
	for rows.Next() {
		var r model.Review
		var created int64
		if err := rows.Scan(&r.ID, &r.LawyerID, &r.Rating, &r.Comment, &r.IPAddress, &r.DeviceID, &r.Specialization, &created); err != nil {
			return nil, fmt.Errorf("scan review: %w", err)
		}
		r.CreatedAt = fromNanos(created)
		out = append(out, r)
	}
	return out, rows.Err()
}

func loadOutcomes(ctx context.Context, tx *sql.Tx, lawyerID model.LawyerID) ([]model.AppointmentOutcome, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT appointment_id, lawyer_id, status, lawyer_joined_at, user_joined_at,
		       is_paid, cancelled_by, specialization, scheduled_at, resolved_at
		FROM appointment_outcomes
		WHERE lawyer_id = ?
		ORDER BY resolved_at, appointment_id`, lawyerID)
	if err != nil {
		return nil, fmt.Errorf("query outcomes: %w", err)
	}
	defer rows.Close()

	var out []model.AppointmentOutcome
	for rows.Next() {
		var o model.AppointmentOutcome
		var status, cancelledBy string
		var lawyerJoined, userJoined sql.NullInt64
		var scheduled, resolved int64
		if err := rows.Scan(&o.AppointmentID, &o.LawyerID, &status, &lawyerJoined, &userJoined,
			&o.IsPaid, &cancelledBy, &o.Specialization, &scheduled, &resolved); err != nil {
			return nil, fmt.Errorf("scan outcome: %w", err)
		}
		o.Status = model.OutcomeStatus(status)
		o.CancelledBy = model.Party(cancelledBy)
		o.LawyerJoinedAt = fromNullNanos(lawyerJoined)
		o.UserJoinedAt = fromNullNanos(userJoined)
		o.ScheduledAt = fromNanos(scheduled)
		o.ResolvedAt = fromNanos(resolved)
		out = append(out, o)
	}
	return out, rows.Err()
}

func loadCompliance(ctx context.Context, tx *sql.Tx, lawyerID model.LawyerID) ([]model.ComplianceEvent, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT id, lawyer_id, type, occurred_at, resolved_at
		FROM compliance_events
		WHERE lawyer_id = ?
		ORDER BY occurred_at, id`, lawyerID)
	if err != nil {
		return nil, fmt.Errorf("query compliance events: %w", err)
	}
	defer rows.Close()

	var out []model.ComplianceEvent
	for rows.Next() {
		var c model.ComplianceEvent
		var typ string
		var occurred int64
		var resolved sql.NullInt64
		if err := rows.Scan(&c.ID, &c.LawyerID, &typ, &occurred, &resolved); err != nil {
			return nil, fmt.Errorf("scan compliance event: %w", err)
		}
		c.Type = model.ComplianceType(typ)
		c.OccurredAt = fromNanos(occurred)
		c.ResolvedAt = fromNullNanos(resolved)
		out = append(out, c)
	}
	return out, rows.Err()
}

func revision(ctx context.Context, tx *sql.Tx, lawyerID model.LawyerID) (int64, error) {
	var rev int64
	err := tx.QueryRowContext(ctx, `SELECT revision FROM rating_snapshots WHERE lawyer_id = ?`, lawyerID).Scan(&rev)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read revision: %w", err)
	}
	return rev, nil
}

// Save implements SnapshotWriter.
func (s *SQLiteStore) Save(ctx context.Context, result model.Result, expectedRevision int64) error {
	defer observe("save", time.Now())

	snap := result.Snapshot
	err := s.withTransaction(ctx, func(tx *sql.Tx) error {
		current, err := revision(ctx, tx, snap.LawyerID)
		if err != nil {
			return err
		}
		if current != expectedRevision {
			return fmt.Errorf("%w: lawyer %s at revision %d, expected %d",
				ErrTransactionConflict, snap.LawyerID, current, expectedRevision)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO rating_snapshots
				(lawyer_id, rating_score, tier, total_reviews, total_interactions, updated_at, revision)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (lawyer_id) DO UPDATE SET
				rating_score = excluded.rating_score,
				tier = excluded.tier,
				total_reviews = excluded.total_reviews,
				total_interactions = excluded.total_interactions,
				updated_at = excluded.updated_at,
				revision = excluded.revision`,
			snap.LawyerID, snap.RatingScore, string(snap.Tier), snap.TotalReviews,
			snap.TotalInteractions, toNanos(snap.UpdatedAt), current+1,
		); err != nil {
			return fmt.Errorf("upsert snapshot: %w", err)
		}

		if err := deleteStaleSpecializations(ctx, tx, snap.LawyerID, result.Specializations); err != nil {
			return err
		}
		for _, sp := range result.Specializations {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO specialization_scores (lawyer_id, specialization, score, last_updated)
				VALUES (?, ?, ?, ?)
				ON CONFLICT (lawyer_id, specialization) DO UPDATE SET
					score = excluded.score,
					last_updated = excluded.last_updated`,
				snap.LawyerID, sp.Specialization, sp.Score, toNanos(sp.LastUpdated),
			); err != nil {
				return fmt.Errorf("upsert specialization %q: %w", sp.Specialization, err)
			}
		}
		return nil
	})
	if err != nil {
		return s.unavailable("save snapshot of "+snap.LawyerID, err)
	}
	return nil
}

func deleteStaleSpecializations(ctx context.Context, tx *sql.Tx, lawyerID model.LawyerID, keep []model.SpecializationScore) error {
	query := `DELETE FROM specialization_scores WHERE lawyer_id = ?`
	args := []any{lawyerID}
	if len(keep) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(keep)), ",")
		query += ` AND specialization NOT IN (` + placeholders + `)`
		for _, sp := range keep {
			args = append(args, sp.Specialization)
		}
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("delete stale specializations: %w", err)
	}
	return nil
}

// Snapshot implements SnapshotReader.
func (s *SQLiteStore) Snapshot(ctx context.Context, lawyerID model.LawyerID) (model.Snapshot, error) {
	defer observe("snapshot", time.Now())

	snap := model.Snapshot{LawyerID: lawyerID}
	var tier string
	var updated int64
	err := s.db.QueryRowContext(ctx, `
		SELECT rating_score, tier, total_reviews, total_interactions, updated_at
		FROM rating_snapshots
		WHERE lawyer_id = ?`, lawyerID,
	).Scan(&snap.RatingScore, &tier, &snap.TotalReviews, &snap.TotalInteractions, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Snapshot{}, fmt.Errorf("snapshot of %s: %w", lawyerID, ErrNotFound)
	}
	if err != nil {
		return model.Snapshot{}, s.unavailable("read snapshot of "+lawyerID, err)
	}
	snap.Tier = model.Tier(tier)
	snap.UpdatedAt = fromNanos(updated)
	return snap, nil
}

// Specializations implements SnapshotReader. Rows are ordered by name.
func (s *SQLiteStore) Specializations(ctx context.Context, lawyerID model.LawyerID) ([]model.SpecializationScore, error) {
	defer observe("specializations", time.Now())

	rows, err := s.db.QueryContext(ctx, `
		SELECT specialization, score, last_updated
		FROM specialization_scores
		WHERE lawyer_id = ?
		ORDER BY specialization`, lawyerID)
	if err != nil {
		return nil, s.unavailable("read specializations of "+lawyerID, err)
	}
	defer rows.Close()

	out := []model.SpecializationScore{}
	for rows.Next() {
		sp := model.SpecializationScore{LawyerID: lawyerID}
		var updated int64
		if err := rows.Scan(&sp.Specialization, &sp.Score, &updated); err != nil {
			return nil, s.unavailable("scan specialization", err)
		}
		sp.LastUpdated = fromNanos(updated)
		out = append(out, sp)
	}
	if err := rows.Err(); err != nil {
		return nil, s.unavailable("read specializations of "+lawyerID, err)
	}
	return out, nil
}

// AppendReview implements EventWriter.
func (s *SQLiteStore) AppendReview(ctx context.Context, r model.Review) error {
	if err := model.ValidateReview(&r); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO reviews
			(id, lawyer_id, rating, comment, ip_address, device_id, specialization, created_at, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`,
		r.ID, r.LawyerID, r.Rating, r.Comment, r.IPAddress, r.DeviceID, r.Specialization,
		toNanos(r.CreatedAt), toNanos(s.opts.clock()),
	)
	if err != nil {
		return s.unavailable("append review "+r.ID, err)
	}
	return inserted(res, fmt.Errorf("review %s: %w", r.ID, ErrDuplicateEvent))
}

// AppendOutcome implements EventWriter.
func (s *SQLiteStore) AppendOutcome(ctx context.Context, o model.AppointmentOutcome) error {
	if err := model.ValidateOutcome(&o); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO appointment_outcomes
			(appointment_id, lawyer_id, status, lawyer_joined_at, user_joined_at, is_paid,
			 cancelled_by, specialization, scheduled_at, resolved_at, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (appointment_id) DO NOTHING`,
		o.AppointmentID, o.LawyerID, string(o.Status), toNullNanos(o.LawyerJoinedAt), toNullNanos(o.UserJoinedAt),
		o.IsPaid, string(o.CancelledBy), o.Specialization, toNanos(o.ScheduledAt), toNanos(o.ResolvedAt),
		toNanos(s.opts.clock()),
	)
	if err != nil {
		return s.unavailable("append outcome "+o.AppointmentID, err)
	}
	return inserted(res, fmt.Errorf("appointment %s: %w", o.AppointmentID, ErrDuplicateAppointment))
}

// AppendCompliance implements EventWriter.
func (s *SQLiteStore) AppendCompliance(ctx context.Context, c model.ComplianceEvent) error {
	if err := model.ValidateCompliance(&c); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO compliance_events (id, lawyer_id, type, occurred_at, resolved_at, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`,
		c.ID, c.LawyerID, string(c.Type), toNanos(c.OccurredAt), toNullNanos(c.ResolvedAt), toNanos(s.opts.clock()),
	)
	if err != nil {
		return s.unavailable("append compliance event "+c.ID, err)
	}
	return inserted(res, fmt.Errorf("compliance event %s: %w", c.ID, ErrDuplicateEvent))
}

// ResolveCompliance implements EventWriter.
func (s *SQLiteStore) ResolveCompliance(ctx context.Context, eventID string, at time.Time) (model.LawyerID, error) {
	var lawyerID model.LawyerID
	err := s.withTransaction(ctx, func(tx *sql.Tx) error {
		var occurred int64
		var resolved sql.NullInt64
		err := tx.QueryRowContext(ctx,
			`SELECT lawyer_id, occurred_at, resolved_at FROM compliance_events WHERE id = ?`, eventID,
		).Scan(&lawyerID, &occurred, &resolved)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("compliance event %s: %w", eventID, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("read compliance event: %w", err)
		}
		if resolved.Valid {
			return fmt.Errorf("compliance event %s: %w", eventID, ErrAlreadyResolved)
		}
		if err := checkResolution(fromNanos(occurred), at); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE compliance_events SET resolved_at = ?, recorded_at = ? WHERE id = ?`,
			toNanos(at), toNanos(s.opts.clock()), eventID)
		return err
	})
	if err != nil {
		return "", s.unavailable("resolve compliance event "+eventID, err)
	}
	return lawyerID, nil
}

// LawyersWithEventsSince implements Store.
func (s *SQLiteStore) LawyersWithEventsSince(ctx context.Context, since time.Time) ([]model.LawyerID, error) {
	defer observe("lawyers_since", time.Now())

	ts := toNanos(since)
	rows, err := s.db.QueryContext(ctx, `
		SELECT lawyer_id FROM reviews WHERE recorded_at >= ?
		UNION
		SELECT lawyer_id FROM appointment_outcomes WHERE recorded_at >= ?
		UNION
		SELECT lawyer_id FROM compliance_events WHERE recorded_at >= ?
		ORDER BY lawyer_id`, ts, ts, ts)
	if err != nil {
		return nil, s.unavailable("list lawyers with events", err)
	}
	defer rows.Close()

	var out []model.LawyerID
	for rows.Next() {
		var id model.LawyerID
		if err := rows.Scan(&id); err != nil {
			return nil, s.unavailable("scan lawyer id", err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, s.unavailable("list lawyers with events", err)
	}
	return out, nil
}

// Stats implements Store.
func (s *SQLiteStore) Stats(ctx context.Context) (Stats, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT tier, COUNT(*) FROM rating_snapshots GROUP BY tier`)
	if err != nil {
		return Stats{}, s.unavailable("read stats", err)
	}
	defer rows.Close()

	st := Stats{Tiers: make(map[model.Tier]int, len(model.Tiers))}
	for _, t := range model.Tiers {
		st.Tiers[t] = 0
	}
	for rows.Next() {
		var tier string
		var n int
		if err := rows.Scan(&tier, &n); err != nil {
			return Stats{}, s.unavailable("scan stats", err)
		}
		st.Tiers[model.Tier(tier)] = n
		st.Lawyers += n
	}
	if err := rows.Err(); err != nil {
		return Stats{}, s.unavailable("read stats", err)
	}
	return st, nil
}

func inserted(res sql.Result, dup error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: rows affected: %w", ErrEventStoreUnavailable, err)
	}
	if n == 0 {
		return dup
	}
	return nil
}

func checkResolution(occurred, at time.Time) error {
	if at.IsZero() || at.Before(occurred) {
		return fmt.Errorf("%w: resolved_at must not precede occurred_at", model.ErrInvalidEventData)
	}
	return nil
}

func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

func toNullNanos(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toNanos(*t), Valid: true}
}

func fromNullNanos(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromNanos(n.Int64)
	return &t
}
