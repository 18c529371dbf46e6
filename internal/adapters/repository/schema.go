package repository

// Times are stored as unix nanoseconds (UTC). The event tables carry no
// CHECK constraints: rows written by older collaborators are loaded as they
// are and rejected row by row during aggregation.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS reviews (
		id             TEXT PRIMARY KEY,
		lawyer_id      TEXT NOT NULL,
		rating         INTEGER NOT NULL,
		comment        TEXT NOT NULL DEFAULT '',
		ip_address     TEXT NOT NULL DEFAULT '',
		device_id      TEXT NOT NULL DEFAULT '',
		specialization TEXT NOT NULL DEFAULT '',
		created_at     INTEGER NOT NULL,
		recorded_at    INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_reviews_lawyer ON reviews (lawyer_id, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_reviews_recorded ON reviews (recorded_at)`,

	`CREATE TABLE IF NOT EXISTS appointment_outcomes (
		appointment_id   TEXT PRIMARY KEY,
		lawyer_id        TEXT NOT NULL,
		status           TEXT NOT NULL,
		lawyer_joined_at INTEGER,
		user_joined_at   INTEGER,
		is_paid          INTEGER NOT NULL DEFAULT 0,
		cancelled_by     TEXT NOT NULL DEFAULT '',
		specialization   TEXT NOT NULL DEFAULT '',
		scheduled_at     INTEGER NOT NULL,
		resolved_at      INTEGER NOT NULL,
		recorded_at      INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_outcomes_lawyer ON appointment_outcomes (lawyer_id, resolved_at)`,
	`CREATE INDEX IF NOT EXISTS idx_outcomes_recorded ON appointment_outcomes (recorded_at)`,

	`CREATE TABLE IF NOT EXISTS compliance_events (
		id          TEXT PRIMARY KEY,
		lawyer_id   TEXT NOT NULL,
		type        TEXT NOT NULL,
		occurred_at INTEGER NOT NULL,
		resolved_at INTEGER,
		recorded_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_compliance_lawyer ON compliance_events (lawyer_id, occurred_at)`,
	`CREATE INDEX IF NOT EXISTS idx_compliance_recorded ON compliance_events (recorded_at)`,

	`CREATE TABLE IF NOT EXISTS rating_snapshots (
		lawyer_id          TEXT PRIMARY KEY,
		rating_score       REAL NOT NULL,
		tier               TEXT NOT NULL,
		total_reviews      INTEGER NOT NULL,
		total_interactions INTEGER NOT NULL,
		updated_at         INTEGER NOT NULL,
		revision           INTEGER NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS specialization_scores (
		lawyer_id      TEXT NOT NULL,
		specialization TEXT NOT NULL,
		score          REAL NOT NULL,
		last_updated   INTEGER NOT NULL,
		PRIMARY KEY (lawyer_id, specialization)
	)`,
}
