package store

// Schema is the DDL for the five persisted tables, executed once at
// startup by InitSchema.
const Schema = `
CREATE TABLE IF NOT EXISTS clients (
	id             BIGSERIAL PRIMARY KEY,
	client_id      TEXT UNIQUE NOT NULL,
	name           TEXT NOT NULL,
	status         TEXT NOT NULL DEFAULT 'unknown',
	last_heartbeat TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS training_rounds (
	id           BIGSERIAL PRIMARY KEY,
	round_number INTEGER UNIQUE NOT NULL,
	job_id       TEXT,
	status       TEXT NOT NULL,
	num_clients  INTEGER,
	global_loss  REAL,
	global_auc   REAL,
	started_at   TIMESTAMPTZ,
	completed_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS client_updates (
	id                 BIGSERIAL PRIMARY KEY,
	round_id           BIGINT NOT NULL REFERENCES training_rounds(id),
	client_id          BIGINT REFERENCES clients(id),
	local_loss         REAL NOT NULL,
	local_auc          REAL NOT NULL,
	num_samples        INTEGER NOT NULL,
	euclidean_distance REAL NOT NULL,
	encryption_status  TEXT NOT NULL,
	submitted_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS round_metrics (
	id                        BIGSERIAL PRIMARY KEY,
	round_id                  BIGINT NOT NULL REFERENCES training_rounds(id),
	aggregation_method        TEXT NOT NULL,
	weiszfeld_iterations      INTEGER NOT NULL,
	convergence_epsilon       REAL NOT NULL,
	encryption_overhead_ms    INTEGER NOT NULL,
	aggregation_time_ms       INTEGER NOT NULL,
	poisoned_clients_detected INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS trust_scores (
	id            BIGSERIAL PRIMARY KEY,
	client_id     BIGINT REFERENCES clients(id),
	round_id      BIGINT NOT NULL REFERENCES training_rounds(id),
	score         REAL NOT NULL,
	deviation_avg REAL NOT NULL,
	is_flagged    BOOLEAN NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`
