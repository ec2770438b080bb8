// Package store persists federated-learning round state to PostgreSQL
// round upserts, per-client update rows, round metrics,
// trust scores, and client heartbeats. WriteRound runs its lookup and
// write in one explicit transaction; the other operations issue their
// statements directly on the pool, each statement committing on its own
// (the client-FK lookup and the insert that follows it are not one
// transaction). Every operation logs-and-swallows failures — metric
// persistence is best-effort and must never block training progress.
package store

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/PragalvaXFREZ/privacy-preserving-fl/pkg/models"
)

// Store wraps a pgxpool connection pool.
type Store struct {
	pool *pgxpool.Pool
}

// Connect opens a bounded connection pool against connStr and pings it.
func Connect(ctx context.Context, connStr string) (*Store, error) {
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("store: unable to connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("store: ping failed: %w", err)
	}
	log.Println("[store] connected to PostgreSQL")
	return &Store{pool: pool}, nil
}

// Close disposes the connection pool.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// InitSchema creates the five persisted tables if they do not already
// exist.
func (s *Store) InitSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("store: schema init: %w", err)
	}
	return nil
}

// GetPool exposes the underlying pool for the facade's read-only queries.
func (s *Store) GetPool() *pgxpool.Pool {
	return s.pool
}

// RoundUpdate carries the optional fields write_round may set; a nil
// field leaves the existing column untouched on UPDATE.
type RoundUpdate struct {
	JobID       *string
	Status      *string
	NumClients  *uint32
	GlobalLoss  *float32
	GlobalAUC   *float32
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// WriteRound upserts a training_rounds row by round_number. Returns the row's primary key, or 0 on failure — the error is
// logged and swallowed, never propagated.
func (s *Store) WriteRound(ctx context.Context, roundNumber uint32, upd RoundUpdate) int64 {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		log.Printf("[store] write_round: begin: %v", err)
		return 0
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var id int64
	err = tx.QueryRow(ctx, `SELECT id FROM training_rounds WHERE round_number = $1`, roundNumber).Scan(&id)
	switch err {
	case nil:
		_, err = tx.Exec(ctx, `
			UPDATE training_rounds SET
				job_id       = COALESCE($2, job_id),
				status       = COALESCE($3, status),
				num_clients  = COALESCE($4, num_clients),
				global_loss  = COALESCE($5, global_loss),
				global_auc   = COALESCE($6, global_auc),
				started_at   = COALESCE($7, started_at),
				completed_at = COALESCE($8, completed_at)
			WHERE id = $1`,
			id, upd.JobID, upd.Status, upd.NumClients, upd.GlobalLoss, upd.GlobalAUC, upd.StartedAt, upd.CompletedAt)
		if err != nil {
			log.Printf("[store] write_round: update: %v", err)
			return 0
		}
	default:
		insertErr := tx.QueryRow(ctx, `
			INSERT INTO training_rounds (round_number, job_id, status, num_clients, global_loss, global_auc, started_at, completed_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING id`,
			roundNumber, upd.JobID, upd.Status, upd.NumClients, upd.GlobalLoss, upd.GlobalAUC, upd.StartedAt, upd.CompletedAt).Scan(&id)
		if insertErr != nil {
			log.Printf("[store] write_round: insert: %v", insertErr)
			return 0
		}
	}

	if err := tx.Commit(ctx); err != nil {
		log.Printf("[store] write_round: commit: %v", err)
		return 0
	}
	return id
}

// resolveClientPK looks up a client's primary key by its client_id
// string. It returns (0, false) if unknown — callers still insert the
// dependent row with a NULL client FK, a deliberate best-effort policy.
func (s *Store) resolveClientPK(ctx context.Context, clientName string) (int64, bool) {
	var pk int64
	err := s.pool.QueryRow(ctx, `SELECT id FROM clients WHERE client_id = $1`, clientName).Scan(&pk)
	if err != nil {
		return 0, false
	}
	return pk, true
}

// WriteClientUpdate inserts a client_updates row, resolving client_name
// to its FK best-effort. Returns the row's primary key, or 0
// on failure.
func (s *Store) WriteClientUpdate(ctx context.Context, roundID int64, clientName string, localLoss, localAUC float32, numSamples uint32, euclideanDistance float32, encryptionStatus string) int64 {
	clientPK, ok := s.resolveClientPK(ctx, clientName)

	var id int64
	var err error
	if ok {
		err = s.pool.QueryRow(ctx, `
			INSERT INTO client_updates (round_id, client_id, local_loss, local_auc, num_samples, euclidean_distance, encryption_status)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING id`,
			roundID, clientPK, localLoss, localAUC, numSamples, euclideanDistance, encryptionStatus).Scan(&id)
	} else {
		err = s.pool.QueryRow(ctx, `
			INSERT INTO client_updates (round_id, client_id, local_loss, local_auc, num_samples, euclidean_distance, encryption_status)
			VALUES ($1, NULL, $2, $3, $4, $5, $6)
			RETURNING id`,
			roundID, localLoss, localAUC, numSamples, euclideanDistance, encryptionStatus).Scan(&id)
	}
	if err != nil {
		log.Printf("[store] write_client_update: %v", err)
		return 0
	}
	return id
}

// WriteRoundMetric inserts a round_metrics row. Returns the
// row's primary key, or 0 on failure.
func (s *Store) WriteRoundMetric(ctx context.Context, m models.RoundMetric) int64 {
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO round_metrics (round_id, aggregation_method, weiszfeld_iterations, convergence_epsilon, encryption_overhead_ms, aggregation_time_ms, poisoned_clients_detected)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		m.RoundID, m.AggregationMethod, m.WeiszfeldIterations, m.ConvergenceEpsilon, m.EncryptionOverheadMs, m.AggregationTimeMs, m.PoisonedClientsDetected).Scan(&id)
	if err != nil {
		log.Printf("[store] write_round_metric: %v", err)
		return 0
	}
	return id
}

// WriteTrustScore inserts a trust_scores row, resolving client_name to
// its FK best-effort. Returns the row's primary key, or 0 on
// failure.
func (s *Store) WriteTrustScore(ctx context.Context, clientName string, roundID int64, score, deviationAvg float32, isFlagged bool) int64 {
	clientPK, ok := s.resolveClientPK(ctx, clientName)

	var id int64
	var err error
	if ok {
		err = s.pool.QueryRow(ctx, `
			INSERT INTO trust_scores (client_id, round_id, score, deviation_avg, is_flagged)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id`,
			clientPK, roundID, score, deviationAvg, isFlagged).Scan(&id)
	} else {
		err = s.pool.QueryRow(ctx, `
			INSERT INTO trust_scores (client_id, round_id, score, deviation_avg, is_flagged)
			VALUES (NULL, $1, $2, $3, $4)
			RETURNING id`,
			roundID, score, deviationAvg, isFlagged).Scan(&id)
	}
	if err != nil {
		log.Printf("[store] write_trust_score: %v", err)
		return 0
	}
	return id
}

// UpdateClientHeartbeat updates an existing clients row's status and
// last_heartbeat by client_id. An unknown client_id is a no-op, not a
// row insert — a client only appears here once something else (its
// first registration) has created its row. Failures are logged and
// swallowed.
func (s *Store) UpdateClientHeartbeat(ctx context.Context, clientID, status string) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE clients SET status = $2, last_heartbeat = NOW()
		WHERE client_id = $1`,
		clientID, status)
	if err != nil {
		log.Printf("[store] update_client_heartbeat: %v", err)
		return
	}
	if tag.RowsAffected() == 0 {
		log.Printf("[store] update_client_heartbeat: no row for client_id %q", clientID)
	}
}
