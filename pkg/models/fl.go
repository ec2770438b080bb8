// Package models holds the persisted record types for the federated
// learning pipeline: rounds, per-client updates, round metrics, and trust
// scores, mirroring the relational schema defined in internal/store.
package models

import "time"

// RoundStatus is the lifecycle status recorded against a training_rounds
// row. It mirrors the Orchestrator's state machine (internal/orchestrator)
// but is persisted as plain text, not the in-process enum, since the
// dashboard facade reads it without importing orchestrator internals.
type RoundStatus string

const (
	RoundStatusPending     RoundStatus = "pending"
	RoundStatusInProgress  RoundStatus = "in_progress"
	RoundStatusAggregating RoundStatus = "aggregating"
	RoundStatusCompleted   RoundStatus = "completed"
	RoundStatusFailed      RoundStatus = "failed"
)

// Round is a training_rounds row.
type Round struct {
	ID          int64       `json:"id"`
	RoundNumber uint32      `json:"roundNumber"`
	JobID       *string     `json:"jobId,omitempty"`
	Status      RoundStatus `json:"status"`
	NumClients  *uint32     `json:"numClients,omitempty"`
	GlobalLoss  *float32    `json:"globalLoss,omitempty"`
	GlobalAUC   *float32    `json:"globalAuc,omitempty"`
	StartedAt   *time.Time  `json:"startedAt,omitempty"`
	CompletedAt *time.Time  `json:"completedAt,omitempty"`
}

// RoundMetric is a round_metrics row.
type RoundMetric struct {
	ID                       int64   `json:"id"`
	RoundID                  int64   `json:"roundId"`
	AggregationMethod        string  `json:"aggregationMethod"`
	WeiszfeldIterations      uint32  `json:"weiszfeldIterations"`
	ConvergenceEpsilon       float32 `json:"convergenceEpsilon"`
	EncryptionOverheadMs     uint32  `json:"encryptionOverheadMs"`
	AggregationTimeMs        uint32  `json:"aggregationTimeMs"`
	PoisonedClientsDetected  uint32  `json:"poisonedClientsDetected"`
}

// ClientUpdateRecord is a client_updates row.
type ClientUpdateRecord struct {
	ID                int64     `json:"id"`
	RoundID           int64     `json:"roundId"`
	ClientPK          *int64    `json:"clientPk,omitempty"`
	LocalLoss         float32   `json:"localLoss"`
	LocalAUC          float32   `json:"localAuc"`
	NumSamples        uint32    `json:"numSamples"`
	EuclideanDistance float32   `json:"euclideanDistance"`
	EncryptionStatus  string    `json:"encryptionStatus"`
	SubmittedAt       time.Time `json:"submittedAt"`
}

// TrustScore is a trust_scores row.
type TrustScore struct {
	ID            int64     `json:"id"`
	ClientPK      *int64    `json:"clientPk,omitempty"`
	ClientName    string    `json:"clientName"`
	RoundID       int64     `json:"roundId"`
	Score         float32   `json:"score"`
	DeviationAvg  float32   `json:"deviationAvg"`
	IsFlagged     bool      `json:"isFlagged"`
	ComputedAt    time.Time `json:"computedAt"`
}

// Client is a clients row.
type Client struct {
	ID            int64      `json:"id"`
	ClientID      string     `json:"clientId"`
	Name          string     `json:"name"`
	Status        string     `json:"status"`
	LastHeartbeat *time.Time `json:"lastHeartbeat,omitempty"`
}

// ClientMeta is the per-client metadata returned alongside a client
// update's meta object: local loss/AUC, sample count, and whether the
// head arrived ciphered or plaintext.
type ClientMeta struct {
	LocalLoss          float32 `json:"localLoss"`
	LocalAUC           float32 `json:"localAuc"`
	NumSamples         uint32  `json:"numSamples"`
	EncryptionStatus   string  `json:"encryptionStatus"`
	EncryptionOverheadMs uint32 `json:"encryptionOverheadMs"`
}
