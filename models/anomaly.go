package models

import "time"

// AnomalyKind classifies a detected inconsistency between prize state and
// ledger state.
type AnomalyKind string

const (
	// AnomalyPointsCreditFailed: the prize transitioned to claimed but the
	// ledger credit kept conflicting after retries. The claim is still
	// reported as a success to the user; backoffice repairs the balance.
	AnomalyPointsCreditFailed AnomalyKind = "points_credit_failed"
)

// ReconciliationAnomaly is never dropped silently: rows stay until an operator
// (or the exported report consumer) marks them resolved.
type ReconciliationAnomaly struct {
	ID             string      `gorm:"primaryKey;type:uuid" json:"id"`
	Kind           AnomalyKind `gorm:"not null;index" json:"kind"`
	ClaimID        string      `gorm:"index;type:uuid" json:"claim_id"`
	PrizeID        string      `gorm:"type:uuid" json:"prize_id"`
	ExternalUserID string      `gorm:"index" json:"external_user_id"`
	PointsOwed     int64       `json:"points_owed"`
	Details        string      `gorm:"type:text" json:"details"`
	Resolved       bool        `gorm:"not null;default:false;index" json:"resolved"`
	ResolvedAt     *time.Time  `json:"resolved_at,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
}
