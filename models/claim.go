package models

import "time"

// ClaimStatus is the final disposition of a capture attempt.
type ClaimStatus string

const (
	ClaimStatusPending  ClaimStatus = "pending"
	ClaimStatusVerified ClaimStatus = "verified"
	ClaimStatusRejected ClaimStatus = "rejected"
	ClaimStatusExpired  ClaimStatus = "expired"
)

// ValidationChecks records the outcome of every anti-cheat gate for audit.
// All five must be true for a claim to reach the prize state machine.
type ValidationChecks struct {
	DistanceValid   bool `json:"distance_valid"`
	SpeedValid      bool `json:"speed_valid"`
	TimeValid       bool `json:"time_valid"`
	CooldownValid   bool `json:"cooldown_valid"`
	DailyLimitValid bool `json:"daily_limit_valid"`
}

// Claim is the audit record of one capture attempt, verified or not.
// It is created and finalized synchronously inside the claim pipeline.
type Claim struct {
	ID             string `gorm:"primaryKey;type:uuid" json:"id"`
	ExternalUserID string `gorm:"index;not null" json:"external_user_id"`
	PrizeID        string `gorm:"index;not null;type:uuid" json:"prize_id"`
	IdempotencyKey string `gorm:"uniqueIndex;not null" json:"idempotency_key"`

	// Submitted location and device signals, exactly as received.
	Lat             float64   `json:"lat"`
	Lng             float64   `json:"lng"`
	AccuracyM       float64   `json:"accuracy_m"`
	DeviceID        string    `json:"device_id"`
	Platform        string    `json:"platform"`
	ClientTimestamp time.Time `json:"client_timestamp"`

	// Computed by the geo-kinematic validator.
	ComputedDistanceM float64 `json:"computed_distance_m"`
	ComputedSpeedMPS  float64 `json:"computed_speed_mps"`

	Checks ValidationChecks `gorm:"embedded" json:"checks"`

	Status        ClaimStatus `gorm:"not null;index" json:"status"`
	RejectReason  string      `json:"reject_reason,omitempty"`
	PointsAwarded int64       `json:"points_awarded"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
