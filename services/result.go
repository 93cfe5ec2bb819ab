package services

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"geohunt-claim-system/models"
)

// RejectReason is the machine-readable code a rejected claim carries back to
// the HTTP layer (which owns the status-code mapping).
type RejectReason string

const (
	RejectLocationTooFar     RejectReason = "LOCATION_TOO_FAR"
	RejectSpeedViolation     RejectReason = "SPEED_VIOLATION"
	RejectStaleTimestamp     RejectReason = "STALE_TIMESTAMP"
	RejectCooldownActive     RejectReason = "COOLDOWN_ACTIVE"
	RejectDailyLimitExceeded RejectReason = "DAILY_LIMIT_EXCEEDED"
	RejectAlreadyClaimed     RejectReason = "ALREADY_CLAIMED"
	RejectExpired            RejectReason = "EXPIRED"
	RejectPrizeDisabled      RejectReason = "PRIZE_DISABLED"
	RejectNotFound           RejectReason = "NOT_FOUND"
)

// ErrClaimInFlight: another request holding the same idempotency key has not
// finished yet. The HTTP layer maps this to 409 + Retry-After.
var ErrClaimInFlight = errors.New("claim with this idempotency key is in flight")

// ClaimRequest is a capture attempt as handed to the orchestrator by the HTTP
// layer, with the user identity already verified upstream.
type ClaimRequest struct {
	UserID  string
	PrizeID string

	Lat       float64
	Lng       float64
	AccuracyM float64

	DeviceID        string
	Platform        string
	ClientTimestamp time.Time

	// Optional; derived from the payload when the client sends none.
	IdempotencyKey string
}

// Key returns the caller-supplied idempotency key, or a deterministic digest
// of the identifying payload so retries of the same submission dedupe anyway.
func (r ClaimRequest) Key() string {
	if r.IdempotencyKey != "" {
		return r.IdempotencyKey
	}
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%.6f|%.6f|%s|%d",
		r.UserID, r.PrizeID, r.Lat, r.Lng, r.DeviceID, r.ClientTimestamp.UnixMilli())))
	return hex.EncodeToString(sum[:])
}

// ClaimResult is the tagged outcome of one claim submission. Exactly one of
// the two statuses applies; rejected results always carry a Reason. The struct
// is serialized into the idempotency store and replayed verbatim on retries.
type ClaimResult struct {
	ClaimID string             `json:"claim_id"`
	PrizeID string             `json:"prize_id"`
	Status  models.ClaimStatus `json:"status"`
	Reason  RejectReason       `json:"reason,omitempty"`

	PointsAwarded   int64 `json:"points_awarded"`
	TotalPoints     int64 `json:"total_points,omitempty"`
	AvailablePoints int64 `json:"available_points,omitempty"`

	DistanceM float64                 `json:"distance_m"`
	SpeedMPS  float64                 `json:"speed_mps"`
	Checks    models.ValidationChecks `json:"checks"`

	// Set when the prize was captured but the ledger credit needs backoffice
	// repair. The capture is still the user-visible truth.
	ReconciliationPending bool `json:"reconciliation_pending,omitempty"`

	CompletedAt time.Time `json:"completed_at"`
}

// Verified reports whether the claim captured the prize.
func (r *ClaimResult) Verified() bool { return r.Status == models.ClaimStatusVerified }

// ClaimVerifiedEvent is emitted after every successful capture and consumed by
// the achievement subsystem. Delivery is fire-and-forget, at-least-once.
type ClaimVerifiedEvent struct {
	EventID       string    `json:"event_id"`
	UserID        string    `json:"user_id"`
	PrizeID       string    `json:"prize_id"`
	ClaimID       string    `json:"claim_id"`
	PointsAwarded int64     `json:"points_awarded"`
	City          string    `json:"city"`
	OccurredAt    time.Time `json:"occurred_at"`
}
