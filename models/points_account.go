package models

import "time"

// UserPointsAccount is the authoritative points ledger row for one user.
// Invariant: Available = Total - Spent, and none of the three goes negative.
// Mutated only through versioned compare-and-swap updates — the Version column
// is the optimistic lock shared by the cooldown tracker and the points ledger.
type UserPointsAccount struct {
	ID             string `gorm:"primaryKey;type:uuid" json:"id"`
	ExternalUserID string `gorm:"uniqueIndex;not null" json:"external_user_id"`

	Total     int64 `gorm:"not null;default:0" json:"total"`
	Available int64 `gorm:"not null;default:0" json:"available"`
	Spent     int64 `gorm:"not null;default:0" json:"spent"`

	Version int64 `gorm:"not null;default:0" json:"-"`

	// Cooldown / daily-quota bookkeeping. The daily window resets lazily the
	// first time a claim arrives more than 24h after DailyClaimWindowStart.
	LastClaimAt           *time.Time `json:"last_claim_at,omitempty"`
	DailyClaimCount       int        `gorm:"not null;default:0" json:"daily_claim_count"`
	DailyClaimWindowStart *time.Time `json:"daily_claim_window_start,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
