package models

import (
	"time"

	gorm "gorm.io/gorm"
)

// PrizeStatus is the lifecycle state of a prize.
// active is the only non-terminal state: active → claimed | expired | disabled.
type PrizeStatus string

const (
	PrizeStatusActive   PrizeStatus = "active"
	PrizeStatusClaimed  PrizeStatus = "claimed"
	PrizeStatusExpired  PrizeStatus = "expired"
	PrizeStatusDisabled PrizeStatus = "disabled"
)

// Terminal reports whether no further transition may leave this status.
func (s PrizeStatus) Terminal() bool {
	return s == PrizeStatusClaimed || s == PrizeStatusExpired || s == PrizeStatusDisabled
}

type PrizeCategory string

const (
	PrizeCategoryStandard PrizeCategory = "standard"
	PrizeCategoryRare     PrizeCategory = "rare"
	PrizeCategoryEvent    PrizeCategory = "event"
	PrizeCategorySponsor  PrizeCategory = "sponsor"
)

// Prize is a claimable target dropped at a physical coordinate.
// Rows are created by the external distribution service (see workers package)
// and mutated exclusively through the prize state machine — a claim is a soft
// state change, never a delete.
type Prize struct {
	ID        string        `gorm:"primaryKey;type:uuid;default:gen_random_uuid()" json:"id"`
	Name      string        `gorm:"not null" json:"name"`
	Lat       float64       `gorm:"not null;index:idx_prizes_coords" json:"lat"`
	Lng       float64       `gorm:"not null;index:idx_prizes_coords" json:"lng"`
	Points    int64         `gorm:"not null" json:"points"`
	Category  PrizeCategory `gorm:"not null;default:'standard'" json:"category"`
	City      string        `gorm:"index" json:"city"`
	CitySlug  string        `gorm:"index" json:"city_slug"`
	Status    PrizeStatus   `gorm:"not null;default:'active';index" json:"status"`
	ExpiresAt time.Time     `gorm:"not null;index" json:"expires_at"`

	// Set once by the winning conditional write, immutable afterwards.
	ClaimedBy *string    `gorm:"type:uuid" json:"claimed_by,omitempty"`
	ClaimedAt *time.Time `json:"claimed_at,omitempty"`

	// Version is bumped on every state transition (lock token for audit).
	Version int64 `gorm:"not null;default:0" json:"version"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}
