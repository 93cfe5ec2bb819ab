package models

import "time"

// IdempotencyState distinguishes a reservation from a finished record.
type IdempotencyState string

const (
	// IdempotencyStateInFlight marks a key reserved by a request that is still
	// being processed. A concurrent request for the same key must back off.
	IdempotencyStateInFlight IdempotencyState = "in_flight"
	// IdempotencyStateCommitted marks a key whose stored result is final and
	// replayed verbatim until expiry.
	IdempotencyStateCommitted IdempotencyState = "committed"
)

// IdempotencyRecord deduplicates retried claim submissions. The primary key
// plus an INSERT .. ON CONFLICT DO NOTHING gives the atomic set-if-absent the
// claim pipeline relies on; once committed the row is immutable until expiry.
type IdempotencyRecord struct {
	Key       string           `gorm:"primaryKey" json:"key"`
	State     IdempotencyState `gorm:"not null" json:"state"`
	Result    string           `gorm:"type:text" json:"result"`
	ExpiresAt time.Time        `gorm:"not null;index" json:"expires_at"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// TableName implements the GORM tabler interface.
func (IdempotencyRecord) TableName() string { return "idempotency_records" }
