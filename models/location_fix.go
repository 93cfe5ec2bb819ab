package models

import "time"

// LocationFix is the last trusted position observed for a user. The kinematic
// validator compares each new claim against it to compute implied speed.
// One row per user, upserted after each verified claim.
type LocationFix struct {
	ExternalUserID string    `gorm:"primaryKey" json:"external_user_id"`
	Lat            float64   `json:"lat"`
	Lng            float64   `json:"lng"`
	AccuracyM      float64   `json:"accuracy_m"`
	ObservedAt     time.Time `gorm:"not null" json:"observed_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}
