package models

import (
	"time"
)

// AchievementType: static config for hunt achievements.
type AchievementType struct {
	ID          string `gorm:"primaryKey;type:uuid;default:gen_random_uuid()"`
	Code        string `gorm:"uniqueIndex;not null"` // e.g., "FIRST_CAPTURE", "CITY_SWEEPER"
	Name        string `gorm:"not null"`
	Description string
	IconURL     string           `gorm:"type:text"`
	Rarity      string           `gorm:"type:varchar(16);default:'common'"` // common, rare, epic, legendary
	Threshold   map[string]int64 `gorm:"serializer:json;type:jsonb"`        // e.g., {"total_claims": 10}
	CreatedAt   time.Time        `gorm:"autoCreateTime"`
}

// UserAchievement: awarded instance.
type UserAchievement struct {
	ID             string    `gorm:"primaryKey;type:uuid;default:gen_random_uuid()"`
	ExternalUserID string    `gorm:"index;not null"`
	Code           string    `gorm:"index;not null"`
	AwardedAt      time.Time `gorm:"autoCreateTime"`
	Metadata       string    `gorm:"type:jsonb"` // e.g., {"prize_id": "...", "city": "tunis"}
}

// AchievementProgress tracks per-user capture counters (denormalized for the
// trigger thresholds; the claims table stays the source of truth).
type AchievementProgress struct {
	ID             string `gorm:"primaryKey;type:uuid;default:gen_random_uuid()" json:"id"`
	ExternalUserID string `gorm:"uniqueIndex;not null" json:"external_user_id"`

	TotalClaims int64 `json:"total_claims" gorm:"default:0"`
	TotalPoints int64 `json:"total_points" gorm:"default:0"`

	LastCapturedAt *time.Time `json:"last_captured_at,omitempty"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// Predefined achievement triggers.
var AchievementTriggers = []AchievementType{
	{
		Code:        "FIRST_CAPTURE",
		Name:        "First Capture",
		Description: "Captured your first prize",
		Rarity:      "common",
		Threshold:   map[string]int64{"total_claims": 1},
	},
	{
		Code:        "TREASURE_10",
		Name:        "Treasure Hunter",
		Description: "Captured 10 prizes",
		Rarity:      "rare",
		Threshold:   map[string]int64{"total_claims": 10},
	},
	{
		Code:        "TREASURE_100",
		Name:        "Master Hunter",
		Description: "Captured 100 prizes",
		Rarity:      "epic",
		Threshold:   map[string]int64{"total_claims": 100},
	},
	{
		Code:        "POINTS_1000",
		Name:        "Point Collector",
		Description: "Earned 1000 lifetime points",
		Rarity:      "rare",
		Threshold:   map[string]int64{"total_points": 1000},
	},
	{
		Code:        "POINTS_10000",
		Name:        "Point Tycoon",
		Description: "Earned 10000 lifetime points",
		Rarity:      "legendary",
		Threshold:   map[string]int64{"total_points": 10000},
	},
}
