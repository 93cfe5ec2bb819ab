package services

import (
	"context"
	"fmt"
	"time"

	"geohunt-claim-system/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CooldownOutcome is the result of CheckAndReserve.
type CooldownOutcome int

const (
	CooldownOk CooldownOutcome = iota
	CooldownActive
	DailyLimitExceeded
)

// CooldownTracker enforces the minimum inter-claim spacing and the rolling
// daily quota. Reservation is atomic — two devices racing the same user's
// quota cannot both pass.
type CooldownTracker interface {
	CheckAndReserve(ctx context.Context, userID string, now time.Time, cfg ClaimConfig) (CooldownOutcome, error)
}

// evaluateCooldown decides against a snapshot of the account; shared by the
// postgres and in-memory trackers so the semantics can't drift.
func evaluateCooldown(acct *models.UserPointsAccount, now time.Time, cfg ClaimConfig) CooldownOutcome {
	if acct.LastClaimAt != nil && now.Sub(*acct.LastClaimAt) < cfg.CooldownWindow {
		return CooldownActive
	}
	count := acct.DailyClaimCount
	if acct.DailyClaimWindowStart == nil || now.Sub(*acct.DailyClaimWindowStart) >= 24*time.Hour {
		count = 0 // lazy window reset
	}
	if count >= cfg.MaxDailyClaims {
		return DailyLimitExceeded
	}
	return CooldownOk
}

// applyCooldownReservation mutates the snapshot to consume one claim slot.
func applyCooldownReservation(acct *models.UserPointsAccount, now time.Time) {
	ts := now
	acct.LastClaimAt = &ts
	if acct.DailyClaimWindowStart == nil || now.Sub(*acct.DailyClaimWindowStart) >= 24*time.Hour {
		ws := now
		acct.DailyClaimWindowStart = &ws
		acct.DailyClaimCount = 1
	} else {
		acct.DailyClaimCount++
	}
}

// CooldownService is the postgres-backed tracker. It shares the account row's
// version column with the ledger: every reservation is a CAS update retried a
// bounded number of times.
type CooldownService struct {
	DB *gorm.DB
}

func NewCooldownService(db *gorm.DB) *CooldownService {
	return &CooldownService{DB: db}
}

func (s *CooldownService) CheckAndReserve(ctx context.Context, userID string, now time.Time, cfg ClaimConfig) (CooldownOutcome, error) {
	if err := ensurePointsAccount(ctx, s.DB, userID); err != nil {
		return 0, err
	}

	for attempt := 0; attempt < cfg.LedgerMaxRetries; attempt++ {
		var acct models.UserPointsAccount
		if err := s.DB.WithContext(ctx).First(&acct, "external_user_id = ?", userID).Error; err != nil {
			return 0, fmt.Errorf("cooldown account read: %w", err)
		}

		if outcome := evaluateCooldown(&acct, now, cfg); outcome != CooldownOk {
			return outcome, nil
		}

		applyCooldownReservation(&acct, now)
		res := s.DB.WithContext(ctx).Model(&models.UserPointsAccount{}).
			Where("external_user_id = ? AND version = ?", userID, acct.Version).
			Updates(map[string]interface{}{
				"last_claim_at":            acct.LastClaimAt,
				"daily_claim_count":        acct.DailyClaimCount,
				"daily_claim_window_start": acct.DailyClaimWindowStart,
				"version":                  acct.Version + 1,
			})
		if res.Error != nil {
			return 0, fmt.Errorf("cooldown reserve write: %w", res.Error)
		}
		if res.RowsAffected == 1 {
			return CooldownOk, nil
		}
		// Lost the CAS to a concurrent claim by the same user; re-read.
	}
	return 0, fmt.Errorf("cooldown reserve for user %s: version conflicts exhausted", userID)
}

// ensurePointsAccount creates the ledger row on first contact (idempotent).
func ensurePointsAccount(ctx context.Context, db *gorm.DB, userID string) error {
	acct := models.UserPointsAccount{
		ID:             uuid.NewString(),
		ExternalUserID: userID,
	}
	err := db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "external_user_id"}}, DoNothing: true}).
		Create(&acct).Error
	if err != nil {
		return fmt.Errorf("points account ensure: %w", err)
	}
	return nil
}
