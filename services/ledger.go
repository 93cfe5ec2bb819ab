package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"geohunt-claim-system/models"

	"gorm.io/gorm"
)

// ErrLedgerContention: the versioned credit kept losing its compare-and-swap
// after the configured number of retries. The orchestrator records an anomaly
// instead of failing the user-visible capture.
var ErrLedgerContention = errors.New("points ledger version conflicts exhausted")

// PointsLedger owns the authoritative running balance. Credit never touches
// Spent — debits belong to the redemption flow, which is not this service.
type PointsLedger interface {
	Credit(ctx context.Context, userID string, amount int64, claimID string, cfg ClaimConfig) (*models.UserPointsAccount, error)
}

// LedgerService is the postgres-backed ledger. Each credit is a read of the
// current version followed by an UPDATE conditional on that version, so
// concurrent claims by the same user on different prizes never lose updates.
type LedgerService struct {
	DB *gorm.DB
}

func NewLedgerService(db *gorm.DB) *LedgerService {
	return &LedgerService{DB: db}
}

func (s *LedgerService) Credit(ctx context.Context, userID string, amount int64, claimID string, cfg ClaimConfig) (*models.UserPointsAccount, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("ledger credit for claim %s: non-positive amount %d", claimID, amount)
	}
	if err := ensurePointsAccount(ctx, s.DB, userID); err != nil {
		return nil, err
	}

	for attempt := 0; attempt < cfg.LedgerMaxRetries; attempt++ {
		var acct models.UserPointsAccount
		if err := s.DB.WithContext(ctx).First(&acct, "external_user_id = ?", userID).Error; err != nil {
			return nil, fmt.Errorf("ledger account read: %w", err)
		}

		res := s.DB.WithContext(ctx).Model(&models.UserPointsAccount{}).
			Where("external_user_id = ? AND version = ?", userID, acct.Version).
			Updates(map[string]interface{}{
				"total":     gorm.Expr("total + ?", amount),
				"available": gorm.Expr("available + ?", amount),
				"version":   acct.Version + 1,
			})
		if res.Error != nil {
			return nil, fmt.Errorf("ledger credit write: %w", res.Error)
		}
		if res.RowsAffected == 1 {
			acct.Total += amount
			acct.Available += amount
			acct.Version++
			return &acct, nil
		}
		time.Sleep(time.Duration(attempt+1) * 10 * time.Millisecond)
	}
	return nil, ErrLedgerContention
}

// GetAccount returns the current ledger snapshot, creating the row on first
// contact so new users see zeros instead of a 404.
func (s *LedgerService) GetAccount(ctx context.Context, userID string) (*models.UserPointsAccount, error) {
	if err := ensurePointsAccount(ctx, s.DB, userID); err != nil {
		return nil, err
	}
	var acct models.UserPointsAccount
	if err := s.DB.WithContext(ctx).First(&acct, "external_user_id = ?", userID).Error; err != nil {
		return nil, fmt.Errorf("ledger account read: %w", err)
	}
	return &acct, nil
}
