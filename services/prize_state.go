package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"geohunt-claim-system/models"

	"gorm.io/gorm"
)

// PrizeTransition classifies the outcome of TryClaim.
type PrizeTransition int

const (
	PrizeClaimedByUs PrizeTransition = iota
	PrizeAlreadyClaimed
	PrizeExpired
	PrizeDisabled
	PrizeNotFound
)

var ErrPrizeNotFound = errors.New("prize not found")

// PrizeStateMachine owns every prize lifecycle transition. All writes are
// conditional on the current status so terminal states are never left.
type PrizeStateMachine interface {
	GetPrize(ctx context.Context, prizeID string) (*models.Prize, error)
	TryClaim(ctx context.Context, prizeID, userID string, now time.Time) (PrizeTransition, *models.Prize, error)
}

// PrizeStateService is the postgres-backed state machine. The claim transition
// is a single conditional UPDATE — the row-level compare-and-swap that makes
// at-most-one winner possible under concurrent claimants.
type PrizeStateService struct {
	DB *gorm.DB
}

func NewPrizeStateService(db *gorm.DB) *PrizeStateService {
	return &PrizeStateService{DB: db}
}

func (s *PrizeStateService) GetPrize(ctx context.Context, prizeID string) (*models.Prize, error) {
	var prize models.Prize
	if err := s.DB.WithContext(ctx).First(&prize, "id = ?", prizeID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPrizeNotFound
		}
		return nil, fmt.Errorf("prize read: %w", err)
	}
	return &prize, nil
}

// TryClaim attempts active→claimed for userID. The conditional write succeeds
// for exactly one concurrent claimant; on zero rows affected the prize is
// re-read to classify the loss accurately.
func (s *PrizeStateService) TryClaim(ctx context.Context, prizeID, userID string, now time.Time) (PrizeTransition, *models.Prize, error) {
	res := s.DB.WithContext(ctx).Model(&models.Prize{}).
		Where("id = ? AND status = ? AND expires_at > ?", prizeID, models.PrizeStatusActive, now).
		Updates(map[string]interface{}{
			"status":     models.PrizeStatusClaimed,
			"claimed_by": userID,
			"claimed_at": now,
			"version":    gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return 0, nil, fmt.Errorf("prize claim write: %w", res.Error)
	}

	var prize models.Prize
	if err := s.DB.WithContext(ctx).First(&prize, "id = ?", prizeID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return PrizeNotFound, nil, nil
		}
		return 0, nil, fmt.Errorf("prize re-read: %w", err)
	}

	if res.RowsAffected == 1 {
		return PrizeClaimedByUs, &prize, nil
	}

	switch prize.Status {
	case models.PrizeStatusClaimed:
		return PrizeAlreadyClaimed, &prize, nil
	case models.PrizeStatusExpired:
		return PrizeExpired, &prize, nil
	case models.PrizeStatusDisabled:
		return PrizeDisabled, &prize, nil
	case models.PrizeStatusActive:
		// Still active but expires_at has passed: sweep it now so readers see
		// the terminal state without waiting for the scheduler.
		s.markExpired(ctx, prizeID, now)
		return PrizeExpired, &prize, nil
	}
	return PrizeNotFound, nil, nil
}

func (s *PrizeStateService) markExpired(ctx context.Context, prizeID string, now time.Time) {
	res := s.DB.WithContext(ctx).Model(&models.Prize{}).
		Where("id = ? AND status = ? AND expires_at <= ?", prizeID, models.PrizeStatusActive, now).
		Updates(map[string]interface{}{
			"status":  models.PrizeStatusExpired,
			"version": gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		log.Printf("⚠️  Failed to lazily expire prize %s: %v", prizeID, res.Error)
	}
}

// Disable transitions active→disabled (ops action, e.g. a mis-dropped prize).
func (s *PrizeStateService) Disable(ctx context.Context, prizeID string) (bool, error) {
	res := s.DB.WithContext(ctx).Model(&models.Prize{}).
		Where("id = ? AND status = ?", prizeID, models.PrizeStatusActive).
		Updates(map[string]interface{}{
			"status":  models.PrizeStatusDisabled,
			"version": gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return false, fmt.Errorf("prize disable: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// ExpireDue sweeps every active prize whose expiry has passed. Run by the
// maintenance scheduler; the condition keeps claimed prizes untouched.
func (s *PrizeStateService) ExpireDue(ctx context.Context, now time.Time) (int64, error) {
	res := s.DB.WithContext(ctx).Model(&models.Prize{}).
		Where("status = ? AND expires_at <= ?", models.PrizeStatusActive, now).
		Updates(map[string]interface{}{
			"status":  models.PrizeStatusExpired,
			"version": gorm.Expr("version + 1"),
		})
	return res.RowsAffected, res.Error
}
