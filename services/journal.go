package services

import (
	"context"
	"errors"
	"fmt"

	"geohunt-claim-system/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ClaimJournal persists claim audit rows, last-known location fixes, and
// reconciliation anomalies. None of these writes sit on the claim's critical
// correctness path, but history/audit readers depend on them.
type ClaimJournal interface {
	SaveClaim(ctx context.Context, claim *models.Claim) error
	LastFix(ctx context.Context, userID string) (*models.LocationFix, error)
	SaveFix(ctx context.Context, fix *models.LocationFix) error
	SaveAnomaly(ctx context.Context, anomaly *models.ReconciliationAnomaly) error
}

type JournalService struct {
	DB *gorm.DB
}

func NewJournalService(db *gorm.DB) *JournalService {
	return &JournalService{DB: db}
}

func (s *JournalService) SaveClaim(ctx context.Context, claim *models.Claim) error {
	if err := s.DB.WithContext(ctx).Create(claim).Error; err != nil {
		return fmt.Errorf("claim save: %w", err)
	}
	return nil
}

// LastFix returns nil, nil when the user has no recorded fix yet.
func (s *JournalService) LastFix(ctx context.Context, userID string) (*models.LocationFix, error) {
	var fix models.LocationFix
	if err := s.DB.WithContext(ctx).First(&fix, "external_user_id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("location fix read: %w", err)
	}
	return &fix, nil
}

func (s *JournalService) SaveFix(ctx context.Context, fix *models.LocationFix) error {
	err := s.DB.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "external_user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"lat", "lng", "accuracy_m", "observed_at", "updated_at",
			}),
		}).
		Create(fix).Error
	if err != nil {
		return fmt.Errorf("location fix save: %w", err)
	}
	return nil
}

func (s *JournalService) SaveAnomaly(ctx context.Context, anomaly *models.ReconciliationAnomaly) error {
	if err := s.DB.WithContext(ctx).Create(anomaly).Error; err != nil {
		return fmt.Errorf("anomaly save: %w", err)
	}
	return nil
}
