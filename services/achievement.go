package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"geohunt-claim-system/models"
	"geohunt-claim-system/utils"

	"gorm.io/gorm"
)

// AchievementService consumes ClaimVerified events downstream of the claim
// pipeline. Strictly fire-and-forget: a failure here is logged and never rolls
// back (or even slows down) the claim that produced the event.
type AchievementService struct {
	DB      *gorm.DB
	Metrics *Metrics

	// Optional webhook notified about awarded achievements (push/notification
	// subsystems live behind it).
	WebhookURL string

	events chan ClaimVerifiedEvent
}

func NewAchievementService(db *gorm.DB, metrics *Metrics) *AchievementService {
	return &AchievementService{
		DB:         db,
		Metrics:    metrics,
		WebhookURL: os.Getenv("ACHIEVEMENT_WEBHOOK_URL"),
		events:     make(chan ClaimVerifiedEvent, 256),
	}
}

// Publish hands an event to the dispatcher without blocking the claim path.
// A full buffer drops the event (at-least-once is satisfied by the claims
// table remaining the source of truth for progress rebuilds).
func (s *AchievementService) Publish(ev ClaimVerifiedEvent) {
	select {
	case s.events <- ev:
	default:
		s.Metrics.EventsDropped.Inc()
		log.Printf("⚠️  Achievement event buffer full, dropped event %s", ev.EventID)
	}
}

// Start runs the consumer loop until ctx is cancelled.
func (s *AchievementService) Start(ctx context.Context) {
	log.Println("Starting Achievement Trigger consumer...")
	for {
		select {
		case <-ctx.Done():
			log.Println("Achievement Trigger consumer stopped.")
			return
		case ev := <-s.events:
			if err := s.handle(ctx, ev); err != nil {
				log.Printf("⚠️  Achievement handling failed for event %s: %v", ev.EventID, err)
			}
		}
	}
}

func (s *AchievementService) handle(ctx context.Context, ev ClaimVerifiedEvent) error {
	if s.DB == nil {
		// Memory mode: progress tracking needs the database.
		return nil
	}

	prog, err := s.bumpProgress(ctx, ev)
	if err != nil {
		return err
	}

	awarded, err := s.autoAward(ctx, ev, prog)
	if err != nil {
		return err
	}
	if len(awarded) > 0 && s.WebhookURL != "" {
		s.notify(ctx, ev.UserID, awarded)
	}
	return nil
}

func (s *AchievementService) bumpProgress(ctx context.Context, ev ClaimVerifiedEvent) (*models.AchievementProgress, error) {
	var prog models.AchievementProgress
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("external_user_id = ?", ev.UserID).First(&prog).Error; err != nil {
			if err != gorm.ErrRecordNotFound {
				return err
			}
			prog = models.AchievementProgress{ExternalUserID: ev.UserID}
			if err := tx.Create(&prog).Error; err != nil {
				return err
			}
		}
		prog.TotalClaims++
		prog.TotalPoints += ev.PointsAwarded
		prog.LastCapturedAt = &ev.OccurredAt
		return tx.Save(&prog).Error
	})
	if err != nil {
		return nil, fmt.Errorf("achievement progress update: %w", err)
	}
	return &prog, nil
}

// autoAward checks all achievement triggers for a user after a progress update.
func (s *AchievementService) autoAward(ctx context.Context, ev ClaimVerifiedEvent, prog *models.AchievementProgress) ([]string, error) {
	var awarded []string
	for _, trigger := range models.AchievementTriggers {
		if !meetsThreshold(prog, trigger.Threshold) {
			continue
		}
		var count int64
		s.DB.WithContext(ctx).Model(&models.UserAchievement{}).
			Where("external_user_id = ? AND code = ?", ev.UserID, trigger.Code).
			Count(&count)
		if count > 0 {
			continue
		}
		ua := models.UserAchievement{
			ExternalUserID: ev.UserID,
			Code:           trigger.Code,
			Metadata:       fmt.Sprintf(`{"prize_id":%q,"city":%q}`, ev.PrizeID, ev.City),
		}
		if err := s.DB.WithContext(ctx).Create(&ua).Error; err != nil {
			return awarded, err
		}
		awarded = append(awarded, trigger.Name)
		log.Printf("🏅 Achievement awarded: %s → %s", trigger.Name, ev.UserID)
	}
	return awarded, nil
}

func meetsThreshold(prog *models.AchievementProgress, req map[string]int64) bool {
	for key, required := range req {
		switch key {
		case "total_claims":
			if prog.TotalClaims < required {
				return false
			}
		case "total_points":
			if prog.TotalPoints < required {
				return false
			}
		}
	}
	return true
}

func (s *AchievementService) notify(ctx context.Context, userID string, awarded []string) {
	payload, _ := json.Marshal(map[string]interface{}{
		"user_id":      userID,
		"achievements": awarded,
		"awarded_at":   time.Now().UTC(),
	})
	req, err := http.NewRequestWithContext(ctx, "POST", s.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		log.Printf("⚠️  Achievement webhook request build failed: %v", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := utils.HTTPClient.Do(req)
	if err != nil {
		log.Printf("⚠️  Achievement webhook delivery failed: %v", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		log.Printf("⚠️  Achievement webhook returned status %d", resp.StatusCode)
	}
}
