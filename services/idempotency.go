package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"geohunt-claim-system/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// IdempotencyOutcome is the result of CheckOrReserve.
type IdempotencyOutcome int

const (
	// IdempotencyReserved: this caller won the reservation and must run the
	// claim, then Commit (or Release on infrastructure failure).
	IdempotencyReserved IdempotencyOutcome = iota
	// IdempotencyHit: a committed result exists; replay it verbatim.
	IdempotencyHit
	// IdempotencyBusy: another request holds an in-flight reservation.
	IdempotencyBusy
)

// IdempotencyStore deduplicates retried claim submissions. Reservation must be
// atomic: two concurrent calls with the same key never both get
// IdempotencyReserved while the key is live.
type IdempotencyStore interface {
	CheckOrReserve(ctx context.Context, key string, now time.Time, reserveTTL time.Duration) (IdempotencyOutcome, *ClaimResult, error)
	Commit(ctx context.Context, key string, result *ClaimResult, now time.Time, ttl time.Duration) error
	Release(ctx context.Context, key string) error
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

// IdempotencyService is the postgres-backed store. The set-if-absent primitive
// is INSERT .. ON CONFLICT DO NOTHING on the key column; takeover of expired
// keys is a conditional UPDATE guarded on expires_at.
type IdempotencyService struct {
	DB *gorm.DB
}

func NewIdempotencyService(db *gorm.DB) *IdempotencyService {
	return &IdempotencyService{DB: db}
}

func (s *IdempotencyService) CheckOrReserve(ctx context.Context, key string, now time.Time, reserveTTL time.Duration) (IdempotencyOutcome, *ClaimResult, error) {
	rec := models.IdempotencyRecord{
		Key:       key,
		State:     models.IdempotencyStateInFlight,
		ExpiresAt: now.Add(reserveTTL),
	}
	res := s.DB.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "key"}}, DoNothing: true}).
		Create(&rec)
	if res.Error != nil {
		return 0, nil, fmt.Errorf("idempotency reserve: %w", res.Error)
	}
	if res.RowsAffected == 1 {
		return IdempotencyReserved, nil, nil
	}

	var existing models.IdempotencyRecord
	if err := s.DB.WithContext(ctx).First(&existing, "key = ?", key).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// Row vanished between insert and read (purge race); treat as busy
			// and let the client retry.
			return IdempotencyBusy, nil, nil
		}
		return 0, nil, fmt.Errorf("idempotency read: %w", err)
	}

	if !existing.ExpiresAt.After(now) {
		// Expired key may be reused; take it over with a conditional write so
		// only one of the concurrent takers wins.
		take := s.DB.WithContext(ctx).Model(&models.IdempotencyRecord{}).
			Where("key = ? AND expires_at <= ?", key, now).
			Updates(map[string]interface{}{
				"state":      models.IdempotencyStateInFlight,
				"result":     "",
				"expires_at": now.Add(reserveTTL),
			})
		if take.Error != nil {
			return 0, nil, fmt.Errorf("idempotency takeover: %w", take.Error)
		}
		if take.RowsAffected == 1 {
			return IdempotencyReserved, nil, nil
		}
		return IdempotencyBusy, nil, nil
	}

	if existing.State == models.IdempotencyStateCommitted {
		var stored ClaimResult
		if err := json.Unmarshal([]byte(existing.Result), &stored); err != nil {
			return 0, nil, fmt.Errorf("idempotency result decode for key %s: %w", key, err)
		}
		return IdempotencyHit, &stored, nil
	}

	return IdempotencyBusy, nil, nil
}

func (s *IdempotencyService) Commit(ctx context.Context, key string, result *ClaimResult, now time.Time, ttl time.Duration) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("idempotency result encode: %w", err)
	}
	res := s.DB.WithContext(ctx).Model(&models.IdempotencyRecord{}).
		Where("key = ? AND state = ?", key, models.IdempotencyStateInFlight).
		Updates(map[string]interface{}{
			"state":      models.IdempotencyStateCommitted,
			"result":     string(payload),
			"expires_at": now.Add(ttl),
		})
	if res.Error != nil {
		return fmt.Errorf("idempotency commit: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("idempotency commit: reservation for key %s is gone", key)
	}
	return nil
}

func (s *IdempotencyService) Release(ctx context.Context, key string) error {
	return s.DB.WithContext(ctx).
		Where("key = ? AND state = ?", key, models.IdempotencyStateInFlight).
		Delete(&models.IdempotencyRecord{}).Error
}

// PurgeExpired removes records past their TTL; run by the maintenance scheduler.
func (s *IdempotencyService) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	res := s.DB.WithContext(ctx).
		Where("expires_at <= ?", now).
		Delete(&models.IdempotencyRecord{})
	return res.RowsAffected, res.Error
}
