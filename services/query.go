package services

import (
	"context"
	"fmt"
	"math"
	"time"

	"geohunt-claim-system/models"

	"gorm.io/gorm"
)

// QueryService serves the read-only surfaces: claim history, points snapshot,
// achievements, and prize lookups. All writes stay with the owning components.
type QueryService struct {
	DB *gorm.DB
}

func NewQueryService(db *gorm.DB) *QueryService {
	return &QueryService{DB: db}
}

// GetClaimHistory returns paginated claims for a user, newest first.
func (s *QueryService) GetClaimHistory(ctx context.Context, userID string, page, size int) (map[string]interface{}, error) {
	if page < 1 {
		page = 1
	}
	if size < 1 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	var total int64
	if err := s.DB.WithContext(ctx).Model(&models.Claim{}).
		Where("external_user_id = ?", userID).
		Count(&total).Error; err != nil {
		return nil, fmt.Errorf("claim count: %w", err)
	}

	var claims []models.Claim
	if err := s.DB.WithContext(ctx).
		Where("external_user_id = ?", userID).
		Order("created_at DESC").
		Limit(size).Offset(offset).
		Find(&claims).Error; err != nil {
		return nil, fmt.Errorf("claim history: %w", err)
	}

	totalPages := int((total + int64(size) - 1) / int64(size))
	return map[string]interface{}{
		"claims":      claims,
		"page":        page,
		"size":        size,
		"total_items": total,
		"total_pages": totalPages,
	}, nil
}

// GetUserAchievements returns achievements earned by the user.
func (s *QueryService) GetUserAchievements(ctx context.Context, userID string) ([]models.UserAchievement, error) {
	var achievements []models.UserAchievement
	err := s.DB.WithContext(ctx).
		Where("external_user_id = ?", userID).
		Order("awarded_at DESC").
		Find(&achievements).Error
	return achievements, err
}

// GetNearbyPrizes returns active, unexpired prizes within radiusM of a point.
// The bounding-box prefilter uses the coords index; the exact haversine cut
// happens in application code.
func (s *QueryService) GetNearbyPrizes(ctx context.Context, lat, lng, radiusM float64, now time.Time) ([]models.Prize, error) {
	if radiusM <= 0 || radiusM > 50000 {
		radiusM = 5000
	}
	dLat := radiusM / 111320.0
	cosLat := math.Cos(lat * math.Pi / 180)
	if cosLat < 0.01 {
		cosLat = 0.01
	}
	dLng := radiusM / (111320.0 * cosLat)

	var candidates []models.Prize
	err := s.DB.WithContext(ctx).
		Where("status = ? AND expires_at > ?", models.PrizeStatusActive, now).
		Where("lat BETWEEN ? AND ?", lat-dLat, lat+dLat).
		Where("lng BETWEEN ? AND ?", lng-dLng, lng+dLng).
		Limit(200).
		Find(&candidates).Error
	if err != nil {
		return nil, fmt.Errorf("nearby prizes: %w", err)
	}

	prizes := make([]models.Prize, 0, len(candidates))
	for _, p := range candidates {
		if HaversineDistanceM(lat, lng, p.Lat, p.Lng) <= radiusM {
			prizes = append(prizes, p)
		}
	}
	return prizes, nil
}

// GetPrizesByCity returns active prizes for a city slug.
func (s *QueryService) GetPrizesByCity(ctx context.Context, citySlug string, now time.Time) ([]models.Prize, error) {
	var prizes []models.Prize
	err := s.DB.WithContext(ctx).
		Where("city_slug = ? AND status = ? AND expires_at > ?", citySlug, models.PrizeStatusActive, now).
		Order("points DESC").
		Limit(200).
		Find(&prizes).Error
	return prizes, err
}

// GetUnresolvedAnomalies returns anomalies awaiting backoffice repair.
func (s *QueryService) GetUnresolvedAnomalies(ctx context.Context) ([]models.ReconciliationAnomaly, error) {
	var anomalies []models.ReconciliationAnomaly
	err := s.DB.WithContext(ctx).
		Where("resolved = ?", false).
		Order("created_at ASC").
		Find(&anomalies).Error
	return anomalies, err
}
