package services

import (
	"testing"
	"time"

	"geohunt-claim-system/models"
)

func geoTestConfig() ClaimConfig {
	cfg := DefaultClaimConfig()
	cfg.ClaimRadiusM = 50
	cfg.AccuracyCapM = 30
	cfg.MaxSpeedMPS = 42
	cfg.ClockSkewWindow = 2 * time.Minute
	return cfg
}

// tunisPrize sits at the reference coordinate used across these tests.
func tunisPrize() *models.Prize {
	return &models.Prize{
		ID:     "prize-1",
		Lat:    36.8070,
		Lng:    10.1820,
		Points: 50,
		Status: models.PrizeStatusActive,
	}
}

// offsetLat returns a latitude delta that corresponds to meters north.
func offsetLat(meters float64) float64 {
	return meters / 111320.0
}

func TestHaversineDistance_KnownPair(t *testing.T) {
	// Tunis center to Carthage, roughly 12.5 km.
	d := HaversineDistanceM(36.8070, 10.1820, 36.8528, 10.3233)
	if d < 12000 || d > 14000 {
		t.Fatalf("expected ~12.5km, got %.0fm", d)
	}
}

func TestHaversineDistance_SamePoint(t *testing.T) {
	if d := HaversineDistanceM(36.8070, 10.1820, 36.8070, 10.1820); d != 0 {
		t.Fatalf("expected 0, got %v", d)
	}
}

func TestGeofence_InsideEffectiveRadius(t *testing.T) {
	cfg := geoTestConfig()
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	prize := tunisPrize()

	// accuracy 5m → effective radius 55m; stand 54m away.
	rep := EvaluateGeoKinematics(cfg, prize, prize.Lat+offsetLat(54), prize.Lng, 5, now, nil, now)
	if !rep.DistanceValid {
		t.Fatalf("claim at 54m with 55m effective radius should pass, got distance %.1fm", rep.DistanceM)
	}
	if !rep.Valid() {
		t.Fatalf("expected fully valid report, got %+v", rep)
	}
}

func TestGeofence_JustOutsideEffectiveRadius(t *testing.T) {
	cfg := geoTestConfig()
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	prize := tunisPrize()

	rep := EvaluateGeoKinematics(cfg, prize, prize.Lat+offsetLat(57), prize.Lng, 5, now, nil, now)
	if rep.DistanceValid {
		t.Fatalf("claim at 57m with 55m effective radius should fail, got distance %.1fm", rep.DistanceM)
	}
	if rep.RejectReason() != RejectLocationTooFar {
		t.Fatalf("expected LOCATION_TOO_FAR, got %s", rep.RejectReason())
	}
}

func TestGeofence_AccuracyIsCapped(t *testing.T) {
	cfg := geoTestConfig()
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	prize := tunisPrize()

	// Reported accuracy 500m would make anything pass; the cap holds the
	// effective radius at 50+30=80m.
	rep := EvaluateGeoKinematics(cfg, prize, prize.Lat+offsetLat(100), prize.Lng, 500, now, nil, now)
	if rep.DistanceValid {
		t.Fatalf("claim at 100m should fail with capped 80m radius, got distance %.1fm", rep.DistanceM)
	}
}

func TestSpeed_JustUnderThreshold(t *testing.T) {
	cfg := geoTestConfig()
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	prize := tunisPrize()

	// 1000m north of the prize 25s ago, claiming at the prize → 40 m/s.
	prev := &models.LocationFix{
		ExternalUserID: "u1",
		Lat:            prize.Lat + offsetLat(1000),
		Lng:            prize.Lng,
		ObservedAt:     now.Add(-25 * time.Second),
	}
	rep := EvaluateGeoKinematics(cfg, prize, prize.Lat, prize.Lng, 5, now, prev, now)
	if !rep.SpeedValid {
		t.Fatalf("40 m/s under a 42 m/s limit should pass, got %.1f m/s", rep.SpeedMPS)
	}
}

func TestSpeed_JustOverThreshold(t *testing.T) {
	cfg := geoTestConfig()
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	prize := tunisPrize()

	// 1000m in 23s → ~43.5 m/s.
	prev := &models.LocationFix{
		ExternalUserID: "u1",
		Lat:            prize.Lat + offsetLat(1000),
		Lng:            prize.Lng,
		ObservedAt:     now.Add(-23 * time.Second),
	}
	rep := EvaluateGeoKinematics(cfg, prize, prize.Lat, prize.Lng, 5, now, prev, now)
	if rep.SpeedValid {
		t.Fatalf("~43.5 m/s over a 42 m/s limit should fail, got %.1f m/s", rep.SpeedMPS)
	}
	if rep.RejectReason() != RejectSpeedViolation {
		t.Fatalf("expected SPEED_VIOLATION, got %s", rep.RejectReason())
	}
}

func TestSpeed_FirstObservationSkipped(t *testing.T) {
	cfg := geoTestConfig()
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	prize := tunisPrize()

	rep := EvaluateGeoKinematics(cfg, prize, prize.Lat, prize.Lng, 5, now, nil, now)
	if !rep.SpeedValid {
		t.Fatalf("speed check must be skipped with no previous fix")
	}
	if rep.SpeedMPS != 0 {
		t.Fatalf("expected zero speed, got %v", rep.SpeedMPS)
	}
}

func TestSpeed_NonPositiveElapsedSkipped(t *testing.T) {
	cfg := geoTestConfig()
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	prize := tunisPrize()

	prev := &models.LocationFix{
		ExternalUserID: "u1",
		Lat:            prize.Lat + offsetLat(5000),
		Lng:            prize.Lng,
		ObservedAt:     now, // same instant
	}
	rep := EvaluateGeoKinematics(cfg, prize, prize.Lat, prize.Lng, 5, now, prev, now)
	if !rep.SpeedValid {
		t.Fatalf("zero elapsed time must not produce a speed violation")
	}
}

func TestTimeValid_WithinSkewWindow(t *testing.T) {
	cfg := geoTestConfig()
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	prize := tunisPrize()

	rep := EvaluateGeoKinematics(cfg, prize, prize.Lat, prize.Lng, 5, now.Add(-90*time.Second), nil, now)
	if !rep.TimeValid {
		t.Fatalf("90s drift inside a 2m window should pass")
	}
}

func TestTimeValid_StaleAndFutureTimestamps(t *testing.T) {
	cfg := geoTestConfig()
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	prize := tunisPrize()

	stale := EvaluateGeoKinematics(cfg, prize, prize.Lat, prize.Lng, 5, now.Add(-5*time.Minute), nil, now)
	if stale.TimeValid {
		t.Fatalf("5m-old device timestamp should fail")
	}
	if stale.RejectReason() != RejectStaleTimestamp {
		t.Fatalf("expected STALE_TIMESTAMP, got %s", stale.RejectReason())
	}

	future := EvaluateGeoKinematics(cfg, prize, prize.Lat, prize.Lng, 5, now.Add(5*time.Minute), nil, now)
	if future.TimeValid {
		t.Fatalf("device timestamp 5m in the future should fail")
	}
}
