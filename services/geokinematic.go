package services

import (
	"math"
	"time"

	"geohunt-claim-system/models"
)

const earthRadiusM = 6371000.0

// HaversineDistanceM returns the great-circle distance between two
// coordinates in meters.
func HaversineDistanceM(lat1, lng1, lat2, lng2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lng2 - lng1) * math.Pi / 180

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	return earthRadiusM * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// GeoReport is the validator's full output, kept on the claim row for audit.
type GeoReport struct {
	DistanceM     float64
	SpeedMPS      float64
	DistanceValid bool
	SpeedValid    bool
	TimeValid     bool
}

// Valid reports whether every kinematic gate passed.
func (r GeoReport) Valid() bool {
	return r.DistanceValid && r.SpeedValid && r.TimeValid
}

// RejectReason returns the first failing gate's rejection code, or "".
func (r GeoReport) RejectReason() RejectReason {
	switch {
	case !r.TimeValid:
		return RejectStaleTimestamp
	case !r.DistanceValid:
		return RejectLocationTooFar
	case !r.SpeedValid:
		return RejectSpeedViolation
	}
	return ""
}

// EvaluateGeoKinematics runs the pure anti-cheat geometry checks for one claim.
// prevFix may be nil (first observation for this user): the speed check is
// skipped rather than penalizing a user we have never seen.
func EvaluateGeoKinematics(cfg ClaimConfig, prize *models.Prize, lat, lng, accuracyM float64,
	clientTS time.Time, prevFix *models.LocationFix, now time.Time) GeoReport {

	rep := GeoReport{SpeedValid: true}

	rep.DistanceM = HaversineDistanceM(lat, lng, prize.Lat, prize.Lng)
	effectiveRadius := cfg.ClaimRadiusM + math.Min(math.Max(accuracyM, 0), cfg.AccuracyCapM)
	rep.DistanceValid = rep.DistanceM <= effectiveRadius

	skew := now.Sub(clientTS)
	if skew < 0 {
		skew = -skew
	}
	rep.TimeValid = skew <= cfg.ClockSkewWindow

	if prevFix != nil {
		elapsed := clientTS.Sub(prevFix.ObservedAt).Seconds()
		if elapsed > 0 {
			traveled := HaversineDistanceM(prevFix.Lat, prevFix.Lng, lat, lng)
			rep.SpeedMPS = traveled / elapsed
			rep.SpeedValid = rep.SpeedMPS <= cfg.MaxSpeedMPS
		}
		// elapsed <= 0: clock anomaly already covered by the skew check
	}

	return rep
}
