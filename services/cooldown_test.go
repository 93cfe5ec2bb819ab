package services

import (
	"testing"
	"time"

	"geohunt-claim-system/models"
)

func cooldownTestConfig() ClaimConfig {
	cfg := DefaultClaimConfig()
	cfg.CooldownWindow = 5 * time.Second
	cfg.MaxDailyClaims = 3
	return cfg
}

func TestEvaluateCooldown_Active(t *testing.T) {
	cfg := cooldownTestConfig()
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)

	last := now.Add(-2 * time.Second)
	acct := &models.UserPointsAccount{ExternalUserID: "u1", LastClaimAt: &last}

	if got := evaluateCooldown(acct, now, cfg); got != CooldownActive {
		t.Fatalf("claim 2s after the last with a 5s cooldown should be blocked, got %v", got)
	}
}

func TestEvaluateCooldown_ElapsedWindowAllows(t *testing.T) {
	cfg := cooldownTestConfig()
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)

	last := now.Add(-6 * time.Second)
	acct := &models.UserPointsAccount{ExternalUserID: "u1", LastClaimAt: &last}

	if got := evaluateCooldown(acct, now, cfg); got != CooldownOk {
		t.Fatalf("claim 6s after the last should be allowed, got %v", got)
	}
}

func TestEvaluateCooldown_NewUserAllowed(t *testing.T) {
	cfg := cooldownTestConfig()
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)

	acct := &models.UserPointsAccount{ExternalUserID: "u1"}
	if got := evaluateCooldown(acct, now, cfg); got != CooldownOk {
		t.Fatalf("first-ever claim should be allowed, got %v", got)
	}
}

func TestEvaluateCooldown_DailyLimit(t *testing.T) {
	cfg := cooldownTestConfig()
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)

	last := now.Add(-time.Hour)
	windowStart := now.Add(-2 * time.Hour)
	acct := &models.UserPointsAccount{
		ExternalUserID:        "u1",
		LastClaimAt:           &last,
		DailyClaimCount:       3,
		DailyClaimWindowStart: &windowStart,
	}

	if got := evaluateCooldown(acct, now, cfg); got != DailyLimitExceeded {
		t.Fatalf("claim at the daily max should be blocked, got %v", got)
	}
}

func TestEvaluateCooldown_LazyWindowReset(t *testing.T) {
	cfg := cooldownTestConfig()
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)

	last := now.Add(-time.Hour)
	windowStart := now.Add(-25 * time.Hour)
	acct := &models.UserPointsAccount{
		ExternalUserID:        "u1",
		LastClaimAt:           &last,
		DailyClaimCount:       3,
		DailyClaimWindowStart: &windowStart,
	}

	if got := evaluateCooldown(acct, now, cfg); got != CooldownOk {
		t.Fatalf("a window older than 24h must reset the counter, got %v", got)
	}
}

func TestApplyCooldownReservation_SameWindowIncrements(t *testing.T) {
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)

	windowStart := now.Add(-2 * time.Hour)
	acct := &models.UserPointsAccount{
		ExternalUserID:        "u1",
		DailyClaimCount:       1,
		DailyClaimWindowStart: &windowStart,
	}

	applyCooldownReservation(acct, now)
	if acct.DailyClaimCount != 2 {
		t.Fatalf("expected count 2, got %d", acct.DailyClaimCount)
	}
	if !acct.DailyClaimWindowStart.Equal(windowStart) {
		t.Fatalf("window start must not move inside the same window")
	}
	if acct.LastClaimAt == nil || !acct.LastClaimAt.Equal(now) {
		t.Fatalf("last claim timestamp not updated")
	}
}

func TestApplyCooldownReservation_ExpiredWindowRestarts(t *testing.T) {
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)

	windowStart := now.Add(-30 * time.Hour)
	acct := &models.UserPointsAccount{
		ExternalUserID:        "u1",
		DailyClaimCount:       3,
		DailyClaimWindowStart: &windowStart,
	}

	applyCooldownReservation(acct, now)
	if acct.DailyClaimCount != 1 {
		t.Fatalf("expected count restarted at 1, got %d", acct.DailyClaimCount)
	}
	if !acct.DailyClaimWindowStart.Equal(now) {
		t.Fatalf("window start should restart at now")
	}
}
