package services

import (
	"log"
	"os"
	"strconv"
	"sync/atomic"
	"time"
)

// ClaimConfig holds every tunable the claim pipeline reads. Thresholds are
// supplied by ops through the environment, never hard-coded in the pipeline.
type ClaimConfig struct {
	// Geofence
	ClaimRadiusM float64 // base capture radius around a prize
	AccuracyCapM float64 // cap on how much reported GPS accuracy can widen the radius

	// Kinematics
	MaxSpeedMPS     float64       // max plausible speed between two fixes
	ClockSkewWindow time.Duration // allowed drift between device and server clocks

	// Rate limiting
	CooldownWindow time.Duration // min spacing between claims per user
	MaxDailyClaims int           // claims allowed per rolling 24h window

	// Idempotency
	IdempotencyTTL time.Duration // how long committed results are replayed
	ReservationTTL time.Duration // how long an in-flight marker blocks duplicates

	// Contention handling
	LedgerMaxRetries int           // CAS retries before surfacing contention
	StoreTimeout     time.Duration // per-datastore-call deadline
}

// DefaultClaimConfig returns production defaults; env overrides win.
func DefaultClaimConfig() ClaimConfig {
	return ClaimConfig{
		ClaimRadiusM:     50,
		AccuracyCapM:     30,
		MaxSpeedMPS:      42, // ~150 km/h, fast car on a highway
		ClockSkewWindow:  2 * time.Minute,
		CooldownWindow:   30 * time.Second,
		MaxDailyClaims:   20,
		IdempotencyTTL:   24 * time.Hour,
		ReservationTTL:   30 * time.Second,
		LedgerMaxRetries: 5,
		StoreTimeout:     5 * time.Second,
	}
}

// LoadClaimConfigFromEnv reads HUNT_* variables over the defaults.
func LoadClaimConfigFromEnv() ClaimConfig {
	cfg := DefaultClaimConfig()
	cfg.ClaimRadiusM = envFloat("HUNT_CLAIM_RADIUS_M", cfg.ClaimRadiusM)
	cfg.AccuracyCapM = envFloat("HUNT_ACCURACY_CAP_M", cfg.AccuracyCapM)
	cfg.MaxSpeedMPS = envFloat("HUNT_MAX_SPEED_MPS", cfg.MaxSpeedMPS)
	cfg.ClockSkewWindow = envDuration("HUNT_CLOCK_SKEW_WINDOW", cfg.ClockSkewWindow)
	cfg.CooldownWindow = envDuration("HUNT_COOLDOWN_WINDOW", cfg.CooldownWindow)
	cfg.MaxDailyClaims = envInt("HUNT_MAX_DAILY_CLAIMS", cfg.MaxDailyClaims)
	cfg.IdempotencyTTL = envDuration("HUNT_IDEMPOTENCY_TTL", cfg.IdempotencyTTL)
	cfg.ReservationTTL = envDuration("HUNT_RESERVATION_TTL", cfg.ReservationTTL)
	cfg.LedgerMaxRetries = envInt("HUNT_LEDGER_MAX_RETRIES", cfg.LedgerMaxRetries)
	cfg.StoreTimeout = envDuration("HUNT_STORE_TIMEOUT", cfg.StoreTimeout)
	return cfg
}

// ConfigService hands out immutable per-request snapshots of ClaimConfig and
// supports hot reload without restarting in-flight requests.
type ConfigService struct {
	current atomic.Pointer[ClaimConfig]
}

func NewConfigService(cfg ClaimConfig) *ConfigService {
	s := &ConfigService{}
	s.current.Store(&cfg)
	return s
}

// Snapshot returns the config a single request should run against. A reload
// mid-request never changes thresholds under a running claim.
func (s *ConfigService) Snapshot() ClaimConfig {
	return *s.current.Load()
}

// Reload swaps in a new config for subsequent requests.
func (s *ConfigService) Reload(cfg ClaimConfig) {
	s.current.Store(&cfg)
	log.Printf("⚙️  Claim config reloaded: radius=%.0fm cooldown=%s dailyMax=%d",
		cfg.ClaimRadiusM, cfg.CooldownWindow, cfg.MaxDailyClaims)
}

func envFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Printf("⚠️  Invalid %s=%q, using default %v", key, v, def)
		return def
	}
	return f
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("⚠️  Invalid %s=%q, using default %v", key, v, def)
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("⚠️  Invalid %s=%q, using default %v", key, v, def)
		return def
	}
	return d
}
