package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"geohunt-claim-system/models"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type captureSink struct {
	mu     sync.Mutex
	events []ClaimVerifiedEvent
}

func (s *captureSink) Publish(ev ClaimVerifiedEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *captureSink) all() []ClaimVerifiedEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ClaimVerifiedEvent, len(s.events))
	copy(out, s.events)
	return out
}

type claimEnv struct {
	orch     *ClaimOrchestrator
	prizes   *MemoryPrizeStore
	accounts *MemoryAccountStore
	journal  *MemoryJournal
	idem     *MemoryIdempotencyStore
	sink     *captureSink
	metrics  *Metrics
	now      time.Time
}

func newClaimEnv(t *testing.T, cfg ClaimConfig) *claimEnv {
	t.Helper()
	env := &claimEnv{
		prizes:   NewMemoryPrizeStore(),
		accounts: NewMemoryAccountStore(),
		journal:  NewMemoryJournal(),
		idem:     NewMemoryIdempotencyStore(),
		sink:     &captureSink{},
		metrics:  NewMetrics(),
		now:      time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC),
	}
	env.orch = NewClaimOrchestrator(
		env.idem, env.prizes, env.accounts, env.accounts, env.journal,
		NewConfigService(cfg), env.metrics, env.sink,
	)
	env.orch.now = func() time.Time { return env.now }
	return env
}

func (env *claimEnv) seedPrize(points int64) *models.Prize {
	prize := &models.Prize{
		ID:        uuid.NewString(),
		Name:      "Medina Chest",
		Lat:       36.8070,
		Lng:       10.1820,
		Points:    points,
		Category:  models.PrizeCategoryStandard,
		City:      "Tunis",
		CitySlug:  "tunis",
		Status:    models.PrizeStatusActive,
		ExpiresAt: env.now.Add(1 * time.Hour),
	}
	env.prizes.Put(prize)
	return prize
}

func (env *claimEnv) request(userID, prizeID string) ClaimRequest {
	return ClaimRequest{
		UserID:          userID,
		PrizeID:         prizeID,
		Lat:             36.8070,
		Lng:             10.1820,
		AccuracyM:       5,
		DeviceID:        "device-" + userID,
		Platform:        "android",
		ClientTimestamp: env.now,
		IdempotencyKey:  "key-" + userID + "-" + prizeID,
	}
}

func testClaimConfig() ClaimConfig {
	cfg := DefaultClaimConfig()
	cfg.ClaimRadiusM = 50
	cfg.AccuracyCapM = 30
	cfg.CooldownWindow = 5 * time.Second
	cfg.MaxDailyClaims = 5
	return cfg
}

func TestSubmitClaim_Success(t *testing.T) {
	env := newClaimEnv(t, testClaimConfig())
	prize := env.seedPrize(50)

	res, err := env.orch.SubmitClaim(context.Background(), env.request("u1", prize.ID))
	if err != nil {
		t.Fatalf("SubmitClaim: %v", err)
	}
	if !res.Verified() {
		t.Fatalf("expected verified claim, got %s (%s)", res.Status, res.Reason)
	}
	if res.PointsAwarded != 50 {
		t.Fatalf("expected 50 points awarded, got %d", res.PointsAwarded)
	}
	if res.TotalPoints != 50 || res.AvailablePoints != 50 {
		t.Fatalf("expected balance 50/50, got %d/%d", res.TotalPoints, res.AvailablePoints)
	}

	stored, err := env.prizes.GetPrize(context.Background(), prize.ID)
	if err != nil {
		t.Fatalf("GetPrize: %v", err)
	}
	if stored.Status != models.PrizeStatusClaimed {
		t.Fatalf("expected prize claimed, got %s", stored.Status)
	}
	if stored.ClaimedBy == nil || *stored.ClaimedBy != "u1" {
		t.Fatalf("expected claimed_by=u1, got %v", stored.ClaimedBy)
	}

	claims := env.journal.Claims()
	if len(claims) != 1 || claims[0].Status != models.ClaimStatusVerified {
		t.Fatalf("expected one verified claim row, got %+v", claims)
	}
	if !claims[0].Checks.DistanceValid || !claims[0].Checks.CooldownValid || !claims[0].Checks.DailyLimitValid {
		t.Fatalf("expected all checks recorded true, got %+v", claims[0].Checks)
	}

	events := env.sink.all()
	if len(events) != 1 {
		t.Fatalf("expected one ClaimVerified event, got %d", len(events))
	}
	if events[0].PointsAwarded != 50 || events[0].UserID != "u1" {
		t.Fatalf("unexpected event payload: %+v", events[0])
	}
}

func TestSubmitClaim_IdempotentRetry(t *testing.T) {
	env := newClaimEnv(t, testClaimConfig())
	prize := env.seedPrize(50)
	req := env.request("u1", prize.ID)

	first, err := env.orch.SubmitClaim(context.Background(), req)
	if err != nil {
		t.Fatalf("first SubmitClaim: %v", err)
	}
	second, err := env.orch.SubmitClaim(context.Background(), req)
	if err != nil {
		t.Fatalf("second SubmitClaim: %v", err)
	}

	a, _ := json.Marshal(first)
	b, _ := json.Marshal(second)
	if string(a) != string(b) {
		t.Fatalf("retry must replay byte-identical result:\n%s\n%s", a, b)
	}

	acct := env.accounts.Account("u1")
	if acct == nil || acct.Total != 50 {
		t.Fatalf("ledger must be credited exactly once, got %+v", acct)
	}
	if got := testutil.ToFloat64(env.metrics.IdempotencyHits); got != 1 {
		t.Fatalf("expected 1 idempotency hit, got %v", got)
	}
}

func TestSubmitClaim_SecondUserGetsAlreadyClaimed(t *testing.T) {
	env := newClaimEnv(t, testClaimConfig())
	prize := env.seedPrize(50)

	if _, err := env.orch.SubmitClaim(context.Background(), env.request("u1", prize.ID)); err != nil {
		t.Fatalf("winner SubmitClaim: %v", err)
	}

	res, err := env.orch.SubmitClaim(context.Background(), env.request("u2", prize.ID))
	if err != nil {
		t.Fatalf("loser SubmitClaim: %v", err)
	}
	if res.Verified() || res.Reason != RejectAlreadyClaimed {
		t.Fatalf("expected ALREADY_CLAIMED, got %s (%s)", res.Status, res.Reason)
	}
}

func TestSubmitClaim_AtMostOneWinner(t *testing.T) {
	env := newClaimEnv(t, testClaimConfig())
	prize := env.seedPrize(50)

	const n = 32
	results := make([]*ClaimResult, n)
	errs := make([]error, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			user := fmt.Sprintf("user-%02d", i)
			results[i], errs[i] = env.orch.SubmitClaim(context.Background(), env.request(user, prize.ID))
		}(i)
	}
	wg.Wait()

	winners := 0
	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("claimant %d failed: %v", i, errs[i])
		}
		if results[i].Verified() {
			winners++
		} else if results[i].Reason != RejectAlreadyClaimed {
			t.Fatalf("loser %d got %s, expected ALREADY_CLAIMED", i, results[i].Reason)
		}
	}
	if winners != 1 {
		t.Fatalf("expected exactly 1 winner among %d claimants, got %d", n, winners)
	}
}

func TestSubmitClaim_ConcurrentSameKeyCreditsOnce(t *testing.T) {
	env := newClaimEnv(t, testClaimConfig())
	prize := env.seedPrize(50)
	req := env.request("u1", prize.ID)

	const n = 16
	results := make([]*ClaimResult, n)
	errs := make([]error, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = env.orch.SubmitClaim(context.Background(), req)
		}(i)
	}
	wg.Wait()

	var reference *ClaimResult
	for i := 0; i < n; i++ {
		if errs[i] != nil {
			// Busy is the only acceptable error for a concurrent duplicate.
			if !errors.Is(errs[i], ErrClaimInFlight) {
				t.Fatalf("request %d failed: %v", i, errs[i])
			}
			continue
		}
		if reference == nil {
			reference = results[i]
			continue
		}
		a, _ := json.Marshal(reference)
		b, _ := json.Marshal(results[i])
		if string(a) != string(b) {
			t.Fatalf("concurrent duplicates disagreed on the outcome:\n%s\n%s", a, b)
		}
	}
	if reference == nil {
		t.Fatalf("every concurrent duplicate was rejected as busy; one must win the reservation")
	}

	acct := env.accounts.Account("u1")
	if acct == nil || acct.Total != 50 {
		t.Fatalf("ledger must be credited exactly once, got %+v", acct)
	}
}

func TestSubmitClaim_CooldownActive(t *testing.T) {
	env := newClaimEnv(t, testClaimConfig())
	prize := env.seedPrize(50)

	last := env.now.Add(-2 * time.Second)
	env.accounts.Seed(&models.UserPointsAccount{
		ID:             uuid.NewString(),
		ExternalUserID: "u1",
		LastClaimAt:    &last,
	})

	res, err := env.orch.SubmitClaim(context.Background(), env.request("u1", prize.ID))
	if err != nil {
		t.Fatalf("SubmitClaim: %v", err)
	}
	if res.Reason != RejectCooldownActive {
		t.Fatalf("last claim 2s ago with 5s cooldown should reject, got %s (%s)", res.Status, res.Reason)
	}

	// The prize must remain capturable.
	stored, _ := env.prizes.GetPrize(context.Background(), prize.ID)
	if stored.Status != models.PrizeStatusActive {
		t.Fatalf("rejected claim must not consume the prize, got %s", stored.Status)
	}
}

func TestSubmitClaim_DailyLimitExceeded(t *testing.T) {
	cfg := testClaimConfig()
	env := newClaimEnv(t, cfg)
	prize := env.seedPrize(50)

	last := env.now.Add(-time.Hour)
	windowStart := env.now.Add(-3 * time.Hour)
	env.accounts.Seed(&models.UserPointsAccount{
		ID:                    uuid.NewString(),
		ExternalUserID:        "u1",
		LastClaimAt:           &last,
		DailyClaimCount:       cfg.MaxDailyClaims,
		DailyClaimWindowStart: &windowStart,
	})

	res, err := env.orch.SubmitClaim(context.Background(), env.request("u1", prize.ID))
	if err != nil {
		t.Fatalf("SubmitClaim: %v", err)
	}
	if res.Reason != RejectDailyLimitExceeded {
		t.Fatalf("expected DAILY_LIMIT_EXCEEDED, got %s (%s)", res.Status, res.Reason)
	}
	if !res.Checks.CooldownValid || res.Checks.DailyLimitValid {
		t.Fatalf("expected cooldown pass + daily-limit fail recorded, got %+v", res.Checks)
	}

	acct := env.accounts.Account("u1")
	if acct.DailyClaimCount != cfg.MaxDailyClaims {
		t.Fatalf("rejected claim must not increment the counter, got %d", acct.DailyClaimCount)
	}
}

func TestSubmitClaim_RejectionIsCached(t *testing.T) {
	env := newClaimEnv(t, testClaimConfig())
	prize := env.seedPrize(50)

	req := env.request("u1", prize.ID)
	req.Lat = prize.Lat + offsetLat(5000) // far away

	first, err := env.orch.SubmitClaim(context.Background(), req)
	if err != nil {
		t.Fatalf("first SubmitClaim: %v", err)
	}
	if first.Reason != RejectLocationTooFar {
		t.Fatalf("expected LOCATION_TOO_FAR, got %s", first.Reason)
	}

	second, err := env.orch.SubmitClaim(context.Background(), req)
	if err != nil {
		t.Fatalf("second SubmitClaim: %v", err)
	}
	a, _ := json.Marshal(first)
	b, _ := json.Marshal(second)
	if string(a) != string(b) {
		t.Fatalf("cached rejection must replay identically")
	}
	if got := len(env.journal.Claims()); got != 1 {
		t.Fatalf("retry of a cached rejection must not re-run the pipeline, got %d claim rows", got)
	}
}

func TestSubmitClaim_ExpiredPrize(t *testing.T) {
	env := newClaimEnv(t, testClaimConfig())
	prize := env.seedPrize(50)
	prize.ExpiresAt = env.now.Add(-time.Minute)
	env.prizes.Put(prize)

	res, err := env.orch.SubmitClaim(context.Background(), env.request("u1", prize.ID))
	if err != nil {
		t.Fatalf("SubmitClaim: %v", err)
	}
	if res.Reason != RejectExpired {
		t.Fatalf("expected EXPIRED, got %s (%s)", res.Status, res.Reason)
	}
}

func TestSubmitClaim_UnknownPrize(t *testing.T) {
	env := newClaimEnv(t, testClaimConfig())

	res, err := env.orch.SubmitClaim(context.Background(), env.request("u1", uuid.NewString()))
	if err != nil {
		t.Fatalf("SubmitClaim: %v", err)
	}
	if res.Reason != RejectNotFound {
		t.Fatalf("expected NOT_FOUND, got %s (%s)", res.Status, res.Reason)
	}
}

func TestSubmitClaim_LedgerContentionBecomesAnomaly(t *testing.T) {
	env := newClaimEnv(t, testClaimConfig())
	prize := env.seedPrize(50)
	env.accounts.CreditFailures = 1

	res, err := env.orch.SubmitClaim(context.Background(), env.request("u1", prize.ID))
	if err != nil {
		t.Fatalf("SubmitClaim: %v", err)
	}
	if !res.Verified() {
		t.Fatalf("capture must stay the user-visible truth, got %s (%s)", res.Status, res.Reason)
	}
	if !res.ReconciliationPending {
		t.Fatalf("expected reconciliation flag set")
	}

	anomalies := env.journal.Anomalies()
	if len(anomalies) != 1 {
		t.Fatalf("expected one recorded anomaly, got %d", len(anomalies))
	}
	if anomalies[0].Kind != models.AnomalyPointsCreditFailed || anomalies[0].PointsOwed != 50 {
		t.Fatalf("unexpected anomaly: %+v", anomalies[0])
	}
	if got := testutil.ToFloat64(env.metrics.AnomaliesTotal); got != 1 {
		t.Fatalf("expected anomalies counter at 1, got %v", got)
	}
}

func TestSubmitClaim_DerivedKeyDeduplicates(t *testing.T) {
	env := newClaimEnv(t, testClaimConfig())
	prize := env.seedPrize(50)

	req := env.request("u1", prize.ID)
	req.IdempotencyKey = "" // client sent none

	first, err := env.orch.SubmitClaim(context.Background(), req)
	if err != nil {
		t.Fatalf("first SubmitClaim: %v", err)
	}
	second, err := env.orch.SubmitClaim(context.Background(), req)
	if err != nil {
		t.Fatalf("second SubmitClaim: %v", err)
	}
	a, _ := json.Marshal(first)
	b, _ := json.Marshal(second)
	if string(a) != string(b) {
		t.Fatalf("identical payloads without a client key must still dedupe")
	}
	if acct := env.accounts.Account("u1"); acct.Total != 50 {
		t.Fatalf("ledger must be credited exactly once, got %d", acct.Total)
	}
}

func TestLedgerConservation(t *testing.T) {
	cfg := testClaimConfig()
	cfg.CooldownWindow = 0 // let one user rack up several claims
	env := newClaimEnv(t, cfg)

	var expected int64
	for i := 0; i < 4; i++ {
		prize := env.seedPrize(int64(10 * (i + 1)))
		res, err := env.orch.SubmitClaim(context.Background(), env.request("u1", prize.ID))
		if err != nil {
			t.Fatalf("SubmitClaim %d: %v", i, err)
		}
		if !res.Verified() {
			t.Fatalf("claim %d rejected: %s", i, res.Reason)
		}
		expected += int64(10 * (i + 1))
	}

	acct := env.accounts.Account("u1")
	if acct.Total != expected {
		t.Fatalf("expected total %d, got %d", expected, acct.Total)
	}
	if acct.Available != acct.Total-acct.Spent {
		t.Fatalf("invariant available = total - spent violated: %+v", acct)
	}
}
