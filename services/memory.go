package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"geohunt-claim-system/models"

	"github.com/google/uuid"
)

// In-memory implementations of the claim-pipeline stores, mutex-guarded maps
// with the same semantics as the postgres services. They back the local
// no-database mode and the concurrency tests; production runs on postgres.

// MemoryIdempotencyStore implements IdempotencyStore.
type MemoryIdempotencyStore struct {
	mu      sync.Mutex
	records map[string]*models.IdempotencyRecord
}

func NewMemoryIdempotencyStore() *MemoryIdempotencyStore {
	return &MemoryIdempotencyStore{records: make(map[string]*models.IdempotencyRecord)}
}

func (s *MemoryIdempotencyStore) CheckOrReserve(ctx context.Context, key string, now time.Time, reserveTTL time.Duration) (IdempotencyOutcome, *ClaimResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	if !ok || !rec.ExpiresAt.After(now) {
		s.records[key] = &models.IdempotencyRecord{
			Key:       key,
			State:     models.IdempotencyStateInFlight,
			ExpiresAt: now.Add(reserveTTL),
			CreatedAt: now,
		}
		return IdempotencyReserved, nil, nil
	}
	if rec.State == models.IdempotencyStateCommitted {
		var stored ClaimResult
		if err := json.Unmarshal([]byte(rec.Result), &stored); err != nil {
			return 0, nil, fmt.Errorf("idempotency result decode for key %s: %w", key, err)
		}
		return IdempotencyHit, &stored, nil
	}
	return IdempotencyBusy, nil, nil
}

func (s *MemoryIdempotencyStore) Commit(ctx context.Context, key string, result *ClaimResult, now time.Time, ttl time.Duration) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("idempotency result encode: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[key]
	if !ok || rec.State != models.IdempotencyStateInFlight {
		return fmt.Errorf("idempotency commit: reservation for key %s is gone", key)
	}
	rec.State = models.IdempotencyStateCommitted
	rec.Result = string(payload)
	rec.ExpiresAt = now.Add(ttl)
	return nil
}

func (s *MemoryIdempotencyStore) Release(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.records[key]; ok && rec.State == models.IdempotencyStateInFlight {
		delete(s.records, key)
	}
	return nil
}

func (s *MemoryIdempotencyStore) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for key, rec := range s.records {
		if !rec.ExpiresAt.After(now) {
			delete(s.records, key)
			n++
		}
	}
	return n, nil
}

// MemoryPrizeStore implements PrizeStateMachine.
type MemoryPrizeStore struct {
	mu     sync.Mutex
	prizes map[string]*models.Prize
}

func NewMemoryPrizeStore() *MemoryPrizeStore {
	return &MemoryPrizeStore{prizes: make(map[string]*models.Prize)}
}

// Put seeds a prize (distribution boundary in memory mode).
func (s *MemoryPrizeStore) Put(prize *models.Prize) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *prize
	s.prizes[prize.ID] = &cp
}

func (s *MemoryPrizeStore) GetPrize(ctx context.Context, prizeID string) (*models.Prize, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prize, ok := s.prizes[prizeID]
	if !ok {
		return nil, ErrPrizeNotFound
	}
	cp := *prize
	return &cp, nil
}

func (s *MemoryPrizeStore) TryClaim(ctx context.Context, prizeID, userID string, now time.Time) (PrizeTransition, *models.Prize, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prize, ok := s.prizes[prizeID]
	if !ok {
		return PrizeNotFound, nil, nil
	}

	if prize.Status == models.PrizeStatusActive && prize.ExpiresAt.After(now) {
		prize.Status = models.PrizeStatusClaimed
		uid := userID
		ts := now
		prize.ClaimedBy = &uid
		prize.ClaimedAt = &ts
		prize.Version++
		cp := *prize
		return PrizeClaimedByUs, &cp, nil
	}

	switch prize.Status {
	case models.PrizeStatusClaimed:
		cp := *prize
		return PrizeAlreadyClaimed, &cp, nil
	case models.PrizeStatusDisabled:
		cp := *prize
		return PrizeDisabled, &cp, nil
	default:
		if prize.Status == models.PrizeStatusActive {
			prize.Status = models.PrizeStatusExpired
			prize.Version++
		}
		cp := *prize
		return PrizeExpired, &cp, nil
	}
}

// MemoryAccountStore implements both CooldownTracker and PointsLedger over the
// same account map, mirroring the shared postgres row.
type MemoryAccountStore struct {
	mu       sync.Mutex
	accounts map[string]*models.UserPointsAccount

	// CreditFailures makes the next N credits fail, for anomaly-path tests.
	CreditFailures int
}

func NewMemoryAccountStore() *MemoryAccountStore {
	return &MemoryAccountStore{accounts: make(map[string]*models.UserPointsAccount)}
}

func (s *MemoryAccountStore) ensure(userID string) *models.UserPointsAccount {
	acct, ok := s.accounts[userID]
	if !ok {
		acct = &models.UserPointsAccount{
			ID:             uuid.NewString(),
			ExternalUserID: userID,
		}
		s.accounts[userID] = acct
	}
	return acct
}

func (s *MemoryAccountStore) CheckAndReserve(ctx context.Context, userID string, now time.Time, cfg ClaimConfig) (CooldownOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct := s.ensure(userID)
	if outcome := evaluateCooldown(acct, now, cfg); outcome != CooldownOk {
		return outcome, nil
	}
	applyCooldownReservation(acct, now)
	acct.Version++
	return CooldownOk, nil
}

func (s *MemoryAccountStore) Credit(ctx context.Context, userID string, amount int64, claimID string, cfg ClaimConfig) (*models.UserPointsAccount, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("ledger credit for claim %s: non-positive amount %d", claimID, amount)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.CreditFailures > 0 {
		s.CreditFailures--
		return nil, ErrLedgerContention
	}

	acct := s.ensure(userID)
	acct.Total += amount
	acct.Available += amount
	acct.Version++
	cp := *acct
	return &cp, nil
}

// Account returns a snapshot, or nil when the user has no row.
func (s *MemoryAccountStore) Account(userID string) *models.UserPointsAccount {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.accounts[userID]
	if !ok {
		return nil
	}
	cp := *acct
	return &cp
}

// Seed installs an account snapshot (test and memory-mode setup).
func (s *MemoryAccountStore) Seed(acct *models.UserPointsAccount) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *acct
	s.accounts[acct.ExternalUserID] = &cp
}

// MemoryJournal implements ClaimJournal.
type MemoryJournal struct {
	mu        sync.Mutex
	claims    []*models.Claim
	fixes     map[string]*models.LocationFix
	anomalies []*models.ReconciliationAnomaly
}

func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{fixes: make(map[string]*models.LocationFix)}
}

func (j *MemoryJournal) SaveClaim(ctx context.Context, claim *models.Claim) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	cp := *claim
	j.claims = append(j.claims, &cp)
	return nil
}

func (j *MemoryJournal) LastFix(ctx context.Context, userID string) (*models.LocationFix, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	fix, ok := j.fixes[userID]
	if !ok {
		return nil, nil
	}
	cp := *fix
	return &cp, nil
}

func (j *MemoryJournal) SaveFix(ctx context.Context, fix *models.LocationFix) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	cp := *fix
	j.fixes[fix.ExternalUserID] = &cp
	return nil
}

func (j *MemoryJournal) SaveAnomaly(ctx context.Context, anomaly *models.ReconciliationAnomaly) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	cp := *anomaly
	j.anomalies = append(j.anomalies, &cp)
	return nil
}

// Claims returns a copy of all recorded claim rows.
func (j *MemoryJournal) Claims() []*models.Claim {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]*models.Claim, len(j.claims))
	copy(out, j.claims)
	return out
}

// Anomalies returns a copy of all recorded anomalies.
func (j *MemoryJournal) Anomalies() []*models.ReconciliationAnomaly {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]*models.ReconciliationAnomaly, len(j.anomalies))
	copy(out, j.anomalies)
	return out
}
