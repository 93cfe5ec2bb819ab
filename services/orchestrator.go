package services

import (
	"context"
	"errors"
	"log"
	"time"

	"geohunt-claim-system/models"
	"geohunt-claim-system/utils"

	"github.com/google/uuid"
)

// ClaimEventSink receives ClaimVerified events after a successful capture.
// Publishing must never block the claim path.
type ClaimEventSink interface {
	Publish(ev ClaimVerifiedEvent)
}

// ClaimOrchestrator composes the claim pipeline and is the only entry point
// callers invoke. One SubmitClaim call walks the gates in order — idempotency,
// geo-kinematics, cooldown, prize state machine, ledger — and commits the
// outcome (success or rejection) to the idempotency store so retries replay
// it instead of re-running the work.
type ClaimOrchestrator struct {
	Idempotency IdempotencyStore
	Prizes      PrizeStateMachine
	Cooldown    CooldownTracker
	Ledger      PointsLedger
	Journal     ClaimJournal
	Config      *ConfigService
	Metrics     *Metrics
	Events      ClaimEventSink

	// Overridable clock for tests.
	now func() time.Time
}

func NewClaimOrchestrator(idem IdempotencyStore, prizes PrizeStateMachine, cooldown CooldownTracker,
	ledger PointsLedger, journal ClaimJournal, config *ConfigService, metrics *Metrics, events ClaimEventSink) *ClaimOrchestrator {
	return &ClaimOrchestrator{
		Idempotency: idem,
		Prizes:      prizes,
		Cooldown:    cooldown,
		Ledger:      ledger,
		Journal:     journal,
		Config:      config,
		Metrics:     metrics,
		Events:      events,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// SubmitClaim processes one capture attempt end to end. It returns
// ErrClaimInFlight when a concurrent request holds the same idempotency key;
// any other error is an infrastructure failure the HTTP layer maps to a 5xx.
func (o *ClaimOrchestrator) SubmitClaim(ctx context.Context, req ClaimRequest) (*ClaimResult, error) {
	started := o.now()
	cfg := o.Config.Snapshot()
	key := req.Key()

	// The work must run to completion even if the caller disconnects: a
	// half-applied claim with no committed idempotency result would reprocess
	// on retry. Store calls still carry their own bounded deadlines.
	ctx = context.WithoutCancel(ctx)

	outcome, cached, err := o.checkOrReserve(ctx, key, started, cfg)
	if err != nil {
		return nil, err
	}
	switch outcome {
	case IdempotencyHit:
		o.Metrics.IdempotencyHits.Inc()
		return cached, nil
	case IdempotencyBusy:
		return nil, ErrClaimInFlight
	}

	// Reservation held from here on: every exit must Commit or Release.
	res, err := o.processReserved(ctx, req, started, cfg)
	if err != nil {
		if relErr := o.release(ctx, key, cfg); relErr != nil {
			log.Printf("⚠️  Failed to release idempotency key %s: %v", key, relErr)
		}
		return nil, err
	}

	if err := o.commit(ctx, key, res, cfg); err != nil {
		// The claim itself is applied; losing the cached result only costs a
		// replay opportunity. Surface loudly but keep the result.
		log.Printf("⚠️  Failed to commit idempotency result for key %s: %v", key, err)
	}

	o.Metrics.ClaimsTotal.WithLabelValues(outcomeLabel(res)).Inc()
	o.Metrics.ClaimDuration.Observe(o.now().Sub(started).Seconds())
	return res, nil
}

// processReserved runs the gates after the idempotency reservation is held.
// It only returns an error for infrastructure failures; every domain outcome
// becomes a ClaimResult.
func (o *ClaimOrchestrator) processReserved(ctx context.Context, req ClaimRequest, now time.Time, cfg ClaimConfig) (*ClaimResult, error) {
	claimID := uuid.NewString()

	prize, err := o.getPrize(ctx, req.PrizeID, cfg)
	if errors.Is(err, ErrPrizeNotFound) {
		return o.finalizeRejection(ctx, req, claimID, RejectNotFound, GeoReport{}, models.ValidationChecks{}, now)
	}
	if err != nil {
		return nil, err
	}

	prevFix, err := o.lastFix(ctx, req.UserID, cfg)
	if err != nil {
		return nil, err
	}

	geo := EvaluateGeoKinematics(cfg, prize, req.Lat, req.Lng, req.AccuracyM, req.ClientTimestamp, prevFix, now)
	checks := models.ValidationChecks{
		DistanceValid: geo.DistanceValid,
		SpeedValid:    geo.SpeedValid,
		TimeValid:     geo.TimeValid,
	}
	if !geo.Valid() {
		return o.finalizeRejection(ctx, req, claimID, geo.RejectReason(), geo, checks, now)
	}

	cdOutcome, err := o.checkCooldown(ctx, req.UserID, now, cfg)
	if err != nil {
		return nil, err
	}
	switch cdOutcome {
	case CooldownActive:
		return o.finalizeRejection(ctx, req, claimID, RejectCooldownActive, geo, checks, now)
	case DailyLimitExceeded:
		checks.CooldownValid = true
		return o.finalizeRejection(ctx, req, claimID, RejectDailyLimitExceeded, geo, checks, now)
	}
	checks.CooldownValid = true
	checks.DailyLimitValid = true

	transition, prize, err := o.tryClaim(ctx, req.PrizeID, req.UserID, now, cfg)
	if err != nil {
		return nil, err
	}
	switch transition {
	case PrizeAlreadyClaimed:
		return o.finalizeRejection(ctx, req, claimID, RejectAlreadyClaimed, geo, checks, now)
	case PrizeExpired:
		return o.finalizeRejection(ctx, req, claimID, RejectExpired, geo, checks, now)
	case PrizeDisabled:
		return o.finalizeRejection(ctx, req, claimID, RejectPrizeDisabled, geo, checks, now)
	case PrizeNotFound:
		return o.finalizeRejection(ctx, req, claimID, RejectNotFound, geo, checks, now)
	}

	// Prize is ours. From here the capture is the user-visible truth: a ledger
	// failure degrades to a reconciliation anomaly, never a rollback.
	res := &ClaimResult{
		ClaimID:       claimID,
		PrizeID:       prize.ID,
		Status:        models.ClaimStatusVerified,
		PointsAwarded: prize.Points,
		DistanceM:     geo.DistanceM,
		SpeedMPS:      geo.SpeedMPS,
		Checks:        checks,
		CompletedAt:   now,
	}

	acct, err := o.credit(ctx, req.UserID, prize.Points, claimID, cfg)
	if err != nil {
		o.recordAnomaly(ctx, req, prize, claimID, err)
		res.ReconciliationPending = true
	} else {
		res.TotalPoints = acct.Total
		res.AvailablePoints = acct.Available
	}

	claim := o.buildClaim(req, claimID, now)
	claim.Status = models.ClaimStatusVerified
	claim.ComputedDistanceM = geo.DistanceM
	claim.ComputedSpeedMPS = geo.SpeedMPS
	claim.Checks = checks
	claim.PointsAwarded = prize.Points
	if err := o.saveClaim(ctx, claim, cfg); err != nil {
		log.Printf("⚠️  Failed to persist verified claim %s: %v", claimID, err)
	}

	if err := o.saveFix(ctx, req, now, cfg); err != nil {
		log.Printf("⚠️  Failed to update location fix for user %s: %v", req.UserID, err)
	}

	o.emitVerified(req, prize, claimID, now)
	return res, nil
}

func (o *ClaimOrchestrator) finalizeRejection(ctx context.Context, req ClaimRequest, claimID string,
	reason RejectReason, geo GeoReport, checks models.ValidationChecks, now time.Time) (*ClaimResult, error) {

	res := &ClaimResult{
		ClaimID:     claimID,
		PrizeID:     req.PrizeID,
		Status:      models.ClaimStatusRejected,
		Reason:      reason,
		DistanceM:   geo.DistanceM,
		SpeedMPS:    geo.SpeedMPS,
		Checks:      checks,
		CompletedAt: now,
	}

	cfg := o.Config.Snapshot()
	claim := o.buildClaim(req, claimID, now)
	claim.Status = models.ClaimStatusRejected
	claim.RejectReason = string(reason)
	claim.ComputedDistanceM = geo.DistanceM
	claim.ComputedSpeedMPS = geo.SpeedMPS
	claim.Checks = checks
	if err := o.saveClaim(ctx, claim, cfg); err != nil {
		log.Printf("⚠️  Failed to persist rejected claim %s: %v", claimID, err)
	}

	return res, nil
}

func (o *ClaimOrchestrator) buildClaim(req ClaimRequest, claimID string, now time.Time) *models.Claim {
	return &models.Claim{
		ID:              claimID,
		ExternalUserID:  req.UserID,
		PrizeID:         req.PrizeID,
		IdempotencyKey:  req.Key(),
		Lat:             req.Lat,
		Lng:             req.Lng,
		AccuracyM:       req.AccuracyM,
		DeviceID:        req.DeviceID,
		Platform:        req.Platform,
		ClientTimestamp: req.ClientTimestamp,
		CreatedAt:       now,
	}
}

func (o *ClaimOrchestrator) recordAnomaly(ctx context.Context, req ClaimRequest, prize *models.Prize, claimID string, cause error) {
	o.Metrics.AnomaliesTotal.Inc()
	log.Printf("🚨 RECONCILIATION REQUIRED: prize %s claimed by %s but credit failed (claim %s): %v",
		prize.ID, req.UserID, claimID, cause)

	cfg := o.Config.Snapshot()
	callCtx, cancel := context.WithTimeout(ctx, cfg.StoreTimeout)
	defer cancel()
	anomaly := &models.ReconciliationAnomaly{
		ID:             uuid.NewString(),
		Kind:           models.AnomalyPointsCreditFailed,
		ClaimID:        claimID,
		PrizeID:        prize.ID,
		ExternalUserID: req.UserID,
		PointsOwed:     prize.Points,
		Details:        cause.Error(),
		CreatedAt:      o.now(),
	}
	if err := o.Journal.SaveAnomaly(callCtx, anomaly); err != nil {
		// Worst case: the log line above is the only trace. Keep it loud.
		log.Printf("🚨 Failed to persist reconciliation anomaly for claim %s: %v", claimID, err)
	}
}

func (o *ClaimOrchestrator) emitVerified(req ClaimRequest, prize *models.Prize, claimID string, now time.Time) {
	if o.Events == nil {
		return
	}
	eventID, err := utils.NewULID(now)
	if err != nil {
		eventID = uuid.NewString()
	}
	o.Events.Publish(ClaimVerifiedEvent{
		EventID:       eventID,
		UserID:        req.UserID,
		PrizeID:       prize.ID,
		ClaimID:       claimID,
		PointsAwarded: prize.Points,
		City:          prize.City,
		OccurredAt:    now,
	})
}

// --- store calls, each under its own bounded deadline ---

func (o *ClaimOrchestrator) checkOrReserve(ctx context.Context, key string, now time.Time, cfg ClaimConfig) (IdempotencyOutcome, *ClaimResult, error) {
	callCtx, cancel := context.WithTimeout(ctx, cfg.StoreTimeout)
	defer cancel()
	return o.Idempotency.CheckOrReserve(callCtx, key, now, cfg.ReservationTTL)
}

func (o *ClaimOrchestrator) commit(ctx context.Context, key string, res *ClaimResult, cfg ClaimConfig) error {
	callCtx, cancel := context.WithTimeout(ctx, cfg.StoreTimeout)
	defer cancel()
	return o.Idempotency.Commit(callCtx, key, res, o.now(), cfg.IdempotencyTTL)
}

func (o *ClaimOrchestrator) release(ctx context.Context, key string, cfg ClaimConfig) error {
	callCtx, cancel := context.WithTimeout(ctx, cfg.StoreTimeout)
	defer cancel()
	return o.Idempotency.Release(callCtx, key)
}

func (o *ClaimOrchestrator) getPrize(ctx context.Context, prizeID string, cfg ClaimConfig) (*models.Prize, error) {
	callCtx, cancel := context.WithTimeout(ctx, cfg.StoreTimeout)
	defer cancel()
	return o.Prizes.GetPrize(callCtx, prizeID)
}

func (o *ClaimOrchestrator) lastFix(ctx context.Context, userID string, cfg ClaimConfig) (*models.LocationFix, error) {
	callCtx, cancel := context.WithTimeout(ctx, cfg.StoreTimeout)
	defer cancel()
	return o.Journal.LastFix(callCtx, userID)
}

func (o *ClaimOrchestrator) checkCooldown(ctx context.Context, userID string, now time.Time, cfg ClaimConfig) (CooldownOutcome, error) {
	callCtx, cancel := context.WithTimeout(ctx, cfg.StoreTimeout)
	defer cancel()
	return o.Cooldown.CheckAndReserve(callCtx, userID, now, cfg)
}

func (o *ClaimOrchestrator) tryClaim(ctx context.Context, prizeID, userID string, now time.Time, cfg ClaimConfig) (PrizeTransition, *models.Prize, error) {
	callCtx, cancel := context.WithTimeout(ctx, cfg.StoreTimeout)
	defer cancel()
	return o.Prizes.TryClaim(callCtx, prizeID, userID, now)
}

func (o *ClaimOrchestrator) credit(ctx context.Context, userID string, amount int64, claimID string, cfg ClaimConfig) (*models.UserPointsAccount, error) {
	callCtx, cancel := context.WithTimeout(ctx, cfg.StoreTimeout)
	defer cancel()
	return o.Ledger.Credit(callCtx, userID, amount, claimID, cfg)
}

func (o *ClaimOrchestrator) saveClaim(ctx context.Context, claim *models.Claim, cfg ClaimConfig) error {
	callCtx, cancel := context.WithTimeout(ctx, cfg.StoreTimeout)
	defer cancel()
	return o.Journal.SaveClaim(callCtx, claim)
}

func (o *ClaimOrchestrator) saveFix(ctx context.Context, req ClaimRequest, now time.Time, cfg ClaimConfig) error {
	callCtx, cancel := context.WithTimeout(ctx, cfg.StoreTimeout)
	defer cancel()
	return o.Journal.SaveFix(callCtx, &models.LocationFix{
		ExternalUserID: req.UserID,
		Lat:            req.Lat,
		Lng:            req.Lng,
		AccuracyM:      req.AccuracyM,
		ObservedAt:     req.ClientTimestamp,
		UpdatedAt:      now,
	})
}
