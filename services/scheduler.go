// services/scheduler.go
package services

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"geohunt-claim-system/utils"

	"github.com/go-co-op/gocron/v2"
)

// MaintenanceService runs the periodic housekeeping around the claim core:
// expiry sweeps, idempotency purges, and the reconciliation report export.
type MaintenanceService struct {
	Prizes      *PrizeStateService
	Idempotency *IdempotencyService
	Query       *QueryService

	// ReportsEnabled is set when R2 is configured at startup.
	ReportsEnabled bool
}

func NewMaintenanceService(prizes *PrizeStateService, idem *IdempotencyService, query *QueryService, reportsEnabled bool) *MaintenanceService {
	return &MaintenanceService{
		Prizes:         prizes,
		Idempotency:    idem,
		Query:          query,
		ReportsEnabled: reportsEnabled,
	}
}

func (s *MaintenanceService) Start() {
	sched, _ := gocron.NewScheduler()
	sched.Start()

	// Every minute: sweep active prizes past their expiry.
	_, _ = sched.NewJob(
		gocron.DurationJob(1*time.Minute),
		gocron.NewTask(func() {
			n, err := s.Prizes.ExpireDue(context.Background(), time.Now().UTC())
			if err != nil {
				log.Printf("[Scheduler] Prize expiry sweep failed: %v", err)
				return
			}
			if n > 0 {
				log.Printf("✅ Expired %d overdue prize(s)", n)
			}
		}),
	)

	// Every hour: drop idempotency records past their TTL.
	_, _ = sched.NewJob(
		gocron.DurationJob(1*time.Hour),
		gocron.NewTask(func() {
			n, err := s.Idempotency.PurgeExpired(context.Background(), time.Now().UTC())
			if err != nil {
				log.Printf("[Scheduler] Idempotency purge failed: %v", err)
				return
			}
			if n > 0 {
				log.Printf("✅ Purged %d expired idempotency record(s)", n)
			}
		}),
	)

	// Every 6 hours: export unresolved anomalies for backoffice repair.
	_, _ = sched.NewJob(
		gocron.DurationJob(6*time.Hour),
		gocron.NewTask(s.exportAnomalyReport),
	)
}

func (s *MaintenanceService) exportAnomalyReport() {
	if !s.ReportsEnabled {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	anomalies, err := s.Query.GetUnresolvedAnomalies(ctx)
	if err != nil {
		log.Printf("[Scheduler] Anomaly report query failed: %v", err)
		return
	}
	if len(anomalies) == 0 {
		return
	}

	body, err := json.MarshalIndent(map[string]interface{}{
		"generated_at": time.Now().UTC(),
		"count":        len(anomalies),
		"anomalies":    anomalies,
	}, "", "  ")
	if err != nil {
		log.Printf("[Scheduler] Anomaly report encode failed: %v", err)
		return
	}

	key := "reconciliation/" + time.Now().UTC().Format("2006-01-02T15-04-05Z") + ".json"
	if err := utils.UploadReportToR2(ctx, key, body, "application/json"); err != nil {
		log.Printf("[Scheduler] Anomaly report upload failed: %v", err)
		return
	}
	log.Printf("✅ Exported %d unresolved anomaly(ies) to %s", len(anomalies), key)
}
