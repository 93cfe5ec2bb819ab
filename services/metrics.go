package services

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics owns every collector the claim pipeline touches. It is constructed
// once in main and injected — no package-level registry, so tests get their
// own isolated instance.
type Metrics struct {
	Registry *prometheus.Registry

	ClaimsTotal     *prometheus.CounterVec
	ClaimDuration   prometheus.Histogram
	IdempotencyHits prometheus.Counter
	AnomaliesTotal  prometheus.Counter
	EventsDropped   prometheus.Counter
}

func NewMetrics() *Metrics {
	m := &Metrics{Registry: prometheus.NewRegistry()}

	m.ClaimsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "geohunt",
		Name:      "claims_total",
		Help:      "Claim submissions by outcome.",
	}, []string{"outcome"})

	m.ClaimDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "geohunt",
		Name:      "claim_duration_seconds",
		Help:      "End-to-end claim processing time.",
		Buckets:   prometheus.DefBuckets,
	})

	m.IdempotencyHits = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "geohunt",
		Name:      "idempotency_hits_total",
		Help:      "Claims answered from the idempotency store.",
	})

	m.AnomaliesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "geohunt",
		Name:      "reconciliation_anomalies_total",
		Help:      "Prize claimed but ledger credit required backoffice repair.",
	})

	m.EventsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "geohunt",
		Name:      "achievement_events_dropped_total",
		Help:      "ClaimVerified events dropped because the dispatch buffer was full.",
	})

	m.Registry.MustRegister(m.ClaimsTotal, m.ClaimDuration, m.IdempotencyHits, m.AnomaliesTotal, m.EventsDropped)
	return m
}

// outcomeLabel maps a result to the metric label without leaking user data.
func outcomeLabel(res *ClaimResult) string {
	if res.Verified() {
		return "verified"
	}
	return string(res.Reason)
}
