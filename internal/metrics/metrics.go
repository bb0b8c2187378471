// Package metrics exposes Prometheus instruments for adjudication.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/opensource-finance/loadguard/internal/domain"
)

var (
	LoadsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "loadguard_loads_processed_total",
		Help: "Total number of fund loads adjudicated, labelled by outcome (accepted, rejected, error).",
	}, []string{"outcome"})

	RuleFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "loadguard_rule_failures_total",
		Help: "Total number of failed rule evaluations, labelled by rule and reason.",
	}, []string{"rule", "reason"})

	BatchesProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "loadguard_batches_processed_total",
		Help: "Total number of batches adjudicated.",
	})

	BatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "loadguard_batch_duration_ms",
		Help:    "Batch adjudication latency in milliseconds.",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
	})

	ConfigReloads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "loadguard_config_reloads_total",
		Help: "Total number of limit reconfigurations, labelled by source.",
	}, []string{"source"})
)

// Outcome returns the outcome label of a result.
func Outcome(r *domain.ProcessingResult) string {
	switch {
	case r.Error != "":
		return "error"
	case r.Accepted:
		return "accepted"
	default:
		return "rejected"
	}
}

// Observe records a processed load.
func Observe(r *domain.ProcessingResult) {
	LoadsProcessed.WithLabelValues(Outcome(r)).Inc()
	for rule, reason := range r.FailedRules() {
		RuleFailures.WithLabelValues(rule, reason).Inc()
	}
}
