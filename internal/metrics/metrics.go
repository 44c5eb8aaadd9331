package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeSuccess labels detections that produced a regime table.
	OutcomeSuccess = "success"
	// OutcomeInvalid labels requests rejected before sampling.
	OutcomeInvalid = "invalid"
	// OutcomeError labels sampler failures, timeouts and dependency issues.
	OutcomeError = "error"
	// OutcomeCached labels detections answered from the result cache.
	OutcomeCached = "cached"
)

var (
	detectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_changepoint",
			Name:      "detections_total",
			Help:      "Total number of detection runs handled, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	detectionDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "mirador_changepoint",
			Name:      "detection_seconds",
			Help:      "Detection latency in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
	)

	chainsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_changepoint",
			Name:      "chains_total",
			Help:      "Markov chains run, partitioned by terminal status.",
		},
		[]string{"status"},
	)

	chainAcceptanceRate = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "mirador_changepoint",
			Name:      "chain_acceptance_rate",
			Help:      "Post-tuning acceptance rate per chain.",
			Buckets:   prometheus.LinearBuckets(0.05, 0.1, 10),
		},
	)

	maxRHat = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "mirador_changepoint",
			Name:      "max_rhat",
			Help:      "Largest split R-hat across parameters per detection.",
			Buckets:   []float64{1.001, 1.01, 1.05, 1.1, 1.2, 1.5, 2, 5},
		},
	)

	nonConvergedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mirador_changepoint",
			Name:      "non_converged_total",
			Help:      "Detections that finished with at least one non-convergence warning.",
		},
	)
)

// Register attaches mirador-changepoint collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		detectionsTotal,
		detectionDurationSeconds,
		chainsTotal,
		chainAcceptanceRate,
		maxRHat,
		nonConvergedTotal,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveDetection records a detection duration and outcome label.
func ObserveDetection(duration time.Duration, outcome string) {
	switch outcome {
	case OutcomeSuccess, OutcomeInvalid, OutcomeCached:
	default:
		outcome = OutcomeError
	}
	detectionsTotal.WithLabelValues(outcome).Inc()
	if duration < 0 {
		duration = 0
	}
	detectionDurationSeconds.Observe(duration.Seconds())
}

// ObserveChain records the terminal status and acceptance rate of one chain.
func ObserveChain(status string, acceptanceRate float64) {
	chainsTotal.WithLabelValues(status).Inc()
	if acceptanceRate > 0 {
		chainAcceptanceRate.Observe(acceptanceRate)
	}
}

// ObserveConvergence records the worst R-hat of a run and whether it converged.
func ObserveConvergence(rhat float64, converged bool) {
	if rhat > 0 {
		maxRHat.Observe(rhat)
	}
	if !converged {
		nonConvergedTotal.Inc()
	}
}
