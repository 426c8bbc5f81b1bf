// Package metrics exposes Prometheus collectors for the remediation
// pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	apvsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "eureka",
			Name:      "apvs_total",
			Help:      "Total APVs processed, partitioned by terminal status.",
		},
		[]string{"status"},
	)

	remediationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "eureka",
			Name:      "remediation_seconds",
			Help:      "End-to-end remediation latency per APV in seconds.",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
		},
	)

	strategyRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "eureka",
			Name:      "strategy_runs_total",
			Help:      "Strategy executions, partitioned by strategy and outcome.",
		},
		[]string{"strategy", "outcome"},
	)

	confirmationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "eureka",
			Name:      "confirmations_total",
			Help:      "Structural confirmation results, partitioned by status.",
		},
		[]string{"status"},
	)

	llmSpendUSD = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "eureka",
			Name:      "llm_spend_usd_total",
			Help:      "Cumulative language-model spend in USD.",
		},
	)

	pullRequestsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "eureka",
			Name:      "pull_requests_total",
			Help:      "Pull requests opened by the pipeline.",
		},
	)

	deadLettersTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "eureka",
			Name:      "dead_letters_total",
			Help:      "Messages routed to the dead letter queue.",
		},
	)
)

// Register attaches eureka collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		apvsTotal,
		remediationSeconds,
		strategyRunsTotal,
		confirmationsTotal,
		llmSpendUSD,
		pullRequestsTotal,
		deadLettersTotal,
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

// ObserveAPV records one APV's terminal status and processing time.
func ObserveAPV(status string, duration time.Duration) {
	apvsTotal.WithLabelValues(status).Inc()
	if duration < 0 {
		duration = 0
	}
	remediationSeconds.Observe(duration.Seconds())
}

// ObserveStrategy records one strategy execution.
func ObserveStrategy(strategy, outcome string) {
	strategyRunsTotal.WithLabelValues(strategy, outcome).Inc()
}

// ObserveConfirmation records one confirmation result.
func ObserveConfirmation(status string) {
	confirmationsTotal.WithLabelValues(status).Inc()
}

// AddLLMSpend accumulates model spend in USD.
func AddLLMSpend(usd float64) {
	if usd > 0 {
		llmSpendUSD.Add(usd)
	}
}

// IncPullRequests counts an opened pull request.
func IncPullRequests() {
	pullRequestsTotal.Inc()
}

// IncDeadLetters counts a dead-lettered message.
func IncDeadLetters() {
	deadLettersTotal.Inc()
}
