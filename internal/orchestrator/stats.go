package orchestrator

import (
	"time"

	"github.com/fyrsmithlabs/eureka/internal/apv"
	"github.com/fyrsmithlabs/eureka/internal/metrics"
)

// statsAccumulator aggregates terminal results. Guarded by the
// orchestrator's mutex.
type statsAccumulator struct {
	byStatus      map[string]uint64
	byStrategy    map[string]uint64
	totalDuration time.Duration
	count         uint64
}

// Snapshot is the orchestrator's aggregate view, served by the status
// endpoint.
type Snapshot struct {
	Processed       uint64            `json:"processed"`
	ByStatus        map[string]uint64 `json:"by_status"`
	StrategyUsage   map[string]uint64 `json:"strategy_usage"`
	AvgProcessingMS float64           `json:"avg_processing_ms"`
	SuccessRate     float64           `json:"success_rate"`
	InFlight        int               `json:"in_flight"`
}

// record folds one terminal result into the running aggregates.
func (o *EurekaOrchestrator) record(result *apv.RemediationResult, duration time.Duration) {
	metrics.ObserveAPV(string(result.Status), duration)

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.stats.byStatus == nil {
		o.stats.byStatus = make(map[string]uint64)
		o.stats.byStrategy = make(map[string]uint64)
	}
	o.stats.byStatus[string(result.Status)]++
	for _, name := range result.StrategiesAttempted {
		o.stats.byStrategy[name]++
	}
	o.stats.totalDuration += duration
	o.stats.count++
}

// Snapshot returns a copy of the aggregates.
func (o *EurekaOrchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()

	snap := Snapshot{
		Processed:     o.stats.count,
		ByStatus:      make(map[string]uint64, len(o.stats.byStatus)),
		StrategyUsage: make(map[string]uint64, len(o.stats.byStrategy)),
		InFlight:      len(o.inFlight),
	}
	for k, v := range o.stats.byStatus {
		snap.ByStatus[k] = v
	}
	for k, v := range o.stats.byStrategy {
		snap.StrategyUsage[k] = v
	}

	if o.stats.count > 0 {
		snap.AvgProcessingMS = float64(o.stats.totalDuration.Milliseconds()) / float64(o.stats.count)

		// Success means the APV reached a resolved state: a pushed patch, an
		// active mitigation, a confirmed false positive, or a human handoff.
		resolved := snap.ByStatus[string(apv.RemediationApplied)] +
			snap.ByStatus[string(apv.RemediationMitigated)] +
			snap.ByStatus[string(apv.RemediationEscalated)] +
			snap.ByStatus[string(apv.RemediationFalsePositive)]
		snap.SuccessRate = float64(resolved) / float64(o.stats.count)
	}
	return snap
}
