// Package orchestrator drives one APV through the full remediation
// lifecycle: confirmation, strategy selection with fallback, git
// application, and pull request creation.
//
// Per-APV isolation is the core guarantee: any failure, including a panic
// in a downstream component, terminates that APV with a failed result and
// never the pipeline.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/eureka/internal/apv"
	"github.com/fyrsmithlabs/eureka/internal/logging"
	"github.com/fyrsmithlabs/eureka/internal/metrics"
	"github.com/fyrsmithlabs/eureka/internal/strategy"
)

// ErrInFlight means another remediation attempt for the same APV id is
// running. The broker should redeliver later.
var ErrInFlight = errors.New("orchestrator: apv already in flight")

// Confirmer validates that an APV's patterns exist in the codebase.
type Confirmer interface {
	Confirm(ctx context.Context, a *apv.APV) (*apv.ConfirmationResult, error)
}

// GitApplier applies a patch on an isolated branch and pushes it.
type GitApplier interface {
	ApplyAndPush(ctx context.Context, a *apv.APV, patch *apv.Patch) (string, error)
}

// PROpener opens a pull request for a pushed branch.
type PROpener interface {
	Create(ctx context.Context, a *apv.APV, patch *apv.Patch, branch string) (string, error)
}

// Config bounds orchestrator work.
type Config struct {
	// APVTimeout bounds one APV's full lifecycle. Default 10 minutes.
	APVTimeout time.Duration
}

// EurekaOrchestrator wires confirmation, strategies, and git integration.
type EurekaOrchestrator struct {
	confirmer Confirmer
	selector  *strategy.Selector
	git       GitApplier
	pr        PROpener
	cfg       Config
	logger    *zap.Logger

	mu       sync.Mutex
	inFlight map[string]struct{}
	stats    statsAccumulator
}

// New creates the orchestrator. git and pr may be nil when the pipeline
// runs in analysis-only mode; patch-producing outcomes then fail.
func New(confirmer Confirmer, selector *strategy.Selector, git GitApplier, pr PROpener, cfg Config, logger *zap.Logger) *EurekaOrchestrator {
	if cfg.APVTimeout == 0 {
		cfg.APVTimeout = 10 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EurekaOrchestrator{
		confirmer: confirmer,
		selector:  selector,
		git:       git,
		pr:        pr,
		cfg:       cfg,
		logger:    logger,
		inFlight:  make(map[string]struct{}),
	}
}

// Process runs one APV through the pipeline and always returns a result
// with a terminal status. The returned error is non-nil only for retryable
// conditions (in-flight collision, confirmation tooling failure); the
// consumer naks those for redelivery.
func (o *EurekaOrchestrator) Process(ctx context.Context, a *apv.APV) (result *apv.RemediationResult, err error) {
	if lockErr := o.acquire(a.ID); lockErr != nil {
		return nil, lockErr
	}
	defer o.release(a.ID)

	ctx, cancel := context.WithTimeout(ctx, o.cfg.APVTimeout)
	defer cancel()
	ctx = logging.WithAPVID(ctx, a.ID)
	ctx = logging.WithCVEID(ctx, a.CVEID)

	started := time.Now()
	result = &apv.RemediationResult{
		APV:       a,
		Status:    apv.RemediationPending,
		StartedAt: started,
	}

	log := o.logger.With(append(logging.ContextFields(ctx), zap.Float64("cvss", a.CVSSScore))...)

	// Per-APV isolation: a panic anywhere downstream marks this APV failed
	// and leaves the pipeline running.
	defer func() {
		if r := recover(); r != nil {
			log.Error("panic during remediation",
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
			result.Status = apv.RemediationFailed
			result.Error = fmt.Sprintf("panic: %v", r)
			err = nil
		}
		result.FinishedAt = time.Now()
		o.record(result, time.Since(started))
	}()

	conf, confErr := o.confirmer.Confirm(ctx, a)
	if confErr != nil {
		result.Status = apv.RemediationFailed
		result.Error = fmt.Sprintf("confirmation: %v", confErr)
		return result, confErr
	}
	metrics.ObserveConfirmation(string(conf.Status))

	switch conf.Status {
	case apv.StatusFalsePositive:
		log.Info("apv is a false positive")
		result.Status = apv.RemediationFalsePositive
		return result, nil
	case apv.StatusError:
		// A tooling error is never "safe". Fail so the broker retries.
		log.Warn("confirmation tooling failed", zap.String("error", conf.Error))
		result.Status = apv.RemediationFailed
		result.Error = "confirmation error: " + conf.Error
		return result, fmt.Errorf("confirmation tooling failed: %s", conf.Error)
	}

	result.Status = apv.RemediationConfirmed
	o.remediate(ctx, a, conf, result, log)
	return result, nil
}

// remediate walks the strategy fallback chain and finalizes the result.
func (o *EurekaOrchestrator) remediate(ctx context.Context, a *apv.APV, conf *apv.ConfirmationResult, result *apv.RemediationResult, log *zap.Logger) {
	strat, err := o.selector.Select(a, conf)
	if err != nil {
		if errors.Is(err, strategy.ErrNoStrategy) {
			// No registered strategy can help; a human has to.
			log.Warn("no strategy available, escalating for manual review")
			result.Status = apv.RemediationEscalated
			result.Error = err.Error()
			return
		}
		result.Status = apv.RemediationFailed
		result.Error = err.Error()
		return
	}

	chain := append([]strategy.Strategy{strat}, o.selector.After(strat.Name(), a, conf)...)
	var lastErr error

	for _, s := range chain {
		result.StrategiesAttempted = append(result.StrategiesAttempted, s.Name())

		outcome, err := s.Apply(ctx, a, conf)
		if err != nil {
			lastErr = err
			metrics.ObserveStrategy(s.Name(), "error")

			var notApplicable *strategy.NotApplicableError
			var failed *strategy.FailedError
			if errors.As(err, &notApplicable) || errors.As(err, &failed) {
				log.Info("strategy declined, falling through",
					zap.String("strategy", s.Name()),
					zap.Error(err),
				)
				continue
			}
			// Context expiry or an unclassified error ends the chain.
			break
		}

		metrics.ObserveStrategy(s.Name(), "success")
		o.finalize(ctx, a, outcome, result, log)
		return
	}

	result.Status = apv.RemediationFailed
	if lastErr != nil {
		result.Error = lastErr.Error()
	} else {
		result.Error = "all strategies exhausted"
	}
}

// finalize turns a strategy outcome into a terminal result, driving git
// integration for patch outcomes.
func (o *EurekaOrchestrator) finalize(ctx context.Context, a *apv.APV, outcome *strategy.Outcome, result *apv.RemediationResult, log *zap.Logger) {
	switch {
	case outcome.Escalated:
		log.Info("apv escalated for manual review")
		result.Status = apv.RemediationEscalated
		return

	case outcome.Rule != nil:
		log.Info("apv mitigated by network rule", zap.String("rule_id", outcome.Rule.ID))
		result.Rule = outcome.Rule
		result.Status = apv.RemediationMitigated
		return

	case outcome.Patch != nil:
		result.Patch = outcome.Patch
		if o.git == nil {
			result.Status = apv.RemediationFailed
			result.Error = "patch produced but git integration is not configured"
			return
		}

		branch, err := o.git.ApplyAndPush(ctx, a, outcome.Patch)
		if err != nil {
			// The branch was rolled back; no partial commits survive.
			log.Warn("git application failed, branch rolled back", zap.Error(err))
			result.Status = apv.RemediationRolledBack
			result.Error = err.Error()
			return
		}
		result.Branch = branch
		result.Status = apv.RemediationApplied

		if o.pr == nil {
			return
		}
		url, err := o.pr.Create(ctx, a, outcome.Patch, branch)
		if err != nil {
			// The branch is pushed and recoverable by hand; report, keep.
			log.Warn("pull request creation failed, branch kept",
				zap.String("branch", branch),
				zap.Error(err),
			)
			result.Error = fmt.Sprintf("pull request creation failed: %v", err)
			return
		}
		result.PullRequestURL = url
		metrics.IncPullRequests()
		return

	default:
		result.Status = apv.RemediationFailed
		result.Error = "strategy returned an empty outcome"
	}
}

// acquire takes the per-APV in-flight lock.
func (o *EurekaOrchestrator) acquire(apvID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, busy := o.inFlight[apvID]; busy {
		return ErrInFlight
	}
	o.inFlight[apvID] = struct{}{}
	return nil
}

func (o *EurekaOrchestrator) release(apvID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.inFlight, apvID)
}
