// Package strategy turns a confirmed vulnerability into a proposed change
// or an external mitigation.
//
// Strategies form an explicit ordered registry; the selector walks the
// order and picks the first strategy whose CanHandle predicate accepts the
// (APV, ConfirmationResult) pair. Priority is a configuration decision, not
// an artifact of registration order: DefaultOrder documents the
// conventional ranking from cheapest/most deterministic to terminal
// fallback.
package strategy

import (
	"context"
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/eureka/internal/apv"
)

// Canonical strategy names.
const (
	NameDependencyUpgrade = "dependency_upgrade"
	NameLLMCodePatch      = "llm_code_patch"
	NameCoagulation       = "network_coagulation"
	NameManualReview      = "manual_review"
)

// DefaultOrder is the conventional strategy priority: dependency upgrade
// (cheapest, highest confidence), LLM patch (confirmed pattern, no
// maintainer fix), network coagulation (no code fix possible), manual
// review (terminal fallback).
var DefaultOrder = []string{
	NameDependencyUpgrade,
	NameLLMCodePatch,
	NameCoagulation,
	NameManualReview,
}

// ErrNoStrategy is returned by the selector when no registered strategy can
// handle an APV. With ManualReview registered this never fires.
var ErrNoStrategy = errors.New("strategy: no strategy available")

// NotApplicableError is the expected "this strategy cannot help here"
// condition; the selector's caller falls through to the next strategy.
type NotApplicableError struct {
	Strategy string
	Reason   string
}

func (e *NotApplicableError) Error() string {
	return fmt.Sprintf("strategy %s not applicable: %s", e.Strategy, e.Reason)
}

// FailedError is an unexpected failure while applying a strategy; the
// caller falls back to the next strategy or manual review.
type FailedError struct {
	Strategy string
	Err      error
}

func (e *FailedError) Error() string {
	return fmt.Sprintf("strategy %s failed: %v", e.Strategy, e.Err)
}

func (e *FailedError) Unwrap() error { return e.Err }

// Outcome is what a strategy produced. At most one of Patch and Rule is
// set; Escalated marks a manual-review handoff.
type Outcome struct {
	Patch     *apv.Patch
	Rule      *apv.CoagulationRule
	Escalated bool

	// Summary is a one-line human-readable description for the audit
	// record and PR body.
	Summary string
}

// Strategy is one remediation approach.
type Strategy interface {
	// Name returns the canonical strategy name.
	Name() string

	// CanHandle reports whether this strategy applies to the pair. It
	// must be cheap and side-effect free.
	CanHandle(a *apv.APV, conf *apv.ConfirmationResult) bool

	// Apply produces an Outcome or fails with *NotApplicableError /
	// *FailedError.
	Apply(ctx context.Context, a *apv.APV, conf *apv.ConfirmationResult) (*Outcome, error)

	// EstimateComplexity is informational only.
	EstimateComplexity(a *apv.APV) apv.Complexity
}
