// Package apv defines the data model for the remediation pipeline.
//
// The central type is the APV (Actionable Prioritized Vulnerability), the
// unit of work published by the upstream intelligence producer. Everything
// downstream (confirmation, strategy selection, git integration) consumes
// APVs and produces the immutable value objects defined here.
package apv

import (
	"time"
)

// Ecosystem identifies a package ecosystem.
type Ecosystem string

const (
	// EcosystemPyPI is the Python package index.
	EcosystemPyPI Ecosystem = "pypi"
	// EcosystemNPM is the Node package registry.
	EcosystemNPM Ecosystem = "npm"
	// EcosystemGo is the Go module ecosystem.
	EcosystemGo Ecosystem = "go"
	// EcosystemMaven is the Java/Maven ecosystem.
	EcosystemMaven Ecosystem = "maven"
)

// AffectedPackage describes one package touched by a vulnerability.
type AffectedPackage struct {
	// Ecosystem the package belongs to (pypi, npm, go, maven).
	Ecosystem Ecosystem `json:"ecosystem"`

	// Name is the package name as known to the ecosystem.
	Name string `json:"name"`

	// VersionRanges are the affected version constraints.
	VersionRanges []string `json:"version_ranges,omitempty"`

	// FixedVersions are versions known to contain the maintainer fix.
	// Empty when no fix has been released yet.
	FixedVersions []string `json:"fixed_versions,omitempty"`
}

// StrategyHint is the upstream producer's suggestion for remediation.
type StrategyHint string

const (
	HintDependencyUpgrade StrategyHint = "dependency_upgrade"
	HintCodePatch         StrategyHint = "code_patch"
	HintCoagulation       StrategyHint = "coagulation"
	HintManualReview      StrategyHint = "manual_review"
)

// Complexity is an informational estimate of remediation effort.
type Complexity string

const (
	ComplexityTrivial  Complexity = "trivial"
	ComplexityModerate Complexity = "moderate"
	ComplexityComplex  Complexity = "complex"
)

// APV is an Actionable Prioritized Vulnerability.
//
// APVs are immutable once published by the upstream producer; this pipeline
// only reads them.
type APV struct {
	// ID is the unique identifier assigned by the producer.
	ID string `json:"id"`

	// CVEID is the CVE identifier (e.g. "CVE-2024-12345").
	CVEID string `json:"cve_id"`

	// CWEID is the weakness classification (e.g. "CWE-89"). Optional.
	CWEID string `json:"cwe_id,omitempty"`

	// Severity is the textual severity (critical, high, medium, low).
	Severity string `json:"severity"`

	// CVSSScore is the CVSS base score (0.0 - 10.0).
	CVSSScore float64 `json:"cvss_score"`

	// Description is a human-readable summary of the vulnerability.
	Description string `json:"description"`

	// AffectedPackages lists the packages this vulnerability touches.
	AffectedPackages []AffectedPackage `json:"affected_packages"`

	// Patterns are structural-search patterns used for confirmation,
	// ordered from most to least specific.
	Patterns []string `json:"patterns,omitempty"`

	// Language is the source language the patterns apply to.
	Language string `json:"language,omitempty"`

	// Hint is the producer's suggested remediation strategy.
	Hint StrategyHint `json:"strategy_hint,omitempty"`

	// Complexity is the producer's effort estimate.
	Complexity Complexity `json:"complexity,omitempty"`

	// PublishedAt is when the producer emitted this APV.
	PublishedAt time.Time `json:"published_at"`
}

// FixedVersionFor returns the fixed versions for the named package, or nil.
func (a *APV) FixedVersionFor(pkg string) []string {
	for _, p := range a.AffectedPackages {
		if p.Name == pkg {
			return p.FixedVersions
		}
	}
	return nil
}

// HasFixedVersion reports whether any affected package has a released fix.
func (a *APV) HasFixedVersion() bool {
	for _, p := range a.AffectedPackages {
		if len(p.FixedVersions) > 0 {
			return true
		}
	}
	return false
}

// EffectiveSeverity returns the textual severity, derived from the CVSS
// score when absent.
func (a *APV) EffectiveSeverity() string {
	if a.Severity != "" {
		return a.Severity
	}
	switch {
	case a.CVSSScore >= 9.0:
		return "critical"
	case a.CVSSScore >= 7.0:
		return "high"
	case a.CVSSScore >= 4.0:
		return "medium"
	default:
		return "low"
	}
}

// SeverityLabel returns the PR label for this APV's severity.
func (a *APV) SeverityLabel() string {
	return "severity:" + a.EffectiveSeverity()
}

// ConfirmationStatus is the outcome of structural confirmation.
type ConfirmationStatus string

const (
	// StatusPending means confirmation has not run yet.
	StatusPending ConfirmationStatus = "pending"
	// StatusConfirmed means at least one structural pattern matched.
	StatusConfirmed ConfirmationStatus = "confirmed"
	// StatusFalsePositive means no pattern matched anywhere.
	StatusFalsePositive ConfirmationStatus = "false_positive"
	// StatusError means the confirmation tooling failed. Never to be
	// conflated with StatusFalsePositive: an error is not "safe".
	StatusError ConfirmationStatus = "error"
)

// VulnerableLocation is one structural match in the codebase.
type VulnerableLocation struct {
	// FilePath is relative to the repository root.
	FilePath string `json:"file_path"`

	// StartLine and EndLine bound the matched region (1-based, inclusive).
	StartLine int `json:"start_line"`
	EndLine   int `json:"end_line"`

	// Snippet is the matched source text.
	Snippet string `json:"snippet"`

	// Pattern is the structural pattern that matched.
	Pattern string `json:"pattern"`

	// Confidence is 0.0 - 1.0; 1.0 for an exact structural match.
	Confidence float64 `json:"confidence"`
}

// ConfirmationMetadata records how a confirmation run executed.
type ConfirmationMetadata struct {
	Timestamp     time.Time     `json:"timestamp"`
	PatternsTried []string      `json:"patterns_tried"`
	FilesScanned  int           `json:"files_scanned"`
	Duration      time.Duration `json:"duration"`
}

// ConfirmationResult is the immutable outcome of confirming one APV.
// Safe to cache and replay.
type ConfirmationResult struct {
	APVID     string               `json:"apv_id"`
	Status    ConfirmationStatus   `json:"status"`
	Locations []VulnerableLocation `json:"locations,omitempty"`
	Error     string               `json:"error,omitempty"`
	Metadata  ConfirmationMetadata `json:"metadata"`
}

// Confirmed reports whether the vulnerability was positively confirmed.
func (r *ConfirmationResult) Confirmed() bool {
	return r.Status == StatusConfirmed && len(r.Locations) > 0
}

// Patch is an immutable proposed change produced by a strategy.
type Patch struct {
	// ID is derived from the CVE identifier plus a creation timestamp.
	ID string `json:"id"`

	// Strategy names the strategy that produced this patch.
	Strategy string `json:"strategy"`

	// Diff is the change in unified-diff form.
	Diff string `json:"diff"`

	// Confidence is 0.0 - 1.0. Deterministic strategies emit higher
	// confidence than generative ones.
	Confidence float64 `json:"confidence"`

	// TargetFiles are the files the diff touches.
	TargetFiles []string `json:"target_files"`

	// CreatedAt is when the patch was produced.
	CreatedAt time.Time `json:"created_at"`
}

// RemediationStatus is the lifecycle state of a remediation attempt.
type RemediationStatus string

const (
	RemediationPending       RemediationStatus = "pending"
	RemediationValidating    RemediationStatus = "validating"
	RemediationConfirmed     RemediationStatus = "confirmed"
	RemediationFalsePositive RemediationStatus = "false_positive"
	RemediationApplied       RemediationStatus = "applied"
	// RemediationMitigated means a network rule is in place but no code
	// change was made (coagulation outcome).
	RemediationMitigated RemediationStatus = "mitigated"
	// RemediationEscalated means the APV was flagged for human review.
	RemediationEscalated  RemediationStatus = "escalated"
	RemediationFailed     RemediationStatus = "failed"
	RemediationRolledBack RemediationStatus = "rolled_back"
)

// Terminal reports whether the status is an end state.
func (s RemediationStatus) Terminal() bool {
	switch s {
	case RemediationApplied, RemediationMitigated, RemediationEscalated,
		RemediationFalsePositive, RemediationFailed, RemediationRolledBack:
		return true
	}
	return false
}

// RemediationResult is the top-level audit record for one APV.
type RemediationResult struct {
	APV *APV `json:"apv"`

	// Patch is nil for mitigated/escalated/failed outcomes.
	Patch *Patch `json:"patch,omitempty"`

	// Rule is set only for coagulation outcomes.
	Rule *CoagulationRule `json:"rule,omitempty"`

	Status RemediationStatus `json:"status"`

	// Error is the human-readable failure reason, if any.
	Error string `json:"error,omitempty"`

	// PullRequestURL is set once a PR was opened.
	PullRequestURL string `json:"pull_request_url,omitempty"`

	// Branch is the pushed remediation branch, if any.
	Branch string `json:"branch,omitempty"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	// StrategiesAttempted traces the fallback chain in order.
	StrategiesAttempted []string `json:"strategies_attempted,omitempty"`
}

// AttackVector categorizes a CWE for network mitigation purposes.
type AttackVector string

const (
	VectorInjection      AttackVector = "injection"
	VectorTraversal      AttackVector = "path_traversal"
	VectorDeserialize    AttackVector = "deserialization"
	VectorSSRF           AttackVector = "ssrf"
	VectorAuthBypass     AttackVector = "auth_bypass"
	VectorGenericExploit AttackVector = "generic"
)

// CoagulationRule is a temporary network mitigation.
//
// Rules expire by timestamp comparison; no background timer sweeps them.
type CoagulationRule struct {
	ID           string       `json:"id"`
	APVID        string       `json:"apv_id"`
	CVEID        string       `json:"cve_id"`
	Vector       AttackVector `json:"vector"`
	MatchPattern string       `json:"match_pattern"`
	Action       string       `json:"action"`
	CreatedAt    time.Time    `json:"created_at"`
	ExpiresAt    time.Time    `json:"expires_at"`
	Active       bool         `json:"active"`
}

// Expired reports whether the rule has lapsed at the given instant.
func (r *CoagulationRule) Expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// CostRecord is one language-model call's accounting entry. Append-only.
type CostRecord struct {
	Timestamp    time.Time         `json:"timestamp"`
	Model        string            `json:"model"`
	Strategy     string            `json:"strategy"`
	InputTokens  int               `json:"input_tokens"`
	OutputTokens int               `json:"output_tokens"`
	Cost         float64           `json:"cost"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}
