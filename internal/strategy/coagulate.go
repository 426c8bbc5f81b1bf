package strategy

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/eureka/internal/apv"
)

// Enforcer is the external network enforcement point that installs
// temporary mitigation rules.
type Enforcer interface {
	InstallRule(ctx context.Context, rule *apv.CoagulationRule) error
}

// cweVectors maps weakness classes to the attack vector a network rule can
// plausibly blunt.
var cweVectors = map[string]apv.AttackVector{
	"CWE-89":  apv.VectorInjection,   // SQL injection
	"CWE-78":  apv.VectorInjection,   // OS command injection
	"CWE-79":  apv.VectorInjection,   // XSS
	"CWE-22":  apv.VectorTraversal,   // path traversal
	"CWE-502": apv.VectorDeserialize, // unsafe deserialization
	"CWE-918": apv.VectorSSRF,
	"CWE-287": apv.VectorAuthBypass,
	"CWE-306": apv.VectorAuthBypass,
}

// Coagulation requests a temporary network mitigation for APVs that cannot
// be fixed in code yet. It never touches source; the outcome carries a
// CoagulationRule instead of a Patch.
type Coagulation struct {
	enforcer Enforcer
	ttl      time.Duration
	logger   *zap.Logger
}

// NewCoagulation creates the strategy. ttl bounds how long installed rules
// stay active; expiry is checked lazily by timestamp comparison.
func NewCoagulation(enforcer Enforcer, ttl time.Duration, logger *zap.Logger) *Coagulation {
	if ttl == 0 {
		ttl = 7 * 24 * time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coagulation{enforcer: enforcer, ttl: ttl, logger: logger}
}

// Name implements Strategy.
func (c *Coagulation) Name() string { return NameCoagulation }

// EstimateComplexity implements Strategy.
func (c *Coagulation) EstimateComplexity(*apv.APV) apv.Complexity {
	return apv.ComplexityModerate
}

// CanHandle requires an enforcement point and a CWE this strategy knows how
// to classify.
func (c *Coagulation) CanHandle(a *apv.APV, _ *apv.ConfirmationResult) bool {
	if c.enforcer == nil {
		return false
	}
	_, ok := cweVectors[strings.ToUpper(a.CWEID)]
	return ok
}

// Apply installs a temporary rule at the enforcement point.
func (c *Coagulation) Apply(ctx context.Context, a *apv.APV, _ *apv.ConfirmationResult) (*Outcome, error) {
	vector, ok := cweVectors[strings.ToUpper(a.CWEID)]
	if !ok {
		return nil, &NotApplicableError{
			Strategy: c.Name(),
			Reason:   fmt.Sprintf("no attack-vector mapping for %q", a.CWEID),
		}
	}

	now := time.Now()
	rule := &apv.CoagulationRule{
		ID:           "rule-" + uuid.New().String(),
		APVID:        a.ID,
		CVEID:        a.CVEID,
		Vector:       vector,
		MatchPattern: matchPatternFor(vector),
		Action:       "block",
		CreatedAt:    now,
		ExpiresAt:    now.Add(c.ttl),
		Active:       true,
	}

	if err := c.enforcer.InstallRule(ctx, rule); err != nil {
		return nil, &FailedError{Strategy: c.Name(), Err: fmt.Errorf("installing rule: %w", err)}
	}

	c.logger.Info("coagulation rule installed",
		zap.String("apv_id", a.ID),
		zap.String("rule_id", rule.ID),
		zap.String("vector", string(vector)),
		zap.Time("expires_at", rule.ExpiresAt),
	)

	return &Outcome{
		Rule:    rule,
		Summary: fmt.Sprintf("Temporary %s rule %s active until %s", vector, rule.ID, rule.ExpiresAt.Format(time.RFC3339)),
	}, nil
}

// matchPatternFor picks the enforcement-point pattern per attack vector.
func matchPatternFor(vector apv.AttackVector) string {
	switch vector {
	case apv.VectorInjection:
		return `(?i)('|")\s*(or|and|union|select|;|--)|<script`
	case apv.VectorTraversal:
		return `\.\./|%2e%2e%2f`
	case apv.VectorDeserialize:
		return `(?i)(java\.io\.|pickle|__reduce__|ysoserial)`
	case apv.VectorSSRF:
		return `(?i)(169\.254\.169\.254|localhost|127\.0\.0\.1)`
	case apv.VectorAuthBypass:
		return `(?i)(x-original-url|x-rewrite-url)`
	default:
		return ".*"
	}
}
